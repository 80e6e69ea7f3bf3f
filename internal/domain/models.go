// Package domain defines the records stored inside a vault payload and the
// wire codec that serializes them.
package domain

import (
	"slices"
	"strings"
	"time"
)

// CurrentSchemaVersion is written by this build. Older payloads are migrated
// on open.
const CurrentSchemaVersion = 2

// FieldType hints how a custom field value should be presented.
type FieldType uint8

const (
	FieldText FieldType = iota
	FieldPassword
	FieldEmail
	FieldURL
	FieldPhone
	FieldNumber
	FieldDate
)

func (t FieldType) String() string {
	switch t {
	case FieldPassword:
		return "password"
	case FieldEmail:
		return "email"
	case FieldURL:
		return "url"
	case FieldPhone:
		return "phone"
	case FieldNumber:
		return "number"
	case FieldDate:
		return "date"
	default:
		return "text"
	}
}

// CustomField is a user-defined name/value pair on an account.
type CustomField struct {
	Name      string
	Value     string
	Sensitive bool
	Type      FieldType
}

// SecurityQuestion is a recovery question and its answer.
type SecurityQuestion struct {
	Question string
	Answer   string
}

// AccountRecord is one stored credential.
type AccountRecord struct {
	ID                string
	AccountName       string
	Username          string
	Password          string
	Email             string
	Website           string
	Notes             string
	Tags              []string
	CustomFields      []CustomField
	SecurityQuestions []SecurityQuestion
	PasswordHistory   []string
	GroupIDs          []string

	Favorite           bool
	Archived           bool
	AdminOnlyViewable  bool
	AdminOnlyDeletable bool
	DisplayOrder       int32

	CreatedAt         int64
	ModifiedAt        int64
	PasswordChangedAt int64
}

// Clone returns a deep copy so callers never share slices with the session.
func (a *AccountRecord) Clone() AccountRecord {
	c := *a
	c.Tags = slices.Clone(a.Tags)
	c.CustomFields = slices.Clone(a.CustomFields)
	c.SecurityQuestions = slices.Clone(a.SecurityQuestions)
	c.PasswordHistory = slices.Clone(a.PasswordHistory)
	c.GroupIDs = slices.Clone(a.GroupIDs)
	return c
}

// AddTag inserts tag if absent, preserving insertion order.
func (a *AccountRecord) AddTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	if tag == "" || a.HasTag(tag) {
		return false
	}
	a.Tags = append(a.Tags, tag)
	return true
}

// RemoveTag deletes tag if present.
func (a *AccountRecord) RemoveTag(tag string) bool {
	i := slices.Index(a.Tags, tag)
	if i < 0 {
		return false
	}
	a.Tags = slices.Delete(a.Tags, i, i+1)
	return true
}

func (a *AccountRecord) HasTag(tag string) bool {
	return slices.Contains(a.Tags, tag)
}

// InGroup reports whether the account references groupID.
func (a *AccountRecord) InGroup(groupID string) bool {
	return slices.Contains(a.GroupIDs, groupID)
}

// SetPassword replaces the password, remembering the previous one and the
// change time.
func (a *AccountRecord) SetPassword(password string, now time.Time) {
	if a.Password == password {
		return
	}
	if a.Password != "" {
		a.PasswordHistory = append(a.PasswordHistory, a.Password)
	}
	a.Password = password
	a.PasswordChangedAt = now.Unix()
}

// Group collects accounts under a name.
type Group struct {
	ID           string
	Name         string
	DisplayOrder int32
}

// VaultPayload is the plaintext content encrypted under the vault DEK.
type VaultPayload struct {
	SchemaVersion uint32
	AccessCount   uint64
	CreatedAt     int64
	ModifiedAt    int64
	Accounts      []AccountRecord
	Groups        []Group
}

// Operation represents an audit log operation
type Operation struct {
	Type      string    `json:"type"`
	Vault     string    `json:"vault"`
	User      string    `json:"user,omitempty"`
	AccountID string    `json:"account_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}
