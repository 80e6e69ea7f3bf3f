package domain

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxPayloadSize bounds the encoded payload accepted by Unmarshal.
const MaxPayloadSize = 64 << 20

// ErrInvalidProtobuf is returned for payloads that are oversized or do not
// parse as the vault payload message.
var ErrInvalidProtobuf = errors.New("invalid vault payload encoding")

// Field numbers of the payload messages.
const (
	payloadSchemaVersion protowire.Number = 1
	payloadAccessCount   protowire.Number = 2
	payloadCreatedAt     protowire.Number = 3
	payloadModifiedAt    protowire.Number = 4
	payloadAccounts      protowire.Number = 5
	payloadGroups        protowire.Number = 6

	accountID                 protowire.Number = 1
	accountName               protowire.Number = 2
	accountUsername           protowire.Number = 3
	accountPassword           protowire.Number = 4
	accountEmail              protowire.Number = 5
	accountWebsite            protowire.Number = 6
	accountNotes              protowire.Number = 7
	accountTags               protowire.Number = 8
	accountCustomFields       protowire.Number = 9
	accountSecurityQuestions  protowire.Number = 10
	accountPasswordHistory    protowire.Number = 11
	accountGroupIDs           protowire.Number = 12
	accountFavorite           protowire.Number = 13
	accountArchived           protowire.Number = 14
	accountAdminOnlyViewable  protowire.Number = 15
	accountAdminOnlyDeletable protowire.Number = 16
	accountDisplayOrder       protowire.Number = 17
	accountCreatedAt          protowire.Number = 18
	accountModifiedAt         protowire.Number = 19
	accountPasswordChangedAt  protowire.Number = 20

	fieldName      protowire.Number = 1
	fieldValue     protowire.Number = 2
	fieldSensitive protowire.Number = 3
	fieldType      protowire.Number = 4

	questionText   protowire.Number = 1
	questionAnswer protowire.Number = 2

	groupID           protowire.Number = 1
	groupName         protowire.Number = 2
	groupDisplayOrder protowire.Number = 3
)

// MarshalPayload encodes p in protobuf wire format.
func MarshalPayload(p *VaultPayload) ([]byte, error) {
	var b []byte
	b = appendVarint(b, payloadSchemaVersion, uint64(p.SchemaVersion))
	b = appendVarint(b, payloadAccessCount, p.AccessCount)
	b = appendVarint(b, payloadCreatedAt, uint64(p.CreatedAt))
	b = appendVarint(b, payloadModifiedAt, uint64(p.ModifiedAt))

	for i := range p.Accounts {
		b = protowire.AppendTag(b, payloadAccounts, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalAccount(&p.Accounts[i]))
	}
	for i := range p.Groups {
		b = protowire.AppendTag(b, payloadGroups, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalGroup(&p.Groups[i]))
	}

	if len(b) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidProtobuf, len(b), MaxPayloadSize)
	}
	return b, nil
}

// UnmarshalPayload decodes data produced by MarshalPayload. Unknown fields are
// skipped.
func UnmarshalPayload(data []byte) (*VaultPayload, error) {
	if len(data) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrInvalidProtobuf, len(data), MaxPayloadSize)
	}

	p := &VaultPayload{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case payloadSchemaVersion:
			v, n, err := consumeVarint(typ, b)
			p.SchemaVersion = uint32(v)
			return n, err
		case payloadAccessCount:
			v, n, err := consumeVarint(typ, b)
			p.AccessCount = v
			return n, err
		case payloadCreatedAt:
			v, n, err := consumeVarint(typ, b)
			p.CreatedAt = int64(v)
			return n, err
		case payloadModifiedAt:
			v, n, err := consumeVarint(typ, b)
			p.ModifiedAt = int64(v)
			return n, err
		case payloadAccounts:
			msg, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			acc, err := unmarshalAccount(msg)
			if err != nil {
				return 0, fmt.Errorf("account %d: %w", len(p.Accounts), err)
			}
			p.Accounts = append(p.Accounts, acc)
			return n, nil
		case payloadGroups:
			msg, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			g, err := unmarshalGroup(msg)
			if err != nil {
				return 0, fmt.Errorf("group %d: %w", len(p.Groups), err)
			}
			p.Groups = append(p.Groups, g)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func marshalAccount(a *AccountRecord) []byte {
	var b []byte
	b = appendString(b, accountID, a.ID)
	b = appendString(b, accountName, a.AccountName)
	b = appendString(b, accountUsername, a.Username)
	b = appendString(b, accountPassword, a.Password)
	b = appendString(b, accountEmail, a.Email)
	b = appendString(b, accountWebsite, a.Website)
	b = appendString(b, accountNotes, a.Notes)
	b = appendRepeated(b, accountTags, a.Tags)

	for _, f := range a.CustomFields {
		var m []byte
		m = appendString(m, fieldName, f.Name)
		m = appendString(m, fieldValue, f.Value)
		m = appendBool(m, fieldSensitive, f.Sensitive)
		m = appendVarint(m, fieldType, uint64(f.Type))
		b = protowire.AppendTag(b, accountCustomFields, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	for _, q := range a.SecurityQuestions {
		var m []byte
		m = appendString(m, questionText, q.Question)
		m = appendString(m, questionAnswer, q.Answer)
		b = protowire.AppendTag(b, accountSecurityQuestions, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}

	b = appendRepeated(b, accountPasswordHistory, a.PasswordHistory)
	b = appendRepeated(b, accountGroupIDs, a.GroupIDs)
	b = appendBool(b, accountFavorite, a.Favorite)
	b = appendBool(b, accountArchived, a.Archived)
	b = appendBool(b, accountAdminOnlyViewable, a.AdminOnlyViewable)
	b = appendBool(b, accountAdminOnlyDeletable, a.AdminOnlyDeletable)
	b = appendVarint(b, accountDisplayOrder, uint64(int64(a.DisplayOrder)))
	b = appendVarint(b, accountCreatedAt, uint64(a.CreatedAt))
	b = appendVarint(b, accountModifiedAt, uint64(a.ModifiedAt))
	b = appendVarint(b, accountPasswordChangedAt, uint64(a.PasswordChangedAt))
	return b
}

func unmarshalAccount(data []byte) (AccountRecord, error) {
	var a AccountRecord
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case accountID:
			return consumeStringInto(typ, b, &a.ID)
		case accountName:
			return consumeStringInto(typ, b, &a.AccountName)
		case accountUsername:
			return consumeStringInto(typ, b, &a.Username)
		case accountPassword:
			return consumeStringInto(typ, b, &a.Password)
		case accountEmail:
			return consumeStringInto(typ, b, &a.Email)
		case accountWebsite:
			return consumeStringInto(typ, b, &a.Website)
		case accountNotes:
			return consumeStringInto(typ, b, &a.Notes)
		case accountTags:
			return consumeRepeatedInto(typ, b, &a.Tags)
		case accountPasswordHistory:
			return consumeRepeatedInto(typ, b, &a.PasswordHistory)
		case accountGroupIDs:
			return consumeRepeatedInto(typ, b, &a.GroupIDs)
		case accountCustomFields:
			msg, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			f, err := unmarshalCustomField(msg)
			if err != nil {
				return 0, err
			}
			a.CustomFields = append(a.CustomFields, f)
			return n, nil
		case accountSecurityQuestions:
			msg, n, err := consumeBytes(typ, b)
			if err != nil {
				return 0, err
			}
			var q SecurityQuestion
			err = walk(msg, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch num {
				case questionText:
					return consumeStringInto(typ, b, &q.Question)
				case questionAnswer:
					return consumeStringInto(typ, b, &q.Answer)
				}
				return 0, nil
			})
			if err != nil {
				return 0, err
			}
			a.SecurityQuestions = append(a.SecurityQuestions, q)
			return n, nil
		case accountFavorite:
			return consumeBoolInto(typ, b, &a.Favorite)
		case accountArchived:
			return consumeBoolInto(typ, b, &a.Archived)
		case accountAdminOnlyViewable:
			return consumeBoolInto(typ, b, &a.AdminOnlyViewable)
		case accountAdminOnlyDeletable:
			return consumeBoolInto(typ, b, &a.AdminOnlyDeletable)
		case accountDisplayOrder:
			v, n, err := consumeVarint(typ, b)
			a.DisplayOrder = int32(int64(v))
			return n, err
		case accountCreatedAt:
			v, n, err := consumeVarint(typ, b)
			a.CreatedAt = int64(v)
			return n, err
		case accountModifiedAt:
			v, n, err := consumeVarint(typ, b)
			a.ModifiedAt = int64(v)
			return n, err
		case accountPasswordChangedAt:
			v, n, err := consumeVarint(typ, b)
			a.PasswordChangedAt = int64(v)
			return n, err
		}
		return 0, nil
	})
	return a, err
}

func unmarshalCustomField(data []byte) (CustomField, error) {
	var f CustomField
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldName:
			return consumeStringInto(typ, b, &f.Name)
		case fieldValue:
			return consumeStringInto(typ, b, &f.Value)
		case fieldSensitive:
			return consumeBoolInto(typ, b, &f.Sensitive)
		case fieldType:
			v, n, err := consumeVarint(typ, b)
			f.Type = FieldType(v)
			return n, err
		}
		return 0, nil
	})
	return f, err
}

func marshalGroup(g *Group) []byte {
	var b []byte
	b = appendString(b, groupID, g.ID)
	b = appendString(b, groupName, g.Name)
	b = appendVarint(b, groupDisplayOrder, uint64(int64(g.DisplayOrder)))
	return b
}

func unmarshalGroup(data []byte) (Group, error) {
	var g Group
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case groupID:
			return consumeStringInto(typ, b, &g.ID)
		case groupName:
			return consumeStringInto(typ, b, &g.Name)
		case groupDisplayOrder:
			v, n, err := consumeVarint(typ, b)
			g.DisplayOrder = int32(int64(v))
			return n, err
		}
		return 0, nil
	})
	return g, err
}

// fieldFunc consumes the value of a known field and returns its length. A
// zero length marks the field as unknown so walk skips it.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(data []byte, fn fieldFunc) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return wireError(n)
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m == 0 {
			if m = protowire.ConsumeFieldValue(num, typ, data); m < 0 {
				return wireError(m)
			}
		}
		data = data[m:]
	}
	return nil
}

func wireError(n int) error {
	return fmt.Errorf("%w: %w", ErrInvalidProtobuf, protowire.ParseError(n))
}

func wireTypeError(want, got protowire.Type) error {
	return fmt.Errorf("%w: wire type %d, expected %d", ErrInvalidProtobuf, got, want)
}

func consumeVarint(typ protowire.Type, b []byte) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, wireTypeError(protowire.VarintType, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, wireError(n)
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, wireTypeError(protowire.BytesType, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(n)
	}
	return v, n, nil
}

func consumeStringInto(typ protowire.Type, b []byte, dst *string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = string(v)
	return n, nil
}

func consumeRepeatedInto(typ protowire.Type, b []byte, dst *[]string) (int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = append(*dst, string(v))
	return n, nil
}

func consumeBoolInto(typ protowire.Type, b []byte, dst *bool) (int, error) {
	v, n, err := consumeVarint(typ, b)
	if err != nil {
		return 0, err
	}
	*dst = protowire.DecodeBool(v)
	return n, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendRepeated(b []byte, num protowire.Number, values []string) []byte {
	for _, s := range values {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}
