package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func samplePayload() *VaultPayload {
	return &VaultPayload{
		SchemaVersion: CurrentSchemaVersion,
		AccessCount:   17,
		CreatedAt:     1700000000,
		ModifiedAt:    1700000500,
		Accounts: []AccountRecord{
			{
				ID:          "a1",
				AccountName: "Gmail Personal",
				Username:    "me@example.com",
				Password:    "hunter2",
				Website:     "https://mail.google.com",
				Notes:       "two\nlines",
				Tags:        []string{"email", "personal"},
				CustomFields: []CustomField{
					{Name: "PIN", Value: "1234", Sensitive: true, Type: FieldNumber},
					{Name: "empty"},
				},
				SecurityQuestions: []SecurityQuestion{{Question: "pet?", Answer: "cat"}},
				PasswordHistory:   []string{"old1", "old2"},
				GroupIDs:          []string{"g1"},
				Favorite:          true,
				AdminOnlyViewable: true,
				DisplayOrder:      -3,
				CreatedAt:         1700000001,
				ModifiedAt:        1700000002,
				PasswordChangedAt: 1700000003,
			},
			{ID: "a2", AccountName: "Bank"},
		},
		Groups: []Group{{ID: "g1", Name: "Mail", DisplayOrder: 2}},
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := samplePayload()
	raw, err := MarshalPayload(p)
	require.NoError(t, err)

	got, err := UnmarshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestEmptyPayload(t *testing.T) {
	raw, err := MarshalPayload(&VaultPayload{})
	require.NoError(t, err)
	assert.Empty(t, raw)

	got, err := UnmarshalPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, &VaultPayload{}, got)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	raw, err := MarshalPayload(samplePayload())
	require.NoError(t, err)

	raw = protowire.AppendTag(raw, 99, protowire.BytesType)
	raw = protowire.AppendString(raw, "from a newer build")
	raw = protowire.AppendTag(raw, 100, protowire.VarintType)
	raw = protowire.AppendVarint(raw, 5)

	got, err := UnmarshalPayload(raw)
	require.NoError(t, err)
	assert.Len(t, got.Accounts, 2)
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	raw, err := MarshalPayload(samplePayload())
	require.NoError(t, err)

	wrongType := protowire.AppendTag(nil, payloadSchemaVersion, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "2")

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", raw[:len(raw)-3]},
		{"garbage", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
		{"field zero", []byte{0x00, 0x01}},
		{"wrong wire type", wrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalPayload(tt.data)
			assert.ErrorIs(t, err, ErrInvalidProtobuf)
		})
	}
}

func TestUnmarshalRejectsOversizedPayload(t *testing.T) {
	_, err := UnmarshalPayload(make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrInvalidProtobuf)
}

func TestAccountRecordHelpers(t *testing.T) {
	a := AccountRecord{}
	assert.True(t, a.AddTag("work"))
	assert.False(t, a.AddTag("work"))
	assert.False(t, a.AddTag("  "))
	assert.True(t, a.AddTag("email"))
	assert.Equal(t, []string{"work", "email"}, a.Tags)
	assert.True(t, a.RemoveTag("work"))
	assert.False(t, a.RemoveTag("work"))

	now := time.Unix(1700000000, 0)
	a.SetPassword("first", now)
	a.SetPassword("second", now.Add(time.Minute))
	a.SetPassword("second", now.Add(time.Hour))
	assert.Equal(t, []string{"first"}, a.PasswordHistory)
	assert.Equal(t, now.Add(time.Minute).Unix(), a.PasswordChangedAt)

	c := a.Clone()
	c.Tags[0] = "changed"
	assert.Equal(t, "email", a.Tags[0])
}
