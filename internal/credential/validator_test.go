package credential

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRecord(t *testing.T, secret string) *Credential {
	t.Helper()
	hashed, err := HashSecret(secret)
	require.NoError(t, err)
	return &Credential{
		ClientID:     "acme",
		HashedSecret: hashed,
		Version:      "v1",
		CreatedAt:    time.Now(),
		Status:       StatusActive,
	}
}

func TestValidateMatchingSecret(t *testing.T) {
	record := activeRecord(t, "sekret")

	assert.True(t, Validate("sekret", record, false))
	assert.False(t, Validate("wrong", record, false))
	assert.False(t, Validate("", record, false))
}

func TestValidateStatusShortCircuit(t *testing.T) {
	record := activeRecord(t, "sekret")

	record.Status = StatusDisabled
	assert.False(t, Validate("sekret", record, false))
	assert.False(t, Validate("sekret", record, true))

	record.Status = StatusDeprecated
	assert.False(t, Validate("sekret", record, false))
	assert.True(t, Validate("sekret", record, true), "deprecated accepted only when the flag widens the check")
}

func TestValidateNilAndMalformed(t *testing.T) {
	assert.False(t, Validate("sekret", nil, false))

	record := activeRecord(t, "sekret")
	record.HashedSecret = "not-a-hash"
	assert.False(t, Validate("sekret", record, false))
}

func TestHashSecretSaltsDiffer(t *testing.T) {
	h1, err := HashSecret("same")
	require.NoError(t, err)
	h2, err := HashSecret("same")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "fresh salt per hash")
	assert.True(t, strings.HasPrefix(h1, "argon2id$"))
}

func TestHashNeverContainsSecret(t *testing.T) {
	hashed, err := HashSecret("super-secret-value")
	require.NoError(t, err)
	assert.NotContains(t, hashed, "super-secret-value")
}

func TestGenerateSecret(t *testing.T) {
	s1, err := GenerateSecret()
	require.NoError(t, err)
	s2, err := GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.GreaterOrEqual(t, len(s1), 40)
}

func TestCredentialEncodeDecode(t *testing.T) {
	record := activeRecord(t, "sekret")
	record.Permissions = []string{"payments:write"}

	data, err := record.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCredential(data)
	require.NoError(t, err)
	assert.Equal(t, record.ClientID, decoded.ClientID)
	assert.Equal(t, record.Version, decoded.Version)
	assert.Equal(t, record.Status, decoded.Status)
	assert.Equal(t, record.Permissions, decoded.Permissions)
	assert.True(t, Validate("sekret", decoded, false))
}

func TestDecodeCredentialRejectsIncomplete(t *testing.T) {
	_, err := DecodeCredential([]byte(`{"client_id":"acme"}`))
	assert.Error(t, err)

	_, err = DecodeCredential([]byte(`not json`))
	assert.Error(t, err)
}

func TestTransitionWidens(t *testing.T) {
	now := time.Now()
	trans := &Transition{
		ClientID:   "acme",
		OldVersion: "v1",
		NewVersion: "v2",
		StartTime:  now.Add(-time.Minute),
		EndTime:    now.Add(10 * time.Minute),
		State:      TransitionDualActive,
	}

	assert.True(t, trans.Widens(now))
	assert.False(t, trans.Widens(now.Add(11*time.Minute)), "expired dual-active no longer widens")

	trans.State = TransitionOldDeprecated
	assert.True(t, trans.Widens(now.Add(11*time.Minute)), "old-deprecated widens until resolved")

	trans.State = TransitionInitiated
	assert.False(t, trans.Widens(now))

	var nilTrans *Transition
	assert.False(t, nilTrans.Widens(now))
}
