package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	// Init uses sync.Once, so it can only run once per test binary.
	Init()

	assert.True(t, Registered())
	assert.NotNil(t, authAttemptsTotal)
	assert.NotNil(t, tokensMintedTotal)
	assert.NotNil(t, tokenCacheTotal)
	assert.NotNil(t, verificationsTotal)
	assert.NotNil(t, rotationStartedTotal)
	assert.NotNil(t, rotationCompletedTotal)
	assert.NotNil(t, breakerState)
}

func TestRecorderDoesNotPanic(t *testing.T) {
	Init()

	m := NewRecorder()
	m.RecordAuthAttempt("success", 0.012)
	m.RecordAuthAttempt("invalid_credentials", 0.008)
	m.RecordTokenMinted("ACTIVE")
	m.RecordTokenRenewed()
	m.RecordTokenCache("hit")
	m.RecordTokenCache("miss")
	m.RecordVerification("valid")
	m.RecordVerification("expired")
	m.RecordRotationStarted("manual")
	m.RecordRotationCompleted("NEW_ACTIVE", 1800)
	m.SetBreakerState("vault", 1)
	m.RecordDegradedGrant()
}
