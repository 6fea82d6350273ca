package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/authrelay/authrelay/internal/logging"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		granted  string
		required string
		want     bool
	}{
		{"payments:write", "payments:write", true},
		{"payments:write", "payments:read", false},
		{"payments:*", "payments:write", true},
		{"payments:*", "refunds:write", false},
		{"*", "anything:at-all", true},
		{"payments", "payments:write", false},
		{"", "payments:write", false},
	}

	for _, tt := range tests {
		t.Run(tt.granted+"->"+tt.required, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.granted, tt.required))
		})
	}
}

func TestCheckerCheck(t *testing.T) {
	checker := NewChecker(logging.Nop())

	result := checker.Check([]string{"refunds:read", "payments:*"}, "payments:write")
	assert.True(t, result.Allowed)
	assert.Equal(t, "payments:*", result.Matched)

	result = checker.Check([]string{"refunds:read"}, "payments:write")
	assert.False(t, result.Allowed)

	result = checker.Check(nil, "payments:write")
	assert.False(t, result.Allowed)

	// Empty requirement admits any authenticated caller.
	result = checker.Check(nil, "")
	assert.True(t, result.Allowed)
}
