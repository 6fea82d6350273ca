package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{
			name:     "single secret",
			input:    "connecting with password=hunter22",
			secrets:  []string{"hunter22"},
			expected: "connecting with password=[REDACTED]",
		},
		{
			name:     "multiple secrets",
			input:    "token=abcd1234 key=wxyz9876",
			secrets:  []string{"abcd1234", "wxyz9876"},
			expected: "token=[REDACTED] key=[REDACTED]",
		},
		{
			name:     "short values untouched",
			input:    "port is 443",
			secrets:  []string{"443"},
			expected: "port is 443",
		},
		{
			name:     "empty secret list",
			input:    "nothing to hide",
			secrets:  nil,
			expected: "nothing to hide",
		},
		{
			name:     "repeated occurrences",
			input:    "secret123 appears twice: secret123",
			secrets:  []string{"secret123"},
			expected: "[REDACTED] appears twice: [REDACTED]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
