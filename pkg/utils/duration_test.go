package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		in       time.Duration
		expected string
	}{
		{"past", -time.Second, "Past due"},
		{"under a minute", 30 * time.Second, "0 minutes"},
		{"minutes", 42 * time.Minute, "42 minutes"},
		{"hours", 3*time.Hour + 5*time.Minute, "3 hours, 5 minutes"},
		{"days", 50 * time.Hour, "2 days, 2 hours"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDuration(tt.in))
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "250.00µs", FormatElapsed(250*time.Microsecond))
	assert.Equal(t, "12.50ms", FormatElapsed(12500*time.Microsecond))
	assert.Equal(t, "3.25s", FormatElapsed(3250*time.Millisecond))
	assert.Equal(t, "2m5s", FormatElapsed(125*time.Second))
}
