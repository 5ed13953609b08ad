package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "1,000", FormatNumber(1000))
	assert.Equal(t, "12,345,678", FormatNumber(12345678))
	assert.Equal(t, "-1,234", FormatNumber(-1234))
}

func TestFormatCost(t *testing.T) {
	assert.Equal(t, "$0.0000", FormatCost(0))
	assert.Equal(t, "$1.2346", FormatCost(1.23456))
}

func TestShortenModelName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"claude-3-5-sonnet-20241022", "claude-3-5-sonnet"},
		{"claude-haiku-4-5", "haiku-4-5"},
		{"gpt-4o-2024-08-06", "gpt-4o-2024-08-06"},
		{"gpt-4o", "gpt-4o"},
		{"models/gemini-1.5-pro", "gemini-1.5-pro"},
		{"homegrown-llm", "homegrown-llm"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shortenModelName(tt.in), tt.in)
	}
}

func TestCompactModeRespectsColumns(t *testing.T) {
	t.Setenv("COLUMNS", "80")
	assert.True(t, shouldUseCompact(TableOptions{}))

	t.Setenv("COLUMNS", "200")
	assert.False(t, shouldUseCompact(TableOptions{}))

	assert.True(t, shouldUseCompact(TableOptions{ForceCompact: true}))
}

func TestTerminalWidthColumnsOverride(t *testing.T) {
	t.Setenv("COLUMNS", "77")
	assert.Equal(t, 77, getTerminalWidth())
}
