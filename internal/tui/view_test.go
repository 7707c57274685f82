package tui

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
)

func TestTruncateTopicIsRuneAware(t *testing.T) {
	// Fits: untouched.
	assert.Equal(t, "a/b", truncateTopic("a/b", 10))

	got := truncateTopic("sensörler/sıcaklık/oda", 10)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, lipgloss.Width(got), 10)
	assert.True(t, strings.HasSuffix(got, "…"))

	// Wide runes count by display cell, not by byte.
	got = truncateTopic("温度/センサー/台所", 8)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, lipgloss.Width(got), 8)
}
