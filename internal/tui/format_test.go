package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/termqapp/termq/internal/mqtt/session"
)

func TestRenderPayload(t *testing.T) {
	assert.Equal(t, "<empty>", renderPayload(nil))

	// Plain text passes through untouched.
	assert.Equal(t, "21.5 degrees", renderPayload([]byte("21.5 degrees")))

	// Binary payloads become a hex dump.
	out := renderPayload([]byte{0x00, 0x01, 0xff})
	assert.Contains(t, out, "0000")
	assert.Contains(t, out, "ff")
}

func TestRenderPayloadTruncatesLongBinary(t *testing.T) {
	out := renderPayload(make([]byte, maxHexPreview+64))
	assert.Contains(t, out, "…")
}

func TestIsPrintable(t *testing.T) {
	assert.True(t, isPrintable([]byte("hello\nworld\t!")))
	assert.True(t, isPrintable([]byte(`{"temp": 21.5}`)))
	assert.False(t, isPrintable([]byte{0x00, 0x01}))
	assert.False(t, isPrintable([]byte{0xff, 0xfe}))
}

func TestMessageHeading(t *testing.T) {
	msg := session.Message{
		Payload:    []byte("abc"),
		QoS:        1,
		Retain:     true,
		Dup:        true,
		ReceivedAt: time.Date(2026, 8, 23, 9, 30, 15, 0, time.UTC),
	}

	heading := messageHeading(msg)
	assert.True(t, strings.HasPrefix(heading, "09:30:15"))
	assert.Contains(t, heading, "qos 1")
	assert.Contains(t, heading, "retained")
	assert.Contains(t, heading, "dup")
	assert.Contains(t, heading, "3 B")
}
