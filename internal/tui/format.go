package tui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/termqapp/termq/internal/mqtt/session"
	"github.com/termqapp/termq/internal/tui/jsoncolor"
)

const maxHexPreview = 256

// renderPayload formats a payload for the message pane: JSON is indented
// and colorized, other text passes through, and binary data becomes a hex
// dump capped at maxHexPreview bytes.
func renderPayload(payload []byte) string {
	if len(payload) == 0 {
		return "<empty>"
	}
	if isPrintable(payload) {
		return jsoncolor.Colorize(payload)
	}
	return hexDump(payload)
}

func isPrintable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if r == '\n' || r == '\t' || r == '\r' {
			continue
		}
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func hexDump(b []byte) string {
	truncated := false
	if len(b) > maxHexPreview {
		b = b[:maxHexPreview]
		truncated = true
	}

	var out strings.Builder
	for i := 0; i < len(b); i += 16 {
		end := i + 16
		if end > len(b) {
			end = len(b)
		}
		row := b[i:end]

		fmt.Fprintf(&out, "%04x  ", i)
		for j, c := range row {
			fmt.Fprintf(&out, "%02x ", c)
			if j == 7 {
				out.WriteByte(' ')
			}
		}
		out.WriteByte('\n')
	}
	if truncated {
		out.WriteString("…\n")
	}
	return strings.TrimRight(out.String(), "\n")
}

// messageHeading renders the per-message metadata line.
func messageHeading(msg session.Message) string {
	parts := []string{
		msg.ReceivedAt.Format("15:04:05.000"),
		fmt.Sprintf("qos %d", msg.QoS),
	}
	if msg.Retain {
		parts = append(parts, "retained")
	}
	if msg.Dup {
		parts = append(parts, "dup")
	}
	parts = append(parts, fmt.Sprintf("%d B", len(msg.Payload)))
	return strings.Join(parts, "  ")
}
