// Package jsoncolor pretty-prints JSON payloads with theme-aware syntax
// coloring for the message pane.
package jsoncolor

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/termqapp/termq/internal/core/styles"
)

// Colorize pretty-prints JSON bytes with theme-aware syntax coloring.
// Invalid JSON is returned as-is; payloads are frequently plain text.
func Colorize(data []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}

	var out strings.Builder
	raw := buf.String()

	i := 0
	for i < len(raw) {
		ch := raw[i]
		switch {
		case ch == '"':
			end := findStringEnd(raw, i)
			str := raw[i : end+1]

			// A string followed by a colon is an object key.
			rest := strings.TrimLeft(raw[end+1:], " \t")
			if len(rest) > 0 && rest[0] == ':' {
				out.WriteString(styles.TextPrimaryStyle.Render(str))
			} else {
				out.WriteString(styles.TextSuccessStyle.Render(str))
			}
			i = end + 1

		case ch == ':':
			out.WriteString(styles.TextMutedStyle.Render(":"))
			i++

		case ch >= '0' && ch <= '9' || ch == '-':
			end := i + 1
			for end < len(raw) && isNumberByte(raw[end]) {
				end++
			}
			out.WriteString(styles.TextWarningStyle.Render(raw[i:end]))
			i = end

		case strings.HasPrefix(raw[i:], "true"):
			out.WriteString(styles.TextSecondaryStyle.Render("true"))
			i += 4

		case strings.HasPrefix(raw[i:], "false"):
			out.WriteString(styles.TextSecondaryStyle.Render("false"))
			i += 5

		case strings.HasPrefix(raw[i:], "null"):
			out.WriteString(styles.TextErrorStyle.Render("null"))
			i += 4

		case ch == '{' || ch == '}' || ch == '[' || ch == ']':
			out.WriteString(styles.TextForegroundStyle.Render(string(ch)))
			i++

		default:
			out.WriteByte(ch)
			i++
		}
	}

	return out.String()
}

func isNumberByte(b byte) bool {
	return b >= '0' && b <= '9' || b == '.' || b == 'e' || b == 'E' || b == '+' || b == '-'
}

// findStringEnd returns the index of the closing quote for a JSON string starting at pos.
func findStringEnd(s string, pos int) int {
	for i := pos + 1; i < len(s); i++ {
		if s[i] == '\\' {
			i++ // skip escaped character
			continue
		}
		if s[i] == '"' {
			return i
		}
	}
	return len(s) - 1
}
