package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/termqapp/termq/internal/core/styles"
	"github.com/termqapp/termq/internal/mqtt/session"
)

// truncateTopic shortens a topic label to the given display width, cutting
// on rune boundaries and appending an ellipsis. Byte slicing would split
// multi-byte topic names mid-rune.
func truncateTopic(name string, width int) string {
	if lipgloss.Width(name) <= width {
		return name
	}
	return ansi.Truncate(name, width, "…")
}

// topicPaneWidth gives the topic list a third of the screen, bounded so
// long topic names stay readable on narrow terminals.
func topicPaneWidth(total int) int {
	w := total / 3
	if w < 28 {
		w = 28
	}
	if w > 60 {
		w = 60
	}
	return w
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "loading…"
	}

	if m.form != nil {
		modal := styles.ModalStyle.Render(m.form.View())
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteByte('\n')
	b.WriteString(m.bodyView())
	b.WriteByte('\n')
	b.WriteString(m.footerView())
	return b.String()
}

func (m Model) headerView() string {
	var status string
	switch m.connState.Phase {
	case session.PhaseConnected:
		status = styles.StatusConnected.Render(styles.IconConnected + m.connState.String())
	case session.PhaseConnecting:
		status = styles.StatusConnecting.Render(m.connState.String())
	case session.PhaseReconnecting:
		status = styles.StatusReconnect.Render(m.connState.String())
	case session.PhaseFailed:
		status = styles.StatusFailed.Render(styles.IconWarning + m.connState.String())
	default:
		status = styles.StatusOffline.Render(styles.IconDisconnected + m.connState.String())
	}

	broker := styles.BrokerStyle.Render(styles.IconBroker + m.cfg.Broker.URL)

	stats := styles.StatsStyle.Render(fmt.Sprintf("subs %d · inflight %d · discarded %d",
		len(m.subs), m.stats.Inflight, m.stats.Discarded))

	line := status + "  " + broker + "  " + stats
	return styles.HeaderStyle.Width(m.width).Render(line)
}

func (m Model) bodyView() string {
	left := m.topicsView()
	right := m.messagesView()
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " │ ", right)
}

func (m Model) topicsView() string {
	width := topicPaneWidth(m.width)
	height := m.height - 5
	if height < 1 {
		height = 1
	}

	lines := make([]string, 0, height)
	start := 0
	if idx := m.indexOf(m.selected); idx >= height {
		start = idx - height + 1
	}

	for i := start; i < len(m.topics) && len(lines) < height; i++ {
		info := m.topics[i]

		name := info.Topic
		badge := ""
		if info.HasRetained {
			badge = " " + styles.IconRetained
		}
		count := styles.TopicCountStyle.Render(fmt.Sprintf(" %d", info.Count))

		avail := width - lipgloss.Width(badge) - lipgloss.Width(count) - 2
		if avail > 0 {
			name = truncateTopic(name, avail)
		}

		style := styles.TopicNormalStyle
		prefix := "  "
		if info.Topic == m.selected {
			style = styles.TopicSelectedStyle
			prefix = "> "
		}
		lines = append(lines, prefix+style.Render(name)+badge+count)
	}

	if len(lines) == 0 {
		lines = append(lines, styles.TopicCountStyle.Render("  no topics yet"))
	}
	for len(lines) < height {
		lines = append(lines, "")
	}

	return lipgloss.NewStyle().Width(width).Render(strings.Join(lines, "\n"))
}

func (m Model) messagesView() string {
	return m.msgView.View()
}

// renderMessages formats a topic history for the viewport, oldest first.
func renderMessages(msgs []session.Message, width int) string {
	if len(msgs) == 0 {
		return styles.TopicCountStyle.Render("no messages")
	}

	divider := styles.DividerStyle.Render(strings.Repeat("─", max(1, width)))

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString(divider)
			b.WriteByte('\n')
		}
		b.WriteString(styles.TimestampStyle.Render(messageHeading(msg)))
		b.WriteByte('\n')
		b.WriteString(renderPayload(msg.Payload))
		b.WriteByte('\n')
	}
	return b.String()
}

func (m Model) footerView() string {
	var b strings.Builder

	if m.filtering || m.filterInput.Value() != "" {
		b.WriteString(m.filterInput.View())
		b.WriteByte('\n')
	}

	// Newest toasts win the limited space.
	shown := m.toasts
	if len(shown) > 3 {
		shown = shown[len(shown)-3:]
	}
	for _, t := range shown {
		var style lipgloss.Style
		switch t.notice.Level {
		case session.NoticeError:
			style = styles.NoticeErrorStyle
		case session.NoticeWarn:
			style = styles.NoticeWarnStyle
		default:
			style = styles.NoticeInfoStyle
		}
		b.WriteString(style.Render(t.notice.Message))
		b.WriteByte('\n')
	}

	b.WriteString(m.help.View(m.keys))
	return b.String()
}
