// Package styles provides shared lipgloss styles for the TUI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// CurrentPalette holds the active theme palette.
var CurrentPalette Palette

// Exported color aliases for convenience.
var (
	ColorPrimary    lipgloss.Color
	ColorSecondary  lipgloss.Color
	ColorForeground lipgloss.Color
	ColorMuted      lipgloss.Color
	ColorBackground lipgloss.Color
	ColorSurface    lipgloss.Color
	ColorSuccess    lipgloss.Color
	ColorWarning    lipgloss.Color
	ColorError      lipgloss.Color
)

// Style exports.
var (
	// Status header.
	HeaderStyle      lipgloss.Style
	StatusConnected  lipgloss.Style
	StatusConnecting lipgloss.Style
	StatusReconnect  lipgloss.Style
	StatusFailed     lipgloss.Style
	StatusOffline    lipgloss.Style
	StatsStyle       lipgloss.Style
	BrokerStyle      lipgloss.Style

	// Topic list.
	TopicSelectedStyle lipgloss.Style
	TopicNormalStyle   lipgloss.Style
	TopicCountStyle    lipgloss.Style
	RetainedBadge      lipgloss.Style

	// Message pane.
	PayloadStyle   lipgloss.Style
	TimestampStyle lipgloss.Style
	QoSBadgeStyle  lipgloss.Style
	DupBadgeStyle  lipgloss.Style
	DividerStyle   lipgloss.Style

	// Subscriptions pane.
	FilterStyle         lipgloss.Style
	FilterWildcardStyle lipgloss.Style

	// Notices.
	NoticeInfoStyle  lipgloss.Style
	NoticeWarnStyle  lipgloss.Style
	NoticeErrorStyle lipgloss.Style

	// Modals and help.
	ModalStyle      lipgloss.Style
	ModalTitleStyle lipgloss.Style
	HelpStyle       lipgloss.Style

	// Plain text in semantic colors, used by the JSON colorizer.
	TextPrimaryStyle    lipgloss.Style
	TextSecondaryStyle  lipgloss.Style
	TextForegroundStyle lipgloss.Style
	TextMutedStyle      lipgloss.Style
	TextSuccessStyle    lipgloss.Style
	TextWarningStyle    lipgloss.Style
	TextErrorStyle      lipgloss.Style
)

// ColorPool is used for deterministic color hashing of topic names.
var ColorPool []lipgloss.Color

// SetTheme sets the active palette and rebuilds all global styles.
func SetTheme(p Palette) {
	CurrentPalette = p

	ColorPrimary = p.Primary
	ColorSecondary = p.Secondary
	ColorForeground = p.Foreground
	ColorMuted = p.Muted
	ColorBackground = p.Background
	ColorSurface = p.Surface
	ColorSuccess = p.Success
	ColorWarning = p.Warning
	ColorError = p.Error

	HeaderStyle = lipgloss.NewStyle().
		Foreground(ColorForeground).
		Background(ColorSurface).
		Padding(0, 1)
	StatusConnected = lipgloss.NewStyle().
		Foreground(ColorSuccess).
		Bold(true)
	StatusConnecting = lipgloss.NewStyle().
		Foreground(ColorSecondary)
	StatusReconnect = lipgloss.NewStyle().
		Foreground(ColorWarning)
	StatusFailed = lipgloss.NewStyle().
		Foreground(ColorError).
		Bold(true)
	StatusOffline = lipgloss.NewStyle().
		Foreground(ColorMuted)
	StatsStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
	BrokerStyle = lipgloss.NewStyle().
		Foreground(ColorSecondary)

	TopicSelectedStyle = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true)
	TopicNormalStyle = lipgloss.NewStyle().
		Foreground(ColorForeground)
	TopicCountStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
	RetainedBadge = lipgloss.NewStyle().
		Foreground(ColorBackground).
		Background(ColorWarning).
		Padding(0, 1)

	PayloadStyle = lipgloss.NewStyle().
		Foreground(ColorForeground)
	TimestampStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
	QoSBadgeStyle = lipgloss.NewStyle().
		Foreground(ColorSecondary)
	DupBadgeStyle = lipgloss.NewStyle().
		Foreground(ColorWarning)
	DividerStyle = lipgloss.NewStyle().
		Foreground(ColorSurface)

	FilterStyle = lipgloss.NewStyle().
		Foreground(ColorForeground)
	FilterWildcardStyle = lipgloss.NewStyle().
		Foreground(ColorSecondary).
		Bold(true)

	NoticeInfoStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)
	NoticeWarnStyle = lipgloss.NewStyle().
		Foreground(ColorWarning)
	NoticeErrorStyle = lipgloss.NewStyle().
		Foreground(ColorError).
		Bold(true)

	ModalStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrimary).
		Padding(1, 2)
	ModalTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorForeground)
	HelpStyle = lipgloss.NewStyle().
		Foreground(ColorMuted)

	TextPrimaryStyle = lipgloss.NewStyle().Foreground(ColorPrimary)
	TextSecondaryStyle = lipgloss.NewStyle().Foreground(ColorSecondary)
	TextForegroundStyle = lipgloss.NewStyle().Foreground(ColorForeground)
	TextMutedStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	TextSuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	TextWarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	TextErrorStyle = lipgloss.NewStyle().Foreground(ColorError)

	ColorPool = []lipgloss.Color{
		ColorPrimary,
		ColorSecondary,
		ColorSuccess,
		ColorWarning,
		ColorError,
		ColorMuted,
	}
}

// ColorForString returns a deterministic color for a given string.
// The same string always produces the same color.
func ColorForString(s string) lipgloss.Color {
	var hash uint32
	for _, c := range s {
		hash = hash*31 + uint32(c)
	}
	return ColorPool[hash%uint32(len(ColorPool))]
}

// nolint:gochecknoinits // bootstrap default theme before any style is accessed.
func init() {
	SetTheme(themes[DefaultTheme])
}
