package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// Color palette
const (
	ColorPrimary   = "87"  // Cyan
	ColorSecondary = "39"  // Blue
	ColorSuccess   = "42"  // Green
	ColorError     = "196" // Red
	ColorWarning   = "214" // Orange
	ColorInfo      = "244" // Gray
	ColorDebug     = "208" // Orange
	ColorMuted     = "252" // Light Gray
	ColorAccent    = "99"  // Purple
	ColorMetric    = "207" // Pink
	ColorSpinner   = "86"  // Bright Green
)

// Layout constants
const (
	DefaultWidth  = 60
	MinWidth      = 30
	MaxWidth      = 120
	BorderPadding = 1
)

// ContentWidth clamps a terminal width to something the blocks render well at
func ContentWidth(termWidth int) int {
	switch {
	case termWidth <= 0:
		return DefaultWidth
	case termWidth < MinWidth:
		return MinWidth
	case termWidth > MaxWidth:
		return MaxWidth
	default:
		return termWidth - 2*BorderPadding
	}
}

var (
	baseBlockStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, BorderPadding)

	baseTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, BorderPadding).
			Align(lipgloss.Center)
)

// Block styles
var (
	HeaderStyle = baseTitleStyle.
			Foreground(lipgloss.Color(ColorPrimary)).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorPrimary))

	ProgressStyle = baseBlockStyle.
			BorderForeground(lipgloss.Color(ColorSecondary))

	StatusBlockStyle = baseBlockStyle.
				BorderForeground(lipgloss.Color(ColorAccent))

	MetricBlockStyle = baseBlockStyle.
				BorderForeground(lipgloss.Color(ColorMetric))

	DebugBlockStyle = baseBlockStyle.
			BorderForeground(lipgloss.Color(ColorDebug))
)

// Text styles
var (
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSuccess)).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorError)).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorWarning)).
			Bold(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorInfo)).
			Italic(true)

	DebugTextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorMuted))

	MetricLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(ColorInfo)).
				Bold(true)

	MetricValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color(ColorSpinner)).
				Bold(true)

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSpinner))

	ProxyURLStyle = lipgloss.NewStyle().
			Bold(true)

	ProtocolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorSecondary))
)

// SpinnerFrames animate active checks
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Status icons
const (
	IconSpinner = "⌛"
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconSecure  = "🔒"
)

// ClassificationStyle picks a style for an attempt verdict
func ClassificationStyle(c proxy.Classification) lipgloss.Style {
	switch c {
	case proxy.ClassificationDirect:
		return SuccessStyle
	case proxy.ClassificationHighAnonymity:
		return WarningStyle
	default:
		return ErrorStyle
	}
}

// AnonymityStyle picks a style for an anonymity grade
func AnonymityStyle(g proxy.AnonymityGrade) lipgloss.Style {
	switch g {
	case proxy.AnonymityElite:
		return SuccessStyle
	case proxy.AnonymityAnonymous:
		return MetricValueStyle
	case proxy.AnonymityTransparent:
		return WarningStyle
	default:
		return InfoStyle
	}
}

// StatusIcon returns the icon for a finished or running check
func StatusIcon(working, ssl, complete bool) string {
	switch {
	case !complete:
		return IconSpinner
	case working && ssl:
		return IconSuccess + IconSecure
	case working:
		return IconSuccess
	default:
		return IconError
	}
}
