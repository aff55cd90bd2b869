package ui

import "github.com/charmbracelet/lipgloss"

// hooksched palette: slate neutrals with signal colors for outcomes.
var (
	Teal   = lipgloss.Color("#2EC4B6")
	Amber  = lipgloss.Color("#FFBF00")
	Slate  = lipgloss.Color("#5C6B7A")
	Green  = lipgloss.Color("#50C878")
	Red    = lipgloss.Color("#E0115F")
	Blue   = lipgloss.Color("#4C8BF5")
	Violet = lipgloss.Color("#9B5DE5")
	Dim    = lipgloss.Color("#666666")
	Bright = lipgloss.Color("#FFFFFF")

	// Semantic styles
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Teal)

	Success = lipgloss.NewStyle().
		Foreground(Green)

	Error = lipgloss.NewStyle().
		Foreground(Red)

	Warning = lipgloss.NewStyle().
		Foreground(Amber)

	Info = lipgloss.NewStyle().
		Foreground(Blue)

	Muted = lipgloss.NewStyle().
		Foreground(Dim)

	Accent = lipgloss.NewStyle().
		Foreground(Teal).
		Bold(true)

	// Component styles
	Tag = lipgloss.NewStyle().
		Foreground(Bright).
		Background(Slate).
		Padding(0, 1)

	KeyStyle = lipgloss.NewStyle().
			Foreground(Teal).
			Bold(true)

	ValueStyle = lipgloss.NewStyle().
			Foreground(Bright)
)

// Icon constants.
const (
	IconHook     = "⚓"
	IconBatch    = "▤"
	IconClock    = "⏱"
	IconSkip     = "⤼"
	IconRollback = "↺"
	IconWarn     = "⚠️ "
	IconError    = "✗ "
	IconOk       = "✓ "
	IconArrow    = "→"
	IconDot      = "·"
)

// statusStyles colors hook and execution states by name.
var statusStyles = map[string]lipgloss.Style{
	"succeeded":        Success,
	"committed":        Success,
	"failed":           Error,
	"timed_out":        Error,
	"rollback_partial": Error,
	"rolled_back":      Warning,
	"skipped":          Muted,
	"not_run":          Muted,
	"recording":        Info,
}

// Status renders a state name in its color.
func Status(s string) string {
	if st, ok := statusStyles[s]; ok {
		return st.Render(s)
	}
	return s
}

// PriorityColor returns the color for a priority class.
func PriorityColor(class string) lipgloss.Color {
	switch class {
	case "critical":
		return Red
	case "high":
		return Amber
	case "low":
		return Slate
	case "maintenance":
		return Violet
	default:
		return Blue
	}
}
