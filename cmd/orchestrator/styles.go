package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/lim1712/orchestrator/internal/confirm"
	"github.com/lim1712/orchestrator/internal/registry"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

const divider = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// renderProgressBar renders a text progress bar
func renderProgressBar(percent float64, width int) string {
	if math.IsNaN(percent) {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(float64(width) * percent / 100)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// percentStyle colors a usage figure by how close it is to the cap.
func percentStyle(percent, warn float64) lipgloss.Style {
	switch {
	case percent >= 100:
		return errStyle
	case percent >= warn:
		return warnStyle
	default:
		return okStyle
	}
}

// formatUnits formats ledger units with thousands separators.
func formatUnits(v float64) string {
	return humanize.FormatFloat("#,###.##", v)
}

// formatAge renders t relative to now, or "never".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func actionStyle(a confirm.Action) lipgloss.Style {
	switch a {
	case confirm.ActionConfirmed:
		return okStyle
	case confirm.ActionSkippedUnsafe, confirm.ActionSkippedUnknown:
		return warnStyle
	default:
		return errStyle
	}
}

func livenessStyle(l registry.Liveness) lipgloss.Style {
	switch l {
	case registry.LivenessRunning, registry.LivenessStarting:
		return okStyle
	case registry.LivenessUnresponsive:
		return errStyle
	default:
		return dimStyle
	}
}

func row(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}
