package ui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ConfirmPhrase must be typed verbatim to confirm a dangerous operation.
const ConfirmPhrase = "I AGREE"

// ConfirmDangerousOperation displays a warning box and prompts the user to
// type ConfirmPhrase. It returns false without prompting when stdin is not a
// terminal; callers offer a --yes flag for scripted use.
func ConfirmDangerousOperation(title string, warnings []string, disclaimer string) bool {
	if !IsInteractive() {
		return false
	}
	return confirm(os.Stdin, os.Stdout, GetTerminalWidth(), title, warnings, disclaimer)
}

func confirm(r io.Reader, w io.Writer, width int, title string, warnings []string, disclaimer string) bool {
	width = clampWidth(width)

	lines := []string{
		"",
		lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true).
			Render(fmt.Sprintf("   %s  WARNING  ─  %s", WarningMarker, title)),
		"",
	}
	bulletStyle := lipgloss.NewStyle().Foreground(TextColor)
	for _, warning := range warnings {
		lines = append(lines, bulletStyle.Render("   • "+warning))
	}
	lines = append(lines, "")

	if disclaimer != "" {
		disclaimerStyle := lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true).
			Width(width - 12).
			PaddingLeft(3)
		lines = append(lines, disclaimerStyle.Render(disclaimer), "")
	}

	box := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(WarningColor).
		Width(width-2).
		Padding(0, 2).
		Render(strings.Join(lines, "\n"))

	_, _ = fmt.Fprintln(w, box)
	_, _ = fmt.Fprintln(w)

	promptStyle := lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	_, _ = fmt.Fprint(w, promptStyle.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", ConfirmPhrase)))

	input, err := bufio.NewReader(r).ReadString('\n')
	_, _ = fmt.Fprintln(w)
	if err != nil && input == "" {
		return false
	}
	if strings.TrimSpace(input) == ConfirmPhrase {
		return true
	}

	_, _ = fmt.Fprintln(w, MutedStyle.Render("  Operation cancelled."))
	_, _ = fmt.Fprintln(w)
	return false
}

func emergencyStopWarnings(devices []string) []string {
	return []string{
		fmt.Sprintf("Every managed miner (%s) will disable all hash boards", strings.Join(devices, ", ")),
		"Mining is paused and power is curtailed to zero",
		"Automatic control stays off until each miner is resumed",
	}
}

// EmergencyStopConfirmation is a pre-configured confirmation for stopping
// every managed miner.
func EmergencyStopConfirmation(devices []string) bool {
	return ConfirmDangerousOperation(
		"EMERGENCY STOP",
		emergencyStopWarnings(devices),
		"Run 'solminer resume <device>' for each miner to hand it back to the controller.",
	)
}

// RebootConfirmation is a pre-configured confirmation for rebooting a miner.
func RebootConfirmation(deviceID string) bool {
	return ConfirmDangerousOperation(
		"REBOOT "+strings.ToUpper(deviceID),
		[]string{
			"The miner stops hashing while it restarts",
			"The API is unreachable for a few minutes",
		},
		"",
	)
}
