package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
)

// RenderPowerGauge renders draw against the available solar budget as a bar
// followed by the figures. A zero budget renders an empty bar.
func RenderPowerGauge(drawW, availableW float64, width int) string {
	label := fmt.Sprintf(" %.0f / %.0f W", drawW, availableW)

	barWidth := width - len(label) - 6
	if barWidth < 10 {
		barWidth = 10
	}
	bar := progress.New(
		progress.WithSolidFill(string(SolarColor)),
		progress.WithWidth(barWidth),
	)

	percent := 0.0
	if availableW > 0 {
		percent = drawW / availableW
	}
	if percent > 1 {
		bar.FullColor = string(ErrorColor)
		percent = 1
	}
	return bar.ViewAs(percent) + label
}
