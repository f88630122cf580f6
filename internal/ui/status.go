package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/solminer/internal/control"
	"github.com/muurk/solminer/internal/miner"
)

// HotTempC is the board temperature rendered with HotStyle.
const HotTempC = 75.0

// RenderStatus renders a device status panel: summary lines followed by one
// line per hash board.
func RenderStatus(status *miner.DeviceStatus, width int) string {
	width = clampWidth(width)
	if status == nil {
		return boxStyle(MutedColor, width).Render(MutedStyle.Render("   no status available"))
	}

	title := SectionTitleStyle.Render(strings.ToUpper(status.DeviceID))
	if status.Model != "" {
		title += MutedStyle.Render("  " + status.Model)
	}
	if status.Stale {
		title += "  " + StaleStyle.Render(WarningMarker+" stale")
	}

	health := SuccessMarker + " healthy"
	color := SuccessColor
	if !status.Healthy {
		health = FailureMarker + " not hashing"
		color = ErrorColor
	}

	rows := []Param{
		{Key: "Protocol", Value: status.Protocol},
		{Key: "State", Value: health},
		{Key: "Hashrate", Value: fmt.Sprintf("%.2f TH/s (1m %.2f, 15m %.2f)", status.Hashrate.FiveSec, status.Hashrate.OneMin, status.Hashrate.FifteenMin)},
		{Key: "Power", Value: fmt.Sprintf("%.0f W", status.PowerW)},
		{Key: "Profile", Value: profileLabel(status)},
	}
	if status.FrequencyMHz > 0 {
		rows = append(rows, Param{Key: "Frequency", Value: fmt.Sprintf("%.0f MHz", status.FrequencyMHz)})
	}
	if status.TempMax > 0 {
		rows = append(rows, Param{Key: "Temperature", Value: fmt.Sprintf("avg %.1f °C, max %s", status.TempAvg, renderTemp(status.TempMax))})
	}
	if len(status.Fans) > 0 {
		fans := make([]string, len(status.Fans))
		for i, rpm := range status.Fans {
			fans[i] = fmt.Sprintf("%.0f", rpm)
		}
		rows = append(rows, Param{Key: "Fans (rpm)", Value: strings.Join(fans, " / ")})
	}
	if status.Pool != "" {
		rows = append(rows, Param{Key: "Pool", Value: status.Pool})
	}
	if status.Uptime > 0 {
		rows = append(rows, Param{Key: "Uptime", Value: status.Uptime.Truncate(time.Second).String()})
	}

	lines := []string{"", "   " + title, ""}
	for _, r := range rows {
		lines = append(lines, ResultKeyStyle.Render("   "+r.Key+":")+" "+ResultValueStyle.Render(r.Value))
	}

	if len(status.Boards) > 0 {
		lines = append(lines, "", "   "+SectionTitleStyle.Render("Boards"))
		for _, b := range status.Boards {
			lines = append(lines, "   "+renderBoard(b))
		}
	}

	if len(status.Errors) > 0 {
		keys := make([]string, 0, len(status.Errors))
		for k := range status.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines = append(lines, "")
		for _, k := range keys {
			lines = append(lines, ErrorMessageStyle.Render(fmt.Sprintf("   %s: %s", k, status.Errors[k])))
		}
	}
	lines = append(lines, "")

	return boxStyle(color, width).Render(strings.Join(lines, "\n"))
}

func profileLabel(status *miner.DeviceStatus) string {
	if !status.ProfileKnown {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s)", status.Profile, status.Profile.Encode())
}

func renderTemp(c float64) string {
	s := fmt.Sprintf("%.1f °C", c)
	if c >= HotTempC {
		return HotStyle.Render(s)
	}
	return s
}

func renderBoard(b miner.Board) string {
	marker := BoardEnabledStyle.Render(EnabledMarker + " on ")
	if !b.Enabled {
		marker = BoardDisabledStyle.Render(DisabledMarker + " off")
	}
	parts := []string{fmt.Sprintf("board %d", b.ID), marker}
	if b.Temperature > 0 {
		parts = append(parts, renderTemp(b.Temperature))
	}
	if b.FrequencyMHz > 0 {
		parts = append(parts, fmt.Sprintf("%.0f MHz", b.FrequencyMHz))
	}
	if b.Voltage > 0 {
		parts = append(parts, fmt.Sprintf("%.2f V", b.Voltage))
	}
	if b.Status != "" {
		parts = append(parts, MutedStyle.Render(b.Status))
	}
	return strings.Join(parts, "  ")
}

// RenderDeviceView renders the controller state of one device.
func RenderDeviceView(view control.DeviceView, width int) string {
	mode := "automatic"
	switch {
	case view.Emergency:
		mode = HotStyle.Render("emergency stop")
	case view.Paused:
		mode = StaleStyle.Render("paused")
	case !view.AutoPowerManagement:
		mode = "manual"
	}

	r := NewSuccessResult("Control state "+view.ID,
		Param{Key: "Mode", Value: mode},
		Param{Key: "Solar input", Value: view.Input.String()},
		Param{Key: "Rated power", Value: fmt.Sprintf("%.0f W", view.RatedPowerW)},
		Param{Key: "Temp protection", Value: onOff(view.TempProtection)},
	)
	if view.Preset != "" {
		r.AddDetail("Preset", string(view.Preset))
	}
	if view.Protected {
		r.Type = ResultWarning
		r.AddDetail("Protection", "holding a thermal step-down")
	}
	if view.Emergency {
		r.Type = ResultFailure
	}
	return r.SetWidth(width).Render()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// RenderCycle renders a control cycle summary with one block per device.
func RenderCycle(cycle control.CycleResult, width int) string {
	width = clampWidth(width)

	title := fmt.Sprintf("CYCLE %s  (%s)", cycle.StartedAt.Format("15:04:05"), cycle.Duration.Truncate(time.Millisecond))
	if cycle.Emergency {
		title += "  " + HotStyle.Render("EMERGENCY STOP")
	}
	blocks := []string{SectionTitleStyle.Render(title)}

	for _, d := range cycle.Devices {
		blocks = append(blocks, renderDeviceResult(d, width-6))
	}
	if len(cycle.Devices) == 0 {
		blocks = append(blocks, MutedStyle.Render("no devices"))
	}

	return boxStyle(PrimaryColor, width).Render(lipgloss.JoinVertical(lipgloss.Left, blocks...))
}

func renderDeviceResult(d control.DeviceResult, width int) string {
	marker, style := SuccessMarker, BoardEnabledStyle
	switch {
	case d.Partial():
		marker, style = WarningMarker, StaleStyle
	case len(d.Errors) > 0:
		marker, style = FailureMarker, HotStyle
	}

	lines := []string{style.Render(marker + " " + d.DeviceID)}
	if d.Skipped != "" {
		lines = append(lines, MutedStyle.Render("  skipped: "+d.Skipped))
	}
	if d.Desired != nil {
		lines = append(lines, fmt.Sprintf("  target %s, %s", d.Desired.Profile, d.Desired.Reason))
	}
	if d.AvailableW > 0 || d.Desired != nil {
		lines = append(lines, "  "+RenderPowerGauge(estimatedDraw(d), d.AvailableW, width-2))
	}
	if d.Protection != "" {
		lines = append(lines, StaleStyle.Render("  protection: "+d.Protection))
	}
	for _, cmd := range d.Commands {
		if cmd.OK() {
			lines = append(lines, "  "+SuccessMarker+" "+cmd.Name)
		} else {
			lines = append(lines, HotStyle.Render("  "+FailureMarker+" "+cmd.Name+": "+cmd.Error))
		}
	}
	for _, e := range d.Errors {
		lines = append(lines, ErrorMessageStyle.Render("  "+e))
	}
	return strings.Join(lines, "\n")
}

func estimatedDraw(d control.DeviceResult) float64 {
	if d.Status != nil && d.Status.PowerW > 0 {
		return d.Status.PowerW
	}
	if d.Desired != nil {
		return d.Desired.EstimatedW
	}
	return 0
}
