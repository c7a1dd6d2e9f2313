package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/sanitizer"
)

var clean = sanitizer.DefaultSanitizer()

// maxActiveShown bounds how many running checks are listed
const maxActiveShown = 10

// Render renders the view based on the current display mode
func (v *View) Render() string {
	if !v.IsValid() {
		return ErrorStyle.Render("Invalid view state - cannot render")
	}
	width := ContentWidth(v.Width)

	sections := []string{v.renderTitle(width)}
	if v.Mode != ModeDefault {
		sections = append(sections, v.renderMetrics(width))
	}
	if s := v.renderProgress(width); s != "" {
		sections = append(sections, s)
	}
	sections = append(sections, v.renderActiveChecks(width))
	if v.Mode == ModeDebug && len(v.DebugMessages) > 0 {
		sections = append(sections, v.renderDebug(width))
	}

	if v.Done {
		sections = append(sections, InfoStyle.Render("Done. Press q to exit"))
	} else {
		sections = append(sections, InfoStyle.Render("Press q to quit"))
	}
	return strings.Join(sections, "\n\n")
}

func (v *View) renderTitle(width int) string {
	title := "ProxyJudge"
	if v.Version != "" {
		title += " " + v.Version
	}
	switch v.Mode {
	case ModeVerbose:
		title += " • Verbose Mode"
	case ModeDebug:
		title += " • Debug Mode"
	}
	return HeaderStyle.Width(width).Render(title)
}

func (v *View) renderProgress(width int) string {
	if v.Total == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(v.Progress.ViewAs(v.Percent()))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s  %s %s  %s %s",
		MetricLabelStyle.Render("Checked:"),
		MetricValueStyle.Render(fmt.Sprintf("%d/%d", v.Current, v.Total)),
		MetricLabelStyle.Render("Working:"),
		SuccessStyle.Render(fmt.Sprintf("%d", v.Working)),
		MetricLabelStyle.Render("Failed:"),
		ErrorStyle.Render(fmt.Sprintf("%d", v.Failed)))
	return ProgressStyle.Width(width).Render(b.String())
}

func (v *View) renderMetrics(width int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s %s  %s %s\n",
		MetricLabelStyle.Render("Active:"),
		MetricValueStyle.Render(fmt.Sprintf("%d", len(v.ActiveChecks))),
		MetricLabelStyle.Render("Success:"),
		MetricValueStyle.Render(fmt.Sprintf("%.1f%%", v.SuccessRate())),
		MetricLabelStyle.Render("Avg:"),
		MetricValueStyle.Render(v.AvgElapsed().Round(time.Millisecond).String()))

	fmt.Fprintf(&b, "%s %s", MetricLabelStyle.Render("SSL:"), SuccessStyle.Render(fmt.Sprintf("%d", v.SSL)))
	for _, g := range []proxy.AnonymityGrade{proxy.AnonymityElite, proxy.AnonymityAnonymous, proxy.AnonymityTransparent, proxy.AnonymityUnknown} {
		if n := v.Anonymity[g]; n > 0 {
			fmt.Fprintf(&b, "  %s %s", MetricLabelStyle.Render(g.String()+":"), AnonymityStyle(g).Render(fmt.Sprintf("%d", n)))
		}
	}
	if v.CurrentIP != "" {
		fmt.Fprintf(&b, "\n%s %s", MetricLabelStyle.Render("Current IP:"), MetricValueStyle.Render(v.CurrentIP))
	}
	return MetricBlockStyle.Width(width).Render(b.String())
}

func (v *View) renderActiveChecks(width int) string {
	active := v.SortedActive()
	if len(active) == 0 {
		if v.Current < v.Total && !v.Done {
			return StatusBlockStyle.Width(width).Render(InfoStyle.Render("Waiting for checks to start..."))
		}
		return StatusBlockStyle.Width(width).Render(SuccessStyle.Render("All checks completed!"))
	}

	var b strings.Builder
	b.WriteString(MetricLabelStyle.Render("Current Checks:"))
	spinner := SpinnerStyle.Render(SpinnerFrames[v.SpinnerIdx%len(SpinnerFrames)])

	for i, status := range active {
		if i == maxActiveShown {
			fmt.Fprintf(&b, "\n%s", InfoStyle.Render(fmt.Sprintf("... and %d more", len(active)-maxActiveShown)))
			break
		}
		fmt.Fprintf(&b, "\n%s %s %s", spinner, ProxyURLStyle.Render(status.Proxy),
			InfoStyle.Render(time.Since(status.Started).Round(100*time.Millisecond).String()))
		if v.Mode == ModeDefault {
			continue
		}
		for _, a := range status.Attempts {
			b.WriteString("\n    " + renderAttempt(a, v.Mode == ModeDebug))
		}
	}
	return StatusBlockStyle.Width(width).Render(b.String())
}

func (v *View) renderDebug(width int) string {
	var b strings.Builder
	b.WriteString(WarningStyle.Render("DEBUG LOG"))
	for _, msg := range v.DebugMessages {
		b.WriteString("\n" + DebugTextStyle.Render(msg))
	}
	return DebugBlockStyle.Width(width).Render(b.String())
}

// renderAttempt formats one attempt on a single line
func renderAttempt(a proxy.ProbeOutcome, debug bool) string {
	scheme := "plain"
	if a.UseTLS {
		scheme = "tls"
	}
	line := fmt.Sprintf("%s %s %s",
		ProtocolStyle.Render(a.Protocol.String()),
		InfoStyle.Render(scheme),
		ClassificationStyle(a.Classification).Render(a.Classification.String()))
	if a.ObservedIP != "" {
		line += " " + clean.SanitizeString(a.ObservedIP)
	}
	if a.Duration > 0 {
		line += " " + InfoStyle.Render(a.Duration.Round(time.Millisecond).String())
	}
	if err := a.Error(); err != "" {
		line += " " + ErrorStyle.Render(clean.SanitizeError(err))
	}
	if debug && a.JudgeHeaders != "" {
		line += "\n      " + DebugTextStyle.Render(strings.ReplaceAll(clean.SanitizeDebugInfo(a.JudgeHeaders), "\n", "\n      "))
	}
	return line
}
