package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// AttemptPrinter writes attempts as plain lines when the TUI is off. It is
// safe for concurrent use.
type AttemptPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	debug bool
}

// NewAttemptPrinter creates a printer. debug adds the judge headers.
func NewAttemptPrinter(w io.Writer, debug bool) *AttemptPrinter {
	return &AttemptPrinter{w: w, debug: debug}
}

// ReportAttempt implements proxy.AttemptReporter
func (p *AttemptPrinter) ReportAttempt(address string, outcome proxy.ProbeOutcome) {
	line := renderAttempt(outcome, p.debug)
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", ProxyURLStyle.Render(address), line)
}

// PrintReport writes a one-line verdict for a finished check
func (p *AttemptPrinter) PrintReport(report *proxy.Report) {
	icon := StatusIcon(report.Result.IsWorking, report.Result.IsSSL, true)
	line := fmt.Sprintf("%s %s", icon, ProxyURLStyle.Render(report.Address))
	if report.Result.IsWorking {
		line += fmt.Sprintf(" %v %s", report.Result.WorkingProtocols, AnonymityStyle(report.Anonymity).Render(report.Anonymity.String()))
	} else if report.Error != "" {
		line += " " + ErrorStyle.Render(clean.SanitizeError(report.Error))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}
