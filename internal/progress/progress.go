// Package progress draws batch progress when the TUI is off.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

// ProgressIndicator reports batch progress on a CLI. Implementations are safe
// for concurrent use.
type ProgressIndicator interface {
	Start(total int)
	Update(working bool)
	Finish(message string)
	SetOutput(writer io.Writer)
}

// ProgressType represents different types of progress indicators
type ProgressType string

const (
	ProgressTypeNone    ProgressType = "none"    // No progress indication
	ProgressTypeBasic   ProgressType = "basic"   // Simple text progress
	ProgressTypeBar     ProgressType = "bar"     // Progress bar
	ProgressTypePercent ProgressType = "percent" // Percentage only
)

// Config holds configuration for progress indicators
type Config struct {
	Type      ProgressType
	Width     int       // Width of progress bar
	ShowETA   bool      // Show estimated time of arrival
	ShowStats bool      // Show working/failed counts
	NoColor   bool      // Disable colored output
	Output    io.Writer // Output destination (default: os.Stderr)
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Type:      ProgressTypeBar,
		Width:     80,
		ShowETA:   true,
		ShowStats: true,
		Output:    os.Stderr,
	}
}

// NewProgressIndicator creates a progress indicator based on the configuration
func NewProgressIndicator(config Config) ProgressIndicator {
	if config.Output == nil {
		config.Output = os.Stderr
	}

	switch config.Type {
	case ProgressTypeNone:
		return &NoneIndicator{}
	case ProgressTypeBar:
		return &BarIndicator{config: config}
	case ProgressTypePercent:
		return &PercentIndicator{config: config}
	default:
		return &BasicIndicator{config: config}
	}
}

// Stats holds progress statistics
type Stats struct {
	Total     int
	Current   int
	Working   int
	Failed    int
	StartTime time.Time
}

func (s *Stats) record(working bool) {
	s.Current++
	if working {
		s.Working++
	} else {
		s.Failed++
	}
}

// Percent is the completed share in percent
func (s Stats) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Current) / float64(s.Total) * 100
}

// SuccessRate is the share of finished checks that worked, in percent
func (s Stats) SuccessRate() float64 {
	if s.Current == 0 {
		return 0
	}
	return float64(s.Working) / float64(s.Current) * 100
}

// Rate is checks per second since Start
func (s Stats) Rate(now time.Time) float64 {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Current) / elapsed
}

// ETA estimates the remaining time from the current rate
func (s Stats) ETA(now time.Time) time.Duration {
	rate := s.Rate(now)
	if rate <= 0 || s.Current >= s.Total {
		return 0
	}
	return time.Duration(float64(s.Total-s.Current) / rate * float64(time.Second))
}

func finishLines(w io.Writer, s Stats, showStats bool, message string) {
	elapsed := time.Since(s.StartTime)
	fmt.Fprintf(w, "Completed: %d proxies checked in %v (%.2f proxies/sec)\n",
		s.Current, elapsed.Round(time.Millisecond), s.Rate(time.Now()))
	if showStats {
		fmt.Fprintf(w, "Results: %d working (%.1f%%), %d failed\n", s.Working, s.SuccessRate(), s.Failed)
	}
	if message != "" {
		fmt.Fprintf(w, "%s\n", message)
	}
}

// NoneIndicator provides no progress indication
type NoneIndicator struct{}

func (n *NoneIndicator) Start(total int)            {}
func (n *NoneIndicator) Update(working bool)        {}
func (n *NoneIndicator) Finish(message string)      {}
func (n *NoneIndicator) SetOutput(writer io.Writer) {}

// BasicIndicator prints a status line every tenth of the batch
type BasicIndicator struct {
	config Config
	stats  Stats
	mutex  sync.Mutex
}

func (b *BasicIndicator) Start(total int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats = Stats{Total: total, StartTime: time.Now()}
	fmt.Fprintf(b.config.Output, "Starting proxy checks: %d proxies to check\n", total)
}

func (b *BasicIndicator) Update(working bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats.record(working)
	step := b.stats.Total / 10
	if step < 1 {
		step = 1
	}
	if b.stats.Current%step != 0 && b.stats.Current != b.stats.Total {
		return
	}

	line := fmt.Sprintf("Progress: %d/%d (%.1f%%)", b.stats.Current, b.stats.Total, b.stats.Percent())
	if b.config.ShowStats {
		line += fmt.Sprintf(" | Working: %d, Failed: %d", b.stats.Working, b.stats.Failed)
	}
	if eta := b.stats.ETA(time.Now()); b.config.ShowETA && eta > 0 {
		line += fmt.Sprintf(" | ETA: %v", eta.Round(time.Second))
	}
	fmt.Fprintln(b.config.Output, line)
}

func (b *BasicIndicator) Finish(message string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	finishLines(b.config.Output, b.stats, b.config.ShowStats, message)
}

func (b *BasicIndicator) SetOutput(writer io.Writer) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.config.Output = writer
}

// Stats returns a snapshot of the counters
func (b *BasicIndicator) Stats() Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats
}

const barTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{string . "stats"}} {{etime . }}`

// BarIndicator draws a pb progress bar
type BarIndicator struct {
	config Config
	stats  Stats
	bar    *pb.ProgressBar
	mutex  sync.Mutex
}

func (b *BarIndicator) Start(total int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats = Stats{Total: total, StartTime: time.Now()}

	tmpl := barTemplate
	if b.config.ShowETA {
		tmpl += ` {{rtime . "ETA %s"}}`
	}
	b.bar = pb.ProgressBarTemplate(tmpl).New(total)
	b.bar.SetWriter(b.config.Output)
	b.bar.Set("prefix", "Checking ")
	b.bar.Set(pb.Color, !b.config.NoColor)
	if b.config.Width > 0 {
		b.bar.SetMaxWidth(b.config.Width)
	}
	b.bar.Start()
}

func (b *BarIndicator) Update(working bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats.record(working)
	if b.bar == nil {
		return
	}
	if b.config.ShowStats {
		b.bar.Set("stats", fmt.Sprintf("✓%d ✗%d", b.stats.Working, b.stats.Failed))
	}
	b.bar.Increment()
}

func (b *BarIndicator) Finish(message string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.bar != nil {
		b.bar.Finish()
	}
	finishLines(b.config.Output, b.stats, b.config.ShowStats, message)
}

func (b *BarIndicator) SetOutput(writer io.Writer) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.config.Output = writer
	if b.bar != nil {
		b.bar.SetWriter(writer)
	}
}

// Stats returns a snapshot of the counters
func (b *BarIndicator) Stats() Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.stats
}

// PercentIndicator rewrites a single percentage line in place
type PercentIndicator struct {
	config   Config
	stats    Stats
	lastShow int
	mutex    sync.Mutex
}

func (p *PercentIndicator) Start(total int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.stats = Stats{Total: total, StartTime: time.Now()}
	p.lastShow = -1
	fmt.Fprintf(p.config.Output, "Checking %d proxies: 0%%", total)
}

func (p *PercentIndicator) Update(working bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.stats.record(working)
	pct := int(p.stats.Percent())
	if pct == p.lastShow {
		return
	}
	p.lastShow = pct
	fmt.Fprintf(p.config.Output, "\rChecking %d proxies: %d%%", p.stats.Total, pct)
}

func (p *PercentIndicator) Finish(message string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	fmt.Fprintln(p.config.Output)
	finishLines(p.config.Output, p.stats, p.config.ShowStats, message)
}

func (p *PercentIndicator) SetOutput(writer io.Writer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.config.Output = writer
}
