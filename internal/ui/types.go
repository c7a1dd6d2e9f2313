package ui

import (
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// ViewMode represents the display mode
type ViewMode int

const (
	ModeDefault ViewMode = iota
	ModeVerbose
	ModeDebug
)

// maxDebugMessages bounds the debug log kept in memory
const maxDebugMessages = 50

// View is the render state of a batch run. It is owned by the bubbletea
// model and only mutated from its Update loop.
type View struct {
	Progress progress.Model
	Width    int
	Total    int
	Current  int

	Working   int
	Failed    int
	SSL       int
	Anonymity map[proxy.AnonymityGrade]int
	elapsed   time.Duration

	ActiveChecks map[string]*CheckStatus
	SpinnerIdx   int

	Mode          ViewMode
	DebugMessages []string
	CurrentIP     string
	Version       string
	Done          bool
}

// NewView creates a new View with sensible defaults
func NewView(total int) *View {
	return &View{
		Progress: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		Total:        total,
		Anonymity:    make(map[proxy.AnonymityGrade]int),
		ActiveChecks: make(map[string]*CheckStatus),
		Mode:         ModeDefault,
	}
}

// SetMode sets the display mode
func (v *View) SetMode(verbose, debug bool) {
	switch {
	case debug:
		v.Mode = ModeDebug
	case verbose:
		v.Mode = ModeVerbose
	default:
		v.Mode = ModeDefault
	}
}

// AddDebugMessage adds a debug message to the log
func (v *View) AddDebugMessage(msg string) {
	v.DebugMessages = append(v.DebugMessages, msg)
	if len(v.DebugMessages) > maxDebugMessages {
		v.DebugMessages = v.DebugMessages[len(v.DebugMessages)-maxDebugMessages:]
	}
}

// Start marks a check as running
func (v *View) Start(address string, now time.Time) {
	v.ActiveChecks[address] = &CheckStatus{Proxy: address, Started: now}
}

// Attempt appends an attempt to a running check
func (v *View) Attempt(address string, outcome proxy.ProbeOutcome) {
	status, ok := v.ActiveChecks[address]
	if !ok {
		status = &CheckStatus{Proxy: address, Started: time.Now()}
		v.ActiveChecks[address] = status
	}
	status.Attempts = append(status.Attempts, outcome)
}

// Finish records a report and removes the check from the active set
func (v *View) Finish(report *proxy.Report) {
	delete(v.ActiveChecks, report.Address)
	v.Current++
	v.elapsed += report.Elapsed
	if !report.Result.IsWorking {
		v.Failed++
		return
	}
	v.Working++
	if report.Result.IsSSL {
		v.SSL++
	}
	v.Anonymity[report.Anonymity]++
}

// Percent is the completed share of the batch
func (v *View) Percent() float64 {
	if v.Total <= 0 {
		return 0
	}
	return float64(v.Current) / float64(v.Total)
}

// SuccessRate is the share of finished checks that found a working proxy
func (v *View) SuccessRate() float64 {
	if v.Current == 0 {
		return 0
	}
	return float64(v.Working) / float64(v.Current) * 100
}

// AvgElapsed is the mean check time
func (v *View) AvgElapsed() time.Duration {
	if v.Current == 0 {
		return 0
	}
	return v.elapsed / time.Duration(v.Current)
}

// SortedActive returns running checks oldest first
func (v *View) SortedActive() []*CheckStatus {
	list := make([]*CheckStatus, 0, len(v.ActiveChecks))
	for _, s := range v.ActiveChecks {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Started.Equal(list[j].Started) {
			return list[i].Proxy < list[j].Proxy
		}
		return list[i].Started.Before(list[j].Started)
	})
	return list
}

// IsValid checks if the View state is valid
func (v *View) IsValid() bool {
	return v.Total >= 0 &&
		v.Current >= 0 &&
		v.Current <= v.Total &&
		v.ActiveChecks != nil
}

// CheckStatus is a running check
type CheckStatus struct {
	Proxy    string
	Started  time.Time
	Attempts []proxy.ProbeOutcome
}
