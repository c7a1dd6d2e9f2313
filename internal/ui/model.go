package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

const tickInterval = 100 * time.Millisecond

// Messages sent into the program by the batch run
type (
	CheckStartedMsg struct {
		Address string
		At      time.Time
	}
	AttemptMsg struct {
		Address string
		Outcome proxy.ProbeOutcome
	}
	ReportMsg struct {
		Report *proxy.Report
	}
	DebugMsg string
	DoneMsg  struct {
		Err error
	}
	tickMsg time.Time
)

// Model is the bubbletea model of a batch run
type Model struct {
	view   *View
	cancel context.CancelFunc
	err    error
}

// NewModel wraps a view. cancel is called when the operator quits early.
func NewModel(view *View, cancel context.CancelFunc) *Model {
	return &Model{view: view, cancel: cancel}
}

// Err is the error the batch finished with, if any
func (m *Model) Err() error {
	return m.err
}

func (m *Model) Init() tea.Cmd {
	return tick()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.view.Width = msg.Width
	case tickMsg:
		m.view.SpinnerIdx++
		if m.view.Done {
			return m, nil
		}
		return m, tick()
	case CheckStartedMsg:
		m.view.Start(msg.Address, msg.At)
	case AttemptMsg:
		m.view.Attempt(msg.Address, msg.Outcome)
	case ReportMsg:
		if msg.Report != nil {
			m.view.Finish(msg.Report)
		}
	case DebugMsg:
		m.view.AddDebugMessage(string(msg))
	case DoneMsg:
		m.view.Done = true
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) View() string {
	return m.view.Render()
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Sink forwards checker and worker callbacks into a running program. Pass
// (*tea.Program).Send as send.
type Sink struct {
	send func(tea.Msg)
}

// NewSink creates a sink
func NewSink(send func(tea.Msg)) *Sink {
	return &Sink{send: send}
}

// ReportAttempt implements proxy.AttemptReporter
func (s *Sink) ReportAttempt(address string, outcome proxy.ProbeOutcome) {
	s.send(AttemptMsg{Address: address, Outcome: outcome})
}

// CheckStarted matches worker.StartHandler
func (s *Sink) CheckStarted(p proxy.Proxy) {
	s.send(CheckStartedMsg{Address: p.Address, At: time.Now()})
}

// CheckFinished matches worker.ResultHandler
func (s *Sink) CheckFinished(_ proxy.Proxy, report *proxy.Report) {
	s.send(ReportMsg{Report: report})
}

// Debug adds a line to the debug log
func (s *Sink) Debug(msg string) {
	s.send(DebugMsg(msg))
}

// Done ends the program
func (s *Sink) Done(err error) {
	s.send(DoneMsg{Err: err})
}
