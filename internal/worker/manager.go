package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/logging"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/metrics"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/store"
)

// Inspector runs a single check. *proxy.Checker implements it.
type Inspector interface {
	Inspect(ctx context.Context, opts proxy.CheckerOptions) *proxy.Report
}

// ResultHandler is called from worker goroutines when a check completes.
// It must be safe for concurrent use.
type ResultHandler func(p proxy.Proxy, report *proxy.Report)

// StartHandler is called when a worker picks up a proxy
type StartHandler func(p proxy.Proxy)

// Summary describes a finished batch
type Summary struct {
	Total          int           `json:"total"`
	Checked        int           `json:"checked"`
	Working        int           `json:"working"`
	SSL            int           `json:"ssl"`
	Skipped        int           `json:"skipped"`
	Panics         int           `json:"panics"`
	CurrentIP      string        `json:"current_ip"`
	BudgetExceeded bool          `json:"budget_exceeded"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// SuccessRate is the share of checked proxies that work, in percent
func (s Summary) SuccessRate() float64 {
	if s.Checked == 0 {
		return 0
	}
	return float64(s.Working) / float64(s.Checked) * 100
}

// Manager handles worker pool management for proxy checking
type Manager struct {
	concurrency int
	maxDuration time.Duration
	limiter     *rate.Limiter

	inspector Inspector
	resolver  proxy.IPResolver
	store     store.Store
	metrics   *metrics.Collector
	logger    *logging.Logger
	onStart   StartHandler
}

// Option configures a Manager
type Option func(*Manager)

// WithConcurrency sets the number of workers
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithRateLimit bounds how many checks start per second across all workers.
// A non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(m *Manager) {
		if perSecond <= 0 {
			m.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithMaxDuration stops handing out new checks once d has elapsed. Checks
// already running are allowed to finish.
func WithMaxDuration(d time.Duration) Option {
	return func(m *Manager) {
		m.maxDuration = d
	}
}

// WithStore persists every report
func WithStore(s store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithMetrics records every report and the pool gauges
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithStartHandler registers a callback for checks being picked up
func WithStartHandler(h StartHandler) Option {
	return func(m *Manager) {
		m.onStart = h
	}
}

// NewManager creates a new worker manager. resolver may be nil when every
// template passed to Run already carries a CurrentIP.
func NewManager(inspector Inspector, resolver proxy.IPResolver, opts ...Option) *Manager {
	m := &Manager{
		concurrency: 10,
		inspector:   inspector,
		resolver:    resolver,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run checks every proxy and blocks until all started checks have finished.
// The client's own IP is resolved once for the whole batch; when that fails
// nothing is checked and an error is returned. Cancelling ctx stops new
// checks from starting.
func (m *Manager) Run(ctx context.Context, proxies []proxy.Proxy, template proxy.CheckerOptions, handler ResultHandler) (Summary, error) {
	started := time.Now()
	summary := Summary{Total: len(proxies)}
	template = template.WithDefaults()

	if template.CurrentIP == "" {
		if m.resolver == nil {
			return summary, errors.NewCheckError(errors.ErrorCurrentIPUnavailable, "no current ip and no resolver", "", nil)
		}
		ip, err := m.resolver.CurrentIP(ctx)
		if err != nil {
			m.logger.Error("Cannot determine current IP, nothing will be checked", "error", err)
			m.recordError("current_ip")
			return summary, err
		}
		template.CurrentIP = ip
	}
	summary.CurrentIP = template.CurrentIP

	concurrency := m.concurrency
	if concurrency > len(proxies) {
		concurrency = len(proxies)
	}
	m.logger.CheckStart(len(proxies), concurrency)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		panics    atomic.Int64
		budgetHit bool
	)
	jobs := make(chan proxy.Proxy)

	if m.metrics != nil {
		m.metrics.SetQueueSize(len(proxies))
		m.metrics.SetWorkersActive(concurrency)
		defer m.metrics.SetWorkersActive(0)
		defer m.metrics.SetQueueSize(0)
	}

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger := m.logger.WithWorker(workerID)
			logger.WorkerStart(workerID)
			defer logger.WorkerStop(workerID)

			for p := range jobs {
				report, ok := m.checkOne(ctx, logger, p, template)
				if !ok {
					panics.Add(1)
				}

				mu.Lock()
				summary.Checked++
				if report.Result.IsWorking {
					summary.Working++
					if report.Result.IsSSL {
						summary.SSL++
					}
				}
				mu.Unlock()

				if handler != nil {
					handler(p, report)
				}
			}
		}(i)
	}

	sent := m.feed(ctx, proxies, jobs, started, &budgetHit)
	wg.Wait()

	summary.Skipped = len(proxies) - sent
	summary.Panics = int(panics.Load())
	summary.BudgetExceeded = budgetHit
	summary.Elapsed = time.Since(started)
	m.logger.CheckComplete(summary.Checked, summary.Elapsed)

	if summary.Skipped > 0 {
		m.logger.Warn("Not every proxy was checked",
			"skipped", summary.Skipped,
			"budget_exceeded", budgetHit,
			"cancelled", ctx.Err() != nil)
	}
	return summary, nil
}

// feed hands proxies to the workers and returns how many were handed out
func (m *Manager) feed(ctx context.Context, proxies []proxy.Proxy, jobs chan<- proxy.Proxy, started time.Time, budgetHit *bool) int {
	defer close(jobs)

	var budget <-chan time.Time
	if m.maxDuration > 0 {
		timer := time.NewTimer(m.maxDuration - time.Since(started))
		defer timer.Stop()
		budget = timer.C
	}

	exhausted := func(i int) int {
		*budgetHit = true
		m.logger.Warn("Time budget exhausted, no new checks will start", "max_duration", m.maxDuration)
		return i
	}

	for i, p := range proxies {
		// Cancellation and a spent budget win over an idle worker.
		select {
		case <-ctx.Done():
			return i
		case <-budget:
			return exhausted(i)
		default:
		}
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return i
			}
		}
		select {
		case <-ctx.Done():
			return i
		case <-budget:
			return exhausted(i)
		case jobs <- p:
			if m.metrics != nil {
				m.metrics.SetQueueSize(len(proxies) - i - 1)
			}
		}
	}
	return len(proxies)
}

// checkOne runs one check with panic recovery. The bool is false when the
// check panicked; the report then says not working.
func (m *Manager) checkOne(ctx context.Context, logger *logging.Logger, p proxy.Proxy, template proxy.CheckerOptions) (report *proxy.Report, ok bool) {
	opts := template.ForProxy(p)

	if m.onStart != nil {
		m.onStart(p)
	}
	if m.metrics != nil {
		m.metrics.AddActiveChecks(1)
		defer m.metrics.AddActiveChecks(-1)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Check panicked", "proxy", p.Address, "panic", r, "stack", string(debug.Stack()))
			m.recordError("panic")
			report = &proxy.Report{
				Address:   p.Address,
				Result:    proxy.Aggregate(false, false, nil),
				Error:     errors.NewSystemError(errors.ErrorUnexpectedPanic, fmt.Sprintf("check panicked: %v", r), nil).Error(),
				CheckedAt: time.Now(),
			}
			ok = false
		}
		m.persist(ctx, logger, p, report)
		if m.metrics != nil {
			m.metrics.RecordReport(report)
		}
	}()

	report = m.inspector.Inspect(ctx, opts)
	if report.Result.IsWorking {
		logger.ProxyWorking(p.Address, report.Result.IsSSL, report.Result.WorkingProtocols, report.Anonymity.String())
	} else {
		logger.ProxyDead(p.Address, report.Error)
	}
	return report, true
}

func (m *Manager) persist(ctx context.Context, logger *logging.Logger, p proxy.Proxy, report *proxy.Report) {
	if m.store == nil {
		return
	}
	// Persist even after cancellation so finished work is not lost.
	ctx = context.WithoutCancel(ctx)

	update := store.UpdateFromReport(report).WithCredentials(p)
	if err := m.store.UpdateData(ctx, p.Address, update); err != nil {
		logger.Error("Failed to persist check result", "proxy", p.Address, "error", err)
		m.storeFailed()
		return
	}
	if err := m.store.UpdateStatus(ctx, p.Address, store.StatusFor(report.Result)); err != nil {
		logger.Error("Failed to persist proxy status", "proxy", p.Address, "error", err)
		m.storeFailed()
	}
}

func (m *Manager) recordError(kind string) {
	if m.metrics != nil {
		m.metrics.RecordError(kind)
	}
}

func (m *Manager) storeFailed() {
	if m.metrics != nil {
		m.metrics.RecordStoreFailure()
	}
}
