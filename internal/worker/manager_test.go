package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/metrics"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/store"
)

const testCurrentIP = "123.123.123.123"

// fakeInspector reports every proxy whose address is in working as working
// over plain http.
type fakeInspector struct {
	working map[string]bool
	panicOn string
	delay   time.Duration

	mu   sync.Mutex
	seen []proxy.CheckerOptions
}

func (f *fakeInspector) Inspect(ctx context.Context, opts proxy.CheckerOptions) *proxy.Report {
	f.mu.Lock()
	f.seen = append(f.seen, opts)
	f.mu.Unlock()

	if opts.TargetAddress == f.panicOn {
		panic("boom")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	report := &proxy.Report{
		Address:   opts.TargetAddress,
		CurrentIP: opts.CurrentIP,
		Result:    proxy.Aggregate(false, false, nil),
		CheckedAt: time.Now(),
	}
	if f.working[opts.TargetAddress] {
		report.Result = proxy.Aggregate(true, true, []string{"http"})
		report.Anonymity = proxy.AnonymityElite
	}
	return report
}

func (f *fakeInspector) calls() []proxy.CheckerOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]proxy.CheckerOptions(nil), f.seen...)
}

type countingResolver struct {
	ip    string
	err   error
	calls atomic.Int32
}

func (r *countingResolver) CurrentIP(context.Context) (string, error) {
	r.calls.Add(1)
	return r.ip, r.err
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*store.Record
	fail    bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*store.Record)}
}

func (s *memoryStore) record(address string) *store.Record {
	rec, ok := s.records[address]
	if !ok {
		rec = &store.Record{Address: address}
		s.records[address] = rec
	}
	return rec
}

func (s *memoryStore) Select(_ context.Context, address string) (*store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[address]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *memoryStore) UpdateData(_ context.Context, address string, u store.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return stderrors.New("disk full")
	}
	rec := s.record(address)
	if u.Working != nil {
		rec.Working = *u.Working
	}
	if u.SSL != nil {
		rec.SSL = *u.SSL
	}
	if u.Protocols != nil {
		rec.Protocols = u.Protocols
	}
	if u.Username != nil {
		rec.Username = *u.Username
	}
	return nil
}

func (s *memoryStore) UpdateStatus(_ context.Context, address string, status store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return stderrors.New("disk full")
	}
	s.record(address).Status = status
	return nil
}

func (s *memoryStore) Close() error { return nil }

func makeProxies(n int) []proxy.Proxy {
	proxies := make([]proxy.Proxy, n)
	for i := range proxies {
		proxies[i] = proxy.Proxy{Address: fmt.Sprintf("10.0.0.%d:8080", i+1)}
	}
	return proxies
}

func TestRunChecksEveryProxy(t *testing.T) {
	proxies := makeProxies(5)
	proxies[1].Username, proxies[1].Password = "user", "pass"

	inspector := &fakeInspector{working: map[string]bool{
		proxies[0].Address: true,
		proxies[1].Address: true,
	}}
	resolver := &countingResolver{ip: testCurrentIP}
	st := newMemoryStore()

	var (
		mu      sync.Mutex
		handled = map[string]bool{}
	)
	m := NewManager(inspector, resolver, WithConcurrency(3), WithStore(st))
	summary, err := m.Run(context.Background(), proxies, proxy.CheckerOptions{Username: "global"}, func(p proxy.Proxy, r *proxy.Report) {
		mu.Lock()
		handled[p.Address] = r.Result.IsWorking
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Total != 5 || summary.Checked != 5 || summary.Working != 2 || summary.SSL != 2 || summary.Skipped != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.CurrentIP != testCurrentIP {
		t.Errorf("CurrentIP = %q", summary.CurrentIP)
	}
	if got := resolver.calls.Load(); got != 1 {
		t.Errorf("resolver called %d times, want once per batch", got)
	}
	if len(handled) != 5 {
		t.Errorf("handler saw %d proxies", len(handled))
	}

	for _, opts := range inspector.calls() {
		if opts.CurrentIP != testCurrentIP {
			t.Errorf("%s checked with CurrentIP %q", opts.TargetAddress, opts.CurrentIP)
		}
		want := "global"
		if opts.TargetAddress == proxies[1].Address {
			want = "user"
		}
		if opts.Username != want {
			t.Errorf("%s checked with username %q, want %q", opts.TargetAddress, opts.Username, want)
		}
	}

	rec, _ := st.Select(context.Background(), proxies[0].Address)
	if rec == nil || !rec.Working || rec.Status != store.StatusAlive {
		t.Errorf("stored working record = %+v", rec)
	}
	rec, _ = st.Select(context.Background(), proxies[4].Address)
	if rec == nil || rec.Working || rec.Status != store.StatusDead {
		t.Errorf("stored dead record = %+v", rec)
	}
	rec, _ = st.Select(context.Background(), proxies[1].Address)
	if rec == nil || rec.Username != "user" {
		t.Errorf("stored credentials = %+v", rec)
	}
}

func TestRunResolverFailure(t *testing.T) {
	inspector := &fakeInspector{}
	resolver := &countingResolver{err: stderrors.New("no route")}

	m := NewManager(inspector, resolver)
	summary, err := m.Run(context.Background(), makeProxies(3), proxy.CheckerOptions{}, nil)
	if err == nil {
		t.Fatal("Run() error = nil, want resolver failure")
	}
	if summary.Checked != 0 || len(inspector.calls()) != 0 {
		t.Errorf("checks ran despite resolver failure: %+v", summary)
	}
}

func TestRunUsesProvidedCurrentIP(t *testing.T) {
	inspector := &fakeInspector{}

	m := NewManager(inspector, nil)
	summary, err := m.Run(context.Background(), makeProxies(2), proxy.CheckerOptions{CurrentIP: "1.1.1.1"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Checked != 2 || summary.CurrentIP != "1.1.1.1" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunNoResolver(t *testing.T) {
	m := NewManager(&fakeInspector{}, nil)
	if _, err := m.Run(context.Background(), makeProxies(1), proxy.CheckerOptions{}, nil); err == nil {
		t.Fatal("Run() error = nil without resolver or current ip")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	proxies := makeProxies(4)
	inspector := &fakeInspector{panicOn: proxies[2].Address}
	collector := metrics.NewCollector()

	var (
		mu      sync.Mutex
		reports = map[string]*proxy.Report{}
	)
	m := NewManager(inspector, nil, WithConcurrency(2), WithMetrics(collector))
	summary, err := m.Run(context.Background(), proxies, proxy.CheckerOptions{CurrentIP: testCurrentIP}, func(p proxy.Proxy, r *proxy.Report) {
		mu.Lock()
		reports[p.Address] = r
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Checked != 4 || summary.Panics != 1 {
		t.Errorf("summary = %+v", summary)
	}
	r := reports[proxies[2].Address]
	if r == nil || r.Result.IsWorking || r.Error == "" {
		t.Errorf("panicked report = %+v", r)
	}
	if r != nil && r.Result.WorkingProtocols == nil {
		t.Error("panicked report has nil protocol list")
	}
	if got := counterValue(t, collector, "proxyjudge_proxies_checked_total"); got != 4 {
		t.Errorf("proxies checked metric = %v, want 4", got)
	}
}

func TestRunStopsAtMaxDuration(t *testing.T) {
	inspector := &fakeInspector{delay: 40 * time.Millisecond}

	m := NewManager(inspector, nil, WithConcurrency(1), WithMaxDuration(100*time.Millisecond))
	summary, err := m.Run(context.Background(), makeProxies(20), proxy.CheckerOptions{CurrentIP: testCurrentIP}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !summary.BudgetExceeded {
		t.Error("BudgetExceeded = false")
	}
	if summary.Checked == 0 || summary.Checked >= 20 {
		t.Errorf("Checked = %d, want some but not all", summary.Checked)
	}
	if summary.Checked+summary.Skipped != 20 {
		t.Errorf("checked %d + skipped %d != 20", summary.Checked, summary.Skipped)
	}
}

func TestRunRateLimit(t *testing.T) {
	inspector := &fakeInspector{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	m := NewManager(inspector, nil, WithRateLimit(1, 1))
	summary, err := m.Run(ctx, makeProxies(3), proxy.CheckerOptions{CurrentIP: testCurrentIP}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Checked != 1 || summary.Skipped != 2 {
		t.Errorf("summary = %+v, want one check before the limiter blocks", summary)
	}
}

func TestRunCancelled(t *testing.T) {
	inspector := &fakeInspector{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(inspector, nil)
	summary, err := m.Run(ctx, makeProxies(5), proxy.CheckerOptions{CurrentIP: testCurrentIP}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Checked != 0 || summary.Skipped != 5 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunStoreFailureIsNotFatal(t *testing.T) {
	st := newMemoryStore()
	st.fail = true
	collector := metrics.NewCollector()

	m := NewManager(&fakeInspector{}, nil, WithStore(st), WithMetrics(collector))
	summary, err := m.Run(context.Background(), makeProxies(2), proxy.CheckerOptions{CurrentIP: testCurrentIP}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Checked != 2 {
		t.Errorf("Checked = %d", summary.Checked)
	}
	if got := counterValue(t, collector, "proxyjudge_store_failures_total"); got != 2 {
		t.Errorf("store failures = %v, want 2", got)
	}
}

func TestRunEmpty(t *testing.T) {
	m := NewManager(&fakeInspector{}, nil)
	summary, err := m.Run(context.Background(), nil, proxy.CheckerOptions{CurrentIP: testCurrentIP}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total != 0 || summary.Checked != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.SuccessRate() != 0 {
		t.Errorf("SuccessRate() = %v", summary.SuccessRate())
	}
}

func TestRunStartHandler(t *testing.T) {
	var started atomic.Int32
	m := NewManager(&fakeInspector{}, nil, WithStartHandler(func(proxy.Proxy) { started.Add(1) }))
	if _, err := m.Run(context.Background(), makeProxies(3), proxy.CheckerOptions{CurrentIP: testCurrentIP}, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if started.Load() != 3 {
		t.Errorf("start handler called %d times", started.Load())
	}
}

func counterValue(t *testing.T, c *metrics.Collector, name string) float64 {
	t.Helper()
	families, err := c.GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}
