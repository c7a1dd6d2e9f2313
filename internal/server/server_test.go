package server

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/metrics"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

const testCurrentIP = "203.0.113.50"

type fakeInspector struct {
	working map[string]bool

	mu   sync.Mutex
	seen []proxy.CheckerOptions
}

func (f *fakeInspector) Inspect(ctx context.Context, opts proxy.CheckerOptions) *proxy.Report {
	f.mu.Lock()
	f.seen = append(f.seen, opts)
	f.mu.Unlock()

	report := &proxy.Report{
		Address:   opts.TargetAddress,
		CurrentIP: opts.CurrentIP,
		Result:    proxy.Aggregate(false, false, nil),
		CheckedAt: time.Now(),
	}
	if f.working[opts.TargetAddress] {
		report.Result = proxy.Aggregate(true, false, []string{"http"})
		report.Anonymity = proxy.AnonymityAnonymous
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
	delay time.Duration
	calls atomic.Int32
}

func (r *countingResolver) CurrentIP(ctx context.Context) (string, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return r.ip, r.err
}

func newTestServer(t *testing.T, inspector *fakeInspector, resolver *countingResolver, opts Options, options ...Option) (*Server, *httptest.Server) {
	t.Helper()
	if opts.CurrentIPTTL == 0 {
		opts.CurrentIPTTL = time.Minute
	}
	s := New(inspector, resolver, opts, options...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func post(t *testing.T, url, contentType, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, contentType, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestCheckSingleProxy(t *testing.T) {
	inspector := &fakeInspector{working: map[string]bool{"1.2.3.4:8080": true}}
	resolver := &countingResolver{ip: testCurrentIP}
	_, ts := newTestServer(t, inspector, resolver, Options{})

	resp, body := post(t, ts.URL+"/api/check", "application/json",
		`{"proxy":"1.2.3.4:8080@alice:secret","protocols":["socks5","http"],"timeout_seconds":3}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var got CheckResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Reports) != 1 || !got.Reports[0].Result.IsWorking {
		t.Fatalf("reports = %+v", got.Reports)
	}
	if got.Summary.Working != 1 || got.Summary.CurrentIP != testCurrentIP {
		t.Errorf("summary = %+v", got.Summary)
	}

	calls := inspector.calls()
	if len(calls) != 1 {
		t.Fatalf("inspector called %d times", len(calls))
	}
	opts := calls[0]
	if opts.Username != "alice" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if opts.TimeoutSeconds != 3 || len(opts.Protocols) != 2 || opts.Protocols[0] != proxy.ProtocolSOCKS5 {
		t.Errorf("options = %+v", opts)
	}
	if opts.CurrentIP != testCurrentIP {
		t.Errorf("CurrentIP = %q", opts.CurrentIP)
	}
}

func TestCheckBatchKeepsOrderAndCachesIP(t *testing.T) {
	inspector := &fakeInspector{working: map[string]bool{"5.6.7.8:3128": true}}
	resolver := &countingResolver{ip: testCurrentIP}
	_, ts := newTestServer(t, inspector, resolver, Options{Concurrency: 4})

	for i := 0; i < 3; i++ {
		resp, body := post(t, ts.URL+"/api/check", "application/json",
			`{"proxies":["9.9.9.9:80","5.6.7.8:3128","9.9.9.9:80","1.1.1.1:1080"]}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
		}
		var got CheckResponse
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatal(err)
		}
		var order []string
		for _, r := range got.Reports {
			order = append(order, r.Address)
		}
		if strings.Join(order, ",") != "9.9.9.9:80,5.6.7.8:3128,1.1.1.1:1080" {
			t.Errorf("order = %v", order)
		}
	}

	if n := resolver.calls.Load(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
}

func TestCheckRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t, &fakeInspector{}, &countingResolver{ip: testCurrentIP}, Options{MaxBatch: 2})

	tests := []struct {
		name   string
		body   string
		status int
		code   errors.ErrorCode
	}{
		{"invalid json", `{"proxy":`, http.StatusBadRequest, errors.ErrorRequestInvalid},
		{"no proxy", `{}`, http.StatusBadRequest, errors.ErrorRequestInvalid},
		{"not an address", `{"proxy":"hello"}`, http.StatusBadRequest, errors.ErrorRequestInvalid},
		{"bad protocol", `{"proxy":"1.2.3.4:80","protocols":["gopher"]}`, http.StatusBadRequest, errors.ErrorRequestInvalid},
		{"timeout too large", `{"proxy":"1.2.3.4:80","timeout_seconds":600}`, http.StatusBadRequest, errors.ErrorRequestInvalid},
		{"batch too large", `{"proxies":["1.1.1.1:80","2.2.2.2:80","3.3.3.3:80"]}`, http.StatusBadRequest, errors.ErrorRequestTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, ts.URL+"/api/check", "application/json", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.status, body)
			}
			var got errorResponse
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatal(err)
			}
			if got.Code != tt.code || got.Error == "" {
				t.Errorf("error = %+v, want code %d", got, tt.code)
			}
		})
	}
}

func TestCheckCurrentIPUnavailable(t *testing.T) {
	resolver := &countingResolver{err: errors.NewCheckError(errors.ErrorCurrentIPUnavailable, "no ip", "", nil)}
	inspector := &fakeInspector{}
	_, ts := newTestServer(t, inspector, resolver, Options{})

	resp, body := post(t, ts.URL+"/api/check", "application/json", `{"proxy":"1.2.3.4:80"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var got errorResponse
	json.Unmarshal(body, &got)
	if got.Code != errors.ErrorCurrentIPUnavailable {
		t.Errorf("code = %d", got.Code)
	}
	if len(inspector.calls()) != 0 {
		t.Error("nothing should be checked without a current IP")
	}
}

func TestBodyTooLarge(t *testing.T) {
	_, ts := newTestServer(t, &fakeInspector{}, &countingResolver{ip: testCurrentIP}, Options{MaxBodyBytes: 64})

	resp, body := post(t, ts.URL+"/api/extract", "text/plain", strings.Repeat("1.2.3.4:80\n", 20))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
}

func TestExtract(t *testing.T) {
	_, ts := newTestServer(t, &fakeInspector{}, &countingResolver{ip: testCurrentIP}, Options{})

	tests := []struct {
		name        string
		url         string
		contentType string
		body        string
		want        []string
	}{
		{
			name:        "plain text",
			url:         "/api/extract",
			contentType: "text/plain",
			body:        "noise 1.2.3.4:8080 more\n5.6.7.8 3128\n1.2.3.4:8080",
			want:        []string{"1.2.3.4:8080", "5.6.7.8:3128"},
		},
		{
			name:        "html table",
			url:         "/api/extract",
			contentType: "text/html; charset=utf-8",
			body:        "<table><tr><td>9.8.7.6</td><td>1080</td></tr></table>",
			want:        []string{"9.8.7.6:1080"},
		},
		{
			name:        "limit",
			url:         "/api/extract?limit=1",
			contentType: "text/plain",
			body:        "1.1.1.1:80 2.2.2.2:80",
			want:        []string{"1.1.1.1:80"},
		},
		{
			name:        "nothing found",
			url:         "/api/extract",
			contentType: "text/plain",
			body:        "nothing here",
			want:        nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := post(t, ts.URL+tt.url, tt.contentType, tt.body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
			}
			var got ExtractResponse
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatal(err)
			}
			if got.Count != len(tt.want) || got.Proxies == nil {
				t.Fatalf("got %+v, want %v", got, tt.want)
			}
			for i, addr := range tt.want {
				if got.Proxies[i].Address != addr {
					t.Errorf("proxies[%d] = %s, want %s", i, got.Proxies[i].Address, addr)
				}
			}
		})
	}

	resp, _ := post(t, ts.URL+"/api/extract?limit=abc", "text/plain", "1.1.1.1:80")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", resp.StatusCode)
	}
}

func TestClassify(t *testing.T) {
	resolver := &countingResolver{ip: testCurrentIP}
	_, ts := newTestServer(t, &fakeInspector{}, resolver, Options{})

	tests := []struct {
		name    string
		req     ClassifyRequest
		grade   proxy.AnonymityGrade
		headers int
	}{
		{
			name:  "transparent via ip judge",
			req:   ClassifyRequest{IPReports: []string{testCurrentIP}},
			grade: proxy.AnonymityTransparent,
		},
		{
			name:    "anonymous via header",
			req:     ClassifyRequest{IPReports: []string{"8.8.8.8"}, JudgeReports: []string{"Via: 1.1 squid"}, RealIP: "10.0.0.1"},
			grade:   proxy.AnonymityAnonymous,
			headers: 1,
		},
		{
			name:  "elite",
			req:   ClassifyRequest{IPReports: []string{`{"origin":"8.8.8.8"}`}, JudgeReports: []string{"Accept: */*"}},
			grade: proxy.AnonymityElite,
		},
		{
			name:  "unknown",
			req:   ClassifyRequest{},
			grade: proxy.AnonymityUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, _ := json.Marshal(tt.req)
			resp, body := post(t, ts.URL+"/api/classify", "application/json", string(data))
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
			}
			var got ClassifyResponse
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatal(err)
			}
			if got.Anonymity != tt.grade || got.Grade != tt.grade.String() {
				t.Errorf("grade = %q/%q, want %q", got.Anonymity, got.Grade, tt.grade)
			}
			if len(got.ProxyHeaders) != tt.headers {
				t.Errorf("proxy headers = %v", got.ProxyHeaders)
			}
		})
	}

	if n := resolver.calls.Load(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
}

func TestClassifyReportsChain(t *testing.T) {
	_, ts := newTestServer(t, &fakeInspector{}, &countingResolver{ip: testCurrentIP}, Options{})

	data, _ := json.Marshal(ClassifyRequest{
		JudgeReports: []string{"Via: 1.1 a, 1.1 b\nX-Forwarded-For: 1.1.1.1"},
		RealIP:       "10.0.0.1",
	})
	_, body := post(t, ts.URL+"/api/classify", "application/json", string(data))
	var got ClassifyResponse
	json.Unmarshal(body, &got)
	if got.Chain == "" {
		t.Errorf("expected a chain description, got %+v", got)
	}
}

func TestCurrentIPAndHealth(t *testing.T) {
	resolver := &countingResolver{ip: testCurrentIP}
	_, ts := newTestServer(t, &fakeInspector{}, resolver, Options{})

	getJSON := func(path string) map[string]interface{} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, resp.StatusCode)
		}
		var m map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&m)
		return m
	}

	if h := getJSON("/health"); h["status"] != "healthy" || h["current_ip_ready"] != false {
		t.Errorf("health = %v", h)
	}
	if got := getJSON("/api/current-ip"); got["current_ip"] != testCurrentIP {
		t.Errorf("current ip = %v", got)
	}
	getJSON("/api/current-ip")
	if h := getJSON("/health"); h["current_ip_ready"] != true {
		t.Errorf("health = %v", h)
	}
	getJSON("/api/current-ip?refresh=1")
	if n := resolver.calls.Load(); n != 2 {
		t.Errorf("resolver called %d times, want 2", n)
	}

	resp, err := http.Get(ts.URL + "/api/check")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/check status = %d", resp.StatusCode)
	}
}

func TestMetricsRoute(t *testing.T) {
	collector := metrics.NewCollector()
	inspector := &fakeInspector{working: map[string]bool{"1.2.3.4:80": true}}
	_, ts := newTestServer(t, inspector, &countingResolver{ip: testCurrentIP}, Options{}, WithMetrics(collector))

	post(t, ts.URL+"/api/check", "application/json", `{"proxy":"1.2.3.4:80"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "proxyjudge_proxies_working_total 1") {
		t.Errorf("metrics output missing working counter:\n%s", body)
	}
}

func TestNoMetricsRouteWithoutCollector(t *testing.T) {
	_, ts := newTestServer(t, &fakeInspector{}, &countingResolver{ip: testCurrentIP}, Options{})
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketStream(t *testing.T) {
	inspector := &fakeInspector{working: map[string]bool{"1.2.3.4:80": true}}
	s, ts := newTestServer(t, inspector, &countingResolver{ip: testCurrentIP}, Options{})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() Message {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != MessageWelcome {
		t.Fatalf("first message = %s, want welcome", msg.Type)
	}
	waitFor(t, func() bool { return s.Hub().Clients() == 1 })

	post(t, ts.URL+"/api/check", "application/json", `{"proxies":["1.2.3.4:80","5.5.5.5:80"]}`)

	reports := 0
	for {
		msg := read()
		if msg.Type == MessageSummary {
			break
		}
		if msg.Type != MessageReport {
			t.Fatalf("unexpected message %s", msg.Type)
		}
		var report proxy.Report
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			t.Fatal(err)
		}
		reports++
	}
	if reports != 2 {
		t.Errorf("streamed %d reports, want 2", reports)
	}

	s.Hub().Close()
	waitFor(t, func() bool { return s.Hub().Clients() == 0 })
}

func TestStartAndShutdown(t *testing.T) {
	s := New(&fakeInspector{}, &countingResolver{ip: testCurrentIP}, Options{})
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start("127.0.0.1:0"); err == nil {
		t.Error("second Start() should fail")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/health", s.Addr()))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if s.Addr() != "" {
		t.Error("Addr() should be empty after shutdown")
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestIPCache(t *testing.T) {
	resolver := &countingResolver{ip: testCurrentIP}
	cache := NewIPCache(resolver, time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ip, err := cache.CurrentIP(context.Background())
		if err != nil || ip != testCurrentIP {
			t.Fatalf("CurrentIP() = %q, %v", ip, err)
		}
	}
	if n := resolver.calls.Load(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}

	now = now.Add(2 * time.Minute)
	cache.CurrentIP(context.Background())
	if n := resolver.calls.Load(); n != 2 {
		t.Errorf("expired entry not refreshed, calls = %d", n)
	}

	cache.Invalidate()
	if _, ok := cache.Peek(); ok {
		t.Error("Peek() after Invalidate should miss")
	}
}

func TestIPCacheCollapsesConcurrentMisses(t *testing.T) {
	resolver := &countingResolver{ip: testCurrentIP, delay: 50 * time.Millisecond}
	cache := NewIPCache(resolver, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ip, err := cache.CurrentIP(context.Background()); err != nil || ip != testCurrentIP {
				t.Errorf("CurrentIP() = %q, %v", ip, err)
			}
		}()
	}
	wg.Wait()

	if n := resolver.calls.Load(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
}

func TestIPCacheDoesNotCacheErrors(t *testing.T) {
	resolver := &countingResolver{err: stderrors.New("offline")}
	cache := NewIPCache(resolver, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.CurrentIP(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	}
	if n := resolver.calls.Load(); n != 2 {
		t.Errorf("resolver called %d times, want 2", n)
	}
}

func TestIPCacheCallerCancel(t *testing.T) {
	resolver := &countingResolver{ip: testCurrentIP, delay: 200 * time.Millisecond}
	cache := NewIPCache(resolver, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cache.CurrentIP(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}

	// The detached lookup still completes and fills the cache.
	waitFor(t, func() bool {
		_, ok := cache.Peek()
		return ok
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
