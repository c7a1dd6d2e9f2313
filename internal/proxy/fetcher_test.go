package proxy

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/testhelpers"
)

func localFetcher(t *testing.T) *HTTPFetcher {
	t.Helper()
	j := testhelpers.NewJudgeServers(t)
	f := NewHTTPFetcher(Judges{
		IP:      JudgePair{HTTP: j.IP.URL, HTTPS: j.IPTLS.URL},
		Headers: JudgePair{HTTP: j.Headers.URL, HTTPS: j.HeadersTLS.URL},
	})
	f.InsecureSkipVerify = true
	f.UserAgent = "proxyjudge-test"
	return f
}

func TestHTTPFetcherThroughLocalProxies(t *testing.T) {
	f := localFetcher(t)
	httpProxy := testhelpers.NewHTTPProxy(t, nil)
	httpsProxy := testhelpers.NewHTTPSProxy(t)
	socksProxy := testhelpers.NewSOCKS5Proxy(t, "", "")

	tests := []struct {
		name     string
		address  string
		protocol Protocol
		useTLS   bool
	}{
		{"http plain", httpProxy, ProtocolHTTP, false},
		{"http connect", httpProxy, ProtocolHTTP, true},
		{"https proxy", httpsProxy, ProtocolHTTPS, false},
		{"socks5 plain", socksProxy, ProtocolSOCKS5, false},
		{"socks5 tls", socksProxy, ProtocolSOCKS5, true},
		{"socks5h plain", socksProxy, ProtocolSOCKS5H, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.FetchPublicIP(context.Background(), FetchOptions{
				ProxyAddress: tt.address,
				Protocol:     tt.protocol,
				Timeout:      5 * time.Second,
				UseTLS:       tt.useTLS,
			})
			if err != nil {
				t.Fatalf("FetchPublicIP() error = %v", err)
			}
			if got := FirstIP(res.IPReportBody); got != LoopbackIP {
				t.Errorf("observed ip = %q, want %s", got, LoopbackIP)
			}
			headers := ParseJudgeHeaders(res.JudgeHeadersBody)
			if headers["User-Agent"] != "proxyjudge-test" {
				t.Errorf("header judge saw %v", headers)
			}
		})
	}
}

func TestHTTPFetcherSOCKS5Auth(t *testing.T) {
	f := localFetcher(t)
	addr := testhelpers.NewSOCKS5Proxy(t, "user", "secret")

	opts := FetchOptions{
		ProxyAddress: addr,
		Protocol:     ProtocolSOCKS5,
		Username:     "user",
		Password:     "secret",
		Timeout:      5 * time.Second,
	}
	if _, err := f.FetchPublicIP(context.Background(), opts); err != nil {
		t.Fatalf("valid credentials: %v", err)
	}

	opts.Password = "wrong"
	_, err := f.FetchPublicIP(context.Background(), opts)
	if !errors.IsProbeError(err) {
		t.Fatalf("wrong credentials: got %v, want probe error", err)
	}
}

func TestHTTPFetcherProxyHeadersReachJudge(t *testing.T) {
	f := localFetcher(t)
	addr := testhelpers.NewHTTPProxy(t, func(r *http.Request) {
		r.Header.Set("Via", "1.1 local-test-proxy")
	})

	res, err := f.FetchPublicIP(context.Background(), FetchOptions{
		ProxyAddress: addr,
		Protocol:     ProtocolHTTP,
		Timeout:      5 * time.Second,
	})
	if err != nil {
		t.Fatalf("FetchPublicIP() error = %v", err)
	}
	grade := ClassifyAnonymity(nil, []JudgeReport{{Content: res.JudgeHeadersBody}}, "203.0.113.9")
	if grade != AnonymityAnonymous {
		t.Errorf("grade = %q, body %s", grade, res.JudgeHeadersBody)
	}
}

func TestHTTPFetcherFailures(t *testing.T) {
	httpProxy := testhelpers.NewHTTPProxy(t, nil)

	t.Run("judge non-2xx", func(t *testing.T) {
		bad := httptest.NewServer(testhelpers.StaticHandler(http.StatusForbidden, "denied"))
		defer bad.Close()
		f := NewHTTPFetcher(Judges{IP: JudgePair{HTTP: bad.URL}})

		_, err := f.FetchPublicIP(context.Background(), FetchOptions{
			ProxyAddress: httpProxy,
			Protocol:     ProtocolHTTP,
			Timeout:      2 * time.Second,
		})
		var probe *errors.ProbeError
		if !stderrors.As(err, &probe) {
			t.Fatalf("error = %v, want ProbeError", err)
		}
		if probe.Code != errors.ErrorHTTPUnexpectedStatus || probe.Protocol != "http" || probe.UseTLS {
			t.Errorf("probe error = %+v", probe)
		}
	})

	t.Run("header judge fails", func(t *testing.T) {
		ip := httptest.NewServer(testhelpers.IPJudgeHandler())
		defer ip.Close()
		bad := httptest.NewServer(testhelpers.StaticHandler(http.StatusInternalServerError, ""))
		defer bad.Close()
		f := NewHTTPFetcher(Judges{IP: JudgePair{HTTP: ip.URL}, Headers: JudgePair{HTTP: bad.URL}})

		_, err := f.FetchPublicIP(context.Background(), FetchOptions{
			ProxyAddress: httpProxy,
			Protocol:     ProtocolHTTP,
			Timeout:      2 * time.Second,
		})
		if !errors.IsProbeError(err) {
			t.Fatalf("error = %v, want ProbeError", err)
		}
	})

	t.Run("header judge skipped", func(t *testing.T) {
		ip := httptest.NewServer(testhelpers.IPJudgeHandler())
		defer ip.Close()
		f := NewHTTPFetcher(Judges{IP: JudgePair{HTTP: ip.URL}})

		res, err := f.FetchPublicIP(context.Background(), FetchOptions{
			ProxyAddress: httpProxy,
			Protocol:     ProtocolHTTP,
			Timeout:      2 * time.Second,
		})
		if err != nil {
			t.Fatalf("FetchPublicIP() error = %v", err)
		}
		if res.JudgeHeadersBody != "" {
			t.Errorf("JudgeHeadersBody = %q", res.JudgeHeadersBody)
		}
	})

	t.Run("dead proxy", func(t *testing.T) {
		f := localFetcher(t)
		closed := testhelpers.ClosedPort(t)
		for _, p := range AllProtocols() {
			_, err := f.FetchPublicIP(context.Background(), FetchOptions{
				ProxyAddress: closed,
				Protocol:     p,
				Timeout:      time.Second,
			})
			if !errors.IsProbeError(err) {
				t.Errorf("%s: error = %v, want ProbeError", p, err)
			}
		}
	})

	t.Run("unknown protocol", func(t *testing.T) {
		f := localFetcher(t)
		_, err := f.FetchPublicIP(context.Background(), FetchOptions{ProxyAddress: httpProxy, Protocol: Protocol(99)})
		if !errors.IsProbeError(err) {
			t.Errorf("error = %v, want ProbeError", err)
		}
	})
}

func TestHTTPFetcherCurrentIP(t *testing.T) {
	f := localFetcher(t)
	ip, err := f.CurrentIP(context.Background())
	if err != nil {
		t.Fatalf("CurrentIP() error = %v", err)
	}
	if ip != LoopbackIP {
		t.Errorf("CurrentIP() = %q", ip)
	}

	broken := NewHTTPFetcher(Judges{IP: JudgePair{HTTP: "http://" + testhelpers.ClosedPort(t)}})
	if _, err := broken.CurrentIP(context.Background()); err == nil {
		t.Error("expected error from unreachable judge")
	} else if !strings.Contains(err.Error(), "current ip") {
		t.Errorf("error = %v", err)
	}
}

func TestCheckerAgainstLocalProxy(t *testing.T) {
	f := localFetcher(t)
	addr := testhelpers.NewHTTPProxy(t, nil)
	c := NewChecker(f, f)

	report := c.Inspect(context.Background(), CheckerOptions{
		TargetAddress:  addr,
		TimeoutSeconds: 5,
	})
	if report.Error != "" {
		t.Fatalf("report error: %s", report.Error)
	}
	want := CheckerResult{IsWorking: true, IsSSL: true, WorkingProtocols: []string{"http"}}
	if report.Result.IsWorking != want.IsWorking || report.Result.IsSSL != want.IsSSL ||
		strings.Join(report.Result.WorkingProtocols, ",") != "http" {
		t.Errorf("Result = %+v, want %+v", report.Result, want)
	}
	// the judge sees our loopback address, so the grade is transparent
	if report.Anonymity != AnonymityTransparent {
		t.Errorf("Anonymity = %q", report.Anonymity)
	}
}

func TestIsPortOpen(t *testing.T) {
	srv := httptest.NewServer(testhelpers.StaticHandler(http.StatusOK, "ok"))
	defer srv.Close()
	host, port, _ := splitTarget(srv.Listener.Addr().String())

	if !IsPortOpen(context.Background(), host, port, time.Second) {
		t.Error("listening port reported closed")
	}

	host, port, _ = splitTarget(testhelpers.ClosedPort(t))
	if (TCPProber{}).IsPortOpen(context.Background(), host, port, time.Second) {
		t.Error("closed port reported open")
	}
	if IsPortOpen(context.Background(), host, 0, time.Second) {
		t.Error("port 0 reported open")
	}
}
