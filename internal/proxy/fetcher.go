package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
)

// maxJudgeBody caps how much of a judge response is read
const maxJudgeBody = 64 << 10

// FetchOptions selects the proxy and protocol for one fetch
type FetchOptions struct {
	ProxyAddress string
	Protocol     Protocol
	Username     string
	Password     string
	Timeout      time.Duration
	UseTLS       bool
}

// FetchResult holds the raw judge bodies seen through the proxy
type FetchResult struct {
	IPReportBody     string
	JudgeHeadersBody string
}

// Fetcher asks the judges what they see when reached through a proxy
type Fetcher interface {
	FetchPublicIP(ctx context.Context, opts FetchOptions) (*FetchResult, error)
}

// IPResolver reports the client's own public IP
type IPResolver interface {
	CurrentIP(ctx context.Context) (string, error)
}

// JudgePair is one judge reachable over plain HTTP and over TLS
type JudgePair struct {
	HTTP  string `yaml:"http" json:"http"`
	HTTPS string `yaml:"https" json:"https"`
}

// URL returns the endpoint for the requested mode
func (p JudgePair) URL(useTLS bool) string {
	if useTLS {
		return p.HTTPS
	}
	return p.HTTP
}

// Judges are the two echo endpoints a check talks to. Headers may be left
// empty to skip header collection.
type Judges struct {
	IP      JudgePair `yaml:"ip" json:"ip"`
	Headers JudgePair `yaml:"headers" json:"headers"`
}

// DefaultJudges returns public httpbin style judges
func DefaultJudges() Judges {
	return Judges{
		IP: JudgePair{
			HTTP:  "http://api.ipify.org",
			HTTPS: "https://api.ipify.org",
		},
		Headers: JudgePair{
			HTTP:  "http://httpbin.org/headers",
			HTTPS: "https://httpbin.org/headers",
		},
	}
}

// HTTPFetcher is the production Fetcher. It builds a fresh transport per call
// so no connection is ever shared between proxies.
type HTTPFetcher struct {
	Judges         Judges
	UserAgent      string
	DefaultHeaders map[string]string

	// InsecureSkipVerify disables judge certificate checks. Tests use it
	// against httptest TLS servers.
	InsecureSkipVerify bool
}

// NewHTTPFetcher creates a fetcher for the given judges
func NewHTTPFetcher(judges Judges) *HTTPFetcher {
	return &HTTPFetcher{Judges: judges}
}

// FetchPublicIP fetches the IP judge and then the header judge through the
// proxy. Any failure is returned as a *errors.ProbeError.
func (f *HTTPFetcher) FetchPublicIP(ctx context.Context, opts FetchOptions) (*FetchResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeoutSeconds * time.Second
	}
	ipURL := f.Judges.IP.URL(opts.UseTLS)
	probeErr := func(code errors.ErrorCode, url string, cause error) error {
		return errors.NewProbeError(code, opts.Protocol.String(), opts.UseTLS, url, cause)
	}

	if !opts.Protocol.Valid() {
		return nil, probeErr(errors.ErrorUnsupportedProtocol, ipURL, fmt.Errorf("unknown protocol %d", int(opts.Protocol)))
	}
	if ipURL == "" {
		return nil, probeErr(errors.ErrorProbeFailed, "", fmt.Errorf("no ip judge configured"))
	}

	transport := f.newTransport(opts.Timeout)
	defer transport.CloseIdleConnections()
	if err := configureTransport(transport, opts); err != nil {
		return nil, probeErr(errors.ErrorProxyConnectionFailed, ipURL, err)
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	result := &FetchResult{}
	body, code, err := f.get(ctx, client, ipURL)
	if err != nil {
		return nil, probeErr(code, ipURL, err)
	}
	result.IPReportBody = body

	if headersURL := f.Judges.Headers.URL(opts.UseTLS); headersURL != "" {
		body, code, err := f.get(ctx, client, headersURL)
		if err != nil {
			return nil, probeErr(code, headersURL, err)
		}
		result.JudgeHeadersBody = body
	}

	return result, nil
}

// CurrentIP asks the IP judge directly, HTTPS first then HTTP
func (f *HTTPFetcher) CurrentIP(ctx context.Context) (string, error) {
	timeout := DefaultTimeoutSeconds * time.Second
	transport := f.newTransport(timeout)
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport, Timeout: timeout}

	var lastErr error
	for _, useTLS := range []bool{true, false} {
		url := f.Judges.IP.URL(useTLS)
		if url == "" {
			continue
		}
		body, _, err := f.get(ctx, client, url)
		if err != nil {
			lastErr = err
			continue
		}
		if ip := FirstIP(body); ip != "" {
			return ip, nil
		}
		lastErr = fmt.Errorf("no ip in response from %s", url)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no ip judge configured")
	}
	return "", errors.NewCheckError(errors.ErrorCurrentIPUnavailable, "could not determine current ip", "", lastErr)
}

func (f *HTTPFetcher) newTransport(timeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		DisableKeepAlives:     true,
		ForceAttemptHTTP2:     false,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: f.InsecureSkipVerify,
		},
	}
}

func (f *HTTPFetcher) get(ctx context.Context, client *http.Client, url string) (string, errors.ErrorCode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.ErrorHTTPRequestFailed, err
	}
	for key, value := range f.DefaultHeaders {
		req.Header.Set(key, value)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", classifyTransportError(err), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJudgeBody))
	if err != nil {
		return "", errors.ErrorHTTPInvalidResponse, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.ErrorHTTPUnexpectedStatus, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return string(body), 0, nil
}

func classifyTransportError(err error) errors.ErrorCode {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return errors.ErrorConnectionTimeout
	case strings.Contains(msg, "connection refused"):
		return errors.ErrorConnectionRefused
	case strings.Contains(msg, "no such host"):
		return errors.ErrorDNSResolutionFailed
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return errors.ErrorTLSHandshakeFailed
	case strings.Contains(msg, "407"), strings.Contains(msg, "proxy authentication"):
		return errors.ErrorProxyAuthRequired
	default:
		return errors.ErrorProxyConnectionFailed
	}
}
