package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/armon/go-socks5"
	"github.com/elazarl/goproxy"
)

// WriteTempFile writes content to name inside a per-test directory
func WriteTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// LoadLines reads a file and returns its non-empty trimmed lines
func LoadLines(filename string) ([]string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// remoteIP is the client address as the judge sees it
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IPJudgeHandler echoes the caller's IP as plain text
func IPJudgeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(remoteIP(r)))
	})
}

// HeaderJudgeHandler echoes request headers in httpbin's {"headers": {...}} shape
func HeaderJudgeHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := make(map[string]string, len(r.Header))
		for name := range r.Header {
			headers[name] = r.Header.Get(name)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"headers": headers,
			"origin":  remoteIP(r),
		})
	})
}

// StaticHandler always answers with status and body
func StaticHandler(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

// JudgeServers is a plain and a TLS instance of an IP judge and a header judge
type JudgeServers struct {
	IP         *httptest.Server
	IPTLS      *httptest.Server
	Headers    *httptest.Server
	HeadersTLS *httptest.Server
}

// NewJudgeServers starts local judges and closes them when the test ends
func NewJudgeServers(t *testing.T) *JudgeServers {
	t.Helper()
	j := &JudgeServers{
		IP:         httptest.NewServer(IPJudgeHandler()),
		IPTLS:      httptest.NewTLSServer(IPJudgeHandler()),
		Headers:    httptest.NewServer(HeaderJudgeHandler()),
		HeadersTLS: httptest.NewTLSServer(HeaderJudgeHandler()),
	}
	t.Cleanup(func() {
		j.IP.Close()
		j.IPTLS.Close()
		j.Headers.Close()
		j.HeadersTLS.Close()
	})
	return j
}

// NewHTTPProxy starts a local forwarding proxy that accepts absolute-URI
// requests and CONNECT tunnels. It returns the proxy's host:port.
func NewHTTPProxy(t *testing.T, onRequest func(r *http.Request)) string {
	t.Helper()
	p := goproxy.NewProxyHttpServer()
	if onRequest != nil {
		p.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
			onRequest(r)
			return r, nil
		})
	}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().String()
}

// NewHTTPSProxy is NewHTTPProxy served over TLS
func NewHTTPSProxy(t *testing.T) string {
	t.Helper()
	srv := httptest.NewTLSServer(goproxy.NewProxyHttpServer())
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().String()
}

// NewSOCKS5Proxy starts a local SOCKS5 server. When username is set the
// server requires those credentials.
func NewSOCKS5Proxy(t *testing.T, username, password string) string {
	t.Helper()
	conf := &socks5.Config{}
	if username != "" {
		conf.Credentials = socks5.StaticCredentials{username: password}
	}
	server, err := socks5.New(conf)
	if err != nil {
		t.Fatalf("socks5 server: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go server.Serve(ln)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// ClosedPort returns a loopback address nothing listens on
func ClosedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}
