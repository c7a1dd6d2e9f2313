package proxy

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Prober is a cheap reachability pre-filter run before any protocol handshake
type Prober interface {
	IsPortOpen(ctx context.Context, ip string, port int, timeout time.Duration) bool
}

// TCPProber performs a single TCP connect with a timeout. Errors of any kind
// (refused, timeout, unreachable) mean closed; there is no retry.
type TCPProber struct{}

// IsPortOpen implements Prober
func (TCPProber) IsPortOpen(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	return IsPortOpen(ctx, ip, port, timeout)
}

// IsPortOpen reports whether a TCP connection to ip:port succeeds within
// timeout.
func IsPortOpen(ctx context.Context, ip string, port int, timeout time.Duration) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultTimeoutSeconds * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
