package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"
	"h12.io/socks"
)

// DialFunc matches http.Transport.DialContext
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// configureTransport points transport at the proxy described by opts. HTTP and
// HTTPS proxies go through transport.Proxy; SOCKS variants replace the dialer.
func configureTransport(transport *http.Transport, opts FetchOptions) error {
	switch opts.Protocol {
	case ProtocolHTTP, ProtocolHTTPS:
		proxyURL := httpProxyURL(opts)
		transport.Proxy = http.ProxyURL(proxyURL)
		return nil
	case ProtocolSOCKS4, ProtocolSOCKS4A:
		transport.DialContext = socks4Dialer(opts)
		return nil
	case ProtocolSOCKS5, ProtocolSOCKS5H:
		dial, err := socks5Dialer(opts)
		if err != nil {
			return err
		}
		transport.DialContext = dial
		return nil
	default:
		return fmt.Errorf("unsupported protocol %s", opts.Protocol)
	}
}

func httpProxyURL(opts FetchOptions) *url.URL {
	scheme := "http"
	if opts.Protocol == ProtocolHTTPS {
		scheme = "https"
	}
	u := &url.URL{Scheme: scheme, Host: opts.ProxyAddress}
	if opts.Username != "" || opts.Password != "" {
		u.User = url.UserPassword(opts.Username, opts.Password)
	}
	return u
}

// socks4Dialer uses h12.io/socks. SOCKS4 resolves the target locally and
// SOCKS4A hands the hostname to the proxy; the library picks by scheme.
func socks4Dialer(opts FetchOptions) DialFunc {
	u := &url.URL{Scheme: "socks4", Host: opts.ProxyAddress}
	if opts.Protocol == ProtocolSOCKS4A {
		u.Scheme = "socks4a"
	}
	if opts.Username != "" {
		u.User = url.User(opts.Username)
	}
	if opts.Timeout > 0 {
		u.RawQuery = url.Values{"timeout": {opts.Timeout.String()}}.Encode()
	}
	dial := socks.Dial(u.String())

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type dialed struct {
			conn net.Conn
			err  error
		}
		ch := make(chan dialed, 1)
		go func() {
			conn, err := dial(network, addr)
			ch <- dialed{conn, err}
		}()
		select {
		case d := <-ch:
			return d.conn, d.err
		case <-ctx.Done():
			go func() {
				if d := <-ch; d.conn != nil {
					d.conn.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// socks5Dialer uses golang.org/x/net/proxy. The library always forwards the
// hostname, so plain SOCKS5 resolves it here first and sends an IP.
func socks5Dialer(opts FetchOptions) (DialFunc, error) {
	var auth *xproxy.Auth
	if opts.Username != "" || opts.Password != "" {
		auth = &xproxy.Auth{User: opts.Username, Password: opts.Password}
	}

	forward := &net.Dialer{Timeout: opts.Timeout}
	d, err := xproxy.SOCKS5("tcp", opts.ProxyAddress, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer: %w", err)
	}
	ctxDialer, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support contexts")
	}

	remoteResolve := opts.Protocol == ProtocolSOCKS5H
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !remoteResolve {
			resolved, err := resolveLocally(ctx, addr, opts.Timeout)
			if err != nil {
				return nil, err
			}
			addr = resolved
		}
		return ctxDialer.DialContext(ctx, network, addr)
	}, nil
}

func resolveLocally(ctx context.Context, addr string, timeout time.Duration) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", err
	}
	if net.ParseIP(host) != nil {
		return addr, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("resolve %s: no addresses", host)
	}
	return net.JoinHostPort(ips[0].String(), port), nil
}
