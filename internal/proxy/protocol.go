package proxy

import (
	"fmt"
	"strings"
)

// Protocol is one of the proxy protocols the checker can speak
type Protocol int

const (
	ProtocolHTTP Protocol = iota + 1
	ProtocolHTTPS
	ProtocolSOCKS4
	ProtocolSOCKS4A
	ProtocolSOCKS5
	ProtocolSOCKS5H
)

var protocolNames = map[Protocol]string{
	ProtocolHTTP:    "http",
	ProtocolHTTPS:   "https",
	ProtocolSOCKS4:  "socks4",
	ProtocolSOCKS4A: "socks4a",
	ProtocolSOCKS5:  "socks5",
	ProtocolSOCKS5H: "socks5h",
}

// AllProtocols returns every protocol in probing order
func AllProtocols() []Protocol {
	return []Protocol{
		ProtocolHTTP,
		ProtocolHTTPS,
		ProtocolSOCKS4,
		ProtocolSOCKS4A,
		ProtocolSOCKS5,
		ProtocolSOCKS5H,
	}
}

// ParseProtocol maps a protocol name to its constant
func ParseProtocol(s string) (Protocol, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for p, n := range protocolNames {
		if n == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unsupported protocol %q", s)
}

// ParseProtocols parses a comma separated list such as "http,socks5"
func ParseProtocols(list string) ([]Protocol, error) {
	var out []Protocol
	for _, field := range strings.Split(list, ",") {
		if strings.TrimSpace(field) == "" {
			continue
		}
		p, err := ParseProtocol(field)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return uniqueProtocols(out), nil
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

// Valid reports whether p is one of the declared protocols
func (p Protocol) Valid() bool {
	_, ok := protocolNames[p]
	return ok
}

// IsSOCKS reports whether p is tunnelled through a SOCKS handshake
func (p Protocol) IsSOCKS() bool {
	return p >= ProtocolSOCKS4 && p <= ProtocolSOCKS5H
}

// MarshalText implements encoding.TextMarshaler
func (p Protocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid protocol %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ProtocolNames renders a protocol list as strings
func ProtocolNames(protocols []Protocol) []string {
	names := make([]string, 0, len(protocols))
	for _, p := range protocols {
		names = append(names, p.String())
	}
	return names
}

func uniqueProtocols(in []Protocol) []Protocol {
	seen := make(map[Protocol]bool, len(in))
	out := make([]Protocol, 0, len(in))
	for _, p := range in {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
