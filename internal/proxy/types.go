package proxy

import (
	"net"
	"strings"
	"time"
)

// Proxy is a candidate proxy as produced by the parser and keyed in the store
// by Address.
type Proxy struct {
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// HasAuth reports whether the proxy carries credentials
func (p Proxy) HasAuth() bool {
	return p.Username != "" || p.Password != ""
}

// Host returns the IP part of the address
func (p Proxy) Host() string {
	return hostOf(p.Address)
}

// String renders the proxy in the ip:port[@user:pass] form the parser reads
func (p Proxy) String() string {
	if !p.HasAuth() {
		return p.Address
	}
	return p.Address + "@" + p.Username + ":" + p.Password
}

func hostOf(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return strings.TrimSpace(address)
	}
	return host
}

const (
	// DefaultTimeoutSeconds bounds every network operation of a check
	DefaultTimeoutSeconds = 10

	// LoopbackIP is the client IP reported by a judge running on this host
	LoopbackIP = "127.0.0.1"
)

// CheckerOptions configures a single check. It is a closed set of options;
// call WithDefaults before use.
type CheckerOptions struct {
	Verbose        bool       `json:"verbose" yaml:"verbose"`
	TimeoutSeconds int        `json:"timeout_seconds" yaml:"timeout_seconds"`
	Protocols      []Protocol `json:"protocols" yaml:"protocols"`
	Username       string     `json:"username,omitempty" yaml:"username"`
	Password       string     `json:"password,omitempty" yaml:"password"`
	TargetAddress  string     `json:"target_address" yaml:"target_address"`

	// CurrentIP is the client's own public IP. Batch callers resolve it once
	// and pass it in; when empty the checker resolves it per check.
	CurrentIP string `json:"current_ip,omitempty" yaml:"current_ip"`
}

// WithDefaults returns a copy with the timeout and protocol list filled in and
// duplicate protocols removed, keeping the first occurrence.
func (o CheckerOptions) WithDefaults() CheckerOptions {
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if len(o.Protocols) == 0 {
		o.Protocols = AllProtocols()
	} else {
		o.Protocols = uniqueProtocols(o.Protocols)
	}
	o.TargetAddress = strings.TrimSpace(o.TargetAddress)
	return o
}

// ForProxy returns a copy of the options targeting p, taking p's credentials
// when it has any.
func (o CheckerOptions) ForProxy(p Proxy) CheckerOptions {
	o.TargetAddress = p.Address
	if p.HasAuth() {
		o.Username = p.Username
		o.Password = p.Password
	}
	return o
}

// Timeout returns the per-operation timeout
func (o CheckerOptions) Timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Classification is the verdict on a single protocol/TLS attempt
type Classification int

const (
	ClassificationFailed Classification = iota
	// ClassificationDirect means the judge saw the proxy's own IP.
	ClassificationDirect
	// ClassificationHighAnonymity means the judge saw neither our IP nor the
	// proxy's. This is counted as working although a proxy answering with an
	// unrelated or garbage IP lands here too; it is a known false positive.
	ClassificationHighAnonymity
)

func (c Classification) String() string {
	switch c {
	case ClassificationDirect:
		return "direct"
	case ClassificationHighAnonymity:
		return "high_anonymity"
	default:
		return "failed"
	}
}

// MarshalText implements encoding.TextMarshaler
func (c Classification) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ProbeOutcome records one protocol/TLS attempt within a check
type ProbeOutcome struct {
	Protocol       Protocol       `json:"protocol"`
	UseTLS         bool           `json:"use_tls"`
	ObservedIP     string         `json:"observed_ip,omitempty"`
	JudgeHeaders   string         `json:"judge_headers,omitempty"`
	Succeeded      bool           `json:"succeeded"`
	Classification Classification `json:"classification"`
	Err            error          `json:"-"`
	Duration       time.Duration  `json:"duration_ns"`

	ipReport string
}

// Error returns the attempt error message, if any
func (o ProbeOutcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// CheckerResult is the terminal output of one check, in the shape the
// persistence layer stores.
type CheckerResult struct {
	IsWorking        bool     `json:"is_working"`
	IsSSL            bool     `json:"is_ssl"`
	WorkingProtocols []string `json:"working_protocols"`
}

// AnonymityGrade is the anonymity of a working proxy. The empty grade means
// the judges gave nothing to decide on.
type AnonymityGrade string

const (
	AnonymityUnknown     AnonymityGrade = ""
	AnonymityTransparent AnonymityGrade = "transparent"
	AnonymityAnonymous   AnonymityGrade = "anonymous"
	AnonymityElite       AnonymityGrade = "elite"
)

// String returns the grade or "unknown"
func (g AnonymityGrade) String() string {
	if g == AnonymityUnknown {
		return "unknown"
	}
	return string(g)
}

// Report is everything learned while checking one proxy
type Report struct {
	Address   string         `json:"address"`
	ProxyIP   string         `json:"proxy_ip"`
	CurrentIP string         `json:"current_ip,omitempty"`
	Result    CheckerResult  `json:"result"`
	Anonymity AnonymityGrade `json:"anonymity"`
	Chain     string         `json:"chain,omitempty"`
	Outcomes  []ProbeOutcome `json:"outcomes,omitempty"`
	Error     string         `json:"error,omitempty"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
	CheckedAt time.Time      `json:"checked_at"`
}
