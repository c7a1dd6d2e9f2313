package parser

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/validation"
)

// DefaultLimit caps the number of proxies returned from one input
const DefaultLimit = 1000

var (
	authRegex       = regexp.MustCompile(`([^\s@"'<>,;=(){}\[\]/]+)@([^\s@"'<>,;=(){}\[\]/]+)`)
	whitespaceRegex = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})[ \t]+(\d{1,5})`)
	jsonObjectRegex = regexp.MustCompile(`\{[^{}]*\}`)
	bareRegex       = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3}):(\d{1,5})`)
	ipRegex         = regexp.MustCompile(`\d{1,3}(?:\.\d{1,3}){3}`)
)

// Extractor pulls proxy candidates out of noisy text. The zero value is
// ready to use.
type Extractor struct {
	// OnCredentials, when set, is called once for every returned proxy that
	// carried credentials.
	OnCredentials func(proxy.Proxy)

	validator *validation.AddressValidator
}

// NewExtractor creates an extractor with an optional credentials callback
func NewExtractor(onCredentials func(proxy.Proxy)) *Extractor {
	return &Extractor{OnCredentials: onCredentials}
}

// ExtractProxies returns the proxies found in text, deduplicated by address
// with the first occurrence winning. Shapes are matched in order: auth
// decorated, "ip port", JSON fragments, bare ip:port. limit <= 0 means
// DefaultLimit.
func ExtractProxies(text string, limit int) []proxy.Proxy {
	return (&Extractor{}).ExtractProxies(text, limit)
}

// ExtractProxies is the package function with the credentials callback
func (e *Extractor) ExtractProxies(text string, limit int) []proxy.Proxy {
	if limit <= 0 {
		limit = DefaultLimit
	}

	c := newCollector(limit)
	e.collect(text, c)

	if e.OnCredentials != nil {
		for _, p := range c.out {
			if p.HasAuth() {
				e.OnCredentials(p)
			}
		}
	}
	return c.out
}

// ExtractIPs returns every valid IPv4 literal in text, canonicalized and
// unique, in order of appearance.
func ExtractIPs(text string) []string {
	v := validation.NewAddressValidator()
	seen := make(map[string]bool)
	var ips []string
	scan(ipRegex, text, ".", func(loc []int) {
		ip, err := v.CanonicalIPv4(text[loc[0]:loc[1]])
		if err != nil || seen[ip] {
			return
		}
		seen[ip] = true
		ips = append(ips, ip)
	})
	return ips
}

// ExtractPorts returns the ports of every proxy record found in text, unique
// and in first-seen order.
func ExtractPorts(text string) []string {
	c := newCollector(-1)
	(&Extractor{}).collect(text, c)

	seen := make(map[string]bool)
	var ports []string
	for _, p := range c.out {
		_, port, ok := strings.Cut(p.Address, ":")
		if !ok || seen[port] {
			continue
		}
		seen[port] = true
		ports = append(ports, port)
	}
	return ports
}

// FromRow normalizes an already structured record such as a store row
func FromRow(address, username, password string) (proxy.Proxy, bool) {
	addr, err := validation.NewAddressValidator().NormalizeAddress(address)
	if err != nil {
		return proxy.Proxy{}, false
	}
	return proxy.Proxy{
		Address:  addr,
		Username: strings.TrimSpace(username),
		Password: strings.TrimSpace(password),
	}, true
}

func (e *Extractor) addressValidator() *validation.AddressValidator {
	if e.validator == nil {
		e.validator = validation.NewAddressValidator()
	}
	return e.validator
}

func (e *Extractor) collect(text string, c *collector) {
	v := e.addressValidator()

	for _, m := range authRegex.FindAllStringSubmatch(text, -1) {
		if c.full() {
			return
		}
		if p, ok := parseAuth(v, m[1], m[2]); ok {
			c.add(p)
		}
	}

	scan(whitespaceRegex, text, ".:", func(loc []int) {
		if addr, err := v.Join(text[loc[2]:loc[3]], text[loc[4]:loc[5]]); err == nil {
			c.add(proxy.Proxy{Address: addr})
		}
	})
	if c.full() {
		return
	}

	for _, fragment := range jsonObjectRegex.FindAllString(text, -1) {
		if c.full() {
			return
		}
		if p, ok := parseJSONFragment(v, fragment); ok {
			c.add(p)
		}
	}

	scan(bareRegex, text, "", func(loc []int) {
		if addr, err := v.Join(text[loc[2]:loc[3]], text[loc[4]:loc[5]]); err == nil {
			c.add(proxy.Proxy{Address: addr})
		}
	})
}

// scan calls fn for every match of re that is not glued to surrounding
// digits. A rejected match restarts the search one byte later so it cannot
// swallow the start of a valid one.
func scan(re *regexp.Regexp, text, rightExtra string, fn func(loc []int)) {
	for off := 0; off < len(text); {
		loc := re.FindStringSubmatchIndex(text[off:])
		if loc == nil {
			return
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += off
			}
		}
		if !boundedLeft(text, loc[0]) || !boundedRight(text, loc[1], rightExtra) {
			off = loc[0] + 1
			continue
		}
		fn(loc)
		off = loc[1]
	}
}

// parseAuth picks the half of "a@b" that is an ip:port. When both are, the
// right half is the address, as in URL userinfo. Sentence punctuation is only
// trimmed from a right-hand address; a right-hand password is kept as is.
func parseAuth(v *validation.AddressValidator, left, right string) (proxy.Proxy, bool) {
	if addr, err := v.NormalizeAddress(strings.TrimRight(right, ".:!?")); err == nil {
		return withCredentials(addr, left)
	}
	if addr, err := v.NormalizeAddress(left); err == nil {
		return withCredentials(addr, right)
	}
	return proxy.Proxy{}, false
}

// withCredentials needs a user:pass pair, so "admin@1.2.3.4:80" is not one
func withCredentials(addr, creds string) (proxy.Proxy, bool) {
	user, pass, found := strings.Cut(creds, ":")
	if !found || user == "" {
		return proxy.Proxy{}, false
	}
	return proxy.Proxy{Address: addr, Username: user, Password: pass}, true
}

func parseJSONFragment(v *validation.AddressValidator, fragment string) (proxy.Proxy, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(fragment), &obj); err != nil {
		return proxy.Proxy{}, false
	}
	fields := make(map[string]string, len(obj))
	for k, val := range obj {
		fields[strings.ToLower(k)] = jsonScalar(val)
	}

	user := firstNonEmpty(fields["user"], fields["username"])
	pass := firstNonEmpty(fields["pass"], fields["password"])

	if ip, port := fields["ip"], fields["port"]; ip != "" && port != "" {
		addr, err := v.Join(strings.TrimSpace(ip), strings.TrimSpace(port))
		if err != nil {
			return proxy.Proxy{}, false
		}
		return proxy.Proxy{Address: addr, Username: user, Password: pass}, true
	}

	combined := strings.TrimSpace(fields["proxy"])
	if combined == "" {
		return proxy.Proxy{}, false
	}
	if left, right, ok := strings.Cut(combined, "@"); ok {
		return parseAuth(v, left, right)
	}
	addr, err := v.NormalizeAddress(combined)
	if err != nil {
		return proxy.Proxy{}, false
	}
	return proxy.Proxy{Address: addr, Username: user, Password: pass}, true
}

func jsonScalar(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return ""
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// boundedLeft reports whether a match starting at i is not glued to a longer
// number on its left.
func boundedLeft(text string, i int) bool {
	if i == 0 {
		return true
	}
	prev := text[i-1]
	return !isDigit(prev) && prev != '.'
}

// boundedRight reports whether a match ending at j is not followed by more
// digits or by one of extra.
func boundedRight(text string, j int, extra string) bool {
	if j >= len(text) {
		return true
	}
	next := text[j]
	return !isDigit(next) && !strings.ContainsRune(extra, rune(next))
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// collector deduplicates by address and stops at the limit; a negative limit
// means unbounded.
type collector struct {
	limit int
	seen  map[string]bool
	out   []proxy.Proxy
}

func newCollector(limit int) *collector {
	return &collector{
		limit: limit,
		seen:  make(map[string]bool),
		out:   []proxy.Proxy{},
	}
}

func (c *collector) full() bool {
	return c.limit >= 0 && len(c.out) >= c.limit
}

func (c *collector) add(p proxy.Proxy) {
	if c.full() || c.seen[p.Address] {
		return
	}
	c.seen[p.Address] = true
	c.out = append(c.out, p)
}
