package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"regexp"
	"sort"
	"strings"
)

// JudgeReport is the raw body returned by a judge endpoint
type JudgeReport struct {
	Content string `json:"content"`
}

var (
	ipv4Regex = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	// Loose on purpose; every candidate is confirmed with net.ParseIP.
	ipv6Regex = regexp.MustCompile(`(?i)\b(?:[0-9a-f]{0,4}:){2,7}[0-9a-f]{0,4}\b`)

	headerLineRegex = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9_-]*)\s*:\s*(.*)$`)
)

// proxyHeaders are request headers that only show up when something between
// us and the judge announced itself.
var proxyHeaders = []string{
	"Via",
	"X-Forwarded-For",
	"Forwarded",
	"X-Forwarded-Host",
	"X-Real-Ip",
	"Client-Ip",
	"True-Client-Ip",
	"X-Client-Ip",
	"X-Originating-Ip",
	"X-Proxy-Id",
	"Proxy-Connection",
	"X-Bluecoat-Via",
	"Cf-Connecting-Ip",
	"X-Proxyuser-Ip",
}

// ClassifyAnonymity grades a proxy from the bodies of IP-echo and header-echo
// judges fetched through it. It is pure: no network calls happen here.
func ClassifyAnonymity(ipReports, judgeReports []JudgeReport, realIP string) AnonymityGrade {
	var ips []string
	for _, r := range ipReports {
		ips = append(ips, ExtractIPAddresses(r.Content)...)
	}

	headers := make(map[string]string)
	for _, r := range judgeReports {
		for name, value := range ParseJudgeHeaders(r.Content) {
			headers[name] = value
		}
	}

	if len(ips) == 0 && len(headers) == 0 {
		return AnonymityUnknown
	}

	realIP = strings.TrimSpace(realIP)
	if realIP != "" {
		for _, ip := range ips {
			if sameIP(ip, realIP) {
				return AnonymityTransparent
			}
		}
		for _, value := range headers {
			for _, ip := range scanIPs(value) {
				if sameIP(ip, realIP) {
					return AnonymityTransparent
				}
			}
		}
	}

	if len(ProxyIndicatingHeaders(headers)) > 0 {
		return AnonymityAnonymous
	}

	return AnonymityElite
}

// ProxyIndicatingHeaders returns the canonical names of the proxy headers
// present in headers, in detection order.
func ProxyIndicatingHeaders(headers map[string]string) []string {
	var found []string
	for _, want := range proxyHeaders {
		for name := range headers {
			if strings.EqualFold(name, want) {
				found = append(found, want)
				break
			}
		}
	}
	return found
}

// ExtractIPAddresses returns every IPv4/IPv6 literal in a judge body. JSON
// bodies have their string values scanned in document order, with top-level
// ip, origin, query and address fields first.
func ExtractIPAddresses(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if looksLikeJSON(content) {
		if ips, ok := jsonIPs(content); ok {
			return ips
		}
	}

	return scanIPs(content)
}

// ipKeys are the top-level fields echo services report the caller in
var ipKeys = []string{"ip", "origin", "query", "address"}

type jsonFrame struct {
	object  bool
	wantKey bool
	key     string
}

func (f *jsonFrame) valueDone() {
	if f != nil && f.object {
		f.wantKey = true
	}
}

func jsonIPs(content string) ([]string, bool) {
	dec := json.NewDecoder(strings.NewReader(content))
	var preferred, rest []string
	var stack []jsonFrame

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false
		}

		var top *jsonFrame
		if len(stack) > 0 {
			top = &stack[len(stack)-1]
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				top.valueDone()
				stack = append(stack, jsonFrame{object: true, wantKey: true})
			case '[':
				top.valueDone()
				stack = append(stack, jsonFrame{})
			default:
				stack = stack[:len(stack)-1]
			}
		case string:
			if top != nil && top.object && top.wantKey {
				top.key, top.wantKey = t, false
				continue
			}
			if len(stack) == 1 && top.object && isIPKey(top.key) {
				preferred = append(preferred, scanIPs(t)...)
			} else {
				rest = append(rest, scanIPs(t)...)
			}
			top.valueDone()
		default:
			top.valueDone()
		}
	}

	return append(preferred, rest...), true
}

func isIPKey(key string) bool {
	for _, k := range ipKeys {
		if strings.EqualFold(key, k) {
			return true
		}
	}
	return false
}

// FirstIP returns the first IP literal in a judge body, or ""
func FirstIP(content string) string {
	if ips := ExtractIPAddresses(content); len(ips) > 0 {
		return ips[0]
	}
	return ""
}

func scanIPs(s string) []string {
	var ips []string
	for _, match := range ipv4Regex.FindAllString(s, -1) {
		if ip := net.ParseIP(match); ip != nil && ip.To4() != nil {
			ips = append(ips, match)
		}
	}
	for _, match := range ipv6Regex.FindAllString(s, -1) {
		if ip := net.ParseIP(match); ip != nil && ip.To4() == nil {
			ips = append(ips, match)
		}
	}
	return ips
}

// ParseJudgeHeaders extracts request headers echoed back by a judge. It
// accepts a JSON body with a "headers" object (httpbin style) or raw
// "Header: value" lines.
func ParseJudgeHeaders(content string) map[string]string {
	headers := make(map[string]string)
	content = strings.TrimSpace(content)
	if content == "" {
		return headers
	}

	if looksLikeJSON(content) {
		var body struct {
			Headers map[string]interface{} `json:"headers"`
		}
		if err := json.Unmarshal([]byte(content), &body); err == nil {
			for name, value := range body.Headers {
				headers[name] = strings.Join(stringLeaves(value), ", ")
			}
			return headers
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		m := headerLineRegex.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		name, value := m[1], strings.TrimSpace(m[2])
		if existing, ok := headers[name]; ok {
			value = existing + ", " + value
		}
		headers[name] = value
	}
	return headers
}

// DetectProxyChain looks for multi-hop Via or X-Forwarded-For values and
// describes what it found.
func DetectProxyChain(headers map[string]string) (bool, string) {
	var hasForwardedHost, hasForwarded bool

	for name, value := range headers {
		switch {
		case strings.EqualFold(name, "Via"):
			if strings.Contains(value, ",") || strings.Contains(value, ";") {
				return true, "multiple Via entries"
			}
		case strings.EqualFold(name, "X-Forwarded-For"):
			if strings.Count(value, ",") > 1 {
				return true, "multiple IPs in X-Forwarded-For"
			}
		case strings.EqualFold(name, "X-Forwarded-Host"):
			hasForwardedHost = true
		case strings.EqualFold(name, "Forwarded"):
			hasForwarded = true
		}
	}

	if hasForwardedHost && hasForwarded {
		return true, "both X-Forwarded-Host and Forwarded present"
	}
	return false, ""
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

func stringLeaves(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		var out []string
		for _, item := range val {
			out = append(out, stringLeaves(item)...)
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, stringLeaves(val[k])...)
		}
		return out
	default:
		return nil
	}
}

func sameIP(a, b string) bool {
	ipA, ipB := net.ParseIP(a), net.ParseIP(b)
	if ipA == nil || ipB == nil {
		return a == b
	}
	return ipA.Equal(ipB)
}
