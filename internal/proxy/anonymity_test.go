package proxy

import (
	"reflect"
	"testing"
)

func TestClassifyAnonymity(t *testing.T) {
	tests := []struct {
		name   string
		ips    []JudgeReport
		judges []JudgeReport
		realIP string
		want   AnonymityGrade
	}{
		{
			name:   "real ip in text report",
			ips:    []JudgeReport{{Content: "Your IP is 123.123.123.123"}},
			judges: []JudgeReport{{Content: ""}},
			realIP: "123.123.123.123",
			want:   AnonymityTransparent,
		},
		{
			name:   "other ip only",
			ips:    []JudgeReport{{Content: "99.99.99.99"}},
			judges: []JudgeReport{{Content: ""}},
			realIP: "123.123.123.123",
			want:   AnonymityElite,
		},
		{
			name:   "proxy headers without leak",
			ips:    []JudgeReport{{Content: "99.99.99.99"}},
			judges: []JudgeReport{{Content: "Via: 1.1 squid\nHost: judge.example"}},
			realIP: "123.123.123.123",
			want:   AnonymityAnonymous,
		},
		{
			name:   "forwarded header with a near-miss ip",
			ips:    []JudgeReport{{Content: "5.6.7.8"}},
			judges: []JudgeReport{{Content: "X-Forwarded-For: 11.2.3.45"}},
			realIP: "1.2.3.4",
			want:   AnonymityAnonymous,
		},
		{
			name:   "real ip as a prefix of a longer address",
			ips:    []JudgeReport{{Content: "5.6.7.8"}},
			judges: []JudgeReport{{Content: "X-Real-Ip: 1.2.3.40\nVia: 1.1 cache"}},
			realIP: "1.2.3.4",
			want:   AnonymityAnonymous,
		},
		{
			name:   "real ip inside forwarded list",
			ips:    []JudgeReport{{Content: "5.6.7.8"}},
			judges: []JudgeReport{{Content: "Forwarded: for=1.2.3.4;proto=http"}},
			realIP: "1.2.3.4",
			want:   AnonymityTransparent,
		},
		{
			name:   "real ip leaked through forwarded header",
			ips:    []JudgeReport{{Content: "99.99.99.99"}},
			judges: []JudgeReport{{Content: `{"headers": {"X-Forwarded-For": "123.123.123.123, 99.99.99.99"}}`}},
			realIP: "123.123.123.123",
			want:   AnonymityTransparent,
		},
		{
			name:   "json ip report",
			ips:    []JudgeReport{{Content: `{"origin": "123.123.123.123"}`}},
			judges: nil,
			realIP: "123.123.123.123",
			want:   AnonymityTransparent,
		},
		{
			name:   "json headers with proxy header",
			ips:    []JudgeReport{{Content: `{"ip":"8.8.8.8"}`}},
			judges: []JudgeReport{{Content: `{"headers": {"Host": "judge", "X-Real-Ip": "8.8.8.8"}}`}},
			realIP: "1.1.1.1",
			want:   AnonymityAnonymous,
		},
		{
			name:   "ipv6 real ip",
			ips:    []JudgeReport{{Content: "2001:db8::1"}},
			realIP: "2001:db8::1",
			want:   AnonymityTransparent,
		},
		{
			name:   "empty inputs",
			ips:    []JudgeReport{{Content: ""}},
			judges: []JudgeReport{{Content: ""}},
			realIP: "123.123.123.123",
			want:   AnonymityUnknown,
		},
		{
			name:   "no inputs at all",
			realIP: "123.123.123.123",
			want:   AnonymityUnknown,
		},
		{
			name:   "headers only without proxy signal",
			judges: []JudgeReport{{Content: "Host: judge.example\nAccept: */*"}},
			realIP: "123.123.123.123",
			want:   AnonymityElite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyAnonymity(tt.ips, tt.judges, tt.realIP)
			if got != tt.want {
				t.Errorf("ClassifyAnonymity() = %q, want %q", got, tt.want)
			}
			// pure: same inputs, same grade
			if again := ClassifyAnonymity(tt.ips, tt.judges, tt.realIP); again != got {
				t.Errorf("second call = %q, first = %q", again, got)
			}
		})
	}
}

func TestExtractIPAddresses(t *testing.T) {
	tests := []struct {
		content string
		want    []string
	}{
		{"Your IP is 10.0.0.1", []string{"10.0.0.1"}},
		{"999.1.1.1 and 1.2.3.4", []string{"1.2.3.4"}},
		{`{"origin":"5.6.7.8"}`, []string{"5.6.7.8"}},
		{`{"b":"2.2.2.2","a":"1.1.1.1"}`, []string{"2.2.2.2", "1.1.1.1"}},
		{`{"a_proxy":"1.1.1.1","origin":"9.9.9.9"}`, []string{"9.9.9.9", "1.1.1.1"}},
		{`{"status":"success","country":"X","query":"8.8.4.4","as":"AS15169"}`, []string{"8.8.4.4"}},
		{`{"headers":{"ip":"3.3.3.3"},"ip":"4.4.4.4"}`, []string{"4.4.4.4", "3.3.3.3"}},
		{`[{"ip":"5.5.5.5"},"6.6.6.6"]`, []string{"5.5.5.5", "6.6.6.6"}},
		{`{"ip": null}`, nil},
		{"addr 2001:db8::2 here", []string{"2001:db8::2"}},
		{"Date: Mon, 12:30:45 GMT", nil},
		{"", nil},
	}
	for _, tt := range tests {
		got := ExtractIPAddresses(tt.content)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ExtractIPAddresses(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestFirstIPPrefersEchoField(t *testing.T) {
	if got := FirstIP(`{"origin":"9.9.9.9","a_proxy":"1.1.1.1"}`); got != "9.9.9.9" {
		t.Errorf("FirstIP() = %q, want 9.9.9.9", got)
	}
	if got := FirstIP(`{"note":"via 7.7.7.7","IP":"8.8.8.8"}`); got != "8.8.8.8" {
		t.Errorf("FirstIP() = %q, want 8.8.8.8", got)
	}
}

func TestParseJudgeHeaders(t *testing.T) {
	raw := ParseJudgeHeaders("GET / HTTP/1.1\nVia: a\nVia: b\nAccept: */*")
	if raw["Via"] != "a, b" {
		t.Errorf("Via = %q, want merged values", raw["Via"])
	}
	if raw["Accept"] != "*/*" {
		t.Errorf("Accept = %q", raw["Accept"])
	}

	js := ParseJudgeHeaders(`{"headers": {"Via": ["1.1 a", "1.1 b"], "Host": "x"}}`)
	if js["Via"] != "1.1 a, 1.1 b" {
		t.Errorf("json Via = %q", js["Via"])
	}
	if len(ParseJudgeHeaders("")) != 0 {
		t.Error("empty content should give no headers")
	}
}

func TestProxyIndicatingHeaders(t *testing.T) {
	got := ProxyIndicatingHeaders(map[string]string{
		"x-forwarded-for": "1.1.1.1",
		"Host":            "judge",
		"VIA":             "1.1 squid",
	})
	want := []string{"Via", "X-Forwarded-For"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ProxyIndicatingHeaders() = %v, want %v", got, want)
	}
}

func TestDetectProxyChain(t *testing.T) {
	tests := []struct {
		headers map[string]string
		chained bool
	}{
		{map[string]string{"Via": "1.1 a, 1.1 b"}, true},
		{map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2, 3.3.3.3"}, true},
		{map[string]string{"X-Forwarded-Host": "a", "Forwarded": "for=1.1.1.1"}, true},
		{map[string]string{"Via": "1.1 a"}, false},
		{map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		chained, reason := DetectProxyChain(tt.headers)
		if chained != tt.chained {
			t.Errorf("DetectProxyChain(%v) = %v (%s), want %v", tt.headers, chained, reason, tt.chained)
		}
		if chained && reason == "" {
			t.Errorf("DetectProxyChain(%v) gave no reason", tt.headers)
		}
	}
}
