// Package sanitizer cleans judge-supplied text before it reaches a terminal,
// an output file or a browser. Judge bodies and proxy error messages are
// attacker controlled.
package sanitizer

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Sanitizer provides content sanitization for output
type Sanitizer struct {
	escapeHTML bool
	maxLength  int
}

// Config represents sanitizer configuration
type Config struct {
	EscapeHTML bool // HTML escape the result (for web surfaces)
	MaxLength  int  // Maximum length for string fields (default: 1000)
}

// NewSanitizer creates a new sanitizer with the given configuration
func NewSanitizer(config Config) *Sanitizer {
	if config.MaxLength <= 0 {
		config.MaxLength = 1000
	}
	return &Sanitizer{
		escapeHTML: config.EscapeHTML,
		maxLength:  config.MaxLength,
	}
}

// DefaultSanitizer returns a sanitizer for terminal and text file output
func DefaultSanitizer() *Sanitizer {
	return NewSanitizer(Config{MaxLength: 1000})
}

var (
	// ANSI escape sequences, so a judge cannot repaint the terminal
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[@-Z\\-_]`)

	controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B-\x0C\x0E-\x1F\x7F]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)

	proxyAuthPattern = regexp.MustCompile(`(?i)((?:proxy-)?authorization"?\s*[:=]\s*"?)[^"\n\r,}]*`)
	urlCredsPattern  = regexp.MustCompile(`://[^/\s:@]+:[^/\s@]+@`)
)

func (s *Sanitizer) clean(input string) string {
	input = ansiPattern.ReplaceAllString(input, "")
	input = controlCharPattern.ReplaceAllString(input, "")
	input = strings.ToValidUTF8(input, "")
	if len(input) > s.maxLength {
		input = truncate(input, s.maxLength) + "..."
	}
	if s.escapeHTML {
		input = html.EscapeString(input)
	}
	return input
}

// SanitizeString strips escapes and control characters, bounds the length and
// collapses whitespace onto one line
func (s *Sanitizer) SanitizeString(input string) string {
	if input == "" {
		return input
	}
	input = s.clean(input)
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(input, " "))
}

// SanitizeError cleans an error message and hides credentials embedded in
// proxy URLs
func (s *Sanitizer) SanitizeError(input string) string {
	if input == "" {
		return input
	}
	return s.SanitizeString(RedactCredentials(input))
}

// SanitizeDebugInfo cleans a judge body for verbose output. Line structure is
// kept and authorization values are redacted.
func (s *Sanitizer) SanitizeDebugInfo(input string) string {
	if input == "" {
		return input
	}
	input = RedactCredentials(input)
	input = proxyAuthPattern.ReplaceAllString(input, "${1}[REDACTED]")

	lines := strings.Split(s.clean(input), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// SanitizeHeaders cleans a judge header map and redacts authorization values
func (s *Sanitizer) SanitizeHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		value := v
		if strings.EqualFold(k, "Authorization") || strings.EqualFold(k, "Proxy-Authorization") {
			value = "[REDACTED]"
		}
		out[s.SanitizeString(k)] = s.SanitizeString(value)
	}
	return out
}

// RedactCredentials replaces user:pass in any URL with placeholders
func RedactCredentials(input string) string {
	return urlCredsPattern.ReplaceAllString(input, "://[USER]:[PASS]@")
}

// SortedKeys returns the keys of m in order
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsControlCharacter checks if a rune is a control character
func IsControlCharacter(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Do not split a multi-byte rune.
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
