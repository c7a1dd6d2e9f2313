package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/sanitizer"
)

// ResultOutput represents a proxy report for output formatting
type ResultOutput struct {
	Proxy     string        `json:"proxy"`
	Working   bool          `json:"working"`
	SSL       bool          `json:"ssl"`
	Protocols []string      `json:"protocols"`
	Anonymity string        `json:"anonymity"`
	ProxyIP   string        `json:"proxy_ip,omitempty"`
	Chain     string        `json:"chain,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
}

// SummaryOutput represents summary statistics for output
type SummaryOutput struct {
	TotalProxies   int            `json:"total_proxies"`
	CheckedProxies int            `json:"checked_proxies"`
	WorkingProxies int            `json:"working_proxies"`
	SSLProxies     int            `json:"ssl_proxies"`
	Anonymity      map[string]int `json:"anonymity"`
	Protocols      map[string]int `json:"protocols"`
	SuccessRate    float64        `json:"success_rate"`
	AverageElapsed time.Duration  `json:"average_elapsed_ns"`
	GeneratedAt    time.Time      `json:"generated_at"`
	Results        []ResultOutput `json:"results"`
}

// ConvertToOutputFormat converts reports to output format. Judge and error
// text is sanitized.
func ConvertToOutputFormat(reports []*proxy.Report) []ResultOutput {
	s := sanitizer.DefaultSanitizer()
	output := make([]ResultOutput, 0, len(reports))
	for _, r := range reports {
		if r == nil {
			continue
		}
		protocols := r.Result.WorkingProtocols
		if protocols == nil {
			protocols = []string{}
		}
		output = append(output, ResultOutput{
			Proxy:     r.Address,
			Working:   r.Result.IsWorking,
			SSL:       r.Result.IsSSL,
			Protocols: protocols,
			Anonymity: r.Anonymity.String(),
			ProxyIP:   r.ProxyIP,
			Chain:     s.SanitizeString(r.Chain),
			Elapsed:   r.Elapsed,
			CheckedAt: r.CheckedAt,
			Error:     s.SanitizeError(r.Error),
		})
	}
	return output
}

// GenerateSummary creates a summary from reports. total is the number of
// proxies that were queued, which may exceed len(reports) when a run stopped
// early.
func GenerateSummary(reports []*proxy.Report, total int) SummaryOutput {
	results := ConvertToOutputFormat(reports)
	if total < len(results) {
		total = len(results)
	}

	summary := SummaryOutput{
		TotalProxies:   total,
		CheckedProxies: len(results),
		Anonymity:      map[string]int{},
		Protocols:      map[string]int{},
		GeneratedAt:    time.Now(),
		Results:        results,
	}

	var elapsed time.Duration
	for _, r := range results {
		elapsed += r.Elapsed
		if !r.Working {
			continue
		}
		summary.WorkingProxies++
		if r.SSL {
			summary.SSLProxies++
		}
		summary.Anonymity[r.Anonymity]++
		for _, p := range r.Protocols {
			summary.Protocols[p]++
		}
	}

	if summary.CheckedProxies > 0 {
		summary.SuccessRate = float64(summary.WorkingProxies) / float64(summary.CheckedProxies) * 100
		summary.AverageElapsed = elapsed / time.Duration(summary.CheckedProxies)
	}

	return summary
}

// WriteText renders the summary as a human readable report
func WriteText(w io.Writer, summary SummaryOutput) error {
	var b strings.Builder

	fmt.Fprintf(&b, "ProxyJudge Results - %s\n", summary.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "=====================================\n\n")

	for _, r := range summary.Results {
		status := "❌"
		if r.Working {
			status = "✅"
			if r.SSL {
				status += "🔒"
			}
		}

		fmt.Fprintf(&b, "%s %s", status, r.Proxy)
		if r.Working {
			fmt.Fprintf(&b, " - %s [%s]", strings.Join(r.Protocols, ","), r.Anonymity)
			fmt.Fprintf(&b, " %.2fs", r.Elapsed.Seconds())
			if r.Chain != "" {
				fmt.Fprintf(&b, " (chain: %s)", r.Chain)
			}
		} else if r.Error != "" {
			fmt.Fprintf(&b, " - Error: %s", r.Error)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n=====================================\n")
	fmt.Fprintf(&b, "SUMMARY\n")
	fmt.Fprintf(&b, "=====================================\n")
	fmt.Fprintf(&b, "Total proxies: %d\n", summary.TotalProxies)
	fmt.Fprintf(&b, "Checked proxies: %d\n", summary.CheckedProxies)
	fmt.Fprintf(&b, "Working proxies: %d\n", summary.WorkingProxies)
	fmt.Fprintf(&b, "SSL proxies: %d\n", summary.SSLProxies)
	for _, grade := range sortedKeys(summary.Anonymity) {
		fmt.Fprintf(&b, "  %s: %d\n", grade, summary.Anonymity[grade])
	}
	fmt.Fprintf(&b, "Success rate: %.2f%%\n", summary.SuccessRate)
	if summary.AverageElapsed > 0 {
		fmt.Fprintf(&b, "Average check time: %.2fs\n", summary.AverageElapsed.Seconds())
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON renders the summary as indented JSON
func WriteJSON(w io.Writer, summary SummaryOutput) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}

// WriteWorking writes one working proxy per line in a form the loader reads
// back: address, then the protocols as a comment.
func WriteWorking(w io.Writer, results []ResultOutput, filter func(ResultOutput) bool) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Working Proxies - Generated %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "# Format: ip:port  # protocols anonymity\n\n")

	for _, r := range results {
		if !r.Working || (filter != nil && !filter(r)) {
			continue
		}
		tls := ""
		if r.SSL {
			tls = " tls"
		}
		fmt.Fprintf(&b, "%s  # %s %s%s\n", r.Proxy, strings.Join(r.Protocols, ","), r.Anonymity, tls)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// Anonymous keeps proxies that hide the client IP
func Anonymous(r ResultOutput) bool {
	return r.Anonymity == string(proxy.AnonymityAnonymous) || r.Anonymity == string(proxy.AnonymityElite)
}

// WriteTextOutput writes the text report to a file
func WriteTextOutput(filename string, summary SummaryOutput) error {
	return writeFile(filename, func(w io.Writer) error { return WriteText(w, summary) })
}

// WriteJSONOutput writes the JSON report to a file
func WriteJSONOutput(filename string, summary SummaryOutput) error {
	return writeFile(filename, func(w io.Writer) error { return WriteJSON(w, summary) })
}

// WriteWorkingProxiesOutput writes only working proxies to a file
func WriteWorkingProxiesOutput(filename string, results []ResultOutput) error {
	return writeFile(filename, func(w io.Writer) error { return WriteWorking(w, results, nil) })
}

// WriteAnonymousProxiesOutput writes only working anonymous or elite proxies
func WriteAnonymousProxiesOutput(filename string, results []ResultOutput) error {
	return writeFile(filename, func(w io.Writer) error { return WriteWorking(w, results, Anonymous) })
}

func writeFile(filename string, render func(io.Writer) error) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
