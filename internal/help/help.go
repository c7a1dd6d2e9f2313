package help

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// Version is overridden at build time with -ldflags "-X ...help.Version=..."
var Version = "1.0.0"

const (
	AppName = "ProxyJudge"

	// Colors for terminal output
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// Flag documents one command line flag
type Flag struct {
	Name        string
	Arg         string
	Description string
}

// Section groups flags under a heading
type Section struct {
	Title string
	Flags []Flag
}

// Example represents a usage example
type Example struct {
	Description string
	Command     string
	Explanation string
}

// Sections lists every flag of the proxyjudge command
func Sections() []Section {
	return []Section{
		{
			Title: "INPUT:",
			Flags: []Flag{
				{"-l", "string", "proxy list file; ip:port[@user:pass] lines or HTML"},
				{"-fetch", "string", "download proxy lists from these comma separated URLs"},
				{"-config", "string", "configuration file (default: user config, then \"config/default.yaml\")"},
			},
		},
		{
			Title: "CHECKING:",
			Flags: []Flag{
				{"-p", "string", "protocols to try in order, e.g. http,https,socks5"},
				{"-c", "int", "number of concurrent checks"},
				{"-t", "int", "timeout in seconds for every network operation"},
				{"-u", "string", "proxy username applied to proxies without credentials"},
				{"-P", "string", "proxy password applied to proxies without credentials"},
				{"-max-duration", "duration", "stop starting new checks after this long (e.g. 5m)"},
			},
		},
		{
			Title: "STORAGE:",
			Flags: []Flag{
				{"-store", "string", "persist results: sqlite://file.db, postgres://..., redis://..."},
			},
		},
		{
			Title: "OUTPUT:",
			Flags: []Flag{
				{"-o", "string", "file to save text results"},
				{"-j", "string", "file to save JSON results"},
				{"-wp", "string", "file to save only working proxies"},
				{"-wpa", "string", "file to save only working anonymous or elite proxies"},
				{"-v", "", "show every protocol attempt"},
				{"-d", "", "debug mode: judge headers and debug logs"},
				{"-no-ui", "", "disable the terminal UI (for automation/scripting)"},
				{"-progress", "string", "progress when the UI is off: none, basic, bar, percent (default \"bar\")"},
			},
		},
		{
			Title: "OPERATIONS:",
			Flags: []Flag{
				{"-metrics", "", "serve Prometheus metrics"},
				{"-metrics-addr", "string", "metrics listen address"},
				{"-hot-reload", "", "reload the configuration file when it changes"},
				{"-version", "", "print version and exit"},
				{"-quickstart", "", "print the quick start guide and exit"},
			},
		},
	}
}

// GetBanner returns the application banner
func GetBanner(noColor bool) string {
	if noColor {
		return fmt.Sprintf(`
%s v%s - Proxy Checker and Anonymity Judge
Protocol Detection | TLS Capability | Anonymity Grading
`, AppName, Version)
	}

	return fmt.Sprintf(`
%s%s%s v%s - %sProxy Checker and Anonymity Judge%s
%sProtocol Detection | TLS Capability | Anonymity Grading%s
`, colorBold+colorBlue, AppName, colorReset, Version, colorBold, colorReset, colorCyan, colorReset)
}

// GetQuickStart returns quick start guide
func GetQuickStart(noColor bool) string {
	b := &strings.Builder{}

	header := "QUICK START"
	if !noColor {
		header = colorBold + colorGreen + header + colorReset
	}
	command := func(s string) string {
		if noColor {
			return s
		}
		return colorCyan + s + colorReset
	}

	fmt.Fprintf(b, "\n%s\n\n", header)
	fmt.Fprintf(b, "1. Create a proxy list file (one proxy per line):\n")
	fmt.Fprintf(b, "   203.0.113.10:8080\n")
	fmt.Fprintf(b, "   198.51.100.7:1080@user:secret\n\n")

	fmt.Fprintf(b, "2. Run ProxyJudge:\n")
	fmt.Fprintf(b, "   %s\n\n", command("proxyjudge -l proxy-list.txt"))

	fmt.Fprintf(b, "3. Save results:\n")
	fmt.Fprintf(b, "   %s\n", command("proxyjudge -l proxy-list.txt -o results.txt -j results.json"))

	return b.String()
}

// GetFullHelp returns the complete help text
func GetFullHelp(noColor bool) string {
	b := &strings.Builder{}

	fmt.Fprint(b, GetBanner(noColor))
	fmt.Fprintf(b, "Usage:\n")
	fmt.Fprintf(b, "  proxyjudge -l PROXY_LIST [flags]\n\n")
	fmt.Fprintf(b, "Flags:\n")

	for _, section := range Sections() {
		sectionHeader(b, section.Title, noColor)
		w := tabwriter.NewWriter(b, 0, 0, 2, ' ', 0)
		for _, f := range section.Flags {
			name := f.Name
			if f.Arg != "" {
				name += " " + f.Arg
			}
			fmt.Fprintf(w, "   %s\t%s\n", name, f.Description)
		}
		w.Flush()
		fmt.Fprintln(b)
	}

	header := "EXAMPLES:"
	if !noColor {
		header = colorBold + colorYellow + header + colorReset
	}
	fmt.Fprintf(b, "%s\n", header)
	for _, ex := range GetExamples() {
		fmt.Fprintf(b, "   # %s\n   %s\n", ex.Description, ex.Command)
	}

	return b.String()
}

// GetExamples returns usage examples
func GetExamples() []Example {
	return []Example{
		{
			Description: "Basic proxy checking",
			Command:     "proxyjudge -l proxies.txt",
		},
		{
			Description: "Check with custom concurrency and timeout",
			Command:     "proxyjudge -l proxies.txt -c 50 -t 5",
			Explanation: "Uses 50 concurrent checks with a 5-second timeout",
		},
		{
			Description: "Only SOCKS proxies",
			Command:     "proxyjudge -l proxies.txt -p socks4,socks4a,socks5,socks5h",
			Explanation: "Skips the HTTP protocols entirely",
		},
		{
			Description: "Save results in multiple formats",
			Command:     "proxyjudge -l proxies.txt -o results.txt -j results.json -wp working.txt",
			Explanation: "Saves text report, JSON data, and working proxy list",
		},
		{
			Description: "Persist results to sqlite",
			Command:     "proxyjudge -l proxies.txt -store sqlite://proxies.db",
			Explanation: "Keeps working flag, protocols and anonymity per proxy",
		},
		{
			Description: "Non-interactive mode for automation",
			Command:     "proxyjudge -l proxies.txt -no-ui -progress basic -o results.txt",
			Explanation: "Runs without TUI, shows basic progress, saves results",
		},
		{
			Description: "Bounded run with metrics",
			Command:     "proxyjudge -l proxies.txt -max-duration 10m -metrics -metrics-addr :9090",
			Explanation: "Stops starting checks after 10 minutes and serves Prometheus metrics",
		},
		{
			Description: "Hot-reload configuration",
			Command:     "proxyjudge -l proxies.txt -hot-reload -config custom.yaml",
			Explanation: "Watches the config file; later checks pick up new judges and timeouts",
		},
		{
			Description: "Extract only anonymous proxies",
			Command:     "proxyjudge -l proxies.txt -wpa anonymous-only.txt -no-ui",
			Explanation: "Saves only proxies that hide your real IP",
		},
	}
}

// PrintHelp prints help to the specified writer
func PrintHelp(w io.Writer, noColor bool) {
	fmt.Fprint(w, GetFullHelp(noColor))
}

// PrintQuickStart prints quick start guide
func PrintQuickStart(w io.Writer, noColor bool) {
	fmt.Fprint(w, GetBanner(noColor))
	fmt.Fprint(w, GetQuickStart(noColor))
}

// PrintVersion prints version information
func PrintVersion(w io.Writer, noColor bool) {
	if noColor {
		fmt.Fprintf(w, "%s version %s\n", AppName, Version)
	} else {
		fmt.Fprintf(w, "%s%s%s version %s%s%s\n",
			colorBold+colorBlue, AppName, colorReset,
			colorGreen, Version, colorReset)
	}
	fmt.Fprintln(w, "Proxy checker with protocol detection and anonymity grading")
	fmt.Fprintln(w, "https://github.com/ResistanceIsUseless/ProxyJudge")
}

// PrintUsageError prints a usage error with suggestion
func PrintUsageError(w io.Writer, err error, noColor bool) {
	if noColor {
		fmt.Fprintf(w, "Error: %v\n\n", err)
		fmt.Fprintf(w, "Usage: proxyjudge -l PROXY_LIST [OPTIONS]\n")
		fmt.Fprintf(w, "Try 'proxyjudge -help' for more information.\n")
	} else {
		fmt.Fprintf(w, "%sError:%s %v\n\n", colorRed, colorReset, err)
		fmt.Fprintf(w, "Usage: %sproxyjudge -l PROXY_LIST [OPTIONS]%s\n", colorCyan, colorReset)
		fmt.Fprintf(w, "Try '%sproxyjudge -help%s' for more information.\n", colorYellow, colorReset)
	}
}

func sectionHeader(b *strings.Builder, title string, noColor bool) {
	if noColor {
		fmt.Fprintf(b, "%s\n", title)
		return
	}
	fmt.Fprintf(b, "%s%s%s\n", colorBold, title, colorReset)
}

// DetectNoColor checks if color should be disabled
func DetectNoColor() bool {
	if os.Getenv("PROXYJUDGE_NO_COLOR") == "1" {
		return true
	}
	if os.Getenv("NO_COLOR") != "" {
		return true
	}

	fileInfo, err := os.Stdout.Stat()
	if err != nil || (fileInfo.Mode()&os.ModeCharDevice) == 0 {
		return true
	}
	return false
}
