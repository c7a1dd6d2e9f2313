package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/config"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/discovery"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/help"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/loader"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/logging"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/metrics"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/output"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/parser"
	progresspkg "github.com/ResistanceIsUseless/ProxyJudge/internal/progress"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/store"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/ui"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/worker"
)

// options holds the parsed command line
type options struct {
	proxyList  string
	fetch      string
	configFile string

	protocols   string
	concurrency int
	timeout     int
	username    string
	password    string
	maxDuration time.Duration

	storeDSN string

	outputFile    string
	jsonFile      string
	workingFile   string
	anonymousFile string
	verbose       bool
	debug         bool
	noUI          bool
	progress      string

	metrics     bool
	metricsAddr string
	hotReload   bool
	version     bool
	quickstart  bool
}

func newFlagSet(o *options) *flag.FlagSet {
	fs := flag.NewFlagSet("proxyjudge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&o.proxyList, "l", "", "File containing list of proxies")
	fs.StringVar(&o.fetch, "fetch", "", "Comma separated proxy list URLs to download")
	fs.StringVar(&o.configFile, "config", "", "Path to config file")

	fs.StringVar(&o.protocols, "p", "", "Comma separated protocols to try")
	fs.IntVar(&o.concurrency, "c", 0, "Number of concurrent checks (overrides config)")
	fs.IntVar(&o.timeout, "t", 0, "Timeout in seconds (overrides config)")
	fs.StringVar(&o.username, "u", "", "Proxy username")
	fs.StringVar(&o.password, "P", "", "Proxy password")
	fs.DurationVar(&o.maxDuration, "max-duration", 0, "Stop starting new checks after this long")

	fs.StringVar(&o.storeDSN, "store", "", "Persist results to this DSN")

	fs.StringVar(&o.outputFile, "o", "", "Output results to text file")
	fs.StringVar(&o.jsonFile, "j", "", "Output results to JSON file")
	fs.StringVar(&o.workingFile, "wp", "", "Output working proxies to file")
	fs.StringVar(&o.anonymousFile, "wpa", "", "Output working anonymous proxies to file")
	fs.BoolVar(&o.verbose, "v", false, "Enable verbose output")
	fs.BoolVar(&o.debug, "d", false, "Enable debug mode")
	fs.BoolVar(&o.noUI, "no-ui", false, "Disable terminal UI")
	fs.StringVar(&o.progress, "progress", string(progresspkg.ProgressTypeBar), "Progress indicator type for non-TUI mode")

	fs.BoolVar(&o.metrics, "metrics", false, "Enable Prometheus metrics endpoint")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "Address to serve metrics on")
	fs.BoolVar(&o.hotReload, "hot-reload", false, "Enable configuration hot-reloading")
	fs.BoolVar(&o.version, "version", false, "Show version information")
	fs.BoolVar(&o.quickstart, "quickstart", false, "Show quick start guide")
	return fs
}

func parseFlags(args []string) (*options, error) {
	o := &options{}
	if err := newFlagSet(o).Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// applyFlags overlays command line values on the loaded configuration
func applyFlags(cfg *config.Config, o *options) error {
	if o.protocols != "" {
		protocols, err := proxy.ParseProtocols(o.protocols)
		if err != nil {
			return errors.NewConfigError(errors.ErrorConfigInvalid, "invalid -p value", err)
		}
		cfg.Protocols = protocols
	}
	if o.concurrency > 0 {
		cfg.Concurrency = o.concurrency
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}
	if o.username != "" {
		cfg.Username = o.username
	}
	if o.password != "" {
		cfg.Password = o.password
	}
	if o.maxDuration > 0 {
		cfg.MaxDuration = o.maxDuration
	}
	if o.storeDSN != "" {
		cfg.Store.DSN = o.storeDSN
	}
	if o.metrics {
		cfg.Metrics.Enabled = true
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	noColor := help.DetectNoColor()

	o, err := parseFlags(args)
	if stderrors.Is(err, flag.ErrHelp) {
		help.PrintHelp(stdout, noColor)
		return 0
	}
	if err != nil {
		help.PrintUsageError(stderr, err, noColor)
		return 2
	}
	if o.version {
		help.PrintVersion(stdout, noColor)
		return 0
	}
	if o.quickstart {
		help.PrintQuickStart(stdout, noColor)
		return 0
	}
	if o.proxyList == "" && o.fetch == "" {
		help.PrintUsageError(stderr, fmt.Errorf("proxy list file is required"), noColor)
		return 1
	}

	boot := logging.NewLogger(logging.Config{Level: logging.LevelInfo, Format: "text", Output: stderr})

	if err := config.LoadDotEnv(".env"); err != nil {
		boot.Warn("Ignoring .env file", "error", err)
	}
	configPath, _ := config.GetConfigPath(o.configFile)
	cfg, err := config.Load(configPath)
	if err != nil {
		boot.Error("Failed to load configuration",
			"error", err,
			"file", configPath,
			"category", errors.GetErrorCategory(err))
		return 1
	}
	if err := applyFlags(cfg, o); err != nil {
		boot.Error("Invalid command line", "error", err)
		return 1
	}

	loggerConfig := cfg.LoggerConfig()
	loggerConfig.Output = stderr
	logger := logging.NewLogger(loggerConfig)

	result := config.ValidateConfig(cfg)
	for _, warning := range result.Warnings {
		logger.Warn("Configuration validation warning", "warning", warning)
	}
	if !result.Valid {
		for _, validationErr := range result.Errors {
			logger.Error("Configuration error", "error", validationErr.Error())
		}
		return 1
	}
	if _, err := os.Stat(configPath); err == nil {
		logger.ConfigLoaded(configPath)
	} else {
		logger.ConfigNotFound(configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	proxies, err := loadProxies(ctx, o, cfg, logger)
	if err != nil {
		logger.Error("Failed to load proxies",
			"error", err,
			"category", errors.GetErrorCategory(err),
			"critical", errors.IsCritical(err))
		return 1
	}
	if len(proxies) == 0 {
		logger.Error("No valid proxies found to check")
		return 1
	}

	if o.hotReload {
		watcher, err := config.NewConfigWatcher(configPath, config.WatcherConfig{
			DebounceDelay: time.Second,
			OnReload: func(_ *config.Config, result *config.ValidationResult) {
				logger.ConfigReloaded(configPath)
				for _, warning := range result.Warnings {
					logger.Warn("Configuration warning after reload", "warning", warning)
				}
				logger.Info("Configuration changes take effect on the next run")
			},
			OnError: func(err error) {
				logger.Error("Configuration reload failed", "error", err)
			},
		})
		if err != nil {
			logger.Warn("Failed to enable configuration hot-reloading", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
		if err := collector.StartServer(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
			logger.Warn("Failed to start metrics server", "error", err, "addr", cfg.Metrics.Addr)
		} else {
			logger.Info("Metrics server started", "addr", collector.Addr(), "path", cfg.Metrics.Path)
			defer collector.StopServer()
		}
	}

	var persist store.Store
	if cfg.Store.DSN != "" {
		persist, err = store.Open(cfg.Store.DSN)
		if err != nil {
			logger.Error("Failed to open store", "error", err, "category", errors.GetErrorCategory(err))
			return 1
		}
		defer persist.Close()
	}

	fetcher := cfg.Fetcher()
	currentIP, err := fetcher.CurrentIP(ctx)
	if err != nil {
		logger.Error("Cannot determine current IP, nothing will be checked", "error", err)
		return 1
	}
	logger.Info("Current IP resolved", "ip", currentIP)

	template := cfg.CheckerOptions(o.verbose || o.debug)
	template.CurrentIP = currentIP

	b := &batch{
		o:         o,
		cfg:       cfg,
		logger:    logger,
		fetcher:   fetcher,
		collector: collector,
		store:     persist,
		proxies:   proxies,
		template:  template,
		stderr:    stderr,
	}

	var summary worker.Summary
	if o.noUI {
		summary, err = b.runPlain(ctx)
	} else {
		summary, err = b.runTUI(ctx, stop)
	}
	if ctx.Err() != nil {
		logger.ShutdownReceived()
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("Batch failed", "error", err, "category", errors.GetErrorCategory(err))
		return 1
	}

	logger.CheckComplete(summary.Checked, summary.Elapsed)
	if summary.BudgetExceeded {
		logger.Warn("Maximum duration reached, remaining proxies were skipped", "skipped", summary.Skipped)
	}
	b.writeOutputs(len(proxies))
	logger.ShutdownComplete()
	return 0
}

// loadProxies reads the -l file and downloads the -fetch lists, keeping the
// first occurrence of each address
func loadProxies(ctx context.Context, o *options, cfg *config.Config, logger *logging.Logger) ([]proxy.Proxy, error) {
	extractor := parser.NewExtractor(func(p proxy.Proxy) {
		logger.WithProxy(p.Address).Debug("Using credentials embedded in proxy list")
	})

	var proxies []proxy.Proxy
	if o.proxyList != "" {
		loaded, err := loader.LoadProxiesWithExtractor(o.proxyList, cfg.ParseLimit, extractor)
		if err != nil {
			return nil, err
		}
		logger.ProxiesLoaded(len(loaded), o.proxyList)
		proxies = loaded
	}

	if o.fetch != "" {
		sources, err := discovery.ParseSources(o.fetch)
		if err != nil {
			return nil, err
		}
		fetcher := discovery.NewFetcher(
			discovery.WithUserAgent(cfg.UserAgent),
			discovery.WithExtractor(extractor),
			discovery.WithLogger(logger),
			discovery.WithInterval(time.Second),
		)
		res := fetcher.Fetch(ctx, sources, cfg.ParseLimit)
		if len(res.Proxies) == 0 && len(res.Errors) > 0 {
			return nil, res.Errors[0]
		}
		seen := make(map[string]bool, len(proxies))
		for _, p := range proxies {
			seen[p.Address] = true
		}
		added := 0
		for _, p := range res.Proxies {
			if !seen[p.Address] {
				seen[p.Address] = true
				proxies = append(proxies, p)
				added++
			}
		}
		logger.ProxiesLoaded(added, o.fetch)
	}
	return proxies, nil
}

// batch is one run over a proxy list
type batch struct {
	o         *options
	cfg       *config.Config
	logger    *logging.Logger
	fetcher   *proxy.HTTPFetcher
	collector *metrics.Collector
	store     store.Store
	proxies   []proxy.Proxy
	template  proxy.CheckerOptions
	stderr    io.Writer

	mu      sync.Mutex
	reports []*proxy.Report
}

func (b *batch) record(report *proxy.Report) {
	b.mu.Lock()
	b.reports = append(b.reports, report)
	b.mu.Unlock()
}

func (b *batch) checker(logger *logging.Logger, reporter proxy.AttemptReporter) *proxy.Checker {
	opts := []proxy.Option{proxy.WithLogger(logger)}
	if b.collector != nil {
		opts = append(opts, proxy.WithMetrics(b.collector))
	}
	if reporter != nil {
		opts = append(opts, proxy.WithReporter(reporter))
	}
	return proxy.NewChecker(b.fetcher, b.fetcher, opts...)
}

func (b *batch) manager(inspector worker.Inspector, logger *logging.Logger, onStart worker.StartHandler) *worker.Manager {
	opts := []worker.Option{
		worker.WithConcurrency(b.cfg.Concurrency),
		worker.WithMaxDuration(b.cfg.MaxDuration),
		worker.WithStore(b.store),
		worker.WithMetrics(b.collector),
		worker.WithLogger(logger),
	}
	if b.cfg.RateLimit.Enabled {
		opts = append(opts, worker.WithRateLimit(b.cfg.RateLimit.PerSecond, b.cfg.RateLimit.Burst))
	}
	if onStart != nil {
		opts = append(opts, worker.WithStartHandler(onStart))
	}
	return worker.NewManager(inspector, b.fetcher, opts...)
}

// runPlain checks without the TUI, drawing a progress indicator and logging
// each verdict
func (b *batch) runPlain(ctx context.Context) (worker.Summary, error) {
	indicator := progresspkg.NewProgressIndicator(progresspkg.Config{
		Type:      progresspkg.ProgressType(b.o.progress),
		Width:     50,
		ShowETA:   true,
		ShowStats: true,
		NoColor:   help.DetectNoColor(),
		Output:    b.stderr,
	})

	var printer *ui.AttemptPrinter
	var reporter proxy.AttemptReporter
	if b.o.verbose || b.o.debug {
		printer = ui.NewAttemptPrinter(b.stderr, b.o.debug)
		reporter = printer
	}
	checker := b.checker(b.logger, reporter)
	manager := b.manager(checker, b.logger, nil)

	indicator.Start(len(b.proxies))
	var done int
	summary, err := manager.Run(ctx, b.proxies, b.template, func(p proxy.Proxy, report *proxy.Report) {
		b.record(report)
		indicator.Update(report.Result.IsWorking)

		b.mu.Lock()
		done++
		logger := b.logger.WithContext("progress", fmt.Sprintf("%d/%d", done, len(b.proxies)))
		b.mu.Unlock()

		if report.Result.IsWorking {
			logger.ProxyWorking(p.Address, report.Result.IsSSL, report.Result.WorkingProtocols, report.Anonymity.String())
		} else if b.o.verbose {
			logger.ProxyDead(p.Address, report.Error)
		}
		if printer != nil {
			printer.PrintReport(report)
		}
	})
	indicator.Finish("Proxy checking completed")
	return summary, err
}

// runTUI checks under the bubbletea program. Logs are dropped while the
// program owns the terminal; debug mode routes them to the debug pane.
func (b *batch) runTUI(ctx context.Context, cancel context.CancelFunc) (worker.Summary, error) {
	view := ui.NewView(len(b.proxies))
	view.SetMode(b.o.verbose, b.o.debug)
	view.CurrentIP = b.template.CurrentIP
	view.Version = help.Version

	model := ui.NewModel(view, cancel)
	program := tea.NewProgram(model, tea.WithContext(ctx))
	sink := ui.NewSink(program.Send)

	var reporter proxy.AttemptReporter
	if b.o.verbose || b.o.debug {
		reporter = sink
	}
	quiet := logging.Discard()
	checker := b.checker(quiet, reporter)
	manager := b.manager(checker, quiet, sink.CheckStarted)

	type outcome struct {
		summary worker.Summary
		err     error
	}
	finished := make(chan outcome, 1)
	go func() {
		if b.o.debug {
			sink.Debug(fmt.Sprintf("Checking %d proxies with %d workers", len(b.proxies), b.cfg.Concurrency))
		}
		summary, err := manager.Run(ctx, b.proxies, b.template, func(p proxy.Proxy, report *proxy.Report) {
			b.record(report)
			sink.CheckFinished(p, report)
		})
		sink.Done(err)
		finished <- outcome{summary, err}
	}()

	if _, err := program.Run(); err != nil && !stderrors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-finished
		return worker.Summary{}, fmt.Errorf("terminal UI: %w", err)
	}
	// Quitting early cancels ctx; wait for in-flight checks to finish.
	res := <-finished
	return res.summary, res.err
}

func (b *batch) writeOutputs(total int) {
	b.mu.Lock()
	reports := append([]*proxy.Report(nil), b.reports...)
	b.mu.Unlock()

	summary := output.GenerateSummary(reports, total)
	b.logger.SummaryStats(summary.TotalProxies, summary.WorkingProxies, summary.SSLProxies, summary.SuccessRate)

	writes := []struct {
		file   string
		format string
		write  func(string) error
	}{
		{b.o.outputFile, "text", func(f string) error { return output.WriteTextOutput(f, summary) }},
		{b.o.jsonFile, "json", func(f string) error { return output.WriteJSONOutput(f, summary) }},
		{b.o.workingFile, "working_proxies", func(f string) error { return output.WriteWorkingProxiesOutput(f, summary.Results) }},
		{b.o.anonymousFile, "anonymous_proxies", func(f string) error { return output.WriteAnonymousProxiesOutput(f, summary.Results) }},
	}
	for _, w := range writes {
		if w.file == "" {
			continue
		}
		if err := w.write(w.file); err != nil {
			b.logger.Error("Failed to write results", "error", err, "file", w.file, "format", w.format)
			continue
		}
		b.logger.ResultsSaved(w.file, w.format)
	}
}
