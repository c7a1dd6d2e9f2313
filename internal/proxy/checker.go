package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/logging"
)

// AttemptReporter receives every attempt of a verbose check. It is for human
// operators only and never influences the result.
type AttemptReporter interface {
	ReportAttempt(address string, outcome ProbeOutcome)
}

// AttemptRecorder observes every attempt regardless of verbosity
type AttemptRecorder interface {
	RecordAttempt(outcome ProbeOutcome)
}

// Checker drives the fetcher across the TLS x protocol matrix. A Checker holds
// no per-check state and is safe for concurrent use on different proxies.
type Checker struct {
	fetcher  Fetcher
	resolver IPResolver
	prober   Prober
	logger   *logging.Logger
	reporter AttemptReporter
	recorder AttemptRecorder
	now      func() time.Time
}

// Option configures a Checker
type Option func(*Checker)

// WithProber replaces the TCP reachability pre-filter
func WithProber(p Prober) Option {
	return func(c *Checker) { c.prober = p }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReporter sets the verbose attempt reporter
func WithReporter(r AttemptReporter) Option {
	return func(c *Checker) { c.reporter = r }
}

// WithMetrics sets the attempt recorder
func WithMetrics(r AttemptRecorder) Option {
	return func(c *Checker) { c.recorder = r }
}

// NewChecker creates a checker. resolver may be nil when every caller passes
// CheckerOptions.CurrentIP.
func NewChecker(fetcher Fetcher, resolver IPResolver, opts ...Option) *Checker {
	c := &Checker{
		fetcher:  fetcher,
		resolver: resolver,
		prober:   TCPProber{},
		logger:   logging.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check runs one check and returns only the aggregate verdict
func (c *Checker) Check(ctx context.Context, opts CheckerOptions) CheckerResult {
	return c.Inspect(ctx, opts).Result
}

// Inspect runs one check and returns everything learned on the way.
//
// TLS is tried before plain and the first working protocol ends a pass. A
// working TLS pass ends the check, so a proxy is reported as SSL capable in
// preference to listing its plain protocols.
func (c *Checker) Inspect(ctx context.Context, opts CheckerOptions) *Report {
	opts = opts.WithDefaults()
	started := c.now()
	report := &Report{
		Address:   opts.TargetAddress,
		Result:    notWorking(),
		Anonymity: AnonymityUnknown,
		CheckedAt: started,
	}
	defer func() { report.Elapsed = c.now().Sub(started) }()

	logger := c.logger.WithProxy(opts.TargetAddress)

	currentIP, err := c.currentIP(ctx, opts)
	if err != nil {
		report.Error = err.Error()
		logger.Error("Cannot determine current IP, aborting check", "error", err)
		return report
	}
	report.CurrentIP = currentIP

	proxyIP, port, err := splitTarget(opts.TargetAddress)
	if err != nil {
		report.Error = err.Error()
		logger.Debug("Invalid target address", "error", err)
		return report
	}
	report.ProxyIP = proxyIP

	if !c.prober.IsPortOpen(ctx, proxyIP, port, opts.Timeout()) {
		report.Error = errors.NewCheckError(errors.ErrorPortClosed, "port not reachable", opts.TargetAddress, nil).Error()
		logger.Debug("Port closed, skipping protocol probes")
		return report
	}

	var (
		working []string
		ssl     bool
		winner  *ProbeOutcome
	)

	for _, useTLS := range []bool{true, false} {
		for _, protocol := range opts.Protocols {
			if ctx.Err() != nil {
				report.Error = ctx.Err().Error()
				return report
			}

			outcome := c.attempt(ctx, opts, protocol, useTLS, currentIP, proxyIP)
			report.Outcomes = append(report.Outcomes, outcome)
			c.observe(logger, opts, outcome)

			if outcome.Succeeded {
				working = append(working, protocol.String())
				winner = &report.Outcomes[len(report.Outcomes)-1]
				break
			}
		}
		if len(working) > 0 {
			ssl = useTLS
			break
		}
	}

	report.Result = Aggregate(len(working) > 0, ssl, working)
	if winner != nil {
		report.Anonymity = ClassifyAnonymity(
			[]JudgeReport{{Content: winner.ipReport}},
			[]JudgeReport{{Content: winner.JudgeHeaders}},
			currentIP,
		)
		if chained, reason := DetectProxyChain(ParseJudgeHeaders(winner.JudgeHeaders)); chained {
			report.Chain = reason
		}
	}

	return report
}

func (c *Checker) currentIP(ctx context.Context, opts CheckerOptions) (string, error) {
	if opts.CurrentIP != "" {
		return opts.CurrentIP, nil
	}
	if c.resolver == nil {
		return "", errors.NewCheckError(errors.ErrorCurrentIPUnavailable, "no current ip resolver configured", opts.TargetAddress, nil)
	}
	ip, err := c.resolver.CurrentIP(ctx)
	if err != nil {
		return "", err
	}
	if ip == "" {
		return "", errors.NewCheckError(errors.ErrorCurrentIPUnavailable, "resolver returned no ip", opts.TargetAddress, nil)
	}
	return ip, nil
}

func (c *Checker) attempt(ctx context.Context, opts CheckerOptions, protocol Protocol, useTLS bool, currentIP, proxyIP string) ProbeOutcome {
	started := c.now()
	outcome := ProbeOutcome{Protocol: protocol, UseTLS: useTLS}

	res, err := c.fetcher.FetchPublicIP(ctx, FetchOptions{
		ProxyAddress: opts.TargetAddress,
		Protocol:     protocol,
		Username:     opts.Username,
		Password:     opts.Password,
		Timeout:      opts.Timeout(),
		UseTLS:       useTLS,
	})
	outcome.Duration = c.now().Sub(started)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	if res == nil {
		outcome.Err = errors.NewProbeError(errors.ErrorProbeNoIP, protocol.String(), useTLS, "", fmt.Errorf("empty fetch result"))
		return outcome
	}

	outcome.ipReport = res.IPReportBody
	outcome.JudgeHeaders = res.JudgeHeadersBody
	outcome.ObservedIP = FirstIP(res.IPReportBody)
	if outcome.ObservedIP == "" {
		outcome.Err = errors.NewProbeError(errors.ErrorProbeNoIP, protocol.String(), useTLS, "", fmt.Errorf("no ip in judge response"))
		return outcome
	}

	outcome.Classification = Classify(outcome.ObservedIP, currentIP, proxyIP)
	outcome.Succeeded = outcome.Classification != ClassificationFailed
	return outcome
}

// Classify grades a single attempt from the IP the judge observed. A judge
// seeing our own IP means nothing was proxied, except when we are the
// loopback judge host used in local testing.
func Classify(observed, currentIP, proxyIP string) Classification {
	if observed == "" {
		return ClassificationFailed
	}
	if sameIP(observed, currentIP) && currentIP != LoopbackIP {
		return ClassificationFailed
	}
	if sameIP(observed, proxyIP) {
		return ClassificationDirect
	}
	if !sameIP(observed, currentIP) {
		return ClassificationHighAnonymity
	}
	return ClassificationFailed
}

func (c *Checker) observe(logger *logging.Logger, opts CheckerOptions, outcome ProbeOutcome) {
	if c.recorder != nil {
		c.recorder.RecordAttempt(outcome)
	}

	level := slog.LevelDebug
	if opts.Verbose {
		level = slog.LevelInfo
		if c.reporter != nil {
			c.reporter.ReportAttempt(opts.TargetAddress, outcome)
		}
	}

	args := []any{
		"protocol", outcome.Protocol.String(),
		"tls", outcome.UseTLS,
		"classification", outcome.Classification.String(),
		"duration", outcome.Duration.Round(time.Millisecond),
	}
	if outcome.ObservedIP != "" {
		args = append(args, "observed_ip", outcome.ObservedIP)
	}
	if outcome.Err != nil {
		args = append(args, "error", outcome.Err)
	}
	logger.Log(context.Background(), level, "Probe attempt", args...)
}

func splitTarget(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid target address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", address)
	}
	return host, port, nil
}
