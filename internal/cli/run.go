package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vuramp/internal/config"
	"github.com/wesleyorama2/vuramp/internal/controller"
	"github.com/wesleyorama2/vuramp/internal/metrics"
	"github.com/wesleyorama2/vuramp/internal/output"
	"github.com/wesleyorama2/vuramp/internal/tracing"
	"github.com/wesleyorama2/vuramp/internal/workload"
)

// Run flag keys. The viper-bound ones also read VURAMP_* variables.
const (
	keyMetricsAddr  = "metrics-addr"
	keyOTLPEndpoint = "otlp-endpoint"
)

type runOptions struct {
	// Quick mode: a single scenario built from flags.
	url        string
	stages     string
	vus        int
	duration   string
	pacing     string
	thresholds []string

	format         string
	outputPath     string
	quiet          bool
	sampleRate     float64
	updateInterval time.Duration
	stopTimeout    time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected scenarios",
		Long: `Run the scenarios named by --scenario (or SCENARIO). An empty selection runs
nothing and exits successfully; "all" runs every configured scenario.

Config file mode:
  vuramp run --config scenarios.yaml --scenario Scenario_1,Scenario_2

Quick mode (single scenario against a URL):
  vuramp run --url http://localhost:8000/cpu_intensive?iterations=100 \
    --stages "30s:10,2m:10,30s:0" --pacing 1s

Exit codes: 0 passed, 1 configuration or run error, 2 thresholds failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringP(config.KeyScenario, "s", "", "Scenarios to run: comma-separated names or \"all\" (env SCENARIO)")
	flags.String(config.KeyHost, "", "Target host (env AWS_COMMUNITY_DAY_LB_DNS_NAME)")
	flags.String(config.KeyEndpoint, "", "Target endpoint path (env AWS_COMMUNITY_DAY_API_ENDPOINT)")
	flags.String(config.KeyParam, "", "Target query string (env AWS_COMMUNITY_DAY_API_ENDPOINT_PARAM)")

	flags.StringVar(&opts.url, "url", "", "URL to test (alternative to --config)")
	flags.StringVar(&opts.stages, "stages", "", "Stages in format 'duration:target,...' for quick mode")
	flags.IntVar(&opts.vus, "vus", 0, "VUs for a constant-vus quick run")
	flags.StringVar(&opts.duration, "duration", "", "Duration for a constant-vus quick run (e.g. 5m)")
	flags.StringVar(&opts.pacing, "pacing", "", "Pause after each iteration in quick mode (e.g. 1s)")
	flags.StringSliceVar(&opts.thresholds, "threshold", nil, "Threshold for quick mode, e.g. 'p95 < 500ms' (repeatable)")

	flags.StringVarP(&opts.format, "format", "f", "text", "Report format (text, json, yaml, junit, html)")
	flags.StringVarP(&opts.outputPath, "output", "o", "", "Write the report to a file (format from extension unless --format is set)")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, show only PASSED/FAILED")
	flags.String(keyMetricsAddr, "", "Serve Prometheus metrics on this address, e.g. :9090")
	flags.String(keyOTLPEndpoint, "", "OTLP/HTTP endpoint for iteration traces")
	flags.Float64Var(&opts.sampleRate, "trace-sample-rate", 0, "Trace sample rate between 0 and 1 (0: config value or always)")
	flags.DurationVar(&opts.updateInterval, "update-interval", time.Second, "Progress refresh interval")
	flags.DurationVar(&opts.stopTimeout, "stop-timeout", time.Minute, "How long to wait for scenarios to stop after an interrupt")

	return cmd
}

func (a *app) bindRunFlags(cmd *cobra.Command) error {
	for _, key := range []string{config.KeyScenario, config.KeyHost, config.KeyEndpoint, config.KeyParam, keyMetricsAddr, keyOTLPEndpoint} {
		if err := a.viper.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return err
		}
	}
	if err := a.viper.BindEnv(keyMetricsAddr, "VURAMP_METRICS_ADDR"); err != nil {
		return err
	}
	return a.viper.BindEnv(keyOTLPEndpoint, "VURAMP_OTLP_ENDPOINT")
}

func (a *app) run(cmd *cobra.Command, opts *runOptions) error {
	if err := a.bindRunFlags(cmd); err != nil {
		return err
	}
	fail := func(err error) error {
		return &ExitCodeError{Code: ExitError, Err: err}
	}

	format, err := reportFormat(cmd, opts)
	if err != nil {
		return fail(err)
	}

	cfg, source, sel, err := a.resolveRun(opts)
	if err != nil {
		return fail(err)
	}
	names, err := selectedNames(cfg, sel)
	if err != nil {
		return fail(err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	tracingCfg := cfg.Tracing
	if endpoint := a.viper.GetString(keyOTLPEndpoint); endpoint != "" {
		tracingCfg.Endpoint = endpoint
	}
	if opts.sampleRate > 0 {
		tracingCfg.SampleRate = opts.sampleRate
	}
	provider, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		return fail(err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	ctlOpts := []controller.Option{
		controller.WithLogger(a.logger),
		controller.WithTracer(provider.Tracer()),
	}
	if addr := a.viper.GetString(keyMetricsAddr); addr != "" {
		exporter, shutdown, err := a.serveMetrics(addr)
		if err != nil {
			return fail(err)
		}
		defer shutdown()
		ctlOpts = append(ctlOpts, controller.WithObserver(exporter.ForScenario))
	}

	env := config.LoadEnvironment(a.viper)
	specs, err := buildSpecs(cfg, names, env.Variables(), provider)
	if err != nil {
		return fail(err)
	}
	ctl, err := controller.New(specs, ctlOpts...)
	if err != nil {
		return fail(err)
	}

	// Progress goes to stderr when stdout carries a machine-readable report.
	consoleOut := cmd.OutOrStdout()
	if format != output.FormatText && opts.outputPath == "" {
		consoleOut = cmd.ErrOrStderr()
	}
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  consoleOut,
		Quiet:   opts.quiet,
		NoColor: a.viper.GetBool(keyNoColor),
	})

	title := cfg.Name
	if title == "" {
		title = "vuramp"
	}
	console.PrintHeader(title, source, names)
	a.logger.WithFields(logrus.Fields{
		"config":    source,
		"selection": sel.String(),
		"scenarios": len(names),
	}).Debug("Starting run")

	summary, err := a.execute(ctx, ctl, sel, console, opts)
	if err != nil {
		return fail(err)
	}

	console.PrintSummary(summary)
	if err := writeReport(cmd.OutOrStdout(), summary, format, opts.outputPath, title); err != nil {
		return fail(err)
	}
	if opts.outputPath != "" && !opts.quiet {
		fmt.Fprintf(consoleOut, "Report: %s\n", opts.outputPath)
	}

	switch {
	case summary.Errored():
		return &ExitCodeError{Code: ExitError}
	case summary.Failed():
		return &ExitCodeError{Code: ExitThresholdsFailed}
	default:
		return nil
	}
}

// resolveRun picks the configuration and the selection: quick mode runs
// its single scenario, otherwise the config file (or the built-in one)
// runs whatever --scenario or SCENARIO selects.
func (a *app) resolveRun(opts *runOptions) (*config.TestConfig, string, controller.Selection, error) {
	if opts.url != "" {
		cfg, err := buildQuickConfig(opts)
		return cfg, "flags", controller.SelectAll(), err
	}

	cfg, source, err := a.loadConfig()
	if err != nil {
		return nil, "", controller.Selection{}, err
	}
	sel := controller.ParseSelection(a.viper.GetString(config.KeyScenario))
	return cfg, source, sel, nil
}

// selectedNames checks the selection against the configuration before
// anything is built, so an unknown name starts nothing.
func selectedNames(cfg *config.TestConfig, sel controller.Selection) ([]string, error) {
	if sel.All() {
		return cfg.Names(), nil
	}
	var missing []string
	for _, name := range sel.Names() {
		if _, ok := cfg.Scenario(name); !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s (configured: %s)", controller.ErrNotFound,
			strings.Join(missing, ", "), strings.Join(cfg.Names(), ", "))
	}
	names := sel.Names()
	sort.Strings(names)
	return names, nil
}

// buildSpecs resolves the executor and HTTP workload of each selected
// scenario. Unselected scenarios are never resolved, so their unset
// variables do not matter.
func buildSpecs(cfg *config.TestConfig, names []string, vars map[string]string, provider *tracing.Provider) (map[string]controller.ScenarioSpec, error) {
	specs := make(map[string]controller.ScenarioSpec, len(names))
	for _, name := range names {
		sc, _ := cfg.Scenario(name)

		execCfg, err := config.ConvertToExecutorConfig(name, sc)
		if err != nil {
			return nil, err
		}
		httpCfg, err := cfg.ConvertToWorkloadConfig(name, vars)
		if err != nil {
			return nil, err
		}
		wl, err := workload.NewHTTP(httpCfg,
			workload.WithTracer(provider.Tracer()),
			workload.WithPropagation(provider.Enabled()),
		)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", name, err)
		}

		specs[name] = controller.ScenarioSpec{
			Executor:   execCfg,
			Workload:   wl,
			Thresholds: sc.Thresholds,
		}
	}
	return specs, nil
}

type runResult struct {
	summary *controller.RunSummary
	err     error
}

// execute runs the controller while refreshing progress, and turns the
// first SIGINT or SIGTERM into a graceful Stop.
func (a *app) execute(ctx context.Context, ctl *controller.Controller, sel controller.Selection, console *output.Console, opts *runOptions) (*controller.RunSummary, error) {
	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	done := make(chan runResult, 1)
	go func() {
		summary, err := ctl.Run(sigCtx, sel)
		done <- runResult{summary, err}
	}()

	interval := opts.updateInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	interrupted := sigCtx.Done()
	for {
		select {
		case res := <-done:
			return res.summary, res.err

		case <-interrupted:
			interrupted = nil
			a.logger.Warn("Interrupt received, stopping scenarios")
			stopCtx, cancel := context.WithTimeout(context.Background(), opts.stopTimeout)
			if err := ctl.Stop(stopCtx); err != nil {
				a.logger.WithError(err).Error("Scenarios did not stop in time")
			}
			cancel()

		case <-ticker.C:
			if !ctl.IsRunning() {
				continue
			}
			progress := output.CollectProgress(ctl.Stats(), ctl.Snapshots())
			if console.IsTTY() {
				console.Update(progress)
			} else {
				console.PrintNonInteractiveUpdate(progress)
			}
		}
	}
}

// serveMetrics starts a Prometheus endpoint and returns the exporter to
// attach to every scenario.
func (a *app) serveMetrics(addr string) (*metrics.PrometheusExporter, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exporter, err := metrics.NewPrometheusExporter(reg)
	if err != nil {
		return nil, nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("Metrics server failed")
		}
	}()
	a.logger.WithField("addr", ln.Addr().String()).Info("Serving Prometheus metrics")

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return exporter, shutdown, nil
}

// reportFormat resolves --format, inferring it from --output when the
// flag was left at its default.
func reportFormat(cmd *cobra.Command, opts *runOptions) (output.Format, error) {
	if opts.outputPath != "" && !cmd.Flags().Changed("format") {
		return output.FormatForPath(opts.outputPath), nil
	}
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return "", err
	}
	if format == output.FormatText && opts.outputPath != "" {
		return "", fmt.Errorf("--output needs a report format (json, yaml, junit, html)")
	}
	return format, nil
}

func writeReport(stdout io.Writer, summary *controller.RunSummary, format output.Format, path, title string) error {
	if format == output.FormatText {
		return nil
	}
	if path == "" {
		if format == output.FormatHTML {
			return output.WriteHTML(stdout, summary, title)
		}
		return output.WriteReport(stdout, summary, format)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if format == output.FormatHTML {
		err = output.WriteHTML(f, summary, title)
	} else {
		err = output.WriteReport(f, summary, format)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}
