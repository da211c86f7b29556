package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/performance"
	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/output"
	"github.com/wesleyorama2/stampede/internal/storefront"
)

// BaseURLEnv overrides the plan's base URL when --base-url is not given.
const BaseURLEnv = "BASE_URL"

type runOptions struct {
	configPath  string
	preset      string
	baseURL     string
	stages      string
	outPath     string
	metricsAddr string
	maxRPS      float64
	jsonOut     bool
	quiet       bool
	verbose     bool
	noColor     bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a plan file or a built-in preset",
		Long: `Run a staged load test and print the verdict.

Plan file mode:
  stampede run --config plan.yaml

Preset mode (defaults to the storefront preset):
  stampede run --preset catalog --base-url http://localhost:8080

Shorter stages for a smoke run:
  stampede run --preset storefront --stages "10s:5,20s:5,10s:0"

Exit codes: 0 PASS, 99 thresholds failed, 107 aborted, 1 usage error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Plan file (YAML or JSON)")
	flags.StringVarP(&opts.preset, "preset", "p", "", "Built-in plan: "+strings.Join(storefront.Names(), ", "))
	flags.StringVar(&opts.baseURL, "base-url", "", "Target base URL (default $"+BaseURLEnv+" or the plan's)")
	flags.StringVar(&opts.stages, "stages", "", "Override stages, format 'duration:target,...'")
	flags.StringVarP(&opts.outPath, "out", "o", "", "Write the JSON summary to this file")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	flags.Float64Var(&opts.maxRPS, "max-rps", 0, "Cap the global request rate (0 = unlimited)")
	flags.BoolVar(&opts.jsonOut, "json", false, "Print the summary as JSON instead of tables")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "Disable live progress output, print only the verdict")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.MarkFlagsMutuallyExclusive("config", "preset")

	return cmd
}

// runLoadTest runs one plan and maps its verdict to an exit code.
func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: fmt.Errorf("failed to create logger: %w", err)}
	}
	defer func() { _ = logger.Sync() }()

	plan, requester, err := loadPlan(opts)
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	collector := metrics.NewCollector()
	if opts.metricsAddr != "" {
		addr, stop, err := serveMetrics(opts.metricsAddr, collector, logger)
		if err != nil {
			return &ExitError{Code: ExitUsage, Err: err}
		}
		defer stop()
		logger.Info("serving metrics", zap.String("addr", addr))
	}

	eng, err := engine.New(plan, engine.Options{
		Requester: requester,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return &ExitError{Code: ExitUsage, Err: err}
	}

	out := cmd.OutOrStdout()
	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		PlanName: plan.Name,
		Writer:   out,
		Quiet:    opts.quiet || opts.jsonOut,
		NoColor:  opts.noColor,
	})
	console.PrintHeader(len(plan.Stages), plan.TotalDuration(), scenarioNames(plan))

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			eng.Abort("interrupted")
		case <-done:
		}
	}()

	followCtx, stopFollow := context.WithCancel(ctx)
	go func() {
		defer wg.Done()
		console.Follow(followCtx, time.Second, eng.Progress)
	}()

	summary, runErr := eng.Run(cmd.Context())
	close(done)
	stopFollow()
	wg.Wait()

	if summary == nil {
		return &ExitError{Code: ExitAborted, Err: runErr}
	}

	if opts.jsonOut {
		if err := output.WriteJSON(out, summary); err != nil {
			return &ExitError{Code: ExitUsage, Err: err}
		}
	} else {
		console.PrintSummary(summary)
	}

	if opts.outPath != "" {
		if err := output.WriteJSONFile(opts.outPath, summary); err != nil {
			logger.Error("failed to write summary", zap.String("path", opts.outPath), zap.Error(err))
		} else if !opts.jsonOut && !opts.quiet {
			fmt.Fprintf(out, "Summary written to: %s\n", opts.outPath)
		}
	}

	return verdictError(summary, runErr)
}

// verdictError maps a summary to the process outcome.
func verdictError(s *engine.Summary, runErr error) error {
	switch s.Verdict {
	case engine.VerdictPass:
		return nil
	case engine.VerdictFail:
		return &ExitError{Code: ExitThreshold}
	default:
		if runErr == nil {
			runErr = fmt.Errorf("run aborted: %s", s.AbortReason)
		}
		return &ExitError{Code: ExitAborted, Err: runErr}
	}
}

// loadPlan builds the plan and requester selected by the flags.
func loadPlan(opts *runOptions) (*performance.Plan, performance.Requester, error) {
	baseURL := resolveBaseURL(opts.baseURL)

	stages, err := parseStages(opts.stages)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid stages format: %w", err)
	}

	if opts.configPath != "" {
		cfg, err := config.LoadConfig(opts.configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("error loading config: %w", err)
		}
		if baseURL != "" {
			cfg.Settings.BaseURL = baseURL
		}
		if opts.maxRPS > 0 {
			cfg.Settings.MaxRPS = opts.maxRPS
		}
		if len(stages) > 0 {
			cfg.Stages = make([]config.StageConfig, len(stages))
			for i, s := range stages {
				cfg.Stages[i] = config.StageConfig{Name: s.Name, Duration: config.Duration(s.Duration), Target: s.Target}
			}
		}

		plan, err := config.Build(cfg)
		if err != nil {
			return nil, nil, err
		}
		return plan, performance.NewHTTPRequester(cfg.Settings.HTTPClientConfig()), nil
	}

	name := opts.preset
	if name == "" {
		name = "storefront"
	}
	preset, err := storefront.Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	plan, err := preset.Build(storefront.Options{
		Settings: performance.Settings{BaseURL: baseURL, MaxRPS: opts.maxRPS},
		Stages:   stages,
	})
	if err != nil {
		return nil, nil, err
	}
	return plan, performance.NewHTTPRequester(performance.DefaultHTTPClientConfig()), nil
}

// resolveBaseURL prefers the flag, then the environment. An empty result
// keeps the plan's own base URL.
func resolveBaseURL(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(BaseURLEnv)
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0". An empty
// string yields no stages.
func parseStages(stagesStr string) ([]performance.Stage, error) {
	if strings.TrimSpace(stagesStr) == "" {
		return nil, nil
	}

	var stages []performance.Stage

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Parse "duration:target" format
		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		duration, err := config.ParseDurationString(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, performance.Stage{
			Name:     fmt.Sprintf("stage-%d", i+1),
			Duration: duration,
			Target:   target,
		})
	}

	if len(stages) == 0 {
		return nil, errors.New("at least one stage is required")
	}

	return stages, nil
}

func scenarioNames(plan *performance.Plan) []string {
	var names []string
	for _, s := range plan.Scenarios.Scenarios() {
		names = append(names, s.Name)
	}
	return names
}

// serveMetrics exposes collector on addr until stop is called. It returns
// the bound address.
func serveMetrics(addr string, collector *metrics.Collector, logger *zap.Logger) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", metrics.NewExporter(collector).Handler())

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return ln.Addr().String(), stop, nil
}
