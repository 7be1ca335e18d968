package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/logging"
	"github.com/wesleyorama2/surge/internal/orchestrator"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/schedule"
	"github.com/wesleyorama2/surge/internal/threshold"
)

const defaultPreset = "smoke"

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file or from flags.

Config file mode:
  surge run --config examples/menu-items-spike.yaml

Flag mode:
  surge run --url http://localhost:8083/api/restaurants/1/menu-items \
    --stages "30s:5,1m:5,30s:0" \
    --threshold "http_req_duration:p95 < 500ms"

Flags override values from the config file. Without stages or a preset the
"smoke" preset is used. The exit code is 1 when a threshold fails or the run
is interrupted, and 2 when the configuration is invalid.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.bind(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd)
		},
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	f.String("name", "", "Test name for reporting")
	f.StringP("url", "u", "", "Target URL")
	f.StringP("method", "X", "", "HTTP method (default GET)")
	f.StringArrayP("header", "H", nil, "HTTP header, e.g. \"Accept: application/json\" (repeatable)")
	f.StringP("body", "b", "", "Request body")
	f.String("stages", "", "Stages as 'duration:target,...', e.g. \"30s:10,1m:10,30s:0\"")
	f.String("preset", "", "Built-in stage preset (see 'surge presets')")
	f.Int("start-vus", 0, "VUs at the start of the first stage")
	f.Duration("sleep", orchestrator.DefaultSleep, "Pause between iterations of each VU")
	f.Duration("timeout", 0, "Request timeout (default 30s)")
	f.Duration("graceful-stop", 0, "Time allowed for in-flight iterations to finish (default 30s)")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.StringArray("threshold", nil, "Threshold as 'metric:expression', e.g. \"http_req_failed:rate < 0.01\" (repeatable)")
	f.StringArray("var", nil, "Template variable as key=value (repeatable)")
	f.StringP("out", "o", "", "Write the result to a file (.json, .yaml, .xml, .txt)")
	f.String("format", "text", "Summary format on stdout: text, json, yaml, junit")
	f.BoolP("quiet", "q", false, "Disable live progress, print only pass or fail")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run, e.g. :9090")
	f.String("cpuprofile", "", "Write a CPU profile of the load generator to this file")
	f.Duration("progress-interval", time.Second, "How often live progress is printed")
	_ = f.MarkHidden("progress-interval")

	return cmd
}

func (a *app) run(cmd *cobra.Command) error {
	cfg, err := a.buildRunConfig(cmd)
	if err != nil {
		return configError(err)
	}

	opts, err := cfg.Options()
	if err != nil {
		return configError(err)
	}

	format, err := output.ParseFormat(a.v.GetString("format"))
	if err != nil {
		return configError(err)
	}

	logger, err := a.logger()
	if err != nil {
		return configError(err)
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	opts.Logger = logger
	opts.Registerer = registry

	orch, err := orchestrator.New(opts)
	if err != nil {
		return configError(err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path := a.v.GetString("cpuprofile"); path != "" {
		stopProfile, err := startCPUProfile(path)
		if err != nil {
			return configError(err)
		}
		defer stopProfile()
	}

	if addr := a.v.GetString("metrics-addr"); addr != "" {
		_, shutdown, err := serveMetrics(addr, registry, logger)
		if err != nil {
			return configError(err)
		}
		defer shutdown()
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  a.stdout,
		Quiet:   a.v.GetBool("quiet") || format != output.FormatText,
		NoColor: a.v.GetBool("no-color"),
	})

	sched := opts.Schedule
	console.PrintHeader(output.Header{
		Name:     opts.Name,
		RunID:    orch.RunID(),
		Method:   opts.Template.Method,
		URL:      opts.Template.URL,
		Total:    sched.TotalDuration(),
		MaxVUs:   sched.MaxTarget(),
		NumStage: len(sched.Stages()),
	})

	result, runErr := runWithProgress(ctx, orch, console, len(sched.Stages()), a.v.GetDuration("progress-interval"))
	if result == nil {
		return runErr
	}

	if format == output.FormatText {
		console.PrintSummary(result)
	} else if err := output.WriteResult(a.stdout, format, result); err != nil {
		return err
	}

	if path := a.v.GetString("out"); path != "" {
		if err := output.WriteResultFile(path, result); err != nil {
			return err
		}
	}

	if runErr != nil {
		return &ExitError{Code: ExitFailed, Err: runErr}
	}
	if !result.Passed {
		return &ExitError{Code: ExitFailed, Err: errors.New("one or more thresholds failed")}
	}
	return nil
}

// runWithProgress runs orch while refreshing the console on every interval.
func runWithProgress(ctx context.Context, orch *orchestrator.Orchestrator, console *output.Console, numStages int, interval time.Duration) (*orchestrator.Result, error) {
	if interval <= 0 {
		interval = time.Second
	}

	var (
		result *orchestrator.Result
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = orch.Run(ctx)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return result, runErr
		case <-ticker.C:
			console.Update(orch.Progress(), numStages)
		}
	}
}

// buildRunConfig loads --config when given and applies flag overrides.
func (a *app) buildRunConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	v := a.v

	cfg := &config.RunConfig{}
	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if v.GetString("url") == "" {
		return nil, errors.New("either --config or --url is required")
	}

	if v.IsSet("name") {
		cfg.Name = v.GetString("name")
	}
	if v.IsSet("url") {
		cfg.Request.URL = v.GetString("url")
	}
	if v.IsSet("method") {
		cfg.Request.Method = v.GetString("method")
	}
	if v.IsSet("body") {
		cfg.Request.Body = v.GetString("body")
	}

	headers, _ := cmd.Flags().GetStringArray("header")
	if len(headers) > 0 {
		merged := make(map[string]string, len(cfg.Request.Headers)+len(headers))
		for k, val := range cfg.Request.Headers {
			merged[k] = val
		}
		for _, h := range headers {
			key, val, ok := strings.Cut(h, ":")
			if !ok || strings.TrimSpace(key) == "" {
				return nil, fmt.Errorf("invalid header %q, expected 'Key: Value'", h)
			}
			merged[strings.TrimSpace(key)] = strings.TrimSpace(val)
		}
		cfg.Request.Headers = merged
	}

	vars, _ := cmd.Flags().GetStringArray("var")
	if len(vars) > 0 {
		override := make(map[string]string, len(vars))
		for _, kv := range vars {
			key, val, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("invalid variable %q, expected key=value", kv)
			}
			override[key] = val
		}
		cfg.Variables = config.MergeVariables(cfg.Variables, override)
	}

	if v.IsSet("stages") && v.IsSet("preset") {
		return nil, errors.New("--stages and --preset are mutually exclusive")
	}
	if v.IsSet("stages") {
		stages, err := schedule.ParseStages(v.GetString("stages"))
		if err != nil {
			return nil, err
		}
		cfg.Preset = ""
		cfg.Stages = make([]config.StageConfig, len(stages))
		for i, st := range stages {
			cfg.Stages[i] = config.StageConfig{Duration: config.Duration(st.Duration), Target: st.Target, Name: st.Name}
		}
	}
	if v.IsSet("preset") {
		cfg.Preset = v.GetString("preset")
		cfg.Stages = nil
	}
	if cfg.Preset == "" && len(cfg.Stages) == 0 {
		cfg.Preset = defaultPreset
	}

	if v.IsSet("start-vus") {
		cfg.StartVUs = v.GetInt("start-vus")
	}
	if v.IsSet("sleep") {
		cfg.Sleep = config.NewDuration(v.GetDuration("sleep"))
	}
	if v.IsSet("timeout") {
		cfg.Settings.Timeout = config.Duration(v.GetDuration("timeout"))
	}
	if v.IsSet("graceful-stop") {
		cfg.GracefulStop = config.Duration(v.GetDuration("graceful-stop"))
	}
	if v.IsSet("insecure") {
		cfg.Settings.InsecureSkipVerify = v.GetBool("insecure")
	}

	exprs, _ := cmd.Flags().GetStringArray("threshold")
	for _, s := range exprs {
		metric, expr, err := threshold.ParseFlag(s)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold: %w", err)
		}
		if cfg.Thresholds == nil {
			cfg.Thresholds = &threshold.Config{}
		}
		if err := cfg.Thresholds.Add(metric, expr); err != nil {
			return nil, fmt.Errorf("invalid threshold: %w", err)
		}
	}

	return cfg, nil
}

// serveMetrics exposes registry on addr until the returned func is called.
func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := logging.Component(logger, "metrics").With(zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics")

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
