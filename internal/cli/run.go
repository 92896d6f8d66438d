package cli

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/output"
	"github.com/wesleyorama2/stampede/internal/performance/summary"
)

// progressInterval is how often live statistics are refreshed.
var progressInterval = time.Second

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [config-file]",
		Short: "Run a load test",
		Long: `Run a load test from a YAML or JSON configuration file. Without a file the
built-in scenario runs: 10 VUs for 10s against http://localhost:8090/ with a
"status is 200" check and the thresholds
  http_req_failed:   rate<0.01
  http_req_duration: p(95)<1000
  checks:            rate>0.99

Flags override the file:
  stampede run --url https://api.example.com/health --vus 50 --duration 1m \
    --threshold "http_req_duration=p(99)<500"

Exit codes: 0 all thresholds passed, 99 a threshold was crossed,
104 invalid configuration, 105 interrupted, 1 any other error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runTest,
	}

	flags := cmd.Flags()
	flags.String("url", "", "target URL")
	flags.String("method", "", "HTTP method")
	flags.IntP("vus", "u", 0, "number of virtual users")
	flags.StringP("duration", "d", "", "test duration, e.g. 30s or 2m")
	flags.StringArray("threshold", nil, "threshold as metric=expression, repeatable; replaces the file's thresholds for that metric")
	flags.Float64("rps", 0, "cap on requests per second across all VUs (0 = unlimited)")
	flags.String("timeout", "", "per-request timeout")
	flags.String("graceful-stop", "", "how long in-flight requests may run past the deadline")
	flags.Bool("insecure-skip-tls-verify", false, "skip TLS certificate verification")
	flags.String("summary-export", "", "write the end-of-test summary as JSON to this path")
	addOutputFlags(cmd)

	return cmd
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("quiet", "q", false, "only print the verdict")
	cmd.Flags().Bool("no-color", false, "disable colored output")
}

func runTest(cmd *cobra.Command, args []string) error {
	testConfig, err := loadRunConfig(args)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}
	if err := applyRunFlags(cmd, testConfig); err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	eng, err := engine.NewEngine(testConfig)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	summaryExport, _ := cmd.Flags().GetString("summary-export")

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   quiet,
		NoColor: noColor,
	})

	effective := eng.GetConfig()
	console.PrintHeader(effective, string(eng.ExecutorType()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	type runResult struct {
		result *engine.TestResult
		err    error
	}
	done := make(chan runResult, 1)
	go func() {
		result, err := eng.Run(ctx)
		done <- runResult{result: result, err: err}
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	total := time.Duration(effective.Duration)
	var outcome runResult
progressLoop:
	for {
		select {
		case outcome = <-done:
			break progressLoop
		case <-ticker.C:
			console.Update(output.StatsFromSnapshot(eng.GetMetrics(), eng.GetProgress(), total, effective.VUs))
		}
	}
	console.Finish()

	result := outcome.result
	if result == nil {
		return errors.Wrap(outcome.err, "test failed to run")
	}

	console.PrintSummary(result)

	catcher := grip.NewBasicCatcher()
	catcher.Wrap(outcome.err, "test run")
	if summaryExport != "" {
		catcher.Add(exportSummary(result, summaryExport))
	}
	if catcher.HasErrors() {
		return catcher.Resolve()
	}

	switch {
	case !result.Passed:
		return &ExitError{Code: ExitThresholdsFailed}
	case result.Interrupted:
		return &ExitError{Code: ExitInterrupted, Err: errors.New("test was interrupted")}
	}
	return nil
}

func exportSummary(result *engine.TestResult, path string) error {
	s, err := summary.FromResult(result)
	if err != nil {
		return errors.Wrap(err, "failed to build summary")
	}
	if err := s.Write(path); err != nil {
		return err
	}
	grip.Info(message.Fields{
		"message": "summary exported",
		"path":    path,
	})
	return nil
}

// loadRunConfig loads the file named by args, or the built-in scenario.
func loadRunConfig(args []string) (*config.TestConfig, error) {
	if len(args) == 0 {
		return config.Default(), nil
	}
	return config.LoadConfig(args[0])
}

// applyRunFlags overrides testConfig with every flag set on the command
// line.
func applyRunFlags(cmd *cobra.Command, testConfig *config.TestConfig) error {
	flags := cmd.Flags()

	if flags.Changed("url") {
		testConfig.Request.URL, _ = flags.GetString("url")
	}
	if flags.Changed("method") {
		method, _ := flags.GetString("method")
		testConfig.Request.Method = strings.ToUpper(method)
	}
	if flags.Changed("vus") {
		testConfig.VUs, _ = flags.GetInt("vus")
	}
	if flags.Changed("rps") {
		testConfig.Options.RPS, _ = flags.GetFloat64("rps")
	}
	if flags.Changed("insecure-skip-tls-verify") {
		testConfig.Settings.InsecureSkipVerify, _ = flags.GetBool("insecure-skip-tls-verify")
	}

	durations := []struct {
		flag   string
		target *config.Duration
	}{
		{"duration", &testConfig.Duration},
		{"timeout", &testConfig.Request.Timeout},
		{"graceful-stop", &testConfig.Options.GracefulStop},
	}
	for _, d := range durations {
		if !flags.Changed(d.flag) {
			continue
		}
		raw, _ := flags.GetString(d.flag)
		parsed, err := config.ParseDurationString(raw)
		if err != nil {
			return errors.Wrapf(err, "--%s", d.flag)
		}
		*d.target = config.Duration(parsed)
	}

	if flags.Changed("threshold") {
		raw, _ := flags.GetStringArray("threshold")
		overrides, err := parseThresholdFlags(raw)
		if err != nil {
			return err
		}
		if testConfig.Thresholds == nil {
			testConfig.Thresholds = make(config.Thresholds)
		}
		for metric, exprs := range overrides {
			testConfig.Thresholds[metric] = exprs
		}
	}

	grip.Debug(message.Fields{
		"message":  "configuration after flag overrides",
		"url":      testConfig.Request.URL,
		"vus":      testConfig.VUs,
		"duration": testConfig.Duration.String(),
	})
	return nil
}

// parseThresholdFlags groups "metric=expression" flag values by metric.
func parseThresholdFlags(values []string) (config.Thresholds, error) {
	out := make(config.Thresholds)
	for _, v := range values {
		metric, expr, ok := strings.Cut(v, "=")
		metric = strings.TrimSpace(metric)
		expr = strings.TrimSpace(expr)
		if !ok || metric == "" || expr == "" {
			return nil, errors.Errorf("invalid --threshold %q, want metric=expression", v)
		}
		out[metric] = append(out[metric], expr)
	}
	return out, nil
}
