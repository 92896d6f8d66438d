package cli

import (
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/performance/config"
	"github.com/wesleyorama2/stampede/internal/performance/output"
	"github.com/wesleyorama2/stampede/internal/performance/summary"
	"github.com/wesleyorama2/stampede/internal/performance/threshold"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <summary.json> [config-file]",
		Short: "Evaluate thresholds against an exported summary",
		Long: `Re-evaluate thresholds offline against a summary written by
"stampede run --summary-export". Thresholds come from the config file, then
--threshold flags; with neither, the thresholds recorded in the summary are
evaluated again.

Exit codes match "stampede run".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: checkSummary,
	}

	cmd.Flags().StringArray("threshold", nil, "threshold as metric=expression, repeatable")
	addOutputFlags(cmd)

	return cmd
}

func checkSummary(cmd *cobra.Command, args []string) error {
	doc, err := summary.Load(args[0])
	if err != nil {
		return err
	}

	thresholds, err := checkThresholds(cmd, args[1:], doc)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: err}
	}

	parsed, err := threshold.ParseSet(thresholds)
	if err != nil {
		return &ExitError{Code: ExitInvalidConfig, Err: errors.Wrap(err, "invalid thresholds")}
	}

	evaluation := threshold.Evaluate(parsed, doc)
	grip.Info(message.Fields{
		"message":    "thresholds evaluated",
		"summary":    args[0],
		"thresholds": len(parsed),
		"passed":     evaluation.Passed,
	})

	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   quiet,
		NoColor: noColor,
	})
	console.PrintThresholdCheck(doc.Name(), evaluation)

	if !evaluation.Passed {
		return &ExitError{Code: ExitThresholdsFailed}
	}
	return nil
}

// checkThresholds picks the thresholds to evaluate: the config file's,
// overridden per metric by --threshold, falling back to those stored in
// the summary.
func checkThresholds(cmd *cobra.Command, configArgs []string, doc *summary.Document) (config.Thresholds, error) {
	thresholds := make(config.Thresholds)

	if len(configArgs) > 0 {
		cfg, err := config.LoadConfig(configArgs[0])
		if err != nil {
			return nil, err
		}
		for metric, exprs := range cfg.Thresholds {
			thresholds[metric] = exprs
		}
	}

	if cmd.Flags().Changed("threshold") {
		raw, _ := cmd.Flags().GetStringArray("threshold")
		overrides, err := parseThresholdFlags(raw)
		if err != nil {
			return nil, err
		}
		for metric, exprs := range overrides {
			thresholds[metric] = exprs
		}
	}

	if len(configArgs) == 0 && len(thresholds) == 0 {
		for metric, exprs := range doc.Thresholds() {
			thresholds[metric] = exprs
		}
	}

	return thresholds, nil
}
