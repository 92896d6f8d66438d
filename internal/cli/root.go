// Package cli implements the stampede command line.
package cli

import (
	"fmt"
	"os"

	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Process exit codes.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitThresholdsFailed = 99
	ExitInvalidConfig    = 104
	ExitInterrupted      = 105
)

// ExitError carries the exit code a command wants the process to end with.
// A nil Err means the command already reported the problem.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewRootCmd builds the stampede command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "stampede",
		Short:   "A minimal HTTP load testing harness",
		Version: version,
		Long: `Stampede drives a fixed number of virtual users against one HTTP endpoint
for a fixed duration, checks every response, and evaluates pass/fail
thresholds over the collected metrics. A crossed threshold makes the
process exit with status 99, so a run can gate a CI pipeline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logLevel, _ := cmd.Flags().GetString("log-level")
			return loggingSetup(cmd.Root().Name(), logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("log-level", "warning",
		"lowest visible log level: 'emergency|alert|critical|error|warning|notice|info|debug'")

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(NewRootCmd(), os.Args[1:])
}

func execute(root *cobra.Command, args []string) int {
	root.SetArgs(args)

	err := root.Execute()
	code := exitCode(err)
	if err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		}
	}
	return code
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// logging setup is separate to make it unit testable
func loggingSetup(name, logLevel string) error {
	threshold := level.FromString(logLevel)
	if !threshold.IsValid() {
		return &ExitError{Code: ExitInvalidConfig, Err: errors.Errorf("%q is not a valid log level", logLevel)}
	}

	sender := grip.GetSender()
	sender.SetName(name)

	lvl := sender.Level()
	lvl.Threshold = threshold
	return errors.WithStack(sender.SetLevel(lvl))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stampede version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stampede version %s\n", version)
		},
	}
}
