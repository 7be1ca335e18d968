// Package cli implements the surge command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
)

var version = "0.1.0"

// Exit codes returned by Execute.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

// ExitError carries the process exit code for a failed command.
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

func configError(err error) error {
	return &ExitError{Code: ExitConfig, Err: err}
}

// app holds what every subcommand shares.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
}

// NewRootCmd builds the command tree. Flags may also be set through
// SURGE_* environment variables, e.g. SURGE_URL or SURGE_LOG_LEVEL.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: newViper(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:     "surge",
		Short:   "Stage-driven HTTP load generator",
		Version: version,
		Long: `Surge drives a pool of virtual users against a single HTTP endpoint.
Each virtual user repeatedly sends the request, evaluates checks and sleeps.
The pool grows and shrinks following a list of stages, and the run ends with
a latency, error and check summary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().String("log-level", "warn", "Log level: debug, info, warn, error")
	root.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	root.PersistentFlags().Bool("no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newPresetsCmd(a))
	root.AddCommand(newTargetCmd(a))
	root.AddCommand(newVersionCmd(a))
	return root
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SURGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bind makes every flag of cmd readable through viper.
func (a *app) bind(cmd *cobra.Command) error {
	return a.v.BindPFlags(cmd.Flags())
}

func (a *app) logger() (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:  a.v.GetString("log-level"),
		JSON:   a.v.GetBool("log-json"),
		Output: a.stderr,
	})
}

// Execute runs the command line with args and returns the exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	fmt.Fprintln(stderr, "Error:", err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailed
}
