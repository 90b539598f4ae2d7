package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/vuramp/internal/config"
	"github.com/wesleyorama2/vuramp/internal/logging"
)

var version = "0.1.0"

// Exit codes returned by Execute.
const (
	ExitOK               = 0
	ExitError            = 1
	ExitThresholdsFailed = 2
)

// ExitCodeError carries a process exit code through cobra's error return.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by the root command to an exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitError
}

// app holds the state shared by every subcommand of one invocation.
type app struct {
	viper  *viper.Viper
	logger *logrus.Logger
}

// Global flag keys, also readable as VURAMP_LOG_LEVEL etc.
const (
	keyLogLevel  = "log-level"
	keyLogFormat = "log-format"
	keyNoColor   = "no-color"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     "vuramp",
		Short:   "Ramping virtual-user load generator",
		Version: version,
		Long: `vuramp drives HTTP load against a target with virtual users (VUs) that
ramp through configured stages. Scenarios run concurrently; each one
reports iterations, latency percentiles, failures and threshold results.

Run the built-in scenarios against a load balancer:
  SCENARIO=Scenario_1 AWS_COMMUNITY_DAY_LB_DNS_NAME=lb.example.com \
  AWS_COMMUNITY_DAY_API_ENDPOINT=cpu_intensive vuramp run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyLogLevel, "info", "Log level (trace, debug, info, warn, error)")
	flags.String(keyLogFormat, "text", "Log format (text, json)")
	flags.Bool(keyNoColor, false, "Disable colored output")
	flags.StringP(config.KeyConfig, "c", "", "Configuration file (default: built-in Scenario_1/Scenario_2)")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newValidateCmd(a))

	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	v, err := config.NewViper()
	if err != nil {
		return err
	}
	for _, key := range []string{keyLogLevel, keyLogFormat, keyNoColor, config.KeyConfig} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
			return err
		}
	}
	a.viper = v

	logger, err := logging.New(logging.Config{
		Level:  v.GetString(keyLogLevel),
		Format: v.GetString(keyLogFormat),
	}, cmd.ErrOrStderr())
	if err != nil {
		return &ExitCodeError{Code: ExitError, Err: err}
	}
	a.logger = logger
	return nil
}

// loadConfig reads the configuration file named by --config or
// VURAMP_CONFIG, or the built-in scenarios when none is set.
func (a *app) loadConfig() (*config.TestConfig, string, error) {
	path := a.viper.GetString(config.KeyConfig)
	if path == "" {
		cfg, err := config.DefaultConfig()
		return cfg, config.DefaultFileName, err
	}
	cfg, err := config.LoadConfig(path)
	return cfg, path, err
}

// Execute runs the root command with os.Args and returns the exit code.
func Execute() int {
	return ExecuteArgs(os.Args[1:], os.Stdout, os.Stderr)
}

// ExecuteArgs runs the root command with the given arguments and streams.
func ExecuteArgs(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	var exitErr *ExitCodeError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.Err == nil) {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return ExitCode(err)
}
