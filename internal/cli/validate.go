package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vuramp/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	var printDefault bool

	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a configuration file",
		Long: `Check a configuration file against the schema and the scenario rules
without running anything. With no file, the --config file or the built-in
configuration is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if printDefault {
				_, err := out.Write(config.DefaultConfigSource())
				return err
			}

			var (
				cfg    *config.TestConfig
				source string
				err    error
			)
			if len(args) == 1 {
				source = args[0]
				cfg, err = config.LoadConfig(source)
			} else {
				cfg, source, err = a.loadConfig()
			}
			if err != nil {
				var verrs *config.ValidationErrors
				if errors.As(err, &verrs) {
					fmt.Fprintf(out, "✗ %s is invalid:\n", source)
					for _, e := range verrs.Errors {
						fmt.Fprintf(out, "  - %s\n", e.Error())
					}
					return &ExitCodeError{Code: ExitError}
				}
				return &ExitCodeError{Code: ExitError, Err: err}
			}

			fmt.Fprintf(out, "✓ %s is valid (%d scenarios: %v)\n", source, len(cfg.Scenarios), cfg.Names())
			return nil
		},
	}
	cmd.Flags().BoolVar(&printDefault, "print-default", false, "Print the built-in configuration and exit")
	return cmd
}
