// Command target-server serves the endpoints the built-in scenarios load:
// /, /cpu_intensive and /memory_intensive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vuramp/internal/logging"
	"github.com/wesleyorama2/vuramp/internal/targetserver"
)

func main() {
	var (
		addr      string
		logConfig = logging.DefaultConfig()
	)

	cmd := &cobra.Command{
		Use:           "target-server",
		Short:         "Serve CPU- and memory-heavy endpoints for load tests",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logConfig, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return targetserver.New(logger).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8000", "Listen address")
	cmd.Flags().StringVar(&logConfig.Level, "log-level", logConfig.Level, "Log level")
	cmd.Flags().StringVar(&logConfig.Format, "log-format", logConfig.Format, "Log format (text, json)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
