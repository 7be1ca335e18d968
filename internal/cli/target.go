package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/target"
)

func newTargetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "target",
		Short: "Run a local target server to load test against",
		Long: `Run a small HTTP server exposing /api/restaurants/{id}/menu-items,
/health and /status/{code}. Latency and failures can be injected to see how
checks and thresholds react:

  surge target --addr :8083 --latency 250ms --error-rate 0.05`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return a.bind(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := target.Config{
				Addr:      a.v.GetString("addr"),
				Latency:   a.v.GetDuration("latency"),
				Jitter:    a.v.GetDuration("jitter"),
				ErrorRate: a.v.GetFloat64("error-rate"),
			}
			if err := cfg.Validate(); err != nil {
				return configError(err)
			}

			logger, err := a.logger()
			if err != nil {
				return configError(err)
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return target.Serve(ctx, cfg, logger, func(addr net.Addr) {
				fmt.Fprintf(a.stdout, "Target listening on http://%s\n", addr)
			})
		},
	}

	cmd.Flags().String("addr", ":8083", "Address to listen on")
	cmd.Flags().Duration("latency", 0, "Delay added to every API response")
	cmd.Flags().Duration("jitter", 0, "Random extra delay up to this value")
	cmd.Flags().Float64("error-rate", 0, "Fraction of API responses answered with 500")
	return cmd
}
