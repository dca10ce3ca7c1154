package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/marketflow/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for submitting and inspecting runs.

Endpoints:
  GET    /health                     liveness
  GET    /metrics                    Prometheus metrics
  GET    /api/v1/agents              registered agents
  GET    /api/v1/runs                persisted runs
  POST   /api/v1/runs                start a run {"request": "..."}
  GET    /api/v1/runs/{id}           run snapshot
  GET    /api/v1/runs/{id}/log       execution log
  GET    /api/v1/runs/{id}/done      completion check
  POST   /api/v1/runs/{id}/resume    resume an interrupted run
  DELETE /api/v1/runs/{id}           cancel an active run
  GET    /api/v1/events              server-sent events`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics := api.NewMetrics(a.bus)
	go metrics.Run(ctx, a.bus.Subscribe())

	server := api.NewServer(a.runner, a.bus,
		api.WithLogger(a.logger),
		api.WithCORSOrigins(a.cfg.Server.CORSOrigins),
		api.WithMetrics(metrics),
		api.WithRunContext(ctx),
	)

	host, port := a.cfg.Server.Host, a.cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	a.logger.Info("api listening", "addr", addr, "state", a.cfg.State.Backend)
	if err := server.ListenAndServe(ctx, addr, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout); err != nil {
		return fmt.Errorf("serving api: %w", err)
	}
	a.logger.Info("api stopped")
	return nil
}
