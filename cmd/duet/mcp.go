package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/metalagman/duet/internal/config"
	"github.com/metalagman/duet/internal/db"
	"github.com/metalagman/duet/internal/engine"
	"github.com/metalagman/duet/internal/mcpserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func mcpCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the refine_plan tool over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Telemetry.MetricsAddr = metricsAddr
			}
			return serveMCP(cmd.Context(), cfg, &mcp.StdioTransport{})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

// serveMCP wires the server with fx and runs it alongside the optional
// metrics listener until ctx is done or the client disconnects.
func serveMCP(ctx context.Context, cfg config.Config, transport mcp.Transport) error {
	var (
		srv     *mcpserver.Server
		metrics *http.Server
	)
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg),
		fx.Provide(
			newTracingShutdown,
			newStore,
			newEngine,
			newMCPServer,
			newMetricsServer,
		),
		fx.Populate(&srv, &metrics),
	)
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			log.Warn().Err(err).Msg("stop mcp app")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopServe()
		log.Info().Str("tool", mcpserver.ToolName).Msg("mcp server listening on stdio")
		return srv.Run(serveCtx, transport)
	})
	if metrics != nil {
		g.Go(func() error {
			log.Info().Str("addr", metrics.Addr).Msg("metrics listening")
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-serveCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return metrics.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

type tracingShutdown func(context.Context) error

func newTracingShutdown(lc fx.Lifecycle, cfg config.Config) (tracingShutdown, error) {
	shutdown, err := startTracing(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: shutdown})
	return shutdown, nil
}

func newStore(lc fx.Lifecycle, cfg config.Config) (*db.Store, error) {
	store, closeFn, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(closeFn))
	return store, nil
}

func newEngine(cfg config.Config, store *db.Store, _ tracingShutdown) (*engine.Engine, error) {
	return buildEngine(context.Background(), cfg, db.NewRecorder(store))
}

func newMCPServer(e *engine.Engine) *mcpserver.Server {
	return mcpserver.New(e, version)
}

func newMetricsServer(cfg config.Config) *http.Server {
	if cfg.Telemetry.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              cfg.Telemetry.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
