package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/engine/rpcengine"
	"github.com/xiaot623/gogo/gateway/internal/hub"
	"github.com/xiaot623/gogo/gateway/internal/index"
	"github.com/xiaot623/gogo/gateway/internal/logging"
	"github.com/xiaot623/gogo/gateway/internal/media"
	"github.com/xiaot623/gogo/gateway/internal/policy"
	"github.com/xiaot623/gogo/gateway/internal/service"
	transporthttp "github.com/xiaot623/gogo/gateway/internal/transport/http"
	"github.com/xiaot623/gogo/gateway/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(appName, cfg.LogLevel, cfg.LogFormat)
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

// gateway holds every long-lived component of a running process.
type gateway struct {
	cfg     *config.Config
	log     zerolog.Logger
	index   index.Store
	hub     *hub.Hub
	rpc     *rpcengine.Server
	service *service.Service
	http    *transporthttp.Server
}

// newGateway wires the components together. Nothing is listening yet.
func newGateway(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*gateway, error) {
	idx, err := index.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open session index: %w", err)
	}

	pol, err := policy.Load(ctx, cfg.PolicyFile)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to load dispatch policy: %w", err)
	}

	router := rpcengine.NewRouter()
	rpcServer, err := rpcengine.NewServer(router, logger)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("failed to create engine callback server: %w", err)
	}

	connectionHub := hub.NewHub(logger)
	factory := rpcengine.NewFactory(cfg.EngineAddr, cfg.CallbackAddr, router)
	svc := service.New(cfg, factory, idx, connectionHub, pol, logger)
	connectionHub.SetSnapshotFunc(svc.ReadySnapshot)

	wsServer := ws.NewServer(cfg, connectionHub, svc, logger)
	api := transporthttp.NewHandler(svc, media.NewFetcher(cfg.MediaFetchTimeout, cfg.MediaMaxBytes), cfg, logger)

	return &gateway{
		cfg:     cfg,
		log:     logger,
		index:   idx,
		hub:     connectionHub,
		rpc:     rpcServer,
		service: svc,
		http:    transporthttp.NewServer(api, connectionHub, wsServer.HandleWebSocket),
	}, nil
}

// shutdown stops the process in dependency order: HTTP and websocket
// traffic, then the engine callbacks, then every session client, then the
// index.
func (g *gateway) shutdown(ctx context.Context) error {
	var err error
	if e := g.http.Shutdown(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("http server: %w", e))
	}
	if e := g.rpc.Shutdown(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("engine callback server: %w", e))
	}
	if e := g.service.Shutdown(ctx); e != nil {
		err = multierr.Append(err, fmt.Errorf("sessions: %w", e))
	}
	if e := g.index.Close(); e != nil {
		err = multierr.Append(err, fmt.Errorf("session index: %w", e))
	}
	g.hub.Stop()
	return err
}

func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	g, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}

	logger.Info().
		Int("http_port", cfg.HTTPPort).
		Str("engine_addr", cfg.EngineAddr).
		Str("callback_addr", cfg.CallbackAddr).
		Str("index_backend", cfg.IndexBackend).
		Msg("starting gateway")

	go g.hub.Run()

	ln, err := net.Listen("tcp", cfg.CallbackAddr)
	if err != nil {
		g.shutdown(ctx)
		return fmt.Errorf("failed to listen for engine callbacks: %w", err)
	}
	go func() {
		if err := g.rpc.Serve(ln); err != nil {
			logger.Error().Err(err).Msg("engine callback server stopped")
		}
	}()

	recovered, err := g.service.Recover(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to recover sessions")
	} else {
		logger.Info().Int("sessions", recovered).Msg("recovered sessions")
	}

	serveErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := g.http.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	logger.Info().Int("port", cfg.HTTPPort).Msg("http server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case <-quit:
	case <-ctx.Done():
	case runErr = <-serveErr:
		runErr = fmt.Errorf("http server: %w", runErr)
	}

	logger.Info().Msg("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := g.shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown incomplete")
		runErr = multierr.Append(runErr, err)
	}

	logger.Info().Msg("gateway stopped")
	return runErr
}
