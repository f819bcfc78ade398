// Package app wires the fabric's components into a runnable process: config
// and logging, the per-component stores and services built in dependency
// order (C1 through C10), and the "api"/"worker" mode switch.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gt-edge-ai/capfabric/internal/config"
	"github.com/gt-edge-ai/capfabric/internal/httpedge"
	"github.com/gt-edge-ai/capfabric/internal/store"
	"github.com/gt-edge-ai/capfabric/internal/telemetry"
	"github.com/gt-edge-ai/capfabric/pkg/apikey"
	"github.com/gt-edge-ai/capfabric/pkg/automation"
	"github.com/gt-edge-ai/capfabric/pkg/captoken"
	"github.com/gt-edge-ai/capfabric/pkg/eventbus"
	"github.com/gt-edge-ai/capfabric/pkg/integration"
	"github.com/gt-edge-ai/capfabric/pkg/mcpserver"
	"github.com/gt-edge-ai/capfabric/pkg/resource"
)

// fabric bundles every wired component a mode needs. There is deliberately
// no per-tenant state here (spec §9's "Global singletons" redesign note):
// every method on these components takes a tenantpath.Root explicit
// parameter, so one fabric instance serves every tenant.
type fabric struct {
	logger *slog.Logger
	locks  *store.PathLocks

	codec      *captoken.Codec
	resources  *resource.Store
	apiKeys    *apikey.Service
	bus        *eventbus.Bus
	automation *automation.Executor
	integ      *integration.Proxy
	mcp        *mcpserver.Dispatcher

	apiKeyUsage *store.AsyncAppender
	integUsage  *store.AsyncAppender
	integAudit  *store.AsyncAppender
}

// build wires every component against cfg, in the same leaf-first order the
// components were designed in: path/token primitives first, then the
// stores, then the services that depend on them, then the event bus and the
// automation executor that closes the Bus/Executor construction cycle via
// Bus.SetDispatcher.
func build(cfg *config.Config, logger *slog.Logger) *fabric {
	locks := &store.PathLocks{}
	codec := captoken.NewCodec(cfg.SigningKey)
	resources := resource.NewStore(locks)

	apiKeyUsage := store.NewAsyncAppender(store.NewJSONLAppender(locks), logger)
	apiKeys := apikey.NewService(locks, apiKeyUsage, logger)

	bus := eventbus.New(locks, nil, logger)

	automations := automation.NewStore(locks, bus)
	executor := automation.NewExecutor(locks, automations, bus, codec, nil, &http.Client{Timeout: 30 * time.Second}, logger)
	bus.SetDispatcher(executor)

	integConfigs := integration.NewConfigStore(locks)
	integUsage := store.NewAsyncAppender(store.NewJSONLAppender(locks), logger)
	integAudit := store.NewAsyncAppender(store.NewJSONLAppender(locks), logger)
	integProxy := integration.NewProxy(integConfigs, integUsage, integAudit, logger)

	mcpRegistry := mcpserver.NewRegistry(resources, locks)
	mcpDispatcher := mcpserver.NewDispatcher(mcpRegistry, logger)

	return &fabric{
		logger:      logger,
		locks:       locks,
		codec:       codec,
		resources:   resources,
		apiKeys:     apiKeys,
		bus:         bus,
		automation:  executor,
		integ:       integProxy,
		mcp:         mcpDispatcher,
		apiKeyUsage: apiKeyUsage,
		integUsage:  integUsage,
		integAudit:  integAudit,
	}
}

// startBackground starts every component's background goroutine (async
// appender flush loops, the MCP health checker ticker). Both "api" and
// "worker" modes run these; only "api" additionally serves HTTP.
func (f *fabric) startBackground(ctx context.Context, cfg *config.Config, dataRoot string) {
	f.apiKeyUsage.Start(ctx)
	f.integUsage.Start(ctx)
	f.integAudit.Start(ctx)
	// The health checker walks every tenant's MCP server tree; since the
	// fabric holds no tenant list of its own, it re-derives one from the
	// data root's immediate subdirectories at each tick.
	go runMCPHealthChecker(ctx, f.mcp, dataRoot, cfg.MCPHealthCheckInterval, f.logger)
}

// Run wires the fabric from cfg and starts the mode cfg.Mode selects.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting capfabric", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.SigningKey == "" {
		logger.Warn("SIGNING_KEY is unset; using an empty master key (development only)")
	}

	f := build(cfg, logger)
	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		f.startBackground(ctx, cfg, cfg.DataRoot)
		return runAPI(ctx, cfg, f, metricsReg)
	case "worker":
		f.startBackground(ctx, cfg, cfg.DataRoot)
		<-ctx.Done()
		logger.Info("worker shutting down")
		return nil
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

func runAPI(ctx context.Context, cfg *config.Config, f *fabric, metricsReg *prometheus.Registry) error {
	deps := &httpedge.Deps{
		DataRoot: cfg.DataRoot,
		APIKeys:  f.apiKeys,
		Codec:    f.codec,
		MCP:      f.mcp,
		TokenTTL: cfg.TokenDefaultTTL,
		Logger:   f.logger,
	}
	srv := httpedge.NewServer(deps, cfg.CORSAllowedOrigins, cfg.MaxBodyBytes, metricsReg)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		f.logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		f.logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
