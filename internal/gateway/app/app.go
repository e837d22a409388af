// Package app wires every gateway component (registry, supervisor, health
// checker, router, orchestrator, auth, sandbox policy, config store, audit
// log, admin HTTP surface) into one running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/adminapi"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/audit"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/auth"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/config"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/health"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/orchestrator"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/ratelimit"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/router"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/runtime/docker"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/sandbox"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/store"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/supervisor"
)

// Config holds application configuration. The gateway's listen address and
// auth mode come from the persisted gateway.json (PB_GATEWAY_*/PBMCP_*
// overrides applied on top), not from this struct.
type Config struct {
	DatabasePath string
	ConfigDir    string

	EnableDocker      bool
	DockerNetwork     string
	ReconcileInterval time.Duration

	RouterStrategy router.Strategy

	RateLimitWindow time.Duration
	RateLimitCount  int

	AuditCapacity int

	Sandbox sandbox.GatewayConfig

	// CORSOrigins lists the browser origins the admin surface reflects in
	// Access-Control-Allow-Origin.
	CORSOrigins []string
}

// App is the running gateway process.
type App struct {
	config *Config

	reg        *registry.Registry
	store      *store.Store
	supervisor *supervisor.Manager
	checker    *health.Checker
	router     *router.Router
	driver     *orchestrator.Driver
	cfgStore   *config.Store
	auditLog   *audit.Log

	dockerRuntime runtime.Runtime
	reconciler    *runtime.Reconciler

	httpServer *http.Server
}

// New constructs every collaborator and wires them into an App. It does
// not start anything; call Run to serve.
func New(cfg *Config) (*App, error) {
	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	reg := registry.New()
	machine := supervisor.NewMachine(reg)

	var dockerRuntime runtime.Runtime
	if cfg.EnableDocker {
		networkName := cfg.DockerNetwork
		if networkName == "" {
			networkName = runtime.DefaultNetwork
		}
		adapter, err := docker.NewWithNetwork(networkName)
		if err != nil {
			slog.Warn("container runtime unavailable; sandboxed templates will fail to start", "err", err)
		} else {
			if netErr := adapter.EnsureNetwork(context.Background()); netErr != nil {
				slog.Warn("could not ensure gateway Docker network; container spawns may fail", "network", networkName, "err", netErr)
			}
			dockerRuntime = adapter
		}
	}

	mgr := supervisor.NewManager(reg, machine, supervisorAdapterFactory(dockerRuntime))
	checker := health.NewChecker(reg, mgr)
	rt := router.NewRouter(reg, cfg.RouterStrategy)
	driver := orchestrator.NewDriver(reg, orchestratorAdapterFactory(dockerRuntime))

	cfgStore := config.New(cfg.ConfigDir)

	var reconciler *runtime.Reconciler
	if dockerRuntime != nil {
		interval := cfg.ReconcileInterval
		if interval == 0 {
			interval = 30 * time.Second
		}
		reconciler = runtime.NewReconciler(dockerRuntime, reg, machine, runtime.ReconcilerConfig{Interval: interval})
	}

	gatewayCfg, err := loadGatewayConfig(cfgStore)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load gateway config: %w", err)
	}
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(gatewayCfg.LogLevel)); err == nil {
		slog.SetLogLoggerLevel(logLevel)
	}

	apiKeys := auth.NewAPIKeys(st)
	tokens := auth.NewTokens(st)
	handshake := auth.NewHandshake(tokens)
	limiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitCount)
	auditLog := audit.NewLog(cfg.AuditCapacity)

	admin := adminapi.New(adminapi.Deps{
		Registry:    reg,
		Supervisor:  mgr,
		Health:      checker,
		Router:      rt,
		Config:      cfgStore,
		APIKeys:     apiKeys,
		Tokens:      tokens,
		Handshake:   handshake,
		Limiter:     limiter,
		Driver:      driver,
		ToolStore:   st,
		Audit:       auditLog,
		GatewayAuth: gatewayCfg.AuthMode,
		CORSOrigins: cfg.CORSOrigins,
		SandboxCfg:  cfg.Sandbox,
		Runtime:     dockerRuntime,
	})

	mux := http.NewServeMux()
	admin.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", gatewayCfg.Host, gatewayCfg.Port)

	return &App{
		config:        cfg,
		reg:           reg,
		store:         st,
		supervisor:    mgr,
		checker:       checker,
		router:        rt,
		driver:        driver,
		cfgStore:      cfgStore,
		auditLog:      auditLog,
		dockerRuntime: dockerRuntime,
		reconciler:    reconciler,
		httpServer:    &http.Server{Addr: addr, Handler: mux},
	}, nil
}

// loadGatewayConfig loads the persisted gateway config, falling back to
// defaults, and layers PB_GATEWAY_*/PBMCP_* environment overrides on top.
func loadGatewayConfig(cfgStore *config.Store) (config.Gateway, error) {
	cfg, err := cfgStore.LoadGateway()
	if err != nil {
		return config.Gateway{}, err
	}
	return config.ApplyEnvOverrides(cfg), nil
}

// Run starts the admin HTTP server and background loops, then blocks until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	slog.Info("starting health checker")
	go a.checker.Run(ctx)

	if a.reconciler != nil {
		slog.Info("starting container reconciler")
		go a.reconciler.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin HTTP surface listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return a.shutdownHTTP()
	case err := <-errCh:
		return err
	}
}

func (a *App) shutdownHTTP() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("draining admin HTTP surface")
	return a.httpServer.Shutdown(shutdownCtx)
}

// Stop releases resources Run does not own the lifecycle of: the database
// connection and the supervised instances left running.
func (a *App) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, inst := range a.reg.ListInstances() {
		if inst.State != registry.StateRunning {
			continue
		}
		if err := a.supervisor.Stop(ctx, inst.ID); err != nil {
			slog.Warn("error stopping instance", "instance", inst.ID, "err", err)
		}
	}

	slog.Info("closing database")
	if err := a.store.Close(); err != nil {
		slog.Warn("error closing database", "err", err)
	}
}
