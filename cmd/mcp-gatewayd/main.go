package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pbnjam/mcp-gatewayd/common/environment"
	"github.com/pbnjam/mcp-gatewayd/common/version"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/app"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/router"
	"github.com/pbnjam/mcp-gatewayd/internal/gateway/sandbox"
)

func main() {
	fmt.Printf("MCP Gateway\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg := loadConfig()

	gateway, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize gateway: %v\n", err)
		os.Exit(1)
	}
	defer gateway.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := gateway.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running gateway: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the gateway's bootstrap configuration from PBMCP_*
// environment variables (with PB_GATEWAY_* aliases handled once the
// persisted gateway.json is loaded, inside app.New).
func loadConfig() *app.Config {
	return &app.Config{
		DatabasePath: environment.StringOr("PBMCP_DATABASE_PATH", "./mcp-gateway.db"),
		ConfigDir:    environment.StringOr("PBMCP_CONFIG_DIR", "./config"),

		EnableDocker:      environment.BoolOr("PBMCP_DOCKER_ENABLE", false),
		DockerNetwork:     environment.StringOr("PBMCP_DOCKER_NETWORK", ""),
		ReconcileInterval: environment.DurationOr("PBMCP_RECONCILE_INTERVAL", 30*time.Second),

		RouterStrategy: router.Strategy(environment.StringOr("PBMCP_ROUTER_STRATEGY", string(router.StrategyRoundRobin))),

		RateLimitWindow: environment.DurationOr("PBMCP_RATE_LIMIT_WINDOW", time.Minute),
		RateLimitCount:  environment.IntOr("PBMCP_RATE_LIMIT_COUNT", 120),

		AuditCapacity: environment.IntOr("PBMCP_AUDIT_CAPACITY", 1000),

		CORSOrigins: environment.StringSliceOr("PBMCP_CORS_ORIGINS", nil),

		Sandbox: sandbox.GatewayConfig{
			Profile:                   sandbox.Profile(environment.StringOr("PBMCP_SANDBOX_PROFILE", string(sandbox.ProfileStandard))),
			RequiredForUntrusted:      environment.BoolOr("PBMCP_SANDBOX_REQUIRE_UNTRUSTED", true),
			AllowedVolumeRoots:        environment.StringSliceOr("PBMCP_SANDBOX_ALLOWED_VOLUME_ROOTS", nil),
			EnvSafePrefixes:           environment.StringSliceOr("PBMCP_SANDBOX_ENV_SAFE_PREFIXES", []string{"MCP_", "PATH"}),
			AllowDangerousEnvOverride: environment.BoolOr("PBMCP_SANDBOX_ALLOW_DANGEROUS_ENV", false),
			DefaultNetwork:            registry.NetworkPolicy(environment.StringOr("PBMCP_SANDBOX_DEFAULT_NETWORK", string(registry.NetworkBridge))),
			RepoRoot:                  environment.StringOr("PBMCP_SANDBOX_REPO_ROOT", "."),
		},
	}
}
