// Command pantheond wires the Pantheon core — bus, gateway, resilience,
// and coordinator — into a single long-running process. It exposes no
// HTTP router or UI of its own: the web dashboard, CLI menus, and MCP
// wire adapters that consume this core in the source repository are
// external collaborators (spec.md §1) and are not part of this binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pantheon-run/pantheon-core/pkg/bus"
	"github.com/pantheon-run/pantheon-core/pkg/config"
	"github.com/pantheon-run/pantheon-core/pkg/coordinator"
	"github.com/pantheon-run/pantheon-core/pkg/gateway"
	"github.com/pantheon-run/pantheon-core/pkg/ratelimit"
	"github.com/pantheon-run/pantheon-core/pkg/resilience"
	"github.com/pantheon-run/pantheon-core/pkg/runtime"
	"github.com/pantheon-run/pantheon-core/pkg/store"
	"github.com/pantheon-run/pantheon-core/pkg/telemetry"
	"github.com/pantheon-run/pantheon-core/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to a pantheon.yaml override file (optional)")
	persistDir := flag.String("persist-dir", "./pantheon-state", "directory for coordinator task persistence (budgets.json, grants.json, audit.jsonl, blackboard.md)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *persistDir); err != nil {
		slog.Error("pantheond exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, persistDir string) error {
	defaults, err := config.LoadDefaults(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	bootCfg := config.New(defaults)
	rec := telemetry.New()

	// Registered here rather than exposed over HTTP — the scrape endpoint
	// is dashboard-adjacent wiring and out of this binary's scope (see the
	// package doc comment above), but the registry itself, and the
	// collector's Describe/Collect cycle, are real: Gather runs once at
	// shutdown below so a broken collector fails loudly instead of just
	// sitting unregistered.
	metricsRegistry := prometheus.NewRegistry()
	metricsRegistry.MustRegister(telemetry.NewPrometheusCollector(rec))

	st, err := store.New(ctx, store.Config{
		PrimaryURL:      bootCfg.StorePrimaryURL(ctx),
		FallbackPath:    bootCfg.StoreFallbackPath(ctx),
		ConversationCap: bootCfg.ConversationCap(ctx),
	}, rec)
	if err != nil {
		return fmt.Errorf("opening dual-store: %w", err)
	}
	defer st.Close()

	// The stored-config layer (spec.md §6, third precedence) reads
	// through the same Dual-Store just opened above, so breaker/magic
	// overrides an operator Put into it take effect on the next restart.
	cfg := config.New(defaults, config.WithStore(st))

	breakerOverrides := map[string]resilience.BreakerDefaults{}
	for _, component := range []string{resilience.ComponentProvider, resilience.ComponentPersistence, resilience.ComponentCoordinator, resilience.ComponentTool} {
		tier := cfg.Breaker(ctx, component, config.BreakerTier{})
		if tier.Threshold > 0 {
			breakerOverrides[component] = resilience.BreakerDefaults{Threshold: uint32(tier.Threshold), Timeout: tier.Timeout.Std()}
		}
	}
	breakers := resilience.New(rec, breakerOverrides)
	magic := resilience.NewMagic(cfg.MagicEnergyInitial(ctx), cfg.MagicAcorns(ctx))
	limiter := ratelimit.New()

	gw := gateway.New(limiter, breakers, magic, st, rec,
		gateway.WithRetryPolicy(cfg.RetryMax(ctx), cfg.RetryBaseDelay(ctx)))
	if err := gw.Register(ctx, gateway.Descriptor{Name: "echo", Model: "echo"}, gateway.NewEchoConnector()); err != nil {
		slog.Warn("echo connector init reported an error", "error", err)
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		conn := gateway.NewAnthropicConnector(key, "claude-3-5-sonnet-latest")
		if err := gw.Register(ctx, gateway.Descriptor{Name: "anthropic", Model: "claude-3-5-sonnet-latest"}, conn); err != nil {
			slog.Warn("anthropic connector init failed, provider marked unavailable", "error", err)
		}
	}
	if modelID := os.Getenv("BEDROCK_MODEL_ID"); modelID != "" {
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		conn := gateway.NewBedrockConnector(modelID, region)
		if err := gw.Register(ctx, gateway.Descriptor{Name: "bedrock", Model: modelID}, conn); err != nil {
			slog.Warn("bedrock connector init failed, provider marked unavailable", "error", err)
		}
	}

	// Per-provider bucket capacities from the rate_limit.{provider}.* keys;
	// providers with no configured tier keep the limiter's 60/1000/10000.
	for _, desc := range gw.List() {
		tier := cfg.RateLimit(ctx, desc.Name)
		if tier.Minute > 0 || tier.Hour > 0 || tier.Day > 0 {
			caps := ratelimit.Capacities{Minute: tier.Minute, Hour: tier.Hour, Day: tier.Day}
			if caps.Minute == 0 {
				caps.Minute = ratelimit.DefaultMinuteCapacity
			}
			if caps.Hour == 0 {
				caps.Hour = ratelimit.DefaultHourCapacity
			}
			if caps.Day == 0 {
				caps.Day = ratelimit.DefaultDayCapacity
			}
			limiter.Configure(desc.Name, caps)
		}
	}

	b := bus.New()
	coord := coordinator.New(coordinator.WithPersistenceDir(persistDir), coordinator.WithRecorder(rec))

	driver := runtime.New(b, coord, gw, breakers, rec, runtime.WithProvider(cfg.DefaultProvider(ctx)))

	slog.Info("pantheond ready",
		"version", version.Full(),
		"default_provider", cfg.DefaultProvider(ctx),
		"providers", len(gw.List()),
		"steps_registered", len(driver.Capabilities()),
	)

	<-ctx.Done()
	slog.Info("pantheond shutting down")

	families, err := metricsRegistry.Gather()
	if err != nil {
		slog.Warn("prometheus gather reported an error", "error", err)
	} else {
		slog.Info("final telemetry snapshot gathered", "metric_families", len(families))
	}
	return nil
}
