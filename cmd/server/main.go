package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/agentmux/agentmux/internal/audit"
	"github.com/agentmux/agentmux/internal/cleanup"
	"github.com/agentmux/agentmux/internal/config"
	"github.com/agentmux/agentmux/internal/engine"
	"github.com/agentmux/agentmux/internal/engine/claude"
	"github.com/agentmux/agentmux/internal/facade"
	"github.com/agentmux/agentmux/internal/logger"
	"github.com/agentmux/agentmux/internal/sandbox"
	"github.com/agentmux/agentmux/internal/sandbox/docker"
	"github.com/agentmux/agentmux/internal/session"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configDir := flag.String("config", "", "Directory containing agentmux.jsonc")
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentmux %s\n", Version)
		os.Exit(0)
	}

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "agentmux: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	cfg, err := config.LoadAll(configDir)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging.Directory, cfg.Logging.JSON); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Close()

	logger.Slog().Info("agentmux starting",
		"version", Version,
		"base_dir", cfg.Sessions.BaseDirectory,
		"sandbox_backend", cfg.Sandbox.Backend)

	baseDir, err := filepath.Abs(cfg.Sessions.BaseDirectory)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	var store *audit.Store
	if cfg.Audit.Enabled {
		store, err = audit.NewStore(cfg.Audit.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
	}

	boundaryFactory := buildBoundaryFactory(cfg)
	engineFactory := func(boundary sandbox.Boundary) engine.Engine {
		return claude.NewRuntime(cfg.Engine.Binary, boundary)
	}

	manager := session.NewManager(session.ManagerConfig{
		BaseDirectory:     baseDir,
		Capacity:          cfg.Sessions.MaxSessions,
		PermissionTimeout: cfg.Sessions.PermissionTimeoutDuration(),
		CreateRatePerMin:  cfg.Sessions.CreateRatePerMin,
		CreateBurst:       cfg.Sessions.CreateBurst,
		Defaults: session.ManagerDefaults{
			CapabilityMode:  cfg.Sandbox.DefaultMode,
			Model:           cfg.Engine.DefaultModel,
			FallbackModel:   cfg.Engine.FallbackModel,
			MaxTurns:        cfg.Engine.MaxTurns,
			AllowedTools:    cfg.Engine.DefaultTools,
			DisallowedTools: cfg.Engine.DisallowedTools,
			MCPServers:      defaultMCPServers(cfg),
		},
	}, boundaryFactory, engineFactory)

	var janitor *cleanup.Janitor
	if cfg.Cleanup.Enabled {
		janitor, err = cleanup.NewJanitor(manager, cfg.Cleanup.Schedule,
			cfg.Cleanup.IdleTimeoutDuration(), baseDir, cfg.Cleanup.SweepOrphans)
		if err != nil {
			return err
		}
		janitor.Start()
		defer janitor.Stop()
	}

	enginePing := func(ctx context.Context) error {
		probe := claude.NewRuntime(cfg.Engine.Binary, nil)
		return probe.Ping(ctx)
	}

	server := facade.NewServer(manager, store, cfg.Sessions.EventBufferSize, enginePing)

	// Shut down on SIGINT/SIGTERM: stop the listener, then remove every
	// session keeping the working directories on disk.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Slog().Info("shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Slog().Warn("http shutdown failed", "error", err)
		}
		removed := manager.RemoveAll(ctx, true)
		logger.Slog().Info("sessions released", "count", removed)
	}()

	return server.Serve(cfg.Server.Address)
}

func buildBoundaryFactory(cfg *config.Config) session.BoundaryFactory {
	if cfg.Sandbox.Backend == "docker" {
		return func(sessionID, workDir string, mode sandbox.Mode) (sandbox.Boundary, error) {
			// The host directory must exist before it can be bind mounted.
			if err := os.MkdirAll(workDir, 0o755); err != nil {
				return nil, &sandbox.ProvisioningError{Reason: "create working directory", Err: err}
			}
			return docker.NewBoundary(docker.Config{
				Image:     cfg.Sandbox.Image,
				SessionID: sessionID,
				WorkDir:   workDir,
				Mode:      mode,
				Memory:    cfg.Sandbox.MemoryMB * 1024 * 1024,
				CPUs:      cfg.Sandbox.CPUs,
			})
		}
	}
	return func(sessionID, workDir string, mode sandbox.Mode) (sandbox.Boundary, error) {
		return sandbox.NewProcessBoundary(workDir, mode, nil), nil
	}
}

func defaultMCPServers(cfg *config.Config) []engine.MCPServer {
	names := make([]string, 0, len(cfg.Engine.MCPServers))
	for name := range cfg.Engine.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)

	servers := make([]engine.MCPServer, 0, len(names))
	for _, name := range names {
		def := cfg.Engine.MCPServers[name]
		servers = append(servers, engine.MCPServer{
			Name:    name,
			Type:    def.Type,
			Command: def.Command,
			Args:    def.Args,
			URL:     def.URL,
			Env:     def.Env,
			Headers: def.Headers,
		})
	}
	return servers
}
