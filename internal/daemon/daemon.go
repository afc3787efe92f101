// Package daemon wires the paseo services into one process: stores,
// provider registry, agent manager, worktree engine, terminals, voice,
// the session endpoint, and the relay attachment.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paseohq/paseo/internal/agent"
	"github.com/paseohq/paseo/internal/config"
	"github.com/paseohq/paseo/internal/files"
	"github.com/paseohq/paseo/internal/mcp"
	"github.com/paseohq/paseo/internal/pairing"
	"github.com/paseohq/paseo/internal/provider"
	"github.com/paseohq/paseo/internal/session"
	"github.com/paseohq/paseo/internal/store"
	"github.com/paseohq/paseo/internal/terminal"
	"github.com/paseohq/paseo/internal/voice"
	"github.com/paseohq/paseo/internal/worktree"
	"github.com/paseohq/paseo/pkg/protocol"
)

const commitMessagePrompt = `You write git commit messages. Given a diff,
respond with a single conventional-commit style subject line (at most 72
characters) describing the change. Respond with the line only.`

// Daemon is the assembled paseo server.
type Daemon struct {
	cfg      *config.Config
	home     string
	version  string
	logger   *slog.Logger
	identity *pairing.Identity

	providers  *provider.Registry
	agents     *agent.Manager
	engine     *worktree.Engine
	terminals  *terminal.Manager
	voiceSvc   *voice.Service
	filesSvc   *files.Service
	tokens     *files.TokenVault
	pushTokens *store.PushTokenStore
	mcpMgr     *mcp.Manager
	scheduler  *agent.Scheduler
	router     *session.Router

	restartOnce sync.Once
}

// New wires a daemon from a loaded config. Nothing is listening yet; Run
// starts the servers.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap := cfg.Snapshot()
	home := config.ExpandHome(snap.Daemon.Home)

	identity, err := pairing.LoadOrCreateIdentity(home, snap.Daemon.ServerID)
	if err != nil {
		return nil, fmt.Errorf("daemon: identity: %w", err)
	}

	agentStore, err := store.NewAgentStore(filepath.Join(home, "agents"), logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: agent store: %w", err)
	}
	voiceStore, err := store.NewVoiceStore(filepath.Join(home, "voice"))
	if err != nil {
		return nil, fmt.Errorf("daemon: voice store: %w", err)
	}
	worktreeStore, err := store.NewWorktreeStore(filepath.Join(home, "worktrees"), logger)
	if err != nil {
		return nil, fmt.Errorf("daemon: worktree store: %w", err)
	}
	pushStore, err := store.NewPushTokenStore(filepath.Join(home, "push"))
	if err != nil {
		return nil, fmt.Errorf("daemon: push token store: %w", err)
	}

	registry := provider.NewRegistry(snap)

	engine := worktree.NewEngine(home, snap.Worktrees, worktreeStore, logger)
	engine.SetSummarizer(func(ctx context.Context, diff string) (string, error) {
		p, model, err := registry.CheapModel()
		if err != nil {
			return "", err
		}
		return provider.Complete(ctx, p, model, commitMessagePrompt, diff)
	})

	mcpMgr := mcp.NewManager(logger)

	agents, err := agent.NewManager(snap.Agents, agentStore, registry, agent.Options{
		Worktrees:  worktreeAdapter{engine},
		ExtraTools: mcpMgr.Tools,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: agent manager: %w", err)
	}

	tokens := files.NewTokenVault()
	var stt voice.Transcriber
	if snap.Voice.Enabled && snap.Providers.OpenAI.APIKey != "" {
		stt = voice.NewOpenAITranscriber(snap.Providers.OpenAI.APIKey, snap.Providers.OpenAI.BaseURL, snap.Voice.STTModel)
	}

	d := &Daemon{
		cfg:        cfg,
		home:       home,
		version:    version,
		logger:     logger,
		identity:   identity,
		providers:  registry,
		agents:     agents,
		engine:     engine,
		terminals:  terminal.NewManager(snap.Terminal, logger),
		voiceSvc:   voice.NewService(snap.Voice, voiceStore, stt, logger),
		filesSvc:   files.NewService(tokens, logger),
		tokens:     tokens,
		pushTokens: pushStore,
		mcpMgr:     mcpMgr,
	}
	d.scheduler = agent.NewScheduler(agents, snap.Schedules, logger)
	d.router = session.NewRouter(session.Services{
		Info:       protocol.ServerInfo{ServerID: identity.ServerID, Version: version},
		Agents:     agents,
		Worktrees:  engine,
		Files:      d.filesSvc,
		Terminals:  d.terminals,
		Voice:      d.voiceSvc,
		Providers:  registry,
		PushTokens: pushStore,
		Restart:    d.scheduleRestart,
	}, logger)
	return d, nil
}

// ServerID returns the daemon's stable identity.
func (d *Daemon) ServerID() string { return d.identity.ServerID }

// Offer returns the connection offer clients pair against.
func (d *Daemon) Offer() pairing.ConnectionOfferV2 {
	snap := d.cfg.Snapshot()
	return pairing.ConnectionOfferV2{
		V:                  2,
		ServerID:           d.identity.ServerID,
		DaemonPublicKeyB64: d.identity.PublicKeyB64(),
		Relay:              pairing.OfferRelay{Endpoint: snap.Relay.Endpoint},
	}
}

// Run serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	snap := d.cfg.Snapshot()

	shutdownTelemetry, err := setupTelemetry(ctx, snap.Telemetry, d.logger)
	if err != nil {
		d.logger.Warn("telemetry_init_failed", "error", err)
	} else {
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTelemetry(shutCtx)
		}()
	}

	d.mcpMgr.Start(ctx, snap.Agents.MCPServers)
	defer d.mcpMgr.Close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		d.scheduler.Run(ctx)
		return nil
	})

	group.Go(func() error {
		if err := config.Watch(ctx, d.home, d.cfg, d.logger, nil); err != nil {
			d.logger.Warn("config_watch_failed", "error", err)
		}
		return nil
	})

	if endpoint := snap.Relay.Endpoint; endpoint != "" {
		group.Go(func() error {
			d.relayLoop(ctx, endpoint)
			return nil
		})
	}

	if snap.Tailscale.Hostname != "" {
		group.Go(func() error {
			d.serveTailnet(ctx, snap.Tailscale)
			return nil
		})
	}

	group.Go(func() error {
		return d.serveHTTP(ctx, snap.Daemon.Listen)
	})

	d.logger.Info("daemon_started",
		"server_id", d.identity.ServerID,
		"listen", snap.Daemon.Listen,
		"relay", snap.Relay.Endpoint,
		"version", d.version)
	return group.Wait()
}

// serveHTTP runs the direct session endpoint until ctx is cancelled.
func (d *Daemon) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: d.buildMux()}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("daemon: listen %s: %w", addr, err)
	}
	return nil
}

// worktreeAdapter narrows the engine to the slice the agent manager needs,
// mapping the setup step type across the package boundary.
type worktreeAdapter struct {
	engine *worktree.Engine
}

func (w worktreeAdapter) Create(ctx context.Context, repoDir string, spec protocol.WorktreeSpec) (*protocol.WorktreeInfo, error) {
	return w.engine.Create(ctx, repoDir, spec)
}

func (w worktreeAdapter) Setup(ctx context.Context, path string, onStep func(agent.SetupStep)) error {
	return w.engine.Setup(ctx, path, func(step worktree.SetupStep) {
		onStep(agent.SetupStep{
			Command:  step.Command,
			Cwd:      step.Cwd,
			ExitCode: step.ExitCode,
			Stdout:   step.Stdout,
			Stderr:   step.Stderr,
		})
	})
}
