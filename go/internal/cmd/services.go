package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/codeduel/go/clients/sandbox_client"
	"github.com/mcdev12/codeduel/go/internal/duel"
	"github.com/mcdev12/codeduel/go/internal/duel/gateway"
	"github.com/mcdev12/codeduel/go/internal/duel/orchestrator"
	"github.com/mcdev12/codeduel/go/internal/duel/publisher"
	"github.com/mcdev12/codeduel/go/internal/puzzles"
	"github.com/mcdev12/codeduel/go/internal/sandbox"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway      *gateway.Service
	Orchestrator *orchestrator.Orchestrator
	Publisher    *publisher.NATSPublisher
}

func setupServices(cfg *Config) (*Services, error) {
	// Wire up: puzzles + executor → registry → orchestrator ⇄ gateway

	selector, err := setupPuzzles(cfg)
	if err != nil {
		return nil, err
	}

	executor, err := setupExecutor(cfg)
	if err != nil {
		return nil, err
	}

	registry := duel.NewRegistry(duel.RegistryConfig{
		Puzzles:          selector,
		SubmissionWindow: cfg.SubmissionWindow,
		ResolvedTTL:      cfg.RoomResolvedTTL,
		IdleTTL:          cfg.RoomIdleTTL,
	})

	gatewayService := gateway.NewService(gateway.DefaultConfig())
	notifiers := duel.Notifiers{gatewayService}

	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		pubConfig := publisher.DefaultConfig()
		pubConfig.URL = cfg.NATSURL
		pubConfig.SubjectPrefix = cfg.NATSSubjectPrefix
		pub, err = publisher.NewNATSPublisher(pubConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		notifiers = append(notifiers, pub)
	} else {
		log.Info().Msg("NATS_URL not set - duel events stay local")
	}

	orchConfig := orchestrator.DefaultConfig()
	orchConfig.SweepInterval = cfg.RoomSweepInterval
	orch := orchestrator.NewOrchestrator(registry, executor, notifiers, nil, orchConfig)

	gatewayService.Attach(orch)

	return &Services{
		Gateway:      gatewayService,
		Orchestrator: orch,
		Publisher:    pub,
	}, nil
}

func setupPuzzles(cfg *Config) (duel.PuzzleSource, error) {
	catalog := puzzles.DefaultCatalog()
	if cfg.PuzzlesFile != "" {
		loaded, err := puzzles.LoadCatalog(cfg.PuzzlesFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	log.Info().
		Int("puzzles", len(catalog)).
		Str("selection", cfg.PuzzleSelection).
		Msg("puzzle catalog loaded")

	if cfg.PuzzleSelection == PuzzleSelectionRandom {
		return puzzles.NewRandomSelector(catalog, 0), nil
	}
	return puzzles.NewFixedSelector(catalog), nil
}

const sandboxPingTimeout = 2 * time.Second

func setupExecutor(cfg *Config) (orchestrator.Executor, error) {
	switch cfg.Sandbox.Mode {
	case SandboxModeRemote:
		log.Info().Str("url", cfg.Sandbox.URL).Msg("using remote sandbox")
		client := sandbox_client.NewSandboxClient(cfg.Sandbox.URL, cfg.Sandbox.APIKey, cfg.Sandbox.Timeout)

		// unreachable at startup is not fatal; submissions fail with an error verdict until it is up
		ctx, cancel := context.WithTimeout(context.Background(), sandboxPingTimeout)
		defer cancel()
		if err := client.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("url", cfg.Sandbox.URL).Msg("remote sandbox not reachable")
		}
		return client, nil
	case SandboxModeProcess:
		log.Info().Str("command", cfg.Sandbox.Command).Msg("using local process sandbox")
		return sandbox.NewProcessExecutor(sandbox.ProcessConfig{
			Command:        cfg.Sandbox.Command,
			CaseTimeout:    cfg.Sandbox.CaseTimeout,
			StartupTimeout: cfg.Sandbox.StartupTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unknown sandbox mode %q", cfg.Sandbox.Mode)
	}
}

// compile-time checks
var (
	_ orchestrator.Executor = (*sandbox.ProcessExecutor)(nil)
	_ orchestrator.Executor = (*sandbox_client.SandboxClient)(nil)
	_ gateway.Backend       = (*orchestrator.Orchestrator)(nil)
	_ duel.Notifier         = (*publisher.NATSPublisher)(nil)
	_ duel.PuzzleSource     = (*puzzles.FixedSelector)(nil)
)
