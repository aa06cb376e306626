// Command clarvis runs the multi-agent routing gateway: it registers the
// specialist agents, wires the orchestrator, and serves the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"clarvis/internal/adapter/agents"
	"clarvis/internal/adapter/api"
	"clarvis/internal/adapter/llm"
	"clarvis/internal/domain"
	"clarvis/internal/infra/config"
	"clarvis/internal/infra/logger"
	"clarvis/internal/infra/tracer"
	"clarvis/internal/usecase"
	"clarvis/internal/usecase/scheduling"
)

var version = "1.0.0"

func main() {
	orchPath := flag.String("orchestrator-config", "configs/orchestrator.yaml", "path to the orchestrator config")
	apiPath := flag.String("api-config", "configs/api.yaml", "path to the API config")
	flag.Parse()

	if err := run(*orchPath, *apiPath); err != nil {
		fmt.Fprintf(os.Stderr, "clarvis: %v\n", err)
		os.Exit(1)
	}
}

func run(orchPath, apiPath string) error {
	cfg, err := config.LoadOrchestrator(orchPath)
	if err != nil {
		return err
	}
	apiCfg, err := config.LoadAPI(apiPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	// LLM provider behind a circuit breaker, shared by the router's
	// fallback, direct handling, and the LLM-backed specialists.
	var provider domain.LLMProvider
	anthropic := llm.NewAnthropicProvider(cfg.Provider, log)
	if anthropic.Healthy() {
		provider = llm.NewCircuitBreakerProvider(anthropic, log)
	} else {
		log.Warn("no LLM credentials found; direct handling and LLM routing degrade to canned replies")
	}

	registry := usecase.NewRegistry(log)
	closeAgents, err := registerAgents(registry, cfg, provider, log)
	if err != nil {
		return err
	}
	defer closeAgents()

	table, order := usecase.MatchersFromCapabilities(registry.AllCapabilities(), cfg.Patterns)
	classifier, err := usecase.NewClassifier(table, order)
	if err != nil {
		return err
	}

	router := usecase.NewRouter(registry, classifier, provider, usecase.RouterConfig{
		Threshold:         cfg.Routing.CodeRoutingThreshold,
		LLMRoutingEnabled: cfg.Routing.LLMRoutingEnabled,
		FollowUpDetection: cfg.Routing.FollowUpDetection,
		DefaultAgent:      cfg.Routing.DefaultAgent,
		RouterModel:       cfg.Orchestrator.RouterModel,
		ContextTokens:     cfg.Orchestrator.ContextTokens,
		LogDecisions:      cfg.Logging.LogRoutingDecisions,
	}, log)

	sessions := usecase.NewSessionStore(cfg.SessionTTL(), cfg.Orchestrator.MaxTurns, log)
	limiter := usecase.NewRateLimiter(cfg.RateLimit.MaxEvents, cfg.RateLimitWindow())

	orch := usecase.NewOrchestrator(registry, router, sessions, limiter, provider, usecase.OrchestratorConfig{
		Model:             cfg.Orchestrator.Model,
		ContextTokens:     cfg.Orchestrator.ContextTokens,
		Announcements:     cfg.Announcements,
		LogAgentResponses: cfg.Logging.LogAgentResponses,
	}, log)

	if cfg.Scheduler.Enabled {
		sched := scheduling.NewScheduler(log)
		sched.RegisterAction(scheduling.ActionSessionSweep, func(context.Context) error {
			sessions.Sweep()
			return nil
		})
		sched.RegisterAction(scheduling.ActionHealthProbe, func(probeCtx context.Context) error {
			registry.HealthCheckAll(probeCtx)
			return nil
		})
		if err := sched.AddTask(scheduling.Task{
			Name: "session-sweep", Schedule: cfg.Scheduler.SweepSchedule, Action: scheduling.ActionSessionSweep,
		}); err != nil {
			return err
		}
		if err := sched.AddTask(scheduling.Task{
			Name: "health-probe", Schedule: cfg.Scheduler.ProbeSchedule, Action: scheduling.ActionHealthProbe,
		}); err != nil {
			return err
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	server := api.NewServer(orch, apiCfg, version, log)
	if err := server.Start(ctx); err != nil {
		return err
	}

	log.Info("clarvis gateway ready",
		"addr", server.BoundAddr(),
		"agents", registry.List(),
		"llm_routing", cfg.Routing.LLMRoutingEnabled,
	)

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// registerAgents builds and registers the enabled specialists, higher
// priority first. Returns a cleanup function closing agent resources.
func registerAgents(registry *usecase.Registry, cfg *config.OrchestratorConfig, provider domain.LLMProvider, log *slog.Logger) (func(), error) {
	type candidate struct {
		name     string
		priority int
		build    func() (domain.Agent, func(), error)
	}

	model := cfg.Orchestrator.Model
	sp := cfg.Specialists

	candidates := []candidate{
		{
			name: "gmail",
			build: func() (domain.Agent, func(), error) {
				source := agents.NewFileMailSource(sp.MailboxPath)
				return agents.NewGmailAgent(provider, source, model, log), func() {}, nil
			},
		},
		{
			name: "ski",
			build: func() (domain.Agent, func(), error) {
				ttl := time.Duration(sp.SkiCacheTTLMinutes) * time.Minute
				return agents.NewSkiAgent(provider, sp.SkiConditionsURL, model, ttl, log), func() {}, nil
			},
		},
		{
			name: "notes",
			build: func() (domain.Agent, func(), error) {
				if err := os.MkdirAll(sp.DataDir, 0o700); err != nil {
					return nil, nil, fmt.Errorf("create data dir: %w", err)
				}
				storage, err := agents.NewNotesStorage(filepath.Join(sp.DataDir, "notes.db"))
				if err != nil {
					return nil, nil, err
				}
				return agents.NewNotesAgent(storage, log), func() { storage.Close() }, nil
			},
		},
	}

	for i := range candidates {
		candidates[i].priority = cfg.Agents[candidates[i].name].Priority
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, c := range candidates {
		if !cfg.AgentEnabled(c.name) {
			log.Info("agent disabled by config", "agent", c.name)
			continue
		}
		agent, closer, err := c.build()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("build agent %s: %w", c.name, err)
		}
		if err := registry.Register(agent); err != nil {
			closer()
			cleanup()
			return nil, err
		}
		closers = append(closers, closer)
	}
	return cleanup, nil
}
