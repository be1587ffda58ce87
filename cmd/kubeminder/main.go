// KubeMinder incident-response daemon. Runs any subset of the pipeline
// agents (planner, collaborator, actor, learner) plus the HTTP surface,
// wired over a shared broker connection and plan store.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kubeminder/kubeminder/pkg/actor"
	"github.com/kubeminder/kubeminder/pkg/api"
	"github.com/kubeminder/kubeminder/pkg/bus"
	"github.com/kubeminder/kubeminder/pkg/collab"
	"github.com/kubeminder/kubeminder/pkg/config"
	"github.com/kubeminder/kubeminder/pkg/enrich"
	"github.com/kubeminder/kubeminder/pkg/learner"
	"github.com/kubeminder/kubeminder/pkg/llm"
	"github.com/kubeminder/kubeminder/pkg/metrics"
	"github.com/kubeminder/kubeminder/pkg/planner"
	"github.com/kubeminder/kubeminder/pkg/redact"
	"github.com/kubeminder/kubeminder/pkg/sandbox"
	"github.com/kubeminder/kubeminder/pkg/store"
	"github.com/kubeminder/kubeminder/pkg/version"
)

var agentNames = []string{"planner", "collaborator", "actor", "learner"}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseAgents resolves the --agents flag into the enabled set. "all"
// enables every agent; unknown names are rejected so a typo cannot
// silently run a replica with no consumers.
func parseAgents(list string) (map[string]bool, error) {
	enabled := make(map[string]bool)
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if name == "all" {
			for _, n := range agentNames {
				enabled[n] = true
			}
			continue
		}
		if !slices.Contains(agentNames, name) {
			return nil, fmt.Errorf("unknown agent %q (valid: %s)", name, strings.Join(agentNames, ", "))
		}
		enabled[name] = true
	}
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no agents selected")
	}
	return enabled, nil
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	agentsFlag := flag.String("agents",
		getEnv("AGENTS", "all"),
		"Comma-separated agents to run in this process (planner,collaborator,actor,learner or all)")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	agents, err := parseAgents(*agentsFlag)
	if err != nil {
		slog.Error("Invalid --agents flag", "agents", *agentsFlag, "error", err)
		os.Exit(1)
	}

	slog.Info("Starting kubeminder",
		"version", version.Full(),
		"agents", *agentsFlag,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect the broker (declares exchanges, queues and dead-letter
	// bindings before any consumer attaches)
	b, err := bus.Dial(cfg.Bus)
	if err != nil {
		slog.Error("Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("Error closing broker connection", "error", err)
		}
	}()

	// 3. Connect the plan store and start the retention sweeper
	st, err := store.Connect(ctx, cfg.Store)
	if err != nil {
		slog.Error("Failed to connect to plan store", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			slog.Error("Error closing plan store", "error", err)
		}
	}()

	sweeper := store.NewSweeper(st, cfg.Store)
	sweeper.Start(ctx)

	// 4. Shared infrastructure: metrics, publisher, LLM client
	m := metrics.New()

	pub, err := bus.NewPublisher(b)
	if err != nil {
		slog.Error("Failed to open publishing channel", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := pub.Close(); err != nil {
			slog.Error("Error closing publisher", "error", err)
		}
	}()

	llmClient := llm.NewOpenAIClient(cfg.LLM)

	// 5. Context sources. Each is optional; the planner degrades around a
	// missing source and the learner only needs the history index.
	var logs enrich.LogSource
	if cfg.Enrich.LokiURL != "" {
		logs = enrich.NewLokiClient(cfg.Enrich.LokiURL, cfg.Enrich.LogWindow)
	}
	var history enrich.HistoryIndex
	if cfg.Enrich.HistoryURL != "" {
		history = enrich.NewChromaIndex(cfg.Enrich.HistoryURL, cfg.Enrich.HistoryCollection, cfg.LLM.EmbeddingModel)
	}
	var commits enrich.CommitSource
	if cfg.Enrich.GitHubRepo != "" {
		commits = enrich.NewCodeHistory(cfg.Enrich.GitHubRepo, cfg.Enrich.GitHubToken, cfg.Enrich.CommitWindow)
	}
	var web enrich.WebSearcher
	if cfg.Enrich.SearchAPIKey != "" {
		web = enrich.NewSearchClient(cfg.Enrich.SearchURL, cfg.Enrich.SearchAPIKey, 0)
	}

	// 6. Per-agent services and their queue consumers
	var consumers []*bus.Consumer
	startConsumer := func(queue string, handler bus.HandlerFunc) {
		c, err := bus.NewConsumer(b, queue, handler)
		if err != nil {
			slog.Error("Failed to create consumer", "queue", queue, "error", err)
			os.Exit(1)
		}
		if err := c.Start(ctx); err != nil {
			slog.Error("Failed to start consumer", "queue", queue, "error", err)
			os.Exit(1)
		}
		consumers = append(consumers, c)
	}

	var plannerService *planner.Service
	if agents["planner"] {
		gatherer := enrich.NewGatherer(cfg.Enrich, logs, history, commits, web)
		engine := planner.NewEngine(llmClient, cfg.LLM, m)
		plannerService = planner.NewService(cfg.Planner, engine, gatherer, st, pub, m)
		startConsumer(bus.QueueIncidentsNew, plannerService.HandleIncident)
		slog.Info("Planner agent started")
	}

	var collabService *collab.Service
	if agents["collaborator"] {
		collabService = collab.NewService(cfg.Collab, st, pub, m)
		startConsumer(bus.QueuePlansProposed, collabService.HandleProposed)
		slog.Info("Collaborator agent started")
	}

	if agents["actor"] {
		sb, err := sandbox.New(cfg.Sandbox)
		if err != nil {
			slog.Error("Failed to initialize sandbox", "error", err)
			os.Exit(1)
		}
		compiler := actor.NewCompiler(llmClient, cfg.Actor, m)
		actorService := actor.NewService(cfg.Actor, compiler, sb, st, pub, redact.New(), m)
		startConsumer(bus.QueuePlansApproved, actorService.HandleApproved)
		slog.Info("Actor agent started")
	}

	if agents["learner"] {
		docs := learner.NewDocStore(cfg.Learner)
		learnerService := learner.NewService(history, st, docs, m)
		startConsumer(bus.QueueIncidentsResolved, learnerService.HandleResolved)
		slog.Info("Learner agent started")
	}

	// 7. Create HTTP server. Approval routes and the quota snapshot are
	// only wired when their agents run in this process.
	var approvals api.Approvals
	if collabService != nil {
		approvals = collabService
	}
	var quota api.QuotaReporter
	if plannerService != nil {
		quota = plannerService
	}
	httpServer := api.NewServer(cfg.Server, approvals, st, b, st, quota, m)

	// 8. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("kubeminder started successfully",
		"agents", *agentsFlag,
		"http_port", cfg.Server.Port)

	// 9. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 10. Graceful shutdown. Consumers stop in pipeline order so upstream
	// intake halts first; in-flight deliveries finish or return to their
	// queues for redelivery.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		for _, c := range consumers {
			c.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Consumers stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Consumer shutdown timeout exceeded, unacked deliveries will be redelivered")
	}

	sweeper.Stop()

	// Stop HTTP server with its own timeout budget
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
