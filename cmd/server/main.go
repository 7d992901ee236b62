// Command server wires the full orchestration stack into a runnable HTTP
// binary: registry, planner, executor, session manager and LLM collaborator
// feed a single *orchestrator.Orchestrator, which transport exposes over the
// unary and streaming endpoints. Wiring order and shutdown sequencing follow
// the teacher's own cmd/example wiring style, scaled up to this stack's
// component graph.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexusmind/orchestrator/core"
	"github.com/nexusmind/orchestrator/executor"
	"github.com/nexusmind/orchestrator/llm"
	"github.com/nexusmind/orchestrator/orchestrator"
	"github.com/nexusmind/orchestrator/planner"
	"github.com/nexusmind/orchestrator/registry"
	"github.com/nexusmind/orchestrator/session"
	"github.com/nexusmind/orchestrator/telemetry"
	"github.com/nexusmind/orchestrator/transport"
)

func main() {
	logger := telemetry.GetLogger()

	otelProvider, err := telemetry.NewOTelProvider(serviceName(), telemetry.EndpointFromEnv())
	if err != nil {
		logger.Error("failed to start telemetry provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	cfg := core.NewConfig(core.WithLogger(logger))

	reg := registry.New(logger)
	if dir := os.Getenv("ORCH_TOOLS_DIR"); dir != "" {
		if err := loadToolDefinitions(reg, dir); err != nil {
			logger.Warn("tool definitions not loaded", map[string]interface{}{"dir": dir, "error": err.Error()})
		}
	}
	if reg.Len() == 0 {
		logger.Warn("starting with an empty tool registry; ORCH_TOOLS_DIR is unset or empty", nil)
	}

	sessionStore, err := buildSessionStore(logger)
	if err != nil {
		logger.Warn("falling back to in-memory sessions", map[string]interface{}{"error": err.Error()})
		sessionStore = nil
	}

	collaborator, err := buildCollaborator(logger)
	if err != nil {
		logger.Error("failed to build LLM collaborator", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	exCfg := executor.DefaultConfig()
	exCfg.EnableToolLearning = cfg.EnableToolLearning

	pl := planner.New(reg, planner.DefaultConfig(), logger)
	ex := executor.New(reg, exCfg, logger)
	sessions := session.New(sessionStore, session.DefaultConfig(), logger)
	sessions.StartSweeper()

	orch := orchestrator.New(reg, pl, ex, sessions, collaborator, cfg)
	orch.SetTelemetry(otelProvider)
	handler := transport.NewHandler(orch, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/query", handler.ServeQuery)
	mux.HandleFunc("/v1/stream", handler.ServeStream)
	mux.HandleFunc("/v1/ws", handler.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    ":" + port(),
		Handler: telemetry.TracingMiddleware(serviceName())(mux),
	}

	go func() {
		logger.Info("orchestrator listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped unexpectedly", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
	}()

	waitForShutdown()

	logger.Info("shutdown signal received, draining in-flight queries", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGraceWindow+5*time.Second)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("orchestrator shutdown did not finish cleanly", map[string]interface{}{"error": err.Error()})
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown did not finish cleanly", map[string]interface{}{"error": err.Error()})
	}
	sessions.Stop()
	if err := otelProvider.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown did not finish cleanly", map[string]interface{}{"error": err.Error()})
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func serviceName() string {
	if v := os.Getenv("ORCH_SERVICE_NAME"); v != "" {
		return v
	}
	return "orchestrator"
}

func port() string {
	if v := os.Getenv("ORCH_PORT"); v != "" {
		return v
	}
	return "8080"
}

// buildSessionStore wires a Redis-backed session.Store when ORCH_REDIS_URL is
// set, otherwise returns a nil Store and lets session.Manager fall back to
// its purely in-memory mode.
func buildSessionStore(logger core.Logger) (session.Store, error) {
	url := os.Getenv("ORCH_REDIS_URL")
	if url == "" {
		return nil, nil
	}
	return session.NewRedisStore(url, "orchestrator:session", 30*time.Minute, logger)
}

// buildCollaborator wires the Anthropic-backed Collaborator when
// ANTHROPIC_API_KEY is configured, otherwise falls back to MockCollaborator
// so the binary is still runnable (against a fixed tool set) without a
// network-backed LLM during local development.
func buildCollaborator(logger core.Logger) (llm.Collaborator, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set, using MockCollaborator", nil)
		return &llm.MockCollaborator{}, nil
	}
	model := os.Getenv("ANTHROPIC_MODEL")
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	return llm.NewAnthropicCollaborator(apiKey, model, logger)
}

// loadToolDefinitions hands every *.yaml/*.yml tool definition under dir to
// LoadFromDirectory with an empty HandlerTable, so each definition is logged
// and skipped for lack of a bound handler and none is registered. A real
// deployment supplies a HandlerTable built from its own domain-specific Go
// functions.
func loadToolDefinitions(reg *registry.Registry, dir string) error {
	_, err := reg.LoadFromDirectory(dir, registry.HandlerTable{})
	return err
}
