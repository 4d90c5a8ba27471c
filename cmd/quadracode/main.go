// Command quadracode is the process entrypoint for one agent role
// (orchestrator, worker, or skeptic), mirroring the teacher's single
// cmd/tarsy binary parameterized by flags and environment instead of one
// binary per role.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/logan-robbins/quadracode-sub000/internal/checkpoint"
	"github.com/logan-robbins/quadracode-sub000/internal/config"
	cengine "github.com/logan-robbins/quadracode-sub000/internal/context"
	"github.com/logan-robbins/quadracode-sub000/internal/envelope"
	"github.com/logan-robbins/quadracode-sub000/internal/fleet"
	"github.com/logan-robbins/quadracode-sub000/internal/llmport"
	"github.com/logan-robbins/quadracode-sub000/internal/models"
	"github.com/logan-robbins/quadracode-sub000/internal/observability"
	"github.com/logan-robbins/quadracode-sub000/internal/registry"
	"github.com/logan-robbins/quadracode-sub000/internal/runtimeloop"
	"github.com/logan-robbins/quadracode-sub000/internal/timetravel"
	"github.com/logan-robbins/quadracode-sub000/internal/workspace"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

var systemPrompts = map[config.Role]string{
	config.RoleOrchestrator: "You are the Quadracode orchestrator: plan work, dispatch to workers, and arbitrate PRP transitions.",
	config.RoleWorker:       "You are a Quadracode worker agent: execute the current PRP stage against the assigned workspace.",
	config.RoleSkeptic:      "You are the Quadracode skeptic: adversarially review worker claims and force hypothesis revision on evidence gaps.",
}

func main() {
	roleFlag := flag.String("role", getEnv("QUADRACODE_ROLE", "orchestrator"), "agent role: orchestrator, worker, or skeptic")
	recipient := flag.String("recipient", getEnv("QUADRACODE_RECIPIENT", ""), "mailbox recipient name for this process (defaults to the role name)")
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	httpPort := flag.String("http-port", getEnv("HTTP_PORT", "8080"), "HTTP port for /health and (orchestrator-only) admin endpoints")
	workerCount := flag.Int("workers", 4, "number of runtime-loop workers in this process's pool")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	role := config.Role(*roleFlag)
	if _, ok := systemPrompts[role]; !ok {
		slog.Error("unknown role", "role", *roleFlag)
		os.Exit(1)
	}
	if *recipient == "" {
		*recipient = string(role)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	llm, err := llmport.NewGRPCClient(cfg.LLMServiceAddr)
	if err != nil {
		slog.Error("failed to dial llm service", "addr", cfg.LLMServiceAddr, "error", err)
		os.Exit(1)
	}
	defer llm.Close()

	recorder, err := timetravel.NewRecorder(cfg.TimeTravelDir)
	if err != nil {
		slog.Error("failed to open time-travel recorder", "error", err)
		os.Exit(1)
	}

	archiveStore, err := workspace.NewStore(filepath.Join(cfg.TimeTravelDir, "workspace_archive"))
	if err != nil {
		slog.Error("failed to open workspace archive store", "error", err)
		os.Exit(1)
	}
	workspaceManager := &workspace.Manager{
		Store:       archiveStore,
		WorkspaceOf: func(s *models.SessionState) string { return s.Workspace.Workspace },
		AutoRestore: false,
		Now:         time.Now,
	}

	emitter := &observability.Emitter{Pool: pgPool, Now: time.Now}

	registryStore := registry.NewMemoryStore(time.Duration(cfg.AgentHealthTimeoutS) * time.Second)
	var hotpathQuerier cengine.HotpathQuerier
	if role == config.RoleOrchestrator {
		hotpathQuerier = storeHotpathQuerier{store: registryStore}
	} else {
		hotpathQuerier = registry.NewHTTPClient(cfg.RegistryURL, time.Duration(cfg.RegistryTimeoutS)*time.Second)
	}

	deps := &cengine.Dependencies{
		Config:        cfg,
		Registry:      hotpathQuerier,
		LLM:           llm,
		Workspace:     workspaceManager,
		Observability: emitter,
		Now:           time.Now,
	}

	profile := config.NewProfile(role, *recipient, systemPrompts[role])

	loop := &runtimeloop.Loop{
		Mailbox:       envelope.NewRedisMailbox(rdb),
		Checkpoint:    checkpoint.NewPostgresStore(pgPool),
		Context:       deps,
		Recorder:      recorder,
		Workspace:     workspaceManager,
		Observability: emitter,
		Profile:       profile,
		Config:        cfg,
		Now:           time.Now,
	}

	pool := &runtimeloop.Pool{
		Loop:        loop,
		WorkerCount: *workerCount,
	}
	// The pool runs on its own context so a shutdown signal stops new reads
	// through pool.Stop without cancelling turns already in flight.
	pool.Start(context.Background())

	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "role": role, "recipient": *recipient})
	})

	var fleetRuntime *fleet.DockerRuntime
	if role == config.RoleOrchestrator {
		registry.NewServer(registryStore, slog.Default()).Register(router.Group("/agents"))

		fleetRuntime, err = fleet.NewDockerRuntime(cfg.FleetNetworkName)
		if err != nil {
			slog.Warn("fleet controller running without a docker runtime", "error", err)
		} else {
			fleetController := fleet.NewController(registryStore, fleetRuntime)
			fleetController.LivenessTimeout = cfg.FleetLivenessTimeout
			fleetController.LivenessPollInterval = cfg.FleetLivenessPollInterval
			fleet.NewServer(fleetController, poolHealthAdapter{pool}, slog.Default()).Register(router.Group("/fleet"))
		}
	}

	srv := &http.Server{Addr: ":" + *httpPort, Handler: router}
	go func() {
		slog.Info("http server listening", "port", *httpPort, "role", role, "recipient", *recipient)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received, draining", "grace_period", cfg.ShutdownGracePeriod)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		pool.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		slog.Warn("runtime loop pool did not drain within the grace period")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

// storeHotpathQuerier adapts registry.Store's List to the Context engine's
// narrower HotpathQuerier seam for in-process (orchestrator) wiring.
type storeHotpathQuerier struct {
	store registry.Store
}

func (s storeHotpathQuerier) ListHotpath(ctx context.Context) ([]models.AgentRecord, error) {
	return s.store.List(ctx, false, true)
}

// poolHealthAdapter satisfies fleet.HealthProvider.
type poolHealthAdapter struct {
	pool *runtimeloop.Pool
}

func (p poolHealthAdapter) Health() runtimeloop.PoolHealth {
	return p.pool.Health()
}
