// Package main is the entry point for the pipeline service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/api"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/auth"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/compiler"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/config"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/dataflow"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/driver"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/flowstore"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/k8s"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/orchestrator"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/runstore"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/steps"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/tracing"
	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/validator"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting pipeline service",
		slog.String("port", cfg.Port),
		slog.String("log_level", cfg.LogLevel),
		slog.String("graph_policy", cfg.GraphPolicy),
	)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Tracing
	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.OTLPEndpoint = cfg.TracingEndpoint
	tracingCfg.SampleRate = cfg.TracingSampleRate
	tp, err := tracing.Init(rootCtx, tracingCfg, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Step kinds and the compiler
	kinds, err := steps.DefaultRegistry(cfg.ScriptsDir, cfg.Interpreter)
	if err != nil {
		logger.Error("failed to build step registry", "error", err)
		os.Exit(1)
	}
	if cfg.StepRegistryFile != "" {
		if err := kinds.LoadFile(cfg.StepRegistryFile); err != nil {
			logger.Error("failed to load step registry file", "path", cfg.StepRegistryFile, "error", err)
			os.Exit(1)
		}
	}
	policy, err := compiler.ParsePolicy(cfg.GraphPolicy)
	if err != nil {
		logger.Error("invalid graph policy", "error", err)
		os.Exit(1)
	}
	comp := compiler.New(kinds, policy)
	logger.Info("step registry loaded", slog.Int("kinds", kinds.Count()), slog.String("policy", string(policy)))

	v, err := validator.New()
	if err != nil {
		logger.Error("failed to create validator", "error", err)
		// Continue without validator - the compiler still rejects bad graphs
		v = nil
	}

	// Run archive
	var archive runstore.Archive
	switch cfg.ArchiveType {
	case "redis":
		redisCfg := runstore.DefaultRedisConfig()
		redisCfg.URL = cfg.RedisURL
		redisCfg.Password = cfg.RedisPassword
		redisCfg.DB = cfg.RedisDB
		redisCfg.TTL = cfg.ArchiveTTL
		redisCfg.EventMaxLen = cfg.EventMaxLen
		redisArchive, err := runstore.NewRedisArchive(redisCfg)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory archive", "error", err)
			archive = runstore.NewMemoryArchive(cfg.ArchiveTTL, cfg.ArchiveMax)
		} else {
			archive = redisArchive
			logger.Info("using Redis run archive", slog.String("url", cfg.RedisURL))
		}
	default:
		archive = runstore.NewMemoryArchive(cfg.ArchiveTTL, cfg.ArchiveMax)
		logger.Info("using in-memory run archive")
	}
	defer archive.Close()

	registry := runstore.NewRegistry(registryConfig(cfg), archive, logger)
	registry.StartReaper(rootCtx)

	// Saved flows
	var flows flowstore.FlowStore
	switch cfg.FlowStoreType {
	case "redis":
		redisFlows, err := flowstore.NewRedisStore(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			logger.Error("failed to connect to Redis, falling back to memory flow store", "error", err)
			flows = flowstore.NewMemoryStore()
		} else {
			flows = redisFlows
			logger.Info("using Redis flow store")
		}
	default:
		flows = flowstore.NewMemoryStore()
	}
	defer flows.Close()

	// Plan artifacts
	var artifacts *dataflow.Service
	if cfg.ArtifactType != "" {
		artifacts, err = dataflow.New(rootCtx, &dataflow.Config{
			Type:            cfg.ArtifactType,
			Endpoint:        cfg.ArtifactEndpoint,
			Bucket:          cfg.ArtifactBucket,
			Region:          cfg.ArtifactRegion,
			AccessKeyID:     cfg.ArtifactAccessKeyID,
			SecretAccessKey: cfg.ArtifactSecretAccessKey,
			UseSSL:          cfg.ArtifactUseSSL,
			PathPrefix:      cfg.ArtifactPrefix,
		})
		if err != nil {
			logger.Error("failed to initialize artifact store, plans stay local", "error", err)
			artifacts = nil
		} else {
			logger.Info("archiving plans", slog.String("backend", artifacts.Backend()))
		}
	}

	// Job runner
	runnerPath := cfg.RunnerPath
	if runnerPath == "" {
		runnerPath = driver.DefaultRunnerPath()
	}
	var runnerDriver driver.Driver
	switch cfg.DriverType {
	case "kubernetes":
		k8sCfg := k8s.DefaultConfig()
		k8sCfg.InCluster = cfg.K8sInCluster
		if cfg.K8sKubeconfig != "" {
			k8sCfg.Kubeconfig = cfg.K8sKubeconfig
		}
		k8sCfg.Namespace = cfg.K8sNamespace
		client, err := k8s.NewClient(k8sCfg)
		if err != nil {
			logger.Error("failed to create Kubernetes client", "error", err)
			os.Exit(1)
		}
		jobCfg := k8s.DefaultJobConfig()
		jobCfg.Image = cfg.K8sRunnerImage
		jobCfg.ServiceAccountName = cfg.K8sServiceAccount
		jobCfg.ImagePullSecrets = cfg.K8sImagePullSecret
		runnerDriver = driver.NewJobDriver(client, jobCfg, logger)
		// The runner binary lives in the image, not next to this process.
		runnerPath = ""
		logger.Info("running plans as Kubernetes Jobs",
			slog.String("namespace", client.Namespace()),
			slog.String("image", cfg.K8sRunnerImage),
		)
	default:
		runnerDriver = driver.NewRunnerDriver(&driver.RunnerConfig{
			Command: []string{runnerPath},
			CWD:     cfg.RunnerWorkdir,
			Logger:  logger,
		})
	}

	orch := orchestrator.New(orchestrator.Options{
		Compiler:  comp,
		Steps:     kinds,
		Registry:  registry,
		Driver:    runnerDriver,
		Artifacts: artifacts,
		Config:    &orchestrator.Config{PlanDir: cfg.PlanDir},
		Logger:    logger,
	})

	// Middleware: tracing, rate limiting, then auth
	middlewares := []api.Middleware{tp.Middleware}

	limiter := auth.NewPerIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limiter.StartCleanup(rootCtx)
	middlewares = append(middlewares, limiter.Handler)

	if cfg.OIDCEnabled {
		provider, err := auth.NewProvider(rootCtx, &auth.Config{
			Issuer:   cfg.OIDCIssuer,
			ClientID: cfg.OIDCClientID,
		})
		if err != nil {
			logger.Error("failed to initialize OIDC provider", "error", err)
			os.Exit(1)
		}
		authMW := auth.NewMiddleware(provider, &auth.MiddlewareConfig{
			Enabled:       true,
			RequiredRoles: cfg.OIDCRequiredRoles,
		})
		middlewares = append(middlewares, authMW.Handler)
		logger.Info("OIDC authentication enabled", slog.String("issuer", cfg.OIDCIssuer))
	}

	// Initialize API handlers
	handlers := api.NewHandlers(api.Options{
		Orchestrator: orch,
		Flows:        flows,
		Validator:    v,
		Archive:      archive,
		RunnerPath:   runnerPath,
		Config: &api.Config{
			CORSOrigins:       cfg.CORSOrigins,
			HeartbeatInterval: cfg.HeartbeatInterval,
		},
		Logger: logger,
	})
	server := api.NewServer(handlers, middlewares...)

	// Create HTTP server. WriteTimeout stays at its configured value (0 by
	// default) since event streams are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := orch.Shutdown(ctx); err != nil {
		logger.Warn("runs still active at shutdown were killed", "error", err)
	}
	stop()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Error("tracing shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

// registryConfig maps service settings onto the run registry.
func registryConfig(cfg *config.Config) *runstore.Config {
	rc := runstore.DefaultConfig()
	rc.EventMaxLen = int(cfg.EventMaxLen)
	rc.Retention = cfg.RunRetention
	return rc
}
