// Package config provides configuration loading for the pipeline service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the pipeline service.
type Config struct {
	// Server configuration
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	ShutdownGrace time.Duration

	// Event streams
	HeartbeatInterval time.Duration

	// Steps and plans
	ScriptsDir       string
	Interpreter      string
	StepRegistryFile string
	PlanDir          string
	GraphPolicy      string // "walk", "flatten" or "strict"

	// Job runner
	DriverType    string // "subprocess" or "kubernetes"
	RunnerPath    string
	RunnerWorkdir string

	// Kubernetes job driver
	K8sInCluster       bool
	K8sKubeconfig      string
	K8sNamespace       string
	K8sRunnerImage     string
	K8sServiceAccount  string
	K8sImagePullSecret []string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Run registry and archive
	ArchiveType  string // "memory" or "redis"
	ArchiveTTL   time.Duration
	ArchiveMax   int
	RunRetention time.Duration
	EventMaxLen  int64

	// Saved flows
	FlowStoreType string // "memory" or "redis"

	// Plan artifacts
	ArtifactType            string // "", "memory", "s3" or "minio"
	ArtifactEndpoint        string
	ArtifactBucket          string
	ArtifactRegion          string
	ArtifactAccessKeyID     string
	ArtifactSecretAccessKey string
	ArtifactUseSSL          bool
	ArtifactPrefix          string

	// OIDC configuration
	OIDCIssuer        string
	OIDCClientID      string
	OIDCEnabled       bool
	OIDCRequiredRoles []string

	// CORS configuration
	CORSOrigins []string

	// Rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Tracing
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "7070"),
		ReadTimeout:   getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:  getDuration("WRITE_TIMEOUT", 0), // event streams outlive any write deadline
		ShutdownGrace: getDuration("SHUTDOWN_GRACE", 10*time.Second),

		HeartbeatInterval: getDuration("SSE_HEARTBEAT", 15*time.Second),

		// Steps and plans
		ScriptsDir:       getEnv("SCRIPTS_DIR", "scripts"),
		Interpreter:      getEnv("STEP_INTERPRETER", ""),
		StepRegistryFile: getEnv("STEP_REGISTRY_FILE", ""),
		PlanDir:          getEnv("PLAN_DIR", os.TempDir()),
		GraphPolicy:      getEnv("GRAPH_POLICY", "flatten"),

		// Runner
		DriverType:    getEnv("DRIVER_TYPE", "subprocess"),
		RunnerPath:    getEnv("RUNNER_PATH", ""),
		RunnerWorkdir: getEnv("RUNNER_WORKDIR", ""),

		// Kubernetes
		K8sInCluster:       getBool("K8S_IN_CLUSTER", false),
		K8sKubeconfig:      getEnv("KUBECONFIG", ""),
		K8sNamespace:       getEnv("K8S_NAMESPACE", "mentatlab"),
		K8sRunnerImage:     getEnv("RUNNER_IMAGE", "mentatlab/pipeline-runner:latest"),
		K8sServiceAccount:  getEnv("K8S_SERVICE_ACCOUNT", "default"),
		K8sImagePullSecret: getStringSlice("K8S_IMAGE_PULL_SECRETS", nil),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		// Runs
		ArchiveType:  getEnv("ARCHIVE_TYPE", "memory"),
		ArchiveTTL:   getDuration("ARCHIVE_TTL", 7*24*time.Hour), // 7 days
		ArchiveMax:   getInt("ARCHIVE_MAX_RUNS", 1000),
		RunRetention: getDuration("RUN_RETENTION", 30*time.Minute),
		EventMaxLen:  getInt64("EVENT_MAX_LEN", 5000),

		FlowStoreType: getEnv("FLOWSTORE_TYPE", "memory"),

		// Artifacts
		ArtifactType:            getEnv("ARTIFACT_TYPE", ""),
		ArtifactEndpoint:        getEnv("ARTIFACT_ENDPOINT", ""),
		ArtifactBucket:          getEnv("ARTIFACT_BUCKET", ""),
		ArtifactRegion:          getEnv("ARTIFACT_REGION", ""),
		ArtifactAccessKeyID:     getEnv("ARTIFACT_ACCESS_KEY_ID", ""),
		ArtifactSecretAccessKey: getEnv("ARTIFACT_SECRET_ACCESS_KEY", ""),
		ArtifactUseSSL:          getBool("ARTIFACT_USE_SSL", false),
		ArtifactPrefix:          getEnv("ARTIFACT_PREFIX", "pipeline"),

		// OIDC
		OIDCIssuer:        getEnv("OIDC_ISSUER", ""),
		OIDCClientID:      getEnv("OIDC_CLIENT_ID", ""),
		OIDCEnabled:       getBool("OIDC_ENABLED", false),
		OIDCRequiredRoles: getStringSlice("OIDC_REQUIRED_ROLES", nil),

		// CORS
		CORSOrigins: getStringSlice("CORS_ORIGINS", []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:3000"}),

		// Rate limiting
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 100.0),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 200),

		// Tracing
		TracingEnabled:    getBool("TRACING_ENABLED", false),
		TracingEndpoint:   getEnv("TRACING_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getFloat("TRACING_SAMPLE_RATE", 1.0),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		var out []string
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return defaultVal
}
