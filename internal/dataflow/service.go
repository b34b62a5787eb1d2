// Package dataflow archives run artifacts, such as compiled step plans, to object storage.
package dataflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/metrics"
)

// ErrArtifactNotFound is returned when an artifact does not exist in the backend.
var ErrArtifactNotFound = errors.New("artifact not found")

// PlanContentType is the MIME type of stored step plans.
const PlanContentType = "application/yaml"

// ArtifactRef points at a stored artifact.
type ArtifactRef struct {
	URI         string    `json:"uri"` // s3://bucket/key or memory://key
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Checksum    string    `json:"checksum,omitempty"` // sha256, hex
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Backend is an object store holding artifacts by path.
type Backend interface {
	Put(ctx context.Context, path string, data []byte, contentType string) (*ArtifactRef, error)
	Get(ctx context.Context, uri string) (io.ReadCloser, error)
	Name() string
}

// Config holds dataflow service configuration.
type Config struct {
	// Backend type: "memory", "s3", "minio"
	Type string

	// S3/MinIO configuration
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool

	// Path prefix for all artifacts
	PathPrefix string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type:       "memory",
		PathPrefix: "pipeline",
	}
}

// Service stores and retrieves run artifacts.
type Service struct {
	backend Backend
}

// New creates a new dataflow service.
func New(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var backend Backend
	switch cfg.Type {
	case "memory":
		backend = NewMemoryBackend()
	case "s3", "minio":
		s3Backend, err := NewS3Backend(ctx, &S3Config{
			Endpoint:        cfg.Endpoint,
			Bucket:          cfg.Bucket,
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			PathPrefix:      cfg.PathPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 backend: %w", err)
		}
		backend = s3Backend
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}

	return NewWithBackend(backend), nil
}

// NewWithBackend creates a service on an existing backend.
func NewWithBackend(backend Backend) *Service {
	return &Service{backend: backend}
}

// Backend returns the backend name.
func (s *Service) Backend() string {
	return s.backend.Name()
}

// PlanPath is the artifact path of a run's step plan.
func PlanPath(runID string) string {
	return fmt.Sprintf("runs/%s/plan.yaml", runID)
}

// StorePlan archives a run's step plan.
func (s *Service) StorePlan(ctx context.Context, runID string, plan []byte) (*ArtifactRef, error) {
	ref, err := s.backend.Put(ctx, PlanPath(runID), plan, PlanContentType)
	s.observe("put", err)
	if err != nil {
		return nil, fmt.Errorf("store plan for run %s: %w", runID, err)
	}
	return ref, nil
}

// ReadPlan fetches an archived step plan by URI.
func (s *Service) ReadPlan(ctx context.Context, uri string) ([]byte, error) {
	rc, err := s.backend.Get(ctx, uri)
	s.observe("get", err)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", uri, err)
	}
	return data, nil
}

func (s *Service) observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.ArtifactOperations.WithLabelValues(s.backend.Name(), op, result).Inc()
}

func newRef(uri, contentType string, data []byte) *ArtifactRef {
	sum := sha256.Sum256(data)
	return &ArtifactRef{
		URI:         uri,
		ContentType: contentType,
		Size:        int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
	}
}

// MemoryBackend keeps artifacts in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

const memoryScheme = "memory://"

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Put(_ context.Context, path string, data []byte, contentType string) (*ArtifactRef, error) {
	blob := bytes.Clone(data)
	m.mu.Lock()
	m.blobs[path] = blob
	m.mu.Unlock()
	return newRef(memoryScheme+path, contentType, blob), nil
}

func (m *MemoryBackend) Get(_ context.Context, uri string) (io.ReadCloser, error) {
	path, ok := strings.CutPrefix(uri, memoryScheme)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, uri)
	}
	m.mu.RLock()
	blob, found := m.blobs[path]
	m.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, uri)
	}
	return io.NopCloser(bytes.NewReader(blob)), nil
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*S3Backend)(nil)
)
