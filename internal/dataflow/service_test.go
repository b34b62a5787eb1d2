package dataflow

import (
	"context"
	"errors"
	"testing"
)

func TestService_StoreAndReadPlan(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if svc.Backend() != "memory" {
		t.Fatalf("expected memory backend, got %s", svc.Backend())
	}

	plan := []byte("version: 1\nsteps: []\n")
	ref, err := svc.StorePlan(ctx, "run-1", plan)
	if err != nil {
		t.Fatalf("StorePlan failed: %v", err)
	}
	if ref.URI != "memory://runs/run-1/plan.yaml" {
		t.Errorf("unexpected uri %s", ref.URI)
	}
	if ref.Size != int64(len(plan)) || len(ref.Checksum) != 64 || ref.ContentType != PlanContentType {
		t.Errorf("unexpected ref %+v", ref)
	}

	got, err := svc.ReadPlan(ctx, ref.URI)
	if err != nil {
		t.Fatalf("ReadPlan failed: %v", err)
	}
	if string(got) != string(plan) {
		t.Errorf("expected %q, got %q", plan, got)
	}

	t.Run("stored copy is detached from caller buffer", func(t *testing.T) {
		plan[0] = 'X'
		again, _ := svc.ReadPlan(ctx, ref.URI)
		if again[0] != 'v' {
			t.Error("artifact changed through caller buffer")
		}
	})

	t.Run("missing artifact", func(t *testing.T) {
		if _, err := svc.ReadPlan(ctx, "memory://runs/nope/plan.yaml"); !errors.Is(err, ErrArtifactNotFound) {
			t.Errorf("expected ErrArtifactNotFound, got %v", err)
		}
	})

}

func TestService_ReplacesPlanOfSameRun(t *testing.T) {
	ctx := context.Background()
	svc := NewWithBackend(NewMemoryBackend())

	first, _ := svc.StorePlan(ctx, "run-a", []byte("a"))
	if _, err := svc.StorePlan(ctx, "run-b", []byte("b")); err != nil {
		t.Fatalf("StorePlan failed: %v", err)
	}
	second, err := svc.StorePlan(ctx, "run-a", []byte("aa"))
	if err != nil {
		t.Fatalf("StorePlan failed: %v", err)
	}
	if first.URI != second.URI {
		t.Errorf("uri changed: %s -> %s", first.URI, second.URI)
	}

	got, _ := svc.ReadPlan(ctx, second.URI)
	if string(got) != "aa" {
		t.Errorf("expected latest plan, got %q", got)
	}
	if other, _ := svc.ReadPlan(ctx, "memory://runs/run-b/plan.yaml"); string(other) != "b" {
		t.Errorf("other run's plan changed: %q", other)
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil config", nil, false},
		{"unknown type", &Config{Type: "ftp"}, true},
		{"s3 without bucket", &Config{Type: "s3"}, true},
		{"minio", &Config{Type: "minio", Bucket: "plans", Endpoint: "localhost:9000", AccessKeyID: "k", SecretAccessKey: "s"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestS3Backend_Keys(t *testing.T) {
	b, err := NewS3Backend(context.Background(), &S3Config{Bucket: "plans", Endpoint: "localhost:9000", PathPrefix: "/pipeline/", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("NewS3Backend failed: %v", err)
	}

	if got := b.fullPath(PlanPath("r1")); got != "pipeline/runs/r1/plan.yaml" {
		t.Errorf("unexpected key %s", got)
	}

	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{"s3://plans/pipeline/runs/r1/plan.yaml", "pipeline/runs/r1/plan.yaml", false},
		{"s3://other/pipeline/runs/r1/plan.yaml", "", true},
		{"memory://runs/r1/plan.yaml", "", true},
		{"s3://plans", "", true},
	}
	for _, tt := range tests {
		got, err := b.extractKey(tt.uri)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("extractKey(%q) = %q, %v", tt.uri, got, err)
		}
	}

	if got := endpointURL("https://s3.example.com", false); got != "https://s3.example.com" {
		t.Errorf("unexpected endpoint %s", got)
	}
	if got := endpointURL("minio:9000", true); got != "https://minio:9000" {
		t.Errorf("unexpected endpoint %s", got)
	}
}
