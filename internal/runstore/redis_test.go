package runstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Requires a reachable Redis; set REDIS_TEST_URL to run.
func TestRedisArchive(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}

	cfg := DefaultRedisConfig()
	cfg.URL = url
	cfg.Prefix = "test-runs-" + uuid.NewString()[:8]
	cfg.TTL = time.Minute
	cfg.EventMaxLen = 2

	archive, err := NewRedisArchive(cfg)
	if err != nil {
		t.Fatalf("NewRedisArchive failed: %v", err)
	}
	defer archive.Close()

	ctx := context.Background()
	finished := time.Now().UTC().Truncate(time.Millisecond)
	summary := &types.RunSummary{
		ID:         "run-1",
		Status:     types.RunStatusSucceeded,
		PlanPath:   "/tmp/plan.yaml",
		StepCount:  2,
		StepsDone:  2,
		CreatedAt:  finished.Add(-time.Second),
		FinishedAt: &finished,
		Events: []types.Event{
			types.NewLogEvent("first", ""),
			types.NewStageEvent("run-1", "A", types.StageStatusDone, nil),
			types.NewDoneEvent(types.RunStatusSucceeded, types.IntPtr(0)),
		},
	}

	if err := archive.Save(ctx, summary); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := archive.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.RunStatusSucceeded || got.StepsDone != 2 || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("unexpected summary: %+v", got)
	}
	if len(got.Events) != 2 || got.Events[1].Type != types.EventTypeDone {
		t.Errorf("expected last 2 events, got %+v", got.Events)
	}

	ids, err := archive.List(ctx)
	if err != nil || len(ids) != 1 || ids[0] != "run-1" {
		t.Errorf("unexpected list %v, %v", ids, err)
	}

	if _, err := archive.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
