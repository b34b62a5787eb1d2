package driver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/flexinfer/mentatlab/services/pipeline-go/internal/k8s"
	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

func finishedPod(runID string, exit int32) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "runner-pod",
			Namespace: "pipelines",
			Labels:    map[string]string{"job-name": k8s.JobName(runID)},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodSucceeded,
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  k8s.ContainerName,
				State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: exit}},
			}},
		},
	}
}

func writePlan(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nsteps: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestJobDriver_RelaysPodLogsAndCleansUp(t *testing.T) {
	k8s.PollInterval = 10 * time.Millisecond
	runID := "3f6c1c1e-0000-4000-8000-000000000001"

	clientset := fake.NewSimpleClientset(finishedPod(runID, 0))
	client := k8s.NewClientWithInterface(clientset, "pipelines")
	d := NewJobDriver(client, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	sink := &sliceSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if code := d.Run(ctx, runID, writePlan(t), sink); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	events := sink.snapshot()
	if countDone(events) != 1 {
		t.Fatalf("done events = %d: %v", countDone(events), describe(events))
	}
	last := events[len(events)-1]
	done, err := last.Done()
	if err != nil {
		t.Fatalf("last event is not done: %v", describe(events))
	}
	if done.Status != types.RunStatusSucceeded {
		t.Errorf("status = %q, want succeeded", done.Status)
	}

	// The Job and its plan ConfigMap are removed once the run ends.
	jobs, _ := clientset.BatchV1().Jobs("pipelines").List(ctx, metav1.ListOptions{})
	if len(jobs.Items) != 0 {
		t.Errorf("jobs left behind: %d", len(jobs.Items))
	}
	cms, _ := clientset.CoreV1().ConfigMaps("pipelines").List(ctx, metav1.ListOptions{})
	if len(cms.Items) != 0 {
		t.Errorf("configmaps left behind: %d", len(cms.Items))
	}
}

func TestJobDriver_FailedRunner(t *testing.T) {
	k8s.PollInterval = 10 * time.Millisecond
	runID := "3f6c1c1e-0000-4000-8000-000000000002"

	clientset := fake.NewSimpleClientset(finishedPod(runID, 3))
	d := NewJobDriver(k8s.NewClientWithInterface(clientset, "pipelines"), nil, nil)

	sink := &sliceSink{}
	if code := d.Run(context.Background(), runID, writePlan(t), sink); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}

	events := sink.snapshot()
	done, err := events[len(events)-1].Done()
	if err != nil {
		t.Fatalf("last event is not done: %v", describe(events))
	}
	if done.Status != types.RunStatusFailed || done.ExitCode == nil || *done.ExitCode != 3 {
		t.Errorf("done = %+v", done)
	}
}

func TestJobDriver_MissingPlan(t *testing.T) {
	d := NewJobDriver(k8s.NewClientWithInterface(fake.NewSimpleClientset(), ""), nil, nil)

	sink := &sliceSink{}
	if code := d.Run(context.Background(), "r1", filepath.Join(t.TempDir(), "missing.yaml"), sink); code != -1 {
		t.Fatalf("exit code = %d, want -1", code)
	}
	if countDone(sink.snapshot()) != 1 {
		t.Errorf("expected a synthesized done event: %v", describe(sink.snapshot()))
	}
}

func TestJobDriver_CancelledWhileWaitingForPod(t *testing.T) {
	k8s.PollInterval = 10 * time.Millisecond
	d := NewJobDriver(k8s.NewClientWithInterface(fake.NewSimpleClientset(), "pipelines"), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sink := &sliceSink{}
	if code := d.Run(ctx, "r2", writePlan(t), sink); code != -1 {
		t.Fatalf("exit code = %d, want -1", code)
	}
	events := sink.snapshot()
	done, err := events[len(events)-1].Done()
	if err != nil || done.Status != types.RunStatusFailed {
		t.Errorf("expected a failed done event: %v", describe(events))
	}
}
