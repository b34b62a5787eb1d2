package k8s

import (
	"context"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// PollInterval is how often pod state is polled.
var PollInterval = 500 * time.Millisecond

// WaitForPod waits for the Job's pod to exist and its runner container to
// have started (or already finished). It returns the pod name.
func (c *Client) WaitForPod(ctx context.Context, jobName string) (string, error) {
	selector := fmt.Sprintf("job-name=%s", jobName)

	for {
		pods, err := c.ListPods(ctx, selector)
		if err == nil && len(pods.Items) > 0 {
			pod := &pods.Items[0]
			if containerStarted(pod) {
				return pod.Name, nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func containerStarted(pod *corev1.Pod) bool {
	switch pod.Status.Phase {
	case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
		return true
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name == ContainerName && (cs.State.Running != nil || cs.State.Terminated != nil) {
			return true
		}
	}
	return false
}

// StreamLogs follows the runner container's combined output.
func (c *Client) StreamLogs(ctx context.Context, podName string) (io.ReadCloser, error) {
	req := c.pods().GetLogs(podName, &corev1.PodLogOptions{
		Container: ContainerName,
		Follow:    true,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("get log stream: %w", err)
	}
	return stream, nil
}

// WaitForExit waits for the runner container to terminate and returns its exit code.
func (c *Client) WaitForExit(ctx context.Context, podName string) (int, error) {
	for {
		pod, err := c.GetPod(ctx, podName)
		if err == nil {
			if code, done := exitCode(pod); done {
				return code, nil
			}
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(PollInterval):
		}
	}
}

func exitCode(pod *corev1.Pod) (int, bool) {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Name == ContainerName && cs.State.Terminated != nil {
			return int(cs.State.Terminated.ExitCode), true
		}
	}
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return 0, true
	case corev1.PodFailed:
		return 1, true
	}
	return 0, false
}
