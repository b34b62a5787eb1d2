package k8s

import (
	"errors"
	"path"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// ContainerName is the runner container inside each Job pod.
	ContainerName = "runner"

	// PlanMountPath is where the plan ConfigMap is mounted.
	PlanMountPath = "/etc/pipeline"

	planKey    = "plan.yaml"
	planVolume = "plan"
	runnerUID  = 1000
	maxNameLen = 63
)

// JobConfig describes the pod every run gets.
type JobConfig struct {
	Namespace          string
	Image              string   // carries the job runner and step scripts
	RunnerCommand      []string // argv prefix; run id and plan path are appended
	ServiceAccountName string
	ImagePullSecrets   []string

	CPURequest, CPULimit       string
	MemoryRequest, MemoryLimit string

	ActiveDeadlineSeconds   *int64
	TTLSecondsAfterFinished *int32
}

// DefaultJobConfig returns a one hour deadline and a one hour TTL.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Namespace:               DefaultNamespace,
		Image:                   "mentatlab/pipeline-runner:latest",
		RunnerCommand:           []string{"jobrunner"},
		ServiceAccountName:      "default",
		CPURequest:              "100m",
		CPULimit:                "2",
		MemoryRequest:           "128Mi",
		MemoryLimit:             "2Gi",
		ActiveDeadlineSeconds:   ptr[int64](3600),
		TTLSecondsAfterFinished: ptr[int32](3600),
	}
}

// JobBuilder turns a run into its ConfigMap and Job.
type JobBuilder struct {
	cfg *JobConfig
}

func NewJobBuilder(cfg *JobConfig) *JobBuilder {
	if cfg == nil {
		cfg = DefaultJobConfig()
	}
	return &JobBuilder{cfg: cfg}
}

// JobName names both the Job and the plan ConfigMap of a run.
func JobName(runID string) string {
	return sanitizeK8sName("pipeline-run-" + runID)
}

func runLabels(runID string) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":       "mentatlab-pipeline",
		"app.kubernetes.io/component":  "job-runner",
		"app.kubernetes.io/managed-by": "pipeline",
		"mentatlab.io/run-id":          sanitizeK8sLabel(runID),
	}
}

func (b *JobBuilder) meta(runID string) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      JobName(runID),
		Namespace: b.cfg.Namespace,
		Labels:    runLabels(runID),
	}
}

// BuildPlanConfigMap carries the plan file into the pod.
func (b *JobBuilder) BuildPlanConfigMap(runID string, plan []byte) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		ObjectMeta: b.meta(runID),
		Data:       map[string]string{planKey: string(plan)},
	}
}

func (b *JobBuilder) resources() (corev1.ResourceRequirements, error) {
	list := func(cpu, mem string) (corev1.ResourceList, error) {
		c, err := resource.ParseQuantity(cpu)
		if err != nil {
			return nil, err
		}
		m, err := resource.ParseQuantity(mem)
		if err != nil {
			return nil, err
		}
		return corev1.ResourceList{corev1.ResourceCPU: c, corev1.ResourceMemory: m}, nil
	}
	req, err := list(b.cfg.CPURequest, b.cfg.MemoryRequest)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	lim, err := list(b.cfg.CPULimit, b.cfg.MemoryLimit)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	return corev1.ResourceRequirements{Requests: req, Limits: lim}, nil
}

func (b *JobBuilder) runnerContainer(runID string, res corev1.ResourceRequirements) corev1.Container {
	argv := b.cfg.RunnerCommand
	args := append(append([]string{}, argv[1:]...), "--run-id", runID, path.Join(PlanMountPath, planKey))

	return corev1.Container{
		Name:            ContainerName,
		Image:           b.cfg.Image,
		ImagePullPolicy: corev1.PullIfNotPresent,
		Command:         argv[:1],
		Args:            args,
		Env:             []corev1.EnvVar{{Name: "RUN_ID", Value: runID}},
		Resources:       res,
		VolumeMounts:    []corev1.VolumeMount{{Name: planVolume, MountPath: PlanMountPath, ReadOnly: true}},
		SecurityContext: &corev1.SecurityContext{
			AllowPrivilegeEscalation: ptr(false),
			RunAsNonRoot:             ptr(true),
			RunAsUser:                ptr[int64](runnerUID),
			Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
		},
	}
}

// BuildJob returns the Job running the run's plan. BackoffLimit is zero:
// a failed step fails the run, it is never retried.
func (b *JobBuilder) BuildJob(runID string) (*batchv1.Job, error) {
	switch {
	case b.cfg.Image == "":
		return nil, errors.New("no runner image configured")
	case len(b.cfg.RunnerCommand) == 0:
		return nil, errors.New("no runner command configured")
	}
	res, err := b.resources()
	if err != nil {
		return nil, err
	}

	meta := b.meta(runID)
	pod := corev1.PodSpec{
		Containers:         []corev1.Container{b.runnerContainer(runID, res)},
		RestartPolicy:      corev1.RestartPolicyNever,
		ServiceAccountName: b.cfg.ServiceAccountName,
		SecurityContext: &corev1.PodSecurityContext{
			RunAsNonRoot: ptr(true),
			RunAsUser:    ptr[int64](runnerUID),
			FSGroup:      ptr[int64](runnerUID),
		},
		Volumes: []corev1.Volume{{
			Name: planVolume,
			VolumeSource: corev1.VolumeSource{ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: meta.Name},
			}},
		}},
	}
	for _, s := range b.cfg.ImagePullSecrets {
		pod.ImagePullSecrets = append(pod.ImagePullSecrets, corev1.LocalObjectReference{Name: s})
	}

	return &batchv1.Job{
		ObjectMeta: meta,
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr[int32](0),
			ActiveDeadlineSeconds:   b.cfg.ActiveDeadlineSeconds,
			TTLSecondsAfterFinished: b.cfg.TTLSecondsAfterFinished,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: meta.Labels},
				Spec:       pod,
			},
		},
	}, nil
}

// sanitizeK8sName maps s onto a DNS-1123 label.
func sanitizeK8sName(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r == '_' || r == '.':
			return '-'
		}
		return -1
	}, strings.ToLower(s))
	out = strings.Trim(out, "-")
	if len(out) > maxNameLen {
		out = strings.TrimRight(out[:maxNameLen], "-")
	}
	return out
}

// sanitizeK8sLabel drops characters not allowed in a label value.
func sanitizeK8sLabel(s string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			return r
		}
		return -1
	}, s)
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	return out
}

func ptr[T any](v T) *T { return &v }
