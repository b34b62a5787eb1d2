// Package k8s runs the job runner as a Kubernetes Job.
package k8s

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	typedbatchv1 "k8s.io/client-go/kubernetes/typed/batch/v1"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// DefaultNamespace is used when no namespace is configured.
const DefaultNamespace = "mentatlab"

// Config selects how the client reaches the API server.
type Config struct {
	InCluster  bool   // use the pod's service account
	Kubeconfig string // path used when not in cluster
	Namespace  string // where runner Jobs are created
}

// DefaultConfig reads KUBECONFIG, falling back to ~/.kube/config.
func DefaultConfig() *Config {
	path := os.Getenv("KUBECONFIG")
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".kube", "config")
		}
	}
	return &Config{Kubeconfig: path, Namespace: DefaultNamespace}
}

func (cfg *Config) restConfig() (*rest.Config, error) {
	if cfg.InCluster {
		rc, err := rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("in-cluster config: %w", err)
		}
		return rc, nil
	}
	rc, err := clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig %q: %w", cfg.Kubeconfig, err)
	}
	return rc, nil
}

// Client is a namespace-scoped view of the cluster holding the few calls
// the Job driver needs.
type Client struct {
	cs        kubernetes.Interface
	namespace string
}

// NewClient builds a clientset from cfg.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	rc, err := cfg.restConfig()
	if err != nil {
		return nil, err
	}
	cs, err := kubernetes.NewForConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("create clientset: %w", err)
	}
	return NewClientWithInterface(cs, cfg.Namespace), nil
}

// NewClientWithInterface wraps an existing clientset, such as a fake.
func NewClientWithInterface(cs kubernetes.Interface, namespace string) *Client {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Client{cs: cs, namespace: namespace}
}

func (c *Client) Namespace() string { return c.namespace }

func (c *Client) jobs() typedbatchv1.JobInterface {
	return c.cs.BatchV1().Jobs(c.namespace)
}

func (c *Client) configMaps() typedcorev1.ConfigMapInterface {
	return c.cs.CoreV1().ConfigMaps(c.namespace)
}

func (c *Client) pods() typedcorev1.PodInterface {
	return c.cs.CoreV1().Pods(c.namespace)
}

func (c *Client) CreateJob(ctx context.Context, job *batchv1.Job) (*batchv1.Job, error) {
	return c.jobs().Create(ctx, job, metav1.CreateOptions{})
}

// DeleteJob removes the Job and, in the background, its pods.
func (c *Client) DeleteJob(ctx context.Context, name string) error {
	background := metav1.DeletePropagationBackground
	return c.jobs().Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &background})
}

func (c *Client) CreateConfigMap(ctx context.Context, cm *corev1.ConfigMap) (*corev1.ConfigMap, error) {
	return c.configMaps().Create(ctx, cm, metav1.CreateOptions{})
}

func (c *Client) DeleteConfigMap(ctx context.Context, name string) error {
	return c.configMaps().Delete(ctx, name, metav1.DeleteOptions{})
}

// ListPods lists pods matching a label selector.
func (c *Client) ListPods(ctx context.Context, selector string) (*corev1.PodList, error) {
	return c.pods().List(ctx, metav1.ListOptions{LabelSelector: selector})
}

func (c *Client) GetPod(ctx context.Context, name string) (*corev1.Pod, error) {
	return c.pods().Get(ctx, name, metav1.GetOptions{})
}
