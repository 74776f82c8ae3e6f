// Package kube runs worker units as batch/v1 Jobs in a single Kubernetes
// namespace.
//
// Each unit becomes one Job with a single-container pod template. Jobs carry
// the job-level labels and the pod template carries the pod-level labels, so
// a selector on type=job never matches the pods the Job controller creates.
package kube

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/montecarlo-sim/montecarlo-sim/sim/backend"
)

// ContainerName is the name of the single container in every worker pod.
const ContainerName = "monte-carlo-simulator"

// Config shapes the Job objects the backend creates.
type Config struct {
	Namespace       string
	ImagePullPolicy corev1.PullPolicy // default Never, images are preloaded on the nodes
	BackoffLimit    int32             // retries inside the Job; 0 means the unit fails on first error
}

// Backend implements backend.Backend on top of a Kubernetes clientset. It is
// constructed per scheduling run; there is no package-level client.
type Backend struct {
	client kubernetes.Interface
	cfg    Config
}

// New returns a Backend operating in cfg.Namespace.
func New(client kubernetes.Interface, cfg Config) (*Backend, error) {
	if client == nil {
		return nil, fmt.Errorf("kubernetes client is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}
	if cfg.ImagePullPolicy == "" {
		cfg.ImagePullPolicy = corev1.PullNever
	}
	if cfg.BackoffLimit < 0 {
		return nil, fmt.Errorf("backoff limit must be non-negative, got %d", cfg.BackoffLimit)
	}
	return &Backend{client: client, cfg: cfg}, nil
}

// NewClientset builds a clientset from a kubeconfig path and context name.
// With an empty path the default loading rules apply, falling back to the
// in-cluster service account configuration.
func NewClientset(kubeconfig, kubeContext string) (kubernetes.Interface, error) {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if kubeconfig != "" {
		rules.ExplicitPath = kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: kubeContext}
	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		if kubeconfig != "" || kubeContext != "" {
			return nil, fmt.Errorf("loading kubeconfig: %w", err)
		}
		logrus.Debugf("No kubeconfig found (%v), trying in-cluster config", err)
		restCfg, err = rest.InClusterConfig()
		if err != nil {
			return nil, fmt.Errorf("loading in-cluster config: %w", err)
		}
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	return cs, nil
}

// Submit creates the Job for sub.
func (b *Backend) Submit(ctx context.Context, sub backend.Submission) (backend.Handle, error) {
	job := b.jobFor(sub)
	created, err := b.client.BatchV1().Jobs(b.cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return backend.Handle{}, fmt.Errorf("creating job %s/%s: %w", b.cfg.Namespace, sub.Name, err)
	}
	logrus.WithFields(logrus.Fields{"namespace": b.cfg.Namespace, "job": created.Name}).Debug("Created job")
	return backend.Handle{Name: created.Name, UID: string(created.UID)}, nil
}

// List returns the Jobs matching selector with their derived phase.
func (b *Backend) List(ctx context.Context, selector backend.Selector) ([]backend.Status, error) {
	jobs, err := b.client.BatchV1().Jobs(b.cfg.Namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("listing jobs in %s with %q: %w", b.cfg.Namespace, selector.String(), err)
	}
	out := make([]backend.Status, 0, len(jobs.Items))
	for i := range jobs.Items {
		job := &jobs.Items[i]
		out = append(out, backend.Status{Name: job.Name, Labels: job.Labels, Phase: JobPhase(job)})
	}
	return out, nil
}

// Delete removes the named Job and, through background propagation, its pods.
func (b *Backend) Delete(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := b.client.BatchV1().Jobs(b.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &propagation})
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting job %s/%s: %w", b.cfg.Namespace, name, backend.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting job %s/%s: %w", b.cfg.Namespace, name, err)
	}
	return nil
}

func (b *Backend) jobFor(sub backend.Submission) *batchv1.Job {
	backoff := b.cfg.BackoffLimit
	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{Kind: "Job", APIVersion: "batch/v1"},
		ObjectMeta: metav1.ObjectMeta{
			Name:        sub.Name,
			Namespace:   b.cfg.Namespace,
			Labels:      sub.JobLabels,
			Annotations: sub.Annotations,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      sub.PodLabels,
					Annotations: sub.Annotations,
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:            ContainerName,
						Image:           sub.Image,
						ImagePullPolicy: b.cfg.ImagePullPolicy,
						Args:            append([]string(nil), sub.Args...),
					}},
				},
			},
		},
	}
}

// JobPhase maps Job status onto a unit phase. Conditions win over counters
// because a Job can report Failed while an old pod is still counted active.
func JobPhase(job *batchv1.Job) backend.Phase {
	for _, c := range job.Status.Conditions {
		if c.Status != corev1.ConditionTrue {
			continue
		}
		switch c.Type {
		case batchv1.JobComplete:
			return backend.PhaseSucceeded
		case batchv1.JobFailed:
			return backend.PhaseFailed
		}
	}
	switch {
	case job.Status.Succeeded > 0 && job.Status.Active == 0:
		return backend.PhaseSucceeded
	case job.Status.Active > 0:
		return backend.PhaseRunning
	case job.Status.Failed > 0:
		return backend.PhaseFailed
	default:
		return backend.PhasePending
	}
}
