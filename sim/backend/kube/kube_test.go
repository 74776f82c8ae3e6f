package kube

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/montecarlo-sim/montecarlo-sim/sim/backend"
)

const testNamespace = "simulations"

func testSubmission(name string) backend.Submission {
	return backend.Submission{
		Name:        name,
		JobLabels:   map[string]string{"name": "monte-carlo-simulator", "type": "job"},
		PodLabels:   map[string]string{"name": "monte-carlo-simulator", "type": "pod"},
		Annotations: map[string]string{"montecarlo-sim/sequence": "1"},
		Image:       "monte-carlo-simulator:latest",
		Args:        []string{"50000", "100", "0.18", "0.12", "365", "250"},
	}
}

func newTestBackend(t *testing.T, objects ...runtime.Object) (*Backend, *fake.Clientset) {
	t.Helper()
	client := fake.NewSimpleClientset(objects...)
	b, err := New(client, Config{Namespace: testNamespace})
	require.NoError(t, err)
	return b, client
}

func jobWithStatus(name, typ string, status batchv1.JobStatus) *batchv1.Job {
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: testNamespace,
			Labels:    map[string]string{"name": "monte-carlo-simulator", "type": typ},
		},
		Status: status,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Namespace: "ns"})
	assert.Error(t, err)
	_, err = New(fake.NewSimpleClientset(), Config{})
	assert.Error(t, err)
	_, err = New(fake.NewSimpleClientset(), Config{Namespace: "ns", BackoffLimit: -1})
	assert.Error(t, err)

	b, err := New(fake.NewSimpleClientset(), Config{Namespace: "ns"})
	require.NoError(t, err)
	assert.Equal(t, corev1.PullNever, b.cfg.ImagePullPolicy)
}

func TestSubmit_CreatesJobShape(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t)

	h, err := b.Submit(ctx, testSubmission("worker-1-abc"))
	require.NoError(t, err)
	assert.Equal(t, "worker-1-abc", h.Name)

	job, err := client.BatchV1().Jobs(testNamespace).Get(ctx, "worker-1-abc", metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, "job", job.Labels["type"])
	assert.Equal(t, "pod", job.Spec.Template.Labels["type"])
	require.NotNil(t, job.Spec.BackoffLimit)
	assert.Equal(t, int32(0), *job.Spec.BackoffLimit)
	assert.Equal(t, corev1.RestartPolicyNever, job.Spec.Template.Spec.RestartPolicy)
	require.Len(t, job.Spec.Template.Spec.Containers, 1)
	c := job.Spec.Template.Spec.Containers[0]
	assert.Equal(t, ContainerName, c.Name)
	assert.Equal(t, "monte-carlo-simulator:latest", c.Image)
	assert.Equal(t, corev1.PullNever, c.ImagePullPolicy)
	assert.Equal(t, []string{"50000", "100", "0.18", "0.12", "365", "250"}, c.Args)
	assert.Equal(t, "1", job.Annotations["montecarlo-sim/sequence"])
}

func TestSubmit_APIErrorIsWrapped(t *testing.T) {
	b, client := newTestBackend(t)
	quota := errors.New("exceeded quota")
	client.PrependReactor("create", "jobs", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, quota
	})

	_, err := b.Submit(context.Background(), testSubmission("worker-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, quota)
	assert.Contains(t, err.Error(), "worker-1")
}

func TestList_FiltersBySelectorAndDerivesPhase(t *testing.T) {
	b, _ := newTestBackend(t,
		jobWithStatus("done", "job", batchv1.JobStatus{
			Succeeded:  1,
			Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue}},
		}),
		jobWithStatus("running", "job", batchv1.JobStatus{Active: 1}),
		jobWithStatus("other-type", "pod", batchv1.JobStatus{Succeeded: 1}),
	)

	got, err := b.List(context.Background(), backend.Selector{"name": "monte-carlo-simulator", "type": "job"})
	require.NoError(t, err)

	phases := map[string]backend.Phase{}
	for _, s := range got {
		phases[s.Name] = s.Phase
		assert.Equal(t, "job", s.Labels["type"])
	}
	assert.Equal(t, map[string]backend.Phase{
		"done":    backend.PhaseSucceeded,
		"running": backend.PhaseRunning,
	}, phases)
}

func TestDelete_MissingJobMapsToErrNotFound(t *testing.T) {
	ctx := context.Background()
	b, client := newTestBackend(t, jobWithStatus("done", "job", batchv1.JobStatus{Succeeded: 1}))

	require.NoError(t, b.Delete(ctx, "done"))
	_, err := client.BatchV1().Jobs(testNamespace).Get(ctx, "done", metav1.GetOptions{})
	require.Error(t, err)

	err = b.Delete(ctx, "done")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestDelete_UsesBackgroundPropagation(t *testing.T) {
	b, client := newTestBackend(t, jobWithStatus("done", "job", batchv1.JobStatus{Succeeded: 1}))
	var seen *metav1.DeletionPropagation
	client.PrependReactor("delete", "jobs", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if da, ok := action.(k8stesting.DeleteActionImpl); ok {
			seen = da.DeleteOptions.PropagationPolicy
		}
		return false, nil, nil
	})

	require.NoError(t, b.Delete(context.Background(), "done"))
	require.NotNil(t, seen)
	assert.Equal(t, metav1.DeletePropagationBackground, *seen)
}

func TestJobPhase(t *testing.T) {
	tests := []struct {
		name   string
		status batchv1.JobStatus
		want   backend.Phase
	}{
		{"empty status", batchv1.JobStatus{}, backend.PhasePending},
		{"active", batchv1.JobStatus{Active: 1}, backend.PhaseRunning},
		{"succeeded counter", batchv1.JobStatus{Succeeded: 1}, backend.PhaseSucceeded},
		{"failed counter", batchv1.JobStatus{Failed: 1}, backend.PhaseFailed},
		{"complete condition", batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionTrue}},
		}, backend.PhaseSucceeded},
		{"failed condition beats active", batchv1.JobStatus{
			Active:     1,
			Conditions: []batchv1.JobCondition{{Type: batchv1.JobFailed, Status: corev1.ConditionTrue}},
		}, backend.PhaseFailed},
		{"false condition ignored", batchv1.JobStatus{
			Active:     1,
			Conditions: []batchv1.JobCondition{{Type: batchv1.JobComplete, Status: corev1.ConditionFalse}},
		}, backend.PhaseRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &batchv1.Job{Status: tt.status}
			assert.Equal(t, tt.want, JobPhase(job))
		})
	}
}
