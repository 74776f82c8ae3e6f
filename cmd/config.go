package cmd

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	corev1 "k8s.io/api/core/v1"

	"github.com/montecarlo-sim/montecarlo-sim/sim/lifecycle"
	"github.com/montecarlo-sim/montecarlo-sim/sim/partition"
	"github.com/montecarlo-sim/montecarlo-sim/sim/unit"
)

// DispatchConfig is the optional YAML file behind --config. Flags that are
// explicitly set on the command line override file values.
type DispatchConfig struct {
	Kubeconfig      string        `yaml:"kubeconfig"`
	Context         string        `yaml:"context"`
	Image           string        `yaml:"image"`
	ImagePullPolicy string        `yaml:"image_pull_policy"`
	NamePrefix      string        `yaml:"name_prefix"`
	BackoffLimit    int32         `yaml:"backoff_limit"`
	Capacity        int           `yaml:"capacity"`
	RoundUp         bool          `yaml:"round_up"` // add a worker for the remainder instead of discarding it
	Concurrency     int           `yaml:"concurrency"`
	SubmitQPS       float64       `yaml:"submit_qps"`
	SubmitBurst     int           `yaml:"submit_burst"`
	Timeout         time.Duration `yaml:"timeout"`
}

func defaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Image:           unit.DefaultImage,
		ImagePullPolicy: string(corev1.PullNever),
		NamePrefix:      unit.DefaultNamePrefix,
		Capacity:        partition.DefaultCapacity,
		Concurrency:     lifecycle.DefaultConcurrency,
		SubmitQPS:       20,
		SubmitBurst:     10,
	}
}

var validPullPolicies = map[string]bool{
	string(corev1.PullAlways):       true,
	string(corev1.PullNever):        true,
	string(corev1.PullIfNotPresent): true,
}

// loadDispatchConfig reads path on top of the defaults. Uses strict parsing:
// unrecognized keys (typos) are rejected.
func loadDispatchConfig(path string) (DispatchConfig, error) {
	cfg := defaultDispatchConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading dispatch config: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing dispatch config: %w", err)
	}
	return cfg, nil
}

// Validate checks that all fields in the config are usable.
func (c DispatchConfig) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if math.IsNaN(c.SubmitQPS) || math.IsInf(c.SubmitQPS, 0) || c.SubmitQPS < 0 {
		return fmt.Errorf("submit_qps must be a non-negative finite number, got %f", c.SubmitQPS)
	}
	if c.SubmitBurst < 0 {
		return fmt.Errorf("submit_burst must be non-negative, got %d", c.SubmitBurst)
	}
	if c.BackoffLimit < 0 {
		return fmt.Errorf("backoff_limit must be non-negative, got %d", c.BackoffLimit)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %s", c.Timeout)
	}
	if !validPullPolicies[c.ImagePullPolicy] {
		return fmt.Errorf("unknown image_pull_policy %q; valid: Always, Never, IfNotPresent", c.ImagePullPolicy)
	}
	if c.Image == "" {
		return fmt.Errorf("image is required")
	}
	return nil
}

// RemainderPolicy maps RoundUp onto a partition policy.
func (c DispatchConfig) RemainderPolicy() partition.RemainderPolicy {
	if c.RoundUp {
		return partition.RemainderRoundUp
	}
	return partition.RemainderDiscard
}

func (c DispatchConfig) lifecycleConfig(metrics *lifecycle.Metrics) lifecycle.Config {
	return lifecycle.Config{
		Capacity:    c.Capacity,
		Remainder:   c.RemainderPolicy(),
		Image:       c.Image,
		NamePrefix:  c.NamePrefix,
		Concurrency: c.Concurrency,
		SubmitQPS:   c.SubmitQPS,
		SubmitBurst: c.SubmitBurst,
		Metrics:     metrics,
	}
}

// dispatchFlags holds the flag values shared by dispatch and purge.
type dispatchFlags struct {
	configPath  string
	kubeconfig  string
	kubeContext string
	image       string
	capacity    int
	roundUp     bool
	concurrency int
	qps         float64
	burst       int
	timeout     time.Duration
	dryRun      bool
	metricsOut  string
}

func (f *dispatchFlags) register(cmd *cobra.Command) {
	d := defaultDispatchConfig()
	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to a YAML dispatch config")
	cmd.Flags().StringVar(&f.kubeconfig, "kubeconfig", "", "Path to kubeconfig (default loading rules, then in-cluster)")
	cmd.Flags().StringVar(&f.kubeContext, "context", "", "Kubeconfig context to use")
	cmd.Flags().StringVar(&f.image, "image", d.Image, "Worker container image")
	cmd.Flags().IntVar(&f.capacity, "capacity", d.Capacity, "Maximum simulations per worker")
	cmd.Flags().BoolVar(&f.roundUp, "round-up", false, "Create an extra worker for the remainder instead of discarding it")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", d.Concurrency, "Maximum concurrent submissions")
	cmd.Flags().Float64Var(&f.qps, "qps", d.SubmitQPS, "Submissions per second (0 = unlimited)")
	cmd.Flags().IntVar(&f.burst, "burst", d.SubmitBurst, "Submission rate limiter burst")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Deadline for the whole dispatch (0 = none)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Use an in-memory backend instead of the cluster")
	cmd.Flags().StringVar(&f.metricsOut, "metrics-out", "", "Write lifecycle metrics in Prometheus text format to this file")
}

// resolve loads --config (if any) and applies every flag the user set
// explicitly. Unset flags never overwrite file values.
func (f *dispatchFlags) resolve(cmd *cobra.Command) (DispatchConfig, error) {
	cfg := defaultDispatchConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = loadDispatchConfig(f.configPath); err != nil {
			return cfg, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("kubeconfig") {
		cfg.Kubeconfig = f.kubeconfig
	}
	if changed("context") {
		cfg.Context = f.kubeContext
	}
	if changed("image") {
		cfg.Image = f.image
	}
	if changed("capacity") {
		cfg.Capacity = f.capacity
	}
	if changed("round-up") {
		cfg.RoundUp = f.roundUp
	}
	if changed("concurrency") {
		cfg.Concurrency = f.concurrency
	}
	if changed("qps") {
		cfg.SubmitQPS = f.qps
	}
	if changed("burst") {
		cfg.SubmitBurst = f.burst
	}
	if changed("timeout") {
		cfg.Timeout = f.timeout
	}
	return cfg, cfg.Validate()
}
