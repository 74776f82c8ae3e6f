package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	corev1 "k8s.io/api/core/v1"

	"github.com/montecarlo-sim/montecarlo-sim/sim/backend"
	"github.com/montecarlo-sim/montecarlo-sim/sim/backend/kube"
	"github.com/montecarlo-sim/montecarlo-sim/sim/lifecycle"
	"github.com/montecarlo-sim/montecarlo-sim/sim/partition"
	"github.com/montecarlo-sim/montecarlo-sim/sim/unit"
)

var (
	dispatchOpts dispatchFlags
	purgeOpts    dispatchFlags
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <namespace> <num_simulations> <starting_value> <mu> <sigma> <forecast_period> <num_trading_days>",
	Short: "Purge finished workers, then fan a simulation request out to new ones",
	Long: `Splits num_simulations into equal worker-sized shares of at most --capacity,
deletes every Succeeded worker left by earlier requests in <namespace>, and
submits one worker per share. mu and sigma are annualized; num_trading_days
is the number of trading days per year.`,
	Args: cobra.ExactArgs(7),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := dispatchOpts.resolve(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		namespace := args[0]
		req, err := parseRequest(args[1:])
		if err != nil {
			logrus.Fatalf("Invalid request: %v", err)
		}

		b, err := newBackend(cfg, namespace, dispatchOpts.dryRun)
		if err != nil {
			logrus.Fatalf("Failed to set up backend: %v", err)
		}
		reg := prometheus.NewRegistry()
		m, err := lifecycle.New(b, cfg.lifecycleConfig(lifecycle.NewMetrics(reg)))
		if err != nil {
			logrus.Fatalf("Failed to create lifecycle manager: %v", err)
		}

		ctx, cancel := runContext(cfg)
		defer cancel()

		out, err := m.Dispatch(ctx, req)
		if err != nil {
			logrus.Fatalf("Dispatch failed: %v", err)
		}
		writeOutcome(os.Stdout, namespace, out)
		writeMetrics(dispatchOpts.metricsOut, reg)

		if !out.Complete() {
			logrus.Errorf("%d of %d worker(s) not submitted (sequences %v): %v",
				out.Planned-out.Submitted, out.Planned, out.MissingSequences(), out.Err())
			os.Exit(1)
		}
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge <namespace>",
	Short: "Delete every Succeeded simulation worker in a namespace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := purgeOpts.resolve(cmd)
		if err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		namespace := args[0]
		b, err := newBackend(cfg, namespace, purgeOpts.dryRun)
		if err != nil {
			logrus.Fatalf("Failed to set up backend: %v", err)
		}
		reg := prometheus.NewRegistry()
		m, err := lifecycle.New(b, cfg.lifecycleConfig(lifecycle.NewMetrics(reg)))
		if err != nil {
			logrus.Fatalf("Failed to create lifecycle manager: %v", err)
		}

		ctx, cancel := runContext(cfg)
		defer cancel()

		report, err := m.Purge(ctx)
		if err != nil {
			logrus.Fatalf("Purge failed: %v", err)
		}
		writePurgeReport(os.Stdout, namespace, report)
		writeMetrics(purgeOpts.metricsOut, reg)
		if report.Failed > 0 {
			os.Exit(1)
		}
	},
}

// parseRequest decodes the six request arguments, which share their order
// with the worker wire contract.
func parseRequest(args []string) (partition.Request, error) {
	p, err := unit.ParseArgs(args)
	if err != nil {
		return partition.Request{}, err
	}
	req := partition.Request{
		TotalSimulations: p.NumSimulations,
		StartingValue:    p.StartingValue,
		Mu:               p.Mu,
		Sigma:            p.Sigma,
		ForecastDays:     p.ForecastDays,
		TradingDays:      p.TradingDays,
	}
	return req, req.Validate()
}

func newBackend(cfg DispatchConfig, namespace string, dryRun bool) (backend.Backend, error) {
	if dryRun {
		logrus.Infof("Dry run: using in-memory backend for namespace %q", namespace)
		return backend.NewMemory(), nil
	}
	client, err := kube.NewClientset(cfg.Kubeconfig, cfg.Context)
	if err != nil {
		return nil, err
	}
	return kube.New(client, kube.Config{
		Namespace:       namespace,
		ImagePullPolicy: corev1.PullPolicy(cfg.ImagePullPolicy),
		BackoffLimit:    cfg.BackoffLimit,
	})
}

// runContext is cancelled on SIGINT/SIGTERM and, if configured, on timeout.
func runContext(cfg DispatchConfig) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if cfg.Timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func writeOutcome(w io.Writer, namespace string, out lifecycle.Outcome) {
	_, _ = fmt.Fprintf(w, "=== Dispatch %s (namespace %s) ===\n", out.Generation, namespace)
	_, _ = fmt.Fprintf(w, "Plan:      %s\n", out.Plan)
	_, _ = fmt.Fprintf(w, "Purged:    %d deleted, %d failed\n", out.Purged, out.PurgeFailed)
	_, _ = fmt.Fprintf(w, "Submitted: %d/%d (failed %d, skipped %d)\n", out.Submitted, out.Planned, out.Failed, out.Skipped)
	for _, u := range out.Units {
		line := fmt.Sprintf("  [%d] %-8s %s sims=%d", u.Sequence, u.Result(), u.Name, u.Simulations)
		if u.Err != nil {
			line += fmt.Sprintf(" err=%v", u.Err)
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func writePurgeReport(w io.Writer, namespace string, r lifecycle.PurgeReport) {
	_, _ = fmt.Fprintf(w, "=== Purge (namespace %s) ===\n", namespace)
	_, _ = fmt.Fprintf(w, "Listed: %d, succeeded: %d, deleted: %d, already gone: %d, failed: %d\n",
		r.Listed, r.Succeeded, r.Deleted, r.AlreadyGone, r.Failed)
	for _, err := range r.Errors {
		_, _ = fmt.Fprintf(w, "  error: %v\n", err)
	}
}

// writeMetrics dumps reg in the Prometheus text format for a node-exporter
// textfile collector. Failures are logged, never fatal.
func writeMetrics(path string, reg prometheus.Gatherer) {
	if path == "" {
		return
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		logrus.Warnf("Failed to write metrics to %s: %v", path, err)
		return
	}
	logrus.Infof("Metrics written to %s", path)
}

func init() {
	dispatchOpts.register(dispatchCmd)
	purgeOpts.register(purgeCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(purgeCmd)
}
