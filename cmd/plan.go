package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/montecarlo-sim/montecarlo-sim/sim/partition"
)

var (
	planCapacity int
	planRoundUp  bool
)

var planCmd = &cobra.Command{
	Use:   "plan <num_simulations>",
	Short: "Show how a request would be split across workers",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		total, err := strconv.Atoi(args[0])
		if err != nil {
			logrus.Fatalf("Invalid num_simulations %q: %v", args[0], err)
		}
		policy := partition.RemainderDiscard
		if planRoundUp {
			policy = partition.RemainderRoundUp
		}
		p, err := partition.New(total, planCapacity, policy)
		if err != nil {
			logrus.Fatalf("Invalid plan: %v", err)
		}
		writePlan(os.Stdout, p)
	},
}

func writePlan(w io.Writer, p partition.Plan) {
	_, _ = fmt.Fprintf(w, "Workers:    %d\n", p.WorkerCount)
	_, _ = fmt.Fprintf(w, "Per worker: %d\n", p.PerWorkerSimulations)
	_, _ = fmt.Fprintf(w, "Scheduled:  %d of %d\n", p.Scheduled(), p.Total)
	if p.Discarded > 0 {
		_, _ = fmt.Fprintf(w, "Discarded:  %d (use --round-up to schedule them)\n", p.Discarded)
	}
	if p.Policy == partition.RemainderRoundUp && p.Remainder > 0 {
		_, _ = fmt.Fprintf(w, "Worker %d runs the remainder of %d\n", p.WorkerCount, p.SimulationsFor(p.WorkerCount))
	}
}

func init() {
	planCmd.Flags().IntVar(&planCapacity, "capacity", partition.DefaultCapacity, "Maximum simulations per worker")
	planCmd.Flags().BoolVar(&planRoundUp, "round-up", false, "Create an extra worker for the remainder instead of discarding it")
	rootCmd.AddCommand(planCmd)
}
