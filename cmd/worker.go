package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/montecarlo-sim/montecarlo-sim/sim"
	"github.com/montecarlo-sim/montecarlo-sim/sim/unit"
)

var (
	workerSeed          int64
	workerAllowNegative bool
	workerParallelism   int
	workerFormat        string
)

var validWorkerFormats = map[string]bool{"text": true, "json": true, "yaml": true}

// workerCmd is the entrypoint of the worker container. Its positional
// arguments are exactly the list a dispatched unit carries.
var workerCmd = &cobra.Command{
	Use:   "worker <num_simulations> <starting_value> <mu> <sigma> <forecast_period> <num_trading_days>",
	Short: "Run GBM simulations and print the mean path",
	Args:  cobra.ExactArgs(unit.NumArgs),
	Run: func(cmd *cobra.Command, args []string) {
		if !validWorkerFormats[workerFormat] {
			logrus.Fatalf("Unknown --format %q; valid: text, json, yaml", workerFormat)
		}
		params, err := unit.ParseArgs(args)
		if err != nil {
			logrus.Fatalf("Invalid worker arguments: %v", err)
		}
		seed := workerSeed
		if !cmd.Flags().Changed("seed") {
			seed = time.Now().UnixNano()
		}
		logrus.Infof("Running %d simulations (seed=%d, parallelism=%d)", params.NumSimulations, seed, workerParallelism)

		start := time.Now()
		res, err := runWorker(cmd.Context(), params, seed, workerAllowNegative, workerParallelism)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Infof("Simulation complete in %s", time.Since(start).Round(time.Millisecond))

		if err := writeWorkerResult(os.Stdout, workerFormat, res); err != nil {
			logrus.Fatalf("Failed to write result: %v", err)
		}
	},
}

// workerResult is the worker's output document.
type workerResult struct {
	NumSimulations int       `json:"num_simulations" yaml:"num_simulations"`
	Seed           int64     `json:"seed" yaml:"seed"`
	FinalValue     float64   `json:"final_value" yaml:"final_value"`
	MeanPath       []float64 `json:"mean_path" yaml:"mean_path"`
}

func runWorker(ctx context.Context, params unit.Parameters, seed int64, allowNegative bool, parallelism int) (workerResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	model := &sim.GBM{
		StartingValue: params.StartingValue,
		Mu:            params.Mu,
		Sigma:         params.Sigma,
		ForecastDays:  params.ForecastDays,
		TradingDays:   params.TradingDays,
		AllowNegative: allowNegative,
	}
	if err := model.Validate(); err != nil {
		return workerResult{}, err
	}
	mean, err := sim.MeanPath(ctx, params.NumSimulations, model, sim.StreamConfig{Seed: seed, Shards: parallelism})
	if err != nil {
		return workerResult{}, err
	}
	return workerResult{
		NumSimulations: params.NumSimulations,
		Seed:           seed,
		FinalValue:     mean[len(mean)-1],
		MeanPath:       mean,
	}, nil
}

func writeWorkerResult(w io.Writer, format string, res workerResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(res)
	case "text":
		if _, err := fmt.Fprintf(w, "=== Mean path over %d simulations (seed %d) ===\n", res.NumSimulations, res.Seed); err != nil {
			return err
		}
		for day, v := range res.MeanPath {
			if _, err := fmt.Fprintf(w, "%d\t%s\n", day, strconv.FormatFloat(v, 'f', 6, 64)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func init() {
	workerCmd.Flags().Int64Var(&workerSeed, "seed", 0, "Seed for the random streams (default: time based)")
	workerCmd.Flags().BoolVar(&workerAllowNegative, "allow-negative", false, "Keep path values at or below zero instead of flooring them to 0")
	workerCmd.Flags().IntVar(&workerParallelism, "parallelism", runtime.GOMAXPROCS(0), "Parallel simulation shards")
	workerCmd.Flags().StringVar(&workerFormat, "format", "text", "Output format: text, json, yaml")
	rootCmd.AddCommand(workerCmd)
}
