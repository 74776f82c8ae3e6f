// Package sim provides the Monte Carlo kernel executed inside each worker unit.
//
// # Reading Guide
//
//   - gbm.go: the geometric Brownian motion path model
//   - paths.go: lazy path iteration and the parallel path stream
//   - mean.go: running mean-path aggregation
//   - rng.go: deterministic per-shard random streams
//
// # Architecture
//
// The dispatch side lives in sub-packages:
//   - sim/partition/: sizes a generation of worker units
//   - sim/unit/: unit identity, labels and positional parameters
//   - sim/backend/: execution backend capability (in-memory and sim/backend/kube/)
//   - sim/lifecycle/: purge-then-submit lifecycle manager
//
// The kernel never imports the dispatch packages.
package sim
