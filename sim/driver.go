// Package sim runs the four placement strategies over identical workloads and
// collects the per-strategy metrics the comparison report is built from.
package sim

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/allocsim/memsim/engine"
	"github.com/allocsim/memsim/ledger"
	"github.com/allocsim/memsim/strategy"
	"github.com/allocsim/memsim/workload"
)

// Config describes one full comparison: a memory layout, a workload, and the
// sampling schedule shared by all four runs
type Config struct {
	// TotalSize, CodeSize, StackSize, and UnitSize describe the memory layout;
	// see engine.Config
	TotalSize int
	CodeSize  int
	StackSize int
	UnitSize  int

	// Workload describes the generated process stream. Workload.Cycles is the
	// length of every run.
	Workload workload.Config

	// PrefillCycles is the number of cycles to run before sampling begins,
	// letting the heap reach a steady state first
	PrefillCycles int
	// SampleEvery is the cycle interval between metric samples once the
	// prefill phase ends. Zero disables periodic sampling.
	SampleEvery int

	// Logger receives run progress and engine anomalies. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

func (c *Config) Validate() error {
	err := c.Workload.Validate()
	if err != nil {
		return err
	}

	if c.PrefillCycles < 0 || c.PrefillCycles >= c.Workload.Cycles {
		return errors.Errorf("prefill of %d cycles does not fit a %d-cycle run", c.PrefillCycles, c.Workload.Cycles)
	}

	if c.SampleEvery < 0 {
		return errors.Errorf("invalid sample interval: %d", c.SampleEvery)
	}

	engineConfig := c.engineConfig(strategy.FirstFit)
	return engineConfig.Validate()
}

func (c *Config) engineConfig(kind strategy.Kind) engine.Config {
	return engine.Config{
		TotalSize: c.TotalSize,
		CodeSize:  c.CodeSize,
		StackSize: c.StackSize,
		UnitSize:  c.UnitSize,
		Strategy:  kind,
		Logger:    c.Logger,
	}
}

// Sample is one periodic metrics observation within a run
type Sample struct {
	Cycle   int
	Metrics engine.MetricsSnapshot
}

// RunResult is the outcome of one strategy's complete run
type RunResult struct {
	Strategy strategy.Kind
	// Prefill is the state of the run when the prefill phase ended
	Prefill engine.MetricsSnapshot
	// Samples are the periodic observations taken after prefill
	Samples []Sample
	// Final is the state of the run after the last cycle
	Final engine.MetricsSnapshot
	// BlockMap is a JSON document describing every block in the final ledger
	BlockMap []byte
}

// ComparisonResult holds the four runs in conventional FF/NF/BF/WF order
type ComparisonResult struct {
	Runs []RunResult
}

// Run generates one event stream and replays it against an independent engine per
// placement strategy. The runs share no mutable state and execute in parallel;
// within each run events apply strictly in generated order, so results are
// reproducible for a given seed.
func Run(config Config) (ComparisonResult, error) {
	err := config.Validate()
	if err != nil {
		return ComparisonResult{}, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	events, err := workload.Generate(config.Workload)
	if err != nil {
		return ComparisonResult{}, err
	}

	kinds := strategy.AllKinds()
	runs := make([]RunResult, len(kinds))

	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind strategy.Kind) {
			defer wg.Done()
			runs[i] = runOne(config, kind, events, logger)
		}(i, kind)
	}
	wg.Wait()

	return ComparisonResult{Runs: runs}, nil
}

func runOne(config Config, kind strategy.Kind, events []engine.Event, logger *slog.Logger) RunResult {
	eng, err := engine.Initialize(config.engineConfig(kind))
	if err != nil {
		// Run validated the shared config up front
		panic(err)
	}

	result := RunResult{Strategy: kind}

	nextEvent := 0
	for cycle := 0; cycle < config.Workload.Cycles; cycle++ {
		for nextEvent < len(events) && events[nextEvent].Cycle == cycle {
			eng.ApplyEvent(events[nextEvent])
			nextEvent++
		}

		eng.AdvanceCycle()

		if cycle+1 == config.PrefillCycles {
			result.Prefill = eng.SnapshotMetrics()
		}

		if config.SampleEvery > 0 && cycle >= config.PrefillCycles && (cycle-config.PrefillCycles)%config.SampleEvery == 0 {
			result.Samples = append(result.Samples, Sample{
				Cycle:   cycle,
				Metrics: eng.SnapshotMetrics(),
			})
		}
	}

	result.Final = eng.SnapshotMetrics()
	result.BlockMap = buildBlockMap(eng)

	if result.Final.LostObjectCount > 0 {
		// Log all blocks still held at the end of the run
		eng.Ledger().DebugLogAllAllocations(logger, func(log *slog.Logger, offset int, size int, owner ledger.ProcessID) {
			log.Debug("unreleased block at run end",
				"strategy", kind.String(),
				"offset", offset,
				"size", size,
				"process", uint64(owner),
			)
		})
	}

	logger.Debug("strategy run complete",
		"strategy", kind.String(),
		"utilization", result.Final.Utilization,
		"denied", result.Final.DeniedAllocationCount,
		"lost", result.Final.LostObjectCount,
	)

	return result
}
