package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"github.com/allocsim/memsim/sim"
	"github.com/allocsim/memsim/workload"
)

var (
	runTotalUnits  int
	runUnitSize    int
	runCodeSize    int
	runStackSize   int
	runSmallPct    int
	runMediumPct   int
	runLargePct    int
	runCycles      int
	runPrefill     int
	runSampleEvery int
	runSeed        int64
	runLostMode    bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().IntVar(&runTotalUnits, "total-units", 100000, "Total memory size in allocation units")
	cmd.Flags().IntVar(&runUnitSize, "unit-size", 8, "Allocation unit size in bytes (power of two)")
	cmd.Flags().IntVar(&runCodeSize, "code", 0, "Code segment size in bytes")
	cmd.Flags().IntVar(&runStackSize, "stack", 0, "Stack segment size in bytes")
	cmd.Flags().IntVar(&runSmallPct, "small", 34, "Percentage of small jobs")
	cmd.Flags().IntVar(&runMediumPct, "medium", 33, "Percentage of medium jobs")
	cmd.Flags().IntVar(&runLargePct, "large", 33, "Percentage of large jobs")
	cmd.Flags().IntVar(&runCycles, "cycles", 12000, "Number of simulation cycles per strategy")
	cmd.Flags().IntVar(&runPrefill, "prefill", 2000, "Cycles to run before sampling begins")
	cmd.Flags().IntVar(&runSampleEvery, "sample-every", 20, "Cycle interval between metric samples")
	cmd.Flags().Int64Var(&runSeed, "seed", 10, "Workload generation seed")
	cmd.Flags().BoolVar(&runLostMode, "lost-mode", false, "Make every 100th job of each class leak its memory")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the four placement strategies over one workload",
		Long: `The run command generates a synthetic process workload from the given seed,
replays it against an independent simulation per placement strategy, and
prints the comparison.

Example:
  memsim run --cycles 12000 --prefill 2000 --seed 10
  memsim run --lost-mode --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation()
		},
	}
}

func runSimulation() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(os.Stderr))

	config := sim.Config{
		TotalSize: runTotalUnits * runUnitSize,
		CodeSize:  runCodeSize,
		StackSize: runStackSize,
		UnitSize:  runUnitSize,

		Workload: workload.Config{
			SmallPercent:  runSmallPct,
			MediumPercent: runMediumPct,
			LargePercent:  runLargePct,
			Cycles:        runCycles,
			LostMode:      runLostMode,
			Seed:          runSeed,
		},

		PrefillCycles: runPrefill,
		SampleEvery:   runSampleEvery,
		Logger:        logger,
	}

	result, err := sim.Run(config)
	if err != nil {
		return err
	}

	if jsonOut {
		return result.WriteJson(os.Stdout)
	}

	result.WriteTable(os.Stdout)
	return nil
}
