package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "memsim",
	Short: "Compare dynamic memory placement strategies under synthetic workloads",
	Long: `memsim simulates dynamic allocation over a modeled address space and compares
the First Fit, Next Fit, Best Fit, and Worst Fit placement strategies under
randomized process workloads, reporting fragmentation and utilization metrics
per strategy.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	execute()
}
