package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "trajectd",
	Short: "Trajectory execution daemon",
	Long: `trajectd queues multi-joint trajectories, splits them across the
controllers that actuate their joints, and executes them in batch or
streaming mode with duration monitoring and preemption.

It exposes an HTTP API for trajectory submission, execution history with
live status streaming, and controller inspection.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
