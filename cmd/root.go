package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "soniq",
	Short: "soniq is the audio ingestion worker.",
	Run: func(cmd *cobra.Command, args []string) {
		// 默认直接运行worker
		runWorker()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
