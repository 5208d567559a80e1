package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"essay-grader/internal/logger"

	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "essayctl",
	Short: "Essay grading command line tools",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.InitLogger(logLevel)
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.AddCommand(newGradeCmd(), newRenderCmd(), newSubmitCmd(), newCodesCmd(), newMigrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
