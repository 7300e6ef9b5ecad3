package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "mergegate",
	Short: "mergegate — merge branches only after CI verifies them",
	Long: `mergegate pins a merge to one exact commit, waits for that commit's CI
pipeline with bounded backoff, tries a bounded set of automatic fixes for
failing jobs, runs a trial merge, and only then merges and cleans up.

Attempt state is stored in ~/.mergegate/ (JSON per attempt) or in PostgreSQL
when MERGEGATE_DATABASE_URL is set.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the CLI; cancelling ctx interrupts a merge between polls.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to mergegate config file")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(attemptsCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
