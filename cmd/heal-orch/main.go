package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "heal-orch",
		Short: "heal-orch - autonomous repository healing",
		Long: `heal-orch clones a repository, runs its test suite in a sandbox and, while
tests fail, asks a remediation model for a fix, commits it to a dedicated
branch and re-tests, until the suite passes or the iteration budget is spent.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
