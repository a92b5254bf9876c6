package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "cumulus",
		Short: "Cumulus - cloud-bursting orchestrator for batch clusters",
		Long: "Cumulus watches a batch job queue and dynamically provisions and\n" +
			"retires cloud VMs so that queued jobs get worker capacity without\n" +
			"paying for idle machines.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, flags override)")

	rootCmd.AddCommand(
		daemonCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cumulus version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cumulus version %s\n", version)
		},
	}
}
