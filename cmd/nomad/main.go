package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "nomad",
	Short: "Distributed asynchronous SGD engine for sparse matrix factorization",
	Long: `NOMAD factorizes a sparse rating matrix across a cluster of ranks using
asynchronous, lock-free SGD: H-columns circulate between worker ranks while
each rank's row block stays resident in local memory. Rank 0 coordinates
seeding and polls cumulative training loss; ranks 1..P-1 do the work.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./nomad.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(topologyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
