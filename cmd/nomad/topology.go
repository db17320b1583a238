package main

import (
	"fmt"

	"github.com/launix-de/nomad-sgd/pkg/config"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/topology"
	"github.com/spf13/cobra"
)

// topologyCmd prints the static cluster membership this config
// describes: which ranks share a machine, and who leads each local
// team's broadcasts. It is the configuration-time counterpart to
// nomad.cpp's print_map rank census (nomad.cpp:120-132), which queried
// each running process for its local edge count; here the question
// answered is "what does the launcher believe the shape of the cluster
// to be" rather than "what did ingest actually produce".
var topologyCmd = &cobra.Command{
	Use:   "topology",
	Args:  cobra.NoArgs,
	Short: "Print the cluster membership described by the config file",
	RunE:  printTopology,
}

func printTopology(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cluster, err := topology.New(buildMembers(cfg))
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}

	fmt.Printf("single_machine: %v\n", cluster.SingleMachine())
	fmt.Printf("workers: %v\n", cluster.Workers())

	seen := make(map[model.Rank]bool)
	for _, w := range cluster.Workers() {
		if seen[w] {
			continue
		}
		team := cluster.LocalTeam(w)
		for _, r := range team {
			seen[r] = true
		}
		fmt.Printf("local team (leader %d): %v\n", cluster.Leader(w), team)
	}
	return nil
}
