package main

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/columnqueue"
	"github.com/launix-de/nomad-sgd/pkg/config"
	"github.com/launix-de/nomad-sgd/pkg/coordinator"
	"github.com/launix-de/nomad-sgd/pkg/kernel"
	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/ratingstore"
	"github.com/launix-de/nomad-sgd/pkg/reporting"
	"github.com/launix-de/nomad-sgd/pkg/router"
	"github.com/launix-de/nomad-sgd/pkg/transport/inmemory"
	"github.com/launix-de/nomad-sgd/pkg/worker"
	"github.com/spf13/cobra"
)

// simulateCmd runs an entire single-machine cluster in one process over
// pkg/transport/inmemory, generating a synthetic random rating matrix
// instead of reading one from disk. It exercises the full push/route/
// poll protocol (§4) end to end without spawning real OS processes or
// binding real ports.
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Args:  cobra.NoArgs,
	Short: "Run a whole single-machine NOMAD cluster in one process against synthetic data",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().Int("workers", 3, "number of simulated worker ranks")
	simulateCmd.Flags().Int("users", 200, "number of synthetic users")
	simulateCmd.Flags().Int("items", 80, "number of synthetic items")
	simulateCmd.Flags().Duration("for", 2*time.Second, "how long to run before reporting final RMSE")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	numWorkers, _ := cmd.Flags().GetInt("workers")
	numUsers, _ := cmd.Flags().GetInt("users")
	numItems, _ := cmd.Flags().GetInt("items")
	runFor, _ := cmd.Flags().GetDuration("for")

	cfg := config.DefaultConfig()
	cfg.Model.M, cfg.Model.N = numUsers, numItems

	workers := make([]model.Rank, numWorkers)
	for i := range workers {
		workers[i] = model.Rank(i + 1)
	}
	net := inmemory.NewNetwork(workers)

	rng := rand.New(rand.NewSource(42))
	stores := make(map[model.Rank]*ratingstore.Store, numWorkers)
	for _, w := range workers {
		stores[w] = ratingstore.New()
	}
	for user := 0; user < numUsers; user++ {
		owner := model.Rank(ratingstore.RankOf(user, numWorkers))
		for item := 0; item < numItems; item++ {
			if rng.Float64() > 0.1 {
				continue // sparse: ~10% density
			}
			stores[owner].Insert(user, item, rng.Float64())
		}
	}

	blockSize := ceilBlockSize(numUsers, numWorkers)
	ctx, cancel := context.WithTimeout(context.Background(), runFor)
	defer cancel()

	workerTransports := make(map[model.Rank]*inmemory.Transport, numWorkers)
	for _, self := range workers {
		self := self
		tr := inmemory.New(net, self, workers, workers) // single machine: every worker is local to every other
		workerTransports[self] = tr
		queue := columnqueue.New()
		w := make(kernel.W, blockSize)
		for i := range w {
			w[i] = randomRow(cfg.Model.K)
		}
		topo := router.Topology{Self: int(self), WorkerRanks: toInts(workers), SingleMachine: true}

		loop := worker.New(worker.Config{
			Self:        self,
			KernelCfg:   kernel.DefaultConfig(),
			BlockSize:   blockSize,
			Topology:    topo,
			Sender:      tr,
			Store:       stores[self],
			Loss:        tr.LocalLoss(),
			MaxInFlight: 16,
		}, queue, w, rand.New(rand.NewSource(int64(self))))

		go tr.Serve(ctx, loop)
		go loop.Run(ctx)
	}

	coordTransport := inmemory.New(net, 0, workers, nil)
	coord := coordinator.New(coordinator.Config{
		Workers:    workers,
		Sender:     coordTransport,
		Barrier:    coordTransport,
		Poller:     lossagg.NewPoller(coordTransport, workers, 200*time.Millisecond),
		Rank:       cfg.Model.K,
		NumItems:   cfg.Model.N,
		SeedFanout: 8,
	}, rand.New(rand.NewSource(7)))

	for _, self := range workers {
		go func(self model.Rank) { workerTransports[self].Wait(ctx) }(self)
	}
	if err := coord.SeedAndWaitForIngest(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	logger := reporting.NewLogger(reporting.LoggerConfig{Level: reporting.LogLevelInfo, Format: reporting.LogFormatText})
	progress := reporting.NewTrainingProgressReporter(reporting.FormatText, logger, time.Now())

	var last lossagg.Report
	coord.RunLossReporting(ctx, func(r lossagg.Report) {
		last = r
		progress.ReportLoss(r)
	})

	progress.ReportTrainingStopped(last, "simulation time limit reached")
	return nil
}
