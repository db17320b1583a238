package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/columnqueue"
	"github.com/launix-de/nomad-sgd/pkg/config"
	"github.com/launix-de/nomad-sgd/pkg/coordinator"
	"github.com/launix-de/nomad-sgd/pkg/ingest"
	"github.com/launix-de/nomad-sgd/pkg/kernel"
	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/metrics"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/permutation"
	"github.com/launix-de/nomad-sgd/pkg/ratingstore"
	"github.com/launix-de/nomad-sgd/pkg/reporting"
	"github.com/launix-de/nomad-sgd/pkg/router"
	"github.com/launix-de/nomad-sgd/pkg/shutdown"
	"github.com/launix-de/nomad-sgd/pkg/topology"
	"github.com/launix-de/nomad-sgd/pkg/transport/httprpc"
	"github.com/launix-de/nomad-sgd/pkg/worker"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Args:  cobra.NoArgs,
	Short: "Boot this process as one rank of a NOMAD cluster",
	Long:  `Loads a config file describing the cluster, then runs this process as either the coordinator (rank 0) or a worker (rank >= 1).`,
	RunE:  runRank,
}

func init() {
	runCmd.Flags().Int("self-rank", -1, "this process's rank (0 = coordinator)")
	runCmd.Flags().String("format", "text", "loss report output format (text, json, tui)")
}

func runRank(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	self, _ := cmd.Flags().GetInt("self-rank")
	if self < 0 {
		return fmt.Errorf("--self-rank is required")
	}
	outputFormat, _ := cmd.Flags().GetString("format")

	logLevel := reporting.LogLevelInfo
	if verbose {
		logLevel = reporting.LogLevelDebug
	}
	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  logLevel,
		Format: reporting.LogFormat(cfg.Logging.Format),
		Output: os.Stdout,
	})
	reporting.InitGlobalLogger(reporting.LoggerConfig{Level: logLevel, Format: reporting.LogFormat(cfg.Logging.Format)})

	logger.Info("nomad starting", "version", version, "rank", self)

	members := buildMembers(cfg)
	cluster, err := topology.New(members)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}

	addrs := httprpc.AddressBook{}
	for rank, addr := range cfg.Transport.Addresses {
		addrs[model.Rank(rank)] = addr
	}
	barrierSize := len(cluster.Workers()) + 1
	localTeamRanks := cluster.LocalTeam(model.Rank(self))
	tr := httprpc.New(model.Rank(self), toRanks(cluster.Workers()), localTeamRanks, addrs, barrierSize)

	reg := metrics.New(self)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, reg)
	}

	stopCtrl := shutdown.New(shutdown.Config{
		StopFile:             cfg.Shutdown.StopFile,
		PollInterval:         cfg.Shutdown.PollInterval,
		EnableSignalHandlers: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopCtrl.OnStop(cancel)
	stopCtrl.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		stopCtrl.Stop("signal received")
	}()

	store := ratingstore.New()
	store.MissingEdgeCounter = reg.MissingEdgeOnBump
	parser := ingest.New(rune(cfg.Dataset.Delimiter[0]))
	parser.ErrorCounter = reg.IngestParseErrors
	path := ingest.PathFor(cfg.Dataset.PathTemplate, model.Rank(self))
	if _, statErr := os.Stat(path); statErr == nil {
		parsed, skipped, parseErr := parser.ParseFile(path, store)
		if parseErr != nil {
			logger.Warn("ingest failed", "error", parseErr)
		} else {
			logger.Info("ingest complete", "parsed", parsed, "skipped", skipped)
		}
	}

	if self == 0 {
		go tr.Serve(ctx, discardReceiver{}) // the coordinator never receives columns, only barrier/loss requests
		return runCoordinator(ctx, cfg, cluster, tr, reg, logger, outputFormat)
	}
	return runWorker(ctx, cfg, cluster, tr, store, reg, logger, self)
}

// discardReceiver satisfies transport.ColumnReceiver for ranks that
// never accept inbound columns (the coordinator).
type discardReceiver struct{}

func (discardReceiver) Deliver(model.Column) {}

func runCoordinator(ctx context.Context, cfg *config.Config, cluster *topology.Cluster, tr *httprpc.Transport, reg *metrics.Registry, logger *reporting.Logger, outputFormat string) error {
	workers := toRanks(cluster.Workers())
	poller := lossagg.NewPoller(tr, workers, 0)
	coord := coordinator.New(coordinator.Config{
		Workers:    workers,
		Sender:     tr,
		Barrier:    tr,
		Poller:     poller,
		Rank:       cfg.Model.K,
		NumItems:   cfg.Model.N,
		SeedFanout: 8,
	}, rand.New(rand.NewSource(1)))

	if err := coord.SeedAndWaitForIngest(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	progress := reporting.NewTrainingProgressReporter(reporting.OutputFormat(outputFormat), logger, time.Now())
	coord.RunLossReporting(ctx, func(report lossagg.Report) {
		progress.ReportLoss(report)
		reg.RMSE.Set(report.RMSE)
	})
	return nil
}

func runWorker(ctx context.Context, cfg *config.Config, cluster *topology.Cluster, tr *httprpc.Transport, store *ratingstore.Store, reg *metrics.Registry, logger *reporting.Logger, self int) error {
	localRanks := toInts(cluster.LocalTeam(model.Rank(self)))
	var tbl *permutation.Table
	if len(localRanks) > 0 {
		tbl = permutation.Build(cfg.Model.NRetries, localRanks, rand.New(rand.NewSource(int64(self))))
	}

	topo := router.Topology{
		Self:           self,
		WorkerRanks:    toInts(cluster.Workers()),
		LocalTeamRanks: localRanks,
		SingleMachine:  cluster.SingleMachine(),
	}

	blockSize := ceilBlockSize(cfg.Model.M, len(cluster.Workers()))
	w := make(kernel.W, blockSize)
	for i := range w {
		w[i] = randomRow(cfg.Model.K)
	}

	queue := columnqueue.New()
	kcfg := kernel.DefaultConfig()
	kcfg.Lambda = cfg.Model.Lambda
	kcfg.DecayRate = cfg.Model.DecayRate
	kcfg.LearningRate = cfg.Model.LearningRate
	if cfg.Model.SignCorrected {
		kcfg.Sign = kernel.SignCorrected
	}

	loop := worker.New(worker.Config{
		Self:        model.Rank(self),
		KernelCfg:   kcfg,
		BlockSize:   blockSize,
		Topology:    topo,
		PermTable:   tbl,
		Sender:      tr,
		Store:       store,
		Loss:        tr.LocalLoss(),
		Metrics:     reg,
		MaxInFlight: 16,
	}, queue, w, rand.New(rand.NewSource(int64(self)+1)))

	go tr.Serve(ctx, loop)

	if err := tr.Wait(ctx); err != nil {
		return fmt.Errorf("barrier wait: %w", err)
	}
	logger.Info("worker ready, draining queue", "rank", self)

	return loop.Run(ctx)
}

func buildMembers(cfg *config.Config) []topology.Member {
	var members []topology.Member
	for rank, addr := range cfg.Transport.Addresses {
		members = append(members, topology.Member{
			Rank:    model.Rank(rank),
			Machine: cfg.Transport.Machines[rank],
			Addr:    addr,
		})
	}
	return members
}

func toRanks(ranks []model.Rank) []model.Rank { return ranks }

func toInts(ranks []model.Rank) []int {
	out := make([]int, len(ranks))
	for i, r := range ranks {
		out[i] = int(r)
	}
	return out
}

// ceilBlockSize computes B = ceil(m / (P-1)) (§3): the number of local
// rows of the factor matrix W each worker holds. Floor division would
// under-allocate rows whenever m doesn't divide evenly by the worker
// count, causing ratingstore.RankOf's distinct global users to alias
// onto the same local row in kernel.Step.
func ceilBlockSize(m, numWorkers int) int {
	if numWorkers < 1 {
		return m
	}
	blockSize := (m + numWorkers - 1) / numWorkers
	if blockSize < 1 {
		blockSize = 1
	}
	return blockSize
}

// randomRow draws a fresh W-row from Uniform(0, 1/√k) per component,
// matching original_source/nomad.cpp:189's
// uniform_real_distribution<double>(0.0, 1.0/sqrt(k)).
func randomRow(k int) []float64 {
	bound := 1.0 / math.Sqrt(float64(k))
	out := make([]float64, k)
	for i := range out {
		out[i] = rand.Float64() * bound
	}
	return out
}

func serveMetrics(addr string, reg *metrics.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	_ = http.ListenAndServe(addr, mux)
}
