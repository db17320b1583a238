// Package coordinator implements rank 0's role (§4.7): wait for every
// worker to finish ingest, then seed the initial H columns, then poll the
// loss aggregator and report RMSE until stopped. Seeding starts only
// after the ingest barrier has released; no column is sent before it. The seeding fan-out uses the
// same bounded-concurrency errgroup pattern as the worker loop's
// backpressure, grounded on golang.org/x/sync/errgroup as used in
// getployz-ployz/daemon/daemon.go's task dispatch.
package coordinator

import (
	"context"
	"math"
	"math/rand"

	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Sender delivers a freshly seeded column to a worker rank. Satisfied
// by transport.Transport.
type Sender interface {
	SendColumn(ctx context.Context, dest model.Rank, col model.Column) error
}

// Barrier is the collective rendezvous the coordinator waits on after
// every worker finishes ingest, before seeding begins (§6).
type Barrier interface {
	Wait(ctx context.Context) error
}

// Config bundles the coordinator's dependencies.
type Config struct {
	Workers     []model.Rank
	Sender      Sender
	Barrier     Barrier
	Poller      *lossagg.Poller
	Rank        int // number of latent factors K, the width of every seeded column
	NumItems    int // total item count N; one column is seeded per item
	SeedFanout  int // bound on concurrent seeding sends; 0 disables the bound
}

// Coordinator is rank 0.
type Coordinator struct {
	cfg Config
	rng *rand.Rand
}

// New creates a coordinator. rng defaults to a source with the fixed
// seed 1 if nil.
func New(cfg Config, rng *rand.Rand) *Coordinator {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Coordinator{cfg: cfg, rng: rng}
}

// SeedAndWaitForIngest blocks on the ingest barrier, then seeds one
// random-initialized H column per item, fanned out across workers
// chosen uniformly at random (nomad.cpp's initial column placement is
// likewise arbitrary — any worker can legally own any column at t=0).
func (c *Coordinator) SeedAndWaitForIngest(ctx context.Context) error {
	if err := c.cfg.Barrier.Wait(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if c.cfg.SeedFanout > 0 {
		g.SetLimit(c.cfg.SeedFanout)
	}

	for item := 0; item < c.cfg.NumItems; item++ {
		item := item
		dest := c.cfg.Workers[c.rng.Intn(len(c.cfg.Workers))]
		col := model.Column{Item: item, Values: randomFactors(c.rng, c.cfg.Rank)}

		g.Go(func() error {
			if err := c.cfg.Sender.SendColumn(gctx, dest, col); err != nil {
				log.Error().Int("item", item).Int("dest", int(dest)).Err(err).Msg("failed to seed column")
				return nil // a failed seed is logged, not fatal to the run (§5 best-effort delivery)
			}
			return nil
		})
	}

	return g.Wait()
}

// RunLossReporting polls every worker's loss cell until ctx is
// cancelled, invoking onReport after each cycle (§4.4/§4.7).
func (c *Coordinator) RunLossReporting(ctx context.Context, onReport func(lossagg.Report)) {
	c.cfg.Poller.Run(ctx, onReport)
}

// randomFactors draws a fresh H-column from Uniform(0, 1/√k) per
// component, matching original_source/nomad.cpp:189's
// uniform_real_distribution<double>(0.0, 1.0/sqrt(k)).
func randomFactors(rng *rand.Rand, k int) []float64 {
	bound := 1.0 / math.Sqrt(float64(k))
	out := make([]float64, k)
	for i := range out {
		out[i] = rng.Float64() * bound
	}
	return out
}
