// Package worker implements the per-rank main loop (§4.6 WorkerLoop):
// drain the local column queue, run one SGD step per arriving column,
// and forward it per the router's decision. Outstanding forwards are
// bounded with an errgroup.WithContext + SetLimit, the same pattern
// used elsewhere for bounding concurrent task fan-out.
package worker

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/columnqueue"
	"github.com/launix-de/nomad-sgd/pkg/kernel"
	"github.com/launix-de/nomad-sgd/pkg/metrics"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/permutation"
	"github.com/launix-de/nomad-sgd/pkg/ratingstore"
	"github.com/launix-de/nomad-sgd/pkg/router"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Sender is the subset of transport.Transport a worker needs to forward
// columns; kept narrow so tests can fake it without the rest of the
// transport surface.
type Sender interface {
	SendColumn(ctx context.Context, dest model.Rank, col model.Column) error
}

// LossSink receives each column's per-step contribution so it can be
// folded into this rank's loss cell (§4.4); typically *lossagg.Cell.
type LossSink interface {
	Add(sumSquaredLoss float64, count int)
}

// Config bundles everything the worker loop needs beyond the queue it
// drains from.
type Config struct {
	Self        model.Rank
	KernelCfg   kernel.Config
	BlockSize   int // number of local rows per factor-matrix block (m / number of workers, rounded up)
	Topology    router.Topology
	PermTable   *permutation.Table
	Sender      Sender
	Store       *ratingstore.Store
	Loss        LossSink
	Metrics     *metrics.Registry
	MaxInFlight int // bound on outstanding forward RPCs; 0 disables the bound
}

// Loop is one rank's WorkerLoop: it owns a factor-matrix block W and
// drains columns from a columnqueue.Queue until ctx is cancelled.
type Loop struct {
	cfg   Config
	queue *columnqueue.Queue
	w     kernel.W
	rng   *rand.Rand
}

// New creates a worker loop over w, the local factor matrix block
// (len(w) == cfg.BlockSize).
func New(cfg Config, queue *columnqueue.Queue, w kernel.W, rng *rand.Rand) *Loop {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Loop{cfg: cfg, queue: queue, w: w, rng: rng}
}

// Deliver satisfies transport.ColumnReceiver: an inbound column is
// simply enqueued for the drain loop to pick up.
func (l *Loop) Deliver(col model.Column) {
	l.queue.Enqueue(col)
}

// Run drains the queue until ctx is cancelled. Each dequeued column is
// processed synchronously (the SGD step itself must not be
// parallelized across columns sharing rows), but the forward RPC that
// follows is dispatched onto a bounded errgroup so a slow or stalled
// peer cannot stall the drain loop indefinitely.
func (l *Loop) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if l.cfg.MaxInFlight > 0 {
		g.SetLimit(l.cfg.MaxInFlight)
	}

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		default:
		}

		col, ok := l.queue.TryPop()
		if !ok {
			// Nothing queued: a short idle sleep avoids spinning the
			// CPU while waiting for the next column to arrive.
			time.Sleep(time.Millisecond)
			continue
		}
		if l.cfg.Metrics != nil {
			l.cfg.Metrics.QueueDepth.Set(float64(l.queue.Len()))
		}

		l.processOne(gctx, g, col)
	}
}

func (l *Loop) processOne(ctx context.Context, g *errgroup.Group, col model.Column) {
	rows := l.cfg.Store.RowsForItem(col.Item)
	updated, stats := kernel.Step(l.cfg.KernelCfg, l.cfg.Store, l.w, l.cfg.BlockSize, col, rows)

	if l.cfg.Loss != nil {
		l.cfg.Loss.Add(stats.SumSquaredLoss, stats.Count)
	}
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.SumSquaredLoss.Add(stats.SumSquaredLoss)
		l.cfg.Metrics.UpdateCount.Add(float64(stats.Count))
		if stats.NaNDetected {
			l.cfg.Metrics.NaNDetected.Inc()
		}
	}

	next, out, err := router.Route(l.cfg.Topology, l.cfg.PermTable, updated, l.rng)
	if err != nil {
		if l.cfg.Metrics != nil && errors.Is(err, router.ErrRoutingExhausted) {
			l.cfg.Metrics.RoutingExhaustion.Inc()
		}
		log.Warn().Int("item", col.Item).Err(err).Msg("dropping column: routing failed")
		return
	}

	g.Go(func() error {
		if sendErr := l.cfg.Sender.SendColumn(ctx, model.Rank(next), out); sendErr != nil {
			log.Error().Int("item", out.Item).Int("dest", next).Err(sendErr).Msg("failed to forward column")
		}
		return nil // forwarding failures are logged, not fatal to the loop (§5 best-effort delivery)
	})
}
