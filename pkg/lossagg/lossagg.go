// Package lossagg implements the per-worker loss cell (§4.4) and the
// coordinator-side poller that turns a set of cells into a cumulative
// RMSE report: a ticker-driven loop that periodically snapshots remote
// state and accumulates it locally.
package lossagg

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/model"
)

// Cell is a single worker's cumulative loss counters. Only the owning
// worker mutates it; the coordinator reads it remotely. A torn read
// (sum and count observed at slightly different instants) is acceptable
// because reporting is advisory (§4.4, §9 Open Question 4) — no
// algorithmic decision may ever gate on a polled value.
type Cell struct {
	mu    sync.Mutex
	sumSq float64
	count int64
}

// NewCell returns a zeroed loss cell.
func NewCell() *Cell { return &Cell{} }

// Add folds a kernel.Stats-shaped contribution into the cell. Cells are
// never reset by the core; callers needing a reset facility can build
// one on top (§4.4 explicitly leaves this optional).
func (c *Cell) Add(sumSquaredLoss float64, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sumSq += sumSquaredLoss
	c.count += int64(count)
}

// Snapshot is a point-in-time, possibly torn, read of a cell.
type Snapshot struct {
	SumSquaredLoss float64
	Count          int64
}

// Snapshot reads both fields of the cell without requiring they be
// read atomically together (§4.4).
func (c *Cell) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{SumSquaredLoss: c.sumSq, Count: c.count}
}

// Fetcher fetches a remote rank's loss cell snapshot. Implemented by the
// transport package.
type Fetcher interface {
	FetchLoss(ctx context.Context, rank model.Rank) (Snapshot, error)
}

// Poller is the coordinator-side loop from §4.4: periodically fetch
// every worker's cell and report the cumulative RMSE. It never resets
// the cells it reads.
type Poller struct {
	fetcher  Fetcher
	workers  []model.Rank
	interval time.Duration

	mu     sync.RWMutex
	latest Report
}

// Report is the aggregate the coordinator publishes after each poll.
type Report struct {
	Total   Snapshot
	PerRank map[model.Rank]Snapshot
	RMSE    float64
	At      time.Time
}

// NewPoller creates a poller over the given workers, polling every
// interval (defaulting to 1s, matching §4.4's "coarse period, e.g. 1s").
func NewPoller(fetcher Fetcher, workers []model.Rank, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{fetcher: fetcher, workers: workers, interval: interval}
}

// Run polls until ctx is cancelled. onReport, if non-nil, is invoked
// after every successful poll (used by the CLI to log/export RMSE).
func (p *Poller) Run(ctx context.Context, onReport func(Report)) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.pollOnce(ctx, onReport) // first sample immediately, matching the collector's "collect initial sample"

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, onReport)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, onReport func(Report)) {
	report := Report{PerRank: make(map[model.Rank]Snapshot, len(p.workers)), At: time.Now()}

	for _, rank := range p.workers {
		snap, err := p.fetcher.FetchLoss(ctx, rank)
		if err != nil {
			continue // advisory metric: a failed fetch is skipped, not fatal
		}
		report.PerRank[rank] = snap
		report.Total.SumSquaredLoss += snap.SumSquaredLoss
		report.Total.Count += snap.Count
	}

	report.RMSE = RMSE(report.Total.SumSquaredLoss, report.Total.Count)

	p.mu.Lock()
	p.latest = report
	p.mu.Unlock()

	if onReport != nil {
		onReport(report)
	}
}

// Latest returns the most recent report, zero-valued before the first
// poll completes.
func (p *Poller) Latest() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// RMSE computes sqrt(sumSquaredLoss/count), matching §8 scenario S6
// (10.0+14.0 over 5+2 => sqrt(24/7) ~= 1.8516). Returns 0 for a
// zero-count sample rather than NaN.
func RMSE(sumSquaredLoss float64, count int64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Sqrt(sumSquaredLoss / float64(count))
}
