// Package inmemory implements transport.Transport over Go channels, for
// unit tests and the single-process "simulate" demo harness: the whole
// push/route/poll protocol runs without spawning real OS processes or
// binding real ports.
package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/transport"
)

// Network is the shared switchboard every rank's Transport registers
// against. Callers build one Network per simulated cluster and call New
// once per rank.
type Network struct {
	mu      sync.Mutex
	inboxes map[model.Rank]chan model.Column
	cells   map[model.Rank]*lossagg.Cell
	barrier *rendezvous
}

// NewNetwork creates a switchboard for the given world of worker ranks
// (rank 0, the coordinator, is implicit and never a column destination).
func NewNetwork(workers []model.Rank) *Network {
	n := &Network{
		inboxes: make(map[model.Rank]chan model.Column, len(workers)),
		cells:   make(map[model.Rank]*lossagg.Cell, len(workers)),
		barrier: newRendezvous(len(workers) + 1), // +1 for the coordinator
	}
	for _, w := range workers {
		n.inboxes[w] = make(chan model.Column, 256)
		n.cells[w] = lossagg.NewCell()
	}
	return n
}

// Transport is one rank's view of a Network.
type Transport struct {
	net       *Network
	self      model.Rank
	workers   []model.Rank
	localTeam []model.Rank
}

var _ transport.Transport = (*Transport)(nil)

// New returns this rank's handle onto net. localTeam must include self.
func New(net *Network, self model.Rank, workers, localTeam []model.Rank) *Transport {
	return &Transport{net: net, self: self, workers: workers, localTeam: localTeam}
}

func (t *Transport) Self() model.Rank      { return t.self }
func (t *Transport) Workers() []model.Rank { return t.workers }
func (t *Transport) LocalTeam() []model.Rank { return t.localTeam }

func (t *Transport) LocalTeamContains(rank model.Rank) bool {
	for _, r := range t.localTeam {
		if r == rank {
			return true
		}
	}
	return false
}

func (t *Transport) LocalLoss() *lossagg.Cell {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	return t.net.cells[t.self]
}

// SendColumn enqueues col on dest's inbox. The inbox is a buffered
// channel, so calls made one after another to the same destination are
// delivered in call order. Calls made concurrently, as the worker loop's
// errgroup-dispatched forwards are, have no defined relative order.
func (t *Transport) SendColumn(ctx context.Context, dest model.Rank, col model.Column) error {
	t.net.mu.Lock()
	ch, ok := t.net.inboxes[dest]
	t.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("inmemory transport: no such rank %d", dest)
	}
	select {
	case ch <- col.Clone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchLoss reads rank's cell directly; there is no wire in this
// implementation so the read is always fresh (still advisory: callers
// must not rely on it being atomic with any other rank's cell).
func (t *Transport) FetchLoss(_ context.Context, rank model.Rank) (lossagg.Snapshot, error) {
	t.net.mu.Lock()
	cell, ok := t.net.cells[rank]
	t.net.mu.Unlock()
	if !ok {
		return lossagg.Snapshot{}, fmt.Errorf("inmemory transport: no such rank %d", rank)
	}
	return cell.Snapshot(), nil
}

// Wait blocks until every rank in the cluster (workers + coordinator)
// has called Wait, implementing the single collective barrier transport
// exposes.
func (t *Transport) Wait(ctx context.Context) error {
	return t.net.barrier.wait(ctx)
}

// BroadcastLocal is a no-op fan-out placeholder: in the single-process
// simulation every rank already shares the same Network, so there is no
// wire-level broadcast to perform. Real deployments use httprpc, whose
// BroadcastLocal actually fans out over HTTP.
func (t *Transport) BroadcastLocal(ctx context.Context, payload []byte) error {
	return nil
}

// Serve drains this rank's inbox, handing each arriving column to
// receiver, until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context, receiver transport.ColumnReceiver) error {
	t.net.mu.Lock()
	ch := t.net.inboxes[t.self]
	t.net.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case col := <-ch:
			receiver.Deliver(col)
		}
	}
}

// rendezvous is a reusable n-party barrier.
type rendezvous struct {
	mu      sync.Mutex
	n       int
	arrived int
	gen     int
	release chan struct{}
}

func newRendezvous(n int) *rendezvous {
	return &rendezvous{n: n, release: make(chan struct{})}
}

func (b *rendezvous) wait(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.release)
		b.release = make(chan struct{})
		b.arrived = 0
		b.gen++
		b.mu.Unlock()
		return nil
	}
	ch := b.release
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
