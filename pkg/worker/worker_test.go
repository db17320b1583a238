package worker_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/columnqueue"
	"github.com/launix-de/nomad-sgd/pkg/kernel"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/ratingstore"
	"github.com/launix-de/nomad-sgd/pkg/router"
	"github.com/launix-de/nomad-sgd/pkg/worker"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []model.Column
	dest []int
}

func (f *fakeSender) SendColumn(_ context.Context, dest model.Rank, col model.Column) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, col)
	f.dest = append(f.dest, int(dest))
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeLoss struct {
	mu    sync.Mutex
	sumSq float64
	n     int
}

func (f *fakeLoss) Add(sumSquaredLoss float64, count int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sumSq += sumSquaredLoss
	f.n += count
}

func TestLoopProcessesAndForwardsColumn(t *testing.T) {
	store := ratingstore.New()
	store.Insert(1, 9, 0.8)

	topo := router.Topology{Self: 1, WorkerRanks: []int{1, 2, 3}, SingleMachine: true}
	sender := &fakeSender{}
	loss := &fakeLoss{}

	queue := columnqueue.New()
	w := kernel.W{{0.1, 0.2}}

	loop := worker.New(worker.Config{
		Self:        1,
		KernelCfg:   kernel.DefaultConfig(),
		BlockSize:   1,
		Topology:    topo,
		Sender:      sender,
		Store:       store,
		Loss:        loss,
		MaxInFlight: 4,
	}, queue, w, rand.New(rand.NewSource(1)))

	queue.Enqueue(model.Column{Item: 9, Values: []float64{0.3, 0.4}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	loop.Run(ctx)

	require.Equal(t, 1, sender.count())
	require.NotEqual(t, 1, sender.dest[0])
	require.Greater(t, loss.n, 0)
}

func TestDeliverEnqueuesForNextDrain(t *testing.T) {
	queue := columnqueue.New()
	loop := worker.New(worker.Config{Self: 1, Store: ratingstore.New()}, queue, kernel.W{}, nil)
	loop.Deliver(model.Column{Item: 3})
	require.Equal(t, 1, queue.Len())
}
