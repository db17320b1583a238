package inmemory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/transport/inmemory"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	mu    sync.Mutex
	items []model.Column
}

func (r *recordingReceiver) Deliver(col model.Column) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, col)
}

func TestSendColumnPreservesFIFOOrder(t *testing.T) {
	net := inmemory.NewNetwork([]model.Rank{1, 2})
	sender := inmemory.New(net, 1, []model.Rank{1, 2}, []model.Rank{1, 2})
	dest := inmemory.New(net, 2, []model.Rank{1, 2}, []model.Rank{1, 2})

	ctx, cancel := context.WithCancel(context.Background())
	recv := &recordingReceiver{}
	go dest.Serve(ctx, recv)

	require.NoError(t, sender.SendColumn(context.Background(), 2, model.Column{Item: 1}))
	require.NoError(t, sender.SendColumn(context.Background(), 2, model.Column{Item: 2}))
	require.NoError(t, sender.SendColumn(context.Background(), 2, model.Column{Item: 3}))

	require.Eventually(t, func() bool {
		recv.mu.Lock()
		defer recv.mu.Unlock()
		return len(recv.items) == 3
	}, time.Second, time.Millisecond)
	cancel()

	recv.mu.Lock()
	defer recv.mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, []int{recv.items[0].Item, recv.items[1].Item, recv.items[2].Item})
}

func TestFetchLossReadsLocalCell(t *testing.T) {
	net := inmemory.NewNetwork([]model.Rank{1})
	self := inmemory.New(net, 1, []model.Rank{1}, []model.Rank{1})
	self.LocalLoss().Add(4.0, 2)

	other := inmemory.New(net, 1, []model.Rank{1}, []model.Rank{1})
	snap, err := other.FetchLoss(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 4.0, snap.SumSquaredLoss)
	require.Equal(t, int64(2), snap.Count)
}

func TestWaitReleasesAllPartiesTogether(t *testing.T) {
	net := inmemory.NewNetwork([]model.Rank{1, 2})
	coordinator := inmemory.New(net, 0, []model.Rank{1, 2}, nil)
	w1 := inmemory.New(net, 1, []model.Rank{1, 2}, []model.Rank{1, 2})
	w2 := inmemory.New(net, 2, []model.Rank{1, 2}, []model.Rank{1, 2})

	var wg sync.WaitGroup
	wg.Add(3)
	done := make(chan struct{})
	for _, party := range []*inmemory.Transport{coordinator, w1, w2} {
		p := party
		go func() {
			defer wg.Done()
			_ = p.Wait(context.Background())
		}()
	}
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("barrier did not release all parties")
	}
}

func TestLocalTeamContains(t *testing.T) {
	net := inmemory.NewNetwork([]model.Rank{1, 2, 3})
	tr := inmemory.New(net, 1, []model.Rank{1, 2, 3}, []model.Rank{1, 2})
	require.True(t, tr.LocalTeamContains(1))
	require.True(t, tr.LocalTeamContains(2))
	require.False(t, tr.LocalTeamContains(3))
}
