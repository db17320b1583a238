package coordinator_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/coordinator"
	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent map[model.Rank][]model.Column
}

func newFakeSender() *fakeSender { return &fakeSender{sent: make(map[model.Rank][]model.Column)} }

func (f *fakeSender) SendColumn(_ context.Context, dest model.Rank, col model.Column) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[dest] = append(f.sent[dest], col)
	return nil
}

func (f *fakeSender) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cols := range f.sent {
		n += len(cols)
	}
	return n
}

type fakeBarrier struct{ waited int }

func (b *fakeBarrier) Wait(_ context.Context) error { b.waited++; return nil }

type fakeFetcher map[model.Rank]lossagg.Snapshot

func (f fakeFetcher) FetchLoss(_ context.Context, rank model.Rank) (lossagg.Snapshot, error) {
	return f[rank], nil
}

func TestSeedAndWaitForIngestSeedsOneColumnPerItem(t *testing.T) {
	sender := newFakeSender()
	barrier := &fakeBarrier{}

	c := coordinator.New(coordinator.Config{
		Workers:    []model.Rank{1, 2, 3},
		Sender:     sender,
		Barrier:    barrier,
		Rank:       4,
		NumItems:   10,
		SeedFanout: 4,
	}, rand.New(rand.NewSource(1)))

	require.NoError(t, c.SeedAndWaitForIngest(context.Background()))
	require.Equal(t, 1, barrier.waited)
	require.Equal(t, 10, sender.total())
}

func TestRunLossReportingInvokesCallback(t *testing.T) {
	fetcher := fakeFetcher{1: {SumSquaredLoss: 2.0, Count: 2}}
	poller := lossagg.NewPoller(fetcher, []model.Rank{1}, 5*time.Millisecond)

	c := coordinator.New(coordinator.Config{Poller: poller}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	reports := 0
	c.RunLossReporting(ctx, func(r lossagg.Report) { reports++ })
	require.GreaterOrEqual(t, reports, 1)
}
