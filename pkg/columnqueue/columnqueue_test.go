package columnqueue_test

import (
	"testing"

	"github.com/launix-de/nomad-sgd/pkg/columnqueue"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestTryPopOnEmptyQueue(t *testing.T) {
	q := columnqueue.New()
	_, ok := q.TryPop()
	require.False(t, ok)
	require.Equal(t, 0, q.Len())
}

func TestFIFOOrderPerSourceDestPair(t *testing.T) {
	q := columnqueue.New()
	a := model.Column{Item: 1, Values: []float64{0.1}}
	b := model.Column{Item: 2, Values: []float64{0.2}}

	q.Enqueue(a) // push A then B from the same source
	q.Enqueue(b)

	require.Equal(t, 2, q.Len())

	got1, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, a.Item, got1.Item) // A dequeued before B

	got2, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, b.Item, got2.Item)

	_, ok = q.TryPop()
	require.False(t, ok)
}
