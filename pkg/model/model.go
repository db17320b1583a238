// Package model defines the wire-level value types shared by every
// component of the NOMAD engine: the rating edges that make up the
// sparse matrix A, and the H-columns that circulate between ranks.
package model

// Rank identifies a process in the cluster, 0..P-1. Rank 0 is always the
// coordinator; ranks 1..P-1 are workers.
type Rank int

// Rating is one entry Aij of the sparse rating matrix: user i rated item
// j with normalized value Value, and has been touched by the SGD loop Count
// times. Ratings are immutable except for Count.
type Rating struct {
	User  int
	Item  int
	Value float64
	Count int
}

// Column is an H-row (one length-K factor vector per item) together with
// its routing metadata. Exactly one Column for a given Item exists
// cluster-wide at any moment; ownership transfers atomically when it is
// pushed to another rank's queue.
type Column struct {
	Item      int
	Values    []float64
	PermIndex int
}

// Clone returns a deep copy of the column, safe to hand to a transport
// layer that serializes asynchronously after the call returns.
func (c Column) Clone() Column {
	values := make([]float64, len(c.Values))
	copy(values, c.Values)
	return Column{Item: c.Item, Values: values, PermIndex: c.PermIndex}
}
