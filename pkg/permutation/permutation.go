// Package permutation builds the per-machine forwarding schedule used by
// the Router to keep a column circulating among local workers before it
// crosses machines (§4.5). One table is built by the local team leader
// and broadcast read-only to the rest of the team (§3, "Permutation
// table").
package permutation

import (
	"fmt"
	"math/rand"
)

// Table is an n_retries x n_local_members grid of worker ranks, built
// once per machine. Cell (retry, slot) names a local worker; the Router
// scans a row left to right looking for a rank other than the column's
// current holder.
type Table struct {
	nRetries  int
	localSize int
	cells     []int // row-major: cells[retry*localSize+slot]
}

// Build constructs a permutation table for a machine whose local worker
// ranks (excluding the coordinator, if co-located) are localRanks. Every
// cell is drawn uniformly from localRanks, so the table may repeat a
// rank within a row; the Router's self-skip logic (§4.5) handles that.
// Build panics if localRanks is empty: a machine with no local workers
// has nothing to route intra-machine.
func Build(nRetries int, localRanks []int, rng *rand.Rand) *Table {
	if len(localRanks) == 0 {
		panic("permutation: Build requires at least one local worker rank")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	t := &Table{
		nRetries:  nRetries,
		localSize: len(localRanks),
		cells:     make([]int, nRetries*len(localRanks)),
	}
	for i := 0; i < nRetries; i++ {
		for j := 0; j < len(localRanks); j++ {
			t.cells[i*len(localRanks)+j] = localRanks[rng.Intn(len(localRanks))]
		}
	}
	return t
}

// NRetries is the number of rows in the table.
func (t *Table) NRetries() int { return t.nRetries }

// LocalSize is the number of local workers the table was built for
// (columns in the grid).
func (t *Table) LocalSize() int { return t.localSize }

// PMax is the perm_index threshold at which the Router forwards a column
// off-machine instead of consulting the table (n_retries * N_local, §4.5).
func (t *Table) PMax() int { return t.nRetries * t.localSize }

// At returns the rank stored at a flat index idx (idx = retry*localSize +
// slot), wrapping idx into range if the caller scanned past the end of
// the grid. It is an error to call At with a negative idx.
func (t *Table) At(idx int) (rank int, err error) {
	if idx < 0 {
		return 0, fmt.Errorf("permutation: negative index %d", idx)
	}
	return t.cells[idx%len(t.cells)], nil
}

// Len returns the total number of cells in the grid (n_retries *
// localSize).
func (t *Table) Len() int { return len(t.cells) }

// ContainsOnlyLocalTeam reports whether every cell of the table names a
// rank present in localRanks — the "permutation coverage" property from
// §8: the table must never route to a rank outside the local team, nor
// to the coordinator.
func (t *Table) ContainsOnlyLocalTeam(localRanks []int) bool {
	allowed := make(map[int]struct{}, len(localRanks))
	for _, r := range localRanks {
		allowed[r] = struct{}{}
	}
	for _, c := range t.cells {
		if _, ok := allowed[c]; !ok {
			return false
		}
	}
	return true
}
