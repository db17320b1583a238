// Package ratingstore implements the per-rank shard of the sparse rating
// matrix A: a local mapping item -> user -> (rating, update count). Each
// rank owns exactly the edges routed to it by Rank (§3); the store
// never sees edges belonging to another rank.
package ratingstore

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// edge is the mutable per-(user,item) state: the rating value (fixed
// after insert) and the number of times the SGD loop has touched it.
type edge struct {
	value float64
	count int
}

// Row is a read-only snapshot of one local rater of an item, returned by
// RowsForItem.
type Row struct {
	User  int
	Value float64
	Count int
}

// Store is a single rank's shard of the rating matrix, keyed by item so
// that a worker popping a column can fetch all of its local raters in one
// lookup. It is safe for concurrent use, but the design expects a single
// writer (the owning rank's worker loop); the mutex exists to serialize
// against the RPC handlers that insert rows during ingest.
type Store struct {
	mu   sync.Mutex
	rows map[int]map[int]*edge // item -> user -> edge

	// MissingEdgeCounter, if set, is incremented once per BumpCount call
	// that targets an edge this rank doesn't hold locally (wired to
	// metrics.Registry.MissingEdgeOnBump).
	MissingEdgeCounter interface{ Inc() }
}

// New creates an empty rating store.
func New() *Store {
	return &Store{rows: make(map[int]map[int]*edge)}
}

// Insert records that the local user User rated Item with value Value,
// resetting its update count to zero. The caller is responsible for
// routing: Insert must only be called on the rank that owns User (§4.1).
// Idempotent on a duplicate (user, item): last write wins.
func (s *Store) Insert(user, item int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.rows[item]
	if !ok {
		users = make(map[int]*edge)
		s.rows[item] = users
	}
	users[user] = &edge{value: value, count: 0}
}

// RowsForItem returns a snapshot of every local user who rated Item. The
// slice is empty (not nil) if Item has no local raters.
func (s *Store) RowsForItem(item int) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.rows[item]
	out := make([]Row, 0, len(users))
	for user, e := range users {
		out = append(out, Row{User: user, Value: e.value, Count: e.count})
	}
	return out
}

// BumpCount increments the update counter for edge (user, item). A
// missing edge indicates a routing bug elsewhere in the system (§7,
// error kind 2): each such call logs a warning and is otherwise ignored
// rather than aborting the rank. Warnings are not de-duplicated: repeated
// calls for the same missing edge log again every time.
func (s *Store) BumpCount(user, item int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.rows[item]
	if !ok {
		log.Warn().Int("user", user).Int("item", item).Msg("bump_count on item with no local rows")
		if s.MissingEdgeCounter != nil {
			s.MissingEdgeCounter.Inc()
		}
		return
	}
	e, ok := users[user]
	if !ok {
		log.Warn().Int("user", user).Int("item", item).Msg("bump_count on missing edge")
		if s.MissingEdgeCounter != nil {
			s.MissingEdgeCounter.Inc()
		}
		return
	}
	e.count++
}

// Count returns the total number of local rating edges, summed across
// all items.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, users := range s.rows {
		n += len(users)
	}
	return n
}

// ItemCount returns the number of distinct items with at least one local
// rater.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// RankOf returns the rank that owns user (§4.1's routing function),
// given the number of worker ranks (world size minus the coordinator).
// It is the single source of truth for routing and must be used
// identically by every rank.
func RankOf(user, workerCount int) int {
	return 1 + user%workerCount
}
