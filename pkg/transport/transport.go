// Package transport declares the cluster communication capabilities the
// core needs: point-to-point column delivery, remote loss-cell reads, a
// collective barrier, and local-team broadcast. The core depends only on
// these interfaces (§6 treats the transport substrate as an external
// collaborator); pkg/transport/inmemory and pkg/transport/httprpc supply
// two concrete wire implementations.
package transport

import (
	"context"

	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
)

// ColumnSender delivers a column to another rank's inbound queue (§4.2
// push_remote). Implementations must preserve FIFO order per (src, dst)
// pair (§8 "FIFO per edge").
type ColumnSender interface {
	SendColumn(ctx context.Context, dest model.Rank, col model.Column) error
}

// ColumnReceiver is implemented by whatever owns the local inbound
// queue; the transport layer calls Deliver when a column arrives over
// the wire for this rank.
type ColumnReceiver interface {
	Deliver(col model.Column)
}

// LossFetcher reads another rank's loss cell remotely (§4.4). It
// satisfies lossagg.Fetcher so a Poller can be built directly over it.
type LossFetcher interface {
	lossagg.Fetcher
}

// Barrier blocks until every rank named in the cluster has called
// Wait, matching the single collective operation nomad.cpp uses: a
// rendezvous after ingest, before training starts (§6).
type Barrier interface {
	Wait(ctx context.Context) error
}

// Broadcaster fans a message out to every rank in the caller's local
// team (§6 "local-team broadcast"), used during permutation table setup.
type Broadcaster interface {
	BroadcastLocal(ctx context.Context, payload []byte) error
}

// Topology exposes the membership queries the router and worker need
// (§6 local_team_contains) without depending on pkg/topology directly,
// keeping transport implementations swappable independent of how
// membership is discovered.
type Topology interface {
	Self() model.Rank
	Workers() []model.Rank
	LocalTeam() []model.Rank
	LocalTeamContains(rank model.Rank) bool
}

// Transport bundles every capability a rank needs from the network.
type Transport interface {
	ColumnSender
	LossFetcher
	Barrier
	Broadcaster
	Topology

	// LocalLoss returns the cell transport should serve FetchLoss
	// requests from when addressed at Self().
	LocalLoss() *lossagg.Cell

	// Serve starts accepting inbound traffic and blocks until ctx is
	// cancelled or an unrecoverable error occurs.
	Serve(ctx context.Context, receiver ColumnReceiver) error
}
