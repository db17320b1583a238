// Package httprpc implements transport.Transport over plain HTTP, one
// server per rank: a client per remote rank, and a net/http server
// exposing the operations transport needs (column push, loss fetch,
// barrier arrival, local broadcast). Columns use encoding/gob rather
// than JSON since they are internal-only tuples of (int, []float64,
// int), never exposed to a browser or a foreign language client.
package httprpc

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/launix-de/nomad-sgd/pkg/lossagg"
	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/transport"
	"github.com/rs/zerolog/log"
)

// AddressBook maps every rank to the base URL of its HTTP server
// ("http://host:port"). Populated by pkg/config/pkg/topology at startup.
type AddressBook map[model.Rank]string

// Transport is one rank's HTTP client/server pair.
type Transport struct {
	self      model.Rank
	workers   []model.Rank
	localTeam []model.Rank
	addrs     AddressBook

	client        *http.Client // fixed-timeout client for short request/response RPCs
	barrierClient *http.Client // timeout-less client for /barrier: ctx alone governs how long Wait may block

	cell    *lossagg.Cell
	barrier *rendezvous // coordinator-side n-party rendezvous for /barrier

	srv *http.Server
}

var _ transport.Transport = (*Transport)(nil)

// New builds the transport for self. barrierSize is the number of
// parties (workers + coordinator) that must call Wait before any of
// them is released; only the coordinator's (rank 0) /barrier handler
// actually counts arrivals, since that's the only endpoint anyone posts
// to, but every rank carries the state so New stays uniform.
func New(self model.Rank, workers, localTeam []model.Rank, addrs AddressBook, barrierSize int) *Transport {
	return &Transport{
		self:          self,
		workers:       workers,
		localTeam:     localTeam,
		addrs:         addrs,
		client:        &http.Client{Timeout: 10 * time.Second},
		barrierClient: &http.Client{},
		cell:          lossagg.NewCell(),
		barrier:       newRendezvous(barrierSize),
	}
}

// rendezvous is a reusable n-party barrier: the nth arrival to call wait,
// after n-1 others are already blocked, releases all of them at once.
// Mirrors pkg/transport/inmemory's rendezvous, here driving the
// coordinator's /barrier HTTP handler instead of an in-process call.
type rendezvous struct {
	mu      sync.Mutex
	n       int
	arrived int
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

func (t *Transport) Self() model.Rank        { return t.self }
func (t *Transport) Workers() []model.Rank   { return t.workers }
func (t *Transport) LocalTeam() []model.Rank { return t.localTeam }
func (t *Transport) LocalLoss() *lossagg.Cell { return t.cell }

func (t *Transport) LocalTeamContains(rank model.Rank) bool {
	for _, r := range t.localTeam {
		if r == rank {
			return true
		}
	}
	return false
}

// columnWireEnvelope is the gob payload for a pushed column.
type columnWireEnvelope struct {
	Item      int
	Values    []float64
	PermIndex int
}

// SendColumn POSTs a gob-encoded column to dest's /column endpoint.
func (t *Transport) SendColumn(ctx context.Context, dest model.Rank, col model.Column) error {
	url, ok := t.addrs[dest]
	if !ok {
		return fmt.Errorf("httprpc: no address registered for rank %d", dest)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(columnWireEnvelope(col)); err != nil {
		return fmt.Errorf("httprpc: encode column: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/column", &buf)
	if err != nil {
		return fmt.Errorf("httprpc: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("httprpc: send column to rank %d: %w", dest, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httprpc: rank %d rejected column: status %d", dest, resp.StatusCode)
	}
	return nil
}

type lossWireResponse struct {
	SumSquaredLoss float64 `json:"sum_squared_loss"`
	Count          int64   `json:"count"`
}

// FetchLoss GETs rank's /loss endpoint and decodes a JSON snapshot.
func (t *Transport) FetchLoss(ctx context.Context, rank model.Rank) (lossagg.Snapshot, error) {
	url, ok := t.addrs[rank]
	if !ok {
		return lossagg.Snapshot{}, fmt.Errorf("httprpc: no address registered for rank %d", rank)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/loss", nil)
	if err != nil {
		return lossagg.Snapshot{}, fmt.Errorf("httprpc: build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return lossagg.Snapshot{}, fmt.Errorf("httprpc: fetch loss from rank %d: %w", rank, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return lossagg.Snapshot{}, fmt.Errorf("httprpc: read loss response: %w", err)
	}

	var wire lossWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return lossagg.Snapshot{}, fmt.Errorf("httprpc: unmarshal loss response: %w", err)
	}
	return lossagg.Snapshot{SumSquaredLoss: wire.SumSquaredLoss, Count: wire.Count}, nil
}

// Wait POSTs to the coordinator's /barrier endpoint and blocks for the
// response, which the coordinator holds open until every party (every
// worker plus the coordinator itself, barrierSize of them) has arrived.
// Ingest can legitimately take much longer than an ordinary RPC, so
// this uses barrierClient, which has no fixed timeout of its own; only
// ctx bounds how long the caller is willing to wait.
func (t *Transport) Wait(ctx context.Context) error {
	url, ok := t.addrs[0]
	if !ok {
		return fmt.Errorf("httprpc: no address registered for coordinator (rank 0)")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/barrier", nil)
	if err != nil {
		return err
	}
	resp, err := t.barrierClient.Do(req)
	if err != nil {
		return fmt.Errorf("httprpc: barrier wait: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("httprpc: barrier rejected: status %d", resp.StatusCode)
	}
	return nil
}

// BroadcastLocal fans payload out to every rank in the local team as a
// POST to /broadcast, from the team leader (lowest rank).
func (t *Transport) BroadcastLocal(ctx context.Context, payload []byte) error {
	var firstErr error
	for _, r := range t.localTeam {
		if r == t.self {
			continue
		}
		url, ok := t.addrs[r]
		if !ok {
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/broadcast", bytes.NewReader(payload))
		if err != nil {
			continue
		}
		resp, err := t.client.Do(req)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return firstErr
}

// Serve starts this rank's HTTP server and blocks until ctx is
// cancelled, delivering inbound columns to receiver.
func (t *Transport) Serve(ctx context.Context, receiver transport.ColumnReceiver) error {
	addr, ok := t.addrs[t.self]
	if !ok {
		return fmt.Errorf("httprpc: no listen address registered for self (rank %d)", t.self)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/column", func(w http.ResponseWriter, r *http.Request) {
		var env columnWireEnvelope
		if err := gob.NewDecoder(r.Body).Decode(&env); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		receiver.Deliver(model.Column(env))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/loss", func(w http.ResponseWriter, r *http.Request) {
		snap := t.cell.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lossWireResponse{SumSquaredLoss: snap.SumSquaredLoss, Count: snap.Count})
	})
	mux.HandleFunc("/barrier", func(w http.ResponseWriter, r *http.Request) {
		if err := t.barrier.wait(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/broadcast", func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	t.srv = srv

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Int("rank", int(t.self)).Msg("httprpc transport listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
