// Package topology describes cluster membership: which rank runs where,
// and which ranks share a machine (a "local team", §3/§6). Membership
// is supplied by the launcher's configuration rather than discovered
// from a container runtime.
package topology

import (
	"fmt"
	"sort"

	"github.com/launix-de/nomad-sgd/pkg/model"
)

// Member describes one rank's placement: which machine it runs on and
// the address its transport listens on.
type Member struct {
	Rank    model.Rank
	Machine string // opaque machine identifier; ranks sharing a Machine form a local team
	Addr    string // "host:port" the transport server binds/dials
}

// Cluster is the full membership table, built once at startup from
// config and never mutated (§6's Non-goal "dynamic rebalancing").
type Cluster struct {
	members map[model.Rank]Member
	order   []model.Rank // insertion order, for deterministic iteration
}

// New builds a Cluster from an explicit member list. Rank 0 (the
// coordinator) must be present exactly once; duplicate ranks are an
// error.
func New(members []Member) (*Cluster, error) {
	c := &Cluster{members: make(map[model.Rank]Member, len(members))}
	for _, m := range members {
		if _, dup := c.members[m.Rank]; dup {
			return nil, fmt.Errorf("topology: duplicate rank %d", m.Rank)
		}
		c.members[m.Rank] = m
		c.order = append(c.order, m.Rank)
	}
	if _, ok := c.members[0]; !ok {
		return nil, fmt.Errorf("topology: no coordinator (rank 0) in member list")
	}
	return c, nil
}

// Member returns the Member for rank, or an error if rank is not part of
// the cluster.
func (c *Cluster) Member(rank model.Rank) (Member, error) {
	m, ok := c.members[rank]
	if !ok {
		return Member{}, fmt.Errorf("topology: unknown rank %d", rank)
	}
	return m, nil
}

// Workers returns every non-coordinator rank, sorted ascending.
func (c *Cluster) Workers() []model.Rank {
	var out []model.Rank
	for _, r := range c.order {
		if r != 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LocalTeam returns every worker rank sharing self's machine, self
// included. The coordinator's rank is never part of any local team
// (§3: "local team" is defined over worker ranks only).
func (c *Cluster) LocalTeam(self model.Rank) []model.Rank {
	m, ok := c.members[self]
	if !ok {
		return nil
	}
	var out []model.Rank
	for _, r := range c.Workers() {
		if c.members[r].Machine == m.Machine {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LocalTeamContains reports whether candidate shares self's machine
// (§6 local_team_contains). self is always considered to be in its own
// local team.
func (c *Cluster) LocalTeamContains(self, candidate model.Rank) bool {
	for _, r := range c.LocalTeam(self) {
		if r == candidate {
			return true
		}
	}
	return false
}

// SingleMachine reports whether every worker rank shares one machine
// (§4.5 Case A), making Leader and LocalTeam degenerate to "everyone".
func (c *Cluster) SingleMachine() bool {
	workers := c.Workers()
	if len(workers) == 0 {
		return true
	}
	machine := c.members[workers[0]].Machine
	for _, r := range workers[1:] {
		if c.members[r].Machine != machine {
			return false
		}
	}
	return true
}

// Leader returns the lowest-ranked worker sharing self's machine, the
// rank responsible for initiating BroadcastLocal during permutation
// table setup (§6).
func (c *Cluster) Leader(self model.Rank) model.Rank {
	team := c.LocalTeam(self)
	if len(team) == 0 {
		return self
	}
	return team[0]
}
