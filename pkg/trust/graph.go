// Package trust derives context-local effective trust from global
// standing and assembles frozen snapshots for the compiler. Standing is
// global; trust is local: every snapshot recomputes modifiers from the
// signal log, and nothing here is ever persisted as ground truth.
package trust

import (
	"sort"

	"github.com/verity-protocol/verity/pkg/signal"
)

// Edge types in the agent graph.
const (
	edgeVouch  = "vouch"
	edgeMember = "member"
)

type edge struct {
	src, tgt int
	kind     string
}

// graph is an arena of agent nodes with integer indices and a sorted
// edge list, giving deterministic iteration and cheap cycle prevention
// via visited bitsets.
type graph struct {
	nodes []string
	index map[string]int
	edges []edge
	// outAdj[i] / inAdj[i] hold node i's outgoing and incoming edges in
	// sorted edge order, filled once by buildGraph.
	outAdj map[int][]edge
	inAdj  map[int][]edge
}

// buildGraph folds VOUCH and MEMBER_OF signals into the arena. Signals
// must be the canonical-prefix slice for the snapshot time.
func buildGraph(signals []signal.Signal) *graph {
	g := &graph{index: map[string]int{}, outAdj: map[int][]edge{}, inAdj: map[int][]edge{}}

	for i := range signals {
		s := &signals[i]
		var kind string
		switch s.SignalType {
		case signal.TypeVouch:
			kind = edgeVouch
		case signal.TypeMemberOf:
			kind = edgeMember
		default:
			continue
		}
		src := g.node(s.AgentID)
		tgt := g.node(s.ObjectID)
		g.edges = append(g.edges, edge{src: src, tgt: tgt, kind: kind})
	}

	sort.Slice(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.src != b.src {
			return a.src < b.src
		}
		if a.kind != b.kind {
			return a.kind < b.kind
		}
		return a.tgt < b.tgt
	})

	for _, e := range g.edges {
		g.outAdj[e.src] = append(g.outAdj[e.src], e)
		g.inAdj[e.tgt] = append(g.inAdj[e.tgt], e)
	}
	return g
}

func (g *graph) node(id string) int {
	if idx, ok := g.index[id]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, id)
	g.index[id] = idx
	return idx
}

func (g *graph) lookup(id string) (int, bool) {
	idx, ok := g.index[id]
	return idx, ok
}

// voucherAtHop is one discovered inbound voucher and its hop distance.
type voucherAtHop struct {
	agentID string
	hop     int
}

// inboundVouchers walks inbound vouch edges breadth-first up to maxHops,
// breaking cycles with a visited bitset. Hop 1 is a direct voucher.
func (g *graph) inboundVouchers(agentID string, maxHops int) []voucherAtHop {
	start, ok := g.lookup(agentID)
	if !ok {
		return nil
	}

	visited := make([]bool, len(g.nodes))
	visited[start] = true
	frontier := []int{start}
	var out []voucherAtHop

	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []int
		for _, n := range frontier {
			for _, e := range g.inAdj[n] {
				if e.kind != edgeVouch || visited[e.src] {
					continue
				}
				visited[e.src] = true
				out = append(out, voucherAtHop{agentID: g.nodes[e.src], hop: hop})
				next = append(next, e.src)
			}
		}
		frontier = next
	}
	return out
}

// collaborators returns the distinct vouch counterparties of an agent
// (either direction), sorted for determinism.
func (g *graph) collaborators(agentID string) []string {
	idx, ok := g.lookup(agentID)
	if !ok {
		return nil
	}
	seen := map[int]bool{}
	for _, e := range g.outAdj[idx] {
		if e.kind == edgeVouch {
			seen[e.tgt] = true
		}
	}
	for _, e := range g.inAdj[idx] {
		if e.kind == edgeVouch {
			seen[e.src] = true
		}
	}
	delete(seen, idx)

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, g.nodes[n])
	}
	sort.Strings(out)
	return out
}

// reciprocal reports whether a and b vouch for each other or share a
// squad via MEMBER_OF, which marks the collaboration as internal.
func (g *graph) reciprocal(a, b string) bool {
	ai, ok := g.lookup(a)
	if !ok {
		return false
	}
	bi, ok := g.lookup(b)
	if !ok {
		return false
	}

	var aVouchesB, bVouchesA bool
	for _, e := range g.outAdj[ai] {
		if e.kind == edgeVouch && e.tgt == bi {
			aVouchesB = true
		}
	}
	for _, e := range g.outAdj[bi] {
		if e.kind == edgeVouch && e.tgt == ai {
			bVouchesA = true
		}
	}
	if aVouchesB && bVouchesA {
		return true
	}

	// Shared squad membership.
	aSquads := map[int]bool{}
	for _, e := range g.outAdj[ai] {
		if e.kind == edgeMember {
			aSquads[e.tgt] = true
		}
	}
	for _, e := range g.outAdj[bi] {
		if e.kind == edgeMember && aSquads[e.tgt] {
			return true
		}
	}
	return false
}
