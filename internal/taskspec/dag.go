package taskspec

import (
	"fmt"

	"github.com/haricheung/memexcli/internal/types"
)

// Graph is a directed graph over a batch's task ids, built from each
// TaskSpec's Dependencies (edges run dependency -> dependent).
type Graph struct {
	specs    map[string]types.TaskSpec
	order    []string // source order, for tie-breaking within a rank
	incoming map[string][]string
	outgoing map[string][]string
}

// BuildGraph validates a parsed batch and constructs its dependency graph.
// Rejects the batch on unknown dependency, missing required key (already
// checked by Parse), or duplicate id (already checked by Parse).
func BuildGraph(specs []types.TaskSpec) (*Graph, error) {
	g := &Graph{
		specs:    make(map[string]types.TaskSpec, len(specs)),
		incoming: make(map[string][]string, len(specs)),
		outgoing: make(map[string][]string, len(specs)),
	}
	for _, s := range specs {
		g.specs[s.ID] = s
		g.order = append(g.order, s.ID)
	}
	for _, s := range specs {
		for _, dep := range s.Dependencies {
			if _, ok := g.specs[dep]; !ok {
				return nil, fmt.Errorf("%w: task %q depends on unknown id %q", types.ErrParseInput, s.ID, dep)
			}
			g.incoming[s.ID] = append(g.incoming[s.ID], dep)
			g.outgoing[dep] = append(g.outgoing[dep], s.ID)
		}
	}
	return g, nil
}

// Spec returns the TaskSpec for id.
func (g *Graph) Spec(id string) types.TaskSpec { return g.specs[id] }

// Ranks computes the topological rank of every task: rank 0 has no
// dependencies, rank N depends only on tasks of rank < N. Tasks within a
// rank are returned in source order (spec §4.4's tie-break rule) and are
// eligible for concurrent execution.
//
// Returns an error naming an id on the cycle if the graph is not a DAG.
func (g *Graph) Ranks() ([][]string, error) {
	indegree := make(map[string]int, len(g.specs))
	for id := range g.specs {
		indegree[id] = len(g.incoming[id])
	}

	remaining := len(g.specs)
	var ranks [][]string

	for remaining > 0 {
		var rank []string
		for _, id := range g.order {
			if indegree[id] == 0 {
				rank = append(rank, id)
			}
		}
		if len(rank) == 0 {
			return nil, cycleError(g, indegree)
		}
		// g.order already reflects source order, so rank is already
		// tie-broken correctly — no further sort needed.
		ranks = append(ranks, rank)
		for _, id := range rank {
			remaining--
			indegree[id] = -1 // mark consumed so it's never picked again
			for _, dependent := range g.outgoing[id] {
				if indegree[dependent] > 0 {
					indegree[dependent]--
				}
			}
		}
	}
	return ranks, nil
}

// cycleError names one id still unresolved — part of some cycle — once
// Kahn's algorithm stalls with indegree[id] > 0 remaining everywhere.
func cycleError(g *Graph, indegree map[string]int) error {
	for _, id := range g.order {
		if indegree[id] > 0 {
			return fmt.Errorf("%w: cycle detected involving task %q", types.ErrParseInput, id)
		}
	}
	return fmt.Errorf("%w: cycle detected", types.ErrParseInput)
}
