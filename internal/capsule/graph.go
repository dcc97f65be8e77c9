package capsule

import (
	"errors"
	"fmt"
	"slices"
)

// TreeState is one side's view of a published tree: its revision marker
// and the units it carries.
type TreeState struct {
	Revision string
	Units    *UnitSet
}

// TreePair holds the two sides of one environment tree: what the depot
// publishes and what the capsule currently mirrors. Either side may be
// nil for a fresh or removed tree.
type TreePair struct {
	Name   string
	Depot  *TreeState
	Mirror *TreeState
}

var ErrTreeNotFound = errors.New("tree not found")

type TreeGraph struct {
	graph map[string]*TreePair
}

func NewTreeGraph() *TreeGraph {
	return &TreeGraph{
		graph: make(map[string]*TreePair),
	}
}

func (g *TreeGraph) Add(pair *TreePair) error {
	if pair.Name == "" {
		return fmt.Errorf("tried to add unnamed tree")
	}
	if pair.Depot == nil && pair.Mirror == nil {
		return fmt.Errorf("tried to add empty tree pair: %v", pair.Name)
	}
	g.graph[pair.Name] = pair
	return nil
}

func (g *TreeGraph) Get(name string) (*TreePair, error) {
	if pair, ok := g.graph[name]; !ok {
		return nil, ErrTreeNotFound
	} else {
		return pair, nil
	}
}

func (g *TreeGraph) List() []*TreePair {
	var result []*TreePair
	allTreeNames := make([]string, 0, len(g.graph))
	for k := range g.graph {
		allTreeNames = append(allTreeNames, k)
	}
	slices.Sort(allTreeNames)

	for _, name := range allTreeNames {
		result = append(result, g.graph[name])
	}
	return result
}
