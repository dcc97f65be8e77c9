package capsule

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/sergi/go-diff/diffmatchpatch"

	"ironworks.systems/crucible/internal/content"
	"ironworks.systems/crucible/internal/depot"
	"ironworks.systems/crucible/internal/plan"
)

// Planner computes the file actions that bring a capsule's mirror in
// line with the depot's environment trees. Trees whose revision marker
// matches are left alone, so republishing unchanged content keeps the
// mirror untouched.
type Planner struct {
	Depot  *depot.Depot
	Mirror *depot.Depot
	Diffs  bool
}

func NewPlanner(d, m *depot.Depot, diffs bool) *Planner {
	return &Planner{Depot: d, Mirror: m, Diffs: diffs}
}

// Plan diffs the desired trees against everything the mirror currently
// holds. Mirrored trees the depot no longer publishes get removed.
func (p *Planner) Plan(ctx context.Context, desired []string) (*plan.Plan, error) {
	current, err := p.Mirror.Trees("")
	if err != nil {
		return nil, fmt.Errorf("error scanning mirror: %w", err)
	}

	graph, err := p.buildGraph(desired, current)
	if err != nil {
		return nil, err
	}

	actionPlan := plan.NewPlan()
	for _, pair := range graph.List() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var actions []plan.Action
		switch {
		case pair.Mirror == nil:
			actions = p.planFreshTree(pair)
		case pair.Depot == nil:
			actions = p.planRemovedTree(pair)
		default:
			actions = p.planUpdatedTree(pair)
		}
		if err := actionPlan.Append(actions); err != nil {
			return nil, fmt.Errorf("error calculating tree %v differences: %w", pair.Name, err)
		}
	}
	return actionPlan, nil
}

func (p *Planner) buildGraph(desired, current []string) (*TreeGraph, error) {
	graph := NewTreeGraph()

	log.Debug("scanning mirrored trees")
	for _, rel := range current {
		state, err := treeState(p.Mirror, rel)
		if err != nil {
			return nil, err
		}
		if err := graph.Add(&TreePair{Name: rel, Mirror: state}); err != nil {
			return nil, err
		}
	}
	log.Debug("scanning depot trees")
	for _, rel := range desired {
		state, err := treeState(p.Depot, rel)
		if err != nil {
			return nil, err
		}
		if pair, err := graph.Get(rel); err == nil {
			pair.Depot = state
			continue
		}
		if err := graph.Add(&TreePair{Name: rel, Depot: state}); err != nil {
			return nil, err
		}
	}
	return graph, nil
}

func (p *Planner) planFreshTree(pair *TreePair) []plan.Action {
	var actions []plan.Action
	for _, u := range pair.Depot.Units.List() {
		actions = append(actions, plan.Action{
			Todo: plan.ActionInstall,
			Tree: pair.Name,
			Unit: u.Name,
		})
	}
	actions = append(actions, p.revisionAction(pair.Name, "", pair.Depot.Revision))
	return actions
}

func (p *Planner) planRemovedTree(pair *TreePair) []plan.Action {
	return []plan.Action{{
		Todo: plan.ActionRemoveTree,
		Tree: pair.Name,
	}}
}

func (p *Planner) planUpdatedTree(pair *TreePair) []plan.Action {
	if pair.Depot.Revision == pair.Mirror.Revision {
		return nil
	}
	var actions []plan.Action
	mirrored := pair.Mirror.Units.Names()
	for _, u := range pair.Depot.Units.List() {
		if !slices.Contains(mirrored, u.Name) {
			actions = append(actions, plan.Action{
				Todo: plan.ActionInstall,
				Tree: pair.Name,
				Unit: u.Name,
			})
			continue
		}
		// content changes without a size change surface through the
		// revision marker comparison above
		held, _ := pair.Mirror.Units.Get(u.Name)
		if held.Size != u.Size {
			actions = append(actions, plan.Action{
				Todo: plan.ActionUpdate,
				Tree: pair.Name,
				Unit: u.Name,
			})
		}
	}
	for _, u := range pair.Mirror.Units.List() {
		if _, err := pair.Depot.Units.Get(u.Name); errors.Is(err, ErrUnitNotFound) {
			actions = append(actions, plan.Action{
				Todo: plan.ActionRemove,
				Tree: pair.Name,
				Unit: u.Name,
			})
		}
	}
	actions = append(actions, p.revisionAction(pair.Name, pair.Mirror.Revision, pair.Depot.Revision))
	return actions
}

func (p *Planner) revisionAction(tree, old, updated string) plan.Action {
	a := plan.Action{
		Todo: plan.ActionWriteRevision,
		Tree: tree,
	}
	if p.Diffs {
		dmp := diffmatchpatch.New()
		a.DiffContent = dmp.DiffMain(old, updated, false)
	}
	return a
}

// treeState reads one side of a tree. Dangling symlinks still count as
// units, with whatever size the link metadata reports.
func treeState(d *depot.Depot, rel string) (*TreeState, error) {
	revision, err := d.Revision(rel)
	if err != nil {
		return nil, fmt.Errorf("error reading revision for %v: %w", rel, err)
	}
	names, err := d.Units(rel)
	if err != nil {
		return nil, fmt.Errorf("error listing units for %v: %w", rel, err)
	}
	set := NewUnitSet()
	for _, name := range names {
		u := content.Unit{Name: name, Kind: content.UnitPackage}
		info, err := os.Lstat(filepath.Join(d.Abs(rel), name))
		if err != nil {
			return nil, err
		}
		u.Size = info.Size()
		set.Add(u)
	}
	return &TreeState{Revision: revision, Units: set}, nil
}
