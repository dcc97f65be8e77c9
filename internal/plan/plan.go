// Package plan describes the file level work a capsule sync will perform:
// an ordered set of actions bringing a mirrored environment tree in line
// with the depot's.
package plan

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type ActionType int

const (
	ActionUnknown ActionType = iota

	ActionInstall
	ActionUpdate
	ActionRemove

	ActionWriteRevision
	ActionRemoveTree
)

func (t ActionType) String() string {
	switch t {
	case ActionInstall:
		return "install"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	case ActionWriteRevision:
		return "write-revision"
	case ActionRemoveTree:
		return "remove-tree"
	default:
		return "unknown"
	}
}

func (t ActionType) IsUnitAction() bool {
	return t == ActionInstall || t == ActionUpdate || t == ActionRemove
}

// Action is one mirror step. Tree is the environment tree relative to the
// mirror root; Unit is empty for tree level actions. DiffContent carries the
// revision marker diff for display.
type Action struct {
	Todo        ActionType            `json:"todo"`
	Tree        string                `json:"tree"`
	Unit        string                `json:"unit,omitempty"`
	DiffContent []diffmatchpatch.Diff `json:"-"`
	Priority    int                   `json:"priority"`
}

func (a Action) Validate() error {
	if a.Todo == ActionUnknown {
		return errors.New("unknown action")
	}
	if a.Tree == "" {
		return errors.New("action without tree")
	}
	if a.Todo.IsUnitAction() && a.Unit == "" {
		return fmt.Errorf("unit action without unit: %v", a)
	}
	return nil
}

func (a Action) String() string {
	return fmt.Sprintf("{a %v %v %v}", a.Todo, a.Tree, a.Unit)
}

func (a Action) Pretty() string {
	if a.Unit == "" {
		return fmt.Sprintf("(%v) %v", a.Tree, a.Todo)
	}
	return fmt.Sprintf("(%v) %v %v", a.Tree, a.Todo, a.Unit)
}

func defaultPriority(t ActionType) int {
	switch t {
	case ActionRemove:
		return 1
	case ActionInstall, ActionUpdate:
		return 2
	case ActionWriteRevision:
		return 3
	case ActionRemoveTree:
		return 4
	default:
		return 5
	}
}

type treeChanges struct {
	actions []Action
}

func (c *treeChanges) add(a Action) {
	c.actions = append(c.actions, a)
	slices.SortStableFunc(c.actions, prioritizeActions)
}

func prioritizeActions(a, b Action) int {
	if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.Unit, b.Unit)
}

type Plan struct {
	size    int
	changes map[string]*treeChanges
}

func NewPlan() *Plan {
	return &Plan{
		changes: make(map[string]*treeChanges),
	}
}

func (p *Plan) Add(a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Priority == 0 {
		a.Priority = defaultPriority(a.Todo)
	}
	changes, ok := p.changes[a.Tree]
	if !ok {
		changes = &treeChanges{}
		p.changes[a.Tree] = changes
	}
	changes.add(a)
	p.size++
	return nil
}

func (p *Plan) Append(actions []Action) error {
	for _, a := range actions {
		if err := p.Add(a); err != nil {
			return fmt.Errorf("unable to append actions to plan: %w", err)
		}
	}
	return nil
}

func (p *Plan) Empty() bool {
	return p.size == 0
}

func (p *Plan) Size() int {
	return p.size
}

// Steps returns the actions tree by tree, removals first within each tree.
func (p *Plan) Steps() []Action {
	trees := make([]string, 0, len(p.changes))
	for k := range p.changes {
		trees = append(trees, k)
	}
	slices.Sort(trees)
	var steps []Action
	for _, tree := range trees {
		steps = append(steps, p.changes[tree].actions...)
	}
	return steps
}

func (p *Plan) Pretty() string {
	if p.Empty() {
		return "Nothing to do"
	}
	result := "Plan: \n"
	for i, a := range p.Steps() {
		result += fmt.Sprintf("%v. %v\n", i+1, a.Pretty())
	}
	return result
}

func (p *Plan) PrettyLines() []string {
	if p.Empty() {
		return []string{""}
	}
	var result []string
	for i, a := range p.Steps() {
		result = append(result, fmt.Sprintf("%v. %v", i+1, a.Pretty()))
	}
	return result
}

func (p *Plan) ToJson() ([]byte, error) {
	return json.Marshal(p.Steps())
}
