package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanOrdering(t *testing.T) {
	p := NewPlan()
	tree := "acme/dev/zoo-view/zoo/zoo-packages"
	require.NoError(t, p.Append([]Action{
		{Todo: ActionWriteRevision, Tree: tree},
		{Todo: ActionInstall, Tree: tree, Unit: "dog-4.23-1.noarch.rpm"},
		{Todo: ActionRemove, Tree: tree, Unit: "bear-4.1-1.noarch.rpm"},
		{Todo: ActionInstall, Tree: tree, Unit: "camel-0.1-1.noarch.rpm"},
	}))
	steps := p.Steps()
	require.Len(t, steps, 4)
	assert.Equal(t, ActionRemove, steps[0].Todo, "removals run first")
	assert.Equal(t, "camel-0.1-1.noarch.rpm", steps[1].Unit, "installs sort by unit")
	assert.Equal(t, "dog-4.23-1.noarch.rpm", steps[2].Unit)
	assert.Equal(t, ActionWriteRevision, steps[3].Todo, "revision marker lands last")
}

func TestPlanGroupsByTree(t *testing.T) {
	p := NewPlan()
	require.NoError(t, p.Add(Action{Todo: ActionInstall, Tree: "b/tree", Unit: "x"}))
	require.NoError(t, p.Add(Action{Todo: ActionInstall, Tree: "a/tree", Unit: "y"}))
	steps := p.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "a/tree", steps[0].Tree)
	assert.Equal(t, "b/tree", steps[1].Tree)
}

func TestPlanValidate(t *testing.T) {
	p := NewPlan()
	assert.Error(t, p.Add(Action{Todo: ActionInstall, Tree: "t"}), "unit action needs a unit")
	assert.Error(t, p.Add(Action{Todo: ActionInstall, Unit: "u"}), "action needs a tree")
	assert.Error(t, p.Add(Action{Tree: "t", Unit: "u"}), "unknown action type")
	assert.True(t, p.Empty())
}

func TestPlanPretty(t *testing.T) {
	p := NewPlan()
	assert.Equal(t, "Nothing to do", p.Pretty())
	require.NoError(t, p.Add(Action{Todo: ActionInstall, Tree: "t", Unit: "u"}))
	assert.Contains(t, p.Pretty(), "1. (t) install u")
	assert.Equal(t, 1, p.Size())

	raw, err := p.ToJson()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tree":"t"`)
}
