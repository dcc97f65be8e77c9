package capsule

import (
	"errors"

	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/treeset"

	"ironworks.systems/crucible/internal/content"
)

var ErrUnitNotFound = errors.New("unit not found")

// UnitSet keeps a tree's units ordered by kind and name so plan output
// stays stable no matter how the tree was scanned.
type UnitSet struct {
	sets.Set
}

func compareUnits(left, right interface{}) int {
	return content.CompareUnits(left.(content.Unit), right.(content.Unit))
}

func NewUnitSet(units ...content.Unit) *UnitSet {
	s := &UnitSet{
		treeset.NewWith(compareUnits),
	}
	for _, u := range units {
		s.Add(u)
	}
	return s
}

func (s *UnitSet) List() []content.Unit {
	result := make([]content.Unit, s.Size())
	for k, v := range s.Values() {
		result[k] = v.(content.Unit)
	}
	return result
}

func (s *UnitSet) Names() []string {
	result := make([]string, s.Size())
	for k, v := range s.Values() {
		result[k] = v.(content.Unit).Name
	}
	return result
}

func (s *UnitSet) Get(name string) (content.Unit, error) {
	for _, v := range s.Values() {
		u := v.(content.Unit)
		if u.Name == name {
			return u, nil
		}
	}
	return content.Unit{}, ErrUnitNotFound
}
