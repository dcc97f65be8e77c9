package capsule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"ironworks.systems/crucible/internal/depot"
	"ironworks.systems/crucible/internal/plan"
)

// Executor applies a mirror plan, pulling unit files out of the depot
// into the capsule's tree. On demand units published as symlinks are
// mirrored as symlinks so they dangle on the capsule exactly as long as
// they dangle on the depot.
type Executor struct {
	Depot  *depot.Depot
	Mirror *depot.Depot
}

func NewExecutor(d, m *depot.Depot) *Executor {
	return &Executor{Depot: d, Mirror: m}
}

// Execute runs the plan in order, returning the number of completed
// steps alongside any error.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (int, error) {
	if p.Empty() {
		return -1, nil
	}
	steps := 0
	for _, a := range p.Steps() {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		if err := e.executeAction(a); err != nil {
			return steps, fmt.Errorf("error executing %v: %w", a.Pretty(), err)
		}
		steps++
	}
	return steps, nil
}

func (e *Executor) executeAction(a plan.Action) error {
	switch a.Todo {
	case plan.ActionInstall, plan.ActionUpdate:
		return e.installUnit(a.Tree, a.Unit)
	case plan.ActionRemove:
		return os.Remove(filepath.Join(e.Mirror.Abs(a.Tree), a.Unit))
	case plan.ActionWriteRevision:
		revision, err := e.Depot.Revision(a.Tree)
		if err != nil {
			return err
		}
		dest := e.Mirror.Abs(a.Tree)
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dest, depot.RevisionFile), []byte(revision+"\n"), 0o644)
	case plan.ActionRemoveTree:
		return e.Mirror.Remove(a.Tree)
	default:
		return fmt.Errorf("unsupported action type: %v", a.Todo)
	}
}

func (e *Executor) installUnit(tree, unit string) error {
	src := filepath.Join(e.Depot.Abs(tree), unit)
	dst := filepath.Join(e.Mirror.Abs(tree), unit)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
