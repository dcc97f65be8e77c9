package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"ironworks.systems/crucible/internal/inventory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRunner(t *testing.T) (*Runner, *inventory.Store) {
	t.Helper()
	store, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	r := NewRunner(context.Background(), store, 2)
	t.Cleanup(func() {
		_ = r.Close()
		_ = store.Close()
	})
	return r, store
}

func TestRunSuccess(t *testing.T) {
	r, _ := testRunner(t)
	ctx := context.Background()
	task, err := r.Run(ctx, "repository/1", "sync", func(context.Context) (Outcome, error) {
		return Outcome{Output: "No new packages.", Skipped: true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, task.State)
	assert.Equal(t, "success", task.Result)
	assert.Equal(t, "No new packages.", task.Output)
	assert.True(t, task.Skipped)
	assert.False(t, task.EndedAt.IsZero())
}

func TestRunFailure(t *testing.T) {
	r, _ := testRunner(t)
	task, err := r.Run(context.Background(), "repository/1", "sync", func(context.Context) (Outcome, error) {
		return Outcome{}, errors.New("upstream unreachable")
	})
	require.NoError(t, err, "task errors surface in the record, not the call")
	assert.Equal(t, inventory.TaskError, task.State)
	assert.Contains(t, task.Output, "upstream unreachable")
}

func TestSubmitAndPoll(t *testing.T) {
	r, store := testRunner(t)
	ctx := context.Background()
	release := make(chan struct{})
	id, err := r.Submit(ctx, "capsule/mirror1", "capsule-sync", func(context.Context) (Outcome, error) {
		<-release
		return Outcome{}, nil
	})
	require.NoError(t, err)

	active, err := store.ActiveTasks(ctx, "capsule/mirror1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)

	close(release)
	task, err := r.Poll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, task.State)
}

func TestPollRespectsContext(t *testing.T) {
	r, _ := testRunner(t)
	release := make(chan struct{})
	defer close(release)
	id, err := r.Submit(context.Background(), "s", "a", func(context.Context) (Outcome, error) {
		<-release
		return Outcome{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Poll(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerLimit(t *testing.T) {
	r, _ := testRunner(t)
	ctx := context.Background()
	var concurrent, peak atomic.Int32
	var ids []string
	for range 6 {
		id, err := r.Submit(ctx, "s", "a", func(context.Context) (Outcome, error) {
			cur := concurrent.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			concurrent.Add(-1)
			return Outcome{}, nil
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		_, err := r.Poll(ctx, id)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// A task body submitting follow-up work must not deadlock, even with a
// single worker: the follow-up queues and runs once the body's slot frees.
func TestSubmitFromTaskBody(t *testing.T) {
	store, err := inventory.Open(filepath.Join(t.TempDir(), "inventory.db"))
	require.NoError(t, err)
	r := NewRunner(context.Background(), store, 1)
	t.Cleanup(func() {
		_ = r.Close()
		_ = store.Close()
	})
	ctx := context.Background()

	var innerID string
	outer, err := r.Run(ctx, "view/1", "publish", func(context.Context) (Outcome, error) {
		id, err := r.Submit(ctx, "capsule/mirror1", "capsule-sync", func(context.Context) (Outcome, error) {
			return Outcome{Output: "mirrored"}, nil
		})
		if err != nil {
			return Outcome{}, err
		}
		innerID = id
		return Outcome{Output: "published"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, outer.State)

	inner, err := r.Poll(ctx, innerID)
	require.NoError(t, err)
	assert.Equal(t, inventory.TaskSuccess, inner.State)
	assert.Equal(t, "mirrored", inner.Output)
}

func TestClosedRunner(t *testing.T) {
	r, _ := testRunner(t)
	require.NoError(t, r.Close())
	_, err := r.Submit(context.Background(), "s", "a", func(context.Context) (Outcome, error) {
		return Outcome{}, nil
	})
	assert.ErrorIs(t, err, ErrRunnerClosed)
}
