// Package tasks runs sync and publish work asynchronously and records every
// run in the inventory, so callers can poll for completion and inspect the
// humanized result afterwards.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"ironworks.systems/crucible/internal/inventory"
)

var ErrRunnerClosed = errors.New("task runner closed")

// Outcome is what a task body reports on success. Skipped marks work that
// turned out to be unnecessary, e.g. a sync that found no new packages.
type Outcome struct {
	Result  string
	Output  string
	Skipped bool
}

type Runner struct {
	store *inventory.Store
	group *errgroup.Group
	gctx  context.Context
	slots chan struct{}

	mu     sync.Mutex
	closed bool
	done   map[string]chan struct{}
}

// NewRunner builds a runner executing at most workers task bodies at once.
// The bound is a semaphore taken inside each goroutine rather than
// errgroup's SetLimit: a running body may Submit follow-up tasks, and a
// blocking Go would deadlock the group once the limit is saturated.
func NewRunner(ctx context.Context, store *inventory.Store, workers int) *Runner {
	if workers < 1 {
		workers = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	return &Runner{
		store: store,
		group: group,
		gctx:  gctx,
		slots: make(chan struct{}, workers),
		done:  make(map[string]chan struct{}),
	}
}

// Submit queues a task body and returns its id immediately.
func (r *Runner) Submit(ctx context.Context, subject, action string, body func(context.Context) (Outcome, error)) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRunnerClosed
	}
	id := uuid.NewString()
	finished := make(chan struct{})
	r.done[id] = finished
	r.mu.Unlock()

	task := inventory.Task{
		ID:        id,
		Subject:   subject,
		Action:    action,
		State:     inventory.TaskRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := r.store.InsertTask(ctx, task); err != nil {
		r.forget(id)
		return "", fmt.Errorf("error recording task: %w", err)
	}
	r.group.Go(func() error {
		defer close(finished)
		var outcome Outcome
		var err error
		select {
		case r.slots <- struct{}{}:
			outcome, err = body(r.gctx)
			<-r.slots
		case <-r.gctx.Done():
			err = r.gctx.Err()
		}
		task.EndedAt = time.Now().UTC()
		if err != nil {
			task.State = inventory.TaskError
			task.Result = "error"
			task.Output = err.Error()
			log.Warn("task failed", "task", id, "subject", subject, "action", action, "error", err)
		} else {
			task.State = inventory.TaskSuccess
			task.Result = outcome.Result
			if task.Result == "" {
				task.Result = "success"
			}
			task.Output = outcome.Output
			task.Skipped = outcome.Skipped
		}
		if uerr := r.store.UpdateTask(context.WithoutCancel(r.gctx), task); uerr != nil {
			log.Error("unable to record task result", "task", id, "error", uerr)
		}
		// body errors are reported through the task record, not the group
		return nil
	})
	return id, nil
}

// Poll blocks until the task reaches a terminal state.
func (r *Runner) Poll(ctx context.Context, id string) (*inventory.Task, error) {
	r.mu.Lock()
	finished, ok := r.done[id]
	r.mu.Unlock()
	if ok {
		select {
		case <-finished:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.store.GetTask(ctx, id)
}

// Run submits the body and waits for it, returning the finished task.
func (r *Runner) Run(ctx context.Context, subject, action string, body func(context.Context) (Outcome, error)) (*inventory.Task, error) {
	id, err := r.Submit(ctx, subject, action, body)
	if err != nil {
		return nil, err
	}
	return r.Poll(ctx, id)
}

// Close drains in flight tasks. Further submissions fail.
func (r *Runner) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.group.Wait()
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.done, id)
	r.mu.Unlock()
}
