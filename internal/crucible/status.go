package crucible

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ironworks.systems/crucible/internal/inventory"
)

// CapsuleStatus is what `capsule status` reports: attachment, last sync
// and whether a sync is running right now.
type CapsuleStatus struct {
	Name         string
	Environments []string
	LastSync     time.Time
	LastResult   string
	Active       bool
}

func (s CapsuleStatus) String() string {
	var result string
	result += fmt.Sprintf("Capsule: %v\n", s.Name)
	result += fmt.Sprintf("Environments: %v\n", s.Environments)
	if s.LastSync.IsZero() {
		result += "Last Sync: never\n"
	} else {
		result += fmt.Sprintf("Last Sync: %v\n", s.LastSync.Format(time.RFC3339))
	}
	if s.LastResult != "" {
		result += fmt.Sprintf("Last Result: %v\n", s.LastResult)
	}
	result += fmt.Sprintf("Sync Active: %v\n", s.Active)
	return result
}

func (c *Crucible) GetCapsuleStatus(ctx context.Context, name string) (*CapsuleStatus, error) {
	caps, err := c.Store.GetCapsule(ctx, name)
	if err != nil {
		return nil, err
	}
	envs, err := c.Store.CapsuleEnvironments(ctx, caps.ID)
	if err != nil {
		return nil, err
	}
	status := &CapsuleStatus{
		Name:     caps.Name,
		LastSync: caps.LastSync,
	}
	for _, env := range envs {
		org, err := c.Store.GetOrganizationByID(ctx, env.OrgID)
		if err != nil {
			return nil, err
		}
		status.Environments = append(status.Environments, fmt.Sprintf("%v/%v", org.Label, env.Label))
	}
	active, err := c.Store.ActiveTasks(ctx, caps.Name)
	if err != nil {
		return nil, err
	}
	status.Active = len(active) > 0
	last, err := c.Store.LastTask(ctx, caps.Name)
	if err != nil && !errors.Is(err, inventory.ErrNotFound) {
		return nil, err
	}
	if last != nil && last.State.Terminal() {
		status.LastResult = last.Output
		if last.State == inventory.TaskError {
			status.LastResult = last.Result
		}
	}
	return status, nil
}
