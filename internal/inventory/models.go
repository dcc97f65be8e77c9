// Package inventory persists the content lifecycle entities: organizations,
// products, repositories and their unit sets, lifecycle environments, content
// views and published versions, capsules and tasks. Backed by SQLite so a
// single binary carries its whole inventory.
package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrInUse        = errors.New("still in use")
	ErrNotComposite = errors.New("content view is not composite")
	ErrComposite    = errors.New("content view is composite")
)

type RepoType string

const (
	RepoYum       RepoType = "yum"
	RepoContainer RepoType = "container"
	RepoFile      RepoType = "file"
)

type DownloadPolicy string

const (
	PolicyImmediate DownloadPolicy = "immediate"
	PolicyOnDemand  DownloadPolicy = "on_demand"
)

const LibraryEnvironment = "Library"

type Organization struct {
	ID        int64
	Label     string
	CreatedAt time.Time
}

type Product struct {
	ID    int64
	OrgID int64
	Label string
}

type Repository struct {
	ID             int64
	ProductID      int64
	Label          string
	Type           RepoType
	URL            string
	DownloadPolicy DownloadPolicy
	// UpstreamName is the repository path on the remote registry, container
	// repositories only.
	UpstreamName string
	Revision     string
	LastSync     time.Time
}

type Environment struct {
	ID      int64
	OrgID   int64
	Label   string
	PriorID int64 // zero for Library
}

type ContentView struct {
	ID        int64
	OrgID     int64
	Label     string
	Composite bool
}

type Version struct {
	ID        int64
	ViewID    int64
	Major     int
	Minor     int
	CreatedAt time.Time
}

// Name renders the user visible version, e.g. "1.0" or "1.1" after an
// incremental update.
func (v Version) Name() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

type Capsule struct {
	ID       int64
	Name     string
	Root     string
	LastSync time.Time
}

type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskSuccess TaskState = "success"
	TaskError   TaskState = "error"
)

func (s TaskState) Terminal() bool {
	return s == TaskSuccess || s == TaskError
}

type Task struct {
	ID      string
	Subject string
	Action  string
	State   TaskState
	Result  string
	// Output is the humanized summary, e.g. "No new packages." when a sync
	// found nothing to do.
	Output    string
	Skipped   bool
	StartedAt time.Time
	EndedAt   time.Time
}
