// Package store defines the run history persistence boundary. History is an
// audit trail: a pipeline never reads a stored run back as input.
package store

import (
	"errors"

	"github.com/jxucoder/promptopt/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStore persists runs and their progress events.
type RunStore interface {
	CreateRun(run *model.Run) error
	GetRun(id string) (*model.Run, error)
	// ListRuns returns runs newest first. limit <= 0 returns all runs.
	ListRuns(limit int) ([]*model.Run, error)
	UpdateRun(run *model.Run) error

	// AddEvent stores an event and sets its ID.
	AddEvent(event *model.Event) error
	// GetEvents returns a run's events with ID greater than afterID, oldest first.
	GetEvents(runID string, afterID int64) ([]*model.Event, error)

	Close() error
}
