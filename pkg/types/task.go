package types

import (
	"time"

	"github.com/unidrive/core/pkg/errors"
)

// TaskKind enumerates the long-running operations the Task Manager governs.
type TaskKind string

const (
	TaskUpload       TaskKind = "upload"
	TaskCopy         TaskKind = "copy"
	TaskMove         TaskKind = "move"
	TaskBatchDelete  TaskKind = "batch_delete"
	TaskArchiveExtract TaskKind = "archive_extract"
)

// TaskState is the task lifecycle state machine:
//
//	Pending -> Running -> (Paused <-> Running)* -> (Succeeded | Failed | Cancelled)
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskPaused    TaskState = "paused"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether s is one of the task state machine's terminal
// states.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Progress is a task's byte-level progress snapshot. TotalBytes is nil
// until the operation has sized its work.
type Progress struct {
	DoneBytes  uint64
	TotalBytes *uint64
}

// Task is the engine-managed long-running operation snapshot. It is the
// value the Task Manager hands to status queries and
// the notification collaborator; mutation happens only through the owning
// Manager, never directly on a copy handed to a caller.
type Task struct {
	ID          string
	Kind        TaskKind
	State       TaskState
	Progress    Progress
	Created     time.Time
	Started     *time.Time
	Finished    *time.Time
	LastError   *errors.DriverError
	SourceRef   string
	DestRef     string
	OwnerUserID string
	Pausable    bool
	Cancellable bool
	ChildTaskIDs []string

	// PartialResults holds the destination refs of children that finished
	// before the task failed or was cancelled (directory copy/move/delete),
	// so a caller can tell what already landed without re-doing it blind.
	PartialResults []string
}

// Event is a record in the stream of state/progress snapshots consumed by
// the notification collaborator. BytesTotal is nil until the task has
// sized its work.
type Event struct {
	TaskID     string    `json:"task_id"`
	State      TaskState `json:"state"`
	BytesDone  uint64    `json:"bytes_done"`
	BytesTotal *uint64   `json:"bytes_total,omitempty"`
	Error      string    `json:"error,omitempty"`
}
