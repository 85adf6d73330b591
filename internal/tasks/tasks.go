// Package tasks is the Task Manager: it runs long-lived operations
// (uploads, copies, moves, batch deletes, archive extraction) as
// cancellable, pausable background jobs with bounded concurrency — both a
// global cap and a per-driver sub-cap, so one slow backend can't starve the
// others — and publishes progress as a stream of Events for the
// notification collaborator.
//
// Grounded on an earlier internal/batch.Processor: the semaphore-bounded
// goroutine-per-job dispatch and the stats-tracking shape carry over
// directly, generalized from fire-and-forget S3 batch calls to a task
// state machine (Pending -> Running -> (Paused <-> Running)* -> terminal).
package tasks

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

// Runner is the work function a submitted task executes. It must honor
// ctx cancellation and call Control.CheckPaused at safe checkpoints (e.g.
// between chunks) so a paused task actually stops doing I/O.
type Runner func(ctx context.Context, ctl *Control) error

type taskEntry struct {
	mu       sync.Mutex
	task     types.Task
	cancel   context.CancelFunc
	resumeCh chan struct{} // non-nil while paused; closing it resumes
	driverID string
	done     chan struct{} // closed once, after the task reaches a terminal state
}

// Manager is the Task Manager: it owns every task's lifecycle and the
// worker concurrency caps.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*taskEntry

	globalSem chan struct{}

	driverCap  int
	driverSems map[string]chan struct{}

	events    chan types.Event
	retention time.Duration
}

// New creates a Manager. maxConcurrentTasks bounds total in-flight tasks
// process-wide; perDriverConcurrency additionally bounds how many of those
// may be running against the same driver mount at once. retention is how
// long a terminal task stays queryable before the manager may drop it.
func New(maxConcurrentTasks, perDriverConcurrency int, retention time.Duration) *Manager {
	if maxConcurrentTasks <= 0 {
		maxConcurrentTasks = 4
	}
	if perDriverConcurrency <= 0 {
		perDriverConcurrency = 2
	}
	return &Manager{
		tasks:      make(map[string]*taskEntry),
		globalSem:  make(chan struct{}, maxConcurrentTasks),
		driverCap:  perDriverConcurrency,
		driverSems: make(map[string]chan struct{}),
		events:     make(chan types.Event, 256),
		retention:  retention,
	}
}

// Events returns the stream of task lifecycle/progress events. Readers must
// keep up; the channel is buffered but not unbounded.
func (m *Manager) Events() <-chan types.Event {
	return m.events
}

// Submit registers a new task and schedules it to run once a worker slot is
// free on both the global and (if driverID is non-empty) per-driver
// semaphores. It returns immediately with the task in TaskPending state.
func (m *Manager) Submit(kind types.TaskKind, driverID, sourceRef, destRef, ownerUserID string, pausable, cancellable bool, run Runner) *types.Task {
	now := time.Now().UTC()
	task := types.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		State:       types.TaskPending,
		Created:     now,
		SourceRef:   sourceRef,
		DestRef:     destRef,
		OwnerUserID: ownerUserID,
		Pausable:    pausable,
		Cancellable: cancellable,
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &taskEntry{task: task, cancel: cancel, driverID: driverID, done: make(chan struct{})}

	m.mu.Lock()
	m.tasks[task.ID] = entry
	m.mu.Unlock()

	m.emit(entry)

	go m.run(ctx, entry, run)

	out := task
	return &out
}

func (m *Manager) driverSem(driverID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.driverSems[driverID]
	if !ok {
		sem = make(chan struct{}, m.driverCap)
		m.driverSems[driverID] = sem
	}
	return sem
}

func (m *Manager) run(ctx context.Context, entry *taskEntry, run Runner) {
	m.globalSem <- struct{}{}
	defer func() { <-m.globalSem }()

	var sem chan struct{}
	if entry.driverID != "" {
		sem = m.driverSem(entry.driverID)
		sem <- struct{}{}
		defer func() { <-sem }()
	}

	entry.mu.Lock()
	if entry.task.State == types.TaskCancelled {
		entry.mu.Unlock()
		return
	}
	entry.task.State = types.TaskRunning
	startedAt := time.Now().UTC()
	entry.task.Started = &startedAt
	entry.mu.Unlock()
	m.emit(entry)

	ctl := &Control{manager: m, entry: entry}
	err := run(ctx, ctl)

	entry.mu.Lock()
	finishedAt := time.Now().UTC()
	entry.task.Finished = &finishedAt
	switch {
	case ctx.Err() != nil && entry.task.State != types.TaskFailed:
		entry.task.State = types.TaskCancelled
	case err != nil:
		entry.task.State = types.TaskFailed
		if de, ok := asDriverError(err); ok {
			entry.task.LastError = de
		} else {
			entry.task.LastError = errors.Wrap(errors.Permanent, err, "task runner failed")
		}
	default:
		entry.task.State = types.TaskSucceeded
	}
	entry.mu.Unlock()
	m.emit(entry)
	close(entry.done)
}

// Wait blocks until the task reaches a terminal state (or ctx is done) and
// returns its final snapshot. Submit itself never blocks; Wait is how a
// synchronous caller (e.g. the FUSE adapter) gets blocking completion
// semantics back from a Task-returning operation without stopping a
// concurrent caller from Pause-ing or Cancel-ing the same task by ID.
func (m *Manager) Wait(ctx context.Context, id string) (types.Task, error) {
	m.mu.Lock()
	entry, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return types.Task{}, errors.New(errors.NotFound, "task not found").WithComponent("tasks").WithOperation("wait")
	}

	select {
	case <-entry.done:
	case <-ctx.Done():
		return types.Task{}, ctx.Err()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.task, nil
}

// Outcome converts a finished task's terminal state into an error, or nil on
// success, so a caller that just wants pass/fail doesn't have to switch on
// State itself.
func Outcome(t types.Task) error {
	switch t.State {
	case types.TaskSucceeded:
		return nil
	case types.TaskCancelled:
		return errors.New(errors.Cancelled, "task was cancelled").WithComponent("tasks")
	default:
		if t.LastError != nil {
			return t.LastError
		}
		return errors.New(errors.Permanent, "task did not succeed").WithComponent("tasks")
	}
}

// Get returns a snapshot of a task's current state.
func (m *Manager) Get(id string) (types.Task, bool) {
	m.mu.Lock()
	entry, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return types.Task{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.task, true
}

// List returns a snapshot of every task currently known to the manager.
func (m *Manager) List() []types.Task {
	m.mu.Lock()
	entries := make([]*taskEntry, 0, len(m.tasks))
	for _, e := range m.tasks {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]types.Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.task)
		e.mu.Unlock()
	}
	return out
}

// Sweep removes terminal tasks older than the configured retention window.
// Call periodically; it is not run on a background timer by the Manager
// itself.
func (m *Manager) Sweep() {
	if m.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-m.retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.tasks {
		e.mu.Lock()
		done := e.task.State.Terminal() && e.task.Finished != nil && e.task.Finished.Before(cutoff)
		e.mu.Unlock()
		if done {
			delete(m.tasks, id)
		}
	}
}

func (m *Manager) emit(entry *taskEntry) {
	entry.mu.Lock()
	evt := types.Event{
		TaskID:     entry.task.ID,
		State:      entry.task.State,
		BytesDone:  entry.task.Progress.DoneBytes,
		BytesTotal: entry.task.Progress.TotalBytes,
	}
	if entry.task.LastError != nil {
		evt.Error = entry.task.LastError.Error()
	}
	entry.mu.Unlock()

	select {
	case m.events <- evt:
	default:
		// A slow consumer must not block task execution; dropping a
		// progress event is acceptable, state transitions are still
		// observable via Get/List.
	}
}

func asDriverError(err error) (*errors.DriverError, bool) {
	var de *errors.DriverError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}
