package tasks

import (
	"context"

	"github.com/unidrive/core/pkg/errors"
	"github.com/unidrive/core/pkg/types"
)

// Control is handed to a Runner so it can report progress and cooperate
// with pause/cancel requests at safe checkpoints: a runner must poll for
// pause between units of work.
type Control struct {
	manager *Manager
	entry   *taskEntry
}

// Progress records how much work is done, replacing the total whenever
// totalBytes is non-nil, and publishes an Event.
func (c *Control) Progress(doneBytes uint64, totalBytes *uint64) {
	c.entry.mu.Lock()
	c.entry.task.Progress.DoneBytes = doneBytes
	if totalBytes != nil {
		c.entry.task.Progress.TotalBytes = totalBytes
	}
	c.entry.mu.Unlock()
	c.manager.emit(c.entry)
}

// RecordPartial stamps the task's PartialResults with the refs of children
// that finished before the runner returns (success, failure, or
// cancellation), so a caller can tell what already landed.
func (c *Control) RecordPartial(refs []string) {
	c.entry.mu.Lock()
	c.entry.task.PartialResults = append([]string(nil), refs...)
	c.entry.mu.Unlock()
}

// CheckPaused blocks while the task is paused, returning ctx.Err() if the
// task is cancelled (or ctx otherwise done) while waiting, and nil once
// running again or if the task was never paused. Runners should call this
// between chunks of work, never mid-write to a driver.
func (c *Control) CheckPaused(ctx context.Context) error {
	c.entry.mu.Lock()
	ch := c.entry.resumeCh
	c.entry.mu.Unlock()
	if ch == nil {
		return ctx.Err()
	}
	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause transitions a running, pausable task to Paused. It is a no-op error
// for a task that is not currently running or does not declare itself
// pausable.
func (m *Manager) Pause(id string) error {
	entry, ok := m.lookup(id)
	if !ok {
		return errors.New(errors.NotFound, "task not found").WithComponent("tasks").WithOperation("pause")
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.task.Pausable {
		return errors.New(errors.Unsupported, "task does not support pausing").WithComponent("tasks").WithOperation("pause")
	}
	if entry.task.State != types.TaskRunning {
		return errors.New(errors.Permanent, "task is not running").WithComponent("tasks").WithOperation("pause")
	}

	entry.task.State = types.TaskPaused
	entry.resumeCh = make(chan struct{})
	m.emit(entry)
	return nil
}

// Resume transitions a Paused task back to Running.
func (m *Manager) Resume(id string) error {
	entry, ok := m.lookup(id)
	if !ok {
		return errors.New(errors.NotFound, "task not found").WithComponent("tasks").WithOperation("resume")
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.task.State != types.TaskPaused {
		return errors.New(errors.Permanent, "task is not paused").WithComponent("tasks").WithOperation("resume")
	}

	entry.task.State = types.TaskRunning
	if entry.resumeCh != nil {
		close(entry.resumeCh)
		entry.resumeCh = nil
	}
	m.emit(entry)
	return nil
}

// Cancel requests cancellation of a cancellable, non-terminal task. If the
// task is currently paused, it is woken so its runner observes ctx.Done()
// promptly instead of blocking forever on CheckPaused.
func (m *Manager) Cancel(id string) error {
	entry, ok := m.lookup(id)
	if !ok {
		return errors.New(errors.NotFound, "task not found").WithComponent("tasks").WithOperation("cancel")
	}

	entry.mu.Lock()
	if entry.task.State.Terminal() {
		entry.mu.Unlock()
		return errors.New(errors.Permanent, "task already finished").WithComponent("tasks").WithOperation("cancel")
	}
	if !entry.task.Cancellable {
		entry.mu.Unlock()
		return errors.New(errors.Unsupported, "task does not support cancellation").WithComponent("tasks").WithOperation("cancel")
	}
	wasPending := entry.task.State == types.TaskPending
	// Cancel before waking a paused runner, so CheckPaused sees ctx.Err().
	entry.cancel()
	if entry.resumeCh != nil {
		close(entry.resumeCh)
		entry.resumeCh = nil
	}
	if wasPending {
		entry.task.State = types.TaskCancelled
	}
	entry.mu.Unlock()

	m.emit(entry)
	return nil
}

func (m *Manager) lookup(id string) (*taskEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.tasks[id]
	return entry, ok
}
