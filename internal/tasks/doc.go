// Package tasks implements the Task Manager: pause/resume/cancel-capable
// background jobs with a global concurrency cap
// and a per-driver sub-cap, publishing state and progress as a stream of
// Events for whatever notification surface consumes them.
package tasks
