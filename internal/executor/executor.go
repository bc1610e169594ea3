// Package executor implements the deterministic service executor: the
// per-service driver that applies committed operations to a user state
// machine, tracks deterministic logical time, and fires scheduled
// timer callbacks whose order is reproducible across replicas.
//
// An Executor is not safe for concurrent use. Every call — Register,
// Apply, Execute, Schedule, Tick — must come from the same goroutine,
// the "service thread" that the orchestrator dedicates to this
// service. This mirrors DefaultRaftServiceExecutor, which assumes a
// single-threaded Raft state machine thread and does no locking of its
// own.
package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/beaver-raft/pkg/types"
)

// Handler applies a committed operation's payload and returns the
// result bytes to propagate back to the caller.
type Handler func(types.Commit) ([]byte, error)

// MetricsRecorder receives observations about Apply/Tick outcomes. The
// internal/metrics Collector implements this without the executor
// package needing to import Prometheus itself. Apply's wall-clock
// duration is deliberately not reported here: the executor never reads
// a clock (spec.md §9), so timing is the orchestrator's job.
type MetricsRecorder interface {
	RecordApplyOutcome(failed bool)
	RecordTickFired(fired int)
	RecordPostOpTaskPanic()
}

type noopMetrics struct{}

func (noopMetrics) RecordApplyOutcome(bool) {}
func (noopMetrics) RecordTickFired(int)     {}
func (noopMetrics) RecordPostOpTaskPanic()  {}

// Executor dispatches committed operations to registered handlers,
// drains post-op tasks after every apply, and fires due scheduled
// tasks on tick. See package doc and spec.md §4.1 for the full
// contract.
type Executor struct {
	logger *slog.Logger

	operations map[types.OperationID]Handler

	// inOperation and operationType/timestamp are only meaningful
	// while a call to Apply or Tick is on the stack; spec.md §3 calls
	// this "non-null only while inside apply or tick".
	inOperation   bool
	operationType types.OperationType
	timestamp     int64

	postOpTasks []func()
	schedule    schedule

	metrics MetricsRecorder
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithLogger overrides the executor's logger. Defaults to slog.Default()
// tagged with component=executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithMetrics attaches a MetricsRecorder; Apply/Tick outcomes are
// reported to it. Defaults to a no-op recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(e *Executor) { e.metrics = recorder }
}

// New creates an Executor with no registered operations.
func New(opts ...Option) *Executor {
	e := &Executor{
		operations: make(map[types.OperationID]Handler),
		logger:     slog.Default().With("component", "executor"),
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds a handler to an operation identity. Registering the
// same OperationID twice replaces the previous handler. Fails if op.Name
// is empty or handler is nil.
func (e *Executor) Register(op types.OperationID, handler Handler) error {
	if op.Name == "" {
		return errEmptyOperationName
	}
	if handler == nil {
		return errNilHandler
	}
	e.operations[op] = handler
	e.logger.Debug("registered operation", "operation", op.Name, "type", op.Type)
	return nil
}

// Apply dispatches commit to its registered handler under a context
// that exposes commit.Operation.Type and commit.WallClockMillis as the
// current operation type and logical timestamp, then unconditionally
// drains any post-op tasks the handler queued — even if the handler
// returned an error or panicked — before returning.
func (e *Executor) Apply(commit types.Commit) (result []byte, err error) {
	e.operationType = commit.Operation.Type
	e.timestamp = commit.WallClockMillis
	e.inOperation = true

	handler, ok := e.operations[commit.Operation]
	if !ok {
		e.inOperation = false
		return nil, &UnknownOperationError{Operation: commit.Operation}
	}

	defer func() {
		e.drainPostOpTasks()
		e.inOperation = false
		if r := recover(); r != nil {
			e.logger.Warn("state machine operation panicked", "operation", commit.Operation.Name, "recover", r)
			err = &ApplicationError{Operation: commit.Operation, Cause: panicError{r}}
		}
		e.metrics.RecordApplyOutcome(err != nil)
	}()

	out, herr := handler(commit)
	if herr != nil {
		e.logger.Warn("state machine operation failed", "operation", commit.Operation.Name, "error", herr)
		return nil, &ApplicationError{Operation: commit.Operation, Cause: herr}
	}
	return out, nil
}

// Tick advances the executor's view of logical time, firing every
// scheduled task with task.time < t in ascending time order (FIFO among
// ties), reinserting periodic tasks at their original firing time plus
// their interval. Never fails: a tick with nothing due is a no-op.
func (e *Executor) Tick(wallClockMillis int64) {
	actuallyFired := 0
	// Fire one time slot at a time, so a periodic task reinserted at
	// firingTime+interval fires again within this same Tick while that
	// time is still below wallClockMillis, after every earlier task.
	for len(e.schedule.tasks) > 0 && e.schedule.tasks[0].time < wallClockMillis {
		fired := e.schedule.due(e.schedule.tasks[0].time + 1)
		for _, task := range fired {
			if task.cancelled {
				continue
			}
			actuallyFired++

			firingTime := task.time
			e.operationType = types.Command
			e.timestamp = firingTime
			e.inOperation = true
			e.runScheduled(task)
			e.inOperation = false

			if task.interval > 0 && !task.cancelled {
				task.time = firingTime + task.interval
				task.seq = e.schedule.nextSeq()
				e.schedule.insert(task)
			}
		}
	}
	e.metrics.RecordTickFired(actuallyFired)
}

func (e *Executor) runScheduled(task *scheduledTask) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("scheduled task panicked", "recover", r)
		}
	}()
	task.callback()
}

// Execute queues a zero-argument callback to run once, immediately
// after the current COMMAND's handler returns, in FIFO order with any
// other queued post-op tasks. Fails outside a COMMAND.
func (e *Executor) Execute(task func()) error {
	if !e.currentlyInCommand() {
		return &IllegalContextError{Method: "Execute"}
	}
	e.postOpTasks = append(e.postOpTasks, task)
	return nil
}

// Schedule registers a one-shot callback to fire at the first Tick
// observing a time strictly greater than the current logical time plus
// delay. Fails outside a COMMAND.
func (e *Executor) Schedule(delay time.Duration, callback func()) (Scheduled, error) {
	return e.scheduleAt(delay, 0, callback)
}

// ScheduleRepeating registers a periodic callback: it first fires at
// timestamp+initialDelay, then reschedules at firingTime+interval after
// every firing (firingTime is the task's own scheduled time, not the
// tick() argument, so drift never compounds beyond the original
// cadence). Fails outside a COMMAND.
func (e *Executor) ScheduleRepeating(initialDelay, interval time.Duration, callback func()) (Scheduled, error) {
	return e.scheduleAt(initialDelay, interval, callback)
}

func (e *Executor) scheduleAt(delay, interval time.Duration, callback func()) (Scheduled, error) {
	if !e.currentlyInCommand() {
		return nil, &IllegalContextError{Method: "Schedule"}
	}
	task := &scheduledTask{
		time:     e.timestamp + delay.Milliseconds(),
		interval: interval.Milliseconds(),
		callback: callback,
		seq:      e.schedule.nextSeq(),
		owner:    &e.schedule,
	}
	e.schedule.insert(task)
	return task, nil
}

func (e *Executor) currentlyInCommand() bool {
	return e.inOperation && e.operationType == types.Command
}

// drainPostOpTasks runs every queued post-op task in FIFO order,
// clearing the queue first so tasks that themselves call Execute
// during a later apply don't resurrect this drain. Task errors are
// logged and swallowed; one failing task never prevents the rest from
// running.
func (e *Executor) drainPostOpTasks() {
	if len(e.postOpTasks) == 0 {
		return
	}
	tasks := e.postOpTasks
	e.postOpTasks = nil
	for _, task := range tasks {
		e.runPostOpTask(task)
	}
}

func (e *Executor) runPostOpTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("post-op task panicked", "recover", r)
			e.metrics.RecordPostOpTaskPanic()
		}
	}()
	task()
}

// panicError adapts a recover() value into an error for ApplicationError.Cause.
type panicError struct {
	value any
}

func (p panicError) Error() string {
	if err, ok := p.value.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("panic: %v", p.value)
}
