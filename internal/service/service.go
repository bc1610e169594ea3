// Package service is the orchestrator that binds one Executor to one
// LogSegment and runs them on a single dedicated goroutine, the
// "service thread" the executor package's doc comment assumes exists.
// It adapts the teacher's worker.Pool lifecycle (Start/Submit/Stop,
// guarded by a mutex and a stop channel) down to exactly one worker,
// since spec.md §5 calls for single-threaded-cooperative concurrency
// rather than a fan-out pool: every Commit and every Tick must observe
// and mutate executor state in the order they were submitted.
//
// Submit appends the commit's payload to the log segment first and
// applies it to the executor only once the append has succeeded,
// mirroring spec.md §2's data flow: orchestrator -> LogSegment.append
// (write side), then orchestrator -> Executor.apply (read/apply side).
// This package is also where Apply's wall-clock duration is measured:
// the executor itself may never read a clock, but nothing stops its
// caller from timing the call from outside.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/beaver-raft/internal/executor"
	"github.com/ChuLiYu/beaver-raft/internal/logsegment"
	"github.com/ChuLiYu/beaver-raft/pkg/types"
)

// ErrNotStarted is returned by Submit or Tick when called before Start.
var ErrNotStarted = errors.New("service: not started")

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("service: already started")

// ErrStopped is returned by Submit once Stop has been called.
var ErrStopped = errors.New("service: stopped")

// DurationRecorder receives Apply's wall-clock duration, measured here
// rather than inside the executor. internal/metrics.Collector
// implements this via its ObserveApplyDuration method.
type DurationRecorder interface {
	ObserveApplyDuration(durationSeconds float64)
}

type noopDurationRecorder struct{}

func (noopDurationRecorder) ObserveApplyDuration(float64) {}

// request is one queued unit of work for the service thread: a commit
// to append-and-apply, a read-only query to apply without appending,
// or a tick to advance logical time. Exactly one field is set.
type request struct {
	commit     *types.Commit
	query      *types.Commit
	tickMillis *int64
	responseCh chan response
}

type response struct {
	index  uint64
	result []byte
	err    error
}

// Service owns a LogSegment (durable log of committed payloads) and an
// Executor (the deterministic state machine driver), and serializes
// every operation against both through a single goroutine.
type Service struct {
	logger   *slog.Logger
	segment  *logsegment.LogSegment
	exec     *executor.Executor
	duration DurationRecorder

	requestCh chan request
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures a Service at construction time.
type Option func(*Service)

// WithLogger overrides the service's logger. Defaults to slog.Default()
// tagged with component=service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDurationRecorder attaches a DurationRecorder for Apply timing.
// Defaults to a no-op recorder.
func WithDurationRecorder(recorder DurationRecorder) Option {
	return func(s *Service) { s.duration = recorder }
}

// New binds a Service to an already-constructed Executor and
// LogSegment. Neither needs to be open/started yet; Start opens the
// segment if it is not already open.
func New(segment *logsegment.LogSegment, exec *executor.Executor, opts ...Option) *Service {
	s := &Service{
		logger:    slog.Default().With("component", "service"),
		segment:   segment,
		exec:      exec,
		duration:  noopDurationRecorder{},
		requestCh: make(chan request, 64),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the log segment if needed and launches the service
// thread. Fails if already started.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.segment.Open(); err != nil && !errors.Is(err, logsegment.ErrAlreadyOpen) {
		return fmt.Errorf("service: open segment: %w", err)
	}

	s.started = true
	s.wg.Add(1)
	go s.run()
	s.logger.Info("service started")
	return nil
}

// run is the service thread: it owns the executor and log segment
// exclusively for as long as it runs, so every request it pulls off
// requestCh is handled to completion before the next is considered.
func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.requestCh:
			s.handle(req)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) handle(req request) {
	switch {
	case req.commit != nil:
		req.responseCh <- s.applyCommit(*req.commit)
	case req.query != nil:
		req.responseCh <- s.applyQuery(*req.query)
	case req.tickMillis != nil:
		s.exec.Tick(*req.tickMillis)
		req.responseCh <- response{}
	}
}

func (s *Service) applyCommit(commit types.Commit) response {
	index, err := s.segment.Append(commit.Payload)
	if err != nil {
		return response{err: fmt.Errorf("service: append: %w", err)}
	}

	started := time.Now()
	result, err := s.exec.Apply(commit)
	s.duration.ObserveApplyDuration(time.Since(started).Seconds())
	return response{index: index, result: result, err: err}
}

// applyQuery runs a read-only operation through the executor without
// appending anything to the log segment, since spec.md's data flow
// only durably records mutating commits.
func (s *Service) applyQuery(query types.Commit) response {
	result, err := s.exec.Apply(query)
	return response{result: result, err: err}
}

// Submit enqueues commit for append-then-apply on the service thread
// and blocks until it has been handled or ctx is cancelled. The
// returned index is the log index the commit's payload was appended
// at, independent of whether the handler itself returned an error.
func (s *Service) Submit(ctx context.Context, commit types.Commit) (index uint64, result []byte, err error) {
	if err := s.requireRunning(); err != nil {
		return 0, nil, err
	}

	responseCh := make(chan response, 1)
	req := request{commit: &commit, responseCh: responseCh}

	select {
	case s.requestCh <- req:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-s.stopCh:
		return 0, nil, ErrStopped
	}

	select {
	case resp := <-responseCh:
		return resp.index, resp.result, resp.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// Query runs a read-only operation through the executor on the
// service thread, without appending anything to the log segment, and
// blocks until it has been handled or ctx is cancelled.
func (s *Service) Query(ctx context.Context, query types.Commit) (result []byte, err error) {
	if err := s.requireRunning(); err != nil {
		return nil, err
	}

	responseCh := make(chan response, 1)
	req := request{query: &query, responseCh: responseCh}

	select {
	case s.requestCh <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.stopCh:
		return nil, ErrStopped
	}

	select {
	case resp := <-responseCh:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Tick drives the executor's logical clock forward on the service
// thread and blocks until the tick has fully fired due tasks.
func (s *Service) Tick(ctx context.Context, wallClockMillis int64) error {
	if err := s.requireRunning(); err != nil {
		return err
	}

	responseCh := make(chan response, 1)
	req := request{tickMillis: &wallClockMillis, responseCh: responseCh}

	select {
	case s.requestCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return ErrStopped
	}

	select {
	case <-responseCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) requireRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	if s.stopped {
		return ErrStopped
	}
	return nil
}

// Stop signals the service thread to exit, waits for it to drain, and
// closes the log segment. Safe to call once; a second call is a no-op.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	if err := s.segment.Close(); err != nil {
		return fmt.Errorf("service: close segment: %w", err)
	}
	s.logger.Info("service stopped")
	return nil
}
