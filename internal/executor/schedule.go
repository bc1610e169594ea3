package executor

import "sort"

// Scheduled is a handle to a callback registered via Schedule. Cancel is
// idempotent and safe to call from inside the callback itself.
type Scheduled interface {
	Cancel()
}

// scheduledTask is one entry in the executor's ordered schedule.
//
// time is the logical millis at which the task becomes runnable; the
// schedule fires it on the first tick(t) with t > time (strict,
// per spec.md §9). interval == 0 means one-shot. seq records the order
// in which the task was inserted or reinserted; FIFO order among
// equal-time tasks comes from insert's upper-bound search, which places
// a task after every task already scheduled at the same time, mirroring
// DefaultRaftServiceExecutor's insertion-ordered ScheduledTask list.
type scheduledTask struct {
	time      int64
	interval  int64
	seq       uint64
	callback  func()
	cancelled bool
	owner     *schedule
}

// Cancel marks the task so a pending periodic reschedule is skipped and,
// if the task is still waiting in the schedule (not mid-fire), removes
// it immediately rather than leaving it to rot until due() pops it.
// While the task is being fired out of due()'s returned slice it has
// already left s.tasks, so remove finds nothing and only the cancelled
// flag takes effect.
func (t *scheduledTask) Cancel() {
	t.cancelled = true
	if t.owner != nil {
		t.owner.remove(t)
		t.owner = nil
	}
}

// schedule is the executor's ordered-by-time task list. It is not
// goroutine-safe — ownership belongs to the single service thread that
// also calls Apply/Tick, per spec.md §5.
type schedule struct {
	tasks []*scheduledTask
	seq   uint64
}

// insert performs the binary-search insertion from spec.md §4.1: finds
// the upper bound of entries with time <= t.time and inserts there, so
// ties preserve the relative order in which they were scheduled or
// rescheduled. This is a deliberate generalization of the Java
// reference's single-point insertion — see DESIGN.md.
func (s *schedule) insert(t *scheduledTask) {
	i := sort.Search(len(s.tasks), func(i int) bool {
		return s.tasks[i].time > t.time
	})
	s.tasks = append(s.tasks, nil)
	copy(s.tasks[i+1:], s.tasks[i:])
	s.tasks[i] = t
}

// remove deletes t from the schedule by identity, if still present.
func (s *schedule) remove(t *scheduledTask) {
	for i, candidate := range s.tasks {
		if candidate == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// due pops every task with time < t off the front of the schedule,
// in ascending time order, and returns them.
func (s *schedule) due(t int64) []*scheduledTask {
	i := 0
	for i < len(s.tasks) && s.tasks[i].time < t {
		i++
	}
	if i == 0 {
		return nil
	}
	fired := s.tasks[:i]
	s.tasks = s.tasks[i:]
	return fired
}

func (s *schedule) nextSeq() uint64 {
	s.seq++
	return s.seq
}
