// Package types defines the wire-level domain model shared between the
// orchestrator and the deterministic service executor.
package types

// OperationType distinguishes mutating operations from read-only ones.
// COMMANDs may mutate state and schedule side effects; QUERYs must not
// do either.
type OperationType int

const (
	// Command mutates state and may schedule callbacks or timers.
	Command OperationType = iota
	// Query must not mutate state, schedule callbacks, or enqueue tasks.
	Query
)

func (t OperationType) String() string {
	switch t {
	case Command:
		return "COMMAND"
	case Query:
		return "QUERY"
	default:
		return "UNKNOWN"
	}
}

// OperationID identifies a registered operation and carries its kind.
// Two OperationIDs with the same Name but different Type are distinct
// registrations — the Type travels with the identity, not the commit.
type OperationID struct {
	Name string
	Type OperationType
}

// Commit is a single committed log entry delivered to the executor.
// WallClockMillis is replicated logical time: it must be identical on
// every replica for the same log index, and the executor never
// substitutes a value of its own.
type Commit struct {
	Operation       OperationID
	Payload         []byte
	WallClockMillis int64
}
