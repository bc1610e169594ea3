package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ChuLiYu/beaver-raft/internal/executor"
	"github.com/ChuLiYu/beaver-raft/pkg/types"
)

// kvMachine is the byte-slice key/value register spec.md's demo
// orchestrator registers operations against. It is test fixture for
// exercising internal/executor and internal/logsegment end to end, not
// a shipped primitive — spec.md's Non-goals exclude general-purpose
// state machine primitives.
type kvMachine struct {
	data map[string][]byte
}

func newKVMachine() *kvMachine {
	return &kvMachine{data: make(map[string][]byte)}
}

// putRequest is the JSON payload a "put" Commit carries.
type putRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

func encodePut(key string, value []byte) ([]byte, error) {
	return json.Marshal(putRequest{Key: key, Value: value})
}

func encodeGet(key string) []byte {
	return []byte(key)
}

var (
	putOperation = types.OperationID{Name: "put", Type: types.Command}
	getOperation = types.OperationID{Name: "get", Type: types.Query}
)

// register binds put/get handlers to exec, logging every applied put
// through a post-op task so the demo command has something to show for
// Executor.Execute beyond the put itself.
func (m *kvMachine) register(exec *executor.Executor, onPut func(key string, value []byte)) error {
	if err := exec.Register(putOperation, func(commit types.Commit) ([]byte, error) {
		var req putRequest
		if err := json.Unmarshal(commit.Payload, &req); err != nil {
			return nil, fmt.Errorf("kvmachine: decode put: %w", err)
		}
		m.data[req.Key] = req.Value
		if onPut != nil {
			key, value := req.Key, req.Value
			if err := exec.Execute(func() { onPut(key, value) }); err != nil {
				return nil, fmt.Errorf("kvmachine: schedule put notification: %w", err)
			}
		}
		return req.Value, nil
	}); err != nil {
		return err
	}

	return exec.Register(getOperation, func(commit types.Commit) ([]byte, error) {
		value, ok := m.data[string(commit.Payload)]
		if !ok {
			return nil, fmt.Errorf("kvmachine: no value for key %q", commit.Payload)
		}
		return value, nil
	})
}

// snapshot returns a deterministic JSON encoding of the machine's
// entire key space, suitable for internal/checkpoint.Snapshot.State.
func (m *kvMachine) snapshot() ([]byte, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]putRequest, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, putRequest{Key: k, Value: m.data[k]})
	}
	return json.Marshal(ordered)
}

// restore replaces the machine's contents with a previously-taken
// snapshot. An empty/nil state leaves the machine empty.
func (m *kvMachine) restore(state []byte) error {
	m.data = make(map[string][]byte)
	if len(state) == 0 {
		return nil
	}
	var entries []putRequest
	if err := json.Unmarshal(state, &entries); err != nil {
		return fmt.Errorf("kvmachine: decode snapshot: %w", err)
	}
	for _, e := range entries {
		m.data[e.Key] = e.Value
	}
	return nil
}
