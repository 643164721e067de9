package manager

import (
	"sync"

	"github.com/fleetgraph/fleetgraph/pkg/types"
)

// sortSafeMutex guards concurrent writes into a PartialCompletion or
// a ServerDataTable from the goroutines broadcast launches per
// Worker, keeping the maps race-free without forcing every caller to
// carry its own mutex.
type sortSafeMutex struct {
	mu sync.Mutex
}

func (m *sortSafeMutex) succeed(result *types.PartialCompletion, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result.Succeeded = append(result.Succeeded, id)
}

func (m *sortSafeMutex) fail(result *types.PartialCompletion, id, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result.Failed[id] = reason
}

func (m *sortSafeMutex) setServerData(table types.ServerDataTable, nodeID string, data types.NodeServerData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table[nodeID] = data
}
