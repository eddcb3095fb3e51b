package infra

import (
	"os"
	"sync"

	"github.com/eliteGoblin/pklkb/internal/domain"
)

// mockProcessManager is a test double for domain.ProcessManager.
type mockProcessManager struct {
	mu            sync.Mutex
	runningPIDs   map[int]bool
	terminated    []int
	terminateNoop bool
	currentPID    int
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		runningPIDs: make(map[int]bool),
		currentPID:  os.Getpid(),
	}
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningPIDs[pid]
}

// Terminate records the call and, unless terminateNoop is set, makes the
// process exit immediately.
func (m *mockProcessManager) Terminate(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminated = append(m.terminated, pid)
	if !m.terminateNoop {
		m.runningPIDs[pid] = false
	}
	return nil
}

func (m *mockProcessManager) Info(pid int) (*domain.ProcessInfo, error) {
	return &domain.ProcessInfo{PID: pid, Name: "pklkb"}, nil
}

func (m *mockProcessManager) CurrentPID() int {
	return m.currentPID
}

func (m *mockProcessManager) SetRunning(pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runningPIDs[pid] = running
}

func (m *mockProcessManager) TerminatedPIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.terminated...)
}

var _ domain.ProcessManager = (*mockProcessManager)(nil)
