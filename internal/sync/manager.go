package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"github.com/rs/zerolog"
)

// Manager tracks the running per-account supervisors. Accounts run fully
// independently; the manager only provides start/stop bookkeeping and
// process shutdown.
type Manager struct {
	log zerolog.Logger

	mu      stdsync.Mutex
	wg      stdsync.WaitGroup
	runners map[string]context.CancelFunc
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:     log,
		runners: make(map[string]context.CancelFunc),
	}
}

// Start launches a supervisor for the listener. It fails if one is already
// running for the same key.
func (m *Manager) Start(ctx context.Context, listener Listener) error {
	key := listener.Key()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runners[key]; exists {
		return fmt.Errorf("sync already running for %s", key)
	}

	runnerCtx, cancel := context.WithCancel(ctx)
	m.runners[key] = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.log.Info().Str("account", key).Msg("sync start")
		NewSupervisor(listener, m.log).Run(runnerCtx)

		m.mu.Lock()
		delete(m.runners, key)
		m.mu.Unlock()
		m.log.Info().Str("account", key).Msg("sync stop")
	}()

	return nil
}

// Stop cancels one account's supervisor.
func (m *Manager) Stop(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cancel, exists := m.runners[key]
	if !exists {
		return fmt.Errorf("no sync running for %s", key)
	}
	cancel()
	delete(m.runners, key)
	return nil
}

// IsRunning reports whether a supervisor exists for the key.
func (m *Manager) IsRunning(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.runners[key]
	return exists
}

// StopAll cancels every supervisor and waits for them to finish.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for key, cancel := range m.runners {
		m.log.Info().Str("account", key).Msg("stopping sync")
		cancel()
	}
	m.runners = make(map[string]context.CancelFunc)
	m.mu.Unlock()

	m.wg.Wait()
}
