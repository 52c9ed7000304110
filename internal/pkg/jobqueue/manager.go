package jobqueue

import (
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/llmready/llmready/internal/pkg/env"
)

// Manager owns the two job queues. Generation work and maintenance work are
// dispatched from separate queues with separate worker pools so a burst of
// maintenance jobs cannot starve user-facing generations.
type Manager struct {
	generation  *Queue
	maintenance *Queue
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(
			env.GetEnvInt("GENERATION_WORKERS", 3),
			env.GetEnvInt("MAINTENANCE_WORKERS", 1),
		)
	})
	return globalManager
}

// NewManager creates a manager with explicit worker counts.
func NewManager(generationWorkers, maintenanceWorkers int) *Manager {
	return &Manager{
		generation:  NewQueue(QueueGeneration, generationWorkers),
		maintenance: NewQueue(QueueMaintenance, maintenanceWorkers),
	}
}

// GenerationQueue returns the interactive queue.
func (m *Manager) GenerationQueue() *Queue {
	return m.generation
}

// MaintenanceQueue returns the low-priority queue.
func (m *Manager) MaintenanceQueue() *Queue {
	return m.maintenance
}

// Start starts both queues.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	log.Info("[JobQueue Manager] Starting queues")
	m.generation.Start()
	m.maintenance.Start()
	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops both queues and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false

	log.Info("[JobQueue Manager] Stopping queues...")
	m.generation.Stop()
	m.maintenance.Stop()
	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
