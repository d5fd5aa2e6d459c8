// Package worker contains the background processes that run alongside the
// request path, with an explicit start/stop lifecycle owned by main.
package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Manager owns the lifecycle of registered workers
type Manager struct {
	workers []Worker
	logger  *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
}

// NewManager creates a new worker manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Register adds a worker to be managed
func (m *Manager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
	m.logger.Info("Worker registered", zap.String("worker_name", w.Name()))
}

// StartAll starts all registered workers
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isRunning {
		return fmt.Errorf("workers already running")
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.isRunning = true

	for _, w := range m.workers {
		if err := w.Start(ctx); err != nil {
			m.logger.Error("Failed to start worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			continue
		}
		m.logger.Info("Worker started", zap.String("worker_name", w.Name()))
	}
	return nil
}

// StopAll gracefully stops all workers, letting in-flight work finish
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isRunning {
		return nil
	}
	m.isRunning = false
	if m.cancel != nil {
		m.cancel()
	}

	var failed int
	for _, w := range m.workers {
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			failed++
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", w.Name()))
	}
	if failed > 0 {
		return fmt.Errorf("failed to stop %d workers", failed)
	}
	return nil
}
