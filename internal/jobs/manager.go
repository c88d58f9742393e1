package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"kneeseg-worker/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when cancel is requested for idle state.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single allowed active job, its progress snapshot, and
// its one-shot terminal transition.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
	active  bool
}

// NewManager creates a manager with no active job.
func NewManager() *Manager {
	return &Manager{}
}

// Start registers a new job in queued state.
func (m *Manager) Start(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active && !m.current.Status.IsTerminal() {
		return ErrJobAlreadyRunning
	}

	job.Status = domain.JobStatusQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	m.current = job
	m.active = true
	return nil
}

// MarkRunning transitions the current job from queued to running.
func (m *Manager) MarkRunning() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return ErrNoRunningJob
	}
	if m.current.Status != domain.JobStatusQueued {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, domain.JobStatusRunning)
	}
	m.current.Status = domain.JobStatusRunning
	m.current.StartedAt = time.Now().UTC()
	return nil
}

// UpdateProgress records the latest progress snapshot for the current job.
// Regressions are ignored so the published history stays non-decreasing.
func (m *Manager) UpdateProgress(step, totalSteps int, stepName string, percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active || m.current.Status.IsTerminal() {
		return
	}
	if step < m.current.CurrentStep || percent < m.current.Percent {
		return
	}
	m.current.CurrentStep = step
	m.current.TotalSteps = totalSteps
	m.current.StepName = stepName
	m.current.Percent = percent
}

// SetConfigPath records the generated run configuration location.
func (m *Manager) SetConfigPath(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		m.current.ConfigPath = path
	}
}

// Complete sets the terminal complete state exactly once.
func (m *Manager) Complete(resultPath string) error {
	return m.terminate(func(job *domain.Job) {
		job.Status = domain.JobStatusComplete
		job.ResultPath = resultPath
		job.Percent = 100
		job.CurrentStep = job.TotalSteps
	})
}

// Fail sets the terminal error state exactly once.
func (m *Manager) Fail(code, userMessage, recoveryHint string) error {
	return m.terminate(func(job *domain.Job) {
		job.Status = domain.JobStatusError
		job.ErrorCode = code
		job.ErrorMessage = userMessage
		job.RecoveryHint = recoveryHint
	})
}

// Cancelled sets the terminal cancelled state exactly once.
func (m *Manager) Cancelled() error {
	return m.terminate(func(job *domain.Job) {
		job.Status = domain.JobStatusCancelled
	})
}

// terminate applies one terminal mutation; a second terminal transition is
// rejected so an already-recorded outcome can never change.
func (m *Manager) terminate(apply func(*domain.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return ErrNoRunningJob
	}
	if m.current.Status.IsTerminal() {
		return fmt.Errorf("job %s already terminal in state %s", m.current.ID, m.current.Status)
	}

	apply(&m.current)
	m.current.EndedAt = time.Now().UTC()
	return nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsRunning reports whether a job is active and not yet terminal.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active && !m.current.Status.IsTerminal()
}
