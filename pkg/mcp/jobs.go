package mcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"jw-notices/pkg/crawler"
)

// ErrJobActive is returned by CreateJob when the portal already has a pending or running job
var ErrJobActive = errors.New("a sync job is already active for this portal")

// JobStatus represents the current state of a sync job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background sync of one portal
type Job struct {
	ID             string    `json:"id"`
	Portal         string    `json:"portal"`
	Since          string    `json:"since,omitempty"`
	SkipDetails    bool      `json:"skip_details"`
	Status         JobStatus `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at,omitempty"`
	RunID          string    `json:"run_id,omitempty"`
	NoticesListed  int       `json:"notices_listed"`
	NewNotices     int       `json:"new_notices"`
	DetailsFetched int       `json:"details_fetched"`
	DetailFailures int       `json:"detail_failures"`
	Cursor         string    `json:"cursor,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager tracks sync jobs. At most one job per portal is active, since each
// holds the portal's state database open.
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	byPortal map[string]string // portal -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:     make(map[string]*Job),
		byPortal: make(map[string]string),
	}
}

// CreateJob registers a pending sync of portal. If one is already active, that job is
// returned together with ErrJobActive and nothing new is registered.
func (m *JobManager) CreateJob(portal, since string, skipDetails bool) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.byPortal[portal]; ok {
		if existing := m.jobs[existingID]; existing != nil && existing.Status.active() {
			return existing.snapshot(), ErrJobActive
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:          uuid.New().String(),
		Portal:      portal,
		Since:       since,
		SkipDetails: skipDetails,
		Status:      JobStatusPending,
		StartedAt:   time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	m.jobs[job.ID] = job
	m.byPortal[portal] = job.ID
	return job.snapshot(), nil
}

// snapshot copies the exported fields so callers can read them without the lock
func (j *Job) snapshot() *Job {
	cp := *j
	cp.ctx, cp.cancel = nil, nil
	return &cp
}

// GetJob returns a copy of the job, or nil
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.snapshot()
	}
	return nil
}

// GetActiveJob returns a copy of the active job for portal, or nil
func (m *JobManager) GetActiveJob(portal string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, ok := m.byPortal[portal]; ok {
		if job := m.jobs[jobID]; job != nil {
			return job.snapshot()
		}
	}
	return nil
}

// IsRunning reports whether portal has an active job
func (m *JobManager) IsRunning(portal string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, ok := m.byPortal[portal]; ok {
		job := m.jobs[jobID]
		return job != nil && job.Status.active()
	}
	return false
}

// UpdateStatus updates the status of a job. Terminal states free the portal for a new job.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return
	}
	job.Status = status
	if !status.active() {
		job.CompletedAt = time.Now()
		m.release(job)
		job.cancel()
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// RecordResult copies the counters of a sync result onto the job
func (m *JobManager) RecordResult(jobID string, result *crawler.SyncResult) {
	if result == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		job.RunID = result.RunID
		job.NoticesListed = result.NoticesListed
		job.NewNotices = result.NewNotices
		job.DetailsFetched = result.DetailsFetched
		job.DetailFailures = result.DetailFailures
		job.Cursor = result.Cursor
		if job.Since == "" {
			job.Since = result.Since
		}
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || !job.Status.active() {
		return false
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.CompletedAt = time.Now()
	m.release(job)
	return true
}

// release frees job's portal unless a newer job already holds it. Callers hold mu.
func (m *JobManager) release(job *Job) {
	if m.byPortal[job.Portal] == job.ID {
		delete(m.byPortal, job.Portal)
	}
}

// CancelAll cancels every active job
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.byPortal = make(map[string]string)
}

// ListJobs returns copies of all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// GetContext returns the context a job's sync runs under
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, ok := m.jobs[jobID]; ok {
		return job.ctx
	}
	return context.Background()
}
