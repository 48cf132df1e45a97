package api

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"wikiseek/internal/models"
	"wikiseek/internal/search"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"
	JobStatusFailed     = "failed"
)

// maxFinishedJobs bounds how many completed or failed jobs are kept for polling.
const maxFinishedJobs = 64

// ImageJob tracks an image search that runs after the upload request returns.
type ImageJob struct {
	ID        string          `json:"jobId"`
	Status    string          `json:"status"`
	Filename  string          `json:"filename,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Outcome   *search.Outcome `json:"outcome,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type JobManager struct {
	mu       sync.RWMutex
	jobs     map[string]*ImageJob
	finished []string
	now      func() time.Time
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*ImageJob),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (m *JobManager) CreateJob(filename string) *ImageJob {
	now := m.now()
	job := &ImageJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Filename:  filename,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.clone()
}

func (m *JobManager) GetJob(id string) (*ImageJob, bool) {
	m.mu.RLock()
	job, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *ImageJob) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) MarkCompleted(id string, outcome search.Outcome) {
	m.withJob(id, func(job *ImageJob) {
		job.Status = JobStatusComplete
		job.Outcome = &outcome
		job.Error = ""
	})
	m.retire(id)
}

func (m *JobManager) MarkFailed(id string, msg string) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "image search failed"
	}
	m.withJob(id, func(job *ImageJob) {
		job.Status = JobStatusFailed
		job.Error = msg
	})
	m.retire(id)
}

func (m *JobManager) withJob(id string, fn func(job *ImageJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
}

// retire queues a finished job and forgets the oldest ones past the bound.
func (m *JobManager) retire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return
	}
	m.finished = append(m.finished, id)
	for len(m.finished) > maxFinishedJobs {
		delete(m.jobs, m.finished[0])
		m.finished = m.finished[1:]
	}
}

func (job *ImageJob) clone() *ImageJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	if job.Outcome != nil {
		out := *job.Outcome
		if out.View.Result != nil {
			res := *out.View.Result
			out.View.Result = &res
		}
		if out.Label != nil {
			label := *out.Label
			out.Label = &label
		}
		out.History = append([]models.HistoryEntry(nil), out.History...)
		copyJob.Outcome = &out
	}
	return &copyJob
}
