// Package importer owns the import-job aggregate: one user-submitted
// prompt payload tracked from parsing through terminal resolution of all
// its model dependencies.
package importer

import (
	"sync"
	"time"

	"modelscout/services/prompts"
)

// JobStatus is the lifecycle state of an import job. Progression is
// strictly forward; terminal states are never left.
type JobStatus string

const (
	JobAnalyzing          JobStatus = "analyzing"
	JobResolving          JobStatus = "resolving"
	JobDownloading        JobStatus = "downloading"
	JobCompleted          JobStatus = "completed"
	JobPartiallyCompleted JobStatus = "partiallycompleted"
	JobFailed             JobStatus = "failed"
)

// Terminal reports whether a job in this status will never change again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobPartiallyCompleted, JobFailed:
		return true
	default:
		return false
	}
}

// DependencyStatus is the resolution state of one dependency record.
type DependencyStatus string

const (
	DependencyPending           DependencyStatus = "pending"
	DependencyResolved          DependencyStatus = "resolved"
	DependencyDownloadScheduled DependencyStatus = "downloadscheduled"
	DependencyDownloading       DependencyStatus = "downloading"
	DependencyFailed            DependencyStatus = "failed"
)

// DependencyRecord wraps one parsed dependency with its mutable
// resolution state. A record belongs to exactly one job and is mutated
// only by that job's background goroutine, under the job's lock.
type DependencyRecord struct {
	prompts.Dependency

	Status         DependencyStatus
	ResolvedPath   string
	ResolvedSource string
	ErrorMessage   string
	DownloadJobID  string
}

// Job is the aggregate root for one import request. All mutable state
// sits behind mu; observers only ever see copies via Snapshot.
type Job struct {
	ID      string
	OwnerID string
	Format  string
	Payload map[string]any

	mu           sync.Mutex
	status       JobStatus
	dependencies []*DependencyRecord
	progress     float64
	errorMessage string
	createdAt    time.Time
	lastUpdated  time.Time
	completedAt  *time.Time
}

func newJob(id, ownerID, format string, payload map[string]any) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          id,
		OwnerID:     ownerID,
		Format:      format,
		Payload:     payload,
		status:      JobAnalyzing,
		createdAt:   now,
		lastUpdated: now,
	}
}

// beginResolving attaches the parsed records and moves the job to
// Resolving.
func (j *Job) beginResolving(records []*DependencyRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.dependencies = records
	j.status = JobResolving
	j.lastUpdated = time.Now().UTC()
}

// setProgress publishes monotone progress after each processed record.
func (j *Job) setProgress(p float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p > j.progress {
		j.progress = p
	}
	j.lastUpdated = time.Now().UTC()
}

// applyOutcome writes resolution results onto one record.
func (j *Job) applyOutcome(rec *DependencyRecord, mutate func(*DependencyRecord)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	mutate(rec)
	j.lastUpdated = time.Now().UTC()
}

// complete computes the terminal status: Completed only when every
// record resolved, any other mix is PartiallyCompleted.
func (j *Job) complete() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	status := JobCompleted
	for _, rec := range j.dependencies {
		if rec.Status != DependencyResolved {
			status = JobPartiallyCompleted
			break
		}
	}

	now := time.Now().UTC()
	j.status = status
	j.progress = 1.0
	j.completedAt = &now
	j.lastUpdated = now
	return status
}

// fail marks the job Failed with an orchestration error. Terminal jobs
// are left untouched.
func (j *Job) fail(message string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	now := time.Now().UTC()
	j.status = JobFailed
	j.errorMessage = message
	j.completedAt = &now
	j.lastUpdated = now
}

// Status returns the current job status.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot returns a consistent copy of the job for observers. The wire
// shape (lowercase statuses, ISO-8601 timestamps, omitted empties) is
// fixed by the snapshot's JSON tags.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := Snapshot{
		JobID:        j.ID,
		OwnerID:      j.OwnerID,
		Format:       j.Format,
		Status:       j.status,
		Progress:     j.progress,
		ErrorMessage: j.errorMessage,
		CreatedAt:    j.createdAt,
		LastUpdated:  j.lastUpdated,
	}
	if j.completedAt != nil {
		t := *j.completedAt
		snap.CompletedAt = &t
	}
	for _, rec := range j.dependencies {
		snap.Dependencies = append(snap.Dependencies, DependencySnapshot{
			Type:             rec.Kind,
			Reference:        rec.Reference,
			Status:           rec.Status,
			SHA256:           rec.SHA256,
			CivitaiVersionID: rec.RegistryVersionID,
			Filename:         rec.Filename,
			ResolvedPath:     rec.ResolvedPath,
			ResolvedSource:   rec.ResolvedSource,
			ErrorMessage:     rec.ErrorMessage,
			DownloadJobID:    rec.DownloadJobID,
		})
	}
	return snap
}

// Snapshot is the observer-facing copy of a job.
type Snapshot struct {
	JobID        string               `json:"job_id"`
	OwnerID      string               `json:"-"`
	Format       string               `json:"-"`
	Status       JobStatus            `json:"status"`
	Progress     float64              `json:"progress"`
	CreatedAt    time.Time            `json:"created_at"`
	LastUpdated  time.Time            `json:"last_updated"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	Dependencies []DependencySnapshot `json:"dependencies,omitempty"`
}

// DependencySnapshot is the wire form of one dependency record.
type DependencySnapshot struct {
	Type             string           `json:"type"`
	Reference        string           `json:"reference"`
	Status           DependencyStatus `json:"status"`
	SHA256           string           `json:"sha256,omitempty"`
	CivitaiVersionID string           `json:"civitai_version_id,omitempty"`
	Filename         string           `json:"filename,omitempty"`
	ResolvedPath     string           `json:"resolved_path,omitempty"`
	ResolvedSource   string           `json:"resolved_source,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	DownloadJobID    string           `json:"download_job_id,omitempty"`
}
