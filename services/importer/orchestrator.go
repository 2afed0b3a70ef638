package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelscout/services/prompts"
	"modelscout/services/resolver"
)

// Bus subjects carrying job lifecycle events.
const (
	jobsStartedSubject  = "modelscout.jobs.started"
	jobsFinishedSubject = "modelscout.jobs.finished"
)

// DefaultWatchInterval bounds how often watchers poll a job for changes.
const DefaultWatchInterval = 500 * time.Millisecond

var (
	// ErrNotFound reports an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrPermissionDenied reports a read of another user's job without
	// a privileged role.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNoPayload reports a submit without a payload object.
	ErrNoPayload = errors.New("payload is required")
)

// unresolvedMessage lands on records no tier could satisfy.
const unresolvedMessage = "could not resolve dependency from any source"

// KeyLookup supplies the per-user registry API key for a job's owner.
type KeyLookup func(ownerID string) string

// DownloadScheduler hands a registry-resolved dependency to the
// download subsystem and returns the download job id.
type DownloadScheduler interface {
	Schedule(ctx context.Context, jobID, kind, reference, filename string) (string, error)
}

// Publisher emits lifecycle events. *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Options carries the orchestrator's optional collaborators.
type Options struct {
	Keys          KeyLookup
	Downloads     DownloadScheduler
	Events        Publisher
	Archive       *Archive
	WatchInterval time.Duration
	Logger        zerolog.Logger
}

// Orchestrator creates import jobs and drives each one's parse → resolve
// pipeline on its own goroutine. Each job has exactly one writer: the
// goroutine spawned for it at submit time.
type Orchestrator struct {
	store     *Store
	resolver  *resolver.Tiered
	keys      KeyLookup
	downloads DownloadScheduler
	events    Publisher
	archive   *Archive
	watch     time.Duration
	log       zerolog.Logger
}

// New builds an orchestrator around a tiered resolver.
func New(res *resolver.Tiered, opts Options) (*Orchestrator, error) {
	if res == nil {
		return nil, errors.New("resolver is required")
	}
	watch := opts.WatchInterval
	if watch <= 0 {
		watch = DefaultWatchInterval
	}
	return &Orchestrator{
		store:     NewStore(),
		resolver:  res,
		keys:      opts.Keys,
		downloads: opts.Downloads,
		events:    opts.Events,
		archive:   opts.Archive,
		watch:     watch,
		log:       opts.Logger,
	}, nil
}

// Store exposes the job registry for read-side collaborators.
func (o *Orchestrator) Store() *Store { return o.store }

// Submit creates a job for the payload and returns its initial snapshot
// immediately; resolution continues in the background.
func (o *Orchestrator) Submit(ctx context.Context, ownerID string, payload map[string]any, formatHint string) (Snapshot, error) {
	if payload == nil {
		return Snapshot{}, ErrNoPayload
	}
	if formatHint == "" {
		formatHint = prompts.FormatAuto
	}

	job := newJob(uuid.NewString(), ownerID, formatHint, payload)
	o.store.put(job)

	o.publish(ctx, jobsStartedSubject, map[string]any{
		"job_id":   job.ID,
		"owner_id": job.OwnerID,
		"status":   JobAnalyzing,
	})
	o.log.Info().Str("job_id", job.ID).Str("owner", ownerID).Msg("import job created")

	go o.run(job)

	return job.Snapshot(), nil
}

// Get returns a job snapshot, enforcing the owner-or-privileged read
// rule.
func (o *Orchestrator) Get(ownerID string, privileged bool, jobID string) (Snapshot, error) {
	job, ok := o.store.Get(jobID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	if job.OwnerID != ownerID && !privileged {
		return Snapshot{}, ErrPermissionDenied
	}
	return job.Snapshot(), nil
}

// List returns the caller's jobs, or every job for privileged callers.
func (o *Orchestrator) List(ownerID string, privileged bool) []Snapshot {
	return o.store.ByOwner(ownerID, privileged)
}

// run is the single writer for one job: parse, resolve each dependency
// in order, publish progress, settle a terminal status. A panic here
// fails this job only, never the process.
func (o *Orchestrator) run(job *Job) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("import job panicked")
			job.fail(fmt.Sprintf("import failed: %v", r))
			o.finish(ctx, job)
		}
	}()

	deps := prompts.Parse(job.Payload, job.Format)
	records := make([]*DependencyRecord, len(deps))
	for i, dep := range deps {
		records[i] = &DependencyRecord{Dependency: dep, Status: DependencyPending}
	}
	job.beginResolving(records)
	o.log.Info().Str("job_id", job.ID).Int("dependencies", len(records)).Msg("parsed import payload")

	apiKey := ""
	if o.keys != nil {
		apiKey = o.keys(job.OwnerID)
	}

	total := len(records)
	for i, rec := range records {
		// Records touched before (re-submitted snapshots, tests) are
		// final; resolving is not retried.
		if rec.Status == DependencyPending {
			out := o.resolver.Resolve(ctx, apiKey, rec.Dependency)
			o.apply(ctx, job, rec, out)
		}
		job.setProgress(float64(i+1) / float64(total))
	}

	status := job.complete()
	jobsFinished.WithLabelValues(string(status)).Inc()
	o.log.Info().Str("job_id", job.ID).Str("status", string(status)).Int("dependencies", total).Msg("import job finished")
	o.finish(ctx, job)
}

// apply maps a tier outcome onto the record. Scheduling the download
// happens before taking the job lock; no lock is held across I/O.
func (o *Orchestrator) apply(ctx context.Context, job *Job, rec *DependencyRecord, out resolver.Outcome) {
	switch out.State {
	case resolver.Resolved:
		dependenciesResolved.WithLabelValues(out.Source).Inc()
		job.applyOutcome(rec, func(r *DependencyRecord) {
			r.Status = DependencyResolved
			r.ResolvedPath = out.Path
			r.ResolvedSource = out.Source
		})

	case resolver.Scheduled:
		downloadID := ""
		if o.downloads != nil {
			id, err := o.downloads.Schedule(ctx, job.ID, rec.Kind, rec.Reference, out.Filename)
			if err != nil {
				o.log.Warn().Err(err).Str("job_id", job.ID).Str("reference", rec.Reference).Msg("download scheduling failed")
			} else {
				downloadID = id
			}
		}
		dependenciesResolved.WithLabelValues(out.Source).Inc()
		job.applyOutcome(rec, func(r *DependencyRecord) {
			r.Status = DependencyDownloadScheduled
			r.ResolvedSource = out.Source
			r.DownloadJobID = downloadID
			if out.Filename != "" {
				r.Dependency.Filename = out.Filename
			}
		})

	case resolver.Denied:
		dependenciesFailed.Inc()
		job.applyOutcome(rec, func(r *DependencyRecord) {
			r.Status = DependencyFailed
			r.ErrorMessage = out.Reason
		})

	default:
		dependenciesFailed.Inc()
		job.applyOutcome(rec, func(r *DependencyRecord) {
			r.Status = DependencyFailed
			r.ErrorMessage = unresolvedMessage
		})
	}
}

// finish emits the terminal event and archives the job.
func (o *Orchestrator) finish(ctx context.Context, job *Job) {
	snap := job.Snapshot()
	o.publish(ctx, jobsFinishedSubject, map[string]any{
		"job_id":   snap.JobID,
		"owner_id": snap.OwnerID,
		"status":   snap.Status,
		"progress": snap.Progress,
	})
	if o.archive != nil {
		if err := o.archive.Save(ctx, snap, job.Payload); err != nil {
			o.log.Warn().Err(err).Str("job_id", job.ID).Msg("archive write failed")
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, subj string, v any) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, subj, v); err != nil {
		o.log.Warn().Err(err).Str("subject", subj).Msg("event publish failed")
	}
}
