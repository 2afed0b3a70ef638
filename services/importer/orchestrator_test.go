package importer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelscout/services/catalog"
	"modelscout/services/prompts"
	"modelscout/services/resolver"
)

// schedulingRegistry schedules downloads for references it knows and
// misses everything else.
type schedulingRegistry struct {
	known map[string]string
}

func (s *schedulingRegistry) Resolve(_ context.Context, apiKey string, dep prompts.Dependency) (resolver.Outcome, error) {
	if apiKey == "" {
		return resolver.None(), nil
	}
	if name, ok := s.known[dep.Reference]; ok {
		return resolver.ScheduledFrom(resolver.SourceRegistry, name), nil
	}
	return resolver.None(), nil
}

type fakeDownloads struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeDownloads) Schedule(_ context.Context, jobID, kind, reference, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, reference)
	return "dl-1", nil
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakePublisher) Publish(_ context.Context, subj string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subj)
	return nil
}

func (f *fakePublisher) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func testOrchestrator(t *testing.T, registry resolver.Registry, opts Options) *Orchestrator {
	t.Helper()

	cat := catalog.New()
	h, _ := cat.Handler(catalog.HandlerStableDiffusion)
	h.Add(catalog.Entry{
		Key:  "base.safetensors",
		Name: "Base",
		Path: "/models/Stable-Diffusion/base.safetensors",
	})

	if opts.Keys == nil {
		opts.Keys = func(string) string { return "test-key" }
	}
	if opts.WatchInterval == 0 {
		opts.WatchInterval = 5 * time.Millisecond
	}
	opts.Logger = zerolog.Nop()

	o, err := New(resolver.NewTiered(cat, nil, registry, zerolog.Nop()), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

// waitTerminal drains the watch stream and returns the final snapshot.
func waitTerminal(t *testing.T, o *Orchestrator, ownerID, jobID string) Snapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := o.Watch(ctx, ownerID, false, jobID)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	var last Snapshot
	for snap := range updates {
		last = snap
	}
	if !last.Status.Terminal() {
		t.Fatalf("watch stream ended on non-terminal status %q", last.Status)
	}
	return last
}

func TestSubmitMixedOutcomes(t *testing.T) {
	registry := &schedulingRegistry{known: map[string]string{"wanted": "Wanted v2"}}
	downloads := &fakeDownloads{}
	events := &fakePublisher{}
	o := testOrchestrator(t, registry, Options{Downloads: downloads, Events: events})

	payload := map[string]any{
		"sd_model_checkpoint": "base.safetensors",
		"prompt":              "castle <lora:wanted> <lora:ghost>",
	}

	snap, err := o.Submit(context.Background(), "alice", payload, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if snap.JobID == "" {
		t.Fatal("Submit() returned empty job id")
	}

	final := waitTerminal(t, o, "alice", snap.JobID)

	if final.Status != JobPartiallyCompleted {
		t.Fatalf("Status = %q, want %q", final.Status, JobPartiallyCompleted)
	}
	if final.Progress != 1.0 {
		t.Fatalf("Progress = %v, want 1.0", final.Progress)
	}
	if final.CompletedAt == nil {
		t.Fatal("CompletedAt not set on terminal snapshot")
	}
	if len(final.Dependencies) != 3 {
		t.Fatalf("got %d dependencies %+v, want 3", len(final.Dependencies), final.Dependencies)
	}

	byRef := map[string]DependencySnapshot{}
	for _, dep := range final.Dependencies {
		byRef[dep.Reference] = dep
	}

	local := byRef["base.safetensors"]
	if local.Status != DependencyResolved || local.ResolvedSource != resolver.SourceLocal {
		t.Fatalf("local dep = %+v", local)
	}
	if local.ResolvedPath != "/models/Stable-Diffusion/base.safetensors" {
		t.Fatalf("local dep path = %q", local.ResolvedPath)
	}

	scheduled := byRef["wanted"]
	if scheduled.Status != DependencyDownloadScheduled {
		t.Fatalf("registry dep = %+v", scheduled)
	}
	if scheduled.DownloadJobID != "dl-1" {
		t.Fatalf("DownloadJobID = %q", scheduled.DownloadJobID)
	}
	if scheduled.Filename != "Wanted v2" {
		t.Fatalf("Filename = %q, want registry display name", scheduled.Filename)
	}

	failed := byRef["ghost"]
	if failed.Status != DependencyFailed {
		t.Fatalf("unresolved dep = %+v", failed)
	}
	if failed.ErrorMessage != unresolvedMessage {
		t.Fatalf("ErrorMessage = %q", failed.ErrorMessage)
	}

	if len(downloads.calls) != 1 || downloads.calls[0] != "wanted" {
		t.Fatalf("download scheduler calls = %v", downloads.calls)
	}

	subjects := events.seen()
	if len(subjects) != 2 || subjects[0] != jobsStartedSubject || subjects[1] != jobsFinishedSubject {
		t.Fatalf("published subjects = %v", subjects)
	}
}

func TestSubmitAllResolvedCompletes(t *testing.T) {
	o := testOrchestrator(t, nil, Options{})

	payload := map[string]any{"sd_model_checkpoint": "base.safetensors"}

	snap, err := o.Submit(context.Background(), "alice", payload, prompts.FormatFlatSettings)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitTerminal(t, o, "alice", snap.JobID)
	if final.Status != JobCompleted {
		t.Fatalf("Status = %q, want %q", final.Status, JobCompleted)
	}
}

func TestSubmitEmptyPayloadStillCompletes(t *testing.T) {
	// A payload with no extractable dependencies is not an error: the job
	// completes with zero records.
	o := testOrchestrator(t, nil, Options{})

	snap, err := o.Submit(context.Background(), "alice", map[string]any{"prompt": "plain"}, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	final := waitTerminal(t, o, "alice", snap.JobID)
	if final.Status != JobCompleted || len(final.Dependencies) != 0 {
		t.Fatalf("final = %+v", final)
	}
}

func TestSubmitNilPayload(t *testing.T) {
	o := testOrchestrator(t, nil, Options{})

	if _, err := o.Submit(context.Background(), "alice", nil, ""); !errors.Is(err, ErrNoPayload) {
		t.Fatalf("Submit(nil) error = %v, want ErrNoPayload", err)
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	o := testOrchestrator(t, nil, Options{})

	snap, err := o.Submit(context.Background(), "alice", map[string]any{"sd_model_checkpoint": "base.safetensors"}, "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitTerminal(t, o, "alice", snap.JobID)

	if _, err := o.Get("alice", false, snap.JobID); err != nil {
		t.Fatalf("owner Get() error = %v", err)
	}
	if _, err := o.Get("bob", false, snap.JobID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("stranger Get() error = %v, want ErrPermissionDenied", err)
	}
	if _, err := o.Get("bob", true, snap.JobID); err != nil {
		t.Fatalf("privileged Get() error = %v", err)
	}
	if _, err := o.Get("alice", false, "no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing Get() error = %v, want ErrNotFound", err)
	}
}

func TestListScopesByOwner(t *testing.T) {
	o := testOrchestrator(t, nil, Options{})
	payload := map[string]any{"sd_model_checkpoint": "base.safetensors"}

	a, _ := o.Submit(context.Background(), "alice", payload, "")
	b, _ := o.Submit(context.Background(), "bob", payload, "")
	waitTerminal(t, o, "alice", a.JobID)
	waitTerminal(t, o, "bob", b.JobID)

	if jobs := o.List("alice", false); len(jobs) != 1 || jobs[0].JobID != a.JobID {
		t.Fatalf("alice List() = %+v", jobs)
	}
	if jobs := o.List("carol", true); len(jobs) != 2 {
		t.Fatalf("privileged List() = %+v", jobs)
	}
	if jobs := o.List("carol", false); len(jobs) != 0 {
		t.Fatalf("stranger List() = %+v", jobs)
	}
}

func TestWatchPermissions(t *testing.T) {
	o := testOrchestrator(t, nil, Options{})

	snap, _ := o.Submit(context.Background(), "alice", map[string]any{"sd_model_checkpoint": "base.safetensors"}, "")
	waitTerminal(t, o, "alice", snap.JobID)

	if _, err := o.Watch(context.Background(), "bob", false, snap.JobID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Watch() error = %v, want ErrPermissionDenied", err)
	}
	if _, err := o.Watch(context.Background(), "alice", false, "no-such-job"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Watch() error = %v, want ErrNotFound", err)
	}
}

func TestWatchTerminalJobClosesAfterOneSnapshot(t *testing.T) {
	o := testOrchestrator(t, nil, Options{})

	snap, _ := o.Submit(context.Background(), "alice", map[string]any{"sd_model_checkpoint": "base.safetensors"}, "")
	waitTerminal(t, o, "alice", snap.JobID)

	updates, err := o.Watch(context.Background(), "alice", false, snap.JobID)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	var got []Snapshot
	for s := range updates {
		got = append(got, s)
	}
	if len(got) != 1 || !got[0].Status.Terminal() {
		t.Fatalf("terminal watch = %+v, want exactly one terminal snapshot", got)
	}
}

func TestDownloadSchedulingFailureLeavesRecordScheduled(t *testing.T) {
	registry := &schedulingRegistry{known: map[string]string{"wanted": "Wanted v2"}}
	downloads := &fakeDownloads{err: errors.New("bus down")}
	o := testOrchestrator(t, registry, Options{Downloads: downloads})

	payload := map[string]any{
		"sd_model_checkpoint": "base.safetensors",
		"prompt":              "<lora:wanted>",
	}
	snap, _ := o.Submit(context.Background(), "alice", payload, "")
	final := waitTerminal(t, o, "alice", snap.JobID)

	for _, dep := range final.Dependencies {
		if dep.Reference != "wanted" {
			continue
		}
		if dep.Status != DependencyDownloadScheduled {
			t.Fatalf("dep = %+v, want downloadscheduled", dep)
		}
		if dep.DownloadJobID != "" {
			t.Fatalf("DownloadJobID = %q, want empty after scheduling failure", dep.DownloadJobID)
		}
		return
	}
	t.Fatalf("wanted dependency missing from %+v", final.Dependencies)
}
