package importer

import (
	"context"
	"time"
)

// Watch subscribes to one job's mutations. The current snapshot is
// delivered immediately, then again whenever last_updated advances,
// polled at the configured interval. After the terminal snapshot the
// channel closes. Watching does not keep a job alive or cancel it; a
// departed watcher leaves resolution running.
func (o *Orchestrator) Watch(ctx context.Context, ownerID string, privileged bool, jobID string) (<-chan Snapshot, error) {
	job, ok := o.store.Get(jobID)
	if !ok {
		return nil, ErrNotFound
	}
	if job.OwnerID != ownerID && !privileged {
		return nil, ErrPermissionDenied
	}

	ch := make(chan Snapshot, 8)
	go func() {
		defer close(ch)

		snap := job.Snapshot()
		if !send(ctx, ch, snap) {
			return
		}
		if snap.Status.Terminal() {
			return
		}
		lastSeen := snap.LastUpdated

		ticker := time.NewTicker(o.watch)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			snap = job.Snapshot()
			if snap.Status.Terminal() {
				// One final snapshot, then the channel closes.
				send(ctx, ch, snap)
				return
			}
			if snap.LastUpdated.After(lastSeen) {
				if !send(ctx, ch, snap) {
					return
				}
				lastSeen = snap.LastUpdated
			}
		}
	}()
	return ch, nil
}

func send(ctx context.Context, ch chan<- Snapshot, snap Snapshot) bool {
	select {
	case ch <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
