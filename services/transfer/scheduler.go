// Package transfer is the boundary to the download subsystem. The
// pipeline never moves bytes itself: it assigns a download job id,
// presigns the artifact destination, and announces the work on the bus
// for the fetcher fleet to pick up.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"modelscout/pkg/bus"
	gos3 "modelscout/pkg/s3"
)

const downloadsScheduledSubject = "modelscout.downloads.scheduled"

// destinationTTL is how long a presigned upload destination stays valid.
const destinationTTL = 6 * time.Hour

// Scheduler implements importer.DownloadScheduler.
type Scheduler struct {
	s3     *gos3.Client
	bucket string
	bus    *bus.Bus
	log    zerolog.Logger
}

// New builds a Scheduler. Both the S3 client and the bus are optional;
// without them scheduling still assigns ids, it just has nowhere to
// announce the work.
func New(s3c *gos3.Client, bucket string, b *bus.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{s3: s3c, bucket: bucket, bus: b, log: log}
}

// Schedule registers one registry download and returns its download job
// id.
func (s *Scheduler) Schedule(ctx context.Context, jobID, kind, reference, filename string) (string, error) {
	downloadID := uuid.NewString()

	event := map[string]any{
		"download_id": downloadID,
		"job_id":      jobID,
		"kind":        kind,
		"reference":   reference,
		"filename":    filename,
	}

	if s.s3 != nil && s.bucket != "" {
		key := fmt.Sprintf("models/%s/%s", kind, downloadID)
		destination, err := s.s3.PresignPut(ctx, s.bucket, key, destinationTTL)
		if err != nil {
			return "", fmt.Errorf("presign download destination: %w", err)
		}
		event["destination_key"] = key
		event["destination_url"] = destination
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, downloadsScheduledSubject, event); err != nil {
			return "", fmt.Errorf("announce download: %w", err)
		}
	}

	s.log.Info().Str("download_id", downloadID).Str("job_id", jobID).Str("kind", kind).Msg("download scheduled")
	return downloadID, nil
}
