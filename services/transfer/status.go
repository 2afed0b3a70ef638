package transfer

import (
	"context"
	"encoding/json"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"modelscout/pkg/bus"
)

const downloadsStatusSubject = "modelscout.downloads.status"

var downloadsReported = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "modelscout_downloads_reported_total",
	Help: "Download status reports received from the fetcher fleet.",
}, []string{"status"})

// StatusReport is one progress notice from a fetcher working a
// scheduled download.
type StatusReport struct {
	DownloadID string `json:"download_id"`
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// ListenStatus consumes fetcher progress reports off the bus and feeds
// them to metrics and the log. The fetchers run out of process; this is
// the control plane's only view of byte movement.
func ListenStatus(ctx context.Context, b *bus.Bus, log zerolog.Logger) (io.Closer, error) {
	return b.Subscribe(ctx, downloadsStatusSubject, "modelscout-downloads-status", func(_ context.Context, data []byte) error {
		var report StatusReport
		if err := json.Unmarshal(data, &report); err != nil {
			log.Warn().Err(err).Msg("malformed download status report")
			return nil
		}

		downloadsReported.WithLabelValues(report.Status).Inc()
		evt := log.Info()
		if report.Error != "" {
			evt = log.Warn().Str("error", report.Error)
		}
		evt.Str("download_id", report.DownloadID).Str("job_id", report.JobID).Str("status", report.Status).Msg("download status")
		return nil
	})
}
