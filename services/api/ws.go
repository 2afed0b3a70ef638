package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"modelscout/services/importer"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 4096
)

// handleImportEvents upgrades the connection to a WebSocket and streams
// job status snapshots. The client's first frame selects the job:
//
//	{"subscribe_job": "<job_id>"}
//
// One snapshot is sent immediately, then one per observed change until
// the job reaches a terminal status.
func (a *API) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	var sub struct {
		SubscribeJob string `json:"subscribe_job"`
	}
	if err := conn.ReadJSON(&sub); err != nil {
		writeErrorFrame(conn, "invalid subscribe frame")
		return
	}
	jobID := strings.TrimSpace(sub.SubscribeJob)
	if jobID == "" {
		writeErrorFrame(conn, "subscribe_job is required")
		return
	}

	updates, err := a.imports.Watch(r.Context(), ident.UserID, ident.Privileged, jobID)
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrNotFound):
			writeErrorFrame(conn, "job not found")
		case errors.Is(err, importer.ErrPermissionDenied):
			writeErrorFrame(conn, "permission denied")
		default:
			writeErrorFrame(conn, "subscription failed")
		}
		return
	}

	for snap := range updates {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			a.log.Debug().Err(err).Str("job_id", jobID).Msg("websocket write failed")
			return
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
		time.Now().Add(wsWriteTimeout),
	)
}

func writeErrorFrame(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(map[string]string{"error": message})
}
