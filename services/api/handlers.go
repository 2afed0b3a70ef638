package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"modelscout/services/importer"
)

func (a *API) handleSubmitImport(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req struct {
		Payload map[string]any `json:"payload"`
		Format  string         `json:"format"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	snap, err := a.imports.Submit(ctx, ident.UserID, req.Payload, req.Format)
	if err != nil {
		if errors.Is(err, importer.ErrNoPayload) {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.log.Info().
		Str("job_id", snap.JobID).
		Str("user_id", ident.UserID).
		Msg("import job accepted")

	respondJSON(w, http.StatusAccepted, snap)
}

func (a *API) handleListImports(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	jobs := a.imports.List(ident.UserID, ident.Privileged)
	respondJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (a *API) handleGetImport(w http.ResponseWriter, r *http.Request) {
	ident, err := identityFrom(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	snap, err := a.imports.Get(ident.UserID, ident.Privileged, jobID)
	if err != nil {
		switch {
		case errors.Is(err, importer.ErrNotFound):
			respondError(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		case errors.Is(err, importer.ErrPermissionDenied):
			respondError(w, http.StatusForbidden, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

func (a *API) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	if _, err := identityFrom(r); err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	kind := strings.TrimSpace(chi.URLParam(r, "kind"))
	handler, ok := a.catalog.ForKind(kind)
	if !ok {
		handler, ok = a.catalog.Handler(kind)
	}
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("unknown model kind %q", kind))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"catalog": handler.Name(),
		"models":  handler.Entries(),
	})
}
