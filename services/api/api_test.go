package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"modelscout/services/catalog"
	"modelscout/services/importer"
	"modelscout/services/resolver"
)

func testServer(t *testing.T) (*httptest.Server, *importer.Orchestrator) {
	t.Helper()

	cat := catalog.New()
	h, _ := cat.Handler(catalog.HandlerStableDiffusion)
	h.Add(catalog.Entry{Key: "base.safetensors", Name: "Base", Path: "/models/base.safetensors"})

	tiered := resolver.NewTiered(cat, nil, nil, zerolog.Nop())
	imports, err := importer.New(tiered, importer.Options{
		WatchInterval: 5 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("importer.New() error = %v", err)
	}

	app, err := New(imports, cat, nil, Config{AllowedOrigins: []string{"*"}}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	handler, err := app.Routes()
	if err != nil {
		t.Fatalf("Routes() error = %v", err)
	}

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, imports
}

func doRequest(t *testing.T, srv *httptest.Server, method, path, user, role string, body any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if user != "" {
		req.Header.Set("X-User-Id", user)
	}
	if role != "" {
		req.Header.Set("X-User-Role", role)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func submitJob(t *testing.T, srv *httptest.Server, user string) string {
	t.Helper()

	resp := doRequest(t, srv, http.MethodPost, "/v1/imports", user, "", map[string]any{
		"payload": map[string]any{"sd_model_checkpoint": "base.safetensors"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want 202", resp.StatusCode)
	}

	var snap struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
	}
	decodeBody(t, resp, &snap)
	if snap.JobID == "" {
		t.Fatal("submit response missing job_id")
	}
	return snap.JobID
}

func waitForTerminal(t *testing.T, imports *importer.Orchestrator, user, jobID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := imports.Get(user, false, jobID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if snap.Status.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal status")
}

func TestSubmitAndGetImport(t *testing.T) {
	srv, imports := testServer(t)

	jobID := submitJob(t, srv, "alice")
	waitForTerminal(t, imports, "alice", jobID)

	resp := doRequest(t, srv, http.MethodGet, "/v1/imports/"+jobID, "alice", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	var snap struct {
		Status       string `json:"status"`
		Progress     float64
		Dependencies []struct {
			Reference string `json:"reference"`
			Status    string `json:"status"`
		} `json:"dependencies"`
	}
	decodeBody(t, resp, &snap)
	if snap.Status != "completed" {
		t.Fatalf("status = %q, want completed", snap.Status)
	}
	if len(snap.Dependencies) != 1 || snap.Dependencies[0].Status != "resolved" {
		t.Fatalf("dependencies = %+v", snap.Dependencies)
	}
}

func TestImportAccessControl(t *testing.T) {
	srv, imports := testServer(t)

	jobID := submitJob(t, srv, "alice")
	waitForTerminal(t, imports, "alice", jobID)

	tests := []struct {
		name       string
		user, role string
		path       string
		wantStatus int
	}{
		{"no identity", "", "", "/v1/imports/" + jobID, http.StatusUnauthorized},
		{"stranger", "bob", "", "/v1/imports/" + jobID, http.StatusForbidden},
		{"admin", "bob", "admin", "/v1/imports/" + jobID, http.StatusOK},
		{"owner", "alice", "", "/v1/imports/" + jobID, http.StatusOK},
		{"unknown job", "alice", "", "/v1/imports/does-not-exist", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, srv, http.MethodGet, tt.path, tt.user, tt.role, nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestSubmitRejectsMissingPayload(t *testing.T) {
	srv, _ := testServer(t)

	resp := doRequest(t, srv, http.MethodPost, "/v1/imports", "alice", "", map[string]any{
		"format": "auto",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListImports(t *testing.T) {
	srv, imports := testServer(t)

	jobID := submitJob(t, srv, "alice")
	waitForTerminal(t, imports, "alice", jobID)

	resp := doRequest(t, srv, http.MethodGet, "/v1/imports", "alice", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Jobs []struct {
			JobID string `json:"job_id"`
		} `json:"jobs"`
	}
	decodeBody(t, resp, &body)
	if len(body.Jobs) != 1 || body.Jobs[0].JobID != jobID {
		t.Fatalf("jobs = %+v", body.Jobs)
	}

	resp = doRequest(t, srv, http.MethodGet, "/v1/imports", "bob", "", nil)
	decodeBody(t, resp, &body)
	if len(body.Jobs) != 0 {
		t.Fatalf("bob's jobs = %+v, want none", body.Jobs)
	}
}

func TestCatalogListing(t *testing.T) {
	srv, _ := testServer(t)

	for _, kind := range []string{"checkpoint", catalog.HandlerStableDiffusion} {
		resp := doRequest(t, srv, http.MethodGet, "/v1/catalog/"+kind, "alice", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("catalog %q status = %d, want 200", kind, resp.StatusCode)
		}
		var body struct {
			Catalog string `json:"catalog"`
			Models  []struct {
				Key string `json:"Key"`
			} `json:"models"`
		}
		decodeBody(t, resp, &body)
		if body.Catalog != catalog.HandlerStableDiffusion || len(body.Models) != 1 {
			t.Fatalf("catalog %q body = %+v", kind, body)
		}
	}

	resp := doRequest(t, srv, http.MethodGet, "/v1/catalog/hypernetwork", "alice", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown kind status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp := doRequest(t, srv, http.MethodGet, path, "", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func dialEvents(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/imports/events"
	header := http.Header{}
	header.Set("X-User-Id", user)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestImportEventsStream(t *testing.T) {
	srv, imports := testServer(t)

	jobID := submitJob(t, srv, "alice")
	waitForTerminal(t, imports, "alice", jobID)

	conn := dialEvents(t, srv, "alice")
	if err := conn.WriteJSON(map[string]string{"subscribe_job": jobID}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame struct {
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Error != "" {
		t.Fatalf("error frame: %q", frame.Error)
	}
	if frame.JobID != jobID || frame.Status != "completed" {
		t.Fatalf("frame = %+v", frame)
	}

	// Terminal job: the server closes after the final snapshot.
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal closure, got %v", err)
	}
}

func TestImportEventsUnknownJob(t *testing.T) {
	srv, _ := testServer(t)

	conn := dialEvents(t, srv, "alice")
	if err := conn.WriteJSON(map[string]string{"subscribe_job": "nope"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame struct {
		Error string `json:"error"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Error != "job not found" {
		t.Fatalf("error = %q, want %q", frame.Error, "job not found")
	}
}
