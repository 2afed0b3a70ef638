// Package api exposes the HTTP and WebSocket surface of the modelscout
// control plane: prompt import submission, job inspection, live status
// streaming, and catalog browsing.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"modelscout/services/catalog"
	"modelscout/services/importer"
)

const roleAdmin = "admin"

// API wires the import orchestrator, model catalog, and configuration
// for HTTP handlers.
type API struct {
	imports  *importer.Orchestrator
	catalog  *catalog.Catalog
	db       *pgxpool.Pool
	config   Config
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New initialises the API layer. The database pool is optional and only
// gates the readiness probe.
func New(imports *importer.Orchestrator, cat *catalog.Catalog, pool *pgxpool.Pool, cfg Config, log zerolog.Logger) (*API, error) {
	if imports == nil {
		return nil, errors.New("import orchestrator is required")
	}
	if cat == nil {
		return nil, errors.New("catalog is required")
	}

	return &API{
		imports: imports,
		catalog: cat,
		db:      pool,
		config:  cfg,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}, nil
}

func originChecker(allowed []string) func(*http.Request) bool {
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, candidate := range allowed {
			if strings.EqualFold(candidate, origin) {
				return true
			}
		}
		return false
	}
}

// identity is the caller as asserted by the fronting proxy.
type identity struct {
	UserID     string
	Privileged bool
}

func identityFrom(r *http.Request) (identity, error) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		return identity{}, errors.New("X-User-Id header is required")
	}
	role := strings.TrimSpace(r.Header.Get("X-User-Role"))
	return identity{
		UserID:     userID,
		Privileged: strings.EqualFold(role, roleAdmin),
	}, nil
}
