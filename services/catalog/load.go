package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"modelscout/pkg/db"
)

type catalogRow struct {
	Catalog string `db:"catalog"`
	Key     string `db:"key"`
	Name    string `db:"name"`
	Path    string `db:"path"`
	SHA256  string `db:"sha256"`
}

// Load builds a Catalog from the catalog_models table. Row order (by id)
// becomes handler insertion order, so matching stays deterministic
// across restarts.
func Load(ctx context.Context, pool *pgxpool.Pool) (*Catalog, error) {
	var rows []catalogRow
	err := db.Select(ctx, pool, &rows, `
        SELECT catalog, key, name, path, sha256
        FROM catalog_models
        ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	c := New()
	for _, row := range rows {
		h, ok := c.Handler(row.Catalog)
		if !ok {
			// Rows for retired catalogs are skipped, not fatal.
			continue
		}
		h.Add(Entry{Key: row.Key, Name: row.Name, Path: row.Path, SHA256: row.SHA256})
	}
	return c, nil
}
