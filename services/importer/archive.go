package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Archive persists terminal jobs to Postgres. The live registry stays
// in memory; archive rows are write-only from this side and exist for
// audit and post-hoc inspection.
type Archive struct {
	orm *gorm.DB
	enc *zstd.Encoder
}

// NewArchive builds an Archive over a gorm connection.
func NewArchive(orm *gorm.DB) (*Archive, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	return &Archive{orm: orm, enc: enc}, nil
}

type importJobRow struct {
	ID           uuid.UUID
	OwnerID      string
	Status       string
	Format       string
	Progress     float64
	Payload      []byte
	Dependencies datatypes.JSON
	ErrorMessage string
	Meta         datatypes.JSONMap
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

func (importJobRow) TableName() string { return "import_jobs" }

// Save writes one terminal job. The original payload is stored
// zstd-compressed; dependency records go in as queryable JSON.
func (a *Archive) Save(ctx context.Context, snap Snapshot, payload map[string]any) error {
	id, err := uuid.Parse(snap.JobID)
	if err != nil {
		return fmt.Errorf("parse job id: %w", err)
	}

	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	deps, err := json.Marshal(snap.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}

	resolved := 0
	for _, dep := range snap.Dependencies {
		if dep.Status == DependencyResolved {
			resolved++
		}
	}

	row := importJobRow{
		ID:           id,
		OwnerID:      snap.OwnerID,
		Status:       string(snap.Status),
		Format:       snap.Format,
		Progress:     snap.Progress,
		Payload:      a.enc.EncodeAll(rawPayload, nil),
		Dependencies: datatypes.JSON(deps),
		ErrorMessage: snap.ErrorMessage,
		Meta: datatypes.JSONMap{
			"dependency_count": len(snap.Dependencies),
			"resolved_count":   resolved,
		},
		CreatedAt:   snap.CreatedAt,
		CompletedAt: snap.CompletedAt,
	}

	return a.orm.WithContext(ctx).Create(&row).Error
}
