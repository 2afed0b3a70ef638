package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// CatalogModel is one locally indexed model file. Rows are written by the
// catalog indexer; this service only reads them.
type CatalogModel struct {
	ID        int64     `gorm:"type:bigserial;primaryKey"`
	Catalog   string    `gorm:"type:text;not null;index"`
	Key       string    `gorm:"type:text;not null;uniqueIndex:idx_catalog_key,composite:catalog"`
	Name      string    `gorm:"type:text;not null"`
	Path      string    `gorm:"type:text;not null"`
	SHA256    string    `gorm:"type:text;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

// ImportJob is the archived record of a terminal import job. The live
// registry stays in memory; a row lands here once a job reaches a
// terminal status.
type ImportJob struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OwnerID      string            `gorm:"type:text;not null;index"`
	Status       string            `gorm:"type:text;not null"`
	Format       string            `gorm:"type:text"`
	Progress     float64           `gorm:"type:double precision;not null"`
	Payload      []byte            `gorm:"type:bytea"`
	Dependencies datatypes.JSON    `gorm:"type:jsonb"`
	ErrorMessage string            `gorm:"type:text"`
	Meta         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null"`
	CompletedAt  *time.Time        `gorm:"type:timestamptz"`
	ArchivedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&CatalogModel{},
		&ImportJob{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&ImportJob{},
		&CatalogModel{},
	)
}
