// Package store persists per-company day documents.
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"quotefeed/internal/config"
	apperrors "quotefeed/internal/errors"
	"quotefeed/internal/models"
)

// MergePolicy decides how a new exchange payload combines with a stored one.
type MergePolicy string

const (
	// MergeOverwrite replaces the stored snapshot.
	MergeOverwrite MergePolicy = "overwrite"
	// MergeAppend replaces the snapshot and also keeps every distinct
	// snapshot in a per-exchange history.
	MergeAppend MergePolicy = "append"
)

// Upsert is one idempotent document write.
type Upsert struct {
	Doc    models.DayDocument
	Policy MergePolicy
}

// Result reports how many documents a batch created or changed.
type Result struct {
	Inserted int64
	Modified int64
}

// Driver writes batches of upserts to a backing database.
type Driver interface {
	Name() string
	BulkUpsert(ctx context.Context, batch []Upsert) (Result, error)
	Close() error
}

// Open creates the driver selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (Driver, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		return OpenMongo(ctx, cfg.URI, cfg.Database, cfg.Collection)
	case config.DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, apperrors.NewConfigurationError("store.driver",
			fmt.Sprintf("unknown driver %q", cfg.Driver), apperrors.ErrUnsupportedStore)
	}
}
