package store

import (
	"context"
	"errors"
	"time"

	"PortfolioLens/internal/model"
)

// ErrNotFound is returned when a position id does not exist.
var ErrNotFound = errors.New("not found")

// Filter narrows Find. Zero fields match everything.
type Filter struct {
	Symbol   string
	Tag      string
	OpenOnly bool
}

// Snapshot is one recorded valuation of the portfolio.
type Snapshot struct {
	RunID   string
	Taken   time.Time
	Summary model.Summary
	Tags    []model.TagSummaryRow
}

// Store persists positions, tag names and portfolio snapshots.
type Store interface {
	Find(ctx context.Context, f Filter) ([]model.Position, error)
	Get(ctx context.Context, id string) (model.Position, error)
	// Insert stores pos and returns its id, generating one when pos.ID is empty.
	Insert(ctx context.Context, pos model.Position) (string, error)
	Update(ctx context.Context, pos model.Position) error
	Delete(ctx context.Context, id string) error

	TagNames(ctx context.Context) (map[string]string, error)
	PutTag(ctx context.Context, id, name string) error

	RecordSnapshot(ctx context.Context, snap Snapshot) error
	LatestSnapshot(ctx context.Context) (Snapshot, error)
	Close() error
}
