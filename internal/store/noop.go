package store

import (
	"context"

	"github.com/google/uuid"

	"PortfolioLens/internal/model"
)

// NoopStore is used when no database is configured: it holds nothing and
// accepts every write.
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (n *NoopStore) Insert(_ context.Context, pos model.Position) (string, error) {
	if pos.ID == "" {
		return uuid.NewString(), nil
	}
	return pos.ID, nil
}

func (n *NoopStore) Find(_ context.Context, _ Filter) ([]model.Position, error) { return nil, nil }
func (n *NoopStore) Get(_ context.Context, _ string) (model.Position, error)    { return model.Position{}, ErrNotFound }
func (n *NoopStore) Update(_ context.Context, _ model.Position) error           { return nil }
func (n *NoopStore) Delete(_ context.Context, _ string) error                   { return nil }
func (n *NoopStore) TagNames(_ context.Context) (map[string]string, error)      { return map[string]string{}, nil }
func (n *NoopStore) PutTag(_ context.Context, _, _ string) error                { return nil }
func (n *NoopStore) RecordSnapshot(_ context.Context, _ Snapshot) error         { return nil }
func (n *NoopStore) LatestSnapshot(_ context.Context) (Snapshot, error)         { return Snapshot{}, ErrNotFound }
func (n *NoopStore) Close() error                                               { return nil }
