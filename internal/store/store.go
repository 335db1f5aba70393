// Package store holds the itinerary events of every group. The engine
// itself is pure; the store is the persistence collaborator that the HTTP
// API and the audit job read from.
package store

import (
	"context"
	"errors"

	"tripline/internal/model"
)

// ErrNotFound is returned when an event id does not exist.
var ErrNotFound = errors.New("event not found")

// Repository is the persistence contract. ListDay and ListGroup return
// events in no particular order; callers order them with timeline.Order.
type Repository interface {
	ListDay(ctx context.Context, groupID, date string) ([]model.Event, error)
	ListGroup(ctx context.Context, groupID string) ([]model.Event, error)
	Get(ctx context.Context, id string) (model.Event, error)
	// Save inserts or replaces e by id. An empty id is assigned a new uuid.
	Save(ctx context.Context, e *model.Event) error
	Delete(ctx context.Context, id string) error
}
