package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tripline/internal/model"
	"tripline/internal/timeutil"
)

// MemoryRepository keeps events in process. It backs tests and the
// database-less mode of the binary.
type MemoryRepository struct {
	mu     sync.RWMutex
	events map[string]model.Event
}

func NewMemoryRepository(seed ...model.Event) *MemoryRepository {
	r := &MemoryRepository{events: make(map[string]model.Event, len(seed))}
	for _, e := range seed {
		_ = r.Save(context.Background(), &e)
	}
	return r
}

func (r *MemoryRepository) ListDay(_ context.Context, groupID, date string) ([]model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Event
	for _, e := range r.events {
		if e.GroupID == groupID && timeutil.DateKeysEqual(e.Date, date) {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out, nil
}

func (r *MemoryRepository) ListGroup(_ context.Context, groupID string) ([]model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Event
	for _, e := range r.events {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	sortByID(out)
	return out, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return e, nil
}

func (r *MemoryRepository) Save(_ context.Context, e *model.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.events[e.ID] = *e
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return ErrNotFound
	}
	delete(r.events, id)
	return nil
}

// map iteration is random; keep listings stable for callers and tests.
func sortByID(events []model.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
}
