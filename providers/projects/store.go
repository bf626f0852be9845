package projects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tasklane/mcp-server-go/storage"
)

// Collection is the storage namespace holding project records.
const Collection = "projects"

// Status is the lifecycle state of a project.
type Status string

const (
	StatusPlanned  Status = "planned"
	StatusActive   Status = "active"
	StatusDone     Status = "done"
	StatusArchived Status = "archived"
)

// Statuses lists every valid status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPlanned, StatusActive, StatusDone, StatusArchived}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(Statuses(), s)
}

// Project is the persisted record.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ErrProjectNotFound is returned for unknown project IDs.
var ErrProjectNotFound = errors.New("project not found")

// Store persists projects as JSON documents in a storage.Storage.
type Store struct {
	backend storage.Storage
}

// NewStore wraps a storage backend.
func NewStore(backend storage.Storage) *Store {
	return &Store{backend: backend}
}

// Get loads one project.
func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	item, err := s.backend.Get(ctx, id, storage.WithCollection(Collection))
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	var p Project
	if err := json.Unmarshal(item.Data, &p); err != nil {
		return nil, fmt.Errorf("decode project %s: %w", id, err)
	}
	return &p, nil
}

// Put creates or replaces a project.
func (s *Store) Put(ctx context.Context, p *Project) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode project %s: %w", p.ID, err)
	}
	if err := s.backend.Set(ctx, p.ID, b, storage.WithCollection(Collection)); err != nil {
		return fmt.Errorf("save project %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a project. Deleting an unknown ID reports ErrProjectNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.backend.Delete(ctx, storage.WithCollection(Collection), storage.WithKey(id)); err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}

// List returns every project ordered by creation time, then ID.
func (s *Store) List(ctx context.Context) ([]*Project, error) {
	keys, err := s.backend.Keys(ctx, storage.WithCollection(Collection))
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]*Project, 0, len(keys))
	for _, id := range keys {
		p, err := s.Get(ctx, id)
		if errors.Is(err, ErrProjectNotFound) {
			continue // expired or deleted between Keys and Get
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Project) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}
