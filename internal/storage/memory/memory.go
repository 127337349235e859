// Package memory is an in-process expense store with the same uniqueness
// guarantees as the SQL backends. It backs tests and local dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"caixa/internal/core"
	"caixa/internal/storage"

	"github.com/google/uuid"
)

// Hooks inject failures into store operations. A nil hook is a no-op.
type Hooks struct {
	ListTemplates  func(referenceDate core.Date) error
	FindInstance   func(templateID string) error
	InsertInstance func(e core.Expense) error
}

type Store struct {
	mu    sync.Mutex
	items []core.Expense
	hooks Hooks
	now   func() time.Time
}

func New(seed ...core.Expense) *Store {
	s := &Store{now: time.Now}
	for _, e := range seed {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = s.now().UTC()
		}
		s.items = append(s.items, e)
	}
	return s
}

// NewFromFile seeds the store from a JSON array of expenses. A missing file
// yields an empty store.
func NewFromFile(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed []core.Expense
	if err := json.Unmarshal(b, &seed); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return New(seed...), nil
}

// SetHooks replaces the failure hooks.
func (s *Store) SetHooks(h Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = h
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) ListActiveRecurringTemplates(_ context.Context, referenceDate core.Date) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.hooks.ListTemplates; h != nil {
		if err := h(referenceDate); err != nil {
			return nil, err
		}
	}

	var out []core.Expense
	for _, e := range s.items {
		if !e.IsRecurring {
			continue
		}
		if e.RecurringEndDate != nil && e.RecurringEndDate.Before(referenceDate) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) FindInstanceForTemplateInMonth(_ context.Context, templateID string, monthStart, monthEnd core.Date) (*core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.hooks.FindInstance; h != nil {
		if err := h(templateID); err != nil {
			return nil, err
		}
	}

	for _, e := range s.items {
		if e.ParentTemplateID == nil || *e.ParentTemplateID != templateID || e.DueDate == nil {
			continue
		}
		if e.DueDate.Before(monthStart) || e.DueDate.After(monthEnd) {
			continue
		}
		found := e
		return &found, nil
	}
	return nil, nil
}

func (s *Store) InsertExpenseInstance(_ context.Context, e core.Expense) (string, error) {
	if e.ParentTemplateID == nil || e.DueDate == nil || e.IsRecurring {
		return "", storage.ErrInvalidInstance
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.hooks.InsertInstance; h != nil {
		if err := h(e); err != nil {
			return "", err
		}
	}

	for _, existing := range s.items {
		if existing.ParentTemplateID != nil && *existing.ParentTemplateID == *e.ParentTemplateID &&
			existing.DueDate != nil && existing.DueDate.SameMonth(*e.DueDate) {
			return "", fmt.Errorf("insert instance for template %s: %w", *e.ParentTemplateID, storage.ErrDuplicateInstance)
		}
	}

	return s.appendLocked(e), nil
}

// CreateExpense stores a template or a manually entered expense.
func (s *Store) CreateExpense(_ context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validate expense: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(e), nil
}

func (s *Store) appendLocked(e core.Expense) string {
	e.ID = uuid.NewString()
	if e.Status == "" {
		e.Status = core.Pending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.items = append(s.items, e)
	return e.ID
}

func (s *Store) GetExpense(_ context.Context, id string) (*core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if e.ID == id {
			found := e
			return &found, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) ListInstancesForTemplate(_ context.Context, templateID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.Expense
	for _, e := range s.items {
		if e.ParentTemplateID != nil && *e.ParentTemplateID == templateID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	return out, nil
}

func (s *Store) ToggleStatus(_ context.Context, id string) (core.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		if s.items[i].IsTemplate() {
			return "", fmt.Errorf("toggle status of template %s: %w", id, storage.ErrInvalidInstance)
		}
		s.items[i].Status = s.items[i].Status.Toggle()
		return s.items[i].Status, nil
	}
	return "", storage.ErrNotFound
}
