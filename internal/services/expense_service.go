package services

import (
	"context"
	"fmt"
	"log/slog"

	"caixa/internal/amqp"
	"caixa/internal/core"
)

// ExpenseService orchestrates instance creation across the store and AMQP.
// It satisfies ProjectionStore so the projector publishes without knowing it.
type ExpenseService struct {
	store     ProjectionStore
	publisher InstancePublisher
}

func NewExpenseService(store ProjectionStore, publisher InstancePublisher) *ExpenseService {
	return &ExpenseService{
		store:     store,
		publisher: publisher,
	}
}

func (s *ExpenseService) ListActiveRecurringTemplates(ctx context.Context, referenceDate core.Date) ([]core.Expense, error) {
	return s.store.ListActiveRecurringTemplates(ctx, referenceDate)
}

func (s *ExpenseService) FindInstanceForTemplateInMonth(ctx context.Context, templateID string, monthStart, monthEnd core.Date) (*core.Expense, error) {
	return s.store.FindInstanceForTemplateInMonth(ctx, templateID, monthStart, monthEnd)
}

// InsertExpenseInstance saves the instance and publishes an event for it
func (s *ExpenseService) InsertExpenseInstance(ctx context.Context, e core.Expense) (string, error) {
	// Save first; the event is only a notification
	id, err := s.store.InsertExpenseInstance(ctx, e)
	if err != nil {
		return "", fmt.Errorf("save instance: %w", err)
	}

	if err := s.publishCreated(ctx, id, e); err != nil {
		slog.ErrorContext(ctx, "Failed to publish instance event",
			"id", id, "error", err)
		// Don't fail the insert - instance is saved
	}

	return id, nil
}

func (s *ExpenseService) publishCreated(ctx context.Context, id string, e core.Expense) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not available, skipping instance event")
		return nil
	}

	return s.publisher.PublishInstanceCreated(ctx, amqp.NewExpenseInstanceCreated(id, e))
}
