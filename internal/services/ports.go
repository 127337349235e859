package services

import (
	"context"

	"caixa/internal/amqp"
	"caixa/internal/core"
)

// ProjectionStore is everything the projector needs from the expenses table.
type ProjectionStore interface {
	// ListActiveRecurringTemplates returns templates with no end date or an
	// end date on or after referenceDate.
	ListActiveRecurringTemplates(ctx context.Context, referenceDate core.Date) ([]core.Expense, error)

	// FindInstanceForTemplateInMonth returns nil, nil when the template has no
	// instance due in [monthStart, monthEnd].
	FindInstanceForTemplateInMonth(ctx context.Context, templateID string, monthStart, monthEnd core.Date) (*core.Expense, error)

	InsertExpenseInstance(ctx context.Context, e core.Expense) (string, error)
}

// InstancePublisher announces generated instances to other services.
type InstancePublisher interface {
	PublishInstanceCreated(ctx context.Context, msg *amqp.ExpenseInstanceCreated) error
}
