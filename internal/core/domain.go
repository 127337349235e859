package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Fixed    ExpenseType = "fixed"
	Variable ExpenseType = "variable"

	Pending Status = "pending"
	Paid    Status = "paid"
)

type (
	ExpenseType string

	Status string

	// Expense is one row of the expenses table. Templates and instances share
	// the shape: IsRecurring marks a template, ParentTemplateID marks an
	// instance generated from one.
	Expense struct {
		ID          string          `json:"id"`
		OwnerID     string          `json:"ownerId"`
		Description string          `json:"description"`
		Category    string          `json:"category"`
		Amount      decimal.Decimal `json:"amount"`
		ExpenseType ExpenseType     `json:"expenseType"`
		DueDate     *Date           `json:"dueDate,omitempty"`
		Status      Status          `json:"status"`

		IsRecurring        bool  `json:"isRecurring"`
		RecurringDay       *int  `json:"recurringDay,omitempty"`
		RecurringStartDate *Date `json:"recurringStartDate,omitempty"`
		RecurringEndDate   *Date `json:"recurringEndDate,omitempty"`

		ParentTemplateID *string `json:"parentTemplateId,omitempty"`

		CreatedAt time.Time `json:"createdAt"`
	}
)

var (
	ErrInvalidDay         = errors.New("invalid recurring day")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidExpenseType = errors.New("invalid expense type")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyCategory      = errors.New("empty category")
	ErrInvalidRange       = errors.New("recurring end date before start date")
)

func (t ExpenseType) Valid() bool {
	return t == Fixed || t == Variable
}

func (s Status) Valid() bool {
	return s == Pending || s == Paid
}

// Toggle flips pending to paid and back.
func (s Status) Toggle() Status {
	if s == Paid {
		return Pending
	}
	return Paid
}

// IsTemplate reports whether the row is a recurring definition rather than a payable expense.
func (e Expense) IsTemplate() bool {
	return e.IsRecurring
}

// IsGeneratedInstance reports whether the row was projected from a template.
func (e Expense) IsGeneratedInstance() bool {
	return !e.IsRecurring && e.ParentTemplateID != nil
}

// NewInstance builds the pending instance of template e due on dueDate.
// Description, category, amount and type are copied verbatim.
func (e Expense) NewInstance(dueDate Date) Expense {
	templateID := e.ID
	due := dueDate
	return Expense{
		OwnerID:          e.OwnerID,
		Description:      e.Description,
		Category:         e.Category,
		Amount:           e.Amount,
		ExpenseType:      e.ExpenseType,
		DueDate:          &due,
		Status:           Pending,
		IsRecurring:      false,
		ParentTemplateID: &templateID,
	}
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !e.ExpenseType.Valid() {
		return ErrInvalidExpenseType
	}
	if e.Status != "" && !e.Status.Valid() {
		return ErrInvalidStatus
	}

	if e.RecurringDay != nil && (*e.RecurringDay < 1 || *e.RecurringDay > 31) {
		return ErrInvalidDay
	}
	if e.RecurringStartDate != nil && e.RecurringEndDate != nil &&
		e.RecurringEndDate.Before(*e.RecurringStartDate) {
		return ErrInvalidRange
	}

	return nil
}
