package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"caixa/internal/core"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateInstance is returned when a template already has an
	// instance due in the same calendar month.
	ErrDuplicateInstance = errors.New("instance already exists for template in month")
	ErrNotFound          = errors.New("expense not found")
	ErrInvalidInstance   = errors.New("invalid expense instance")
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// rebind rewrites ? placeholders to $n for Postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const expenseColumns = `id, owner_id, description, category, amount, expense_type, due_date, status,
	is_recurring, recurring_day, recurring_start_date, recurring_end_date, parent_template_id, created_at`

// repository holds the SQL shared by the SQLite and Postgres backends.
type repository struct {
	db          *sql.DB
	dialect     dialect
	isDuplicate func(error) bool
}

func (r *repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping verifies the store is reachable.
func (r *repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// ListActiveRecurringTemplates returns templates whose end date is unset or
// not before referenceDate.
func (r *repository) ListActiveRecurringTemplates(ctx context.Context, referenceDate core.Date) ([]core.Expense, error) {
	query := r.dialect.rebind(`SELECT ` + expenseColumns + ` FROM expenses
		WHERE is_recurring = ?
		  AND (recurring_end_date IS NULL OR recurring_end_date >= ?)
		ORDER BY created_at, id`)

	rows, err := r.db.QueryContext(ctx, query, true, referenceDate)
	if err != nil {
		return nil, fmt.Errorf("query active templates: %w", err)
	}
	defer rows.Close()

	templates, err := scanExpenses(rows)
	if err != nil {
		return nil, fmt.Errorf("scan active templates: %w", err)
	}
	return templates, nil
}

// FindInstanceForTemplateInMonth returns the instance generated from templateID
// with a due date in [monthStart, monthEnd], or nil when there is none.
func (r *repository) FindInstanceForTemplateInMonth(ctx context.Context, templateID string, monthStart, monthEnd core.Date) (*core.Expense, error) {
	query := r.dialect.rebind(`SELECT ` + expenseColumns + ` FROM expenses
		WHERE parent_template_id = ?
		  AND due_date >= ? AND due_date <= ?
		LIMIT 1`)

	e, err := scanExpense(r.db.QueryRowContext(ctx, query, templateID, monthStart, monthEnd))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find instance for template %s: %w", templateID, err)
	}
	return &e, nil
}

// InsertExpenseInstance stores a generated instance and returns its new id.
func (r *repository) InsertExpenseInstance(ctx context.Context, e core.Expense) (string, error) {
	if e.ParentTemplateID == nil || e.DueDate == nil || e.IsRecurring {
		return "", ErrInvalidInstance
	}
	if e.Status == "" {
		e.Status = core.Pending
	}

	id, err := r.insert(ctx, e)
	if err != nil {
		if r.isDuplicate != nil && r.isDuplicate(err) {
			return "", fmt.Errorf("insert instance for template %s: %w", *e.ParentTemplateID, ErrDuplicateInstance)
		}
		return "", fmt.Errorf("insert instance for template %s: %w", *e.ParentTemplateID, err)
	}

	slog.DebugContext(ctx, "Expense instance saved",
		"id", id,
		"template_id", *e.ParentTemplateID,
		"due_date", e.DueDate.String())

	return id, nil
}

// CreateExpense stores a template or a manually entered expense.
func (r *repository) CreateExpense(ctx context.Context, e core.Expense) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validate expense: %w", err)
	}
	if e.Status == "" {
		e.Status = core.Pending
	}

	id, err := r.insert(ctx, e)
	if err != nil {
		return "", fmt.Errorf("create expense: %w", err)
	}
	return id, nil
}

func (r *repository) insert(ctx context.Context, e core.Expense) (string, error) {
	id := uuid.NewString()
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := r.dialect.rebind(`INSERT INTO expenses (` + expenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		id,
		e.OwnerID,
		e.Description,
		e.Category,
		e.Amount,
		string(e.ExpenseType),
		e.DueDate,
		string(e.Status),
		e.IsRecurring,
		e.RecurringDay,
		e.RecurringStartDate,
		e.RecurringEndDate,
		e.ParentTemplateID,
		createdAt,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// GetExpense retrieves a single expense by ID
func (r *repository) GetExpense(ctx context.Context, id string) (*core.Expense, error) {
	query := r.dialect.rebind(`SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`)

	e, err := scanExpense(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get expense by id: %w", err)
	}
	return &e, nil
}

// ListInstancesForTemplate returns every instance generated from templateID, oldest due date first.
func (r *repository) ListInstancesForTemplate(ctx context.Context, templateID string) ([]core.Expense, error) {
	query := r.dialect.rebind(`SELECT ` + expenseColumns + ` FROM expenses
		WHERE parent_template_id = ?
		ORDER BY due_date`)

	rows, err := r.db.QueryContext(ctx, query, templateID)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	instances, err := scanExpenses(rows)
	if err != nil {
		return nil, fmt.Errorf("scan instances: %w", err)
	}
	return instances, nil
}

// ToggleStatus flips an instance between pending and paid and returns the new status.
func (r *repository) ToggleStatus(ctx context.Context, id string) (core.Status, error) {
	e, err := r.GetExpense(ctx, id)
	if err != nil {
		return "", err
	}
	if e.IsTemplate() {
		return "", fmt.Errorf("toggle status of template %s: %w", id, ErrInvalidInstance)
	}

	next := e.Status.Toggle()
	query := r.dialect.rebind(`UPDATE expenses SET status = ? WHERE id = ? AND status = ?`)
	res, err := r.db.ExecContext(ctx, query, string(next), id, string(e.Status))
	if err != nil {
		return "", fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return "", fmt.Errorf("update status of %s: concurrent modification", id)
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (core.Expense, error) {
	var (
		e            core.Expense
		expenseType  string
		status       string
		dueDate      core.Date
		startDate    core.Date
		endDate      core.Date
		recurringDay sql.NullInt64
		parentID     sql.NullString
	)

	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.Description,
		&e.Category,
		&e.Amount,
		&expenseType,
		&dueDate,
		&status,
		&e.IsRecurring,
		&recurringDay,
		&startDate,
		&endDate,
		&parentID,
		&e.CreatedAt,
	)
	if err != nil {
		return core.Expense{}, err
	}

	e.ExpenseType = core.ExpenseType(expenseType)
	e.Status = core.Status(status)
	if !dueDate.IsZero() {
		e.DueDate = &dueDate
	}
	if !startDate.IsZero() {
		e.RecurringStartDate = &startDate
	}
	if !endDate.IsZero() {
		e.RecurringEndDate = &endDate
	}
	if recurringDay.Valid {
		day := int(recurringDay.Int64)
		e.RecurringDay = &day
	}
	if parentID.Valid {
		e.ParentTemplateID = &parentID.String
	}

	return e, nil
}

func scanExpenses(rows *sql.Rows) ([]core.Expense, error) {
	var out []core.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
