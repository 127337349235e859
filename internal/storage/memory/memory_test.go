package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"caixa/internal/core"
	"caixa/internal/storage"

	"github.com/shopspring/decimal"
)

func template(id string, end *core.Date) core.Expense {
	return core.Expense{
		ID:               id,
		Description:      "Aluguel",
		Category:         "Aluguel",
		Amount:           decimal.RequireFromString("150.00"),
		ExpenseType:      core.Fixed,
		IsRecurring:      true,
		RecurringEndDate: end,
	}
}

func TestListActiveRecurringTemplates(t *testing.T) {
	past := core.NewDate(2024, time.March, 1)
	today := core.NewDate(2024, time.March, 10)
	future := core.NewDate(2024, time.December, 31)

	s := New(
		template("open", nil),
		template("expired", &past),
		template("ends-today", &today),
		template("ends-later", &future),
		core.Expense{ID: "manual", Description: "x", Category: "y", Amount: decimal.NewFromInt(1), ExpenseType: core.Variable},
	)

	got, err := s.ListActiveRecurringTemplates(context.Background(), today)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, e := range got {
		ids[e.ID] = true
	}
	if len(got) != 3 || !ids["open"] || !ids["ends-today"] || !ids["ends-later"] {
		t.Fatalf("unexpected active templates: %v", ids)
	}
}

func TestInsertExpenseInstanceUniquePerMonth(t *testing.T) {
	ctx := context.Background()
	tpl := template("tpl", nil)
	s := New(tpl)

	if _, err := s.InsertExpenseInstance(ctx, tpl.NewInstance(core.NewDate(2024, time.March, 5))); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := s.InsertExpenseInstance(ctx, tpl.NewInstance(core.NewDate(2024, time.March, 28)))
	if !errors.Is(err, storage.ErrDuplicateInstance) {
		t.Fatalf("expected ErrDuplicateInstance, got %v", err)
	}

	if _, err := s.InsertExpenseInstance(ctx, tpl.NewInstance(core.NewDate(2024, time.April, 5))); err != nil {
		t.Fatalf("next month insert: %v", err)
	}

	start, end := core.MonthBounds(core.NewDate(2024, time.March, 1))
	found, err := s.FindInstanceForTemplateInMonth(ctx, "tpl", start, end)
	if err != nil || found == nil || found.DueDate.String() != "2024-03-05" {
		t.Fatalf("find = %+v, %v", found, err)
	}

	start, end = core.MonthBounds(core.NewDate(2024, time.May, 1))
	found, err = s.FindInstanceForTemplateInMonth(ctx, "tpl", start, end)
	if err != nil || found != nil {
		t.Fatalf("expected no instance in May, got %+v, %v", found, err)
	}

	list, _ := s.ListInstancesForTemplate(ctx, "tpl")
	if len(list) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(list))
	}
}

func TestInsertRejectsTemplatesAndHooks(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.InsertExpenseInstance(ctx, template("t", nil)); !errors.Is(err, storage.ErrInvalidInstance) {
		t.Fatalf("expected ErrInvalidInstance, got %v", err)
	}

	boom := errors.New("boom")
	s.SetHooks(Hooks{InsertInstance: func(core.Expense) error { return boom }})
	inst := template("t", nil).NewInstance(core.NewDate(2024, time.March, 5))
	if _, err := s.InsertExpenseInstance(ctx, inst); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}

func TestToggleStatus(t *testing.T) {
	ctx := context.Background()
	tpl := template("tpl", nil)
	s := New(tpl)

	id, err := s.InsertExpenseInstance(ctx, tpl.NewInstance(core.NewDate(2024, time.March, 5)))
	if err != nil {
		t.Fatal(err)
	}
	if st, err := s.ToggleStatus(ctx, id); err != nil || st != core.Paid {
		t.Fatalf("toggle = %s, %v", st, err)
	}
	if st, _ := s.ToggleStatus(ctx, id); st != core.Pending {
		t.Fatalf("toggle back = %s", st)
	}
	if _, err := s.ToggleStatus(ctx, "tpl"); !errors.Is(err, storage.ErrInvalidInstance) {
		t.Fatalf("expected template toggle to fail, got %v", err)
	}
	if _, err := s.ToggleStatus(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFromFile(filepath.Join(dir, "missing.json"))
	if err != nil || s == nil {
		t.Fatalf("missing file should give empty store: %v", err)
	}

	path := filepath.Join(dir, "seed.json")
	seed := `[{"description":"Aluguel","category":"Aluguel","amount":"150.00","expenseType":"fixed","isRecurring":true,"recurringDay":5}]`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err = NewFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := s.ListActiveRecurringTemplates(context.Background(), core.NewDate(2024, time.March, 10))
	if len(got) != 1 || got[0].ID == "" || *got[0].RecurringDay != 5 {
		t.Fatalf("unexpected seed: %+v", got)
	}
}
