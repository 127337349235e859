package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"caixa/internal/core"
	"caixa/internal/storage/memory"

	"github.com/shopspring/decimal"
)

func intPtr(v int) *int { return &v }

func datePtr(y int, m time.Month, d int) *core.Date {
	date := core.NewDate(y, m, d)
	return &date
}

func newTemplate(id, description string, day *int) core.Expense {
	return core.Expense{
		ID:           id,
		OwnerID:      "owner-1",
		Description:  description,
		Category:     "Aluguel",
		Amount:       decimal.RequireFromString("150.00"),
		ExpenseType:  core.Fixed,
		IsRecurring:  true,
		RecurringDay: day,
	}
}

func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func testConfig() ProjectorConfig {
	cfg := DefaultProjectorConfig()
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func instancesOf(t *testing.T, s *memory.Store, templateID string) []core.Expense {
	t.Helper()
	list, err := s.ListInstancesForTemplate(context.Background(), templateID)
	if err != nil {
		t.Fatalf("list instances: %v", err)
	}
	return list
}

func TestRun_CreatesInstanceAndIsIdempotent(t *testing.T) {
	store := memory.New(newTemplate("rent", "Aluguel", intPtr(5)))
	p := NewRecurrenceProjector(store, testConfig())

	report, err := p.Run(context.Background(), at(2024, time.March, 10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.TotalTemplates != 1 || report.Created != 1 || report.Skipped != 0 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	got := instancesOf(t, store, "rent")
	if len(got) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(got))
	}
	inst := got[0]
	if inst.DueDate.String() != "2024-03-05" || inst.Status != core.Pending || inst.IsRecurring {
		t.Fatalf("unexpected instance: %+v", inst)
	}
	if !inst.Amount.Equal(decimal.RequireFromString("150.00")) || inst.Category != "Aluguel" || inst.OwnerID != "owner-1" {
		t.Fatalf("fields not copied: %+v", inst)
	}

	report, err = p.Run(context.Background(), at(2024, time.March, 20))
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if report.Created != 0 || report.Skipped != 1 {
		t.Fatalf("second run should skip, got %+v", report)
	}
	if n := len(instancesOf(t, store, "rent")); n != 1 {
		t.Fatalf("expected still 1 instance, got %d", n)
	}

	report, err = p.Run(context.Background(), at(2024, time.April, 1))
	if err != nil || report.Created != 1 {
		t.Fatalf("next month should create, got %+v, %v", report, err)
	}
}

func TestRun_DayClamping(t *testing.T) {
	tests := []struct {
		name string
		day  *int
		now  time.Time
		want string
	}{
		{"day 31 in leap february", intPtr(31), at(2024, time.February, 10), "2024-02-29"},
		{"day 31 in common february", intPtr(31), at(2023, time.February, 10), "2023-02-28"},
		{"day 30 in leap february", intPtr(30), at(2024, time.February, 15), "2024-02-29"},
		{"day 31 in june", intPtr(31), at(2024, time.June, 1), "2024-06-30"},
		{"missing day defaults to first", nil, at(2024, time.July, 20), "2024-07-01"},
		{"zero day defaults to first", intPtr(0), at(2024, time.July, 20), "2024-07-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New(newTemplate("tpl", "Internet", tt.day))
			report, err := NewRecurrenceProjector(store, testConfig()).Run(context.Background(), tt.now)
			if err != nil || report.Created != 1 {
				t.Fatalf("Run() = %+v, %v", report, err)
			}
			got := instancesOf(t, store, "tpl")
			if len(got) != 1 || got[0].DueDate.String() != tt.want {
				t.Fatalf("due date = %v, want %s", got, tt.want)
			}
		})
	}
}

func TestRun_StartAndEndDates(t *testing.T) {
	expired := newTemplate("expired", "Old lease", intPtr(5))
	expired.RecurringEndDate = datePtr(2024, time.March, 1)

	endsToday := newTemplate("ends-today", "Last month", intPtr(5))
	endsToday.RecurringEndDate = datePtr(2024, time.March, 10)

	future := newTemplate("future", "Next lease", intPtr(5))
	future.RecurringStartDate = datePtr(2024, time.April, 1)

	startsMidMonth := newTemplate("mid", "Gym", intPtr(5))
	startsMidMonth.RecurringStartDate = datePtr(2024, time.March, 20)

	store := memory.New(expired, endsToday, future, startsMidMonth)
	report, err := NewRecurrenceProjector(store, testConfig()).Run(context.Background(), at(2024, time.March, 10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// expired is filtered by the template query, future is skipped
	if report.TotalTemplates != 3 || report.Created != 2 || report.Skipped != 1 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if n := len(instancesOf(t, store, "expired")); n != 0 {
		t.Fatalf("expired template produced %d instances", n)
	}
	if n := len(instancesOf(t, store, "future")); n != 0 {
		t.Fatalf("future template produced %d instances", n)
	}
	if n := len(instancesOf(t, store, "ends-today")); n != 1 {
		t.Fatalf("template ending on the reference date should still generate, got %d", n)
	}

	mid := instancesOf(t, store, "mid")
	if len(mid) != 1 || mid[0].DueDate.String() != "2024-03-05" {
		t.Fatalf("start inside the month keeps the nominal day, got %+v", mid)
	}
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	store := memory.New(
		newTemplate("a", "Aluguel", intPtr(5)),
		newTemplate("b", "Internet", intPtr(10)),
		newTemplate("c", "Energia", intPtr(15)),
		newTemplate("d", "Contador", intPtr(20)),
	)
	store.SetHooks(memory.Hooks{InsertInstance: func(e core.Expense) error {
		if e.Description == "Internet" {
			return errors.New("connection reset by peer")
		}
		return nil
	}})

	report, err := NewRecurrenceProjector(store, testConfig()).Run(context.Background(), at(2024, time.March, 10))
	if err != nil {
		t.Fatalf("per-item failure must not fail the run: %v", err)
	}
	if report.Created != 3 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if e := report.Errors[0]; e.Description != "Internet" || e.TemplateID != "b" || e.Message == "" {
		t.Fatalf("unexpected error entry: %+v", e)
	}

	res := NewRunResult(report, err)
	if !res.Success || res.Stats.Created != 3 || res.Stats.Errors != 1 || len(res.Errors) != 1 {
		t.Fatalf("unexpected envelope: %+v", res)
	}
}

func TestRun_TemplateFetchFailureIsFatal(t *testing.T) {
	store := memory.New(newTemplate("a", "Aluguel", intPtr(5)))
	store.SetHooks(memory.Hooks{ListTemplates: func(core.Date) error {
		return errors.New("dial tcp: connection refused")
	}})

	report, err := NewRecurrenceProjector(store, testConfig()).Run(context.Background(), at(2024, time.March, 10))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if report.Created != 0 {
		t.Fatalf("no instances may be created, got %+v", report)
	}

	res := NewRunResult(report, err)
	if res.Success || res.Error == "" || res.Stats != nil {
		t.Fatalf("unexpected envelope: %+v", res)
	}
}

func TestRun_NilStore(t *testing.T) {
	_, err := NewRecurrenceProjector(nil, testConfig()).Run(context.Background(), time.Now())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRun_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	flaky := func(core.Expense) error {
		if calls.Add(1) == 1 {
			return errors.New("database is locked")
		}
		return nil
	}

	t.Run("second attempt succeeds", func(t *testing.T) {
		calls.Store(0)
		store := memory.New(newTemplate("a", "Aluguel", intPtr(5)))
		store.SetHooks(memory.Hooks{InsertInstance: flaky})

		report, err := NewRecurrenceProjector(store, testConfig()).Run(context.Background(), at(2024, time.March, 10))
		if err != nil || report.Created != 1 || len(report.Errors) != 0 {
			t.Fatalf("Run() = %+v, %v", report, err)
		}
		if calls.Load() != 2 {
			t.Fatalf("expected 2 insert attempts, got %d", calls.Load())
		}
	})

	t.Run("single attempt records error", func(t *testing.T) {
		calls.Store(0)
		store := memory.New(newTemplate("a", "Aluguel", intPtr(5)))
		store.SetHooks(memory.Hooks{InsertInstance: flaky})

		cfg := testConfig()
		cfg.MaxAttempts = 1
		report, err := NewRecurrenceProjector(store, cfg).Run(context.Background(), at(2024, time.March, 10))
		if err != nil || report.Created != 0 || len(report.Errors) != 1 {
			t.Fatalf("Run() = %+v, %v", report, err)
		}
	})
}

// blindStore never sees existing instances, forcing the insert to hit the uniqueness guard.
type blindStore struct {
	*memory.Store
}

func (blindStore) FindInstanceForTemplateInMonth(context.Context, string, core.Date, core.Date) (*core.Expense, error) {
	return nil, nil
}

func TestRun_DuplicateOnInsertCountsAsSkipped(t *testing.T) {
	tpl := newTemplate("a", "Aluguel", intPtr(5))
	store := memory.New(tpl)
	if _, err := store.InsertExpenseInstance(context.Background(), tpl.NewInstance(core.NewDate(2024, time.March, 5))); err != nil {
		t.Fatal(err)
	}

	report, err := NewRecurrenceProjector(blindStore{store}, testConfig()).Run(context.Background(), at(2024, time.March, 10))
	if err != nil || report.Skipped != 1 || report.Created != 0 || len(report.Errors) != 0 {
		t.Fatalf("Run() = %+v, %v", report, err)
	}
}

func TestRun_ConcurrentProjectorsNeverDuplicate(t *testing.T) {
	var templates []core.Expense
	for i := 0; i < 20; i++ {
		templates = append(templates, newTemplate(fmt.Sprintf("tpl-%02d", i), fmt.Sprintf("Expense %d", i), intPtr(i+1)))
	}
	store := memory.New(templates...)

	cfg := testConfig()
	cfg.Workers = 8

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := NewRecurrenceProjector(store, cfg).Run(context.Background(), at(2024, time.March, 10))
			if err != nil {
				t.Errorf("Run() error = %v", err)
				return
			}
			if len(report.Errors) != 0 || report.Created+report.Skipped != 20 {
				t.Errorf("unexpected report: %+v", report)
			}
			created.Add(int32(report.Created))
		}()
	}
	wg.Wait()

	if created.Load() != 20 {
		t.Fatalf("expected 20 instances across runs, got %d", created.Load())
	}
	for _, tpl := range templates {
		if n := len(instancesOf(t, store, tpl.ID)); n != 1 {
			t.Fatalf("template %s has %d instances", tpl.ID, n)
		}
	}
}

// blockingStore parks selected calls until released or the context ends.
type blockingStore struct {
	*memory.Store
	blockList bool
	blockID   string
	entered   chan struct{}
	release   chan struct{}
}

func (s *blockingStore) ListActiveRecurringTemplates(ctx context.Context, ref core.Date) ([]core.Expense, error) {
	if s.blockList {
		close(s.entered)
		<-s.release
	}
	return s.Store.ListActiveRecurringTemplates(ctx, ref)
}

func (s *blockingStore) FindInstanceForTemplateInMonth(ctx context.Context, id string, start, end core.Date) (*core.Expense, error) {
	if id == s.blockID {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.Store.FindInstanceForTemplateInMonth(ctx, id, start, end)
}

func TestRun_TimeoutAbortsWithPartialProgress(t *testing.T) {
	store := &blockingStore{
		Store: memory.New(
			newTemplate("a", "Aluguel", intPtr(5)),
			newTemplate("slow", "Internet", intPtr(10)),
			newTemplate("c", "Energia", intPtr(15)),
		),
		blockID: "slow",
	}

	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	report, err := NewRecurrenceProjector(store, cfg).Run(context.Background(), at(2024, time.March, 10))

	if !errors.Is(err, ErrRunAborted) {
		t.Fatalf("expected ErrRunAborted, got %v", err)
	}
	if !report.Aborted || report.Created != 1 || len(report.Errors) != 0 || report.TotalTemplates != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}

	res := NewRunResult(report, err)
	if res.Success || !res.Aborted || res.Stats == nil || res.Stats.Created != 1 {
		t.Fatalf("unexpected envelope: %+v", res)
	}
}

func TestRun_RejectsOverlappingRuns(t *testing.T) {
	store := &blockingStore{
		Store:     memory.New(newTemplate("a", "Aluguel", intPtr(5))),
		blockList: true,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	p := NewRecurrenceProjector(store, testConfig())

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), at(2024, time.March, 10))
		done <- err
	}()

	<-store.entered
	if _, err := p.Run(context.Background(), at(2024, time.March, 10)); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	close(store.release)

	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
}

func TestRun_ReferenceDateUsesLocation(t *testing.T) {
	store := memory.New(newTemplate("a", "Aluguel", intPtr(31)))
	cfg := testConfig()
	cfg.Location = time.FixedZone("BRT", -3*60*60)

	// 01:00 UTC on April 1st is still March 31st in UTC-3
	report, err := NewRecurrenceProjector(store, cfg).Run(context.Background(), time.Date(2024, time.April, 1, 1, 0, 0, 0, time.UTC))
	if err != nil || report.Created != 1 {
		t.Fatalf("Run() = %+v, %v", report, err)
	}
	if report.ReferenceDate.String() != "2024-03-31" {
		t.Fatalf("reference date = %s", report.ReferenceDate)
	}
	if got := instancesOf(t, store, "a"); got[0].DueDate.String() != "2024-03-31" {
		t.Fatalf("due date = %s", got[0].DueDate)
	}
}
