package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"caixa/internal/amqp"
	"caixa/internal/core"
	"caixa/internal/storage"
	"caixa/internal/storage/memory"
)

type fakePublisher struct {
	events []*amqp.ExpenseInstanceCreated
	err    error
}

func (f *fakePublisher) PublishInstanceCreated(_ context.Context, msg *amqp.ExpenseInstanceCreated) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, msg)
	return nil
}

func TestExpenseService_PublishesCreatedInstances(t *testing.T) {
	store := memory.New(newTemplate("rent", "Aluguel", intPtr(5)))
	pub := &fakePublisher{}
	p := NewRecurrenceProjector(NewExpenseService(store, pub), testConfig())

	if _, err := p.Run(context.Background(), at(2024, time.March, 10)); err != nil {
		t.Fatal(err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.TemplateID != "rent" || ev.DueDate.String() != "2024-03-05" || ev.Amount != "150.00" || ev.ID == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// skipped runs publish nothing
	if _, err := p.Run(context.Background(), at(2024, time.March, 11)); err != nil {
		t.Fatal(err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected no new events, got %d", len(pub.events))
	}
}

func TestExpenseService_PublishFailureDoesNotFailInsert(t *testing.T) {
	tpl := newTemplate("rent", "Aluguel", intPtr(5))
	store := memory.New(tpl)
	svc := NewExpenseService(store, &fakePublisher{err: errors.New("channel closed")})

	id, err := svc.InsertExpenseInstance(context.Background(), tpl.NewInstance(core.NewDate(2024, time.March, 5)))
	if err != nil || id == "" {
		t.Fatalf("insert = %q, %v", id, err)
	}
}

func TestExpenseService_NilPublisher(t *testing.T) {
	tpl := newTemplate("rent", "Aluguel", intPtr(5))
	svc := NewExpenseService(memory.New(tpl), nil)

	if _, err := svc.InsertExpenseInstance(context.Background(), tpl.NewInstance(core.NewDate(2024, time.March, 5))); err != nil {
		t.Fatal(err)
	}
	_, err := svc.InsertExpenseInstance(context.Background(), tpl.NewInstance(core.NewDate(2024, time.March, 6)))
	if !errors.Is(err, storage.ErrDuplicateInstance) {
		t.Fatalf("duplicate must stay detectable through the service, got %v", err)
	}
}
