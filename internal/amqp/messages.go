package amqp

import (
	"encoding/json"
	"time"

	"caixa/internal/core"
)

// ExpenseInstanceCreated announces an instance generated from a recurring template
type ExpenseInstanceCreated struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"templateId"`
	OwnerID    string    `json:"ownerId"`
	DueDate    core.Date `json:"dueDate"`
	Amount     string    `json:"amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewExpenseInstanceCreated builds the event for instance e stored under id
func NewExpenseInstanceCreated(id string, e core.Expense) *ExpenseInstanceCreated {
	msg := &ExpenseInstanceCreated{
		ID:        id,
		OwnerID:   e.OwnerID,
		Amount:    core.FormatAmount(e.Amount),
		Timestamp: time.Now(),
	}
	if e.ParentTemplateID != nil {
		msg.TemplateID = *e.ParentTemplateID
	}
	if e.DueDate != nil {
		msg.DueDate = *e.DueDate
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *ExpenseInstanceCreated) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// RunRequest asks the worker for an on-demand projection run.
// An empty ReferenceDate means "now".
type RunRequest struct {
	ReferenceDate string    `json:"referenceDate,omitempty"`
	RequestedBy   string    `json:"requestedBy,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// RunRequestFromJSON creates a run request from JSON bytes
func RunRequestFromJSON(data []byte) (*RunRequest, error) {
	var msg RunRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ReferenceDate != "" {
		if _, err := core.ParseDate(msg.ReferenceDate); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// ReferenceTime resolves the request's reference date, falling back to now.
// The date is pinned to noon in now's location, so now should already be in
// the zone the projector evaluates dates in.
func (m *RunRequest) ReferenceTime(now time.Time) time.Time {
	if m.ReferenceDate == "" {
		return now
	}
	d, err := core.ParseDate(m.ReferenceDate)
	if err != nil {
		return now
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, now.Location())
}
