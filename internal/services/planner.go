package services

import (
	"caixa/internal/core"
)

// skipReason explains why a template gets no new instance this month.
type skipReason string

const (
	skipNone       skipReason = ""
	skipNotStarted skipReason = "not_started"
	skipExisting   skipReason = "already_generated"
	skipLostRace   skipReason = "duplicate_on_insert"
)

// monthPlan is the reference month a run projects templates into.
type monthPlan struct {
	Reference core.Date
	Start     core.Date
	End       core.Date
}

func newMonthPlan(ref core.Date) monthPlan {
	start, end := core.MonthBounds(ref)
	return monthPlan{Reference: ref, Start: start, End: end}
}

// dueDate returns the clamped due date of tpl's instance in the planned month.
//
// A template starting after the month ends is skipped. A start date inside the
// month does not move the due date: day 5 with a start on the 20th still
// yields the 5th.
func (m monthPlan) dueDate(tpl core.Expense) (core.Date, skipReason) {
	if tpl.RecurringStartDate != nil && tpl.RecurringStartDate.After(m.End) {
		return core.Date{}, skipNotStarted
	}
	return core.DueDateInMonth(m.Reference, tpl.RecurringDay), skipNone
}
