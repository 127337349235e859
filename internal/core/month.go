package core

import "time"

// DaysInMonth returns the number of days in month of year, accounting for leap years.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MonthBounds returns the first and last calendar day of ref's month.
func MonthBounds(ref Date) (start, end Date) {
	start = NewDate(ref.Year(), ref.Month(), 1)
	end = NewDate(ref.Year(), ref.Month(), DaysInMonth(ref.Year(), ref.Month()))
	return start, end
}

// ClampDay limits day to the valid range of the given month, so day 31 in
// February becomes 28 or 29.
func ClampDay(year int, month time.Month, day int) int {
	if day < 1 {
		return 1
	}
	if last := DaysInMonth(year, month); day > last {
		return last
	}
	return day
}

// EffectiveRecurringDay returns the nominal day-of-month of a template.
// Missing or non-positive values fall back to the 1st.
func EffectiveRecurringDay(day *int) int {
	if day == nil || *day <= 0 {
		return 1
	}
	return *day
}

// DueDateInMonth composes the due date of a template's instance in ref's month.
func DueDateInMonth(ref Date, recurringDay *int) Date {
	day := ClampDay(ref.Year(), ref.Month(), EffectiveRecurringDay(recurringDay))
	return NewDate(ref.Year(), ref.Month(), day)
}
