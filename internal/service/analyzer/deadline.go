package analyzer

import (
	"time"
)

const DefaultReviewWindow = 48 * time.Hour

// DeadlinePolicy считает срок рецензии: фиксированное окно плюс перенос с выходных.
type DeadlinePolicy struct {
	ReviewWindow time.Duration
	Location     *time.Location
}

func NewDeadlinePolicy(window time.Duration, location *time.Location) DeadlinePolicy {
	if window <= 0 {
		window = DefaultReviewWindow
	}
	if location == nil {
		location = time.UTC
	}

	return DeadlinePolicy{
		ReviewWindow: window,
		Location:     location,
	}
}

func (p DeadlinePolicy) Deadline(assignedAt time.Time) time.Time {
	location := p.Location
	if location == nil {
		location = time.UTC
	}

	window := p.ReviewWindow
	if window <= 0 {
		window = DefaultReviewWindow
	}

	return ExtendForWeekend(assignedAt.In(location).Add(window))
}

// ExtendForWeekend переносит срок, попавший на выходной, на понедельник:
// суббота +2 дня, воскресенье +1 день. Будние дни не меняются.
func ExtendForWeekend(deadline time.Time) time.Time {
	switch deadline.Weekday() {
	case time.Saturday:
		return deadline.AddDate(0, 0, 2)
	case time.Sunday:
		return deadline.AddDate(0, 0, 1)
	default:
		return deadline
	}
}
