package models

import (
	"errors"
	"fmt"
)

// Status is the lifecycle status of a queue entry as reported by the queue service.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusCheckedIn  Status = "checked_in"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusNoShow     Status = "no_show"
	// StatusHolding marks late pre-booked arrivals moved out of the live queue.
	StatusHolding Status = "holding"
)

// IsWaiting reports whether the entry is still waiting to be served.
func (s Status) IsWaiting() bool {
	return s == StatusWaiting || s == StatusCheckedIn
}

// IsTerminal reports whether the entry has left the queue for good.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusNoShow
}

func (s Status) valid() bool {
	switch s {
	case StatusWaiting, StatusCheckedIn, StatusInProgress, StatusCompleted, StatusNoShow, StatusHolding:
		return true
	}
	return false
}

// BookingType tells walk-in tokens apart from pre-booked appointments.
type BookingType string

const (
	BookingWalkIn    BookingType = "walk_in"
	BookingPreBooked BookingType = "pre_booked"
)

func (b BookingType) valid() bool {
	return b == BookingWalkIn || b == BookingPreBooked
}

// QueueEntry is one row of a queue snapshot. The queue service owns it; the
// client only ever holds a read-only copy.
type QueueEntry struct {
	ID                   int64       `json:"id"`
	TokenNumber          string      `json:"token_number"`
	CustomerName         *string     `json:"customer_name,omitempty"`
	Mobile               string      `json:"mobile"`
	Age                  int         `json:"age,omitempty"`
	ServiceType          string      `json:"service_type"`
	Status               Status      `json:"status"`
	PriorityScore        float64     `json:"priority_score"`
	PredictedDurationMin *float64    `json:"predicted_duration_min,omitempty"`
	EstimatedWaitMin     *float64    `json:"estimated_wait_min,omitempty"`
	StartTime            *LocalTime  `json:"start_time,omitempty"`
	ScheduledTime        *LocalTime  `json:"scheduled_time,omitempty"`
	CheckInTime          *LocalTime  `json:"check_in_time,omitempty"`
	AssignedCounter      *int        `json:"assigned_counter,omitempty"`
	BookingType          BookingType `json:"booking_type"`
	IsDisabled           bool        `json:"is_disabled"`
	QueuePosition        *int        `json:"position,omitempty"`
}

// ErrInvalidEntry is returned by Validate for entries that cannot be trusted.
var ErrInvalidEntry = errors.New("invalid queue entry")

// Validate checks the fields the client relies on.
func (e *QueueEntry) Validate() error {
	if e.ID <= 0 {
		return fmt.Errorf("%w: id %d", ErrInvalidEntry, e.ID)
	}
	if !e.Status.valid() {
		return fmt.Errorf("%w: id %d: unknown status %q", ErrInvalidEntry, e.ID, e.Status)
	}
	if e.BookingType != "" && !e.BookingType.valid() {
		return fmt.Errorf("%w: id %d: unknown booking type %q", ErrInvalidEntry, e.ID, e.BookingType)
	}
	return nil
}

// Name returns the customer name or "Guest".
func (e *QueueEntry) Name() string {
	if e.CustomerName == nil || *e.CustomerName == "" {
		return "Guest"
	}
	return *e.CustomerName
}

// PredictedMinutes returns the predicted service duration, 0 when unknown.
func (e *QueueEntry) PredictedMinutes() float64 {
	if e.PredictedDurationMin == nil {
		return 0
	}
	return *e.PredictedDurationMin
}

// IsAssignedTo reports whether the entry is assigned to counter.
func (e *QueueEntry) IsAssignedTo(counter int) bool {
	return e.AssignedCounter != nil && *e.AssignedCounter == counter
}

// QueueSnapshot is the payload of GET /queue-status.
type QueueSnapshot struct {
	Queue             []QueueEntry `json:"queue"`
	TotalInQueue      int          `json:"total_in_queue"`
	LateArrivalsMoved int          `json:"late_arrivals_moved"`
	Timestamp         *LocalTime   `json:"timestamp,omitempty"`
}
