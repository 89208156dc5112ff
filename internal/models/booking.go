package models

import (
	"strings"
	"time"
)

// MobileDigits is the length of a valid mobile number.
const MobileDigits = 10

// Age bounds accepted by the booking endpoint.
const (
	MinAge     = 18
	MaxAge     = 100
	DefaultAge = 30
)

// NormalizeMobile strips non-digit characters and caps the result at
// MobileDigits, the same way the kiosk input field does.
func NormalizeMobile(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r < '0' || r > '9' {
			continue
		}
		if b.Len() == MobileDigits {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsValidMobile reports whether s is exactly MobileDigits ASCII digits.
func IsValidMobile(s string) bool {
	if len(s) != MobileDigits {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// BookingMode selects the wizard flow.
type BookingMode string

const (
	ModeWalkIn  BookingMode = "walk_in"
	ModePreBook BookingMode = "pre_book"
)

// BookingType maps a wizard mode onto the booking type the API expects.
func (m BookingMode) BookingType() BookingType {
	if m == ModePreBook {
		return BookingPreBooked
	}
	return BookingWalkIn
}

// Valid reports whether m is a known mode.
func (m BookingMode) Valid() bool {
	return m == ModeWalkIn || m == ModePreBook
}

// BookingDraft is the in-progress record the wizard builds step by step.
// It never outlives the wizard instance.
type BookingDraft struct {
	Mobile            string
	Name              string
	Age               int
	IsDisabled        bool
	ServiceType       string
	Mode              BookingMode
	ScheduledDate     time.Time
	ScheduledTimeSlot string // "HH:MM"
}

// BookingRequest is the body of POST /book-slot.
type BookingRequest struct {
	Mobile        string      `json:"mobile"`
	Name          string      `json:"name,omitempty"`
	Age           int         `json:"age"`
	IsDisabled    bool        `json:"is_disabled"`
	ServiceType   string      `json:"service_type"`
	BookingType   BookingType `json:"booking_type"`
	ScheduledTime *LocalTime  `json:"scheduled_time,omitempty"`
}

// BookingResult is the response of POST /book-slot.
type BookingResult struct {
	Success              bool     `json:"success"`
	Message              string   `json:"message,omitempty"`
	TokenNumber          string   `json:"token_number"`
	QueueID              int64    `json:"queue_id,omitempty"`
	QueuePosition        *int     `json:"position,omitempty"`
	EstimatedWaitMin     *float64 `json:"estimated_wait_min,omitempty"`
	PriorityScore        *float64 `json:"priority_score,omitempty"`
	PredictedDurationMin float64  `json:"predicted_duration_min"`
	AssignedCounter      *int     `json:"assigned_counter,omitempty"`
	NoShowRisk           *bool    `json:"no_show_risk,omitempty"`
}

// TimeSlot is one selectable pre-booking slot. Availability is a client-side
// estimate; the queue service has the final word.
type TimeSlot struct {
	Time      string `json:"time"` // "HH:MM"
	Available bool   `json:"available"`
}

// Appointment is a pre-booked entry as shown on the calendar.
type Appointment struct {
	ID            int64      `json:"id"`
	TokenNumber   string     `json:"token_number"`
	CustomerName  string     `json:"customer_name,omitempty"`
	ServiceType   string     `json:"service_type"`
	Status        Status     `json:"status"`
	ScheduledTime *LocalTime `json:"scheduled_time,omitempty"`
}
