package models

// StaffAction is an action a counter can post for the customer it serves.
type StaffAction string

const (
	ActionStart    StaffAction = "start"
	ActionComplete StaffAction = "complete"
	ActionNoShow   StaffAction = "no_show"
)

// Valid reports whether a is a known action.
func (a StaffAction) Valid() bool {
	return a == ActionStart || a == ActionComplete || a == ActionNoShow
}

// StaffActionRequest is the body of POST /staff-update.
type StaffActionRequest struct {
	QueueID       int64       `json:"queue_id"`
	Action        StaffAction `json:"action"`
	CounterNumber int         `json:"counter_number"`
	StaffID       int         `json:"staff_id"`
}

// StaffActionResult acknowledges a staff action.
type StaffActionResult struct {
	Success              bool       `json:"success"`
	Action               string     `json:"action"`
	QueueID              int64      `json:"queue_id"`
	Message              string     `json:"message,omitempty"`
	StartTime            *LocalTime `json:"start_time,omitempty"`
	PredictedDurationMin *float64   `json:"predicted_duration_min,omitempty"`
	ActualDurationMin    *float64   `json:"actual_duration_min,omitempty"`
	WaitTimeMin          *float64   `json:"wait_time_min,omitempty"`
	Performance          string     `json:"performance,omitempty"`
	VarianceMin          *float64   `json:"variance_min,omitempty"`
}

// StaffMember is one row of GET /staff.
type StaffMember struct {
	ID              int     `json:"id"`
	Name            string  `json:"name"`
	CounterNumber   int     `json:"counter_number"`
	EfficiencyScore float64 `json:"efficiency_score"`
	IsAvailable     bool    `json:"is_available"`
	CurrentQueueID  *int64  `json:"current_queue_id,omitempty"`
	Status          string  `json:"status"`
}

// CheckInRequest is the body of POST /sim-proximity.
type CheckInRequest struct {
	Mobile string `json:"mobile"`
}

// CheckInResult is the response of POST /sim-proximity. Success false with a
// message is a negative lookup, not a transport failure.
type CheckInResult struct {
	Success         bool       `json:"success"`
	Message         string     `json:"message"`
	TokenNumber     string     `json:"token_number,omitempty"`
	QueuePosition   *int       `json:"queue_position,omitempty"`
	AssignedCounter *int       `json:"assigned_counter,omitempty"`
	CheckInTime     *LocalTime `json:"check_in_time,omitempty"`
}

// DurationEstimate is the response of POST /predict-time.
type DurationEstimate struct {
	EstimatedDurationMin float64 `json:"estimated_duration_min"`
	ServiceType          string  `json:"service_type"`
	Confidence           string  `json:"confidence"`
}

// DurationQuery is the body of POST /predict-time.
type DurationQuery struct {
	Age                  int     `json:"age"`
	IsDisabled           bool    `json:"is_disabled"`
	ServiceType          string  `json:"service_type"`
	StaffEfficiencyScore float64 `json:"staff_efficiency_score"`
	TimeOfDay            int     `json:"time_of_day"`
}
