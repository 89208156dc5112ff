// Package wizard implements the kiosk booking flow: contact details, service
// selection and, for pre-bookings, a time slot.
package wizard

import "daso/internal/models"

// Step of the booking wizard.
type Step int

const (
	StepContact  Step = 1
	StepService  Step = 2
	StepTimeSlot Step = 3
	// StepDone is reached once a booking has been accepted.
	StepDone Step = 4
)

func (s Step) String() string {
	switch s {
	case StepContact:
		return "contact"
	case StepService:
		return "service"
	case StepTimeSlot:
		return "time_slot"
	case StepDone:
		return "done"
	}
	return "unknown"
}

// FSM holds the allowed step transitions for each mode.
type FSM struct {
	transitions map[models.BookingMode]map[Step][]Step
}

// NewFSM creates the wizard FSM. Walk-ins submit from the service step;
// pre-bookings go through the time slot step first.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[models.BookingMode]map[Step][]Step{
			models.ModeWalkIn: {
				StepContact: {StepService},
				StepService: {StepDone, StepContact},
			},
			models.ModePreBook: {
				StepContact:  {StepService},
				StepService:  {StepTimeSlot, StepContact},
				StepTimeSlot: {StepDone, StepService},
			},
		},
	}
}

// CanTransition checks if the transition is allowed in mode.
func (f *FSM) CanTransition(mode models.BookingMode, from, to Step) bool {
	for _, s := range f.transitions[mode][from] {
		if s == to {
			return true
		}
	}
	return false
}

// SubmitStep is the step a booking is submitted from.
func SubmitStep(mode models.BookingMode) Step {
	if mode == models.ModePreBook {
		return StepTimeSlot
	}
	return StepService
}

// StepPrompts are the headings shown for each step.
var StepPrompts = map[Step]string{
	StepContact:  "Enter your mobile number",
	StepService:  "Choose a service",
	StepTimeSlot: "Choose a date and time",
	StepDone:     "Your token is ready",
}
