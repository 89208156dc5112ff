// Package slots estimates pre-booking slot availability for the kiosk.
// The estimate only hides obviously full slots; the queue service still
// decides conflicts when the booking is posted.
package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"daso/internal/models"
)

// Schedule describes the branch's bookable day.
type Schedule struct {
	Open        string // "09:00"
	Close       string // "17:00"
	LunchStart  string // optional
	LunchEnd    string // optional
	SlotMinutes int
	Capacity    int // bookings per slot
}

// AppointmentSource lists the appointments already booked on a day.
type AppointmentSource interface {
	Appointments(ctx context.Context, date time.Time) ([]models.Appointment, error)
}

// Planner generates the slots offered on the pre-booking step.
type Planner struct {
	source   AppointmentSource
	schedule Schedule
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewPlanner creates a planner. source may be nil, in which case only past
// slots are marked unavailable.
func NewPlanner(source AppointmentSource, schedule Schedule, clock clockwork.Clock, logger *zerolog.Logger) *Planner {
	if schedule.SlotMinutes <= 0 {
		schedule.SlotMinutes = 30
	}
	if schedule.Capacity <= 0 {
		schedule.Capacity = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Planner{
		source:   source,
		schedule: schedule,
		clock:    clock,
		logger:   l.With().Str("component", "slots").Logger(),
	}
}

// Slots returns every slot of date in order. A slot is unavailable when it
// has started already or when Capacity appointments are booked into it. If
// the appointments cannot be fetched every future slot is offered.
func (p *Planner) Slots(ctx context.Context, date time.Time) ([]models.TimeSlot, error) {
	date = date.In(time.Local)
	open, err := models.CombineLocal(date, p.schedule.Open)
	if err != nil {
		return nil, fmt.Errorf("parse open time: %w", err)
	}
	closing, err := models.CombineLocal(date, p.schedule.Close)
	if err != nil {
		return nil, fmt.Errorf("parse close time: %w", err)
	}

	var lunchStart, lunchEnd time.Time
	hasLunch := p.schedule.LunchStart != "" && p.schedule.LunchEnd != ""
	if hasLunch {
		if lunchStart, err = models.CombineLocal(date, p.schedule.LunchStart); err != nil {
			return nil, fmt.Errorf("parse lunch start: %w", err)
		}
		if lunchEnd, err = models.CombineLocal(date, p.schedule.LunchEnd); err != nil {
			return nil, fmt.Errorf("parse lunch end: %w", err)
		}
	}

	booked := p.bookedCounts(ctx, date)
	now := p.clock.Now()
	step := time.Duration(p.schedule.SlotMinutes) * time.Minute

	var out []models.TimeSlot
	for cursor := open; !cursor.Add(step).After(closing); cursor = cursor.Add(step) {
		end := cursor.Add(step)
		if hasLunch && isOverlapping(cursor, end, lunchStart, lunchEnd) {
			continue
		}
		label := cursor.Format("15:04")
		out = append(out, models.TimeSlot{
			Time:      label,
			Available: cursor.After(now) && booked[label] < p.schedule.Capacity,
		})
	}
	return out, nil
}

// bookedCounts buckets the day's live appointments by slot start.
func (p *Planner) bookedCounts(ctx context.Context, date time.Time) map[string]int {
	counts := make(map[string]int)
	if p.source == nil {
		return counts
	}
	appts, err := p.source.Appointments(ctx, date)
	if err != nil {
		p.logger.Warn().Err(err).Str("date", date.Format("2006-01-02")).Msg("appointments unavailable; offering all future slots")
		return counts
	}

	step := time.Duration(p.schedule.SlotMinutes) * time.Minute
	open, _ := models.CombineLocal(date, p.schedule.Open)
	for _, a := range appts {
		if a.ScheduledTime == nil || a.Status == models.StatusNoShow {
			continue
		}
		at := a.ScheduledTime.In(time.Local)
		if !sameDay(at, date) {
			continue
		}
		offset := at.Sub(open)
		if offset < 0 {
			continue
		}
		slotStart := open.Add(offset / step * step)
		counts[slotStart.Format("15:04")]++
	}
	return counts
}

// Dates lists the bookable calendar days from today through days ahead.
func (p *Planner) Dates(days int) []time.Time {
	now := p.clock.Now().In(time.Local)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	out := make([]time.Time, 0, days+1)
	for i := 0; i <= days; i++ {
		out = append(out, today.AddDate(0, 0, i))
	}
	return out
}

// Find returns the slot labelled hhmm.
func Find(slots []models.TimeSlot, hhmm string) (models.TimeSlot, bool) {
	for _, s := range slots {
		if s.Time == hhmm {
			return s, true
		}
	}
	return models.TimeSlot{}, false
}

// Available returns only the selectable slots.
func Available(slots []models.TimeSlot) []models.TimeSlot {
	var out []models.TimeSlot
	for _, s := range slots {
		if s.Available {
			out = append(out, s)
		}
	}
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func isOverlapping(start1, end1, start2, end2 time.Time) bool {
	return start1.Before(end2) && start2.Before(end1)
}
