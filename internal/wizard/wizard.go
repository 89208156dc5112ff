package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"daso/internal/events"
	"daso/internal/metrics"
	"daso/internal/models"
	"daso/internal/slots"
)

const defaultDaysAhead = 30

var (
	ErrBusy            = errors.New("booking already being submitted")
	ErrDone            = errors.New("booking already completed")
	ErrClosed          = errors.New("wizard closed")
	ErrWrongStep       = errors.New("not available on this step")
	ErrSlotUnavailable = errors.New("time slot is not available")
	ErrRejected        = errors.New("booking rejected")
)

// ValidationError blocks a step transition. It is shown next to the field
// and is not a fault.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Booker posts booking requests.
type Booker interface {
	Book(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error)
}

// CatalogSource fetches the service catalog.
type CatalogSource interface {
	ServiceTypes(ctx context.Context) ([]models.ServiceCatalogEntry, error)
}

// SlotPlanner offers pre-booking dates and slots.
type SlotPlanner interface {
	Slots(ctx context.Context, date time.Time) ([]models.TimeSlot, error)
	Dates(days int) []time.Time
}

// Config wires a Wizard. OnSuccess receives the accepted booking once.
type Config struct {
	Mode      models.BookingMode
	Booker    Booker
	Catalog   CatalogSource
	Planner   SlotPlanner
	DaysAhead int
	Logger    *zerolog.Logger
	Events    *events.EventBus
	OnSuccess func(*models.BookingResult)
}

// Snapshot is the render state of a wizard.
type Snapshot struct {
	Mode       models.BookingMode
	Step       Step
	Draft      models.BookingDraft
	Catalog    []models.ServiceCatalogEntry
	Dates      []time.Time
	Slots      []models.TimeSlot
	Submitting bool
	Result     *models.BookingResult
	Err        error
}

// CanSubmit reports whether Submit would issue a request.
func (s Snapshot) CanSubmit() bool {
	if s.Submitting || s.Step != SubmitStep(s.Mode) || s.Draft.ServiceType == "" {
		return false
	}
	return s.Mode != models.ModePreBook || s.Draft.ScheduledTimeSlot != ""
}

// Wizard is one booking flow. It is discarded after a successful booking.
type Wizard struct {
	fsm       *FSM
	mode      models.BookingMode
	booker    Booker
	planner   SlotPlanner
	daysAhead int
	logger    zerolog.Logger
	bus       *events.EventBus
	onSuccess func(*models.BookingResult)

	mu         sync.Mutex
	step       Step
	draft      models.BookingDraft
	catalog    []models.ServiceCatalogEntry
	dates      []time.Time
	slots      []models.TimeSlot
	submitting bool
	result     *models.BookingResult
	err        error
	closed     bool
}

// New starts a wizard on the contact step. The service catalog is fetched
// once here; if that fails the built-in catalog is used.
func New(ctx context.Context, cfg Config) (*Wizard, error) {
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown booking mode %q", cfg.Mode)
	}
	if cfg.Booker == nil {
		return nil, errors.New("wizard needs a booker")
	}
	if cfg.Mode == models.ModePreBook && cfg.Planner == nil {
		return nil, errors.New("pre-booking needs a slot planner")
	}
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = defaultDaysAhead
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	w := &Wizard{
		fsm:       NewFSM(),
		mode:      cfg.Mode,
		booker:    cfg.Booker,
		planner:   cfg.Planner,
		daysAhead: cfg.DaysAhead,
		logger:    logger.With().Str("component", "wizard").Str("mode", string(cfg.Mode)).Logger(),
		bus:       cfg.Events,
		onSuccess: cfg.OnSuccess,
		step:      StepContact,
		draft: models.BookingDraft{
			Mode: cfg.Mode,
			Age:  models.DefaultAge,
		},
	}
	w.catalog = w.loadCatalog(ctx, cfg.Catalog)
	return w, nil
}

func (w *Wizard) loadCatalog(ctx context.Context, src CatalogSource) []models.ServiceCatalogEntry {
	if src == nil {
		return models.DefaultCatalog()
	}
	catalog, err := src.ServiceTypes(ctx)
	if err != nil || len(catalog) == 0 {
		w.logger.Warn().Err(err).Msg("service catalog unavailable; using built-in list")
		return models.DefaultCatalog()
	}
	return catalog
}

// Snapshot returns the current render state.
func (w *Wizard) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Mode:       w.mode,
		Step:       w.step,
		Draft:      w.draft,
		Catalog:    append([]models.ServiceCatalogEntry(nil), w.catalog...),
		Dates:      append([]time.Time(nil), w.dates...),
		Slots:      append([]models.TimeSlot(nil), w.slots...),
		Submitting: w.submitting,
		Result:     w.result,
		Err:        w.err,
	}
}

// Close makes the wizard ignore every later input and late result.
func (w *Wizard) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

// editable reports whether inputs may change the draft. Callers hold mu.
func (w *Wizard) editable(step Step) error {
	switch {
	case w.closed:
		return ErrClosed
	case w.step == StepDone:
		return ErrDone
	case w.submitting:
		return ErrBusy
	case w.step != step:
		return fmt.Errorf("%w: %s", ErrWrongStep, w.step)
	}
	return nil
}

// SetMobile stores raw with non-digits stripped and returns the stored value.
func (w *Wizard) SetMobile(raw string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(StepContact); err != nil {
		return w.draft.Mobile, err
	}
	w.draft.Mobile = models.NormalizeMobile(raw)
	return w.draft.Mobile, nil
}

// SetName stores the optional customer name.
func (w *Wizard) SetName(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(StepContact); err != nil {
		return err
	}
	w.draft.Name = strings.TrimSpace(name)
	return nil
}

// SetAge stores the customer's age.
func (w *Wizard) SetAge(age int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(StepContact); err != nil {
		return err
	}
	if age < models.MinAge || age > models.MaxAge {
		return &ValidationError{Field: "age", Message: fmt.Sprintf("must be between %d and %d", models.MinAge, models.MaxAge)}
	}
	w.draft.Age = age
	return nil
}

// SetDisabled marks the customer as needing assistance.
func (w *Wizard) SetDisabled(disabled bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(StepContact); err != nil {
		return err
	}
	w.draft.IsDisabled = disabled
	return nil
}

// SubmitContact validates step 1 and moves to service selection.
func (w *Wizard) SubmitContact() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(StepContact); err != nil {
		return err
	}
	if !models.IsValidMobile(w.draft.Mobile) {
		return &ValidationError{Field: "mobile", Message: fmt.Sprintf("enter a %d-digit mobile number", models.MobileDigits)}
	}
	w.moveTo(StepService)
	return nil
}

// moveTo changes step if the FSM allows it. Callers hold mu.
func (w *Wizard) moveTo(to Step) bool {
	if !w.fsm.CanTransition(w.mode, w.step, to) {
		return false
	}
	w.logger.Debug().Stringer("from", w.step).Stringer("to", to).Msg("step")
	w.step = to
	w.err = nil
	return true
}

// SelectService handles a tap on a service. Walk-ins are submitted right
// away; pre-bookings move on to the time slot step.
func (w *Wizard) SelectService(ctx context.Context, serviceID string) error {
	w.mu.Lock()
	if err := w.editable(StepService); err != nil {
		w.mu.Unlock()
		return err
	}
	if _, ok := models.FindService(w.catalog, serviceID); !ok {
		w.mu.Unlock()
		return &ValidationError{Field: "service_type", Message: fmt.Sprintf("unknown service %q", serviceID)}
	}
	w.draft.ServiceType = serviceID
	if w.mode == models.ModeWalkIn {
		w.mu.Unlock()
		_, err := w.Submit(ctx)
		return err
	}
	w.mu.Unlock()
	return w.Continue(ctx)
}

// Continue moves a pre-booking with a chosen service to the time slot step
// and loads the slots of the chosen date, today by default.
func (w *Wizard) Continue(ctx context.Context) error {
	w.mu.Lock()
	if err := w.editable(StepService); err != nil {
		w.mu.Unlock()
		return err
	}
	if w.draft.ServiceType == "" {
		w.mu.Unlock()
		return &ValidationError{Field: "service_type", Message: "choose a service"}
	}
	if !w.moveTo(StepTimeSlot) {
		w.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongStep, w.step)
	}
	if len(w.dates) == 0 {
		w.dates = w.planner.Dates(w.daysAhead)
	}
	date := w.draft.ScheduledDate
	if date.IsZero() {
		date = w.dates[0]
	}
	w.mu.Unlock()

	return w.SelectDate(ctx, date)
}

// MatchService returns the first catalog entry whose name, or name with
// underscores read as spaces, occurs in transcript ignoring case.
func MatchService(catalog []models.ServiceCatalogEntry, transcript string) (models.ServiceCatalogEntry, bool) {
	text := strings.ToLower(transcript)
	if strings.TrimSpace(text) == "" {
		return models.ServiceCatalogEntry{}, false
	}
	for _, s := range catalog {
		name := strings.ToLower(s.Name)
		if name == "" {
			continue
		}
		if strings.Contains(text, name) || strings.Contains(text, strings.ToLower(s.DisplayName())) {
			return s, true
		}
	}
	return models.ServiceCatalogEntry{}, false
}

// HandleTranscript applies a voice command on the service step. It reports
// whether a service was matched. Transcripts arriving on any other step, or
// matching nothing, are ignored. A walk-in with valid contact details is
// submitted straight away.
func (w *Wizard) HandleTranscript(ctx context.Context, transcript string) (bool, error) {
	w.mu.Lock()
	if w.editable(StepService) != nil {
		w.mu.Unlock()
		w.logger.Debug().Msg("late voice result ignored")
		return false, nil
	}
	match, ok := MatchService(w.catalog, transcript)
	if !ok {
		w.mu.Unlock()
		return false, nil
	}
	w.draft.ServiceType = match.ID
	auto := w.mode == models.ModeWalkIn && models.IsValidMobile(w.draft.Mobile)
	w.mu.Unlock()

	w.logger.Debug().Str("service", match.ID).Msg("voice match")
	if !auto {
		return true, nil
	}
	_, err := w.Submit(ctx)
	return true, err
}

// SelectDate picks the pre-booking date, clears the chosen slot and loads the
// slots of that date.
func (w *Wizard) SelectDate(ctx context.Context, date time.Time) error {
	w.mu.Lock()
	if err := w.editable(StepTimeSlot); err != nil {
		w.mu.Unlock()
		return err
	}
	if !containsDay(w.dates, date) {
		w.mu.Unlock()
		return &ValidationError{Field: "scheduled_date", Message: fmt.Sprintf("choose a date within %d days", w.daysAhead)}
	}
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.Local)
	w.draft.ScheduledDate = day
	w.draft.ScheduledTimeSlot = ""
	w.slots = nil
	w.mu.Unlock()

	got, err := w.planner.Slots(ctx, day)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.step != StepTimeSlot || !w.draft.ScheduledDate.Equal(day) {
		return nil
	}
	if err != nil {
		w.err = err
		w.logger.Error().Err(err).Msg("load time slots")
		return err
	}
	w.slots = got
	return nil
}

// SelectSlot picks a time slot. Slots not offered as available cannot be
// picked and leave the current choice unchanged.
func (w *Wizard) SelectSlot(hhmm string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(StepTimeSlot); err != nil {
		return err
	}
	slot, ok := slots.Find(w.slots, hhmm)
	if !ok || !slot.Available {
		return ErrSlotUnavailable
	}
	w.draft.ScheduledTimeSlot = slot.Time
	return nil
}

// Back returns to the previous step.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.editable(w.step); err != nil {
		return err
	}
	switch w.step {
	case StepTimeSlot:
		w.draft.ScheduledTimeSlot = ""
		w.moveTo(StepService)
	case StepService:
		w.moveTo(StepContact)
	}
	return nil
}

// Submit issues the booking request. Only one request is in flight at a
// time. On failure the wizard stays on its step and can be resubmitted; on
// success it is done and OnSuccess is called.
func (w *Wizard) Submit(ctx context.Context) (*models.BookingResult, error) {
	w.mu.Lock()
	if err := w.editable(SubmitStep(w.mode)); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	req, err := w.request()
	if err != nil {
		w.mu.Unlock()
		metrics.IncBooking(string(w.mode), "invalid")
		return nil, err
	}
	w.submitting = true
	w.err = nil
	w.mu.Unlock()

	res, err := w.booker.Book(ctx, req)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, res.Message)
	}

	w.mu.Lock()
	w.submitting = false
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if err != nil {
		w.err = err
		w.mu.Unlock()
		metrics.IncBooking(string(w.mode), "error")
		w.logger.Error().Err(err).Str("service", req.ServiceType).Msg("booking failed")
		return nil, err
	}
	w.moveTo(StepDone)
	w.result = res
	w.mu.Unlock()

	metrics.IncBooking(string(w.mode), "ok")
	w.logger.Info().Str("token", res.TokenNumber).Str("service", req.ServiceType).Msg("booking created")
	w.bus.Publish(events.BookingCreated, *res)
	if w.onSuccess != nil {
		w.onSuccess(res)
	}
	return res, nil
}

// request builds the booking body from the draft. Callers hold mu.
func (w *Wizard) request() (models.BookingRequest, error) {
	d := w.draft
	if !models.IsValidMobile(d.Mobile) {
		return models.BookingRequest{}, &ValidationError{Field: "mobile", Message: fmt.Sprintf("enter a %d-digit mobile number", models.MobileDigits)}
	}
	if d.ServiceType == "" {
		return models.BookingRequest{}, &ValidationError{Field: "service_type", Message: "choose a service"}
	}
	req := models.BookingRequest{
		Mobile:      d.Mobile,
		Name:        d.Name,
		Age:         d.Age,
		IsDisabled:  d.IsDisabled,
		ServiceType: d.ServiceType,
		BookingType: d.Mode.BookingType(),
	}
	if w.mode != models.ModePreBook {
		return req, nil
	}
	if d.ScheduledDate.IsZero() || d.ScheduledTimeSlot == "" {
		return models.BookingRequest{}, &ValidationError{Field: "scheduled_time", Message: "choose a time slot"}
	}
	at, err := models.CombineLocal(d.ScheduledDate, d.ScheduledTimeSlot)
	if err != nil {
		return models.BookingRequest{}, &ValidationError{Field: "scheduled_time", Message: err.Error()}
	}
	req.ScheduledTime = models.NewLocalTime(at)
	return req, nil
}

func containsDay(days []time.Time, date time.Time) bool {
	y, m, d := date.Date()
	for _, day := range days {
		dy, dm, dd := day.Date()
		if dy == y && dm == m && dd == d {
			return true
		}
	}
	return false
}
