package wizard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"daso/internal/events"
	"daso/internal/models"
)

type mockBooker struct {
	mock.Mock
}

func (m *mockBooker) Book(ctx context.Context, req models.BookingRequest) (*models.BookingResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BookingResult), args.Error(1)
}

type stubCatalog struct {
	entries []models.ServiceCatalogEntry
	err     error
	calls   int
}

func (s *stubCatalog) ServiceTypes(ctx context.Context) ([]models.ServiceCatalogEntry, error) {
	s.calls++
	return s.entries, s.err
}

type stubPlanner struct {
	today time.Time
	slots []models.TimeSlot
	asked []time.Time
}

func (p *stubPlanner) Slots(ctx context.Context, date time.Time) ([]models.TimeSlot, error) {
	p.asked = append(p.asked, date)
	return p.slots, nil
}

func (p *stubPlanner) Dates(days int) []time.Time {
	out := make([]time.Time, 0, days+1)
	for i := 0; i <= days; i++ {
		out = append(out, p.today.AddDate(0, 0, i))
	}
	return out
}

var (
	today   = time.Date(2026, 10, 18, 0, 0, 0, 0, time.Local)
	catalog = []models.ServiceCatalogEntry{
		{ID: "Cash_Deposit", Name: "Cash_Deposit", BaseDurationMin: 5},
		{ID: "KYC_Update", Name: "KYC Update", BaseDurationMin: 12},
	}
)

func okResult(token string) *models.BookingResult {
	return &models.BookingResult{Success: true, TokenNumber: token, PredictedDurationMin: 5}
}

func newWizard(t *testing.T, mode models.BookingMode, booker Booker, onSuccess func(*models.BookingResult)) (*Wizard, *stubPlanner) {
	t.Helper()
	planner := &stubPlanner{
		today: today,
		slots: []models.TimeSlot{
			{Time: "09:00", Available: false},
			{Time: "09:30", Available: true},
			{Time: "14:30", Available: true},
		},
	}
	w, err := New(context.Background(), Config{
		Mode:      mode,
		Booker:    booker,
		Catalog:   &stubCatalog{entries: catalog},
		Planner:   planner,
		OnSuccess: onSuccess,
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w, planner
}

func enterContact(t *testing.T, w *Wizard) {
	t.Helper()
	got, err := w.SetMobile("98765 43210")
	require.NoError(t, err)
	require.Equal(t, "9876543210", got)
	require.NoError(t, w.SubmitContact())
}

func TestWizard_MobileGate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		stored string
		ok     bool
	}{
		{"ten digits", "9876543210", "9876543210", true},
		{"formatted", "+(987) 654-3210", "9876543210", true},
		{"too short", "98765", "98765", false},
		{"eleven digits truncated", "98765432101", "9876543210", true},
		{"letters only", "call me", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newWizard(t, models.ModeWalkIn, &mockBooker{}, nil)
			stored, err := w.SetMobile(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, stored)
			assert.LessOrEqual(t, len(stored), models.MobileDigits)

			err = w.SubmitContact()
			if tt.ok {
				assert.NoError(t, err)
				assert.Equal(t, StepService, w.Snapshot().Step)
				return
			}
			assert.True(t, IsValidation(err))
			assert.Equal(t, StepContact, w.Snapshot().Step)
		})
	}
}

func TestWizard_AgeValidation(t *testing.T) {
	w, _ := newWizard(t, models.ModeWalkIn, &mockBooker{}, nil)
	assert.Equal(t, models.DefaultAge, w.Snapshot().Draft.Age)
	assert.True(t, IsValidation(w.SetAge(12)))
	assert.NoError(t, w.SetAge(64))
	assert.Equal(t, 64, w.Snapshot().Draft.Age)
}

func TestWizard_WalkInTapSubmits(t *testing.T) {
	booker := &mockBooker{}
	var delivered *models.BookingResult
	w, _ := newWizard(t, models.ModeWalkIn, booker, func(r *models.BookingResult) { delivered = r })
	ctx := context.Background()

	require.NoError(t, w.SetName("Asha"))
	require.NoError(t, w.SetDisabled(true))
	enterContact(t, w)

	booker.On("Book", ctx, models.BookingRequest{
		Mobile:      "9876543210",
		Name:        "Asha",
		Age:         models.DefaultAge,
		IsDisabled:  true,
		ServiceType: "KYC_Update",
		BookingType: models.BookingWalkIn,
	}).Return(okResult("1810-0001"), nil).Once()

	require.NoError(t, w.SelectService(ctx, "KYC_Update"))

	snap := w.Snapshot()
	assert.Equal(t, StepDone, snap.Step)
	require.NotNil(t, delivered)
	assert.Equal(t, "1810-0001", delivered.TokenNumber)

	// Terminal: nothing moves any more.
	assert.ErrorIs(t, w.Back(), ErrDone)
	_, err := w.Submit(ctx)
	assert.ErrorIs(t, err, ErrDone)
	booker.AssertNumberOfCalls(t, "Book", 1)
}

func TestWizard_UnknownServiceRejected(t *testing.T) {
	booker := &mockBooker{}
	w, _ := newWizard(t, models.ModeWalkIn, booker, nil)
	enterContact(t, w)

	err := w.SelectService(context.Background(), "Gold_Loan")
	assert.True(t, IsValidation(err))
	booker.AssertNotCalled(t, "Book", mock.Anything, mock.Anything)
}

func TestWizard_FailureStaysOnStep(t *testing.T) {
	booker := &mockBooker{}
	w, _ := newWizard(t, models.ModeWalkIn, booker, nil)
	ctx := context.Background()
	enterContact(t, w)

	errDown := errors.New("503")
	booker.On("Book", ctx, mock.Anything).Return(nil, errDown).Once()
	err := w.SelectService(ctx, "Cash_Deposit")
	assert.ErrorIs(t, err, errDown)

	snap := w.Snapshot()
	assert.Equal(t, StepService, snap.Step)
	assert.ErrorIs(t, snap.Err, errDown)
	assert.False(t, snap.Submitting)

	booker.On("Book", ctx, mock.Anything).Return(&models.BookingResult{Success: false, Message: "Service closed"}, nil).Once()
	_, err = w.Submit(ctx)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StepService, w.Snapshot().Step)

	booker.On("Book", ctx, mock.Anything).Return(okResult("1810-0002"), nil).Once()
	res, err := w.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1810-0002", res.TokenNumber)
}

func TestWizard_SingleSubmissionInFlight(t *testing.T) {
	booker := &mockBooker{}
	w, _ := newWizard(t, models.ModeWalkIn, booker, nil)
	ctx := context.Background()
	enterContact(t, w)

	release := make(chan struct{})
	booker.On("Book", ctx, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(okResult("1810-0003"), nil).Once()

	done := make(chan error, 1)
	go func() { done <- w.SelectService(ctx, "Cash_Deposit") }()
	require.Eventually(t, func() bool { return w.Snapshot().Submitting }, time.Second, time.Millisecond)

	_, err := w.Submit(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	matched, err := w.HandleTranscript(ctx, "kyc update")
	assert.False(t, matched)
	assert.NoError(t, err)
	assert.False(t, w.Snapshot().CanSubmit())

	close(release)
	require.NoError(t, <-done)
	booker.AssertNumberOfCalls(t, "Book", 1)
}

func TestWizard_VoiceMatchWalkInAutoSubmits(t *testing.T) {
	booker := &mockBooker{}
	w, _ := newWizard(t, models.ModeWalkIn, booker, nil)
	ctx := context.Background()
	enterContact(t, w)

	matched, err := w.HandleTranscript(ctx, "I want to open a locker")
	assert.False(t, matched)
	assert.NoError(t, err)
	assert.Equal(t, StepService, w.Snapshot().Step)

	booker.On("Book", ctx, mock.MatchedBy(func(r models.BookingRequest) bool {
		return r.ServiceType == "Cash_Deposit"
	})).Return(okResult("1810-0004"), nil).Once()

	matched, err = w.HandleTranscript(ctx, "Cash deposit please")
	assert.True(t, matched)
	require.NoError(t, err)
	assert.Equal(t, StepDone, w.Snapshot().Step)
}

func TestWizard_LateVoiceResultIgnored(t *testing.T) {
	w, _ := newWizard(t, models.ModePreBook, &mockBooker{}, nil)
	ctx := context.Background()

	// Still on step 1.
	matched, err := w.HandleTranscript(ctx, "cash deposit")
	assert.False(t, matched)
	assert.NoError(t, err)

	enterContact(t, w)
	require.NoError(t, w.SelectService(ctx, "KYC_Update"))
	require.Equal(t, StepTimeSlot, w.Snapshot().Step)

	matched, _ = w.HandleTranscript(ctx, "cash deposit")
	assert.False(t, matched)
	assert.Equal(t, "KYC_Update", w.Snapshot().Draft.ServiceType)
}

func TestWizard_PreBookFlow(t *testing.T) {
	booker := &mockBooker{}
	bus := events.NewEventBus()
	var published []models.BookingResult
	bus.Subscribe(events.BookingCreated, func(e events.Event) {
		published = append(published, e.Payload.(models.BookingResult))
	})

	w, planner := newWizard(t, models.ModePreBook, booker, nil)
	w.bus = bus
	ctx := context.Background()
	enterContact(t, w)

	// Voice only selects in pre-book mode.
	matched, err := w.HandleTranscript(ctx, "kyc update")
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, StepService, w.Snapshot().Step)

	require.NoError(t, w.Continue(ctx))
	snap := w.Snapshot()
	assert.Equal(t, StepTimeSlot, snap.Step)
	assert.Equal(t, today, snap.Draft.ScheduledDate)
	assert.Len(t, snap.Dates, defaultDaysAhead+1)
	assert.False(t, snap.CanSubmit())

	// No slot yet: rejected before any request.
	_, err = w.Submit(ctx)
	assert.True(t, IsValidation(err))

	day := today.AddDate(0, 0, 2)
	require.NoError(t, w.SelectDate(ctx, day))
	assert.Equal(t, []time.Time{today, day}, planner.asked)
	assert.True(t, IsValidation(w.SelectDate(ctx, today.AddDate(0, 0, 45))))

	assert.ErrorIs(t, w.SelectSlot("09:00"), ErrSlotUnavailable)
	assert.ErrorIs(t, w.SelectSlot("10:00"), ErrSlotUnavailable)
	assert.Empty(t, w.Snapshot().Draft.ScheduledTimeSlot)

	require.NoError(t, w.SelectSlot("14:30"))
	assert.ErrorIs(t, w.SelectSlot("09:00"), ErrSlotUnavailable)
	assert.Equal(t, "14:30", w.Snapshot().Draft.ScheduledTimeSlot)
	assert.True(t, w.Snapshot().CanSubmit())

	booker.On("Book", ctx, mock.MatchedBy(func(r models.BookingRequest) bool {
		if r.ScheduledTime == nil || r.BookingType != models.BookingPreBooked {
			return false
		}
		at := r.ScheduledTime.Time
		return at.Location() == time.Local &&
			at.Equal(time.Date(2026, 10, 20, 14, 30, 0, 0, time.Local)) &&
			at.Hour() == 14 && at.Minute() == 30
	})).Return(okResult("2010-0001"), nil).Once()

	res, err := w.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2010-0001", res.TokenNumber)
	require.Len(t, published, 1)
	assert.Equal(t, "2010-0001", published[0].TokenNumber)
	booker.AssertExpectations(t)
}

func TestWizard_Back(t *testing.T) {
	w, _ := newWizard(t, models.ModePreBook, &mockBooker{}, nil)
	ctx := context.Background()
	enterContact(t, w)
	require.NoError(t, w.SelectService(ctx, "Cash_Deposit"))
	require.NoError(t, w.SelectSlot("09:30"))

	require.NoError(t, w.Back())
	snap := w.Snapshot()
	assert.Equal(t, StepService, snap.Step)
	assert.Empty(t, snap.Draft.ScheduledTimeSlot)
	assert.Equal(t, "Cash_Deposit", snap.Draft.ServiceType)

	require.NoError(t, w.Back())
	assert.Equal(t, StepContact, w.Snapshot().Step)
	require.NoError(t, w.Back())
	assert.Equal(t, StepContact, w.Snapshot().Step)
}

func TestWizard_CatalogFallback(t *testing.T) {
	src := &stubCatalog{err: errors.New("timeout")}
	w, err := New(context.Background(), Config{Mode: models.ModeWalkIn, Booker: &mockBooker{}, Catalog: src})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCatalog(), w.Snapshot().Catalog)
	assert.Equal(t, 1, src.calls)

	_, err = New(context.Background(), Config{Mode: models.ModePreBook, Booker: &mockBooker{}})
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Mode: "drive_through", Booker: &mockBooker{}})
	assert.Error(t, err)
}

func TestMatchService(t *testing.T) {
	got, ok := MatchService([]models.ServiceCatalogEntry{{ID: "Cash_Deposit", Name: "Cash_Deposit"}}, "cash deposit please")
	require.True(t, ok)
	assert.Equal(t, "Cash_Deposit", got.ID)

	got, ok = MatchService(models.DefaultCatalog(), "FOREX exchange")
	require.True(t, ok)
	assert.Equal(t, "Forex", got.ID)

	_, ok = MatchService(models.DefaultCatalog(), "   ")
	assert.False(t, ok)
}

func TestFSM(t *testing.T) {
	fsm := NewFSM()
	tests := []struct {
		name     string
		mode     models.BookingMode
		from, to Step
		allowed  bool
	}{
		{"walk-in contact to service", models.ModeWalkIn, StepContact, StepService, true},
		{"walk-in service to done", models.ModeWalkIn, StepService, StepDone, true},
		{"walk-in never sees slots", models.ModeWalkIn, StepService, StepTimeSlot, false},
		{"pre-book service to slots", models.ModePreBook, StepService, StepTimeSlot, true},
		{"pre-book cannot finish from service", models.ModePreBook, StepService, StepDone, false},
		{"pre-book slots back to service", models.ModePreBook, StepTimeSlot, StepService, true},
		{"contact cannot skip ahead", models.ModePreBook, StepContact, StepTimeSlot, false},
		{"done is terminal", models.ModeWalkIn, StepDone, StepContact, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, fsm.CanTransition(tt.mode, tt.from, tt.to))
		})
	}
}
