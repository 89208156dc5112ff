package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"daso/internal/events"
	"daso/internal/models"
	"daso/internal/queueview"
)

type mockPoster struct {
	mock.Mock
}

func (m *mockPoster) StaffUpdate(ctx context.Context, req models.StaffActionRequest) (*models.StaffActionResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StaffActionResult), args.Error(1)
}

var t0 = time.Date(2026, 10, 18, 10, 0, 0, 0, time.Local)

type fixture struct {
	ctrl      *Controller
	poster    *mockPoster
	clock     *clockwork.FakeClock
	refreshes int
	bus       *events.EventBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{poster: &mockPoster{}, clock: clockwork.NewFakeClockAt(t0), bus: events.NewEventBus()}
	f.ctrl = New(Config{
		Counter: 1,
		StaffID: 7,
		Poster:  f.poster,
		Refresh: func() { f.refreshes++ },
		Clock:   f.clock,
		Events:  f.bus,
	})
	t.Cleanup(f.ctrl.Close)
	return f
}

func customer(id int64, predicted float64, start *time.Time) models.QueueEntry {
	counter := 1
	e := models.QueueEntry{
		ID:                   id,
		TokenNumber:          "1810-000" + string(rune('0'+id)),
		Status:               models.StatusWaiting,
		PredictedDurationMin: &predicted,
	}
	if start != nil {
		e.Status = models.StatusInProgress
		e.AssignedCounter = &counter
		e.StartTime = models.NewLocalTime(*start)
	}
	return e
}

func viewOf(entries ...models.QueueEntry) queueview.View {
	return queueview.Derive(entries, 1)
}

func req(id int64, action models.StaffAction) models.StaffActionRequest {
	return models.StaffActionRequest{QueueID: id, Action: action, CounterNumber: 1, StaffID: 7}
}

func TestController_EmptyUntilCustomerArrives(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, StateEmpty, f.ctrl.Snapshot().State)

	f.ctrl.OnSnapshot(viewOf())
	assert.Equal(t, StateEmpty, f.ctrl.Snapshot().State)

	err := f.ctrl.Dispatch(context.Background(), models.ActionStart)
	assert.ErrorIs(t, err, ErrNotAllowed)
	f.poster.AssertNotCalled(t, "StaffUpdate", mock.Anything, mock.Anything)
}

func TestController_StartThenComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.OnSnapshot(viewOf(customer(1, 10, nil), customer(2, 5, nil)))

	snap := f.ctrl.Snapshot()
	require.Equal(t, StateAssigned, snap.State)
	assert.Equal(t, int64(1), snap.Customer.ID)
	assert.True(t, snap.Allowed(models.ActionStart))
	assert.True(t, snap.Allowed(models.ActionNoShow))
	assert.False(t, snap.Allowed(models.ActionComplete))

	assert.ErrorIs(t, f.ctrl.Dispatch(ctx, models.ActionComplete), ErrNotAllowed)

	started := t0.Add(-time.Minute)
	f.poster.On("StaffUpdate", ctx, req(1, models.ActionStart)).
		Return(&models.StaffActionResult{Success: true, Action: "start", QueueID: 1, StartTime: models.NewLocalTime(started)}, nil).Once()
	require.NoError(t, f.ctrl.Dispatch(ctx, models.ActionStart))

	snap = f.ctrl.Snapshot()
	assert.Equal(t, StateInService, snap.State)
	assert.InDelta(t, 1.0, snap.ElapsedMinutes, 0.001)
	assert.Equal(t, OnTrack, snap.Performance)
	assert.Equal(t, 1, f.refreshes)

	f.clock.Advance(8*time.Minute + 30*time.Second)
	f.ctrl.OnTick(f.clock.Now())
	snap = f.ctrl.Snapshot()
	assert.InDelta(t, 9.5, snap.ElapsedMinutes, 0.001)
	assert.Equal(t, AtRisk, snap.Performance)

	f.poster.On("StaffUpdate", ctx, req(1, models.ActionComplete)).
		Return(&models.StaffActionResult{Success: true, Action: "complete", QueueID: 1}, nil).Once()
	require.NoError(t, f.ctrl.Dispatch(ctx, models.ActionComplete))
	assert.Equal(t, StateCompleted, f.ctrl.Snapshot().State)
	assert.Equal(t, 2, f.refreshes)
	f.poster.AssertExpectations(t)
}

func TestController_FailureKeepsState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.OnSnapshot(viewOf(customer(3, 10, nil)))

	errDown := errors.New("connection refused")
	f.poster.On("StaffUpdate", ctx, req(3, models.ActionStart)).Return(nil, errDown).Once()

	err := f.ctrl.Dispatch(ctx, models.ActionStart)
	assert.ErrorIs(t, err, errDown)

	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateAssigned, snap.State)
	assert.ErrorIs(t, snap.LastError, errDown)
	assert.False(t, snap.Busy)
	assert.Equal(t, 0, f.refreshes)

	// Retry is allowed.
	f.poster.On("StaffUpdate", ctx, req(3, models.ActionStart)).
		Return(&models.StaffActionResult{Success: true}, nil).Once()
	require.NoError(t, f.ctrl.Dispatch(ctx, models.ActionStart))
	snap = f.ctrl.Snapshot()
	assert.Equal(t, StateInService, snap.State)
	assert.NoError(t, snap.LastError)
}

func TestController_RejectedAckIsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.OnSnapshot(viewOf(customer(4, 10, nil)))

	f.poster.On("StaffUpdate", ctx, req(4, models.ActionNoShow)).
		Return(&models.StaffActionResult{Success: false, Message: "already served"}, nil).Once()

	err := f.ctrl.Dispatch(ctx, models.ActionNoShow)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StateAssigned, f.ctrl.Snapshot().State)
}

func TestController_BusyGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.OnSnapshot(viewOf(customer(5, 10, nil)))

	release := make(chan struct{})
	f.poster.On("StaffUpdate", ctx, req(5, models.ActionStart)).
		Run(func(mock.Arguments) { <-release }).
		Return(&models.StaffActionResult{Success: true}, nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Dispatch(ctx, models.ActionStart) }()
	require.Eventually(t, func() bool { return f.ctrl.Snapshot().Busy }, time.Second, time.Millisecond)

	assert.ErrorIs(t, f.ctrl.Dispatch(ctx, models.ActionStart), ErrBusy)
	assert.ErrorIs(t, f.ctrl.Dispatch(ctx, models.ActionNoShow), ErrBusy)
	assert.False(t, f.ctrl.Snapshot().Allowed(models.ActionNoShow))

	close(release)
	require.NoError(t, <-done)
	f.poster.AssertNumberOfCalls(t, "StaffUpdate", 1)
}

func TestController_TerminalSurvivesStaleSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := t0.Add(-3 * time.Minute)
	f.ctrl.OnSnapshot(viewOf(customer(6, 10, &started), customer(8, 5, nil)))
	require.Equal(t, StateInService, f.ctrl.Snapshot().State)

	f.poster.On("StaffUpdate", ctx, req(6, models.ActionComplete)).
		Return(&models.StaffActionResult{Success: true}, nil).Once()
	require.NoError(t, f.ctrl.Dispatch(ctx, models.ActionComplete))

	// A poll that left before the ack still shows customer 6 in progress.
	f.ctrl.OnSnapshot(viewOf(customer(6, 10, &started), customer(8, 5, nil)))
	assert.Equal(t, StateCompleted, f.ctrl.Snapshot().State)

	f.ctrl.OnSnapshot(viewOf(customer(8, 5, nil)))
	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateAssigned, snap.State)
	assert.Equal(t, int64(8), snap.Customer.ID)
	assert.Zero(t, snap.ElapsedMinutes)
}

func TestController_LocalStartSurvivesStaleSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.OnSnapshot(viewOf(customer(9, 10, nil)))

	f.poster.On("StaffUpdate", ctx, req(9, models.ActionStart)).
		Return(&models.StaffActionResult{Success: true}, nil).Once()
	require.NoError(t, f.ctrl.Dispatch(ctx, models.ActionStart))

	f.ctrl.OnSnapshot(viewOf(customer(9, 10, nil)))
	assert.Equal(t, StateInService, f.ctrl.Snapshot().State)
}

func TestController_CustomerDisappears(t *testing.T) {
	f := newFixture(t)
	started := t0
	f.ctrl.OnSnapshot(viewOf(customer(10, 10, &started)))
	require.Equal(t, StateInService, f.ctrl.Snapshot().State)

	f.ctrl.OnSnapshot(viewOf())
	snap := f.ctrl.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.Nil(t, snap.Customer)
}

func TestController_AnomaliesAreExposed(t *testing.T) {
	f := newFixture(t)
	started := t0
	a := customer(12, 10, &started)
	b := customer(11, 10, &started)

	f.ctrl.OnSnapshot(viewOf(a, b))
	snap := f.ctrl.Snapshot()
	assert.Equal(t, int64(11), snap.Customer.ID)
	require.Len(t, snap.Anomalies, 1)
	assert.Equal(t, queueview.DuplicateInProgress, snap.Anomalies[0].Kind)
}

func TestController_LateResultAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ctrl.OnSnapshot(viewOf(customer(13, 10, nil)))

	f.poster.On("StaffUpdate", ctx, req(13, models.ActionStart)).
		Run(func(mock.Arguments) { f.ctrl.Close() }).
		Return(&models.StaffActionResult{Success: true}, nil).Once()

	assert.ErrorIs(t, f.ctrl.Dispatch(ctx, models.ActionStart), ErrClosed)
	assert.Equal(t, StateAssigned, f.ctrl.Snapshot().State)
	assert.Equal(t, 0, f.refreshes)

	f.ctrl.OnSnapshot(viewOf())
	assert.Equal(t, StateAssigned, f.ctrl.Snapshot().State)
}

func TestController_PublishesActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var got []ActionOutcome
	f.bus.Subscribe(events.SessionAction, func(e events.Event) {
		got = append(got, e.Payload.(ActionOutcome))
	})
	f.ctrl.OnSnapshot(viewOf(customer(14, 10, nil)))
	f.poster.On("StaffUpdate", ctx, req(14, models.ActionNoShow)).
		Return(&models.StaffActionResult{Success: true}, nil).Once()

	require.NoError(t, f.ctrl.Dispatch(ctx, models.ActionNoShow))
	require.Len(t, got, 1)
	assert.Equal(t, int64(14), got[0].QueueID)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, StateNoShow, f.ctrl.Snapshot().State)
}

func TestController_RunTicksElapsed(t *testing.T) {
	f := newFixture(t)
	started := t0
	f.ctrl.OnSnapshot(viewOf(customer(15, 10, &started)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.ctrl.Run(ctx)

	require.Eventually(t, func() bool {
		f.clock.Advance(30 * time.Second)
		return f.ctrl.Snapshot().ElapsedMinutes >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		elapsed   float64
		predicted float64
		want      Performance
	}{
		{"no prediction", 3, 0, PerformanceUnknown},
		{"well under", 2, 10, OnTrack},
		{"at 80 percent", 8, 10, OnTrack},
		{"just past 80 percent", 8.1, 10, AtRisk},
		{"exactly predicted", 10, 10, AtRisk},
		{"over", 10.5, 10, Overrun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Evaluate(tt.elapsed, tt.predicted))
		})
	}
}
