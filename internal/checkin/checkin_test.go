package checkin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"daso/internal/models"
)

type mockLooker struct {
	mock.Mock
}

func (m *mockLooker) CheckIn(ctx context.Context, req models.CheckInRequest) (*models.CheckInResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CheckInResult), args.Error(1)
}

const mobile = "9876543210"

func newController(t *testing.T, looker Looker, onComplete func(*models.CheckInResult)) (*Controller, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	c := New(Config{
		Looker:       looker,
		ScanDuration: 3 * time.Second,
		DisplayDelay: 2 * time.Second,
		Clock:        clock,
		OnComplete:   onComplete,
	})
	t.Cleanup(c.Close)
	return c, clock
}

func finishScan(t *testing.T, c *Controller, clock *clockwork.FakeClock) {
	t.Helper()
	clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return c.Snapshot().State == StateAwaitingInput }, time.Second, time.Millisecond)
}

func TestController_ScanningTimesOut(t *testing.T) {
	c, clock := newController(t, &mockLooker{}, nil)
	assert.Equal(t, StateScanning, c.Snapshot().State)

	_, err := c.SetMobile(mobile)
	assert.ErrorIs(t, err, ErrWrongState)

	clock.Advance(2 * time.Second)
	assert.Equal(t, StateScanning, c.Snapshot().State)
	finishScan(t, c, clock)
}

func TestController_ShortMobileRejected(t *testing.T) {
	looker := &mockLooker{}
	c, clock := newController(t, looker, nil)
	finishScan(t, c, clock)

	stored, err := c.SetMobile("98765-432")
	require.NoError(t, err)
	assert.Equal(t, "98765432", stored)
	assert.ErrorIs(t, c.Verify(context.Background()), ErrInvalidMobile)
	assert.Equal(t, StateAwaitingInput, c.Snapshot().State)
	looker.AssertNotCalled(t, "CheckIn", mock.Anything, mock.Anything)
}

func TestController_NegativeResultIsError(t *testing.T) {
	looker := &mockLooker{}
	c, clock := newController(t, looker, nil)
	ctx := context.Background()
	finishScan(t, c, clock)

	looker.On("CheckIn", ctx, models.CheckInRequest{Mobile: mobile}).
		Return(&models.CheckInResult{Success: false, Message: "No appointment found"}, nil).Once()

	_, err := c.SetMobile(mobile)
	require.NoError(t, err)
	require.NoError(t, c.Verify(ctx))

	snap := c.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "No appointment found", snap.Message)
	assert.Nil(t, snap.Result)

	require.NoError(t, c.Retry())
	assert.Equal(t, StateAwaitingInput, c.Snapshot().State)
	assert.ErrorIs(t, c.Retry(), ErrWrongState)
}

func TestController_TransportErrorIsRetryable(t *testing.T) {
	looker := &mockLooker{}
	c, clock := newController(t, looker, nil)
	ctx := context.Background()
	finishScan(t, c, clock)

	errDown := errors.New("connection reset")
	looker.On("CheckIn", ctx, mock.Anything).Return(nil, errDown).Once()
	_, _ = c.SetMobile(mobile)

	assert.ErrorIs(t, c.Verify(ctx), errDown)
	assert.Equal(t, StateError, c.Snapshot().State)
	assert.NotEmpty(t, c.Snapshot().Message)
	require.NoError(t, c.Retry())
}

func TestController_SuccessCompletesAfterDelay(t *testing.T) {
	looker := &mockLooker{}
	completed := make(chan *models.CheckInResult, 1)
	c, clock := newController(t, looker, func(r *models.CheckInResult) { completed <- r })
	ctx := context.Background()
	finishScan(t, c, clock)

	pos := 2
	looker.On("CheckIn", ctx, models.CheckInRequest{Mobile: mobile}).
		Return(&models.CheckInResult{Success: true, Message: "Welcome", TokenNumber: "1810-0007", QueuePosition: &pos}, nil).Once()

	_, _ = c.SetMobile(mobile)
	require.NoError(t, c.Verify(ctx))
	snap := c.Snapshot()
	assert.Equal(t, StateSuccess, snap.State)
	assert.Equal(t, "1810-0007", snap.Result.TokenNumber)

	assert.ErrorIs(t, c.Verify(ctx), ErrWrongState)
	assert.ErrorIs(t, c.Retry(), ErrWrongState)

	clock.Advance(2 * time.Second)
	select {
	case r := <-completed:
		assert.Equal(t, "1810-0007", r.TokenNumber)
	case <-time.After(time.Second):
		t.Fatal("completion callback not called")
	}
	looker.AssertNumberOfCalls(t, "CheckIn", 1)
}

func TestController_CloseCancelsTimers(t *testing.T) {
	looker := &mockLooker{}
	called := make(chan struct{}, 1)
	c, clock := newController(t, looker, func(*models.CheckInResult) { called <- struct{}{} })
	ctx := context.Background()
	finishScan(t, c, clock)

	looker.On("CheckIn", ctx, mock.Anything).Return(&models.CheckInResult{Success: true}, nil).Once()
	_, _ = c.SetMobile(mobile)
	require.NoError(t, c.Verify(ctx))

	c.Close()
	c.Close()
	clock.Advance(time.Minute)
	select {
	case <-called:
		t.Fatal("completion fired after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestController_CloseDuringScan(t *testing.T) {
	c, clock := newController(t, &mockLooker{}, nil)
	c.Close()
	clock.Advance(time.Minute)
	assert.Equal(t, StateScanning, c.Snapshot().State)
	_, err := c.SetMobile(mobile)
	assert.ErrorIs(t, err, ErrClosed)
}
