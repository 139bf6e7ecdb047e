package broker

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
	"github.com/vadiminshakov/tvbridge/pkg/retrier"
)

type mockTracker struct {
	mock.Mock
}

func (m *mockTracker) PendingOrders() []domain.OrderRecord {
	args := m.Called()
	return args.Get(0).([]domain.OrderRecord)
}

func (m *mockTracker) OnFill(handle domain.OrderHandle, fill domain.FillResult) error {
	args := m.Called(handle, fill)
	return args.Error(0)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) OrderStatus(ctx context.Context, handle domain.OrderHandle) (domain.FillResult, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(domain.FillResult), args.Error(1)
}

func pendingRecord(id string, filled int64) domain.OrderRecord {
	return domain.OrderRecord{
		Intent:    intent(id, domain.SideBuy, 10, 100),
		Handle:    domain.OrderHandle{IntentID: id, Symbol: "AAPL"},
		Status:    domain.OrderStatusPending,
		FilledQty: decimal.NewFromInt(filled),
	}
}

func fastRetrier() *retrier.Retrier {
	return retrier.New(retrier.WithMaxRetries(1), retrier.WithInitialInterval(time.Millisecond))
}

func TestWatcher_PollForwardsChanges(t *testing.T) {
	tracker := new(mockTracker)
	source := new(mockSource)

	filled := pendingRecord("filled", 0)
	unchanged := pendingRecord("unchanged", 4)
	partial := pendingRecord("partial", 0)

	tracker.On("PendingOrders").Return([]domain.OrderRecord{filled, unchanged, partial})

	filledResult := domain.FillResult{Status: domain.FillStatusFilled, FilledQty: decimal.NewFromInt(10), AvgFillPrice: decimal.NewFromInt(100)}
	partialResult := domain.FillResult{Status: domain.FillStatusPartiallyFilled, FilledQty: decimal.NewFromInt(3), AvgFillPrice: decimal.NewFromInt(100)}

	source.On("OrderStatus", mock.Anything, filled.Handle).Return(filledResult, nil)
	source.On("OrderStatus", mock.Anything, unchanged.Handle).
		Return(domain.FillResult{Status: domain.FillStatusPartiallyFilled, FilledQty: decimal.NewFromInt(4)}, nil)
	source.On("OrderStatus", mock.Anything, partial.Handle).Return(partialResult, nil)

	tracker.On("OnFill", filled.Handle, filledResult).Return(nil)
	tracker.On("OnFill", partial.Handle, partialResult).Return(nil)

	var seen []string
	w, err := NewWatcher(tracker, source, time.Second, zap.NewNop(),
		WithStatusRetrier(fastRetrier()),
		WithFillListener(func(rec domain.OrderRecord, fill domain.FillResult) {
			seen = append(seen, rec.Intent.ID)
		}))
	require.NoError(t, err)

	assert.Equal(t, 2, w.Poll(context.Background()))
	assert.Equal(t, []string{"filled", "partial"}, seen)

	tracker.AssertExpectations(t)
	tracker.AssertNotCalled(t, "OnFill", unchanged.Handle, mock.Anything)
}

func TestWatcher_UnknownOrderIsClosed(t *testing.T) {
	tracker := new(mockTracker)
	source := new(mockSource)

	rec := pendingRecord("ghost", 0)
	tracker.On("PendingOrders").Return([]domain.OrderRecord{rec})
	source.On("OrderStatus", mock.Anything, rec.Handle).
		Return(domain.FillResult{}, errors.Wrap(domain.ErrUnknownOrder, "ghost")).Once()
	tracker.On("OnFill", rec.Handle, mock.MatchedBy(func(fill domain.FillResult) bool {
		return fill.Status == domain.FillStatusRejected && fill.FilledQty.IsZero()
	})).Return(nil).Once()

	var closed []domain.FillStatus
	w, err := NewWatcher(tracker, source, time.Second, zap.NewNop(),
		WithStatusRetrier(fastRetrier()),
		WithFillListener(func(_ domain.OrderRecord, fill domain.FillResult) {
			closed = append(closed, fill.Status)
		}))
	require.NoError(t, err)

	assert.Equal(t, 1, w.Poll(context.Background()))
	assert.Equal(t, []domain.FillStatus{domain.FillStatusRejected}, closed)
	source.AssertNumberOfCalls(t, "OrderStatus", 1)
	tracker.AssertExpectations(t)
}

func TestWatcher_ForwardsConfirmationOfUnconfirmedOrder(t *testing.T) {
	tracker := new(mockTracker)
	source := new(mockSource)

	rec := pendingRecord("lost-ack", 0)
	rec.Unconfirmed = true
	result := domain.FillResult{Status: domain.FillStatusNew, FilledQty: decimal.Zero}

	tracker.On("PendingOrders").Return([]domain.OrderRecord{rec})
	source.On("OrderStatus", mock.Anything, rec.Handle).Return(result, nil)
	tracker.On("OnFill", rec.Handle, result).Return(nil)

	w, err := NewWatcher(tracker, source, time.Second, zap.NewNop(), WithStatusRetrier(fastRetrier()))
	require.NoError(t, err)

	assert.Equal(t, 1, w.Poll(context.Background()))
	tracker.AssertExpectations(t)
}

func TestWatcher_TransientErrorsAreRetried(t *testing.T) {
	tracker := new(mockTracker)
	source := new(mockSource)

	rec := pendingRecord("flaky", 0)
	result := domain.FillResult{Status: domain.FillStatusFilled, FilledQty: decimal.NewFromInt(10)}

	tracker.On("PendingOrders").Return([]domain.OrderRecord{rec})
	source.On("OrderStatus", mock.Anything, rec.Handle).Return(domain.FillResult{}, errors.New("timeout")).Once()
	source.On("OrderStatus", mock.Anything, rec.Handle).Return(result, nil).Once()
	tracker.On("OnFill", rec.Handle, result).Return(nil)

	w, err := NewWatcher(tracker, source, time.Second, zap.NewNop(), WithStatusRetrier(fastRetrier()))
	require.NoError(t, err)

	assert.Equal(t, 1, w.Poll(context.Background()))
	tracker.AssertExpectations(t)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	tracker := new(mockTracker)
	tracker.On("PendingOrders").Return([]domain.OrderRecord{})

	w, err := NewWatcher(tracker, new(mockSource), 10*time.Millisecond, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))
}
