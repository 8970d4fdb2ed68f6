package sender

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maximaxme/subboy/internal/lib/sl"
	"github.com/maximaxme/subboy/internal/metrics"
	"github.com/maximaxme/subboy/internal/models"
	"github.com/maximaxme/subboy/internal/services/reminder"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, chatID int64, text string) error {
	args := m.Called(ctx, chatID, text)
	return args.Error(0)
}

func reminders(today time.Time, userIDs ...int64) []reminder.Reminder {
	out := make([]reminder.Reminder, 0, len(userIDs))
	for _, id := range userIDs {
		out = append(out, reminder.Reminder{
			UserID: id,
			Kind:   reminder.KindDayBefore,
			Today:  today,
			Subscriptions: []*models.Subscription{{
				UserID:      id,
				Name:        "Netflix",
				Price:       decimal.RequireFromString("799"),
				Currency:    "RUB",
				Period:      models.PeriodMonthly,
				NextPayment: today.AddDate(0, 0, 1),
				IsActive:    true,
			}},
		})
	}
	return out
}

func TestDispatch(t *testing.T) {
	today := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	kind := reminder.NewDayBefore(1, 9)

	tests := []struct {
		name       string
		users      []int64
		setupMock  func(m *MockNotifier)
		wantResult Result
	}{
		{
			name:  "all delivered",
			users: []int64{1, 2},
			setupMock: func(m *MockNotifier) {
				m.On("Send", mock.Anything, int64(1), mock.AnythingOfType("string")).Return(nil).Once()
				m.On("Send", mock.Anything, int64(2), mock.AnythingOfType("string")).Return(nil).Once()
			},
			wantResult: Result{Sent: 2},
		},
		{
			name:  "failure of one recipient does not stop others",
			users: []int64{1, 2, 3},
			setupMock: func(m *MockNotifier) {
				m.On("Send", mock.Anything, int64(1), mock.Anything).Return(errors.New("forbidden: bot was blocked by the user")).Once()
				m.On("Send", mock.Anything, int64(2), mock.Anything).Return(nil).Once()
				m.On("Send", mock.Anything, int64(3), mock.Anything).Return(nil).Once()
			},
			wantResult: Result{Sent: 2, Failed: 1},
		},
		{
			name:  "panic in transport is isolated",
			users: []int64{1, 2},
			setupMock: func(m *MockNotifier) {
				m.On("Send", mock.Anything, int64(1), mock.Anything).Run(func(mock.Arguments) { panic("boom") }).Once()
				m.On("Send", mock.Anything, int64(2), mock.Anything).Return(nil).Once()
			},
			wantResult: Result{Sent: 1, Failed: 1},
		},
		{
			name:       "no reminders",
			users:      nil,
			setupMock:  func(*MockNotifier) {},
			wantResult: Result{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := new(MockNotifier)
			tt.setupMock(notifier)

			d := New(notifier, sl.Discard(), nil)
			res := d.Dispatch(context.Background(), kind, reminders(today, tt.users...))

			assert.Equal(t, tt.wantResult, res)
			notifier.AssertExpectations(t)
		})
	}
}

func TestDispatch_MessageText(t *testing.T) {
	today := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	kind := reminder.NewDayBefore(1, 9)
	rs := reminders(today, 42)

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, int64(42), kind.Format(rs[0])).Return(nil).Once()

	res := New(notifier, sl.Discard(), nil).Dispatch(context.Background(), kind, rs)
	assert.Equal(t, 1, res.Sent)
	notifier.AssertExpectations(t)
}

func TestDispatch_ContextCancelled(t *testing.T) {
	today := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, int64(1), mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(nil).Once()

	res := New(notifier, sl.Discard(), nil).Dispatch(ctx, reminder.NewDayBefore(1, 9), reminders(today, 1, 2, 3))

	assert.Equal(t, Result{Sent: 1, Abandoned: 2}, res)
	notifier.AssertExpectations(t)
	notifier.AssertNotCalled(t, "Send", mock.Anything, int64(2), mock.Anything)
}

func TestDispatch_Metrics(t *testing.T) {
	today := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, int64(1), mock.Anything).Return(nil)
	notifier.On("Send", mock.Anything, int64(2), mock.Anything).Return(errors.New("timeout"))

	New(notifier, sl.Discard(), m).Dispatch(context.Background(), reminder.NewWeekly(9), reminders(today, 1, 2))

	assert.Equal(t, 2, testutil.CollectAndCount(reg, "subboy_notify_deliveries_total"))
}

func TestSend(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("Send", mock.Anything, int64(7), "hello").Return(nil).Once()
	notifier.On("Send", mock.Anything, int64(8), "hello").Return(errors.New("chat not found")).Once()

	d := New(notifier, sl.Discard(), nil)
	assert.True(t, d.Send(context.Background(), 7, "hello"))
	assert.False(t, d.Send(context.Background(), 8, "hello"))
	notifier.AssertExpectations(t)
}

func TestHandleQueued(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		setupMock func(m *MockNotifier)
		wantErr   error
		anyErr    bool
	}{
		{
			name: "delivered",
			body: `{"chat_id": 5, "text": "hi"}`,
			setupMock: func(m *MockNotifier) {
				m.On("Send", mock.Anything, int64(5), "hi").Return(nil).Once()
			},
		},
		{
			name:      "malformed json",
			body:      `{"chat_id":`,
			setupMock: func(*MockNotifier) {},
			wantErr:   ErrBadMessage,
		},
		{
			name:      "empty text",
			body:      `{"chat_id": 5}`,
			setupMock: func(*MockNotifier) {},
			wantErr:   ErrBadMessage,
		},
		{
			name: "transport failure",
			body: `{"chat_id": 5, "text": "hi"}`,
			setupMock: func(m *MockNotifier) {
				m.On("Send", mock.Anything, int64(5), "hi").Return(errors.New("503")).Once()
			},
			anyErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := new(MockNotifier)
			tt.setupMock(notifier)

			err := New(notifier, sl.Discard(), nil).HandleQueued(context.Background(), []byte(tt.body))
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.anyErr:
				require.Error(t, err)
			default:
				require.NoError(t, err)
			}
			notifier.AssertExpectations(t)
		})
	}
}
