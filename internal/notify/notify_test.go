package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"giftarb/internal/cache"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Send(ctx context.Context, chatID int64, text string) error {
	args := m.Called(ctx, chatID, text)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestManager_Notify(t *testing.T) {
	t.Run("channel and admin", func(t *testing.T) {
		sink := new(MockSink)
		sink.On("Send", mock.Anything, int64(100), "hello").Return(nil).Once()
		sink.On("Send", mock.Anything, int64(1), "hello").Return(nil).Once()

		m := NewManager(testLogger(), sink, 1, 100, nil, 0)
		assert.True(t, m.Notify(context.Background(), "hello"))
		sink.AssertExpectations(t)
	})

	t.Run("failure is reported not raised", func(t *testing.T) {
		sink := new(MockSink)
		sink.On("Send", mock.Anything, int64(1), "hello").Return(errors.New("blocked")).Once()

		m := NewManager(testLogger(), sink, 1, 0, nil, 0)
		assert.False(t, m.Notify(context.Background(), "hello"))
		sink.AssertExpectations(t)
	})
}

func TestManager_Alert(t *testing.T) {
	t.Run("admin only with prefix", func(t *testing.T) {
		sink := new(MockSink)
		sink.On("Send", mock.Anything, int64(1), AlertPrefix+"sell failed").Return(nil).Once()

		m := NewManager(testLogger(), sink, 1, 100, nil, 0)
		assert.True(t, m.Alert(context.Background(), "sell failed"))
		sink.AssertExpectations(t)
		sink.AssertNotCalled(t, "Send", mock.Anything, int64(100), mock.Anything)
	})

	t.Run("repeats suppressed within cooldown", func(t *testing.T) {
		sink := new(MockSink)
		sink.On("Send", mock.Anything, int64(1), mock.Anything).Return(nil)

		m := NewManager(testLogger(), sink, 1, 0, cache.NewMemoryCache(), time.Hour)
		assert.True(t, m.Alert(context.Background(), "auth failed"))
		assert.False(t, m.Alert(context.Background(), "auth failed"))
		assert.True(t, m.Alert(context.Background(), "another"))
		sink.AssertNumberOfCalls(t, "Send", 2)
	})

	t.Run("no admin configured", func(t *testing.T) {
		sink := new(MockSink)
		m := NewManager(testLogger(), sink, 0, 100, nil, 0)
		assert.False(t, m.Alert(context.Background(), "x"))
		sink.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	})
}
