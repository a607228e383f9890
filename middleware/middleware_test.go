package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jmtp/message"
)

func query() *message.Frame {
	return &message.Frame{Command: message.CmdGet, ID: 1, To: "svc@host", From: "alice@host", Payload: "ping"}
}

func echoHandler(ctx context.Context, q *message.Frame) (any, error) {
	return q.Payload, nil
}

func slowHandler(ctx context.Context, q *message.Frame) (any, error) {
	time.Sleep(200 * time.Millisecond)
	return "late", nil
}

func groupOf(t *testing.T, err error) string {
	t.Helper()
	var appErr *message.Error
	require.True(t, errors.As(err, &appErr), "expect *message.Error, got %v", err)
	return appErr.Group
}

func TestLogging(t *testing.T) {
	value, err := LoggingMiddleware()(echoHandler)(context.Background(), query())
	require.NoError(t, err)
	assert.Equal(t, "ping", value)
}

func TestTimeoutPass(t *testing.T) {
	value, err := TimeOutMiddleware(500*time.Millisecond)(echoHandler)(context.Background(), query())
	require.NoError(t, err)
	assert.Equal(t, "ping", value)
}

func TestTimeoutExceeded(t *testing.T) {
	_, err := TimeOutMiddleware(50*time.Millisecond)(slowHandler)(context.Background(), query())
	assert.Equal(t, message.GroupRemoteServerTimeout, groupOf(t, err))
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first 2 pass, the third is rejected
	handler := RateLimitMiddleware(1, 2)(echoHandler)
	for i := 0; i < 2; i++ {
		_, err := handler(context.Background(), query())
		require.NoError(t, err, "request %d should pass", i)
	}
	_, err := handler(context.Background(), query())
	assert.Equal(t, message.GroupResourceConstraint, groupOf(t, err))
	assert.True(t, IsTemporary(err))
}

func TestRetryTemporary(t *testing.T) {
	calls := 0
	flaky := func(ctx context.Context, q *message.Frame) (any, error) {
		calls++
		if calls < 3 {
			return nil, message.NewError(message.ErrorWait, message.GroupRemoteConnectionFailed, "")
		}
		return "ok", nil
	}
	value, err := RetryMiddleware(3, time.Millisecond)(flaky)(context.Background(), query())
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, 3, calls)
}

func TestRetrySkipsPermanent(t *testing.T) {
	calls := 0
	broken := func(ctx context.Context, q *message.Frame) (any, error) {
		calls++
		return nil, message.NewError(message.ErrorCancel, message.GroupItemNotFound, "")
	}
	_, err := RetryMiddleware(3, time.Millisecond)(broken)(context.Background(), query())
	assert.Equal(t, message.GroupItemNotFound, groupOf(t, err))
	assert.Equal(t, 1, calls)
}

func TestRecover(t *testing.T) {
	panicky := func(ctx context.Context, q *message.Frame) (any, error) {
		panic("boom")
	}
	_, err := RecoverMiddleware()(panicky)(context.Background(), query())
	assert.Equal(t, message.GroupInternalServerError, groupOf(t, err))
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, q *message.Frame) (any, error) {
				order = append(order, name)
				return next(ctx, q)
			}
		}
	}
	handler := Chain(mark("a"), mark("b"), LoggingMiddleware(), TimeOutMiddleware(500*time.Millisecond))(echoHandler)

	value, err := handler(context.Background(), query())
	require.NoError(t, err)
	assert.Equal(t, "ping", value)
	assert.Equal(t, []string{"a", "b"}, order)
}
