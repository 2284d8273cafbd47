package remoteadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pushkernel/remoteadapter/internal/ariproto"
	"github.com/stretchr/testify/require"
)

func TestPendingRequests_IDs(t *testing.T) {
	p := newPendingRequests(nil, nil)
	id1, _, _ := p.begin(func() (string, error) { return "x", nil })
	id2, _, _ := p.begin(func() (string, error) { return "y", nil })
	require.Equal(t, "64", id1)
	require.Equal(t, "65", id2)
	require.Equal(t, 2, p.len())
}

func TestPendingRequests_Complete(t *testing.T) {
	p := newPendingRequests(nil, nil)
	id, msg, res := p.begin(func() (string, error) {
		return ariproto.WriteForceUnsubscription("S1", 3), nil
	})
	require.Equal(t, "FUS|S|S1|I|3", msg)

	go p.complete(id, true)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done, err := res.Wait(ctx)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, 0, p.len())

	// A second completion is ignored.
	p.complete(id, false)
	p.completeWithError(id, errors.New("late"))
	done, err = res.Wait(ctx)
	require.NoError(t, err)
	require.True(t, done)
}

func TestPendingRequests_CompleteWithError(t *testing.T) {
	p := newPendingRequests(nil, nil)
	id, _, res := p.begin(func() (string, error) { return "KIL|S|S1", nil })
	p.completeWithError(id, NewNotificationError("unknown session"))
	<-res.Done()
	_, err := res.Wait(context.Background())
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, KindNotification, e.Kind)
}

func TestPendingRequests_EncodeFailure(t *testing.T) {
	p := newPendingRequests(nil, nil)
	encodeErr := errors.New("cannot encode")
	_, msg, res := p.begin(func() (string, error) { return "", encodeErr })
	require.Empty(t, msg)
	require.Equal(t, 0, p.len())
	select {
	case <-res.Done():
	default:
		require.Fail(t, "result must be already failed")
	}
	_, err := res.Wait(context.Background())
	require.ErrorIs(t, err, encodeErr)
}

func TestPendingRequests_UnknownID(t *testing.T) {
	var entries []LogEntry
	p := newPendingRequests(newLogger(LogLevelWarn, func(e LogEntry) { entries = append(entries, e) }), nil)
	p.complete("ff", true)
	require.Len(t, entries, 1)
	require.Equal(t, "ff", entries[0].Fields["request_id"])
}

func TestPendingRequests_FailAll(t *testing.T) {
	p := newPendingRequests(nil, nil)
	_, _, res1 := p.begin(func() (string, error) { return "a", nil })
	_, _, res2 := p.begin(func() (string, error) { return "b", nil })
	p.failAll(ErrServerClosed)
	_, err := res1.Wait(context.Background())
	require.ErrorIs(t, err, ErrServerClosed)
	_, err = res2.Wait(context.Background())
	require.ErrorIs(t, err, ErrServerClosed)
	require.Equal(t, 0, p.len())
}

func TestPendingResult_WaitContext(t *testing.T) {
	res := newPendingResult()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := res.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, res.resolve(true, nil))
	require.False(t, res.resolve(false, nil))
}
