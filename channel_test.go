package remoteadapter

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// lineBuffer is a goroutine safe writer collecting lines.
type lineBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lineBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSuffix(b.buf.String(), "\r\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\r\n")
}

func countKeepalives(lines []string) int {
	n := 0
	for _, l := range lines {
		if l == "KEEPALIVE" {
			n++
		}
	}
	return n
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestSender_Reply(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), true, 0, func(error) {}, nil, nil)
	s.start()
	defer s.quit()
	s.sendWithID("42", "SUB|V")
	require.Eventually(t, func() bool { return len(out.lines()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "42|SUB|V", out.lines()[0])
}

func TestSender_NotificationTimestamp(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), false, 0, func(error) {}, nil, nil)
	s.start()
	defer s.quit()
	before := time.Now().UnixMilli()
	s.send("EOS|S|item|S|1")
	require.Eventually(t, func() bool { return len(out.lines()) == 1 }, time.Second, 5*time.Millisecond)
	parts := strings.SplitN(out.lines()[0], "|", 2)
	require.Equal(t, "EOS|S|item|S|1", parts[1])
	ts, err := parseMillis(parts[0])
	require.NoError(t, err)
	require.GreaterOrEqual(t, ts, before)
}

func TestSender_Keepalive(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), true, 50*time.Millisecond, func(error) {}, nil, nil)
	s.start()
	defer s.quit()
	time.Sleep(200 * time.Millisecond)
	require.GreaterOrEqual(t, countKeepalives(out.lines()), 3)
}

func TestSender_NoKeepaliveWhenZero(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), true, 0, func(error) {}, nil, nil)
	s.start()
	defer s.quit()
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, out.lines())
}

func TestSender_SharedStreamKeepalive(t *testing.T) {
	out := &lineBuffer{}
	stream := newSharedStream(out, false)
	replies := newMessageSender("test", stream, true, 50*time.Millisecond, func(error) {}, nil, nil)
	notifications := newMessageSender("test", stream, false, 50*time.Millisecond, func(error) {}, nil, nil)
	replies.start()
	notifications.start()
	defer replies.quit()
	defer notifications.quit()

	// Only the last writer is in charge of keepalives, the other one
	// skips its rounds.
	replies.sendWithID("1", "RAC|S|enableClosePacket|S|true")
	time.Sleep(230 * time.Millisecond)

	stream.writeMu.Lock()
	last := stream.lastWriter
	stream.writeMu.Unlock()
	require.Equal(t, replies, last)

	lines := out.lines()
	require.Equal(t, "1|RAC|S|enableClosePacket|S|true", lines[0])
	keepalives := countKeepalives(lines)
	require.GreaterOrEqual(t, keepalives, 3)
	// Two independent senders would have produced about twice as many.
	require.LessOrEqual(t, keepalives, 5)
}

func TestSender_ChangeKeepaliveInterrupt(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), true, time.Hour, func(error) {}, nil, nil)
	s.start()
	defer s.quit()
	s.changeKeepalive(30*time.Millisecond, true)
	// One immediate keepalive, then following the new interval.
	require.Eventually(t, func() bool { return countKeepalives(out.lines()) >= 3 }, time.Second, 5*time.Millisecond)
}

func TestSender_ChangeKeepaliveNoInterrupt(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), true, 0, func(error) {}, nil, nil)
	s.start()
	defer s.quit()
	s.changeKeepalive(10*time.Millisecond, false)
	// The sender is waiting indefinitely, the new interval applies after
	// the next line.
	time.Sleep(40 * time.Millisecond)
	require.Empty(t, out.lines())
	s.sendWithID("1", "X")
	require.Eventually(t, func() bool { return countKeepalives(out.lines()) >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSender_WriteError(t *testing.T) {
	errCh := make(chan error, 1)
	s := newMessageSender("test", newSharedStream(failingWriter{}, false), true, 0, func(err error) { errCh <- err }, nil, nil)
	s.start()
	s.sendWithID("1", "X")
	select {
	case err := <-errCh:
		var chErr *ChannelError
		require.ErrorAs(t, err, &chErr)
		require.Equal(t, "write replies", chErr.Op)
	case <-time.After(time.Second):
		require.Fail(t, "no error reported")
	}
	<-s.done
}

func TestSender_Quit(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), true, 0, func(error) {}, nil, nil)
	s.start()
	s.quit()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		require.Fail(t, "sender not stopped")
	}
	s.sendWithID("1", "X")
	require.Empty(t, out.lines())
}

func TestReceiver_Lines(t *testing.T) {
	pr, pw := io.Pipe()
	type request struct{ id, msg string }
	requests := make(chan request, 10)
	errCh := make(chan error, 1)
	r := newRequestReceiver("test", "data", pr, func(id, msg string) {
		requests <- request{id, msg}
	}, func(err error) { errCh <- err }, nil, nil)
	r.start()

	_, err := io.WriteString(pw, "10|DPI|S|ARI.version|S|1.9.1\r\n|bad\r\nnosep\r\n42|SUB|S|item1\n")
	require.NoError(t, err)

	require.Equal(t, request{"10", "DPI|S|ARI.version|S|1.9.1"}, <-requests)
	require.Equal(t, request{"42", "SUB|S|item1"}, <-requests)

	require.NoError(t, pw.Close())
	select {
	case err := <-errCh:
		var chErr *ChannelError
		require.ErrorAs(t, err, &chErr)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	case <-time.After(time.Second):
		require.Fail(t, "end of stream not reported")
	}
	<-r.done
}

func TestReceiver_QuitNoError(t *testing.T) {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	r := newRequestReceiver("test", "data", pr, func(id, msg string) {}, func(err error) { errCh <- err }, nil, nil)
	r.start()
	r.quit()
	require.NoError(t, pw.CloseWithError(errors.New("closed")))
	<-r.done
	select {
	case err := <-errCh:
		require.Fail(t, "unexpected error", err)
	default:
	}
}

func parseMillis(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func TestSender_OrderedSharedStream(t *testing.T) {
	out := &lineBuffer{}
	stream := newSharedStream(out, true)
	replies := newMessageSender("test", stream, true, 0, func(error) {}, nil, nil)
	notifications := newMessageSender("test", stream, false, 0, func(error) {}, nil, nil)
	replies.start()
	notifications.start()
	defer replies.quit()
	defer notifications.quit()

	for i := 0; i < 50; i++ {
		notifications.send("EOS|S|item" + strconv.Itoa(i) + "|S|" + strconv.Itoa(i))
		replies.sendWithID(strconv.Itoa(i), "SUB|V")
	}
	require.Eventually(t, func() bool { return len(out.lines()) == 100 }, 2*time.Second, 5*time.Millisecond)
	lines := out.lines()
	for i := 0; i < 50; i++ {
		require.True(t, strings.HasSuffix(lines[2*i], "|EOS|S|item"+strconv.Itoa(i)+"|S|"+strconv.Itoa(i)), lines[2*i])
		require.Equal(t, strconv.Itoa(i)+"|SUB|V", lines[2*i+1])
	}
}

func TestSender_OrderedStreamReleasedOnQuit(t *testing.T) {
	out := &lineBuffer{}
	stream := newSharedStream(out, true)
	replies := newMessageSender("test", stream, true, 0, func(error) {}, nil, nil)
	notifications := newMessageSender("test", stream, false, 0, func(error) {}, nil, nil)
	// Queued before the sender starts, so it is dropped by quit.
	replies.sendWithID("1", "SUB|V")
	notifications.send("EOS|S|item|S|1")
	replies.quit()
	replies.start()
	notifications.start()
	// The notification sender waits no more for the dropped reply.
	for _, done := range []chan struct{}{replies.done, notifications.done} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("sender stuck")
		}
	}
	require.Empty(t, out.lines())
}

func TestSender_Finish(t *testing.T) {
	out := &lineBuffer{}
	s := newMessageSender("test", newSharedStream(out, false), true, 0, func(error) {}, nil, nil)
	for i := 0; i < 10; i++ {
		s.sendWithID(strconv.Itoa(i), "SUB|V")
	}
	s.finish()
	s.start()
	select {
	case <-s.done:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
	require.Len(t, out.lines(), 10)
	s.sendWithID("10", "SUB|V")
	require.Len(t, out.lines(), 10)
}

// stuckWriter blocks every Write until released.
type stuckWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStuckWriter() *stuckWriter {
	return &stuckWriter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (w *stuckWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return len(p), nil
}

func TestSender_ProducersDoNotWaitForWriter(t *testing.T) {
	for _, ordered := range []bool{false, true} {
		t.Run("ordered="+strconv.FormatBool(ordered), func(t *testing.T) {
			w := newStuckWriter()
			stream := newSharedStream(w, ordered)
			replies := newMessageSender("test", stream, true, 0, func(error) {}, nil, nil)
			notifications := newMessageSender("test", stream, false, 0, func(error) {}, nil, nil)
			replies.start()
			notifications.start()
			defer func() {
				close(w.release)
				replies.quit()
				notifications.quit()
			}()

			notifications.send("UD3|S|item|S|1|B|0|S|price|S|10")
			select {
			case <-w.entered:
			case <-time.After(time.Second):
				t.Fatal("writer not reached")
			}

			sent := make(chan struct{})
			go func() {
				defer close(sent)
				for i := 0; i < 100; i++ {
					notifications.send("UD3|S|item|S|1|B|0|S|price|S|" + strconv.Itoa(i))
					replies.sendWithID(strconv.Itoa(i), "SUB|V")
				}
			}()
			select {
			case <-sent:
			case <-time.After(time.Second):
				t.Fatal("send blocked by a stuck write")
			}
		})
	}
}
