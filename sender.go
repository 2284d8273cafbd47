package remoteadapter

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pushkernel/remoteadapter/internal/ariproto"
	"github.com/pushkernel/remoteadapter/internal/queue"
)

const lineEnd = "\r\n"

var errStreamReleased = errors.New("stream released")

// sharedStream is a physical output stream, possibly written by two senders
// in single connection mode. writeMu serializes writes and guards the last
// writer. When ordered, lines are written in the order they were enqueued
// across both senders: each line takes a ticket on enqueue and waits for its
// turn on write. Producers only take ticketMu, never writeMu, so a blocked
// write never blocks them.
type sharedStream struct {
	ticketMu   sync.Mutex
	nextTicket uint64

	writeMu    sync.Mutex
	turn       *sync.Cond
	w          *bufio.Writer
	lastWriter *messageSender
	ordered    bool
	served     uint64
	released   bool
}

func newSharedStream(w io.Writer, ordered bool) *sharedStream {
	st := &sharedStream{w: bufio.NewWriter(w), ordered: ordered}
	st.turn = sync.NewCond(&st.writeMu)
	return st
}

// enqueue adds the item to the sender queue, taking a ticket if ordered.
func (st *sharedStream) enqueue(q *queue.Queue[outItem], item outItem) bool {
	if !st.ordered {
		return q.Add(item)
	}
	st.ticketMu.Lock()
	defer st.ticketMu.Unlock()
	item.ticket = st.nextTicket
	item.ordered = true
	if !q.Add(item) {
		return false
	}
	st.nextTicket++
	return true
}

// keepaliveTurn tells whether s is in charge of keepalives: nobody wrote yet
// or s wrote last.
func (st *sharedStream) keepaliveTurn(s *messageSender) bool {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return st.lastWriter == nil || st.lastWriter == s
}

func (st *sharedStream) writeLine(s *messageSender, item outItem, line string) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	for item.ordered && st.served != item.ticket && !st.released {
		st.turn.Wait()
	}
	if st.released {
		return errStreamReleased
	}
	if item.ordered {
		st.served++
		st.turn.Broadcast()
	}
	if _, err := st.w.WriteString(line); err != nil {
		return err
	}
	if _, err := st.w.WriteString(lineEnd); err != nil {
		return err
	}
	if err := st.w.Flush(); err != nil {
		return err
	}
	st.lastWriter = s
	return nil
}

// detach closes the queue of a sender which stopped. Lines left in it
// will never be written, so writers waiting for their turn are released.
func (st *sharedStream) detach(q *queue.Queue[outItem]) {
	if !st.ordered {
		q.Close()
		return
	}
	st.ticketMu.Lock()
	dropped := q.Len() > 0
	q.Close()
	st.ticketMu.Unlock()
	if !dropped {
		return
	}
	st.writeMu.Lock()
	st.released = true
	st.turn.Broadcast()
	st.writeMu.Unlock()
}

type outKind uint8

const (
	outLine outKind = iota
	outKeepalive
	outStop
)

type outItem struct {
	kind    outKind
	line    string
	ordered bool
	ticket  uint64
}

// messageSender owns an unbounded queue of lines and writes them on its
// stream from a dedicated goroutine, sending keepalives when idle.
type messageSender struct {
	name       string
	channel    string
	forReplies bool
	stream     *sharedStream
	messages   *queue.Queue[outItem]
	keepalive  atomic.Int64
	onError    func(error)
	logger     *logger
	metrics    *metrics
	stopped    atomic.Bool
	startOnce  sync.Once
	done       chan struct{}
}

func newMessageSender(name string, stream *sharedStream, forReplies bool, keepalive time.Duration, onError func(error), l *logger, m *metrics) *messageSender {
	channel := "notifications"
	if forReplies {
		channel = "replies"
	}
	s := &messageSender{
		name:       name,
		channel:    channel,
		forReplies: forReplies,
		stream:     stream,
		messages:   queue.New[outItem](16),
		onError:    onError,
		logger:     l,
		metrics:    m,
		done:       make(chan struct{}),
	}
	s.keepalive.Store(int64(keepalive))
	return s
}

func (s *messageSender) keepaliveInterval() time.Duration {
	return time.Duration(s.keepalive.Load())
}

// changeKeepalive sets the interval used from the next wait. With
// alsoInterrupt a keepalive is sent at once so that the new interval
// starts counting immediately.
func (s *messageSender) changeKeepalive(d time.Duration, alsoInterrupt bool) {
	s.keepalive.Store(int64(d))
	if alsoInterrupt {
		s.messages.AddFirst(outItem{kind: outKeepalive})
	}
}

func (s *messageSender) start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *messageSender) run() {
	defer close(s.done)
	defer s.stream.detach(s.messages)
	s.logger.log(newLogEntry(LogLevelDebug, "sender starting", map[string]any{"server": s.name, "channel": s.channel}))
	defer s.logger.log(newLogEntry(LogLevelDebug, "sender stopped", map[string]any{"server": s.name, "channel": s.channel}))

	for {
		var item outItem
		switch s.messages.Wait(s.keepaliveInterval()) {
		case queue.Closed:
			return
		case queue.TimedOut:
			if !s.stream.keepaliveTurn(s) {
				// The other sender on the stream wrote more recently.
				continue
			}
			item = outItem{kind: outKeepalive}
		case queue.Ready:
			var ok bool
			item, ok = s.messages.Remove()
			if !ok {
				continue
			}
		}

		line := item.line
		switch item.kind {
		case outStop:
			return
		case outKeepalive:
			line = ariproto.WriteKeepalive()
			if s.logger.enabled(LogLevelTrace) {
				s.logger.log(newLogEntry(LogLevelTrace, "keepalive line", map[string]any{"server": s.name, "channel": s.channel}))
			}
		default:
			if s.logger.enabled(LogLevelTrace) {
				s.logger.log(newLogEntry(LogLevelTrace, "outgoing line", map[string]any{"server": s.name, "channel": s.channel, "line": line}))
			}
		}

		if err := s.stream.writeLine(s, item, line); err != nil {
			if !s.stopped.Load() && !errors.Is(err, errStreamReleased) {
				s.onError(&ChannelError{Op: "write " + s.channel, Err: err})
			}
			return
		}
		if item.kind == outKeepalive {
			s.metrics.incKeepalivesSent(s.channel)
		} else {
			s.metrics.incLinesSent(s.channel)
		}
	}
}

// send enqueues a message. Notifications are prefixed with the current
// time in milliseconds.
func (s *messageSender) send(msg string) {
	if !s.forReplies {
		msg = strconv.FormatInt(time.Now().UnixMilli(), 10) + string(ariproto.Sep) + msg
	}
	s.stream.enqueue(s.messages, outItem{kind: outLine, line: msg})
}

// sendWithID enqueues a message prefixed with the request id.
func (s *messageSender) sendWithID(id, msg string) {
	s.send(id + string(ariproto.Sep) + msg)
}

// quit stops the sender. Lines still queued are dropped.
func (s *messageSender) quit() {
	s.stopped.Store(true)
	s.messages.AddFirst(outItem{kind: outStop})
}

// finish stops the sender once the lines queued so far are written.
func (s *messageSender) finish() {
	s.messages.Add(outItem{kind: outStop})
}
