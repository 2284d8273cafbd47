package remoteadapter

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pushkernel/remoteadapter/internal/ariproto"
)

// requestReceiver reads request lines from its stream in a dedicated
// goroutine and hands them to the handler.
type requestReceiver struct {
	name      string
	adapter   string
	reader    *bufio.Reader
	handler   func(id, msg string)
	onError   func(error)
	logger    *logger
	metrics   *metrics
	stopped   atomic.Bool
	startOnce sync.Once
	done      chan struct{}
}

func newRequestReceiver(name, adapter string, r io.Reader, handler func(id, msg string), onError func(error), l *logger, m *metrics) *requestReceiver {
	return &requestReceiver{
		name:    name,
		adapter: adapter,
		reader:  bufio.NewReader(r),
		handler: handler,
		onError: onError,
		logger:  l,
		metrics: m,
		done:    make(chan struct{}),
	}
}

func (r *requestReceiver) start() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

func (r *requestReceiver) run() {
	defer close(r.done)
	r.logger.log(newLogEntry(LogLevelDebug, "request receiver starting", map[string]any{"server": r.name}))
	defer r.logger.log(newLogEntry(LogLevelDebug, "request receiver stopped", map[string]any{"server": r.name}))

	for {
		line, err := r.reader.ReadString('\n')
		if r.stopped.Load() {
			return
		}
		if line != "" {
			r.onLine(strings.TrimRight(line, "\r\n"))
			if r.stopped.Load() {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			r.onError(&ChannelError{Op: "read requests", Err: err})
			return
		}
	}
}

func (r *requestReceiver) onLine(line string) {
	if r.logger.enabled(LogLevelTrace) {
		r.logger.log(newLogEntry(LogLevelTrace, "request line", map[string]any{"server": r.name, "line": line}))
	}
	id, msg, ok := ariproto.SplitMessage(line)
	if !ok {
		r.metrics.incMalformedRequests(r.adapter)
		r.logger.log(newLogEntry(LogLevelWarn, "discarding malformed request", map[string]any{"server": r.name, "line": line}))
		return
	}
	r.handler(id, msg)
}

// quit stops the receiver. A blocked read is released only by closing the
// underlying stream, which is the owner's duty.
func (r *requestReceiver) quit() {
	r.stopped.Store(true)
}
