package remoteadapter

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pushkernel/remoteadapter/internal/ariproto"
)

// PendingResult is the outcome of a control request sent to the Kernel.
// It completes once, when the Kernel answers or the server is closed.
type PendingResult struct {
	once  sync.Once
	done  chan struct{}
	value bool
	err   error
}

func newPendingResult() *PendingResult {
	return &PendingResult{done: make(chan struct{})}
}

// resolve completes the result. Returns false if it was already completed.
func (r *PendingResult) resolve(value bool, err error) bool {
	resolved := false
	r.once.Do(func() {
		r.value = value
		r.err = err
		resolved = true
		close(r.done)
	})
	return resolved
}

// Done returns a channel closed when the result is available.
func (r *PendingResult) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result is available or ctx is done. For a forced
// unsubscription the value tells whether the table was found, for a forced
// session termination it is always true on success.
func (r *PendingResult) Wait(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-r.done:
		return r.value, r.err
	}
}

// pendingRequests correlates control requests sent to the Kernel with their
// responses.
type pendingRequests struct {
	logger  *logger
	metrics *metrics

	nextID atomic.Uint64

	mu       sync.Mutex
	requests map[string]*PendingResult
}

func newPendingRequests(l *logger, m *metrics) *pendingRequests {
	p := &pendingRequests{
		logger:   l,
		metrics:  m,
		requests: make(map[string]*PendingResult),
	}
	p.nextID.Store(ariproto.FirstRemoteRequestID)
	return p
}

func (p *pendingRequests) newRequestID() string {
	return strconv.FormatUint(p.nextID.Add(1)-1, 16)
}

// begin allocates a request id and encodes the request. If encoding fails the
// returned result is already failed, msg is empty and nothing is registered.
func (p *pendingRequests) begin(encode func() (string, error)) (id string, msg string, result *PendingResult) {
	id = p.newRequestID()
	result = newPendingResult()
	msg, err := encode()
	if err != nil {
		result.resolve(false, err)
		return id, "", result
	}
	p.mu.Lock()
	p.requests[id] = result
	p.mu.Unlock()
	p.metrics.addPendingControlRequests(1)
	return id, msg, result
}

// cancel forgets a request whose message could not be sent.
func (p *pendingRequests) cancel(id string, err error) {
	if r, ok := p.take(id); ok {
		r.resolve(false, err)
	}
}

func (p *pendingRequests) take(id string) (*PendingResult, bool) {
	p.mu.Lock()
	r, ok := p.requests[id]
	if ok {
		delete(p.requests, id)
	}
	p.mu.Unlock()
	if ok {
		p.metrics.addPendingControlRequests(-1)
	}
	return r, ok
}

// complete resolves the request with a value. Unknown ids are logged and
// ignored.
func (p *pendingRequests) complete(id string, value bool) {
	r, ok := p.take(id)
	if !ok {
		p.logger.log(newLogEntry(LogLevelWarn, "received response with unexpected request id", map[string]any{"request_id": id}))
		return
	}
	r.resolve(value, nil)
}

// completeWithError fails the request. Unknown ids are logged and ignored.
func (p *pendingRequests) completeWithError(id string, err error) {
	r, ok := p.take(id)
	if !ok {
		p.logger.log(newLogEntry(LogLevelWarn, "received response with unexpected request id", map[string]any{"request_id": id, "error": err.Error()}))
		return
	}
	r.resolve(false, err)
}

// failAll fails every pending request, used on close.
func (p *pendingRequests) failAll(err error) {
	p.mu.Lock()
	requests := p.requests
	p.requests = make(map[string]*PendingResult)
	p.mu.Unlock()
	for _, r := range requests {
		r.resolve(false, err)
	}
	p.metrics.addPendingControlRequests(-len(requests))
}

func (p *pendingRequests) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}
