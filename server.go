package remoteadapter

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/pushkernel/remoteadapter/internal/ariproto"
)

// closeFlushTimeout bounds the wait for queued lines on a graceful close.
const closeFlushTimeout = time.Second

type serverState int

const (
	stateAwaitingInit serverState = iota
	stateInitialized
	stateClosing
	stateClosed
)

// variant is the adapter specific part of a server.
type variant interface {
	// initAdapter calls the adapter Init with the merged parameters.
	initAdapter(params map[string]string) error
	// acceptVersion maps the version declared by the Proxy Adapter to the
	// advertised one.
	acceptVersion(proxyVersion *string) (string, error)
	// handleRequest processes a request once initialized.
	handleRequest(id, method, body string)
	// sendFailure notifies the Proxy Adapter of an asynchronous failure.
	sendFailure(err error)
	// dispose releases pools and pending state on close.
	dispose()
}

// server is the connection logic shared by DataServer and MetadataServer:
// request routing, init handshake, keepalive negotiation and the fatal
// error path.
type server struct {
	name         string
	adapter      string
	initMethod   string
	providerKind ErrorKind
	config       Config
	logger       *logger
	metrics      *metrics
	variant      variant

	replies       *messageSender
	notifications *messageSender
	receiver      *requestReceiver

	mu      sync.Mutex
	state   serverState
	started bool
	err     error
	done    chan struct{}
}

func newServer(adapter, initMethod string, providerKind ErrorKind, c Config, withNotifications bool, poolSizeEnv string) (*server, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c, err := c.withDefaults(poolSizeEnv)
	if err != nil {
		return nil, err
	}
	m, err := initMetricsRegistry(c.MetricsRegisterer, c.MetricsNamespace)
	if err != nil {
		return nil, err
	}
	s := &server{
		name:         c.Name,
		adapter:      adapter,
		initMethod:   initMethod,
		providerKind: providerKind,
		config:       c,
		logger:       newLogger(c.LogLevel, c.LogHandler),
		metrics:      m,
		done:         make(chan struct{}),
	}

	keepalive := s.initialKeepalive()
	singleConnection := withNotifications && c.NotifyStream == nil
	replyStream := newSharedStream(c.ReplyStream, singleConnection)
	s.replies = newMessageSender(s.name, replyStream, true, keepalive, s.onFatal, s.logger, s.metrics)
	if withNotifications {
		notifyStream := replyStream
		if !singleConnection {
			notifyStream = newSharedStream(c.NotifyStream, false)
		}
		s.notifications = newMessageSender(s.name, notifyStream, false, keepalive, s.onFatal, s.logger, s.metrics)
	}
	s.receiver = newRequestReceiver(s.name, adapter, c.RequestStream, s.onRequest, s.onFatal, s.logger, s.metrics)
	return s, nil
}

// Name returns the server name used in logs.
func (s *server) Name() string {
	return s.name
}

// Start starts the streams processing. The credentials are sent before
// any request is read.
func (s *server) Start() error {
	s.mu.Lock()
	if s.state >= stateClosing {
		s.mu.Unlock()
		return ErrServerClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	s.replies.start()
	if s.notifications != nil {
		s.notifications.start()
	}
	s.sendCredentials()
	s.receiver.start()
	s.logger.log(newLogEntry(LogLevelInfo, "server started", map[string]any{"server": s.name, "adapter": s.adapter}))
	return nil
}

// Close stops the server and releases its resources. Streams implementing
// io.Closer are closed. Adapter calls in progress are not interrupted.
func (s *server) Close() error {
	s.shutdown(nil, false)
	return nil
}

// Done returns a channel closed once the server is closed.
func (s *server) Done() <-chan struct{} {
	return s.done
}

// Err returns the error which closed the server, nil if it is running or
// it was closed by Close.
func (s *server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *server) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state >= stateClosing
}

// sendCredentials sends the credentials on the notification stream and as
// a virtual reply. In single connection mode the virtual reply is enough.
func (s *server) sendCredentials() {
	msg := ariproto.WriteRemoteCredentials(s.config.credentials())
	if s.notifications != nil && s.config.NotifyStream != nil {
		s.notifications.send(msg)
	}
	s.replies.sendWithID(ariproto.AuthRequestID, msg)
}

func (s *server) onRequest(id, msg string) {
	method, body := ariproto.SplitMethod(msg)
	s.metrics.incRequestsReceived(s.adapter, method)

	if method == ariproto.MethodClose {
		s.handleClose(id, body)
		return
	}

	s.mu.Lock()
	state := s.state
	if state == stateAwaitingInit && method == s.initMethod {
		s.state = stateInitialized
	}
	s.mu.Unlock()

	switch state {
	case stateAwaitingInit:
		if method != s.initMethod {
			s.onFatal(fmt.Errorf("%w %s while waiting for a %s request", ErrUnexpectedRequest, method, s.initMethod))
			return
		}
		s.handleInit(id, body)
	case stateInitialized:
		if method == s.initMethod {
			s.onFatal(fmt.Errorf("%w: late %s request", ErrUnexpectedRequest, method))
			return
		}
		s.variant.handleRequest(id, method, body)
	}
}

func (s *server) handleClose(id, body string) {
	if id != ariproto.CloseRequestID {
		s.onFatal(&ProtocolError{Message: "unexpected id found while parsing a " + ariproto.MethodClose + " request"})
		return
	}
	params, err := ariproto.ReadClose(body)
	if err != nil {
		s.onFatal(err)
		return
	}
	closeErr := &CloseError{Reason: params[ariproto.ParamCloseReason]}
	s.shutdown(closeErr, true)
	s.onFatal(closeErr)
}

func (s *server) handleInit(id, body string) {
	req, err := ariproto.ReadInit(s.initMethod, body)
	if err != nil {
		s.onFatal(err)
		return
	}

	var hint *string
	version, err := s.variant.acceptVersion(req.Version)
	if err == nil {
		zero := "0"
		hint = &zero
		if req.KeepaliveHint != nil {
			hint = req.KeepaliveHint
		}
		params := req.Params
		for k, v := range s.config.AdapterParams {
			params[k] = v
		}
		err = s.callAdapter(s.initMethod, func() error {
			return s.variant.initAdapter(params)
		})
	}

	var reply string
	if err != nil {
		s.logger.log(newErrorLogEntry(err, "init failed", map[string]any{"server": s.name, "adapter": s.adapter}))
		reply = ariproto.WriteInitError(s.initMethod, err, s.providerKind)
	} else {
		reply = ariproto.WriteInit(s.initMethod, version)
	}
	s.useKeepaliveHint(hint)
	s.replies.sendWithID(id, reply)

	var versionErr *Error
	if errors.As(err, &versionErr) && versionErr.Kind == KindVersion {
		s.receiver.quit()
		s.onFatal(err)
	}
}

func (s *server) initialKeepalive() time.Duration {
	if s.config.Keepalive == nil {
		s.logger.log(newLogEntry(LogLevelDebug, "keepalive temporarily set to default", map[string]any{"server": s.name, "keepalive": DefaultKeepalive.String()}))
		return DefaultKeepalive
	}
	return *s.config.Keepalive
}

// useKeepaliveHint reconciles the keepalive interval with the hint of the
// Proxy Adapter. A nil hint means the peer gave no information.
func (s *server) useKeepaliveHint(hint *string) {
	configured := s.config.Keepalive
	if hint == nil {
		if configured == nil {
			s.logger.log(newLogEntry(LogLevelInfo, "keepalive set to strict default for lack of hint", map[string]any{"server": s.name, "keepalive": StrictKeepalive.String()}))
			s.changeKeepalive(StrictKeepalive)
		}
		return
	}
	millis, err := strconv.Atoi(*hint)
	if err != nil {
		s.logger.log(newLogEntry(LogLevelWarn, "malformed keepalive hint", map[string]any{"server": s.name, "hint": *hint}))
		s.useKeepaliveHint(nil)
		return
	}
	if millis <= 0 {
		return
	}
	suggested := time.Duration(millis) * time.Millisecond
	d := max(suggested, MinKeepalive)
	fields := map[string]any{"server": s.name, "hint": suggested.String(), "keepalive": d.String()}

	switch {
	case configured == nil:
		if suggested < DefaultKeepalive {
			s.logger.log(newLogEntry(LogLevelInfo, "keepalive set as per Proxy Adapter hint", fields))
			s.changeKeepalive(d)
		}
	case *configured > 0:
		if suggested < *configured {
			s.logger.log(newLogEntry(LogLevelWarn, "configured keepalive shortened as per Proxy Adapter hint", fields))
			s.changeKeepalive(d)
		}
	default:
		s.logger.log(newLogEntry(LogLevelWarn, "keepalives forced as per Proxy Adapter hint", fields))
		s.changeKeepalive(d)
	}
}

func (s *server) changeKeepalive(d time.Duration) {
	if s.notifications != nil {
		s.notifications.changeKeepalive(d, true)
	}
	s.replies.changeKeepalive(d, false)
}

// callAdapter invokes an adapter method, turning panics into errors.
func (s *server) callAdapter(method string, fn func() error) (err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.log(newLogEntry(LogLevelError, "panic in adapter call", map[string]any{"server": s.name, "method": method, "panic": fmt.Sprint(r), "stack": string(debug.Stack())}))
			err = fmt.Errorf("panic in %s: %v", method, r)
		}
		s.metrics.observeAdapterCall(s.adapter, method, time.Since(started))
	}()
	return fn()
}

func fatalKind(err error) string {
	var (
		channelErr  *ChannelError
		closeErr    *CloseError
		protocolErr *ProtocolError
		adapterErr  *Error
	)
	switch {
	case errors.As(err, &channelErr):
		return "io"
	case errors.As(err, &closeErr):
		return "close"
	case errors.Is(err, ErrUnexpectedRequest):
		return "unexpected_request"
	case errors.As(err, &adapterErr) && adapterErr.Kind == KindVersion:
		return "version"
	case errors.As(err, &protocolErr):
		return "protocol"
	default:
		return "other"
	}
}

// onFatal is the single path for errors which cannot be answered with a
// reply. The ExceptionHandler may suppress the default handling.
func (s *server) onFatal(err error) {
	kind := fatalKind(err)
	s.metrics.incFatalErrors(s.adapter, kind)

	if h := s.config.ExceptionHandler; h != nil {
		var proceed bool
		if kind == "io" {
			proceed = h.HandleIOError(err)
		} else {
			proceed = h.HandleError(err)
		}
		if !proceed {
			return
		}
	}

	fields := map[string]any{"server": s.name, "adapter": s.adapter, "kind": kind}
	switch kind {
	case "io":
		if s.closing() {
			return
		}
		s.logger.log(newErrorLogEntry(err, "stream failure, closing server", fields))
		s.shutdown(err, false)
	case "close":
		s.logger.log(newLogEntry(LogLevelInfo, err.Error(), fields))
		s.shutdown(err, true)
	default:
		s.logger.log(newErrorLogEntry(err, "caught exception, notifying a failure", fields))
		s.variant.sendFailure(err)
		if kind == "version" || kind == "unexpected_request" {
			s.shutdown(err, true)
		}
	}
}

// shutdown closes the server once. With graceful the lines queued so far
// are written before the streams are closed.
func (s *server) shutdown(cause error, graceful bool) {
	s.mu.Lock()
	if s.state >= stateClosing {
		s.mu.Unlock()
		return
	}
	s.state = stateClosing
	s.err = cause
	started := s.started
	s.mu.Unlock()

	s.receiver.quit()
	senders := []*messageSender{s.replies}
	if s.notifications != nil {
		senders = append(senders, s.notifications)
	}
	if graceful && started {
		timeout := time.NewTimer(closeFlushTimeout)
		for _, sender := range senders {
			sender.finish()
		}
	wait:
		for _, sender := range senders {
			select {
			case <-sender.done:
			case <-timeout.C:
				break wait
			}
		}
		timeout.Stop()
	}
	for _, sender := range senders {
		sender.quit()
	}
	s.variant.dispose()
	s.closeStreams()

	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	close(s.done)
	s.logger.log(newLogEntry(LogLevelInfo, "server closed", map[string]any{"server": s.name, "adapter": s.adapter}))
}

// closeStreams closes the streams implementing io.Closer. A connection
// serving more than one stream is closed once.
func (s *server) closeStreams() {
	var closed []io.Closer
	for _, stream := range []any{s.config.RequestStream, s.config.ReplyStream, s.config.NotifyStream} {
		closer, ok := stream.(io.Closer)
		if !ok || containsCloser(closed, closer) {
			continue
		}
		closed = append(closed, closer)
		if err := closer.Close(); err != nil {
			s.logger.log(newLogEntry(LogLevelDebug, "error closing stream", map[string]any{"server": s.name, "error": err.Error()}))
		}
	}
}

func containsCloser(closers []io.Closer, c io.Closer) bool {
	if !reflect.TypeOf(c).Comparable() {
		return false
	}
	for _, other := range closers {
		if reflect.TypeOf(other) == reflect.TypeOf(c) && other == c {
			return true
		}
	}
	return false
}

// negotiateVersion maps the version declared by the Proxy Adapter to the
// advertised one, failing with a KindVersion *Error.
func (s *server) negotiateVersion(proxyVersion *string) (string, error) {
	version, status, err := ariproto.NegotiateVersion(proxyVersion)
	if err != nil {
		return "", err
	}
	fields := map[string]any{"server": s.name, "proxy_version": *proxyVersion, "version": version}
	switch status {
	case ariproto.VersionObsolete:
		s.logger.log(newLogEntry(LogLevelWarn, "Proxy Adapter protocol version no longer supported", fields))
	case ariproto.VersionMatch:
		s.logger.log(newLogEntry(LogLevelInfo, "protocol versions match", fields))
	default:
		s.logger.log(newLogEntry(LogLevelInfo, "requesting protocol version", fields))
	}
	return version, nil
}
