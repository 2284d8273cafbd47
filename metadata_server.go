package remoteadapter

import (
	"errors"

	"github.com/pushkernel/remoteadapter/internal/ariproto"
	"github.com/pushkernel/remoteadapter/internal/gpool"
)

// MetadataServer runs a MetadataProvider over the request and reply streams
// of a Proxy Adapter connection.
type MetadataServer struct {
	*server
	provider MetadataProvider
	pool     *gpool.Pool
	pending  *pendingRequests
	methods  map[string]metadataHandler
}

// NewMetadataServer creates a MetadataServer for the provider. The server
// does not touch the streams until Start.
func NewMetadataServer(provider MetadataProvider, c Config) (*MetadataServer, error) {
	if provider == nil {
		return nil, errors.New("metadata provider not set")
	}
	c.NotifyStream = nil
	s, err := newServer("metadata", ariproto.MethodMetadataInit, KindMetadataProvider, c, false, EnvMetadataPoolSize)
	if err != nil {
		return nil, err
	}
	m := &MetadataServer{
		server:   s,
		provider: provider,
		pool:     gpool.NewPool(s.config.poolSize()),
		pending:  newPendingRequests(s.logger, s.metrics),
	}
	m.methods = m.handlers()
	s.variant = m
	s.logger.log(newLogEntry(LogLevelDebug, "metadata server created", map[string]any{"server": s.name, "pool": m.pool.Kind(), "pool_size": m.pool.Size()}))
	return m, nil
}

// acceptVersion also accepts 1.9.0, which only differs for Data Adapters.
func (m *MetadataServer) acceptVersion(proxyVersion *string) (string, error) {
	if proxyVersion != nil && *proxyVersion == "1.9.0" {
		m.logger.log(newLogEntry(LogLevelInfo, "compatible protocol version", map[string]any{"server": m.name, "proxy_version": *proxyVersion, "version": ariproto.CurrentVersion}))
		return ariproto.CurrentVersion, nil
	}
	return m.negotiateVersion(proxyVersion)
}

func (m *MetadataServer) initAdapter(params map[string]string) error {
	if err := m.provider.Init(params, m.config.AdapterConfigPath); err != nil {
		return err
	}
	m.provider.SetListener(&metadataControlListener{m})
	return nil
}

func (m *MetadataServer) handleRequest(id, method, body string) {
	switch method {
	case ariproto.MethodForceSessionTermination:
		if err := ariproto.ReadForceSessionTermination(body); err != nil {
			m.completeControl(id, err)
			return
		}
		m.pending.complete(id, true)
		return
	case ariproto.MethodForceUnsubscription:
		found, err := ariproto.ReadForceUnsubscription(body)
		if err != nil {
			m.completeControl(id, err)
			return
		}
		m.pending.complete(id, found)
		return
	}

	handler, ok := m.methods[method]
	if !ok {
		m.logger.log(newLogEntry(LogLevelWarn, "discarding unknown request", map[string]any{"server": m.name, "id": id, "method": method}))
		return
	}
	job := func() {
		reply, err := handler(body)
		if err != nil {
			var adapterErr *adapterError
			if !errors.As(err, &adapterErr) {
				m.onFatal(err)
				return
			}
			m.logger.log(newErrorLogEntry(adapterErr.err, "metadata request failed", map[string]any{"server": m.name, "id": id, "method": method}))
			reply = ariproto.WriteMethodError(method, adapterErr.err)
		}
		m.replies.sendWithID(id, reply)
	}
	if !m.pool.Submit(job) {
		m.logger.log(newLogEntry(LogLevelWarn, "request rejected, server is closing", map[string]any{"server": m.name, "id": id, "method": method}))
	}
}

// completeControl fails a control request. An exception sent by the Kernel
// fails the request, a malformed response is also a protocol error.
func (m *MetadataServer) completeControl(id string, err error) {
	m.pending.completeWithError(id, err)
	var protocolErr *ProtocolError
	if errors.As(err, &protocolErr) {
		m.onFatal(err)
	}
}

type metadataHandler func(body string) (string, error)

func (m *MetadataServer) handlers() map[string]metadataHandler {
	return map[string]metadataHandler{
		ariproto.MethodGetItemData:                     m.getItemData,
		ariproto.MethodNotifyUser:                      m.notifyUser,
		ariproto.MethodNotifyUserAuth:                  m.notifyUserAuth,
		ariproto.MethodGetSchema:                       m.getSchema,
		ariproto.MethodGetItems:                        m.getItems,
		ariproto.MethodGetUserItemData:                 m.getUserItemData,
		ariproto.MethodNotifyUserMessage:               m.notifyUserMessage,
		ariproto.MethodNotifyNewSession:                m.notifyNewSession,
		ariproto.MethodNotifySessionClose:              m.notifySessionClose,
		ariproto.MethodNotifyNewTables:                 m.notifyNewTables,
		ariproto.MethodNotifyTablesClose:               m.notifyTablesClose,
		ariproto.MethodNotifyMpnDeviceAccess:           m.notifyMpnDeviceAccess,
		ariproto.MethodNotifyMpnSubscriptionActivation: m.notifyMpnSubscriptionActivation,
		ariproto.MethodNotifyMpnDeviceTokenChange:      m.notifyMpnDeviceTokenChange,
	}
}

// adapterError wraps errors of adapter calls so that they are told apart
// from decoding errors.
type adapterError struct {
	err error
}

func (e *adapterError) Error() string { return e.err.Error() }

func (e *adapterError) Unwrap() error { return e.err }

func (m *MetadataServer) call(method string, fn func() error) error {
	if err := m.callAdapter(method, fn); err != nil {
		return &adapterError{err}
	}
	return nil
}

func (m *MetadataServer) getItemData(body string) (string, error) {
	items, err := ariproto.ReadGetItemData(body)
	if err != nil {
		return "", err
	}
	data := make([]ItemData, len(items))
	err = m.call(ariproto.MethodGetItemData, func() error {
		for i, item := range items {
			data[i].AllowedModes = make([]Mode, 0, len(ariproto.AllModes))
			for _, mode := range ariproto.AllModes {
				if m.provider.ModeMayBeAllowed(item, mode) {
					data[i].AllowedModes = append(data[i].AllowedModes, mode)
				}
			}
			data[i].DistinctSnapshotLength = m.provider.GetDistinctSnapshotLength(item)
			data[i].MinSourceFrequency = m.provider.GetMinSourceFrequency(item)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ariproto.WriteGetItemData(data)
}

func (m *MetadataServer) getUserItemData(body string) (string, error) {
	req, err := ariproto.ReadGetUserItemData(body)
	if err != nil {
		return "", err
	}
	data := make([]UserItemData, len(req.Items))
	err = m.call(ariproto.MethodGetUserItemData, func() error {
		for i, item := range req.Items {
			data[i].AllowedModes = make([]Mode, 0, len(ariproto.AllModes))
			for _, mode := range ariproto.AllModes {
				if m.provider.IsModeAllowed(req.User, item, mode) {
					data[i].AllowedModes = append(data[i].AllowedModes, mode)
				}
			}
			data[i].AllowedMaxItemFrequency = m.provider.GetAllowedMaxItemFrequency(req.User, item)
			data[i].AllowedBufferSize = m.provider.GetAllowedBufferSize(req.User, item)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return ariproto.WriteGetUserItemData(data)
}

func (m *MetadataServer) notifyUser(body string) (string, error) {
	req, err := ariproto.ReadNotifyUser(ariproto.MethodNotifyUser, body)
	if err != nil {
		return "", err
	}
	return m.userData(ariproto.MethodNotifyUser, req.User, func() error {
		return m.provider.NotifyUser(req.User, req.Password, req.HTTPHeaders)
	})
}

func (m *MetadataServer) notifyUserAuth(body string) (string, error) {
	req, err := ariproto.ReadNotifyUser(ariproto.MethodNotifyUserAuth, body)
	if err != nil {
		return "", err
	}
	return m.userData(ariproto.MethodNotifyUserAuth, req.User, func() error {
		if p, ok := m.provider.(PrincipalNotifier); ok {
			return p.NotifyUserWithPrincipal(req.User, req.Password, req.HTTPHeaders, req.ClientPrincipal)
		}
		return m.provider.NotifyUser(req.User, req.Password, req.HTTPHeaders)
	})
}

func (m *MetadataServer) userData(method, user string, notify func() error) (string, error) {
	var data UserData
	err := m.call(method, func() error {
		if err := notify(); err != nil {
			return err
		}
		data.AllowedMaxBandwidth = m.provider.GetAllowedMaxBandwidth(user)
		data.WantsTablesNotification = m.provider.WantsTablesNotification(user)
		return nil
	})
	if err != nil {
		return "", err
	}
	return ariproto.WriteNotifyUser(method, data), nil
}

func (m *MetadataServer) getSchema(body string) (string, error) {
	req, err := ariproto.ReadGetSchema(body)
	if err != nil {
		return "", err
	}
	var fields []string
	err = m.call(ariproto.MethodGetSchema, func() (err error) {
		fields, err = m.provider.GetSchema(req.User, req.Session, req.Group, req.Schema)
		return err
	})
	if err != nil {
		return "", err
	}
	return ariproto.WriteStringList(ariproto.MethodGetSchema, fields), nil
}

func (m *MetadataServer) getItems(body string) (string, error) {
	req, err := ariproto.ReadGetItems(body)
	if err != nil {
		return "", err
	}
	var items []string
	err = m.call(ariproto.MethodGetItems, func() (err error) {
		items, err = m.provider.GetItems(req.User, req.Session, req.Group)
		return err
	})
	if err != nil {
		return "", err
	}
	return ariproto.WriteStringList(ariproto.MethodGetItems, items), nil
}

// void runs a notification whose reply carries no value.
func (m *MetadataServer) void(method string, fn func() error) (string, error) {
	if err := m.call(method, fn); err != nil {
		return "", err
	}
	return ariproto.WriteVoid(method), nil
}

func (m *MetadataServer) notifyUserMessage(body string) (string, error) {
	req, err := ariproto.ReadNotifyUserMessage(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifyUserMessage, func() error {
		return m.provider.NotifyUserMessage(req.User, req.Session, req.Message)
	})
}

func (m *MetadataServer) notifyNewSession(body string) (string, error) {
	req, err := ariproto.ReadNotifyNewSession(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifyNewSession, func() error {
		return m.provider.NotifyNewSession(req.User, req.Session, req.ClientContext)
	})
}

func (m *MetadataServer) notifySessionClose(body string) (string, error) {
	session, err := ariproto.ReadNotifySessionClose(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifySessionClose, func() error {
		return m.provider.NotifySessionClose(session)
	})
}

func (m *MetadataServer) notifyNewTables(body string) (string, error) {
	req, err := ariproto.ReadNotifyNewTables(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifyNewTables, func() error {
		return m.provider.NotifyNewTables(req.User, req.Session, req.Tables)
	})
}

func (m *MetadataServer) notifyTablesClose(body string) (string, error) {
	req, err := ariproto.ReadNotifyTablesClose(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifyTablesClose, func() error {
		return m.provider.NotifyTablesClose(req.Session, req.Tables)
	})
}

func (m *MetadataServer) notifyMpnDeviceAccess(body string) (string, error) {
	req, err := ariproto.ReadNotifyMpnDeviceAccess(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifyMpnDeviceAccess, func() error {
		return m.provider.NotifyMpnDeviceAccess(req.User, req.Session, req.Device)
	})
}

func (m *MetadataServer) notifyMpnSubscriptionActivation(body string) (string, error) {
	req, err := ariproto.ReadNotifyMpnSubscriptionActivation(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifyMpnSubscriptionActivation, func() error {
		return m.provider.NotifyMpnSubscriptionActivation(req.User, req.Session, req.Table, req.Subscription)
	})
}

func (m *MetadataServer) notifyMpnDeviceTokenChange(body string) (string, error) {
	req, err := ariproto.ReadNotifyMpnDeviceTokenChange(body)
	if err != nil {
		return "", err
	}
	return m.void(ariproto.MethodNotifyMpnDeviceTokenChange, func() error {
		return m.provider.NotifyMpnDeviceTokenChange(req.User, req.Session, req.Device, req.NewDeviceToken)
	})
}

func (m *MetadataServer) sendFailure(err error) {
	m.replies.sendWithID(ariproto.FailureRequestID, ariproto.WriteFailure(err))
}

func (m *MetadataServer) dispose() {
	m.pool.Shutdown()
	m.pending.failAll(ErrServerClosed)
}

// sendControl sends a control request to the Kernel and tracks its
// response.
func (m *MetadataServer) sendControl(encode func() (string, error)) *PendingResult {
	id, msg, result := m.pending.begin(encode)
	if msg == "" {
		return result
	}
	m.replies.sendWithID(id, msg)
	if m.closing() {
		// dispose may have run before the request was registered.
		m.pending.cancel(id, ErrServerClosed)
	}
	return result
}

// metadataControlListener is the MetadataControlListener handed to the
// provider.
type metadataControlListener struct {
	m *MetadataServer
}

func (l *metadataControlListener) ForceSessionTermination(sessionID string) *PendingResult {
	return l.m.sendControl(func() (string, error) {
		return ariproto.WriteForceSessionTermination(sessionID, nil), nil
	})
}

func (l *metadataControlListener) ForceSessionTerminationWithCause(sessionID string, causeCode int, causeMessage string) *PendingResult {
	return l.m.sendControl(func() (string, error) {
		if causeCode > 0 {
			return "", NewFailureError("cause code must not be positive")
		}
		return ariproto.WriteForceSessionTermination(sessionID, &ariproto.Cause{Code: causeCode, Message: causeMessage}), nil
	})
}

func (l *metadataControlListener) ForceUnsubscription(sessionID string, table TableInfo) *PendingResult {
	return l.m.sendControl(func() (string, error) {
		return ariproto.WriteForceUnsubscription(sessionID, table.WinIndex), nil
	})
}

func (l *metadataControlListener) Failure(err error) {
	l.m.logger.log(newErrorLogEntry(err, "failure notified by the metadata provider", map[string]any{"server": l.m.name}))
	l.m.sendFailure(err)
}
