package remoteadapter

import (
	"errors"

	"github.com/pushkernel/remoteadapter/internal/ariproto"
	"github.com/pushkernel/remoteadapter/internal/gpool"
)

// DataServer runs a DataProvider over the streams of a Proxy Adapter
// connection. Requests, replies and notifications may flow on three
// streams, or on two when Config.NotifyStream is nil.
type DataServer struct {
	*server
	provider  DataProvider
	pool      *gpool.Pool
	sequencer *subscriptionSequencer
}

// NewDataServer creates a DataServer for the provider. The server does not
// touch the streams until Start.
func NewDataServer(provider DataProvider, c Config) (*DataServer, error) {
	if provider == nil {
		return nil, errors.New("data provider not set")
	}
	s, err := newServer("data", ariproto.MethodDataInit, KindDataProvider, c, true, EnvDataPoolSize)
	if err != nil {
		return nil, err
	}
	d := &DataServer{
		server:   s,
		provider: provider,
		pool:     gpool.NewPool(s.config.poolSize()),
	}
	d.sequencer = newSubscriptionSequencer(d.pool, s.logger, s.metrics)
	s.variant = d
	s.logger.log(newLogEntry(LogLevelDebug, "data server created", map[string]any{"server": s.name, "pool": d.pool.Kind(), "pool_size": d.pool.Size()}))
	return d, nil
}

func (d *DataServer) acceptVersion(proxyVersion *string) (string, error) {
	return d.negotiateVersion(proxyVersion)
}

func (d *DataServer) initAdapter(params map[string]string) error {
	if err := d.provider.Init(params, d.config.AdapterConfigPath); err != nil {
		return err
	}
	d.provider.SetListener(&itemEventListener{d})
	return nil
}

func (d *DataServer) handleRequest(id, method, body string) {
	switch method {
	case ariproto.MethodSubscribe:
		item, err := ariproto.ReadSubscribe(body)
		if err != nil {
			d.onFatal(err)
			return
		}
		d.sequencer.enqueueSubscribe(item, subscriptionTask{
			code: id,
			do:   func() bool { return d.subscribe(id, item) },
			late: func() { d.refuseLateSubscribe(id, item) },
		})
	case ariproto.MethodUnsubscribe:
		item, err := ariproto.ReadUnsubscribe(body)
		if err != nil {
			d.onFatal(err)
			return
		}
		d.sequencer.enqueueUnsubscribe(item, subscriptionTask{
			do:   func() bool { return d.unsubscribe(id, item) },
			late: func() { d.replies.sendWithID(id, ariproto.WriteUnsubscribe()) },
		})
	default:
		d.logger.log(newLogEntry(LogLevelWarn, "discarding unknown request", map[string]any{"server": d.name, "id": id, "method": method}))
	}
}

// subscribe runs on the pool, with the subscription code already
// published, so that the end of snapshot sent on behalf of the provider
// can be routed.
func (d *DataServer) subscribe(id, item string) bool {
	err := d.callAdapter(ariproto.MethodSubscribe, func() error {
		available, err := d.provider.IsSnapshotAvailable(item)
		if err != nil {
			return err
		}
		if !available {
			d.sendEndOfSnapshot(item)
		}
		return d.provider.Subscribe(item)
	})
	if err != nil {
		d.logger.log(newErrorLogEntry(err, "subscription failed", map[string]any{"server": d.name, "item": item}))
		d.replies.sendWithID(id, ariproto.WriteSubscribeError(err))
		return false
	}
	d.replies.sendWithID(id, ariproto.WriteSubscribe())
	return true
}

func (d *DataServer) refuseLateSubscribe(id, item string) {
	d.logger.log(newLogEntry(LogLevelInfo, "skipping request, subscription came too late", map[string]any{"server": d.name, "id": id, "item": item}))
	d.replies.sendWithID(id, ariproto.WriteSubscribeError(NewSubscriptionError("Subscribe request come too late")))
}

func (d *DataServer) unsubscribe(id, item string) bool {
	err := d.callAdapter(ariproto.MethodUnsubscribe, func() error {
		return d.provider.Unsubscribe(item)
	})
	if err != nil {
		d.logger.log(newErrorLogEntry(err, "unsubscription failed", map[string]any{"server": d.name, "item": item}))
		d.replies.sendWithID(id, ariproto.WriteUnsubscribeError(err))
		return false
	}
	d.replies.sendWithID(id, ariproto.WriteUnsubscribe())
	return true
}

func (d *DataServer) sendFailure(err error) {
	d.notifications.send(ariproto.WriteFailure(err))
}

func (d *DataServer) dispose() {
	d.sequencer.shutdown()
}

// subscriptionCode returns the code to route events of the item. Events for
// items with no active subscription are dropped.
func (d *DataServer) subscriptionCode(item, method string) (string, bool) {
	code, ok := d.sequencer.currentSubscriptionCode(item)
	if !ok {
		d.metrics.incDroppedEvents()
		d.logger.log(newLogEntry(LogLevelWarn, "unexpected event for item with no active subscription", map[string]any{"server": d.name, "item": item, "method": method}))
	}
	return code, ok
}

func (d *DataServer) sendEndOfSnapshot(item string) {
	if code, ok := d.subscriptionCode(item, ariproto.MethodEndOfSnapshot); ok {
		d.notifications.send(ariproto.WriteEndOfSnapshot(item, code))
	}
}

// itemEventListener is the ItemEventListener handed to the provider. It
// takes no locks besides the ones of the sequencer and the sender queue, so
// the provider may call it while holding its own locks.
type itemEventListener struct {
	d *DataServer
}

func (l *itemEventListener) Update(item string, fields map[string]any, isSnapshot bool) {
	code, ok := l.d.subscriptionCode(item, ariproto.MethodUpdateByMap)
	if !ok {
		return
	}
	msg, err := ariproto.WriteUpdateByMap(item, code, fields, isSnapshot)
	if err != nil {
		l.d.onFatal(err)
		return
	}
	l.d.notifications.send(msg)
}

func (l *itemEventListener) EndOfSnapshot(item string) {
	l.d.sendEndOfSnapshot(item)
}

func (l *itemEventListener) ClearSnapshot(item string) {
	if code, ok := l.d.subscriptionCode(item, ariproto.MethodClearSnapshot); ok {
		l.d.notifications.send(ariproto.WriteClearSnapshot(item, code))
	}
}

func (l *itemEventListener) DeclareFieldDiffOrder(item string, algorithms map[string][]DiffAlgorithm) {
	code, ok := l.d.subscriptionCode(item, ariproto.MethodDeclareFieldDiffOrder)
	if !ok {
		return
	}
	msg, err := ariproto.WriteDeclareFieldDiffOrder(item, code, algorithms)
	if err != nil {
		l.d.onFatal(err)
		return
	}
	l.d.notifications.send(msg)
}

func (l *itemEventListener) Failure(err error) {
	l.d.logger.log(newErrorLogEntry(err, "failure notified by the data provider", map[string]any{"server": l.d.name}))
	l.d.sendFailure(err)
}
