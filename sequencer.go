package remoteadapter

import (
	"fmt"
	"sync"

	"github.com/pushkernel/remoteadapter/internal/gpool"
)

// subscriptionTask is a subscribe or an unsubscribe request for an item.
type subscriptionTask struct {
	// code is the request id of a subscription, empty for unsubscriptions.
	code string
	// do invokes the adapter and sends the reply. It reports whether the
	// adapter call succeeded.
	do func() bool
	// late sends the reply without invoking the adapter.
	late func()
}

// itemState holds the pending requests of one item.
type itemState struct {
	item string

	// Guarded by subscriptionSequencer.mu.
	queued int
	code   string

	mu              sync.Mutex
	tasks           []subscriptionTask
	expectSubscribe bool
	running         bool
	lastOutcome     bool
}

// subscriptionSequencer runs subscribe and unsubscribe requests on a pool
// while keeping them in arrival order for each item. A subscribe overtaken
// by its unsubscribe before running is answered without calling the
// adapter, and so is that unsubscribe.
type subscriptionSequencer struct {
	pool    *gpool.Pool
	logger  *logger
	metrics *metrics

	mu    sync.Mutex
	items map[string]*itemState
}

func newSubscriptionSequencer(pool *gpool.Pool, l *logger, m *metrics) *subscriptionSequencer {
	return &subscriptionSequencer{
		pool:    pool,
		logger:  l,
		metrics: m,
		items:   make(map[string]*itemState),
	}
}

func (s *subscriptionSequencer) enqueueSubscribe(item string, task subscriptionTask) {
	s.mu.Lock()
	st, ok := s.items[item]
	if !ok {
		st = &itemState{item: item, expectSubscribe: true}
		s.items[item] = st
	}
	// Prevents the removal of the state by a drain loop ending right now.
	st.queued++
	s.mu.Unlock()
	s.addTask(st, task, true)
}

func (s *subscriptionSequencer) enqueueUnsubscribe(item string, task subscriptionTask) {
	s.mu.Lock()
	st, ok := s.items[item]
	if !ok {
		s.mu.Unlock()
		// Only possible if the subscribe request got lost.
		s.logger.log(newLogEntry(LogLevelError, "task list expected for item", map[string]any{"item": item}))
		task.late()
		return
	}
	st.queued++
	s.mu.Unlock()
	s.addTask(st, task, false)
}

func (s *subscriptionSequencer) addTask(st *itemState, task subscriptionTask, isSubscribe bool) {
	if isSubscribe != (task.code != "") {
		s.logger.log(newLogEntry(LogLevelError, "inconsistent task for item", map[string]any{"item": st.item}))
	}
	st.mu.Lock()
	if isSubscribe != st.expectSubscribe {
		s.logger.log(newLogEntry(LogLevelError, "unexpected task for item", map[string]any{"item": st.item, "subscribe": isSubscribe}))
	}
	st.tasks = append(st.tasks, task)
	st.expectSubscribe = !isSubscribe
	if st.running {
		st.mu.Unlock()
		return
	}
	st.running = true
	if s.pool.Submit(func() { s.drain(st) }) {
		st.mu.Unlock()
		return
	}
	st.running = false
	rejected := st.tasks
	st.tasks = nil
	st.mu.Unlock()
	s.reject(st, rejected)
}

// reject answers tasks the pool refused without invoking the adapter.
func (s *subscriptionSequencer) reject(st *itemState, tasks []subscriptionTask) {
	s.logger.log(newLogEntry(LogLevelWarn, "subscription tasks rejected, server is closing", map[string]any{"item": st.item, "count": len(tasks)}))
	for _, task := range tasks {
		s.runLate(st.item, task)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.queued -= len(tasks)
	if st.code != "" || st.queued != 0 {
		return
	}
	if current, ok := s.items[st.item]; ok && current == st {
		delete(s.items, st.item)
	}
}

// currentSubscriptionCode returns the request id of the active subscription
// of the item, if any.
func (s *subscriptionSequencer) currentSubscriptionCode(item string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.items[item]
	if !ok || st.code == "" {
		return "", false
	}
	return st.code, true
}

func (s *subscriptionSequencer) drain(st *itemState) {
	dequeued := 0
	var lastOutcome bool
	for {
		var task subscriptionTask
		var isLast bool

		st.mu.Lock()
		if dequeued == 0 {
			lastOutcome = st.lastOutcome
		}
		if len(st.tasks) == 0 {
			st.lastOutcome = lastOutcome
			st.running = false
			st.mu.Unlock()
			// A new drain loop may start from now on.
			break
		}
		task = st.tasks[0]
		st.tasks[0] = subscriptionTask{}
		st.tasks = st.tasks[1:]
		isLast = len(st.tasks) == 0
		dequeued++
		st.mu.Unlock()

		if task.code != "" {
			if !isLast {
				// Already followed by its unsubscription.
				s.metrics.incLateSubscribes()
				s.runLate(st.item, task)
				lastOutcome = false
				continue
			}
			s.mu.Lock()
			st.code = task.code
			s.mu.Unlock()
			s.metrics.addActiveSubscriptions(1)
			lastOutcome = s.run(st.item, task)
			continue
		}

		if lastOutcome {
			// The outcome of an unsubscription has no consequences.
			s.run(st.item, task)
		} else {
			s.runLate(st.item, task)
		}
		s.mu.Lock()
		hadCode := st.code != ""
		st.code = ""
		s.mu.Unlock()
		if hadCode {
			s.metrics.addActiveSubscriptions(-1)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.queued -= dequeued
	if st.code != "" || st.queued != 0 {
		// Still subscribed or new requests are bound to be drained.
		return
	}
	if current, ok := s.items[st.item]; ok && current == st {
		delete(s.items, st.item)
	}
}

func (s *subscriptionSequencer) run(item string, task subscriptionTask) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.log(newLogEntry(LogLevelError, "panic in subscription task", map[string]any{"item": item, "panic": fmt.Sprint(r)}))
			ok = false
		}
	}()
	return task.do()
}

func (s *subscriptionSequencer) runLate(item string, task subscriptionTask) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.log(newLogEntry(LogLevelError, "panic in late subscription task", map[string]any{"item": item, "panic": fmt.Sprint(r)}))
		}
	}()
	task.late()
}

// shutdown stops accepting subscription work. Running adapter calls are not
// interrupted.
func (s *subscriptionSequencer) shutdown() {
	s.pool.Shutdown()
}

func (s *subscriptionSequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
