// Package eventlog implements a session's append-only event log and its
// subscriber fan-out, per spec.md §4.6 and §5. Appends never block on
// delivery: each subscriber is served by its own forwarding goroutine reading
// off an internal queue, so a slow subscriber only ever blocks itself.
package eventlog

import (
	"sync"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/ndjson"
	"golang.org/x/time/rate"
	"log/slog"
)

// subscriberBuffer is the capacity of the channel handed back to callers of
// Subscribe; internal queuing beyond this is unbounded so Append never
// blocks, matching the design note that "the session worker does not block
// on subscriber delivery."
const subscriberBuffer = 256

type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []contract.Event
	out    chan contract.Event
	closed bool

	// warnLimiter paces how often a backlog warning is logged for this
	// subscriber, so a permanently stuck subscriber doesn't flood logs.
	warnLimiter *rate.Limiter
	logger      *slog.Logger
}

func newSubscriber(logger *slog.Logger) *subscriber {
	s := &subscriber{
		out:         make(chan contract.Event, subscriberBuffer),
		warnLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		logger:      logger,
	}
	s.cond = sync.NewCond(&s.mu)
	go s.forward()
	return s
}

func (s *subscriber) forward() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.out <- e
	}
}

func (s *subscriber) push(e contract.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	backlog := len(s.queue)
	s.cond.Signal()
	s.mu.Unlock()

	if backlog > subscriberBuffer && s.warnLimiter.Allow() {
		s.logger.Warn("eventlog: subscriber falling behind", "backlog", backlog)
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}

// Log is one session's ordered, append-only event log plus its live
// subscribers. A zero-value Log is not usable; construct with NewLog.
type Log struct {
	mu      sync.Mutex
	events  []contract.Event
	subs    map[int]*subscriber
	nextID  int
	persist *ndjson.Encoder
	logger  *slog.Logger
}

// NewLog constructs an empty Log. persist is optional (nil disables
// durability) and, when set, every Append is flushed to it before fan-out.
func NewLog(logger *slog.Logger, persist *ndjson.Encoder) *Log {
	return &Log{
		subs:    make(map[int]*subscriber),
		persist: persist,
		logger:  logger,
	}
}

// Append adds e to the log and fans it out to every current subscriber, in
// the order Append is called. Returns the first persistence error, if any;
// fan-out always proceeds regardless.
func (l *Log) Append(e contract.Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)

	var persistErr error
	if l.persist != nil {
		persistErr = l.persist.EncodeEvent(e)
	}

	snapshot := make([]*subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		snapshot = append(snapshot, s)
	}
	l.mu.Unlock()

	for _, s := range snapshot {
		s.push(e)
	}
	return persistErr
}

// Subscribe returns a channel delivering every event appended so far (in
// order), followed by every future event, plus an unsubscribe func the
// caller must call exactly once when done listening.
func (l *Log) Subscribe() (<-chan contract.Event, func()) {
	l.mu.Lock()
	sub := newSubscriber(l.logger)
	for _, e := range l.events {
		sub.push(e)
	}
	id := l.nextID
	l.nextID++
	l.subs[id] = sub
	l.mu.Unlock()

	unsubscribe := func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
		sub.stop()
	}
	return sub.out, unsubscribe
}

// Snapshot returns a copy of every event appended so far.
func (l *Log) Snapshot() []contract.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]contract.Event(nil), l.events...)
}
