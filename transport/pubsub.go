package transport

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Advertise registers a typed publisher on the topic. queueSize bounds each
// subscriber's backlog; maxRateHz caps accepted publishes (0 = uncapped),
// measured on the bus clock. The first advertiser pins the topic's message
// type and queue size.
func Advertise[M any](n *Node, topicName string, queueSize int, maxRateHz float64) (*Publisher[M], error) {
	if queueSize <= 0 {
		return nil, errors.Errorf("queue size must be positive, got %d", queueSize)
	}
	if maxRateHz < 0 {
		return nil, errors.Errorf("publish rate cannot be negative, got %f", maxRateHz)
	}
	resolved, err := n.ResolveTopic(topicName)
	if err != nil {
		return nil, err
	}
	msgType := reflect.TypeOf((*M)(nil)).Elem()
	t, err := n.bus.topicFor(resolved, msgType, queueSize)
	if err != nil {
		return nil, err
	}

	p := &Publisher[M]{bus: n.bus, topic: t}
	if maxRateHz > 0 {
		p.minInterval = time.Duration(float64(time.Second) / maxRateHz)
	}
	t.mu.Lock()
	t.pubs++
	t.mu.Unlock()
	n.trackPub(p)
	return p, nil
}

// Publisher sends messages of one type to a topic. Publish never blocks.
type Publisher[M any] struct {
	mu          sync.Mutex
	bus         *Bus
	topic       *topic
	minInterval time.Duration
	lastPub     time.Time
	closed      bool
}

// Topic returns the fully resolved topic name.
func (p *Publisher[M]) Topic() string {
	return p.topic.name
}

// Publish delivers m to the topic's subscribers. When publishing faster than
// the advertised rate the message is dropped and counted, not queued.
func (p *Publisher[M]) Publish(m M) error {
	if p.bus.isClosed() {
		return errors.New("bus is closed")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.Errorf("publisher for %s is closed", p.topic.name)
	}
	now := p.bus.clock.Now()
	if p.minInterval > 0 && !p.lastPub.IsZero() && now.Sub(p.lastPub) < p.minInterval {
		p.mu.Unlock()
		p.topic.drop()
		return nil
	}
	p.lastPub = now
	p.mu.Unlock()

	p.topic.publish(m, now)
	return nil
}

// SetMaxRate adjusts the publisher's rate cap; zero removes it. Takes effect
// on the next Publish.
func (p *Publisher[M]) SetMaxRate(maxRateHz float64) error {
	if maxRateHz < 0 {
		return errors.Errorf("publish rate cannot be negative, got %f", maxRateHz)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxRateHz > 0 {
		p.minInterval = time.Duration(float64(time.Second) / maxRateHz)
	} else {
		p.minInterval = 0
	}
	return nil
}

// Close unadvertises the publisher. Safe to call more than once.
func (p *Publisher[M]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.topic.mu.Lock()
	p.topic.pubs--
	p.topic.mu.Unlock()
	return nil
}

// Subscribe registers cb for every message on the topic. The callback runs on
// a dedicated goroutine fed by a bounded queue; messages of the wrong
// concrete type are dropped with a warning.
func Subscribe[M any](n *Node, topicName string, cb func(M)) (*Subscription, error) {
	resolved, err := n.ResolveTopic(topicName)
	if err != nil {
		return nil, err
	}
	t, err := n.bus.topicFor(resolved, nil, 0)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	size := t.queueSize
	t.mu.Unlock()
	if size <= 0 {
		size = defaultQueueSize
	}

	logger := n.bus.logger
	s := &Subscription{
		topic: t,
		queue: make(chan interface{}, size),
	}
	s.deliver = func(raw interface{}) {
		m, ok := raw.(M)
		if !ok {
			logger.Warnw("dropping message of unexpected type", "topic", resolved, "got", reflect.TypeOf(raw).String())
			return
		}
		cb(m)
	}

	if n.bus.isClosed() {
		return nil, errors.New("bus is closed")
	}
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()

	n.bus.workers.AddWorkers(s.run)
	n.trackSub(s)
	return s, nil
}

// Subscription is a handle to one topic callback.
type Subscription struct {
	topic   *topic
	queue   chan interface{}
	deliver func(interface{})

	mu     sync.Mutex
	closed bool
}

// Topic returns the fully resolved topic name.
func (s *Subscription) Topic() string {
	return s.topic.name
}

// Unsubscribe removes the callback and stops its worker. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.topic.removeSub(s)
	s.closeQueue()
}

// closeQueue closes the feed channel exactly once. Callers must have already
// removed the subscription from the topic so no publisher can still send.
func (s *Subscription) closeQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}

// offer enqueues without blocking, dropping the oldest queued message when
// full. Runs under the topic lock, so it is the only sender.
func (s *Subscription) offer(m interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.queue <- m:
		return true
	default:
	}
	// full: displace the oldest queued message
	select {
	case <-s.queue:
	default:
	}
	select {
	case s.queue <- m:
	default:
	}
	return false
}

func (s *Subscription) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-s.queue:
			if !ok {
				return
			}
			s.deliver(m)
		}
	}
}
