// Package transport implements the in-process topic bus the world and its
// plugins exchange messages on: typed topics, bounded per-subscriber queues
// that drop oldest on overflow, and per-publisher rate caps.
package transport

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/simbotics/simsense/utils"
)

// How many inter-publish intervals each topic keeps for rate statistics.
const intervalWindow = 256

// defaultQueueSize is used for topics created by a subscriber before any
// advertiser pinned a queue size.
const defaultQueueSize = 16

// Bus is the process-local topic table. All nodes attached to a world share
// one bus.
type Bus struct {
	mu      sync.Mutex
	clock   clock.Clock
	logger  golog.Logger
	topics  map[string]*topic
	workers utils.StoppableWorkers
	closed  bool
}

// NewBus returns an empty bus on the wall clock.
func NewBus(logger golog.Logger) *Bus {
	return NewBusWithClock(logger, clock.New())
}

// NewBusWithClock returns an empty bus whose rate caps and statistics follow
// the given clock.
func NewBusWithClock(logger golog.Logger, c clock.Clock) *Bus {
	return &Bus{
		clock:   c,
		logger:  logger,
		topics:  map[string]*topic{},
		workers: utils.NewStoppableWorkers(),
	}
}

// Close stops every subscription worker. Publishing or subscribing afterwards
// returns errors.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		for _, s := range t.subs {
			s.closeQueue()
		}
		t.subs = nil
		t.mu.Unlock()
	}
	b.workers.Stop()
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// topicFor returns the named topic, creating it when missing. A non-nil
// msgType pins the topic's message type and queue size; a conflicting pin is
// an error.
func (b *Bus) topicFor(name string, msgType reflect.Type, queueSize int) (*topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("bus is closed")
	}

	t, ok := b.topics[name]
	if !ok {
		t = &topic{name: name}
		b.topics[name] = t
	}

	if msgType != nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.msgType == nil {
			t.msgType = msgType
			t.queueSize = queueSize
		} else if t.msgType != msgType {
			return nil, errors.Errorf("topic %s carries %s, not %s", name, t.msgType, msgType)
		}
	}
	return t, nil
}

// LatestRaw returns the most recent message published on the topic, if any.
// The topic name must already be fully resolved.
func (b *Bus) LatestRaw(name string) (interface{}, bool) {
	b.mu.Lock()
	t, ok := b.topics[name]
	b.mu.Unlock()
	if !ok {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return nil, false
	}
	return t.latest, true
}

// TopicInfo is a point-in-time description of one topic.
type TopicInfo struct {
	Name        string  `json:"name"`
	MessageType string  `json:"message_type"`
	Publishers  int     `json:"publishers"`
	Subscribers int     `json:"subscribers"`
	Published   uint64  `json:"published"`
	Dropped     uint64  `json:"dropped"`
	MeanHz      float64 `json:"mean_hz"`
	P95Hz       float64 `json:"p95_hz"`
}

// Topics describes every topic on the bus, sorted by name.
func (b *Bus) Topics() []TopicInfo {
	b.mu.Lock()
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	out := make([]TopicInfo, 0, len(topics))
	for _, t := range topics {
		out = append(out, t.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// topic is one named stream. All mutable state is guarded by mu; publishes
// deliver to subscriber queues while holding it, so delivery never blocks.
type topic struct {
	mu        sync.Mutex
	name      string
	msgType   reflect.Type
	queueSize int
	pubs      int
	subs      []*Subscription
	latest    interface{}
	published uint64
	dropped   uint64
	lastPub   time.Time
	intervals []float64
}

func (t *topic) publish(m interface{}, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.latest = m
	t.published++
	if !t.lastPub.IsZero() {
		if len(t.intervals) == intervalWindow {
			t.intervals = t.intervals[1:]
		}
		t.intervals = append(t.intervals, now.Sub(t.lastPub).Seconds())
	}
	t.lastPub = now

	for _, s := range t.subs {
		if !s.offer(m) {
			t.dropped++
		}
	}
}

func (t *topic) drop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropped++
}

func (t *topic) removeSub(target *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s == target {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

func (t *topic) info() TopicInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := TopicInfo{
		Name:        t.name,
		Publishers:  t.pubs,
		Subscribers: len(t.subs),
		Published:   t.published,
		Dropped:     t.dropped,
	}
	if t.msgType != nil {
		info.MessageType = t.msgType.String()
	}
	if len(t.intervals) > 0 {
		rates := make([]float64, 0, len(t.intervals))
		for _, interval := range t.intervals {
			if interval > 0 {
				rates = append(rates, 1/interval)
			}
		}
		if mean, err := stats.Mean(rates); err == nil {
			info.MeanHz = mean
		}
		if p95, err := stats.Percentile(rates, 95); err == nil {
			info.P95Hz = p95
		}
	}
	return info
}
