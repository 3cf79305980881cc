package engine

import (
	"sync"
	"time"
)

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// Progress is one stage progress event of a run.
type Progress struct {
	Seq   int       `json:"seq"`
	Stage string    `json:"stage"`
	Line  string    `json:"line"`
	Time  time.Time `json:"time"`
}

// Broker fans out run progress to subscribers. It is safe for concurrent use.
//
// While a run is open the broker keeps its events so that a subscriber
// joining mid-run first receives what it missed. Closed runs are retained
// as markers without history so that late subscribers receive a closed
// channel instead of blocking forever.
type Broker struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	subs    map[int]chan Progress
	nextID  int
	history []Progress
	closed  bool
}

// NewBroker creates a new progress broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[string]*topic),
	}
}

// Subscribe returns a channel that receives progress for the given run and
// an unsubscribe function. Events already published for an open run are
// replayed first. If the run has already finished (Close was called), the
// returned channel is immediately closed.
func (b *Broker) Subscribe(runID string) (<-chan Progress, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	ch := make(chan Progress, subscriberBufferSize+len(t.history))
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	for _, p := range t.history {
		ch <- p
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends an event to all subscribers of the given run. Events are
// dropped for subscribers whose buffers are full.
func (b *Broker) Publish(runID string, p Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	if t.closed {
		return
	}
	t.history = append(t.history, p)

	for _, ch := range t.subs {
		select {
		case ch <- p:
		default:
			// Drop the event for slow subscribers to avoid blocking the run.
		}
	}
}

// Close signals that the run has finished. All subscriber channels are
// closed, the history is released and future Subscribe calls return a
// closed channel.
func (b *Broker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(runID)
	t.closed = true
	t.history = nil
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

func (b *Broker) topic(runID string) *topic {
	t, ok := b.topics[runID]
	if !ok {
		t = &topic{subs: make(map[int]chan Progress)}
		b.topics[runID] = t
	}
	return t
}
