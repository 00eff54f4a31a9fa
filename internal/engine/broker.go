package engine

import "sync"

// subscriberBufferSize is the channel buffer for each progress subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// ProgressEvent is one published state/progress change for a job.
type ProgressEvent struct {
	JobID      string `json:"job_id"`
	State      string `json:"state"`
	Progress   int    `json:"progress"`
	RunID      *int64 `json:"run_id,omitempty"`
	RunURL     string `json:"run_url,omitempty"`
	Conclusion string `json:"conclusion,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProgressBroker manages per-job progress streaming to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after a job finishes) receive a closed channel instead of
// blocking forever. Each marker is a few bytes, which is acceptable for the
// expected job volume.
type ProgressBroker struct {
	mu     sync.Mutex
	topics map[string]*progressTopic
}

type progressTopic struct {
	subs   map[int]chan ProgressEvent
	nextID int
	last   *ProgressEvent
	closed bool
}

// NewProgressBroker creates a new progress broker.
func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{
		topics: make(map[string]*progressTopic),
	}
}

// Subscribe returns a channel that receives progress events for the given
// job and an unsubscribe function. The last published event, if any, is
// replayed first so a new subscriber starts from the current state. If the
// job has already finished (Close was called), the returned channel is
// immediately closed.
func (b *ProgressBroker) Subscribe(jobID string) (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan ProgressEvent)}
		b.topics[jobID] = t
	}

	ch := make(chan ProgressEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	if t.last != nil {
		ch <- *t.last
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

// Publish sends a progress event to all subscribers of the given job.
// Events are dropped for subscribers whose buffers are full.
func (b *ProgressBroker) Publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.JobID]
	if !ok {
		t = &progressTopic{subs: make(map[int]chan ProgressEvent)}
		b.topics[ev.JobID] = t
	}
	if t.closed {
		return
	}

	t.last = &ev
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop for slow subscribers to avoid blocking the tracker.
		}
	}
}

// Close signals that no more events will be published for the given job.
// All subscriber channels are closed and future Subscribe calls return a
// closed channel.
func (b *ProgressBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[jobID] = &progressTopic{subs: make(map[int]chan ProgressEvent), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
