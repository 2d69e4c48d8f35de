package engine

import "sync"

// replaySize bounds a subscriber's channel buffer and the number of recent
// envelopes a live run keeps for subscribers that attach late or resume.
const replaySize = 64

// Envelope is an Event stamped with its position in the run's stream.
// Sequence numbers start at 0 and have no gaps.
type Envelope struct {
	Seq   int
	Event Event
}

// EventBroker fans out the typed events of each run to subscribers. It is
// safe for concurrent use.
//
// While a run is live its most recent envelopes are retained, so a
// subscriber can resume after a sequence number instead of missing what was
// published before it attached. Once a run is closed only a marker remains;
// its full stream is served from the store.
type EventBroker struct {
	mu      sync.Mutex
	streams map[string]*runStream
}

type runStream struct {
	subs    map[int]chan Envelope
	nextSub int
	nextSeq int
	recent  []Envelope
	closed  bool
}

// NewEventBroker creates a new event broker.
func NewEventBroker() *EventBroker {
	return &EventBroker{
		streams: make(map[string]*runStream),
	}
}

// stream returns the stream for runID, creating it. b.mu must be held.
func (b *EventBroker) stream(runID string) *runStream {
	s, ok := b.streams[runID]
	if !ok {
		s = &runStream{subs: make(map[int]chan Envelope)}
		b.streams[runID] = s
	}
	return s
}

// Subscribe returns a channel of the run's envelopes with Seq greater than
// after, and an unsubscribe function. Pass -1 to receive every retained
// envelope. The channel is closed when the run is closed; for a run that is
// already closed it is returned closed.
func (b *EventBroker) Subscribe(runID string, after int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(runID)
	ch := make(chan Envelope, replaySize)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	for _, env := range s.recent {
		if env.Seq > after {
			ch <- env
		}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(s.subs, id)
	}
}

// Publish stamps ev with the run's next sequence number, retains it for late
// subscribers and delivers it to current ones. A subscriber whose buffer is
// full misses the envelope. After Close, envelopes are still stamped but go
// nowhere.
func (b *EventBroker) Publish(runID string, ev Event) Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(runID)
	env := Envelope{Seq: s.nextSeq, Event: ev}
	s.nextSeq++
	if s.closed {
		return env
	}

	if len(s.recent) == replaySize {
		copy(s.recent, s.recent[1:])
		s.recent = s.recent[:replaySize-1]
	}
	s.recent = append(s.recent, env)

	for _, ch := range s.subs {
		select {
		case ch <- env:
		default:
		}
	}
	return env
}

// Close ends the run's stream: subscriber channels are closed, retained
// envelopes are released and later subscribers get a closed channel.
func (b *EventBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.stream(runID)
	s.closed = true
	s.recent = nil
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
