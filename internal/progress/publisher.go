package progress

import "sync"

// subscriberBuffer absorbs bursts between the poll loop and the SSE write.
const subscriberBuffer = 16

// Publisher routes events to at most one subscriber per job ID. Progress is
// still computed and stored when nobody is listening; Publish simply drops
// the event in that case.
type Publisher struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[string]chan Event)}
}

// Subscribe registers the caller as the subscriber for jobID and returns the
// event channel. A second Subscribe for the same job replaces the first;
// the replaced channel is closed so its consumer unblocks.
func (p *Publisher) Subscribe(jobID string) <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.subs[jobID]; ok {
		close(old)
	}
	ch := make(chan Event, subscriberBuffer)
	p.subs[jobID] = ch
	return ch
}

// Publish delivers ev to the subscriber for jobID, if any. A terminal event
// (complete or error) is followed by closing the channel; no further events
// are possible for that subscription. Progress events to a full buffer are
// dropped — the next snapshot supersedes them anyway.
func (p *Publisher) Publish(jobID string, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.subs[jobID]
	if !ok {
		return
	}

	if ev.Name == EventProgress {
		select {
		case ch <- ev:
		default:
		}
		return
	}

	// Terminal: make room by discarding stale progress frames so exactly
	// one terminal event is always delivered, then close.
	for {
		select {
		case ch <- ev:
			close(ch)
			delete(p.subs, jobID)
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

// HasSubscriber reports whether a subscriber is currently attached to jobID.
// Poll loops use this to detect abandoned streams.
func (p *Publisher) HasSubscriber(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.subs[jobID]
	return ok
}

// Unsubscribe removes the binding for jobID if ch is still its subscriber.
// Called on client disconnect; a binding already replaced or closed by a
// terminal Publish is left alone.
func (p *Publisher) Unsubscribe(jobID string, ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.subs[jobID]
	if !ok || (<-chan Event)(cur) != ch {
		return
	}
	close(cur)
	delete(p.subs, jobID)
}
