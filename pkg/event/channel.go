package event

import (
	"log/slog"
	"sync"
)

// ChannelPusher fans events out to per-negotiation subscribers over
// buffered channels. It backs the server's SSE surface.
//
// A slow subscriber whose buffer is full loses the event instead of
// blocking the engine, which matches the at-most-once delivery
// contract.
type ChannelPusher struct {
	mu         sync.RWMutex
	bufferSize int
	nextID     int
	subs       map[string]map[int]chan Event

	// OnDrop, when set, is called once per event lost to a full
	// subscriber buffer. Set it before the first Push.
	OnDrop func()
}

// NewChannelPusher creates a fan-out pusher. bufferSize is the
// per-subscriber channel depth; values below 1 fall back to 64.
func NewChannelPusher(bufferSize int) *ChannelPusher {
	if bufferSize < 1 {
		bufferSize = 64
	}
	return &ChannelPusher{
		bufferSize: bufferSize,
		subs:       make(map[string]map[int]chan Event),
	}
}

// Subscribe registers for events of one negotiation. The returned
// cancel function unregisters and closes the channel; it is safe to
// call more than once.
func (p *ChannelPusher) Subscribe(negotiationID string) (<-chan Event, func()) {
	ch := make(chan Event, p.bufferSize)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	if p.subs[negotiationID] == nil {
		p.subs[negotiationID] = make(map[int]chan Event)
	}
	p.subs[negotiationID][id] = ch
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			if set, ok := p.subs[negotiationID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(p.subs, negotiationID)
				}
			}
			p.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers for a
// negotiation.
func (p *ChannelPusher) SubscriberCount(negotiationID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs[negotiationID])
}

func (p *ChannelPusher) Push(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, ch := range p.subs[event.NegotiationID] {
		select {
		case ch <- event:
		default:
			slog.Debug("Event dropped for slow subscriber",
				"negotiation_id", event.NegotiationID,
				"event_type", event.EventType)
			if p.OnDrop != nil {
				p.OnDrop()
			}
		}
	}
}

func (p *ChannelPusher) PushMany(events []Event) {
	for _, e := range events {
		p.Push(e)
	}
}

var _ Pusher = (*ChannelPusher)(nil)
