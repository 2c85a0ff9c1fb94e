package event

import (
	"encoding/json"
	"io"
	"os"
	"sync"
)

// Pusher delivers negotiation events to an external sink.
//
// Delivery is at-most-once; the engine never retries a push. Pushers
// must preserve the order of calls per negotiation and must be safe
// for concurrent use, although the engine serializes its own calls.
type Pusher interface {
	// Push delivers a single event.
	Push(event Event)

	// PushMany delivers events in order.
	PushMany(events []Event)
}

// NopPusher discards every event.
type NopPusher struct{}

// NewNopPusher creates a pusher that discards events.
func NewNopPusher() *NopPusher { return &NopPusher{} }

func (*NopPusher) Push(Event)       {}
func (*NopPusher) PushMany([]Event) {}

// LogPusher writes each event as a JSON line. The default sink is
// stderr so event output survives stdout redirection.
type LogPusher struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogPusher creates a pusher writing JSON lines to stderr.
func NewLogPusher() *LogPusher {
	return &LogPusher{out: os.Stderr}
}

// NewLogPusherTo creates a pusher writing JSON lines to w.
func NewLogPusherTo(w io.Writer) *LogPusher {
	return &LogPusher{out: w}
}

func (p *LogPusher) Push(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Write(append(data, '\n')) //nolint:errcheck // at-most-once, no retry
}

func (p *LogPusher) PushMany(events []Event) {
	for _, e := range events {
		p.Push(e)
	}
}

var (
	_ Pusher = (*NopPusher)(nil)
	_ Pusher = (*LogPusher)(nil)
)
