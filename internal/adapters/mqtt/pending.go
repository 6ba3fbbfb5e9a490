package mqtt

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mikey-austin/spotispy/pkg/sp"
)

// pending correlates replies with in-flight commands by command id.
type pending struct {
	mu      sync.Mutex
	waiters map[string]chan sp.ReplyEnvelope
}

func newPending() *pending {
	return &pending{waiters: map[string]chan sp.ReplyEnvelope{}}
}

func (p *pending) add(id string) (<-chan sp.ReplyEnvelope, error) {
	if id == "" {
		return nil, errors.New("command id required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.waiters[id]; ok {
		return nil, fmt.Errorf("command %s already in flight", id)
	}
	ch := make(chan sp.ReplyEnvelope, 1)
	p.waiters[id] = ch
	return ch, nil
}

func (p *pending) drop(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// deliver hands reply to its waiter. Unknown and duplicate replies are
// discarded.
func (p *pending) deliver(reply sp.ReplyEnvelope) bool {
	p.mu.Lock()
	ch, ok := p.waiters[reply.ID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- reply:
		return true
	default:
		return false
	}
}

// feed fans a node's state and events out to a watcher. It is safe to call
// after close, which matters because paho may still run a handler while the
// unsubscribe is in flight.
type feed struct {
	mu     sync.Mutex
	closed bool
	states chan sp.NowPlayingState
	events chan sp.Event
	errs   chan error
}

func newFeed() *feed {
	return &feed{
		states: make(chan sp.NowPlayingState, 1),
		events: make(chan sp.Event, eventBuffer),
		errs:   make(chan error, 1),
	}
}

// state replaces any unread state with s.
func (f *feed) state(s sp.NowPlayingState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for {
		select {
		case f.states <- s:
			return
		default:
		}
		select {
		case <-f.states:
		default:
		}
	}
}

func (f *feed) event(e sp.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.events <- e:
	default:
	}
}

func (f *feed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.errs <- err:
	default:
	}
}

func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.states)
	close(f.events)
	close(f.errs)
}
