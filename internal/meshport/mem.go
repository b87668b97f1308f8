package meshport

import (
	"context"
	"fmt"
	"sync"
)

// Switch is an in-memory mesh: every MemPort that Listen()s on it can reach
// every other. Used by tests to simulate a mesh without a real radio.
type Switch struct {
	mu    sync.RWMutex
	inbox map[NodeID]chan Inbound
}

// NewSwitch creates an empty in-memory mesh.
func NewSwitch() *Switch {
	return &Switch{inbox: make(map[NodeID]chan Inbound)}
}

// Listen registers id on the switch and returns its Port handle.
func (s *Switch) Listen(id NodeID) (*MemPort, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.inbox[id]; exists {
		return nil, fmt.Errorf("meshport: address already in use: %s", id)
	}
	ch := make(chan Inbound, 128)
	s.inbox[id] = ch
	return &MemPort{sw: s, id: id, in: ch, closed: make(chan struct{})}, nil
}

// MemPort is a Port backed by a Switch.
type MemPort struct {
	sw     *Switch
	id     NodeID
	in     chan Inbound
	closed chan struct{}
	once   sync.Once
}

func (p *MemPort) LocalID() NodeID { return p.id }

func (p *MemPort) Close() {
	p.once.Do(func() {
		close(p.closed)
		p.sw.mu.Lock()
		delete(p.sw.inbox, p.id)
		p.sw.mu.Unlock()
	})
}

func (p *MemPort) Recv(ctx context.Context) (Inbound, bool) {
	select {
	case <-p.closed:
		return Inbound{}, false
	case <-ctx.Done():
		return Inbound{}, false
	case in := <-p.in:
		return in, true
	}
}

// Send delivers frame to dest, or to every other listener when dest is
// Broadcast. Delivery to an unknown or full destination is a transient
// error, matching a real device reporting the peer unreachable right now.
func (p *MemPort) Send(ctx context.Context, dest NodeID, frame []byte) error {
	select {
	case <-p.closed:
		return fmt.Errorf("%w: port closed", ErrFatal)
	default:
	}

	targets := p.targets(dest)
	if len(targets) == 0 {
		return fmt.Errorf("%w: no reachable destination", ErrTransient)
	}
	env := Inbound{Origin: p.id, Frame: frame, Link: Link{SNR: 12.0, RSSI: -80, HopCount: 1}}
	var failed int
	for _, ch := range targets {
		select {
		case ch <- env:
		default:
			failed++
		}
	}
	if failed == len(targets) {
		return fmt.Errorf("%w: destination inbox full", ErrTransient)
	}
	return nil
}

func (p *MemPort) targets(dest NodeID) []chan Inbound {
	p.sw.mu.RLock()
	defer p.sw.mu.RUnlock()
	if dest == Broadcast {
		out := make([]chan Inbound, 0, len(p.sw.inbox))
		for id, ch := range p.sw.inbox {
			if id == p.id {
				continue
			}
			out = append(out, ch)
		}
		return out
	}
	if ch, ok := p.sw.inbox[dest]; ok {
		return []chan Inbound{ch}
	}
	return nil
}
