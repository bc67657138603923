package virtual

import (
	"sync"

	canopen "github.com/I-am-Invictus/honda-cb550"
	can "github.com/I-am-Invictus/honda-cb550/pkg/can"
)

// In-process virtual CAN bus, used for testing and dry runs without CAN
// hardware. All buses created on the same named channel share a hub and a
// frame sent on one endpoint is delivered to every other endpoint.
// Delivery is synchronous, which keeps tests deterministic.

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
}

type hub struct {
	mu        sync.Mutex
	endpoints []*Bus
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*hub)
)

func hubForChannel(channel string) *hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	h, ok := hubs[channel]
	if !ok {
		h = &hub{}
		hubs[channel] = h
	}
	return h
}

type Bus struct {
	mu           sync.Mutex
	hub          *hub
	receiveOwn   bool
	framehandler canopen.FrameListener
	connected    bool
}

func NewVirtualCanBus(channel string) (canopen.Bus, error) {
	return &Bus{hub: hubForChannel(channel)}, nil
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		b.hub.endpoints = append(b.hub.endpoints, b)
		b.connected = true
	}
	return nil
}

// "Disconnect" implementation of Bus interface
func (b *Bus) Disconnect() error {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	for i, endpoint := range b.hub.endpoints {
		if endpoint == b {
			b.hub.endpoints = append(b.hub.endpoints[:i], b.hub.endpoints[i+1:]...)
			break
		}
	}
	b.connected = false
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame canopen.Frame) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return canopen.ErrInvalidState
	}
	receiveOwn := b.receiveOwn
	b.mu.Unlock()

	b.hub.mu.Lock()
	endpoints := make([]*Bus, len(b.hub.endpoints))
	copy(endpoints, b.hub.endpoints)
	b.hub.mu.Unlock()

	for _, endpoint := range endpoints {
		if endpoint == b && !receiveOwn {
			continue
		}
		endpoint.mu.Lock()
		handler := endpoint.framehandler
		endpoint.mu.Unlock()
		if handler != nil {
			handler.Handle(frame)
		}
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(framehandler canopen.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

// SetReceiveOwn also delivers sent frames back to this endpoint
func (b *Bus) SetReceiveOwn(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = enabled
}
