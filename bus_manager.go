package canopen

import (
	"log/slog"
	"sync"
)

// BusManager is a wrapper around the CAN bus interface used by all the
// protocol services. It dispatches received frames to subscribers by
// COB-ID and provides a single send path.
type BusManager struct {
	mu        sync.Mutex
	logger    *slog.Logger
	bus       Bus
	listeners map[uint32][]*subscription
}

type subscription struct {
	ident    uint32
	listener FrameListener
}

func NewBusManager(logger *slog.Logger, bus Bus) *BusManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusManager{
		logger:    logger.With("service", "[CAN]"),
		bus:       bus,
		listeners: make(map[uint32][]*subscription),
	}
}

// Implements the FrameListener interface, this handles all received
// CAN frames from Bus
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.Lock()
	subs := bm.listeners[frame.ID&CanSffMask]
	// Copy before releasing the lock, listeners may subscribe / cancel
	// from inside Handle.
	active := make([]FrameListener, len(subs))
	for i, sub := range subs {
		active[i] = sub.listener
	}
	bm.mu.Unlock()

	for _, listener := range active {
		listener.Handle(frame)
	}
}

// Send a CAN frame on the bus. A failed send is logged here, the error is
// also returned so that callers can decide whether it matters.
func (bm *BusManager) Send(frame Frame) error {
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return ErrInvalidState
	}
	err := bus.Send(frame)
	if err != nil {
		bm.logger.Warn("transmit failed", "cobId", frame.ID, "error", err)
	}
	return err
}

// Subscribe to a specific COB-ID. The returned cancel function removes the
// subscription, after it returns the listener will not be called again.
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, listener FrameListener) (func(), error) {
	if listener == nil {
		return nil, ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()

	ident = ident & mask & CanSffMask
	if rtr {
		ident |= CanRtrFlag
	}
	sub := &subscription{ident: ident, listener: listener}
	bm.listeners[ident] = append(bm.listeners[ident], sub)

	cancel := func() {
		bm.mu.Lock()
		defer bm.mu.Unlock()
		subs := bm.listeners[ident]
		for i := range subs {
			if subs[i] == sub {
				bm.listeners[ident] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return cancel, nil
}

func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}
