package pdo

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/I-am-Invictus/honda-cb550"
)

// Transmitter periodically encodes the most recently published values and
// sends them on the mapping's COB-ID. Values are clamped to their field
// range before encoding : on the setpoint path availability wins over
// strictness. A single failed transmit never aborts the schedule.
type Transmitter struct {
	bm     *canopen.BusManager
	logger *slog.Logger

	mapping Mapping

	mu      sync.Mutex
	values  []float64
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewTransmitter(logger *slog.Logger, bm *canopen.BusManager, mapping Mapping) (*Transmitter, error) {
	if bm == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transmitter{
		bm:      bm,
		logger:  logger.With("service", "[PDO]", "cobId", fmt.Sprintf("x%x", mapping.CanId())),
		mapping: mapping,
		values:  make([]float64, len(mapping.Fields)),
	}, nil
}

// Publish replaces the values encoded by subsequent transmissions.
// The swap is atomic : a concurrent transmit sees either the previous
// complete set or this one, never a mix.
func (t *Transmitter) Publish(values ...float64) error {
	if len(values) != len(t.mapping.Fields) {
		return ErrValueCount
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.values, values)
	return nil
}

// TransmitOnce encodes the current snapshot and sends a single frame
func (t *Transmitter) TransmitOnce() error {
	if !t.mapping.Enabled() {
		return nil
	}
	t.mu.Lock()
	snapshot := make([]float64, len(t.values))
	copy(snapshot, t.values)
	t.mu.Unlock()

	for i, field := range t.mapping.Fields {
		snapshot[i] = field.Clamp(snapshot[i])
	}
	data, err := Pack(t.mapping.Fields, snapshot)
	if err != nil {
		return err
	}
	frame := canopen.NewFrame(t.mapping.CanId(), 0, uint8(len(data)))
	copy(frame.Data[:], data)
	return t.bm.Send(frame)
}

// Start begins periodic transmission
func (t *Transmitter) Start(period time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return canopen.ErrInvalidState
	}
	if period <= 0 {
		return canopen.ErrIllegalArgument
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.running = true
	t.logger.Info("starting periodic transmission", "period", period)
	go t.run(period, t.stop, t.done)
	return nil
}

// Stop cancels periodic transmission. When it returns, no further frame
// will be sent by the schedule (TransmitOnce remains available for a final
// best-effort frame).
func (t *Transmitter) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	stop := t.stop
	done := t.done
	t.running = false
	t.mu.Unlock()

	close(stop)
	<-done
	t.logger.Info("periodic transmission stopped")
}

func (t *Transmitter) run(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.TransmitOnce(); err != nil {
				// Drop this cycle, the schedule continues
				t.logger.Warn("transmit failed", "error", err)
			}
		}
	}
}
