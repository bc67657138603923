package nmt

import (
	"log/slog"
	"sync"
	"time"

	canopen "github.com/I-am-Invictus/honda-cb550"
)

// Producer periodically transmits this node's 1-byte heartbeat.
// The battery master always announces itself Operational, chargers gate
// their output on seeing a live battery node.
type Producer struct {
	bm     *canopen.BusManager
	logger *slog.Logger

	mu      sync.Mutex
	nodeId  uint8
	state   uint8
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewProducer(logger *slog.Logger, bm *canopen.BusManager, nodeId uint8) (*Producer, error) {
	if bm == nil || nodeId == 0 || nodeId > 127 {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		bm:     bm,
		logger: logger.With("service", "[HB]"),
		nodeId: nodeId,
		state:  StateOperational,
	}, nil
}

// SetState changes the state byte carried by subsequent heartbeats
func (producer *Producer) SetState(state uint8) {
	producer.mu.Lock()
	defer producer.mu.Unlock()
	producer.state = state
}

// Start begins periodic heartbeat transmission. The first frame is sent
// immediately so that consumers see the node without waiting one period.
func (producer *Producer) Start(period time.Duration) error {
	producer.mu.Lock()
	defer producer.mu.Unlock()
	if producer.running {
		return canopen.ErrInvalidState
	}
	if period <= 0 {
		return canopen.ErrIllegalArgument
	}
	producer.stop = make(chan struct{})
	producer.done = make(chan struct{})
	producer.running = true
	producer.logger.Info("starting heartbeat producer",
		"nodeId", producer.nodeId,
		"period", period,
	)
	go producer.run(period, producer.stop, producer.done)
	return nil
}

// Stop cancels heartbeat transmission. When it returns, no further
// heartbeat frame will be sent.
func (producer *Producer) Stop() {
	producer.mu.Lock()
	if !producer.running {
		producer.mu.Unlock()
		return
	}
	stop := producer.stop
	done := producer.done
	producer.running = false
	producer.mu.Unlock()

	close(stop)
	<-done
	producer.logger.Info("heartbeat producer stopped", "nodeId", producer.nodeId)
}

func (producer *Producer) run(period time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	producer.send()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			producer.send()
		}
	}
}

func (producer *Producer) send() {
	producer.mu.Lock()
	frame := canopen.NewFrame(uint32(HeartbeatServiceId)+uint32(producer.nodeId), 0, 1)
	frame.Data[0] = producer.state
	producer.mu.Unlock()
	// A single missed heartbeat is harmless, the schedule continues
	_ = producer.bm.Send(frame)
}
