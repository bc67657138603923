package nmt

import (
	"fmt"
	"log/slog"
	"sync"

	canopen "github.com/I-am-Invictus/honda-cb550"
)

// StateChangeCallback is invoked after a monitored node's state changed.
// previous is StateUnknown for the very first heartbeat.
type StateChangeCallback func(nodeId uint8, previous uint8, current uint8)

// Consumer tracks the NMT state of remote nodes from their heartbeats.
// State is mutated only by heartbeat reception, an unrecognized state byte
// is reported and ignored.
type Consumer struct {
	bm     *canopen.BusManager
	logger *slog.Logger

	mu       sync.Mutex
	nodes    map[uint8]*monitoredNode
	callback StateChangeCallback
}

type monitoredNode struct {
	mu     sync.Mutex
	nodeId uint8
	state  uint8
	parent *Consumer
	cancel func()
}

func NewConsumer(logger *slog.Logger, bm *canopen.BusManager) (*Consumer, error) {
	if bm == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		bm:     bm,
		logger: logger.With("service", "[HB]"),
		nodes:  make(map[uint8]*monitoredNode),
	}, nil
}

// Monitor subscribes to the heartbeat COB-ID of a remote node.
// The node starts in StateUnknown until its first heartbeat arrives.
func (consumer *Consumer) Monitor(nodeId uint8) error {
	if nodeId == 0 || nodeId > 127 {
		return canopen.ErrIllegalArgument
	}
	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if _, ok := consumer.nodes[nodeId]; ok {
		return nil
	}
	node := &monitoredNode{nodeId: nodeId, state: StateUnknown, parent: consumer}
	cancel, err := consumer.bm.Subscribe(uint32(HeartbeatServiceId)+uint32(nodeId), 0x7FF, false, node)
	if err != nil {
		return err
	}
	node.cancel = cancel
	consumer.nodes[nodeId] = node
	consumer.logger.Info("monitoring remote node", "monitoredId", nodeId)
	return nil
}

// State returns the last known NMT state of a monitored node,
// StateUnknown if the node is not monitored or has not spoken yet.
func (consumer *Consumer) State(nodeId uint8) uint8 {
	consumer.mu.Lock()
	node, ok := consumer.nodes[nodeId]
	consumer.mu.Unlock()
	if !ok {
		return StateUnknown
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.state
}

// OnStateChange registers a callback invoked on every state transition of
// any monitored node. Must be set before heartbeats start flowing.
func (consumer *Consumer) OnStateChange(callback StateChangeCallback) {
	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	consumer.callback = callback
}

// Stop cancels all heartbeat subscriptions
func (consumer *Consumer) Stop() {
	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	for _, node := range consumer.nodes {
		if node.cancel != nil {
			node.cancel()
		}
	}
	consumer.nodes = make(map[uint8]*monitoredNode)
}

// Handle [Consumer] related RX CAN frames
func (node *monitoredNode) Handle(frame canopen.Frame) {
	consumer := node.parent
	if frame.DLC != 1 {
		consumer.logger.Warn("malformed heartbeat dropped",
			"monitoredId", node.nodeId,
			"dlc", frame.DLC,
		)
		return
	}
	state := frame.Data[0]
	if !IsValidState(state) {
		consumer.logger.Warn("unrecognized heartbeat state byte",
			"monitoredId", node.nodeId,
			"state", fmt.Sprintf("x%x", state),
		)
		return
	}

	node.mu.Lock()
	previous := node.state
	node.state = state
	node.mu.Unlock()

	if previous == state {
		return
	}
	consumer.logger.Info("remote state changed",
		"monitoredId", node.nodeId,
		"previous", StateDescription(previous),
		"current", StateDescription(state),
	)
	consumer.mu.Lock()
	callback := consumer.callback
	consumer.mu.Unlock()
	if callback != nil {
		callback(node.nodeId, previous, state)
	}
}
