package nmt

import (
	"log/slog"

	canopen "github.com/I-am-Invictus/honda-cb550"
)

// NMT commands are sent on COB-ID 0x000, heartbeats are produced on
// 0x700 + node id.
const (
	ServiceId          uint16 = 0x000
	HeartbeatServiceId uint16 = 0x700
)

// Possible NMT states, the values are the heartbeat state byte defined by
// CiA 301. StateUnknown is internal : no heartbeat received yet.
const (
	StateInitializing   uint8 = 0x00
	StateStopped        uint8 = 0x04
	StateOperational    uint8 = 0x05
	StatePreOperational uint8 = 0x7F
	StateUnknown        uint8 = 0xFF
)

var stateDescription = map[uint8]string{
	StateInitializing:   "INITIALIZING",
	StateStopped:        "STOPPED",
	StateOperational:    "OPERATIONAL",
	StatePreOperational: "PRE-OPERATIONAL",
	StateUnknown:        "UNKNOWN",
}

// StateDescription returns a human readable name for an NMT state byte
func StateDescription(state uint8) string {
	description, ok := stateDescription[state]
	if ok {
		return description
	}
	return "UNRECOGNIZED"
}

// IsValidState returns true if the byte is a heartbeat state defined by
// CiA 301. Anything else must be treated as an anomaly, never a transition.
func IsValidState(state uint8) bool {
	_, ok := stateDescription[state]
	return ok && state != StateUnknown
}

// Available NMT commands
// They can be broadcasted to all nodes or to individual nodes
type Command uint8

const (
	CommandEnterOperational    Command = 1
	CommandEnterStopped        Command = 2
	CommandEnterPreOperational Command = 128
	CommandResetNode           Command = 129
	CommandResetCommunication  Command = 130
)

var commandDescription = map[Command]string{
	CommandEnterOperational:    "ENTER-OPERATIONAL",
	CommandEnterStopped:        "ENTER-STOPPED",
	CommandEnterPreOperational: "ENTER-PREOPERATIONAL",
	CommandResetNode:           "RESET-NODE",
	CommandResetCommunication:  "RESET-COMMUNICATION",
}

func (command Command) String() string {
	description, ok := commandDescription[command]
	if ok {
		return description
	}
	return "UNKNOWN-COMMAND"
}

// Master issues NMT commands on the bus. Commands are fire-and-forget,
// the effect is observed through the target's heartbeat.
type Master struct {
	bm     *canopen.BusManager
	logger *slog.Logger
}

func NewMaster(logger *slog.Logger, bm *canopen.BusManager) (*Master, error) {
	if bm == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Master{bm: bm, logger: logger.With("service", "[NMT]")}, nil
}

// SendCommand sends a 2-byte NMT command frame, node id 0 is a broadcast
func (master *Master) SendCommand(command Command, nodeId uint8) error {
	frame := canopen.NewFrame(uint32(ServiceId), 0, 2)
	frame.Data[0] = uint8(command)
	frame.Data[1] = nodeId
	master.logger.Info("sending command",
		"command", command.String(),
		"targetId", nodeId,
	)
	return master.bm.Send(frame)
}
