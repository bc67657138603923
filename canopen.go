// Package canopen implements the small CANopen subset needed to drive a
// CANopen DC charger from a battery-side master : heartbeat production and
// consumption, NMT commands, an expedited SDO client and generic PDO
// encoding / decoding.
//
// The actual protocol services live in the pkg/ subpackages. This package
// only holds what they all share : the CAN frame type, the bus abstraction
// and the [BusManager] used to route received frames to subscribers.
package canopen

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrInvalidState    = errors.New("device or driver not in correct state")
	ErrTimeout         = errors.New("operation timed out")
	ErrBusy            = errors.New("a transfer is already ongoing")
)
