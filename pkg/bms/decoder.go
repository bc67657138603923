package bms

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// The BMS answers a poll with one fixed-layout 140-byte frame.
// Multi-byte quantities are big-endian 16-bit values except the three
// capacity counters which are little-endian 32-bit micro-amp-hours.
const (
	FrameLength       = 140
	CellCount         = 20
	ExternalTempCount = 4
)

// Frame byte offsets
const (
	offsetPackVoltage       = 4
	offsetCellVoltages      = 6
	offsetPackCurrent       = 72
	offsetSoc               = 74
	offsetPhysicalCapacity  = 75
	offsetRemainingCapacity = 79
	offsetCyclicCapacity    = 83
	offsetMosTemp           = 91
	offsetBalanceTemp       = 93
	offsetExternalTemps     = 95
	offsetChargeMos         = 103
	offsetDischargeMos      = 104
	offsetBalance           = 105
	offsetHighCell          = 115
	offsetLowCell           = 118
)

var ErrWrongFrameLength = errors.New("telemetry frame must be 140 bytes")

// CellExtreme identifies the highest or lowest cell of the pack
type CellExtreme struct {
	Index   uint8
	Voltage float64 // V
}

// Snapshot holds every physical quantity of one telemetry frame.
// Immutable once produced.
type Snapshot struct {
	PackVoltage          float64 // V
	PackCurrent          float64 // A
	Soc                  uint8   // %
	CellVoltages         [CellCount]float64
	MosTemperature       uint16 // raw units
	BalanceTemperature   uint16
	ExternalTemperatures [ExternalTempCount]uint16
	PhysicalCapacity     float64 // Ah
	RemainingCapacity    float64 // Ah
	CyclicCapacity       float64 // Ah
	ChargeMos            ChargeMosStatus
	DischargeMos         DischargeMosStatus
	Balance              BalanceStatus
	HighCell             CellExtreme
	LowCell              CellExtreme
}

func u16be(frame []byte, offset int) uint16 {
	return binary.BigEndian.Uint16(frame[offset : offset+2])
}

// capacity counters are stored little-endian in micro-amp-hours
func capacityAh(frame []byte, offset int) float64 {
	return float64(binary.LittleEndian.Uint32(frame[offset:offset+4])) * 1e-6
}

func cellExtreme(frame []byte, offset int) CellExtreme {
	return CellExtreme{
		Index:   frame[offset],
		Voltage: float64(u16be(frame, offset+1)) / 1000.0,
	}
}

// Decode parses one full telemetry frame into a [Snapshot]
func Decode(frame []byte) (*Snapshot, error) {
	if len(frame) != FrameLength {
		return nil, fmt.Errorf("%w : got %d", ErrWrongFrameLength, len(frame))
	}

	snapshot := &Snapshot{
		PackVoltage:        float64(u16be(frame, offsetPackVoltage)) / 10.0,
		PackCurrent:        float64(u16be(frame, offsetPackCurrent)) / 10.0,
		Soc:                frame[offsetSoc],
		MosTemperature:     u16be(frame, offsetMosTemp),
		BalanceTemperature: u16be(frame, offsetBalanceTemp),
		PhysicalCapacity:   capacityAh(frame, offsetPhysicalCapacity),
		RemainingCapacity:  capacityAh(frame, offsetRemainingCapacity),
		CyclicCapacity:     capacityAh(frame, offsetCyclicCapacity),
		HighCell:           cellExtreme(frame, offsetHighCell),
		LowCell:            cellExtreme(frame, offsetLowCell),
	}
	for i := 0; i < CellCount; i++ {
		snapshot.CellVoltages[i] = float64(u16be(frame, offsetCellVoltages+2*i)) / 1000.0
	}
	for i := 0; i < ExternalTempCount; i++ {
		snapshot.ExternalTemperatures[i] = u16be(frame, offsetExternalTemps+2*i)
	}

	var err error
	snapshot.ChargeMos, err = chargeMosStatus(frame[offsetChargeMos])
	if err != nil {
		return nil, err
	}
	snapshot.DischargeMos, err = dischargeMosStatus(frame[offsetDischargeMos])
	if err != nil {
		return nil, err
	}
	snapshot.Balance, err = balanceStatus(frame[offsetBalance])
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}
