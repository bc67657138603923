package bms

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

// telemetryFrame builds a valid 140-byte response with recognizable values
func telemetryFrame() []byte {
	frame := make([]byte, FrameLength)
	binary.BigEndian.PutUint16(frame[offsetPackVoltage:], 1000) // 100.0 V
	for i := 0; i < CellCount; i++ {
		binary.BigEndian.PutUint16(frame[offsetCellVoltages+2*i:], uint16(4000+i)) // 4.000 V ..
	}
	binary.BigEndian.PutUint16(frame[offsetPackCurrent:], 95) // 9.5 A
	frame[offsetSoc] = 80
	binary.LittleEndian.PutUint32(frame[offsetPhysicalCapacity:], 20_000_000) // 20 Ah
	binary.LittleEndian.PutUint32(frame[offsetRemainingCapacity:], 16_000_000)
	binary.LittleEndian.PutUint32(frame[offsetCyclicCapacity:], 5_000_000)
	binary.BigEndian.PutUint16(frame[offsetMosTemp:], 25)
	binary.BigEndian.PutUint16(frame[offsetBalanceTemp:], 26)
	for i := 0; i < ExternalTempCount; i++ {
		binary.BigEndian.PutUint16(frame[offsetExternalTemps+2*i:], uint16(20+i))
	}
	frame[offsetChargeMos] = 1    // Open
	frame[offsetDischargeMos] = 0 // Close
	frame[offsetBalance] = 4      // Auto balance
	frame[offsetHighCell] = 3
	binary.BigEndian.PutUint16(frame[offsetHighCell+1:], 4019)
	frame[offsetLowCell] = 17
	binary.BigEndian.PutUint16(frame[offsetLowCell+1:], 4000)
	return frame
}

func TestDecode(t *testing.T) {
	snapshot, err := Decode(telemetryFrame())
	assert.Nil(t, err)
	assert.InDelta(t, 100.0, snapshot.PackVoltage, 1e-9)
	assert.InDelta(t, 9.5, snapshot.PackCurrent, 1e-9)
	assert.EqualValues(t, 80, snapshot.Soc)
	assert.InDelta(t, 4.000, snapshot.CellVoltages[0], 1e-9)
	assert.InDelta(t, 4.019, snapshot.CellVoltages[19], 1e-9)
	assert.InDelta(t, 20.0, snapshot.PhysicalCapacity, 1e-9)
	assert.InDelta(t, 16.0, snapshot.RemainingCapacity, 1e-9)
	assert.InDelta(t, 5.0, snapshot.CyclicCapacity, 1e-9)
	assert.EqualValues(t, 25, snapshot.MosTemperature)
	assert.EqualValues(t, 26, snapshot.BalanceTemperature)
	assert.EqualValues(t, 23, snapshot.ExternalTemperatures[3])
	assert.Equal(t, "Open", snapshot.ChargeMos.String())
	assert.Equal(t, "Close", snapshot.DischargeMos.String())
	assert.Equal(t, "Auto balance", snapshot.Balance.String())
	assert.Equal(t, CellExtreme{Index: 3, Voltage: 4.019}, snapshot.HighCell)
	assert.Equal(t, CellExtreme{Index: 17, Voltage: 4.000}, snapshot.LowCell)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	_, err := Decode(make([]byte, 139))
	assert.ErrorIs(t, err, ErrWrongFrameLength)
	_, err = Decode(make([]byte, 141))
	assert.ErrorIs(t, err, ErrWrongFrameLength)
}

func TestDecodeRejectsUnknownStatusCodes(t *testing.T) {
	frame := telemetryFrame()
	frame[offsetChargeMos] = 23
	_, err := Decode(frame)
	var unknown *UnknownStatusError
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "charge mos", unknown.Field)
	assert.EqualValues(t, 23, unknown.Code)

	frame = telemetryFrame()
	frame[offsetBalance] = 5 // gap in the balance code table
	_, err = Decode(frame)
	assert.ErrorAs(t, err, &unknown)
	assert.Equal(t, "balance", unknown.Field)
}

func TestStatusStringUnknownCode(t *testing.T) {
	assert.Equal(t, "unknown (99)", ChargeMosStatus(99).String())
	assert.Equal(t, "Reserved", DischargeMosStatus(19).String())
}
