// Package deltaq knows the CANopen profile of the Delta-Q IC series
// charger : the battery-side object dictionary entries it expects to
// receive, their raw scalings and the two receive-PDOs this stack feeds.
package deltaq

import (
	"github.com/I-am-Invictus/honda-cb550/pkg/pdo"
)

const DefaultNodeId uint8 = 0x0A

// Battery-side object dictionary entries consumed by the charger
const (
	ObjBatteryStatus      uint16 = 0x6000 // u8, 1 = battery ready
	ObjBatteryTemperature uint16 = 0x6010 // u16 raw, 0.125 degC/bit offset -40
	ObjBatteryVoltage     uint16 = 0x6060 // u32, V * 1024
	ObjBatteryCurrent     uint16 = 0x6070 // u16, A * 16
	ObjBatterySoc         uint16 = 0x6081 // u8, percent
	ObjVoltageLimit       uint16 = 0x2271 // u32, V * 1024
)

// Engineering-unit scalings of the raw PDO fields
const (
	ScaleVoltage      = 1.0 / 1024.0
	ScaleCurrent      = 1.0 / 16.0
	ScaleTemperature  = 0.125
	OffsetTemperature = -40.0
)

// Battery status values published in RPDO1
const (
	BatteryNotReady float64 = 0
	BatteryReady    float64 = 1
)

// Rpdo1Cobid returns the default RPDO1 COB-ID for a charger node id
func Rpdo1Cobid(nodeId uint8) uint32 {
	return 0x200 + uint32(nodeId)
}

// Rpdo2Cobid returns the default RPDO2 COB-ID for a charger node id
func Rpdo2Cobid(nodeId uint8) uint32 {
	return 0x300 + uint32(nodeId)
}

// Rpdo1Mapping is the setpoint PDO : SOC, voltage limit, current request
// and battery status. 64 bits total.
func Rpdo1Mapping(nodeId uint8) pdo.Mapping {
	return pdo.Mapping{
		CobId:            Rpdo1Cobid(nodeId),
		TransmissionType: pdo.TransmissionTypeAsync,
		Fields: []pdo.FieldSpec{
			{Index: ObjBatterySoc, Subindex: 0, BitLength: 8, Scale: 1},
			{Index: ObjVoltageLimit, Subindex: 0, BitLength: 32, Scale: ScaleVoltage},
			{Index: ObjBatteryCurrent, Subindex: 0, BitLength: 16, Scale: ScaleCurrent},
			{Index: ObjBatteryStatus, Subindex: 0, BitLength: 8, Scale: 1},
		},
	}
}

// Rpdo2Mapping is the measurement PDO : pack voltage, temperature and
// charge current as measured on the battery side.
func Rpdo2Mapping(nodeId uint8) pdo.Mapping {
	return pdo.Mapping{
		CobId:            Rpdo2Cobid(nodeId),
		TransmissionType: pdo.TransmissionTypeAsync,
		Fields: []pdo.FieldSpec{
			{Index: ObjBatteryVoltage, Subindex: 0, BitLength: 32, Scale: ScaleVoltage},
			{Index: ObjBatteryTemperature, Subindex: 0, BitLength: 16, Scale: ScaleTemperature, Offset: OffsetTemperature},
			{Index: ObjBatteryCurrent, Subindex: 0, BitLength: 16, Scale: ScaleCurrent},
		},
	}
}
