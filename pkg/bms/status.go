package bms

import "fmt"

// The BMS reports MOS and balancing state as single-byte codes. The code
// tables are closed : a value the firmware never documented fails the
// decode loudly instead of defaulting, a silent wrong status on a charge
// path is worse than a dropped frame.

// UnknownStatusError reports a status byte absent from its code table
type UnknownStatusError struct {
	Field string
	Code  uint8
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("unknown %v status code %d", e.Field, e.Code)
}

// ChargeMosStatus is the state of the charge MOSFET switch
type ChargeMosStatus uint8

var chargeMosDescription = map[ChargeMosStatus]string{
	0:  "Close",
	1:  "Open",
	2:  "Overvoltage of the single cell",
	3:  "Over current",
	4:  "Secondary overcurrent",
	5:  "The total voltage is overvoltage",
	6:  "Battery over-temperature",
	7:  "Power over-temperature",
	8:  "Current anomaly",
	9:  "Balance line disconnect",
	10: "Mainboard over-temperature",
	11: "Reserved",
	12: "Failed to open",
	13: "Charging MOS error",
	14: "Waiting",
	15: "Manual close",
	16: "Secondary overvoltage",
	17: "Low-temperature protection",
	18: "Differential voltage protection",
	19: "Reserved",
	20: "Reserved",
	21: "Reserved",
	22: "Total voltage single cell abnormality",
}

func (status ChargeMosStatus) String() string {
	description, ok := chargeMosDescription[status]
	if ok {
		return description
	}
	return fmt.Sprintf("unknown (%d)", uint8(status))
}

// DischargeMosStatus is the state of the discharge MOSFET switch
type DischargeMosStatus uint8

var dischargeMosDescription = map[DischargeMosStatus]string{
	0:  "Close",
	1:  "Open",
	2:  "Under-voltage of the single cell",
	3:  "Over current",
	4:  "Secondary overcurrent",
	5:  "The total voltage is under-voltage",
	6:  "Battery over-temperature",
	7:  "Power over-temperature",
	8:  "Current anomaly",
	9:  "Balance line disconnect",
	10: "Mainboard over-temperature",
	11: "Reserved",
	12: "Short circuit protection",
	13: "Discharge MOS error",
	14: "Failed to open",
	15: "Manual close",
	16: "Under-voltage at level 2",
	17: "Low-temperature protection",
	18: "Differential voltage protection",
	19: "Reserved",
	20: "Reserved",
	21: "Reserved",
	22: "Total voltage single cell abnormality",
}

func (status DischargeMosStatus) String() string {
	description, ok := dischargeMosDescription[status]
	if ok {
		return description
	}
	return fmt.Sprintf("unknown (%d)", uint8(status))
}

// BalanceStatus is the state of the cell balancer
type BalanceStatus uint8

var balanceDescription = map[BalanceStatus]string{
	0:  "Close",
	1:  "Balance limit",
	2:  "Differential voltage balance",
	3:  "Balance over-temperature",
	4:  "Auto balance",
	10: "Mainboard over-temperature",
}

func (status BalanceStatus) String() string {
	description, ok := balanceDescription[status]
	if ok {
		return description
	}
	return fmt.Sprintf("unknown (%d)", uint8(status))
}

func chargeMosStatus(code uint8) (ChargeMosStatus, error) {
	if _, ok := chargeMosDescription[ChargeMosStatus(code)]; !ok {
		return 0, &UnknownStatusError{Field: "charge mos", Code: code}
	}
	return ChargeMosStatus(code), nil
}

func dischargeMosStatus(code uint8) (DischargeMosStatus, error) {
	if _, ok := dischargeMosDescription[DischargeMosStatus(code)]; !ok {
		return 0, &UnknownStatusError{Field: "discharge mos", Code: code}
	}
	return DischargeMosStatus(code), nil
}

func balanceStatus(code uint8) (BalanceStatus, error) {
	if _, ok := balanceDescription[BalanceStatus(code)]; !ok {
		return 0, &UnknownStatusError{Field: "balance", Code: code}
	}
	return BalanceStatus(code), nil
}
