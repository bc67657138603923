package pdo

// CobIdDisabledBit disables a PDO when set in its COB-ID entry (CiA 301)
const CobIdDisabledBit uint32 = 1 << 31

// TransmissionTypeAsync is the event-driven / asynchronous transmission type
const TransmissionTypeAsync uint8 = 0xFF

// Mapping is the full description of one PDO : where it goes on the bus,
// how it is transmitted and the ordered field layout of its payload.
type Mapping struct {
	CobId            uint32
	TransmissionType uint8
	Fields           []FieldSpec
}

// Enabled reports whether the PDO is active, bit 31 of the COB-ID set
// means disabled per CANopen convention.
func (m Mapping) Enabled() bool {
	return m.CobId&CobIdDisabledBit == 0
}

// CanId returns the 11-bit identifier the PDO is sent on
func (m Mapping) CanId() uint32 {
	return m.CobId & 0x7FF
}

// Validate checks field widths and the 64-bit payload limit
func (m Mapping) Validate() error {
	_, err := validate(m.Fields)
	return err
}

// Size returns the encoded payload size in bytes
func (m Mapping) Size() int {
	bits := 0
	for _, field := range m.Fields {
		bits += int(field.BitLength)
	}
	return bits / 8
}
