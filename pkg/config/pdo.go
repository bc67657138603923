package config

import (
	"fmt"

	"github.com/I-am-Invictus/honda-cb550/pkg/pdo"
)

// Maximum number of mapping entries per PDO (CiA 301)
const MaxMappedEntriesPdo = 8

// PDOMappingParameter is one entry of a x160x mapping record
type PDOMappingParameter struct {
	Index      uint16
	Subindex   uint8
	LengthBits uint8
}

func (mapping PDOMappingParameter) raw() uint32 {
	return uint32(mapping.Index)<<16 | uint32(mapping.Subindex)<<8 | uint32(mapping.LengthBits)
}

// PDOConfiguration holds the readable configuration of one RPDO
type PDOConfiguration struct {
	CobId            uint32
	TransmissionType uint8
	Mappings         []PDOMappingParameter
}

// Enabled reports whether the PDO's COB-ID bit 31 is cleared
func (conf PDOConfiguration) Enabled() bool {
	return conf.CobId&pdo.CobIdDisabledBit == 0
}

// MappingsFromFields converts a codec field list to mapping entries
func MappingsFromFields(fields []pdo.FieldSpec) []PDOMappingParameter {
	mappings := make([]PDOMappingParameter, len(fields))
	for i, field := range fields {
		mappings[i] = PDOMappingParameter{
			Index:      field.Index,
			Subindex:   field.Subindex,
			LengthBits: field.BitLength,
		}
	}
	return mappings
}

// rpdoNb is 1-based : RPDO1 lives at x1400/x1600
func (config *NodeConfigurator) commIndex(rpdoNb uint16) uint16 {
	return EntryRPDOCommunicationStart + rpdoNb - 1
}

func (config *NodeConfigurator) mapIndex(rpdoNb uint16) uint16 {
	return EntryRPDOMappingStart + rpdoNb - 1
}

func (config *NodeConfigurator) ReadCobIdRPDO(rpdoNb uint16) (uint32, error) {
	return config.client.ReadUint32(config.nodeId, config.commIndex(rpdoNb), 1)
}

func (config *NodeConfigurator) ReadTransmissionType(rpdoNb uint16) (uint8, error) {
	return config.client.ReadUint8(config.nodeId, config.commIndex(rpdoNb), 2)
}

func (config *NodeConfigurator) ReadNbMappings(rpdoNb uint16) (uint8, error) {
	return config.client.ReadUint8(config.nodeId, config.mapIndex(rpdoNb), 0)
}

func (config *NodeConfigurator) ReadMappings(rpdoNb uint16) ([]PDOMappingParameter, error) {
	nbMappings, err := config.ReadNbMappings(rpdoNb)
	if err != nil {
		return nil, err
	}
	mappings := make([]PDOMappingParameter, 0, nbMappings)
	for i := uint8(0); i < nbMappings; i++ {
		rawMap, err := config.client.ReadUint32(config.nodeId, config.mapIndex(rpdoNb), i+1)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, PDOMappingParameter{
			Index:      uint16(rawMap >> 16),
			Subindex:   uint8(rawMap >> 8),
			LengthBits: uint8(rawMap),
		})
	}
	return mappings, nil
}

// ReadConfigurationRPDO reads back COB-ID, transmission type and decoded
// mapping entries for confirmation after a remap.
func (config *NodeConfigurator) ReadConfigurationRPDO(rpdoNb uint16) (PDOConfiguration, error) {
	conf := PDOConfiguration{}
	var err error
	conf.CobId, err = config.ReadCobIdRPDO(rpdoNb)
	if err != nil {
		return conf, err
	}
	conf.TransmissionType, err = config.ReadTransmissionType(rpdoNb)
	if err != nil {
		return conf, err
	}
	conf.Mappings, err = config.ReadMappings(rpdoNb)
	config.logger.Debug("read rpdo configuration", "rpdoNb", rpdoNb, "conf", conf)
	return conf, err
}

// DisableRPDO sets bit 31 of the COB-ID entry
func (config *NodeConfigurator) DisableRPDO(rpdoNb uint16, cobId uint32) error {
	return config.client.WriteRaw(config.nodeId, config.commIndex(rpdoNb), 1, cobId|pdo.CobIdDisabledBit)
}

// EnableRPDO clears bit 31 of the COB-ID entry
func (config *NodeConfigurator) EnableRPDO(rpdoNb uint16, cobId uint32) error {
	return config.client.WriteRaw(config.nodeId, config.commIndex(rpdoNb), 1, cobId&^pdo.CobIdDisabledBit)
}

func (config *NodeConfigurator) WriteTransmissionType(rpdoNb uint16, transType uint8) error {
	return config.client.WriteRaw(config.nodeId, config.commIndex(rpdoNb), 2, transType)
}

// WriteMappings zeroes the mapping count, writes each entry and then the
// final count. The PDO must be disabled while this runs.
func (config *NodeConfigurator) WriteMappings(rpdoNb uint16, mappings []PDOMappingParameter) error {
	if len(mappings) > MaxMappedEntriesPdo {
		return fmt.Errorf("too many mapping entries : %d", len(mappings))
	}
	mapIndex := config.mapIndex(rpdoNb)
	err := config.client.WriteRaw(config.nodeId, mapIndex, 0, uint8(0))
	if err != nil {
		return err
	}
	for sub, mapping := range mappings {
		err := config.client.WriteRaw(config.nodeId, mapIndex, uint8(sub)+1, mapping.raw())
		if err != nil {
			return err
		}
	}
	return config.client.WriteRaw(config.nodeId, mapIndex, 0, uint8(len(mappings)))
}

// RemapRPDO reconfigures a receive PDO following the mandatory sequence :
// disable via COB-ID bit 31, write transmission type, rewrite the mapping
// record, re-enable. Any SDO abort aborts the whole remap and the PDO is
// left disabled : a half-configured PDO must never carry traffic.
func (config *NodeConfigurator) RemapRPDO(rpdoNb uint16, conf PDOConfiguration) error {
	bits := 0
	for _, mapping := range conf.Mappings {
		bits += int(mapping.LengthBits)
	}
	if bits > pdo.MaxPdoBits {
		return fmt.Errorf("%w : %d bits mapped", pdo.ErrBitOverflow, bits)
	}
	config.logger.Info("remapping rpdo",
		"rpdoNb", rpdoNb,
		"cobId", fmt.Sprintf("x%x", conf.CobId),
		"nbMappings", len(conf.Mappings),
	)
	if err := config.DisableRPDO(rpdoNb, conf.CobId); err != nil {
		return fmt.Errorf("disable rpdo %d : %w", rpdoNb, err)
	}
	if err := config.WriteTransmissionType(rpdoNb, conf.TransmissionType); err != nil {
		return fmt.Errorf("write transmission type rpdo %d : %w", rpdoNb, err)
	}
	if err := config.WriteMappings(rpdoNb, conf.Mappings); err != nil {
		return fmt.Errorf("write mappings rpdo %d : %w", rpdoNb, err)
	}
	if err := config.EnableRPDO(rpdoNb, conf.CobId); err != nil {
		return fmt.Errorf("enable rpdo %d : %w", rpdoNb, err)
	}
	return nil
}
