package deltaq

import (
	"fmt"
	"log/slog"

	canopen "github.com/I-am-Invictus/honda-cb550"
	"github.com/I-am-Invictus/honda-cb550/pkg/config"
	"github.com/I-am-Invictus/honda-cb550/pkg/nmt"
	"github.com/I-am-Invictus/honda-cb550/pkg/pdo"
	"github.com/I-am-Invictus/honda-cb550/pkg/sdo"
)

// Charger wraps the bring-up protocol of one Delta-Q unit : NMT start,
// RPDO remapping with read-back verification, and optional persistence.
type Charger struct {
	logger       *slog.Logger
	nodeId       uint8
	nmtMaster    *nmt.Master
	configurator *config.NodeConfigurator
}

func NewCharger(logger *slog.Logger, bm *canopen.BusManager, nodeId uint8, client *sdo.Client) (*Charger, error) {
	if nodeId == 0 || nodeId > 127 {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	nmtMaster, err := nmt.NewMaster(logger, bm)
	if err != nil {
		return nil, err
	}
	return &Charger{
		logger:       logger.With("service", "[DELTAQ]", "nodeId", nodeId),
		nodeId:       nodeId,
		nmtMaster:    nmtMaster,
		configurator: config.NewNodeConfigurator(logger, nodeId, client),
	}, nil
}

func (charger *Charger) NodeId() uint8 {
	return charger.nodeId
}

// Start moves the charger to Operational
func (charger *Charger) Start() error {
	return charger.nmtMaster.SendCommand(nmt.CommandEnterOperational, charger.nodeId)
}

// ReadDeviceType reads x1000, a cheap liveness and SDO sanity check
func (charger *Charger) ReadDeviceType() (uint32, error) {
	return charger.configurator.ReadDeviceType()
}

// Remap installs the default RPDO1/RPDO2 mappings and verifies both by
// reading them back. An abort anywhere leaves the affected PDO disabled.
func (charger *Charger) Remap() error {
	for rpdoNb, mapping := range map[uint16]pdo.Mapping{
		1: Rpdo1Mapping(charger.nodeId),
		2: Rpdo2Mapping(charger.nodeId),
	} {
		conf := config.PDOConfiguration{
			CobId:            mapping.CobId,
			TransmissionType: mapping.TransmissionType,
			Mappings:         config.MappingsFromFields(mapping.Fields),
		}
		if err := charger.configurator.RemapRPDO(rpdoNb, conf); err != nil {
			return err
		}
		if err := charger.verify(rpdoNb, conf); err != nil {
			return err
		}
	}
	return nil
}

// verify reads the configuration back and compares it to what was written
func (charger *Charger) verify(rpdoNb uint16, want config.PDOConfiguration) error {
	got, err := charger.configurator.ReadConfigurationRPDO(rpdoNb)
	if err != nil {
		return fmt.Errorf("verify rpdo %d : %w", rpdoNb, err)
	}
	if !got.Enabled() {
		return fmt.Errorf("verify rpdo %d : pdo still disabled", rpdoNb)
	}
	if got.CobId&canopen.CanSffMask != want.CobId&canopen.CanSffMask {
		return fmt.Errorf("verify rpdo %d : cob-id x%x, want x%x", rpdoNb, got.CobId, want.CobId)
	}
	if got.TransmissionType != want.TransmissionType {
		return fmt.Errorf("verify rpdo %d : transmission type x%x, want x%x",
			rpdoNb, got.TransmissionType, want.TransmissionType)
	}
	if len(got.Mappings) != len(want.Mappings) {
		return fmt.Errorf("verify rpdo %d : %d mappings, want %d",
			rpdoNb, len(got.Mappings), len(want.Mappings))
	}
	for i := range want.Mappings {
		if got.Mappings[i] != want.Mappings[i] {
			return fmt.Errorf("verify rpdo %d : mapping %d is %+v, want %+v",
				rpdoNb, i, got.Mappings[i], want.Mappings[i])
		}
	}
	charger.logger.Info("rpdo configuration verified",
		"rpdoNb", rpdoNb,
		"cobId", fmt.Sprintf("x%x", got.CobId),
		"nbMappings", len(got.Mappings),
	)
	return nil
}

// StoreConfiguration requests persistence of the remapped PDOs via
// x1010:01. Some firmwares do not support it, the caller decides whether
// an abort matters.
func (charger *Charger) StoreConfiguration() error {
	return charger.configurator.StoreParameters()
}
