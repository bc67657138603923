package config

import (
	"log/slog"

	"github.com/I-am-Invictus/honda-cb550/pkg/sdo"
)

// Communication profile entries used by the configurator (CiA 301)
const (
	EntryDeviceType             uint16 = 0x1000
	EntryStoreParameters        uint16 = 0x1010
	EntryProducerHeartbeatTime  uint16 = 0x1017
	EntryRPDOCommunicationStart uint16 = 0x1400
	EntryRPDOMappingStart       uint16 = 0x1600
)

// NodeConfigurator provides helper methods for reading / updating CANopen
// reserved configuration objects of a remote node, i.e. objects between
// x1000 and x2000. No EDS file is needed, everything goes through the
// SDO client.
type NodeConfigurator struct {
	client *sdo.Client
	logger *slog.Logger
	nodeId uint8
}

// Create a new [NodeConfigurator] for given node id and SDO client
func NewNodeConfigurator(logger *slog.Logger, nodeId uint8, client *sdo.Client) *NodeConfigurator {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeConfigurator{
		client: client,
		logger: logger.With("service", "[CONFIG]", "nodeId", nodeId),
		nodeId: nodeId,
	}
}
