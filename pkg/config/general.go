package config

import "encoding/binary"

// storeSignature is the ASCII "save" signature written to x1010:01 to
// request parameter persistence (CiA 301)
var storeSignature = []byte{'s', 'a', 'v', 'e'}

// ReadDeviceType reads the mandatory device type object (x1000)
func (config *NodeConfigurator) ReadDeviceType() (uint32, error) {
	return config.client.ReadUint32(config.nodeId, EntryDeviceType, 0)
}

// StoreParameters asks the node to persist its current configuration.
// Not every device supports x1010, an abort here means the configuration
// is volatile and will have to be re-applied after a power cycle.
func (config *NodeConfigurator) StoreParameters() error {
	value := binary.LittleEndian.Uint32(storeSignature)
	return config.client.WriteRaw(config.nodeId, EntryStoreParameters, 1, value)
}

// ReadHeartbeatPeriod reads the node's producer heartbeat period in milliseconds
func (config *NodeConfigurator) ReadHeartbeatPeriod() (uint16, error) {
	return config.client.ReadUint16(config.nodeId, EntryProducerHeartbeatTime, 0)
}

// WriteHeartbeatPeriod updates the node's producer heartbeat period in milliseconds
func (config *NodeConfigurator) WriteHeartbeatPeriod(periodMs uint16) error {
	return config.client.WriteRaw(config.nodeId, EntryProducerHeartbeatTime, 0, periodMs)
}
