package sdo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/I-am-Invictus/honda-cb550"
)

const DefaultTimeout = 1000 * time.Millisecond

// ErrUnexpectedResponse is returned when a server answers with a command
// specifier that does not match the request (e.g. a segmented response to
// an expedited request).
var ErrUnexpectedResponse = errors.New("unexpected sdo response specifier")

// Client is a blocking, expedited-only SDO client.
// A request is correlated to its response by (node id, index, subindex),
// which requires at most one outstanding transaction per node id :
// transactions to the same server are serialized internally.
type Client struct {
	bm     *canopen.BusManager
	logger *slog.Logger

	mu      sync.Mutex
	timeout time.Duration
	servers map[uint8]*serverLink
}

// serverLink is the per-server state : a response channel fed by the
// subscription and a mutex serializing transactions to that node.
type serverLink struct {
	mu        sync.Mutex
	nodeId    uint8
	responses chan canopen.Frame
	cancel    func()
}

// Handle [Client] related RX CAN frames for one server
func (link *serverLink) Handle(frame canopen.Frame) {
	if frame.DLC != 8 {
		return
	}
	select {
	case link.responses <- frame:
	default:
		// No transaction is waiting, stale response dropped
	}
}

func NewClient(logger *slog.Logger, bm *canopen.BusManager) (*Client, error) {
	if bm == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		bm:      bm,
		logger:  logger.With("service", "[SDO]"),
		timeout: DefaultTimeout,
		servers: make(map[uint8]*serverLink),
	}, nil
}

// SetTimeout changes the per-transaction response timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *Client) link(nodeId uint8) (*serverLink, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	link, ok := c.servers[nodeId]
	if ok {
		return link, c.timeout, nil
	}
	link = &serverLink{nodeId: nodeId, responses: make(chan canopen.Frame, 4)}
	cancel, err := c.bm.Subscribe(uint32(ServerServiceId)+uint32(nodeId), 0x7FF, false, link)
	if err != nil {
		return nil, 0, err
	}
	link.cancel = cancel
	c.servers[nodeId] = link
	return link, c.timeout, nil
}

// request sends one expedited SDO frame and waits for the correlated
// response or a timeout. Responses for other objects are ignored.
func (c *Client) request(nodeId uint8, index uint16, subindex uint8, request canopen.Frame) (canopen.Frame, error) {
	link, timeout, err := c.link(nodeId)
	if err != nil {
		return canopen.Frame{}, err
	}

	link.mu.Lock()
	defer link.mu.Unlock()

	// Drain responses of a previous transaction that timed out
	for {
		select {
		case <-link.responses:
			continue
		default:
		}
		break
	}

	if err := c.bm.Send(request); err != nil {
		return canopen.Frame{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case response := <-link.responses:
			respIndex := binary.LittleEndian.Uint16(response.Data[1:3])
			if respIndex != index || response.Data[3] != subindex {
				continue
			}
			if response.Data[0] == csAbort {
				abort := Abort(binary.LittleEndian.Uint32(response.Data[4:8]))
				c.logger.Warn("server aborted transfer",
					"server", fmt.Sprintf("x%x", nodeId),
					"index", fmt.Sprintf("x%x", index),
					"subindex", fmt.Sprintf("x%x", subindex),
					"abort", abort.Error(),
				)
				return canopen.Frame{}, abort
			}
			return response, nil
		case <-timer.C:
			c.logger.Warn("transaction timed out",
				"server", fmt.Sprintf("x%x", nodeId),
				"index", fmt.Sprintf("x%x", index),
				"subindex", fmt.Sprintf("x%x", subindex),
				"timeout", timeout,
			)
			return canopen.Frame{}, canopen.ErrTimeout
		}
	}
}

// Download writes up to 4 bytes to a server object using an expedited
// transfer. size must be 1, 2 or 4.
func (c *Client) Download(nodeId uint8, index uint16, subindex uint8, value uint32, size int) error {
	var cs uint8
	switch size {
	case 1:
		cs = csDownload1Byte
	case 2:
		cs = csDownload2Bytes
	case 4:
		cs = csDownload4Bytes
	default:
		return canopen.ErrIllegalArgument
	}

	request := canopen.NewFrame(uint32(ClientServiceId)+uint32(nodeId), 0, 8)
	request.Data[0] = cs
	binary.LittleEndian.PutUint16(request.Data[1:3], index)
	request.Data[3] = subindex
	binary.LittleEndian.PutUint32(request.Data[4:8], value)

	response, err := c.request(nodeId, index, subindex, request)
	if err != nil {
		return err
	}
	if response.Data[0] != csDownloadResponse {
		return ErrUnexpectedResponse
	}
	c.logger.Debug("download succeeded",
		"server", fmt.Sprintf("x%x", nodeId),
		"index", fmt.Sprintf("x%x", index),
		"subindex", fmt.Sprintf("x%x", subindex),
		"value", value,
		"size", size,
	)
	return nil
}

// Upload reads up to 4 bytes from a server object using an expedited
// transfer. Returns the value and the number of valid bytes.
func (c *Client) Upload(nodeId uint8, index uint16, subindex uint8) (uint32, int, error) {
	request := canopen.NewFrame(uint32(ClientServiceId)+uint32(nodeId), 0, 8)
	request.Data[0] = csUploadRequest
	binary.LittleEndian.PutUint16(request.Data[1:3], index)
	request.Data[3] = subindex

	response, err := c.request(nodeId, index, subindex, request)
	if err != nil {
		return 0, 0, err
	}
	scs := response.Data[0]
	if scs>>5 != 0x02 || scs&0x02 == 0 {
		// Not an expedited upload response, segmented transfers are
		// not supported by this client
		return 0, 0, ErrUnexpectedResponse
	}
	size := 4
	if scs&0x01 != 0 {
		size = 4 - int((scs>>2)&0x03)
	}
	value := binary.LittleEndian.Uint32(response.Data[4:8])
	if size < 4 {
		value &= (1 << (8 * size)) - 1
	}
	return value, size, nil
}

// WriteRaw writes a value whose wire size is derived from its Go type.
// []byte values of length 1, 2 or 4 are written verbatim (little-endian),
// which is how the x1010 "save" signature is transferred.
func (c *Client) WriteRaw(nodeId uint8, index uint16, subindex uint8, value any) error {
	switch v := value.(type) {
	case uint8:
		return c.Download(nodeId, index, subindex, uint32(v), 1)
	case uint16:
		return c.Download(nodeId, index, subindex, uint32(v), 2)
	case uint32:
		return c.Download(nodeId, index, subindex, v, 4)
	case []byte:
		switch len(v) {
		case 1:
			return c.Download(nodeId, index, subindex, uint32(v[0]), 1)
		case 2:
			return c.Download(nodeId, index, subindex, uint32(binary.LittleEndian.Uint16(v)), 2)
		case 4:
			return c.Download(nodeId, index, subindex, binary.LittleEndian.Uint32(v), 4)
		}
		return canopen.ErrIllegalArgument
	default:
		return canopen.ErrIllegalArgument
	}
}

// ReadUint8 reads an expedited unsigned 8-bit object
func (c *Client) ReadUint8(nodeId uint8, index uint16, subindex uint8) (uint8, error) {
	value, size, err := c.Upload(nodeId, index, subindex)
	if err != nil {
		return 0, err
	}
	if size != 1 {
		return 0, fmt.Errorf("%w : expected 1 byte got %v", ErrUnexpectedResponse, size)
	}
	return uint8(value), nil
}

// ReadUint16 reads an expedited unsigned 16-bit object
func (c *Client) ReadUint16(nodeId uint8, index uint16, subindex uint8) (uint16, error) {
	value, size, err := c.Upload(nodeId, index, subindex)
	if err != nil {
		return 0, err
	}
	if size != 2 {
		return 0, fmt.Errorf("%w : expected 2 bytes got %v", ErrUnexpectedResponse, size)
	}
	return uint16(value), nil
}

// ReadUint32 reads an expedited unsigned 32-bit object
func (c *Client) ReadUint32(nodeId uint8, index uint16, subindex uint8) (uint32, error) {
	value, size, err := c.Upload(nodeId, index, subindex)
	if err != nil {
		return 0, err
	}
	if size != 4 {
		return 0, fmt.Errorf("%w : expected 4 bytes got %v", ErrUnexpectedResponse, size)
	}
	return value, nil
}
