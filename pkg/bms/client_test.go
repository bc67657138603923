package bms

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakePort replays a canned response, optionally in small chunks the way a
// slow serial link delivers it.
type fakePort struct {
	mu       sync.Mutex
	written  [][]byte
	response []byte
	pos      int
	chunk    int // max bytes per Read, 0 means unlimited
	closed   bool
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	written := make([]byte, len(data))
	copy(written, data)
	p.written = append(p.written, written)
	return len(data), nil
}

func (p *fakePort) Read(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pos >= len(p.response) {
		return 0, io.EOF
	}
	limit := len(p.response) - p.pos
	if p.chunk > 0 && limit > p.chunk {
		limit = p.chunk
	}
	if limit > len(data) {
		limit = len(data)
	}
	copy(data, p.response[p.pos:p.pos+limit])
	p.pos += limit
	return limit, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestPoll(t *testing.T) {
	port := &fakePort{response: telemetryFrame(), chunk: 17}
	client := NewClient(nil, port)
	client.SetTurnaround(0)

	snapshot, err := client.Poll()
	assert.Nil(t, err)
	assert.InDelta(t, 100.0, snapshot.PackVoltage, 1e-9)
	assert.EqualValues(t, 80, snapshot.Soc)

	// The query on the wire is the fixed 6-byte poll command
	assert.Len(t, port.written, 1)
	assert.Equal(t, []byte{0x5A, 0x5A, 0x00, 0x00, 0x00, 0x00}, port.written[0])
}

func TestPollIncompleteResponse(t *testing.T) {
	port := &fakePort{response: telemetryFrame()[:100]}
	client := NewClient(nil, port)
	client.SetTurnaround(0)
	client.SetReadTimeout(20 * time.Millisecond)

	_, err := client.Poll()
	assert.ErrorIs(t, err, ErrWrongFrameLength)
}

func TestClose(t *testing.T) {
	port := &fakePort{}
	client := NewClient(nil, port)
	assert.Nil(t, client.Close())
	assert.True(t, port.closed)
}
