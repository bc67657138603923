package pdo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	canopen "github.com/I-am-Invictus/honda-cb550"
	"github.com/I-am-Invictus/honda-cb550/pkg/can"
	_ "github.com/I-am-Invictus/honda-cb550/pkg/can/virtual"
)

type frameRecorder struct {
	mu     sync.Mutex
	frames []canopen.Frame
}

func (r *frameRecorder) Handle(frame canopen.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameRecorder) take() []canopen.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	frames := make([]canopen.Frame, len(r.frames))
	copy(frames, r.frames)
	return frames
}

// newTestPair creates two bus managers on the same virtual channel, one for
// the code under test and one observing the traffic.
func newTestPair(t *testing.T) (*canopen.BusManager, *canopen.BusManager) {
	busA, err := can.NewBus("virtual", t.Name())
	assert.Nil(t, err)
	busB, err := can.NewBus("virtual", t.Name())
	assert.Nil(t, err)
	bmA := canopen.NewBusManager(nil, busA)
	bmB := canopen.NewBusManager(nil, busB)
	assert.Nil(t, busA.Subscribe(bmA))
	assert.Nil(t, busB.Subscribe(bmB))
	assert.Nil(t, busA.Connect())
	assert.Nil(t, busB.Connect())
	return bmA, bmB
}

func testMapping() Mapping {
	return Mapping{
		CobId:            0x20A,
		TransmissionType: TransmissionTypeAsync,
		Fields: []FieldSpec{
			{Index: 0x6081, Subindex: 0, BitLength: 8, Scale: 1},
			{Index: 0x6000, Subindex: 0, BitLength: 8, Scale: 1},
		},
	}
}

func TestTransmitOnce(t *testing.T) {
	bm, observer := newTestPair(t)
	recorder := &frameRecorder{}
	_, err := observer.Subscribe(0x20A, 0x7FF, false, recorder)
	assert.Nil(t, err)

	transmitter, err := NewTransmitter(nil, bm, testMapping())
	assert.Nil(t, err)
	assert.Nil(t, transmitter.Publish(76, 1))
	assert.Nil(t, transmitter.TransmitOnce())

	frames := recorder.take()
	assert.Len(t, frames, 1)
	assert.EqualValues(t, 0x20A, frames[0].ID)
	assert.EqualValues(t, 2, frames[0].DLC)
	assert.Equal(t, [8]byte{0x4C, 0x01}, frames[0].Data)
}

func TestTransmitOnceClampsSetpoints(t *testing.T) {
	bm, observer := newTestPair(t)
	recorder := &frameRecorder{}
	_, err := observer.Subscribe(0x20A, 0x7FF, false, recorder)
	assert.Nil(t, err)

	transmitter, err := NewTransmitter(nil, bm, testMapping())
	assert.Nil(t, err)
	assert.Nil(t, transmitter.Publish(-10, 300))
	assert.Nil(t, transmitter.TransmitOnce())

	frames := recorder.take()
	assert.Len(t, frames, 1)
	assert.Equal(t, [8]byte{0x00, 0xFF}, frames[0].Data)
}

func TestTransmitOnceDisabledMappingSendsNothing(t *testing.T) {
	bm, observer := newTestPair(t)
	recorder := &frameRecorder{}
	_, err := observer.Subscribe(0x20A, 0x7FF, false, recorder)
	assert.Nil(t, err)

	mapping := testMapping()
	mapping.CobId |= CobIdDisabledBit
	transmitter, err := NewTransmitter(nil, bm, mapping)
	assert.Nil(t, err)
	assert.Nil(t, transmitter.TransmitOnce())
	assert.Len(t, recorder.take(), 0)
}

func TestPeriodicTransmission(t *testing.T) {
	bm, observer := newTestPair(t)
	recorder := &frameRecorder{}
	_, err := observer.Subscribe(0x20A, 0x7FF, false, recorder)
	assert.Nil(t, err)

	transmitter, err := NewTransmitter(nil, bm, testMapping())
	assert.Nil(t, err)
	assert.Nil(t, transmitter.Publish(50, 0))
	assert.Nil(t, transmitter.Start(10*time.Millisecond))
	assert.Equal(t, canopen.ErrInvalidState, transmitter.Start(10*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	transmitter.Stop()
	sent := len(recorder.take())
	assert.GreaterOrEqual(t, sent, 2)

	// No frame may follow Stop
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, sent, len(recorder.take()))
}

func TestNewTransmitterRejectsInvalidMapping(t *testing.T) {
	bm, _ := newTestPair(t)
	mapping := testMapping()
	mapping.Fields = append(mapping.Fields, FieldSpec{BitLength: 32, Scale: 1},
		FieldSpec{BitLength: 32, Scale: 1})
	_, err := NewTransmitter(nil, bm, mapping)
	assert.ErrorIs(t, err, ErrBitOverflow)
}
