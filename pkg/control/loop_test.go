package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	canopen "github.com/I-am-Invictus/honda-cb550"
	"github.com/I-am-Invictus/honda-cb550/pkg/bms"
	"github.com/I-am-Invictus/honda-cb550/pkg/can"
	_ "github.com/I-am-Invictus/honda-cb550/pkg/can/virtual"
	"github.com/I-am-Invictus/honda-cb550/pkg/charge"
	"github.com/I-am-Invictus/honda-cb550/pkg/deltaq"
	"github.com/I-am-Invictus/honda-cb550/pkg/nmt"
	"github.com/I-am-Invictus/honda-cb550/pkg/pdo"
	"github.com/I-am-Invictus/honda-cb550/pkg/sdo"
)

type fakePack struct {
	mu       sync.Mutex
	snapshot bms.Snapshot
	err      error
}

func (p *fakePack) Poll() (*bms.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	snapshot := p.snapshot
	return &snapshot, nil
}

func (p *fakePack) set(packVoltage, packCurrent float64, soc uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = bms.Snapshot{PackVoltage: packVoltage, PackCurrent: packCurrent, Soc: soc}
}

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

type testRig struct {
	loop     *Loop
	pack     *fakePack
	peer     *canopen.BusManager
	nmtSeen  *frameRecorder
	rpdoSeen *frameRecorder
	cancel   context.CancelFunc
	done     chan error
}

func newTestRig(t *testing.T, cfg Config) *testRig {
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

	nmtSeen := &frameRecorder{}
	rpdoSeen := &frameRecorder{}
	_, err = bmB.Subscribe(0x000, 0x7FF, false, nmtSeen)
	assert.Nil(t, err)
	_, err = bmB.Subscribe(deltaq.Rpdo1Cobid(deltaq.DefaultNodeId), 0x7FF, false, rpdoSeen)
	assert.Nil(t, err)

	client, err := sdo.NewClient(nil, bmA)
	assert.Nil(t, err)
	charger, err := deltaq.NewCharger(nil, bmA, deltaq.DefaultNodeId, client)
	assert.Nil(t, err)
	controller, err := charge.NewController(charge.DefaultProfile())
	assert.Nil(t, err)
	consumer, err := nmt.NewConsumer(nil, bmA)
	assert.Nil(t, err)
	producer, err := nmt.NewProducer(nil, bmA, 0x01)
	assert.Nil(t, err)
	rpdo1, err := pdo.NewTransmitter(nil, bmA, deltaq.Rpdo1Mapping(deltaq.DefaultNodeId))
	assert.Nil(t, err)
	rpdo2, err := pdo.NewTransmitter(nil, bmA, deltaq.Rpdo2Mapping(deltaq.DefaultNodeId))
	assert.Nil(t, err)

	pack := &fakePack{}
	pack.set(70.0, 0.0, 50)

	loop, err := NewLoop(nil, cfg, Parts{
		Pack:       pack,
		Controller: controller,
		Charger:    charger,
		Consumer:   consumer,
		Producer:   producer,
		Rpdo1:      rpdo1,
		Rpdo2:      rpdo2,
	})
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	return &testRig{
		loop:     loop,
		pack:     pack,
		peer:     bmB,
		nmtSeen:  nmtSeen,
		rpdoSeen: rpdoSeen,
		cancel:   cancel,
		done:     done,
	}
}

func (rig *testRig) stop(t *testing.T) {
	rig.cancel()
	select {
	case err := <-rig.done:
		assert.Nil(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func (rig *testRig) heartbeat(t *testing.T, state uint8) {
	frame := canopen.NewFrame(0x700+uint32(deltaq.DefaultNodeId), 0, 1)
	frame.Data[0] = state
	assert.Nil(t, rig.peer.Send(frame))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatPeriod = 10 * time.Millisecond
	cfg.PdoPeriod = 10 * time.Millisecond
	cfg.CyclePeriod = 10 * time.Millisecond
	return cfg
}

func countNmtStarts(frames []canopen.Frame) int {
	starts := 0
	for _, frame := range frames {
		if frame.Data[0] == uint8(nmt.CommandEnterOperational) &&
			frame.Data[1] == uint8(deltaq.DefaultNodeId) {
			starts++
		}
	}
	return starts
}

func TestAutoBringupStartsChargerExactlyOnce(t *testing.T) {
	rig := newTestRig(t, testConfig())
	defer rig.stop(t)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, countNmtStarts(rig.nmtSeen.take()))

	// Charger boots and settles in pre-operational : exactly one start
	rig.heartbeat(t, nmt.StateInitializing)
	rig.heartbeat(t, nmt.StatePreOperational)
	assert.Equal(t, 1, countNmtStarts(rig.nmtSeen.take()))

	// Repeats and the post-start transitions must not re-trigger
	rig.heartbeat(t, nmt.StatePreOperational)
	rig.heartbeat(t, nmt.StateOperational)
	rig.heartbeat(t, nmt.StatePreOperational)
	assert.Equal(t, 1, countNmtStarts(rig.nmtSeen.take()))
}

func TestAutoBringupDisabledStartsImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.AutoBringup = false
	rig := newTestRig(t, cfg)
	defer rig.stop(t)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, countNmtStarts(rig.nmtSeen.take()))
	rig.heartbeat(t, nmt.StatePreOperational)
	assert.Equal(t, 1, countNmtStarts(rig.nmtSeen.take()))
}

func TestLoopPublishesSetpoints(t *testing.T) {
	rig := newTestRig(t, testConfig())
	defer rig.stop(t)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, charge.StageConstantCurrent, rig.loop.controller.Stage())

	frames := rig.rpdoSeen.take()
	assert.NotEmpty(t, frames)
	mapping := deltaq.Rpdo1Mapping(deltaq.DefaultNodeId)
	last := frames[len(frames)-1]
	values, err := pdo.Unpack(mapping.Fields, last.Data[:last.DLC])
	assert.Nil(t, err)
	// soc, voltage limit with margin, cc current, battery ready
	assert.InDelta(t, 50, values[0], 1e-9)
	assert.InDelta(t, 84.2, values[1], 0.01)
	assert.InDelta(t, 10.0, values[2], 0.1)
	assert.InDelta(t, deltaq.BatteryReady, values[3], 1e-9)
}

func TestSocThresholdStopsCharge(t *testing.T) {
	rig := newTestRig(t, testConfig())
	defer rig.stop(t)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, rig.loop.controller.Charging())

	rig.pack.set(83.0, 9.0, 96)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, charge.StageStopped, rig.loop.controller.Stage())

	frames := rig.rpdoSeen.take()
	mapping := deltaq.Rpdo1Mapping(deltaq.DefaultNodeId)
	last := frames[len(frames)-1]
	values, err := pdo.Unpack(mapping.Fields, last.Data[:last.DLC])
	assert.Nil(t, err)
	assert.Zero(t, values[1]) // voltage limit
	assert.Zero(t, values[2]) // current request
	assert.InDelta(t, deltaq.BatteryNotReady, values[3], 1e-9)
}

func TestPollFailureKeepsLoopRunning(t *testing.T) {
	rig := newTestRig(t, testConfig())
	defer rig.stop(t)

	time.Sleep(50 * time.Millisecond)
	rig.pack.mu.Lock()
	rig.pack.err = bms.ErrWrongFrameLength
	rig.pack.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	// Loop keeps running and keeps the previous stage
	assert.True(t, rig.loop.controller.Charging())
	rig.pack.mu.Lock()
	rig.pack.err = nil
	rig.pack.mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	assert.True(t, rig.loop.controller.Charging())
}

func TestNewLoopRejectsMissingParts(t *testing.T) {
	_, err := NewLoop(nil, DefaultConfig(), Parts{})
	assert.Equal(t, canopen.ErrIllegalArgument, err)
}
