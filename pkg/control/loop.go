// Package control runs the charging service : it polls the BMS, advances
// the CC/CV state machine and keeps the charger fed with setpoint and
// measurement PDOs while producing its own heartbeat.
package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/I-am-Invictus/honda-cb550"
	"github.com/I-am-Invictus/honda-cb550/pkg/bms"
	"github.com/I-am-Invictus/honda-cb550/pkg/charge"
	"github.com/I-am-Invictus/honda-cb550/pkg/deltaq"
	"github.com/I-am-Invictus/honda-cb550/pkg/nmt"
	"github.com/I-am-Invictus/honda-cb550/pkg/pdo"
	"github.com/I-am-Invictus/honda-cb550/pkg/telemetry"
)

// Telemetry is the battery data source of the loop, normally the RS-485
// BMS client.
type Telemetry interface {
	Poll() (*bms.Snapshot, error)
}

type Config struct {
	HeartbeatPeriod time.Duration // own heartbeat production
	PdoPeriod       time.Duration // setpoint and measurement PDOs
	CyclePeriod     time.Duration // BMS poll and control cycle
	SocStop         uint8         // stop charging at this state of charge, percent
	AutoBringup     bool          // NMT-start the charger when it reports pre-operational
	PackTemperature float64       // degC reported in the measurement PDO
}

func DefaultConfig() Config {
	return Config{
		HeartbeatPeriod: 100 * time.Millisecond,
		PdoPeriod:       150 * time.Millisecond,
		CyclePeriod:     time.Second,
		SocStop:         95,
		AutoBringup:     true,
		PackTemperature: 25,
	}
}

// Parts are the collaborators a [Loop] drives. Publisher may be nil,
// everything else is required.
type Parts struct {
	Pack       Telemetry
	Controller *charge.Controller
	Charger    *deltaq.Charger
	Consumer   *nmt.Consumer
	Producer   *nmt.Producer
	Rpdo1      *pdo.Transmitter
	Rpdo2      *pdo.Transmitter
	Publisher  *telemetry.Publisher
}

type Loop struct {
	logger *slog.Logger
	cfg    Config

	pack       Telemetry
	controller *charge.Controller
	charger    *deltaq.Charger
	consumer   *nmt.Consumer
	producer   *nmt.Producer
	rpdo1      *pdo.Transmitter
	rpdo2      *pdo.Transmitter
	publisher  *telemetry.Publisher

	mu          sync.Mutex
	startIssued bool
}

func NewLoop(logger *slog.Logger, cfg Config, parts Parts) (*Loop, error) {
	if parts.Pack == nil || parts.Controller == nil || parts.Charger == nil ||
		parts.Consumer == nil || parts.Producer == nil ||
		parts.Rpdo1 == nil || parts.Rpdo2 == nil {
		return nil, canopen.ErrIllegalArgument
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:     logger.With("service", "[CONTROL]"),
		cfg:        cfg,
		pack:       parts.Pack,
		controller: parts.Controller,
		charger:    parts.Charger,
		consumer:   parts.Consumer,
		producer:   parts.Producer,
		rpdo1:      parts.Rpdo1,
		rpdo2:      parts.Rpdo2,
		publisher:  parts.Publisher,
	}, nil
}

// Run drives the service until ctx is cancelled. On return the periodic
// traffic has stopped and a final not-ready frame has been sent.
func (l *Loop) Run(ctx context.Context) error {
	l.consumer.OnStateChange(l.onChargerState)
	if err := l.consumer.Monitor(l.charger.NodeId()); err != nil {
		return err
	}
	l.producer.SetState(nmt.StateOperational)
	if err := l.producer.Start(l.cfg.HeartbeatPeriod); err != nil {
		return err
	}
	if err := l.rpdo1.Start(l.cfg.PdoPeriod); err != nil {
		l.producer.Stop()
		return err
	}
	if err := l.rpdo2.Start(l.cfg.PdoPeriod); err != nil {
		l.rpdo1.Stop()
		l.producer.Stop()
		return err
	}
	if !l.cfg.AutoBringup {
		// No heartbeat gating, start the charger right away
		if err := l.charger.Start(); err != nil {
			l.logger.Error("failed to start charger", "error", err)
		}
	}

	ticker := time.NewTicker(l.cfg.CyclePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.shutdown()
			return nil
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

// cycle is one control iteration : poll, decide, publish. A poll or
// decode failure skips the iteration, the previous setpoints keep being
// transmitted until fresh data arrives.
func (l *Loop) cycle(ctx context.Context) {
	snapshot, err := l.pack.Poll()
	if err != nil {
		l.logger.Warn("telemetry poll failed", "error", err)
		return
	}

	if snapshot.Soc >= l.cfg.SocStop && l.controller.Charging() {
		l.logger.Info("state of charge threshold reached, stopping charge",
			"soc", snapshot.Soc,
			"threshold", l.cfg.SocStop,
		)
		l.stopOutput(snapshot)
	}
	if l.controller.Stage() == charge.StageIdle && snapshot.Soc < l.cfg.SocStop {
		if err := l.controller.Start(snapshot.PackVoltage, snapshot.PackCurrent); err != nil {
			l.logger.Error("failed to start charge cycle", "error", err)
		} else {
			l.logger.Info("charge cycle started",
				"packVoltage", snapshot.PackVoltage,
				"soc", snapshot.Soc,
			)
		}
	}

	setpointCurrent, setpointVoltage := l.controller.Tick(snapshot.PackVoltage, snapshot.PackCurrent)
	status := deltaq.BatteryNotReady
	if l.controller.Charging() {
		status = deltaq.BatteryReady
	}
	l.rpdo1.Publish(float64(snapshot.Soc), setpointVoltage, setpointCurrent, status)
	l.rpdo2.Publish(snapshot.PackVoltage, l.cfg.PackTemperature, snapshot.PackCurrent)

	if l.publisher != nil {
		pubCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		if err := l.publisher.Publish(pubCtx, snapshot, l.controller.Stage().String(), setpointCurrent, setpointVoltage); err != nil {
			l.logger.Warn("telemetry export failed", "error", err)
		}
		cancel()
	}

	l.logger.Info("cycle",
		"stage", l.controller.Stage().String(),
		"soc", snapshot.Soc,
		"packVoltage", snapshot.PackVoltage,
		"packCurrent", snapshot.PackCurrent,
		"power", snapshot.PackVoltage*snapshot.PackCurrent,
		"setVoltage", setpointVoltage,
		"setCurrent", setpointCurrent,
	)
}

// stopOutput halts the state machine and pushes a zero-setpoint frame
// without waiting for the next PDO period.
func (l *Loop) stopOutput(snapshot *bms.Snapshot) {
	l.controller.Stop()
	l.rpdo1.Publish(float64(snapshot.Soc), 0, 0, deltaq.BatteryNotReady)
	if err := l.rpdo1.TransmitOnce(); err != nil {
		l.logger.Warn("failed to transmit zero setpoints", "error", err)
	}
}

// onChargerState gates the automatic NMT start : the charger boots into
// pre-operational and waits there, so any transition into pre-operational
// that does not come from an already started charger triggers exactly one
// start command.
func (l *Loop) onChargerState(nodeId uint8, previous uint8, current uint8) {
	if nodeId != l.charger.NodeId() || !l.cfg.AutoBringup {
		return
	}
	if current != nmt.StatePreOperational {
		return
	}
	if previous == nmt.StatePreOperational || previous == nmt.StateOperational {
		return
	}
	l.mu.Lock()
	if l.startIssued {
		l.mu.Unlock()
		return
	}
	l.startIssued = true
	l.mu.Unlock()

	l.logger.Info("charger is pre-operational, sending NMT start", "chargerId", nodeId)
	if err := l.charger.Start(); err != nil {
		l.logger.Error("failed to start charger", "error", err)
		l.mu.Lock()
		l.startIssued = false
		l.mu.Unlock()
	}
}

// shutdown stops the schedules and leaves the charger with a final
// not-ready, zero-setpoint frame. Best effort, the bus may already be gone.
func (l *Loop) shutdown() {
	l.controller.Stop()
	l.rpdo1.Stop()
	l.rpdo2.Stop()
	l.rpdo1.Publish(0, 0, 0, deltaq.BatteryNotReady)
	if err := l.rpdo1.TransmitOnce(); err != nil {
		l.logger.Warn("failed to transmit final frame", "error", err)
	}
	l.producer.Stop()
	l.consumer.Stop()
	l.logger.Info("control loop stopped")
}
