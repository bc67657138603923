package charge

import (
	"errors"
	"sync"
)

// Charging runs constant-current until the pack reaches its maximum
// voltage, then constant-voltage until the current tapers below the
// cutoff. Stage transitions only move forward : Idle -> CC -> CV ->
// Stopped. Stopped is only left through an explicit Start.

type Stage uint8

const (
	StageIdle Stage = iota
	StageConstantCurrent
	StageConstantVoltage
	StageStopped
)

var stageDescription = map[Stage]string{
	StageIdle:            "IDLE",
	StageConstantCurrent: "CC",
	StageConstantVoltage: "CV",
	StageStopped:         "STOPPED",
}

func (stage Stage) String() string {
	description, ok := stageDescription[stage]
	if ok {
		return description
	}
	return "UNKNOWN"
}

var ErrInvalidTransition = errors.New("invalid charge stage transition")

// Controller is the CC/CV state machine. Tick is pure given the current
// stage and its inputs : no hidden timers, which keeps it testable and
// the control loop in charge of all scheduling.
type Controller struct {
	mu      sync.Mutex
	profile Profile
	stage   Stage

	setpointCurrent float64
	setpointVoltage float64
}

func NewController(profile Profile) (*Controller, error) {
	profile = profile.withDefaults()
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &Controller{profile: profile, stage: StageIdle}, nil
}

// Start begins a charge cycle from Idle or Stopped and computes the first
// setpoints from the given telemetry.
func (c *Controller) Start(packVoltage, packCurrent float64) error {
	c.mu.Lock()
	if c.stage == StageConstantCurrent || c.stage == StageConstantVoltage {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	c.stage = StageConstantCurrent
	c.mu.Unlock()

	c.Tick(packVoltage, packCurrent)
	return nil
}

// Stop forces the Stopped stage and zero setpoints immediately, from any
// stage. This is the safety path : it is never deferred or batched.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage = StageStopped
	c.setpointCurrent = 0
	c.setpointVoltage = 0
}

// Tick advances the state machine one control cycle and returns the
// charger setpoints. The setpoints returned for the cycle that triggers a
// stage transition are still those of the stage being left, except the
// cutoff transition which forces zero output at once.
func (c *Controller) Tick(packVoltage, packCurrent float64) (setpointCurrent, setpointVoltage float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.stage {
	case StageConstantCurrent:
		setpointVoltage = c.profile.PackMaxVoltage + c.profile.VoltageMargin
		setpointCurrent = c.profile.ChargeCurrent
		if packVoltage >= c.profile.PackMaxVoltage {
			c.stage = StageConstantVoltage
		}

	case StageConstantVoltage:
		setpointVoltage = c.profile.PackMaxVoltage
		setpointCurrent = c.profile.TaperCurrent
		if packCurrent <= c.profile.CutoffCurrent {
			c.stage = StageStopped
			setpointVoltage = 0
			setpointCurrent = 0
		}

	default:
		// Idle and Stopped request nothing from the charger
	}

	c.setpointCurrent = setpointCurrent
	c.setpointVoltage = setpointVoltage
	return setpointCurrent, setpointVoltage
}

// Charging reports whether a charge cycle is in progress
func (c *Controller) Charging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage == StageConstantCurrent || c.stage == StageConstantVoltage
}

func (c *Controller) Stage() Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Setpoints returns the outputs of the last Tick
func (c *Controller) Setpoints() (setpointCurrent, setpointVoltage float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpointCurrent, c.setpointVoltage
}
