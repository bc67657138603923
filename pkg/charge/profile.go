package charge

import (
	"errors"
	"fmt"

	"gopkg.in/ini.v1"
)

// Profile is the charge configuration of one pack. Zero values fall back
// to sensible defaults in withDefaults, so a partial INI file is fine.
type Profile struct {
	CellCount      int     // number of series cells
	CellMaxVoltage float64 // V per cell
	PackMaxVoltage float64 // V, derived from cells when 0
	ChargeCurrent  float64 // A, constant-current stage
	CutoffCurrent  float64 // A, charge considered complete below this
	TaperCurrent   float64 // A, current limit in constant-voltage stage
	VoltageMargin  float64 // V added to the limit while in CC
}

// DefaultProfile matches the 20s li-ion pack this controller was built
// for : 20 x 4.2 V, 10 A bulk charge, 1 A cutoff.
func DefaultProfile() Profile {
	return Profile{
		CellCount:      20,
		CellMaxVoltage: 4.2,
		ChargeCurrent:  10.0,
		CutoffCurrent:  1.0,
		VoltageMargin:  0.2,
	}
}

func (p Profile) withDefaults() Profile {
	if p.PackMaxVoltage == 0 {
		p.PackMaxVoltage = float64(p.CellCount) * p.CellMaxVoltage
	}
	if p.TaperCurrent == 0 {
		p.TaperCurrent = p.ChargeCurrent
	}
	return p
}

func (p Profile) Validate() error {
	if p.PackMaxVoltage <= 0 {
		return errors.New("pack max voltage must be positive")
	}
	if p.ChargeCurrent <= 0 {
		return errors.New("charge current must be positive")
	}
	if p.CutoffCurrent < 0 || p.CutoffCurrent > p.ChargeCurrent {
		return errors.New("cutoff current must be within [0, charge current]")
	}
	if p.TaperCurrent <= 0 || p.TaperCurrent > p.ChargeCurrent {
		return errors.New("taper current must be within (0, charge current]")
	}
	if p.VoltageMargin < 0 {
		return errors.New("voltage margin must not be negative")
	}
	return nil
}

// LoadProfile reads the [charge] section of an INI file, missing keys
// keep their defaults.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	cfg, err := ini.Load(path)
	if err != nil {
		return profile, fmt.Errorf("failed to load charge profile : %w", err)
	}
	section := cfg.Section("charge")
	profile.CellCount = section.Key("cell_count").MustInt(profile.CellCount)
	profile.CellMaxVoltage = section.Key("cell_max_voltage").MustFloat64(profile.CellMaxVoltage)
	profile.PackMaxVoltage = section.Key("pack_max_voltage").MustFloat64(profile.PackMaxVoltage)
	profile.ChargeCurrent = section.Key("cc_current").MustFloat64(profile.ChargeCurrent)
	profile.CutoffCurrent = section.Key("cutoff_current").MustFloat64(profile.CutoffCurrent)
	profile.TaperCurrent = section.Key("cv_taper_current").MustFloat64(profile.TaperCurrent)
	profile.VoltageMargin = section.Key("voltage_margin").MustFloat64(profile.VoltageMargin)
	return profile, nil
}
