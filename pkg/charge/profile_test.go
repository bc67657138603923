package charge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfileDefaults(t *testing.T) {
	profile := DefaultProfile().withDefaults()
	assert.InDelta(t, 84.0, profile.PackMaxVoltage, 1e-9)
	assert.InDelta(t, profile.ChargeCurrent, profile.TaperCurrent, 1e-9)
	assert.Nil(t, profile.Validate())
}

func TestProfileExplicitPackVoltageWins(t *testing.T) {
	profile := DefaultProfile()
	profile.PackMaxVoltage = 82.0
	profile = profile.withDefaults()
	assert.InDelta(t, 82.0, profile.PackMaxVoltage, 1e-9)
}

func TestProfileValidate(t *testing.T) {
	profile := DefaultProfile().withDefaults()

	bad := profile
	bad.PackMaxVoltage = 0
	assert.NotNil(t, bad.Validate())

	bad = profile
	bad.ChargeCurrent = 0
	assert.NotNil(t, bad.Validate())

	bad = profile
	bad.CutoffCurrent = bad.ChargeCurrent + 1
	assert.NotNil(t, bad.Validate())

	bad = profile
	bad.TaperCurrent = bad.ChargeCurrent + 1
	assert.NotNil(t, bad.Validate())

	bad = profile
	bad.VoltageMargin = -0.1
	assert.NotNil(t, bad.Validate())
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charge.ini")
	content := `[charge]
cell_count = 16
cell_max_voltage = 3.65
cc_current = 20.0
cutoff_current = 2.0
cv_taper_current = 8.0
voltage_margin = 0.5
`
	assert.Nil(t, os.WriteFile(path, []byte(content), 0o644))

	profile, err := LoadProfile(path)
	assert.Nil(t, err)
	assert.Equal(t, 16, profile.CellCount)
	assert.InDelta(t, 3.65, profile.CellMaxVoltage, 1e-9)
	assert.InDelta(t, 20.0, profile.ChargeCurrent, 1e-9)
	assert.InDelta(t, 2.0, profile.CutoffCurrent, 1e-9)
	assert.InDelta(t, 8.0, profile.TaperCurrent, 1e-9)
	assert.InDelta(t, 0.5, profile.VoltageMargin, 1e-9)
}

func TestLoadProfileMissingKeysKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charge.ini")
	assert.Nil(t, os.WriteFile(path, []byte("[charge]\ncc_current = 15.0\n"), 0o644))

	profile, err := LoadProfile(path)
	assert.Nil(t, err)
	assert.InDelta(t, 15.0, profile.ChargeCurrent, 1e-9)
	assert.Equal(t, DefaultProfile().CellCount, profile.CellCount)
	assert.InDelta(t, DefaultProfile().CutoffCurrent, profile.CutoffCurrent, 1e-9)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "nope.ini"))
	assert.NotNil(t, err)
}
