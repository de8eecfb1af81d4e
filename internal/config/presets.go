package config

import (
	"strings"

	"github.com/ducminhle1904/pyramid-bot/internal/errors"
)

// Preset names form a closed set; anything else fails at load.
const (
	PresetConservative = "conservative"
	PresetBalanced     = "balanced"
	PresetAggressive   = "aggressive"
	PresetCustom       = "custom"
)

type presetValues struct {
	marginPercentages  []float64
	exitPercentages    []float64
	maxPyramidLevels   int
	baseLeverage       float64
	maxLeverage        float64
	maxAccountExposure float64
}

var presets = map[string]presetValues{
	PresetConservative: {
		marginPercentages:  []float64{5, 4, 3},
		exitPercentages:    []float64{50, 100},
		maxPyramidLevels:   3,
		baseLeverage:       3,
		maxLeverage:        5,
		maxAccountExposure: 0.30,
	},
	PresetBalanced: {
		marginPercentages:  []float64{10, 8, 6, 4},
		exitPercentages:    []float64{50, 100},
		maxPyramidLevels:   4,
		baseLeverage:       5,
		maxLeverage:        10,
		maxAccountExposure: 0.50,
	},
	PresetAggressive: {
		marginPercentages:  []float64{15, 12, 10, 8, 6},
		exitPercentages:    []float64{40, 100},
		maxPyramidLevels:   5,
		baseLeverage:       10,
		maxLeverage:        20,
		maxAccountExposure: 0.70,
	},
}

// applyPreset fills trading parameters from the named preset, leaving
// explicitly configured values alone. The custom preset fills nothing
// and relies entirely on the config file.
func (c *Config) applyPreset() error {
	name := strings.ToLower(strings.TrimSpace(c.Trading.Preset))
	if name == "" {
		name = PresetBalanced
		c.Trading.Preset = name
	}
	if name == PresetCustom {
		return nil
	}

	p, ok := presets[name]
	if !ok {
		return errors.NewConfigError("config", "unknown preset %q", c.Trading.Preset)
	}

	if len(c.Trading.MarginPercentages) == 0 {
		c.Trading.MarginPercentages = append([]float64(nil), p.marginPercentages...)
	}
	if len(c.Trading.ExitPercentages) == 0 {
		c.Trading.ExitPercentages = append([]float64(nil), p.exitPercentages...)
	}
	if c.Trading.MaxPyramidLevels == 0 {
		c.Trading.MaxPyramidLevels = p.maxPyramidLevels
	}
	if c.Trading.BaseLeverage == 0 {
		c.Trading.BaseLeverage = p.baseLeverage
	}
	if c.Trading.MaxLeverage == 0 {
		c.Trading.MaxLeverage = p.maxLeverage
	}
	if c.Trading.MaxAccountExposure == 0 {
		c.Trading.MaxAccountExposure = p.maxAccountExposure
	}
	return nil
}
