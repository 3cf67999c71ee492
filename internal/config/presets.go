package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dcfscan/dcfscan/internal/screen"
	"github.com/dcfscan/dcfscan/pkg/models"
)

// ValuationPreset is a named, immutable bundle of model parameters.
type ValuationPreset struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Params      models.Parameters `json:"params"`
}

// ScreeningPreset is a named screening filter configuration.
type ScreeningPreset struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Filter      screen.Filter `json:"filter"`
}

// valuationPresets holds the built-in parameter presets. Callers get
// copies, never references into this map.
var valuationPresets = map[string]ValuationPreset{
	"conservative": {
		Name:        "Conservative",
		Description: "Conservative assumptions for cautious investors",
		Params: models.Parameters{
			WACC:               0.12,
			TerminalGrowth:     0.02,
			GrowthRate:         0.05,
			ProjectionYears:    5,
			MarginOfSafety:     0.15,
			Input:              models.InputFCF,
			NormalizationYears: 5,
			Mode:               models.ModePerShare,
		},
	},
	"moderate": {
		Name:        "Moderate",
		Description: "Balanced assumptions for most situations",
		Params: models.Parameters{
			WACC:               0.10,
			TerminalGrowth:     0.025,
			GrowthRate:         0.08,
			ProjectionYears:    5,
			MarginOfSafety:     0,
			Input:              models.InputFCF,
			NormalizationYears: 5,
			Mode:               models.ModePerShare,
		},
	},
	"aggressive": {
		Name:        "Aggressive",
		Description: "Optimistic assumptions for growth stocks",
		Params: models.Parameters{
			WACC:               0.08,
			TerminalGrowth:     0.03,
			GrowthRate:         0.15,
			ProjectionYears:    7,
			MarginOfSafety:     0,
			Input:              models.InputFCF,
			NormalizationYears: 1,
			Mode:               models.ModePerShare,
		},
	},
	"high_growth": {
		Name:        "High Growth",
		Description: "For fast-growing tech companies",
		Params: models.Parameters{
			WACC:               0.09,
			TerminalGrowth:     0.03,
			GrowthRate:         0.20,
			ProjectionYears:    10,
			MarginOfSafety:     0.05,
			Input:              models.InputFCF,
			NormalizationYears: 1,
			Mode:               models.ModePerShare,
		},
	},
	"value": {
		Name:        "Value",
		Description: "For mature, stable businesses",
		Params: models.Parameters{
			WACC:               0.09,
			TerminalGrowth:     0.02,
			GrowthRate:         0.03,
			ProjectionYears:    5,
			MarginOfSafety:     0.10,
			Input:              models.InputFCF,
			NormalizationYears: 5,
			Mode:               models.ModePerShare,
		},
	},
}

// screeningPresets holds the built-in screening filter presets.
var screeningPresets = map[string]ScreeningPreset{
	"deep_value": {
		Name:        "Deep Value",
		Description: "Significantly undervalued stocks",
		Filter: screen.Filter{
			MinDiscountPct:    fptr(40.0),
			MinIntrinsicValue: fptr(10.0),
		},
	},
	"moderate_value": {
		Name:        "Moderate Value",
		Description: "Moderately undervalued opportunities",
		Filter: screen.Filter{
			MinDiscountPct:    fptr(20.0),
			MaxDiscountPct:    fptr(60.0),
			MinIntrinsicValue: fptr(5.0),
		},
	},
	"quality_value": {
		Name:        "Quality Value",
		Description: "Undervalued with minimum quality standards",
		Filter: screen.Filter{
			MinDiscountPct:    fptr(15.0),
			MinIntrinsicValue: fptr(20.0),
		},
	},
	"small_cap_value": {
		Name:        "Small Cap Value",
		Description: "Undervalued smaller companies",
		Filter: screen.Filter{
			MinDiscountPct:    fptr(25.0),
			MaxCurrentPrice:   fptr(20.0),
			MinIntrinsicValue: fptr(5.0),
		},
	},
	"overvalued": {
		Name:        "Overvalued Stocks",
		Description: "Stocks trading above intrinsic value",
		Filter: screen.Filter{
			MaxDiscountPct: fptr(-20.0),
		},
	},
}

func fptr(v float64) *float64 { return &v }

// ValuationPresetByName returns the named parameter preset.
func ValuationPresetByName(name string) (ValuationPreset, error) {
	p, ok := valuationPresets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ValuationPreset{}, fmt.Errorf("unknown valuation preset %q (have: %s)",
			name, strings.Join(ValuationPresetNames(), ", "))
	}
	// Copy the pointer-free struct so callers cannot mutate the preset.
	return p, nil
}

// ScreeningPresetByName returns the named screening preset.
func ScreeningPresetByName(name string) (ScreeningPreset, error) {
	p, ok := screeningPresets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ScreeningPreset{}, fmt.Errorf("unknown screening preset %q (have: %s)",
			name, strings.Join(ScreeningPresetNames(), ", "))
	}
	// Fresh pointers so callers cannot reach into the shared preset.
	out := p
	out.Filter = screen.Filter{
		MinDiscountPct:    copyPtr(p.Filter.MinDiscountPct),
		MaxDiscountPct:    copyPtr(p.Filter.MaxDiscountPct),
		MinIntrinsicValue: copyPtr(p.Filter.MinIntrinsicValue),
		MaxIntrinsicValue: copyPtr(p.Filter.MaxIntrinsicValue),
		MaxCurrentPrice:   copyPtr(p.Filter.MaxCurrentPrice),
		MaxAgeDays:        p.Filter.MaxAgeDays,
	}
	return out, nil
}

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ValuationPresetNames lists the built-in parameter presets, sorted.
func ValuationPresetNames() []string {
	names := make([]string, 0, len(valuationPresets))
	for k := range valuationPresets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ScreeningPresetNames lists the built-in screening presets, sorted.
func ScreeningPresetNames() []string {
	names := make([]string, 0, len(screeningPresets))
	for k := range screeningPresets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
