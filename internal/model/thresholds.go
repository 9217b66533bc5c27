package model

import "fmt"

const (
	DefaultActivationTemp   = 30.0
	DefaultDeactivationTemp = 28.0
	DefaultDrySoil          = 30
	DefaultWetSoil          = 70
)

// ThresholdConfig drives the automatic behaviour of the devices. The
// coordinator only stores and forwards it.
type ThresholdConfig struct {
	ActivationTemp   float64 `json:"activation_temp" mapstructure:"activation_temp"`
	DeactivationTemp float64 `json:"deactivation_temp" mapstructure:"deactivation_temp"`
	DrySoil          int     `json:"dry_soil" mapstructure:"dry_soil"`
	WetSoil          int     `json:"wet_soil" mapstructure:"wet_soil"`
}

func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		ActivationTemp:   DefaultActivationTemp,
		DeactivationTemp: DefaultDeactivationTemp,
		DrySoil:          DefaultDrySoil,
		WetSoil:          DefaultWetSoil,
	}
}

// Inverted reports the fan hysteresis gap: activation should exceed deactivation.
func (c ThresholdConfig) Inverted() bool {
	return c.ActivationTemp <= c.DeactivationTemp
}

// ThresholdPatch carries only the keys a client sent.
type ThresholdPatch struct {
	ActivationTemp   *float64 `json:"activation_temp,omitempty"`
	DeactivationTemp *float64 `json:"deactivation_temp,omitempty"`
	DrySoil          *int     `json:"dry_soil,omitempty"`
	WetSoil          *int     `json:"wet_soil,omitempty"`
}

// Merge applies the patch over prev.
func (p ThresholdPatch) Merge(prev ThresholdConfig) ThresholdConfig {
	next := prev
	if p.ActivationTemp != nil {
		next.ActivationTemp = *p.ActivationTemp
	}
	if p.DeactivationTemp != nil {
		next.DeactivationTemp = *p.DeactivationTemp
	}
	if p.DrySoil != nil {
		next.DrySoil = *p.DrySoil
	}
	if p.WetSoil != nil {
		next.WetSoil = *p.WetSoil
	}
	return next
}

// CheckSoil returns the name of the first soil threshold outside [0,100].
func (c ThresholdConfig) CheckSoil() (string, error) {
	if c.DrySoil < 0 || c.DrySoil > 100 {
		return "dry_soil", fmt.Errorf("%d out of range [0,100]", c.DrySoil)
	}
	if c.WetSoil < 0 || c.WetSoil > 100 {
		return "wet_soil", fmt.Errorf("%d out of range [0,100]", c.WetSoil)
	}
	return "", nil
}

func Float64Ptr(v float64) *float64 { return &v }
