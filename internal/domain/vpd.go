package domain

import (
	"errors"
	"fmt"
	"math"
)

// Tetens coefficients for saturation vapour pressure over water (kPa, °C).
const (
	tetensA = 0.6108
	tetensB = 17.27
	tetensC = 237.3
)

// Classification thresholds in kPa.
const (
	FungalRiskThreshold  = 0.4
	WaterStressThreshold = 1.5
)

// Accepted input domain.
const (
	MinTemperatureC = -40.0
	MaxTemperatureC = 60.0
	MaxHumidityPct  = 100.0

	// HumidityClampLimit is the highest humidity still treated as rounding
	// noise and clamped to MaxHumidityPct instead of rejected.
	HumidityClampLimit = 105.0
)

// ErrInvalidInput is returned when a temperature or humidity value cannot be
// classified.
var ErrInvalidInput = errors.New("invalid input")

// RiskCategory is the plant-stress class derived from VPD.
type RiskCategory string

const (
	RiskFungal      RiskCategory = "FUNGAL_RISK"
	RiskComfort     RiskCategory = "COMFORT_ZONE"
	RiskWaterStress RiskCategory = "WATER_STRESS"
)

// RiskCategories lists every category in ascending VPD order.
var RiskCategories = []RiskCategory{RiskFungal, RiskComfort, RiskWaterStress}

// VPD is the full breakdown of one calculation.
type VPD struct {
	TemperatureC    float64      `json:"temperature_c"`
	HumidityPct     float64      `json:"humidity_pct"`
	SVPKPa          float64      `json:"svp_kpa"`
	AVPKPa          float64      `json:"avp_kpa"`
	VPDKPa          float64      `json:"vpd_kpa"`
	Risk            RiskCategory `json:"risk_category"`
	HumidityClamped bool         `json:"humidity_clamped,omitempty"`
}

// Compute returns the vapour pressure deficit in kPa and its risk category.
func Compute(temperatureC, humidityPct float64) (float64, RiskCategory, error) {
	v, err := Calculate(temperatureC, humidityPct)
	if err != nil {
		return 0, "", err
	}
	return v.VPDKPa, v.Risk, nil
}

// Calculate validates the inputs and runs the Tetens computation, returning
// the intermediate vapour pressures alongside the deficit.
func Calculate(temperatureC, humidityPct float64) (VPD, error) {
	if err := validateTemperature(temperatureC); err != nil {
		return VPD{}, err
	}
	rh, clamped, err := normalizeHumidity(humidityPct)
	if err != nil {
		return VPD{}, err
	}

	svp := SaturationVaporPressure(temperatureC)
	avp := svp * (rh / 100)
	vpd := math.Max(svp-avp, 0)

	return VPD{
		TemperatureC:    temperatureC,
		HumidityPct:     rh,
		SVPKPa:          svp,
		AVPKPa:          avp,
		VPDKPa:          vpd,
		Risk:            Classify(vpd),
		HumidityClamped: clamped,
	}, nil
}

// SaturationVaporPressure returns the Tetens saturation vapour pressure in kPa.
// The caller is responsible for keeping t inside the supported range.
func SaturationVaporPressure(t float64) float64 {
	return tetensA * math.Exp(tetensB*t/(t+tetensC))
}

// Classify maps a VPD value in kPa to its risk category.
func Classify(vpdKPa float64) RiskCategory {
	switch {
	case vpdKPa < FungalRiskThreshold:
		return RiskFungal
	case vpdKPa <= WaterStressThreshold:
		return RiskComfort
	default:
		return RiskWaterStress
	}
}

func validateTemperature(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return fmt.Errorf("%w: temperature is not finite", ErrInvalidInput)
	}
	if t < MinTemperatureC || t > MaxTemperatureC {
		return fmt.Errorf("%w: temperature %.2f outside [%g, %g]", ErrInvalidInput, t, MinTemperatureC, MaxTemperatureC)
	}
	return nil
}

// normalizeHumidity rejects impossible humidity values and clamps values in
// (100, HumidityClampLimit] down to 100.
func normalizeHumidity(rh float64) (float64, bool, error) {
	switch {
	case math.IsNaN(rh) || math.IsInf(rh, 0):
		return 0, false, fmt.Errorf("%w: humidity is not finite", ErrInvalidInput)
	case rh < 0:
		return 0, false, fmt.Errorf("%w: humidity %.2f is negative", ErrInvalidInput, rh)
	case rh > HumidityClampLimit:
		return 0, false, fmt.Errorf("%w: humidity %.2f above %g", ErrInvalidInput, rh, HumidityClampLimit)
	case rh > MaxHumidityPct:
		return MaxHumidityPct, true, nil
	default:
		return rh, false, nil
	}
}
