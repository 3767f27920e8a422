package domain

// Diagnosis is a coarse agronomic verdict on the raw climate values.
type Diagnosis string

const (
	DiagnosisOptimal        Diagnosis = "OPTIMAL"
	DiagnosisFungalCritical Diagnosis = "FUNGAL_CRITICAL"
	DiagnosisHumidityExcess Diagnosis = "HUMIDITY_EXCESS"
	DiagnosisHeatStress     Diagnosis = "HEAT_STRESS"
	DiagnosisFrostRisk      Diagnosis = "FROST_RISK"
)

// Diagnose evaluates the fungal rules before the thermal ones, so a hot and
// humid sample reports the fungal risk.
func Diagnose(temperatureC, humidityPct float64) Diagnosis {
	switch {
	case humidityPct > 85 && temperatureC > 20:
		return DiagnosisFungalCritical
	case humidityPct > 70:
		return DiagnosisHumidityExcess
	case temperatureC > 35:
		return DiagnosisHeatStress
	case temperatureC < 5:
		return DiagnosisFrostRisk
	default:
		return DiagnosisOptimal
	}
}
