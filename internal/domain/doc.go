// Package domain models crop-canopy climate samples and their vapour pressure
// deficit (VPD) classification.
//
// # Data Sources
//
// Samples arrive from three places, all normalised to the same JSON shape
// ([Sample]) before they reach this package:
//
//   - Open-Meteo current conditions (temperature_2m, relative_humidity_2m),
//     polled per configured location. No API key is required.
//   - Field sensors publishing telemetry over MQTT.
//   - Upstream producers writing raw samples to a Kafka topic.
//
// # VPD Computation
//
// Saturation vapour pressure uses the Tetens approximation, with T in
// degrees Celsius and the result in kPa:
//
//	svp = 0.6108 * exp(17.27 * T / (T + 237.3))
//	avp = svp * RH / 100
//	vpd = max(svp - avp, 0)
//
// Example: T = 25°C, RH = 50% gives svp ≈ 3.169, avp ≈ 1.585, vpd ≈ 1.585 kPa.
//
// # Input Domain
//
// Temperature must lie in [-40, 60] °C. Relative humidity must lie in
// [0, 100] %, except that readings up to 105 % are treated as sensor or API
// rounding noise and clamped to 100 (the reading is flagged with
// HumidityClamped). NaN, ±Inf, negative humidity and anything beyond those
// limits fail with [ErrInvalidInput].
//
// # Risk Classification
//
// Thresholds are fixed and inclusive on the comfort side:
//
//	vpd <  0.4 kPa        FUNGAL_RISK   (stomata closed, condensation, Botrytis/mildew)
//	0.4 ≤ vpd ≤ 1.5 kPa   COMFORT_ZONE
//	vpd >  1.5 kPa        WATER_STRESS  (transpiration exceeds root uptake)
//
// # Agronomic Diagnosis
//
// Alongside the VPD class every reading carries a coarse agronomic diagnosis
// evaluated on raw temperature and humidity, first match wins:
//
//	RH > 85 % and T > 20 °C   FUNGAL_CRITICAL
//	RH > 70 %                 HUMIDITY_EXCESS
//	T > 35 °C                 HEAT_STRESS
//	T < 5 °C                  FROST_RISK
//	otherwise                 OPTIMAL
//
// # ID Generation
//
// Reading IDs are deterministic SHA-256 hashes of sensor|sample time. Sinks
// rely on this for idempotent inserts (ON CONFLICT DO NOTHING), so replaying a
// topic or re-polling an unchanged Open-Meteo snapshot never duplicates rows.
// See [generateID].
package domain
