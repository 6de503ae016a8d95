// Package domain models point-level Striga (witchweed) infestation risk for
// maize and sorghum fields.
//
// # Signals
//
// A score fuses three normalized [0,1] signals with the crop calendar:
//
//	Soil fertility index   sampled from a GeoTIFF at the field location
//	Habitat suitability    sampled from a GeoTIFF at the field location
//	Rainfall intensity     the RII of the daily rain_sum series (see below)
//
// Raster cells holding the declared no-data sentinel (or NaN) produce an
// undefined signal. Undefined signals make the score NaN, and a NaN score has
// no advisory tier: it means "insufficient data", not "low risk".
//
// # Rainfall Intensity Index
//
// The retrieval window ends on the observation date. It starts at the
// planting date when the planting date precedes the observation date by at
// least 31 days, and covers the 31 preceding days otherwise. Daily values
// outside the 10th–90th percentile band (linear interpolation) are trimmed;
// the rest are min–max scaled and averaged, then rounded to 3 decimals.
//
// # Composite Score
//
//	growthStage     = clamp(days(planting→weedRemoval) / growthDuration, 0, 1)
//	interaction     = cropFactor × ((1 − growthStage) × 0.5 + 0.5)
//	soilRisk        = (1 − soilFertility) × 0.5 + 0.5
//	weedingEffect   = 0.8 if |days(planting→weedRemoval)| < 30 else 1.0
//	historical      = 1.2 if Striga was previously present else 1.0
//	rainfallEffect  = 1.2 if RII > 0.7 else 1.0
//	score           = clamp((habitat + interaction + soilRisk) × weedingEffect
//	                        × historical × rainfallEffect / 3, 0, 1)
//
// Crop constants live in a lookup table keyed by [CropType]:
//
//	Maize:   120 days, factor 0.8
//	Sorghum: 100 days, factor 0.5
//
// # Advisory Tiers
//
//	> 0.75        4  High risk      Delay planting, use resistant varieties, apply soil amendments.
//	(0.5, 0.75]   3  Moderate risk  Monitor closely, consider inter-cropping with legumes.
//	≤ 0.5         2  Low risk       Standard practices should suffice.
//
// # Dates
//
// All dates are timezone-free calendar dates. Inputs may be plain
// YYYY-MM-DD or ISO-8601 datetimes; offsets are converted to UTC before the
// time of day is dropped (see [ParseDate]), so day arithmetic never mixes
// zoned and naive values.
package domain
