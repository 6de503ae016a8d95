package domain

import "math"

const (
	// earlyWeedingDays is the planting/weeding gap under which weeding is
	// considered early enough to suppress Striga attachment.
	earlyWeedingDays = 30

	earlyWeedingEffect   = 0.8
	historicalModifier   = 1.2
	heavyRainfallEffect  = 1.2
	heavyRainfallCutover = 0.7
)

// PhenologyInput describes the crop calendar of the assessed field.
type PhenologyInput struct {
	PlantingDate    CalendarDate
	WeedRemovalDate CalendarDate
	Crop            CropType
}

// DaysToWeeding is the signed day count from planting to weed removal.
func (p PhenologyInput) DaysToWeeding() int {
	return p.WeedRemovalDate.DaysSince(p.PlantingDate)
}

// GrowthStage is the fraction of the crop's growth duration elapsed at weed
// removal, clamped to [0,1]. Removal before planting counts as stage 0.
func (p PhenologyInput) GrowthStage() float64 {
	days := p.DaysToWeeding()
	if days < 0 {
		return 0
	}
	return clamp(float64(days)/float64(p.Crop.Profile().GrowthDurationDays), 0, 1)
}

// InteractionRisk is the host-plant interaction term: the crop factor scaled
// from 1.0 at stage 0 down to 0.5 at full growth.
func InteractionRisk(crop CropType, growthStage float64) float64 {
	return crop.Profile().InteractionFactor * ((1-growthStage)*0.5 + 0.5)
}

// SoilRisk maps fertility onto [0.5,1]; poorer soils score higher.
func SoilRisk(soilFertilityIndex float64) float64 {
	return (1-soilFertilityIndex)*0.5 + 0.5
}

// WeedingEffect is 0.8 when weeds are removed within 30 days of planting, in
// either direction, and 1.0 otherwise.
func WeedingEffect(p PhenologyInput) float64 {
	days := p.DaysToWeeding()
	if days < 0 {
		days = -days
	}
	if days < earlyWeedingDays {
		return earlyWeedingEffect
	}
	return 1
}

// RiskInputs gathers everything the composite score depends on. The three
// signals are normalized to [0,1]; NaN marks a signal that could not be
// obtained (e.g. a raster no-data cell).
type RiskInputs struct {
	Phenology          PhenologyInput
	SoilFertilityIndex float64
	RainfallIntensity  float64
	HabitatSuitability float64
	HistoricalPresence bool
}

// Score computes the composite Striga risk in [0,1]. It is NaN when any
// input signal is NaN.
func Score(in RiskInputs) float64 {
	if math.IsNaN(in.SoilFertilityIndex) || math.IsNaN(in.RainfallIntensity) || math.IsNaN(in.HabitatSuitability) {
		return math.NaN()
	}

	interaction := InteractionRisk(in.Phenology.Crop, in.Phenology.GrowthStage())
	soil := SoilRisk(in.SoilFertilityIndex)

	historical := 1.0
	if in.HistoricalPresence {
		historical = historicalModifier
	}
	rainfall := 1.0
	if in.RainfallIntensity > heavyRainfallCutover {
		rainfall = heavyRainfallEffect
	}

	overall := (in.HabitatSuitability + interaction + soil) * WeedingEffect(in.Phenology) * historical * rainfall / 3
	return clamp(overall, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// round rounds v to the given number of decimal digits, half away from zero.
func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
