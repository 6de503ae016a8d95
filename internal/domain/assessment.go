package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// RiskAssessmentResult is the scored outcome of one assessment. Score is NaN
// when a signal was missing, in which case the recommendation is empty.
type RiskAssessmentResult struct {
	Score          float64
	Recommendation Recommendation
}

// NewResult classifies score into a result.
func NewResult(score float64) RiskAssessmentResult {
	rec, _ := Classify(score)
	return RiskAssessmentResult{Score: score, Recommendation: rec}
}

// Defined reports whether the score could be computed.
func (r RiskAssessmentResult) Defined() bool {
	return !math.IsNaN(r.Score)
}

type resultJSON struct {
	ComputedRisk   *float64 `json:"computed_risk"`
	Recommendation *string  `json:"recommendation"`
}

// MarshalJSON emits {"computed_risk": 0.59, "recommendation": "Moderate
// risk: ..."}, the shape returned to calling systems. Undefined results
// serialize both fields as null.
func (r RiskAssessmentResult) MarshalJSON() ([]byte, error) {
	var out resultJSON
	if r.Defined() {
		score := round(r.Score, 2)
		text := r.Recommendation.Text()
		out = resultJSON{ComputedRisk: &score, Recommendation: &text}
	}
	return json.Marshal(out)
}

// ParsePhenology normalizes raw planting/weed-removal dates and a crop
// identifier.
func ParsePhenology(plantingDate, weedRemovalDate, crop string) (PhenologyInput, error) {
	planting, err := ParseDate(plantingDate)
	if err != nil {
		return PhenologyInput{}, fmt.Errorf("planting date: %w", err)
	}
	removal, err := ParseDate(weedRemovalDate)
	if err != nil {
		return PhenologyInput{}, fmt.Errorf("weed removal date: %w", err)
	}
	cropType, err := ParseCropType(crop)
	if err != nil {
		return PhenologyInput{}, err
	}
	return PhenologyInput{PlantingDate: planting, WeedRemovalDate: removal, Crop: cropType}, nil
}

// PointInput is the raw input of a single-point assessment whose rainfall
// intensity has already been derived.
type PointInput struct {
	PlantingDate       string
	WeedRemovalDate    string
	Crop               string
	Longitude          float64
	Latitude           float64
	RainfallIntensity  float64
	HistoricalPresence bool
}

// AssessPoint runs the whole scoring chain for one field: dates and crop are
// normalized, soil fertility and habitat suitability are sampled from band 1
// of their rasters, and the composite score is classified. A no-data cell
// yields an undefined result rather than an error.
func AssessPoint(in PointInput, soil, habitat Raster) (RiskAssessmentResult, error) {
	if err := ValidateCoordinate(in.Latitude, in.Longitude); err != nil {
		return RiskAssessmentResult{}, err
	}
	phenology, err := ParsePhenology(in.PlantingDate, in.WeedRemovalDate, in.Crop)
	if err != nil {
		return RiskAssessmentResult{}, err
	}
	soilSample, err := Sample(soil, in.Longitude, in.Latitude, 1)
	if err != nil {
		return RiskAssessmentResult{}, fmt.Errorf("soil fertility: %w", err)
	}
	habitatSample, err := Sample(habitat, in.Longitude, in.Latitude, 1)
	if err != nil {
		return RiskAssessmentResult{}, fmt.Errorf("habitat suitability: %w", err)
	}

	score := Score(RiskInputs{
		Phenology:          phenology,
		SoilFertilityIndex: soilSample.Float(),
		RainfallIntensity:  in.RainfallIntensity,
		HabitatSuitability: habitatSample.Float(),
		HistoricalPresence: in.HistoricalPresence,
	})
	return NewResult(score), nil
}

// AssessmentRequest is the wire form of an assessment request, as received
// over HTTP or from the request topic.
type AssessmentRequest struct {
	PlantingDate       string   `json:"planting_date"`
	WeedRemovalDate    string   `json:"weed_removal_date"`
	ObservationDate    string   `json:"observation_date,omitempty"`
	CropType           string   `json:"crop_type"`
	Latitude           float64  `json:"latitude"`
	Longitude          float64  `json:"longitude"`
	HistoricalPresence Presence `json:"historical_presence"`
}

// Signals are the normalized environmental inputs of a score; nil marks a
// signal that was unavailable.
type Signals struct {
	SoilFertilityIndex *float64 `json:"soil_fertility_index"`
	HabitatSuitability *float64 `json:"habitat_suitability"`
	RainfallIntensity  *float64 `json:"rainfall_intensity"`
}

// NewSignals converts NaN-marked floats into optional values.
func NewSignals(soil, habitat, rainfall float64) Signals {
	return Signals{
		SoilFertilityIndex: optional(soil),
		HabitatSuitability: optional(habitat),
		RainfallIntensity:  optional(rainfall),
	}
}

// AssessmentRecord is the full, persisted form of an assessment.
type AssessmentRecord struct {
	ID              string            `json:"id"`
	Request         AssessmentRequest `json:"request"`
	Crop            CropType          `json:"crop"`
	PlantingDate    CalendarDate      `json:"planting_date"`
	WeedRemovalDate CalendarDate      `json:"weed_removal_date"`
	ObservationDate CalendarDate      `json:"observation_date"`
	RainfallWindow  Window            `json:"rainfall_window"`
	GrowthStage     float64           `json:"growth_stage"`
	Signals         Signals           `json:"signals"`
	ComputedRisk    *float64          `json:"computed_risk"`
	Tier            *Tier             `json:"tier"`
	TierLabel       string            `json:"tier_label,omitempty"`
	Recommendation  string            `json:"recommendation,omitempty"`
	AssessedAt      time.Time         `json:"assessed_at"`
}

// MarshalJSON renders the window bounds as plain dates.
func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start CalendarDate `json:"start"`
		End   CalendarDate `json:"end"`
	}{w.Start, w.End})
}

func (w *Window) UnmarshalJSON(data []byte) error {
	var aux struct {
		Start CalendarDate `json:"start"`
		End   CalendarDate `json:"end"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	w.Start, w.End = aux.Start, aux.End
	return nil
}

// ApplyResult copies the score and advisory of res onto the record.
func (a *AssessmentRecord) ApplyResult(res RiskAssessmentResult) {
	a.ComputedRisk = nil
	a.Tier = nil
	a.TierLabel = ""
	a.Recommendation = ""
	if !res.Defined() {
		return
	}
	score := round(res.Score, 3)
	tier := res.Recommendation.Tier
	a.ComputedRisk = &score
	a.Tier = &tier
	a.TierLabel = res.Recommendation.Label
	a.Recommendation = res.Recommendation.Advice
}

// Result rebuilds the scored result stored on the record. The advisory comes
// from the stored tier, which was classified on the unrounded score.
func (a AssessmentRecord) Result() RiskAssessmentResult {
	if a.ComputedRisk == nil {
		return RiskAssessmentResult{Score: math.NaN()}
	}
	if a.Tier != nil {
		if rec, ok := RecommendationFor(*a.Tier); ok {
			return RiskAssessmentResult{Score: *a.ComputedRisk, Recommendation: rec}
		}
	}
	return NewResult(*a.ComputedRisk)
}

// AssessmentID produces a deterministic ID from the normalized request so
// replays of the same request upsert the same row.
func AssessmentID(crop CropType, planting, removal, observation CalendarDate, lat, lon float64, historical bool) string {
	input := fmt.Sprintf("%s|%s|%s|%s|%.5f|%.5f|%t", crop, planting, removal, observation, lat, lon, historical)
	hash := sha256.Sum256([]byte(input))
	return "assess-" + hex.EncodeToString(hash[:8])
}

func optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
