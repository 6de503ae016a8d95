// Package assessment runs complete Striga risk assessments: it resolves the
// environmental signals for a field from the raster layers and the weather
// archive, scores them, and builds the persisted record.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
)

// ErrWeatherUnavailable wraps failures of the weather archive.
var ErrWeatherUnavailable = errors.New("weather archive unavailable")

const (
	layerSoilFertility      = "soil_fertility"
	layerHabitatSuitability = "habitat_suitability"
)

// Service assesses fields against one pair of raster layers and a weather
// archive. It is safe for concurrent use when its collaborators are.
type Service struct {
	soil     domain.Raster
	habitat  domain.Raster
	weather  domain.WeatherArchive
	variable string
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService creates an assessment service. variable names the daily weather
// series the rainfall intensity index is computed from.
func NewService(soil, habitat domain.Raster, weather domain.WeatherArchive, variable string, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if variable == "" {
		variable = domain.RainfallVariable
	}
	return &Service{
		soil:     soil,
		habitat:  habitat,
		weather:  weather,
		variable: variable,
		metrics:  metrics,
		logger:   logger,
	}
}

// Assess runs one request end to end. A no-data raster cell is not an error:
// the record is returned with a null score and no tier.
func (s *Service) Assess(ctx context.Context, req domain.AssessmentRequest) (domain.AssessmentRecord, error) {
	start := time.Now()
	defer func() { s.metrics.AssessmentDuration.Observe(time.Since(start).Seconds()) }()

	if err := domain.ValidateCoordinate(req.Latitude, req.Longitude); err != nil {
		return domain.AssessmentRecord{}, s.fail(err)
	}
	phenology, err := domain.ParsePhenology(req.PlantingDate, req.WeedRemovalDate, req.CropType)
	if err != nil {
		return domain.AssessmentRecord{}, s.fail(err)
	}
	observation := domain.Today()
	if req.ObservationDate != "" {
		if observation, err = domain.ParseDate(req.ObservationDate); err != nil {
			return domain.AssessmentRecord{}, s.fail(fmt.Errorf("observation date: %w", err))
		}
	}

	soil, err := s.sample(layerSoilFertility, s.soil, req.Longitude, req.Latitude)
	if err != nil {
		return domain.AssessmentRecord{}, s.fail(err)
	}
	habitat, err := s.sample(layerHabitatSuitability, s.habitat, req.Longitude, req.Latitude)
	if err != nil {
		return domain.AssessmentRecord{}, s.fail(err)
	}

	window := domain.RainfallWindow(observation, phenology.PlantingDate)
	series, err := s.weather.FetchDaily(ctx, s.variable, req.Latitude, req.Longitude, window.Start, window.End)
	if err != nil {
		return domain.AssessmentRecord{}, s.fail(fmt.Errorf("%w: %w", ErrWeatherUnavailable, err))
	}
	rii, err := domain.ComputeRII(series)
	if err != nil {
		return domain.AssessmentRecord{}, s.fail(fmt.Errorf("rainfall window %s..%s: %w", window.Start, window.End, err))
	}
	s.metrics.RainfallIntensity.Observe(rii)

	result := domain.NewResult(domain.Score(domain.RiskInputs{
		Phenology:          phenology,
		SoilFertilityIndex: soil.Float(),
		RainfallIntensity:  rii,
		HabitatSuitability: habitat.Float(),
		HistoricalPresence: bool(req.HistoricalPresence),
	}))

	record := domain.AssessmentRecord{
		ID: domain.AssessmentID(phenology.Crop, phenology.PlantingDate, phenology.WeedRemovalDate, observation,
			req.Latitude, req.Longitude, bool(req.HistoricalPresence)),
		Request:         req,
		Crop:            phenology.Crop,
		PlantingDate:    phenology.PlantingDate,
		WeedRemovalDate: phenology.WeedRemovalDate,
		ObservationDate: observation,
		RainfallWindow:  window,
		GrowthStage:     math.Round(phenology.GrowthStage()*1000) / 1000,
		Signals:         domain.NewSignals(soil.Float(), habitat.Float(), rii),
		AssessedAt:      domain.Now(),
	}
	record.ApplyResult(result)

	tier := tierLabel(result)
	s.metrics.Assessments.WithLabelValues(tier).Inc()
	if result.Defined() {
		s.metrics.RiskScore.Observe(result.Score)
	}
	s.logger.Info("assessment completed",
		"assessment_id", record.ID,
		"crop", phenology.Crop.String(),
		"lat", req.Latitude,
		"lon", req.Longitude,
		"rii", rii,
		"tier", tier,
	)
	return record, nil
}

func (s *Service) sample(layer string, r domain.Raster, lon, lat float64) (domain.RasterSample, error) {
	sample, err := domain.Sample(r, lon, lat, 1)
	switch {
	case err != nil:
		s.metrics.RasterSamples.WithLabelValues(layer, "error").Inc()
		return domain.RasterSample{}, fmt.Errorf("%s: %w", layer, err)
	case !sample.Valid:
		s.metrics.RasterSamples.WithLabelValues(layer, "nodata").Inc()
		s.logger.Debug("raster cell has no data", "layer", layer, "lat", lat, "lon", lon)
	default:
		s.metrics.RasterSamples.WithLabelValues(layer, "value").Inc()
	}
	return sample, nil
}

func (s *Service) fail(err error) error {
	reason := FailureReason(err)
	s.metrics.AssessmentFailures.WithLabelValues(reason).Inc()
	s.logger.Warn("assessment failed", "reason", reason, "error", err)
	return err
}

// FailureReason buckets an assessment error for metrics and status mapping.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidDateFormat),
		errors.Is(err, domain.ErrInvalidCoordinate),
		errors.Is(err, domain.ErrUnknownCropType),
		errors.Is(err, domain.ErrInvalidPresence):
		return "invalid_input"
	case errors.Is(err, domain.ErrPointOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, domain.ErrInsufficientData):
		return "insufficient_data"
	case errors.Is(err, ErrWeatherUnavailable):
		return "weather"
	case errors.Is(err, domain.ErrMissingCRS),
		errors.Is(err, domain.ErrBandOutOfRange),
		errors.Is(err, domain.ErrUnsupportedFormat),
		errors.Is(err, domain.ErrResourceNotFound):
		return "raster"
	default:
		return "internal"
	}
}

func tierLabel(res domain.RiskAssessmentResult) string {
	if !res.Defined() {
		return "undefined"
	}
	switch res.Recommendation.Tier {
	case domain.TierHigh:
		return "high"
	case domain.TierModerate:
		return "moderate"
	default:
		return "low"
	}
}
