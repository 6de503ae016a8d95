// Command validate performs integrity checks across the mock data used by the
// service: the two raster layers, the weather archive fixture, and the
// assessment requests. It verifies georeferencing, value ranges, sampling
// consistency, series continuity, and end-to-end scoring.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -soil data/raster/soil_fertility_index.tif \
//	  -habitat data/raster/habitat_suitability.tif \
//	  -weather data/mock/openmeteo_rain_sum.json \
//	  -requests data/mock/assessment_requests.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/couchcryptid/striga-risk/internal/adapter/geotiff"
	"github.com/couchcryptid/striga-risk/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReported caps the detailed errors printed per phase.
const maxReported = 25

func main() {
	soilPath := flag.String("soil", "data/raster/soil_fertility_index.tif", "soil fertility GeoTIFF")
	habitatPath := flag.String("habitat", "data/raster/habitat_suitability.tif", "habitat suitability GeoTIFF")
	weatherPath := flag.String("weather", "data/mock/openmeteo_rain_sum.json", "Open-Meteo archive response fixture")
	requestsPath := flag.String("requests", "data/mock/assessment_requests.json", "assessment requests fixture")
	flag.Parse()

	os.Exit(run(*soilPath, *habitatPath, *weatherPath, *requestsPath))
}

func run(soilPath, habitatPath, weatherPath, requestsPath string) int {
	// ── Load all data sources ──
	fmt.Println("=== Striga Data Integrity Validation ===")
	fmt.Println()

	soil, err := geotiff.Open(soilPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open soil raster: %v\n", err)
		return 1
	}
	habitat, err := geotiff.Open(habitatPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open habitat raster: %v\n", err)
		return 1
	}
	archive, err := loadArchive(weatherPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load weather fixture: %v\n", err)
		return 1
	}
	var requests []domain.AssessmentRequest
	if err := loadJSON(requestsPath, &requests); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load requests: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	series, seriesPhase := validateWeather(archive)
	phases := []*phase{
		validateRaster("Phase 1a: Soil Fertility Raster", soil),
		validateRaster("Phase 1b: Habitat Suitability Raster", habitat),
		validateGridAlignment(soil, habitat),
		seriesPhase,
		validateAssessments(requests, series, soil, habitat),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	w, h := soil.Size()
	fmt.Println()
	fmt.Printf("Inputs: %dx%d rasters, %d weather days, %d requests\n", w, h, len(series), len(requests))

	// Print detailed errors.
	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors[:min(len(p.errors), maxReported)] {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
		if len(p.errors) > maxReported {
			fmt.Printf("  ... %d more\n", len(p.errors)-maxReported)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

type archiveFixture struct {
	Daily struct {
		Time    []string   `json:"time"`
		RainSum []*float64 `json:"rain_sum"`
	} `json:"daily"`
}

func loadArchive(path string) (archiveFixture, error) {
	var a archiveFixture
	err := loadJSON(path, &a)
	return a, err
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ── Phase 1: Raster Integrity ──
// Every cell is no-data or a normalized index in [0, 1], and sampling a
// pixel center returns that pixel rounded to three decimals.

func validateRaster(name string, r *geotiff.Raster) *phase {
	p := &phase{name: name}

	if r.CRS() == "" {
		p.errorf("%s: no CRS", r.Path())
	}
	if r.BandCount() < 1 {
		p.errorf("%s: no bands", r.Path())
		return p
	}
	nodata, hasNoData := r.NoData()
	w, h := r.Size()
	t := r.Transform()

	var valid int
	for row := range h {
		for col := range w {
			v, err := r.ReadPixel(1, row, col)
			if err != nil {
				p.errorf("read (%d,%d): %v", row, col, err)
				return p
			}
			if (hasNoData && v == nodata) || math.IsNaN(v) {
				continue
			}
			valid++
			if v < 0 || v > 1 {
				p.errorf("pixel (%d,%d) = %g outside [0, 1]", row, col, v)
			}

			x, y := t.Apply(float64(col)+0.5, float64(row)+0.5)
			s, err := domain.Sample(r, x, y, 1)
			if err != nil {
				p.errorf("sample pixel center (%d,%d): %v", row, col, err)
				continue
			}
			if want := math.Round(v*1000) / 1000; !s.Valid || s.Value != want {
				p.errorf("sample pixel center (%d,%d) = %v, want %g", row, col, s, want)
			}
		}
	}
	if valid == 0 {
		p.errorf("%s: every cell is no-data", r.Path())
	}
	return p
}

// ── Phase 2: Grid Alignment ──
// Both layers must share one grid so a field resolves to the same cell.

func validateGridAlignment(soil, habitat *geotiff.Raster) *phase {
	p := &phase{name: "Phase 2: Grid Alignment"}
	if soil.CRS() != habitat.CRS() {
		p.errorf("CRS: soil=%s, habitat=%s", soil.CRS(), habitat.CRS())
	}
	sw, sh := soil.Size()
	hw, hh := habitat.Size()
	if sw != hw || sh != hh {
		p.errorf("size: soil=%dx%d, habitat=%dx%d", sw, sh, hw, hh)
	}
	if soil.Transform() != habitat.Transform() {
		p.errorf("transform: soil=%+v, habitat=%+v", soil.Transform(), habitat.Transform())
	}
	return p
}

// ── Phase 3: Weather Series ──
// Dates are valid, contiguous and paired with a value; amounts are
// non-negative.

func validateWeather(a archiveFixture) (domain.RainfallSeries, *phase) {
	p := &phase{name: "Phase 3: Weather Series"}
	if len(a.Daily.Time) != len(a.Daily.RainSum) {
		p.errorf("%d dates but %d values", len(a.Daily.Time), len(a.Daily.RainSum))
		return nil, p
	}
	series := make(domain.RainfallSeries, 0, len(a.Daily.Time))
	var missing int
	for i, s := range a.Daily.Time {
		d, err := domain.ParseDate(s)
		if err != nil {
			p.errorf("day %d: %v", i, err)
			continue
		}
		if n := len(series); n > 0 && d != series[n-1].Date.AddDays(1) {
			p.errorf("day %d: %s does not follow %s", i, d, series[n-1].Date)
		}
		amount := math.NaN()
		if v := a.Daily.RainSum[i]; v != nil {
			amount = *v
			if amount < 0 {
				p.errorf("day %s: negative rainfall %g", d, amount)
			}
		} else {
			missing++
		}
		series = append(series, domain.Observation{Date: d, Amount: amount})
	}
	if len(series) > 0 && missing*4 > len(series) {
		p.errorf("%d of %d days missing", missing, len(series))
	}
	return series, p
}

// ── Phase 4: Assessments ──
// Every request scores deterministically, classifications agree with the
// score, and only fields on no-data cells come back undefined.

func validateAssessments(requests []domain.AssessmentRequest, series domain.RainfallSeries, soil, habitat domain.Raster) *phase {
	p := &phase{name: "Phase 4: Assessments"}
	for i, req := range requests {
		label := fmt.Sprintf("request %d (%.2f, %.2f)", i, req.Latitude, req.Longitude)

		planting, err := domain.ParseDate(req.PlantingDate)
		if err != nil {
			p.errorf("%s: %v", label, err)
			continue
		}
		observation, err := domain.ParseDate(req.ObservationDate)
		if err != nil {
			p.errorf("%s: observation date: %v", label, err)
			continue
		}
		window := domain.RainfallWindow(observation, planting)
		if window.Days() < 32 {
			p.errorf("%s: window %s..%s shorter than 32 days", label, window.Start, window.End)
		}
		rii, err := domain.ComputeRII(series.Between(window.Start, window.End))
		if err != nil {
			p.errorf("%s: %v", label, err)
			continue
		}

		in := domain.PointInput{
			PlantingDate:       req.PlantingDate,
			WeedRemovalDate:    req.WeedRemovalDate,
			Crop:               req.CropType,
			Longitude:          req.Longitude,
			Latitude:           req.Latitude,
			RainfallIntensity:  rii,
			HistoricalPresence: bool(req.HistoricalPresence),
		}
		first, err := domain.AssessPoint(in, soil, habitat)
		if err != nil {
			p.errorf("%s: %v", label, err)
			continue
		}
		second, err := domain.AssessPoint(in, soil, habitat)
		if err != nil || math.Float64bits(first.Score) != math.Float64bits(second.Score) {
			p.errorf("%s: scoring is not deterministic", label)
		}

		if !first.Defined() {
			soilCell, _ := domain.Sample(soil, req.Longitude, req.Latitude, 1)
			habitatCell, _ := domain.Sample(habitat, req.Longitude, req.Latitude, 1)
			if soilCell.Valid && habitatCell.Valid {
				p.errorf("%s: undefined score on valid cells", label)
			}
			continue
		}
		if first.Score < 0 {
			p.errorf("%s: negative score %g", label, first.Score)
		}
		if rec, ok := domain.Classify(first.Score); !ok || rec != first.Recommendation {
			p.errorf("%s: tier %q does not match score %g", label, first.Recommendation.Label, first.Score)
		}
	}
	return p
}
