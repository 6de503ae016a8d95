// Command genmock generates mock fixtures for local runs and the integration
// suites: soil-fertility and habitat-suitability GeoTIFFs, an Open-Meteo
// archive response, and a set of assessment requests. It scores the requests
// with the domain package so the printed stats match real service behavior.
//
// Usage:
//
//	go run ./cmd/genmock -out-dir data
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"

	"github.com/couchcryptid/striga-risk/internal/adapter/geotiff"
	"github.com/couchcryptid/striga-risk/internal/domain"
)

// Mock extent: 32–36°E, 8–12°S at 0.05°, covering the southern highlands
// maize belt.
const (
	originX   = 32.0
	originY   = -8.0
	pixelSize = 0.05
	width     = 80
	height    = 80
	noData    = -9999.0
)

var (
	seasonStart = domain.MustParseDate("2024-01-01")
	seasonEnd   = domain.MustParseDate("2024-07-31")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out-dir", "data", "directory to write fixtures under")
	seed := flag.Uint64("seed", 2024, "seed for the mock rainfall series")
	flag.Parse()

	soil := grid(func(x, y float64) float64 {
		return 0.55 + 0.3*math.Sin(x*1.3)*math.Cos(y*0.9)
	})
	habitat := grid(func(x, y float64) float64 {
		return 0.5 + 0.35*math.Cos(x*0.7+y*1.1)
	})

	opts := geotiff.EncodeOptions{
		Transform:   domain.GeoTransform{OriginX: originX, PixelWidth: pixelSize, OriginY: originY, PixelHeight: -pixelSize},
		EPSG:        4326,
		NoData:      ptr(noData),
		Compression: geotiff.Deflate,
	}
	soilPath := filepath.Join(*outDir, "raster", "soil_fertility_index.tif")
	habitatPath := filepath.Join(*outDir, "raster", "habitat_suitability.tif")
	if err := geotiff.WriteFile(soilPath, soil, opts); err != nil {
		return fmt.Errorf("writing soil raster: %w", err)
	}
	log.Printf("wrote %s (%dx%d)", soilPath, width, height)
	if err := geotiff.WriteFile(habitatPath, habitat, opts); err != nil {
		return fmt.Errorf("writing habitat raster: %w", err)
	}
	log.Printf("wrote %s (%dx%d)", habitatPath, width, height)

	series := rainfall(rand.New(rand.NewPCG(*seed, *seed>>1)))
	weatherPath := filepath.Join(*outDir, "mock", "openmeteo_rain_sum.json")
	if err := writeJSON(weatherPath, archiveResponse(series)); err != nil {
		return fmt.Errorf("writing weather fixture: %w", err)
	}
	log.Printf("wrote %s (%d days)", weatherPath, len(series))

	requests := mockRequests()
	requestsPath := filepath.Join(*outDir, "mock", "assessment_requests.json")
	if err := writeJSON(requestsPath, requests); err != nil {
		return fmt.Errorf("writing requests fixture: %w", err)
	}
	log.Printf("wrote %s (%d requests)", requestsPath, len(requests))

	soilRaster, err := geotiff.Open(soilPath)
	if err != nil {
		return err
	}
	habitatRaster, err := geotiff.Open(habitatPath)
	if err != nil {
		return err
	}
	printStats(requests, series, soilRaster, habitatRaster)
	return nil
}

// grid samples f at pixel centers. A lake in the north-east corner is no-data.
func grid(f func(x, y float64) float64) geotiff.Grid {
	band := make([]float64, width*height)
	for row := range height {
		for col := range width {
			x := originX + (float64(col)+0.5)*pixelSize
			y := originY - (float64(row)+0.5)*pixelSize
			if math.Hypot((x-35.2)/0.5, (y+9.2)/1.0) < 1 {
				band[row*width+col] = noData
				continue
			}
			band[row*width+col] = math.Max(0, math.Min(1, f(x, y)))
		}
	}
	return geotiff.Grid{Width: width, Height: height, Bands: [][]float64{band}}
}

// rainfall draws a wet season (Dec–Apr) of exponential storms followed by a
// mostly dry tail. Roughly one day in twenty is missing.
func rainfall(rng *rand.Rand) domain.RainfallSeries {
	var out domain.RainfallSeries
	for d := seasonStart; !d.After(seasonEnd); d = d.AddDays(1) {
		wet := d.Month <= 4
		amount := 0.0
		switch {
		case rng.Float64() < 0.05:
			amount = math.NaN()
		case wet && rng.Float64() < 0.55:
			amount = math.Round(rng.ExpFloat64()*9*10) / 10
		case !wet && rng.Float64() < 0.08:
			amount = math.Round(rng.ExpFloat64()*3*10) / 10
		}
		out = append(out, domain.Observation{Date: d, Amount: amount})
	}
	return out
}

type archiveDaily struct {
	Time    []string   `json:"time"`
	RainSum []*float64 `json:"rain_sum"`
}

func archiveResponse(series domain.RainfallSeries) map[string]any {
	daily := archiveDaily{}
	for _, o := range series {
		daily.Time = append(daily.Time, o.Date.String())
		if math.IsNaN(o.Amount) {
			daily.RainSum = append(daily.RainSum, nil)
			continue
		}
		daily.RainSum = append(daily.RainSum, ptr(o.Amount))
	}
	return map[string]any{
		"latitude":    -10,
		"longitude":   34,
		"timezone":    "Africa/Dar_es_Salaam",
		"daily_units": map[string]string{"time": "iso8601", "rain_sum": "mm"},
		"daily":       daily,
	}
}

// mockRequests lays fields on a coarse lattice across the extent, alternating
// crops, planting dates and presence flags. One field sits in the lake.
func mockRequests() []domain.AssessmentRequest {
	plantings := []struct{ planting, removal string }{
		{"2024-01-05", "2024-01-25"},
		{"2024-02-01", "2024-03-20"},
		{"2024-03-10T07:30:00+03:00", "2024-04-15"},
	}
	crops := []string{"maize", "sorghum"}
	var out []domain.AssessmentRequest
	i := 0
	for lat := -8.25; lat >= -11.75; lat -= 0.5 {
		for lon := 32.25; lon <= 35.75; lon += 0.5 {
			p := plantings[i%len(plantings)]
			out = append(out, domain.AssessmentRequest{
				PlantingDate:       p.planting,
				WeedRemovalDate:    p.removal,
				ObservationDate:    "2024-05-15",
				CropType:           crops[i%len(crops)],
				Latitude:           lat,
				Longitude:          lon,
				HistoricalPresence: domain.Presence(i%3 == 0),
			})
			i++
		}
	}
	return append(out, domain.AssessmentRequest{
		PlantingDate: "2024-02-01", WeedRemovalDate: "2024-03-01", ObservationDate: "2024-05-15",
		CropType: "maize", Latitude: -9.2, Longitude: 35.2,
	})
}

func printStats(requests []domain.AssessmentRequest, series domain.RainfallSeries, soil, habitat domain.Raster) {
	tiers := map[string]int{}
	var scores []float64
	for _, req := range requests {
		planting, err := domain.ParseDate(req.PlantingDate)
		if err != nil {
			log.Printf("skip %v: %v", req, err)
			continue
		}
		window := domain.RainfallWindow(domain.MustParseDate(req.ObservationDate), planting)
		rii, err := domain.ComputeRII(series.Between(window.Start, window.End))
		if err != nil {
			tiers["insufficient data"]++
			continue
		}
		res, err := domain.AssessPoint(domain.PointInput{
			PlantingDate:       req.PlantingDate,
			WeedRemovalDate:    req.WeedRemovalDate,
			Crop:               req.CropType,
			Longitude:          req.Longitude,
			Latitude:           req.Latitude,
			RainfallIntensity:  rii,
			HistoricalPresence: bool(req.HistoricalPresence),
		}, soil, habitat)
		if err != nil {
			tiers["error"]++
			continue
		}
		if !res.Defined() {
			tiers["undefined"]++
			continue
		}
		tiers[res.Recommendation.Label]++
		scores = append(scores, res.Score)
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Requests: %d\n", len(requests))
	labels := make([]string, 0, len(tiers))
	for l := range tiers {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		fmt.Printf("  %s: %d\n", l, tiers[l])
	}
	if len(scores) > 0 {
		sort.Float64s(scores)
		fmt.Printf("Score range: %.3f .. %.3f (median %.3f)\n", scores[0], scores[len(scores)-1], scores[len(scores)/2])
	}
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func ptr(v float64) *float64 { return &v }
