package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/striga-risk/internal/assessment"
	"github.com/couchcryptid/striga-risk/internal/domain"
)

type assessOptions struct {
	planting    string
	weedRemoval string
	observation string
	crop        string
	lat, lon    float64
	historical  string
	rii         float64
	full        bool
}

func newAssessCmd(a *app) *cobra.Command {
	var o assessOptions
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score the Striga risk of one field",
		Long: `Assess samples both raster layers at the field, derives the rainfall
intensity index from the weather archive (unless --rii is given), and prints
{"computed_risk": ..., "recommendation": ...}. Both are null when a raster
cell holds no data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			presence, err := domain.ParsePresence(o.historical)
			if err != nil {
				return err
			}
			soil, habitat, err := a.openRasters()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("rii") {
				res, err := domain.AssessPoint(domain.PointInput{
					PlantingDate:       o.planting,
					WeedRemovalDate:    o.weedRemoval,
					Crop:               o.crop,
					Longitude:          o.lon,
					Latitude:           o.lat,
					RainfallIntensity:  o.rii,
					HistoricalPresence: bool(presence),
				}, soil, habitat)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			}

			logger := a.logger(cmd.ErrOrStderr())
			svc := assessment.NewService(soil, habitat, a.weatherClient(logger), a.v.GetString(keyWeatherVar),
				a.metrics, logger)
			rec, err := svc.Assess(cmd.Context(), domain.AssessmentRequest{
				PlantingDate:       o.planting,
				WeedRemovalDate:    o.weedRemoval,
				ObservationDate:    o.observation,
				CropType:           o.crop,
				Latitude:           o.lat,
				Longitude:          o.lon,
				HistoricalPresence: presence,
			})
			if err != nil {
				return fmt.Errorf("assess: %w", err)
			}
			if o.full {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			return writeJSON(cmd.OutOrStdout(), rec.Result())
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.planting, "planting", "", "planting date (YYYY-MM-DD or ISO-8601)")
	f.StringVar(&o.weedRemoval, "weed-removal", "", "weed removal date")
	f.StringVar(&o.observation, "observation", "", "observation date (default today)")
	f.StringVar(&o.crop, "crop", "maize", "crop type (maize or sorghum)")
	f.Float64Var(&o.lat, "lat", 0, "field latitude")
	f.Float64Var(&o.lon, "lon", 0, "field longitude")
	f.StringVar(&o.historical, "historical", "no", "Striga seen on this field before (yes or no)")
	f.Float64Var(&o.rii, "rii", 0, "precomputed rainfall intensity index; skips the weather archive")
	f.BoolVar(&o.full, "full", false, "print the full assessment record")
	for _, name := range []string{"planting", "weed-removal", "lat", "lon"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}
