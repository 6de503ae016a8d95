package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/striga-risk/internal/domain"
)

type riiOutput struct {
	RainfallIntensity float64        `json:"rainfall_intensity"`
	Days              int            `json:"days"`
	Window            *domain.Window `json:"window,omitempty"`
}

func newRIICmd(a *app) *cobra.Command {
	var (
		values      []float64
		lat, lon    float64
		planting    string
		observation string
	)
	cmd := &cobra.Command{
		Use:   "rii",
		Short: "Compute a rainfall intensity index",
		Long: `RII computes the rainfall intensity index from explicit daily values
(--values) or from the weather archive for a field (--lat, --lon), using the
window ending at the observation date and starting at planting when planting
is more than 31 days earlier.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(values) > 0 {
				series := make(domain.RainfallSeries, len(values))
				for i, v := range values {
					series[i] = domain.Observation{Amount: v}
				}
				rii, err := domain.ComputeRII(series)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), riiOutput{RainfallIntensity: rii, Days: len(values)})
			}

			if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
				return errors.New("either --values or both --lat and --lon are required")
			}
			obs := domain.Today()
			if observation != "" {
				d, err := domain.ParseDate(observation)
				if err != nil {
					return err
				}
				obs = d
			}
			var plantedOn domain.CalendarDate
			if planting != "" {
				d, err := domain.ParseDate(planting)
				if err != nil {
					return err
				}
				plantedOn = d
			}

			window := domain.RainfallWindow(obs, plantedOn)
			client := a.weatherClient(a.logger(cmd.ErrOrStderr()))
			series, err := client.FetchDaily(cmd.Context(), a.v.GetString(keyWeatherVar), lat, lon, window.Start, window.End)
			if err != nil {
				return err
			}
			rii, err := domain.ComputeRII(series)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), riiOutput{RainfallIntensity: rii, Days: len(series), Window: &window})
		},
	}
	f := cmd.Flags()
	f.Float64SliceVar(&values, "values", nil, "comma-separated daily rainfall values")
	f.Float64Var(&lat, "lat", 0, "latitude")
	f.Float64Var(&lon, "lon", 0, "longitude")
	f.StringVar(&planting, "planting", "", "planting date (optional)")
	f.StringVar(&observation, "observation", "", "observation date (default today)")
	return cmd
}
