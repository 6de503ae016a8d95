package main

import (
	"github.com/spf13/cobra"

	"github.com/couchcryptid/striga-risk/internal/adapter/geotiff"
	"github.com/couchcryptid/striga-risk/internal/domain"
)

type sampleOutput struct {
	Raster string   `json:"raster"`
	CRS    string   `json:"crs"`
	Band   int      `json:"band"`
	Value  *float64 `json:"value"`
}

func newSampleCmd(a *app) *cobra.Command {
	var (
		raster   string
		lat, lon float64
		band     int
	)
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Read one raster value at a coordinate",
		Long: `Sample prints the value of the raster cell containing the point, rounded
to three decimals, or null when the cell holds the no-data sentinel. The
raster defaults to the configured habitat suitability layer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if raster == "" {
				raster = a.v.GetString(keyHabitatRaster)
			}
			r, err := geotiff.Open(raster)
			if err != nil {
				return err
			}
			s, err := domain.Sample(r, lon, lat, band)
			if err != nil {
				return err
			}
			out := sampleOutput{Raster: r.Path(), CRS: r.CRS(), Band: band}
			if s.Valid {
				out.Value = &s.Value
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	f := cmd.Flags()
	f.StringVar(&raster, "raster", "", "GeoTIFF to sample")
	f.Float64Var(&lat, "lat", 0, "latitude")
	f.Float64Var(&lon, "lon", 0, "longitude")
	f.IntVar(&band, "band", 1, "1-based band index")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lon")
	return cmd
}
