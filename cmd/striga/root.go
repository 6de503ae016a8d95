package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/couchcryptid/striga-risk/internal/adapter/geotiff"
	"github.com/couchcryptid/striga-risk/internal/adapter/openmeteo"
	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
)

// Setting keys shared by the subcommands.
const (
	keySoilRaster     = "soil-raster"
	keyHabitatRaster  = "habitat-raster"
	keyAPIKey         = "openmeteo-api-key"
	keyBaseURL        = "openmeteo-base-url"
	keyTimeout        = "openmeteo-timeout"
	keyRetries        = "openmeteo-retries"
	keyWeatherVar     = "weather-variable"
	keyLogLevel       = "log-level"
	defaultConfigName = "striga"
)

// app carries the resolved settings into subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	metrics *observability.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), metrics: observability.NewUnregisteredMetrics()}

	root := &cobra.Command{
		Use:   "striga",
		Short: "Striga weed risk scoring",
		Long: `Striga scores the risk of Striga weed infestation for a field from its
crop, planting and weeding dates, soil fertility, habitat suitability and
recent rainfall intensity.

Examples:
  striga assess --crop maize --planting 2024-04-09 --weed-removal 2024-05-19 --lat -9.6 --lon 33.78
  striga assess --crop sorghum --planting 2024-03-01 --weed-removal 2024-03-20 --lat -10.2 --lon 34.1 --rii 0.42
  striga sample --raster data/raster/habitat_suitability.tif --lat -9.6 --lon 33.78
  striga rii --values 0,0,1.2,5,0,14,3`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default ./striga.yaml)")
	pf.String(keySoilRaster, "data/raster/soil_fertility_index.tif", "soil fertility index GeoTIFF")
	pf.String(keyHabitatRaster, "data/raster/habitat_suitability.tif", "habitat suitability GeoTIFF")
	pf.String(keyAPIKey, "", "Open-Meteo customer API key")
	pf.String(keyBaseURL, "", "Open-Meteo archive URL (default depends on the API key)")
	pf.Duration(keyTimeout, 10*time.Second, "weather request timeout")
	pf.Int(keyRetries, 5, "weather request retries")
	pf.String(keyWeatherVar, domain.RainfallVariable, "daily weather variable for the rainfall index")
	pf.String(keyLogLevel, "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newAssessCmd(a), newSampleCmd(a), newRIICmd(a))
	return root
}

// loadConfig binds flags, STRIGA_* environment variables and the optional
// config file into the app's viper instance.
func (a *app) loadConfig(cmd *cobra.Command) error {
	a.v.SetEnvPrefix("STRIGA")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.SetConfigName(defaultConfigName)
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func (a *app) logger(w io.Writer) *slog.Logger {
	return observability.NewLogger(w, a.v.GetString(keyLogLevel), "text")
}

func (a *app) openRasters() (soil, habitat *geotiff.Raster, err error) {
	soil, err = geotiff.Open(a.v.GetString(keySoilRaster))
	if err != nil {
		return nil, nil, err
	}
	habitat, err = geotiff.Open(a.v.GetString(keyHabitatRaster))
	if err != nil {
		return nil, nil, err
	}
	return soil, habitat, nil
}

func (a *app) weatherClient(logger *slog.Logger) *openmeteo.Client {
	apiKey := a.v.GetString(keyAPIKey)
	baseURL := a.v.GetString(keyBaseURL)
	if baseURL == "" {
		baseURL = openmeteo.DefaultBaseURL(apiKey)
	}
	return openmeteo.NewClient(apiKey, baseURL, a.v.GetDuration(keyTimeout), a.v.GetInt(keyRetries),
		a.metrics, logger)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
