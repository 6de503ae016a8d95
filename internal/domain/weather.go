package domain

import "context"

// RainfallVariable is the daily archive variable used for the RII.
const RainfallVariable = "rain_sum"

// WeatherArchive serves historical daily weather series.
type WeatherArchive interface {
	// FetchDaily returns the daily values of variable at (lat, lon) for every
	// day in [start, end], in date order.
	FetchDaily(ctx context.Context, variable string, lat, lon float64, start, end CalendarDate) (RainfallSeries, error)
}
