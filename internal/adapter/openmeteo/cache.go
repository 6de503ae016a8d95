package openmeteo

import (
	"context"
	"fmt"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
)

// CachedArchive wraps a WeatherArchive with an in-memory LRU cache. Only
// complete series are cached: the archive publishes recent days with a lag,
// and a series holding null days would otherwise stay stale.
type CachedArchive struct {
	inner   domain.WeatherArchive
	cache   *lru.Cache[string, domain.RainfallSeries]
	metrics *observability.Metrics
}

// NewCachedArchive creates a cache decorator holding up to maxEntries series.
func NewCachedArchive(inner domain.WeatherArchive, maxEntries int, metrics *observability.Metrics) (*CachedArchive, error) {
	cache, err := lru.New[string, domain.RainfallSeries](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("weather cache: %w", err)
	}
	return &CachedArchive{inner: inner, cache: cache, metrics: metrics}, nil
}

func (c *CachedArchive) FetchDaily(ctx context.Context, variable string, lat, lon float64, start, end domain.CalendarDate) (domain.RainfallSeries, error) {
	key := cacheKey(variable, lat, lon, start, end)
	if series, ok := c.cache.Get(key); ok {
		c.metrics.WeatherCache.WithLabelValues("hit").Inc()
		return series, nil
	}
	c.metrics.WeatherCache.WithLabelValues("miss").Inc()

	series, err := c.inner.FetchDaily(ctx, variable, lat, lon, start, end)
	if err != nil {
		return nil, err
	}
	if complete(series, start, end) {
		c.cache.Add(key, series)
	}
	return series, nil
}

// cacheKey formats coordinates the way the client sends them, so distinct
// request points never share an entry.
func cacheKey(variable string, lat, lon float64, start, end domain.CalendarDate) string {
	return fmt.Sprintf("%s|%s,%s|%s|%s", variable,
		strconv.FormatFloat(lat, 'f', -1, 64), strconv.FormatFloat(lon, 'f', -1, 64), start, end)
}

// complete reports whether series has a published value for every day of
// [start, end].
func complete(series domain.RainfallSeries, start, end domain.CalendarDate) bool {
	days := (domain.Window{Start: start, End: end}).Days()
	return len(series) == days && len(series.Amounts()) == days
}

// Len reports the number of cached series.
func (c *CachedArchive) Len() int {
	return c.cache.Len()
}
