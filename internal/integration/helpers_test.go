//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	"github.com/couchcryptid/striga-risk/internal/adapter/geotiff"
	"github.com/couchcryptid/striga-risk/internal/assessment"
	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("striga-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// fixedArchive serves the same rainfall series for every request.
type fixedArchive struct{ series domain.RainfallSeries }

func (a fixedArchive) FetchDaily(context.Context, string, float64, float64, domain.CalendarDate, domain.CalendarDate) (domain.RainfallSeries, error) {
	return a.series, nil
}

// evenRain yields an RII of exactly 0.5.
func evenRain() domain.RainfallSeries {
	start := domain.MustParseDate("2024-04-09")
	series := make(domain.RainfallSeries, 11)
	for i := range series {
		series[i] = domain.Observation{Date: start.AddDays(i), Amount: float64(i)}
	}
	return series
}

// layer encodes a constant 4x4 EPSG:4326 raster over 33–35°E, 9–11°S.
func layer(t *testing.T, v float64) *geotiff.Raster {
	t.Helper()
	band := make([]float64, 16)
	for i := range band {
		band[i] = v
	}
	var buf bytes.Buffer
	require.NoError(t, geotiff.Encode(&buf, geotiff.Grid{Width: 4, Height: 4, Bands: [][]float64{band}}, geotiff.EncodeOptions{
		Transform: domain.GeoTransform{OriginX: 33, PixelWidth: 0.5, OriginY: -9, PixelHeight: -0.5},
		EPSG:      4326,
	}))
	r, err := geotiff.Decode(buf.Bytes())
	require.NoError(t, err)
	return r
}

func newService(t *testing.T) *assessment.Service {
	t.Helper()
	return assessment.NewService(layer(t, 0.6), layer(t, 0.4), fixedArchive{series: evenRain()},
		domain.RainfallVariable, observability.NewMetricsForTesting(), discardLogger())
}

// mockRequests covers both crops, both presence flags and a field outside
// the raster extent.
func mockRequests() []domain.AssessmentRequest {
	return []domain.AssessmentRequest{
		{PlantingDate: "2024-04-09", WeedRemovalDate: "2024-05-19", ObservationDate: "2024-06-30", CropType: "maize", Latitude: -9.6, Longitude: 33.78},
		{PlantingDate: "2024-04-09", WeedRemovalDate: "2024-05-19", ObservationDate: "2024-06-30", CropType: "maize", Latitude: -9.6, Longitude: 33.78, HistoricalPresence: true},
		{PlantingDate: "2024-03-01", WeedRemovalDate: "2024-03-20", ObservationDate: "2024-05-01", CropType: "sorghum", Latitude: -10.2, Longitude: 34.1},
		{PlantingDate: "2024-03-01T08:00:00+02:00", WeedRemovalDate: "2024-03-20", ObservationDate: "2024-05-01", CropType: "Sorghum", Latitude: -10.9, Longitude: 34.9, HistoricalPresence: true},
		{PlantingDate: "2024-03-01", WeedRemovalDate: "2024-03-20", ObservationDate: "2024-05-01", CropType: "maize", Latitude: -13.9, Longitude: 33.7},
	}
}
