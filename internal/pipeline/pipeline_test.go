package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
	"github.com/couchcryptid/striga-risk/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockExtractor struct {
	batches [][]domain.RawMessage
	index   atomic.Int64
	err     error
	calls   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawMessage, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	i := int(m.index.Add(1) - 1)
	if i >= len(m.batches) {
		// block until context cancelled to simulate waiting for messages
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.batches[i], nil
}

type mockAssessor struct {
	err error
}

func (m *mockAssessor) Assess(_ context.Context, req domain.AssessmentRequest) (domain.AssessmentRecord, error) {
	if m.err != nil {
		return domain.AssessmentRecord{}, m.err
	}
	return domain.AssessmentRecord{ID: "assess-" + req.CropType, Request: req}, nil
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.AssessmentRecord
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, records []domain.AssessmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, records...)
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	raw := makeRawMessage(t, 0, "maize")

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{}
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{}), ldr, slog.Default(), newTestMetrics(), 10)

	require.Error(t, p.CheckReadiness(context.Background()))
	runFor(t, p, 300*time.Millisecond)

	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, "assess-maize", ldr.loaded[0].ID)
	assert.Equal(t, "2024-04-09", ldr.loaded[0].Request.PlantingDate)
	assert.True(t, p.Ready())
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ext := &mockExtractor{} // no batches, will block
	ldr := &mockLoader{}
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{}), ldr, slog.Default(), newTestMetrics(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.loaded)
}

func TestPipeline_CheckRunning_WithoutTraffic(t *testing.T) {
	ext := &mockExtractor{} // no batches, will block
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{}), &mockLoader{}, slog.Default(), newTestMetrics(), 10)

	require.Error(t, p.CheckRunning(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Run(ctx))
	}()

	require.Eventually(t, func() bool {
		return p.CheckRunning(context.Background()) == nil
	}, time.Second, 10*time.Millisecond)
	assert.False(t, p.Ready(), "no batch has been loaded")

	cancel()
	<-done
	require.Error(t, p.CheckRunning(context.Background()))
}

func TestPipeline_Run_AssessmentErrorSkipsAndCommits(t *testing.T) {
	var commits atomic.Int64
	raw := makeRawMessage(t, 3, "maize")
	raw.Commit = func(_ context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{}
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{err: domain.ErrPointOutOfBounds}), ldr, slog.Default(), newTestMetrics(), 10)

	runFor(t, p, 300*time.Millisecond)

	assert.Empty(t, ldr.loaded)
	assert.False(t, p.Ready())
	assert.Equal(t, int64(1), commits.Load(), "failed messages are committed so they are not redelivered")
}

func TestPipeline_Run_MalformedPayloadSkipped(t *testing.T) {
	good := makeRawMessage(t, 1, "sorghum")
	bad := domain.RawMessage{Value: []byte("not json"), Offset: 2}

	ext := &mockExtractor{batches: [][]domain.RawMessage{{bad, good}}}
	ldr := &mockLoader{}
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{}), ldr, slog.Default(), newTestMetrics(), 10)

	runFor(t, p, 300*time.Millisecond)

	require.Len(t, ldr.loaded, 1)
	assert.Equal(t, "assess-sorghum", ldr.loaded[0].ID)
}

func TestPipeline_Run_CommitsAfterLoad(t *testing.T) {
	var committed []int64
	var mu sync.Mutex
	batch := make([]domain.RawMessage, 3)
	for i := range batch {
		batch[i] = makeRawMessage(t, int64(i), "maize")
		batch[i].Topic = "striga-assessment-requests"
		batch[i].Commit = func(_ context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			committed = append(committed, int64(i))
			return nil
		}
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{batch}}
	ldr := &mockLoader{}
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{}), ldr, slog.Default(), newTestMetrics(), 10)

	runFor(t, p, 300*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{0, 1, 2}, committed)
	assert.Len(t, ldr.loaded, 3)
}

func TestPipeline_Run_LoadFailureDoesNotCommit(t *testing.T) {
	var commits atomic.Int64
	raw := makeRawMessage(t, 0, "maize")
	raw.Commit = func(_ context.Context) error {
		commits.Add(1)
		return nil
	}

	ext := &mockExtractor{batches: [][]domain.RawMessage{{raw}}}
	ldr := &mockLoader{err: errors.New("broker unavailable")}
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{}), ldr, slog.Default(), newTestMetrics(), 10)

	runFor(t, p, 300*time.Millisecond)

	assert.Zero(t, commits.Load())
	assert.False(t, p.Ready())
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &mockExtractor{err: errors.New("connection refused")}
	p := pipeline.New(ext, pipeline.NewTransformer(&mockAssessor{}), &mockLoader{}, slog.Default(), newTestMetrics(), 10)

	runFor(t, p, 500*time.Millisecond)

	// 200ms then 400ms waits: the loop must not spin.
	assert.LessOrEqual(t, ext.calls.Load(), int64(3))
	assert.GreaterOrEqual(t, ext.calls.Load(), int64(1))
}

func TestParseRequest(t *testing.T) {
	raw := makeRawMessage(t, 4, "maize")
	req, err := pipeline.ParseRequest(raw)
	require.NoError(t, err)

	expected := domain.AssessmentRequest{
		PlantingDate:       "2024-04-09",
		WeedRemovalDate:    "2024-05-19",
		CropType:           "maize",
		Latitude:           -9.6,
		Longitude:          33.78,
		HistoricalPresence: true,
	}
	if diff := cmp.Diff(expected, req); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRequest_Invalid(t *testing.T) {
	_, err := pipeline.ParseRequest(domain.RawMessage{Value: []byte("not json"), Offset: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offset 9")
}

func TestFanOutLoader(t *testing.T) {
	a, b := &mockLoader{}, &mockLoader{err: errors.New("store down")}
	c := &mockLoader{}
	records := []domain.AssessmentRecord{{ID: "assess-1"}}

	err := pipeline.FanOutLoader{a, b, c}.LoadBatch(context.Background(), records)
	require.ErrorContains(t, err, "store down")
	assert.Len(t, a.loaded, 1)
	assert.Len(t, c.loaded, 1, "a failing loader does not stop the others")

	require.NoError(t, pipeline.FanOutLoader{a}.LoadBatch(context.Background(), records))
}

// --- helpers ---

func makeRawMessage(t *testing.T, offset int64, crop string) domain.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"planting_date":       "2024-04-09",
		"weed_removal_date":   "2024-05-19",
		"crop_type":           crop,
		"latitude":            -9.6,
		"longitude":           33.78,
		"historical_presence": "yes",
	})
	require.NoError(t, err)
	return domain.RawMessage{
		Key:    []byte(crop),
		Value:  data,
		Offset: offset,
	}
}
