package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/striga-risk/internal/config"
	"github.com/couchcryptid/striga-risk/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces scored assessments to the sink topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes the records in a single WriteMessages call.
func (w *Writer) LoadBatch(ctx context.Context, records []domain.AssessmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(records))
	for i := range records {
		msg, err := serializeToMessage(records[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d assessments: %w", len(msgs), err)
	}
	w.logger.Debug("batch published", "size", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a record keyed by its assessment ID. The risk
// tier travels as a header so consumers can route without decoding.
func serializeToMessage(rec domain.AssessmentRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize assessment: %w", err)
	}
	tier := rec.TierLabel
	if tier == "" {
		tier = "undefined"
	}
	return kafkago.Message{
		Key:   []byte(rec.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "risk_tier", Value: []byte(tier)},
			{Key: "processed_at", Value: []byte(rec.AssessedAt.Format(time.RFC3339))},
		},
	}, nil
}
