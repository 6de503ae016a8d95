// Package postgres persists assessment records with sqlx over lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/couchcryptid/striga-risk/internal/domain"
	"github.com/couchcryptid/striga-risk/internal/observability"
)

const schema = `
CREATE TABLE IF NOT EXISTS assessments (
	id               TEXT PRIMARY KEY,
	crop             TEXT NOT NULL,
	latitude         DOUBLE PRECISION NOT NULL,
	longitude        DOUBLE PRECISION NOT NULL,
	observation_date DATE NOT NULL,
	computed_risk    DOUBLE PRECISION,
	tier             SMALLINT,
	record           JSONB NOT NULL,
	assessed_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS assessments_assessed_at_idx ON assessments (assessed_at DESC);
`

const insertAssessment = `
	INSERT INTO assessments (id, crop, latitude, longitude, observation_date, computed_risk, tier, record, assessed_at)
	VALUES (:id, :crop, :latitude, :longitude, :observation_date, :computed_risk, :tier, :record, :assessed_at)
	ON CONFLICT (id) DO NOTHING
`

// Store is the assessment history table. It implements pipeline.BatchLoader.
type Store struct {
	db      *sqlx.DB
	metrics *observability.Metrics
	logger  *slog.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, metrics *observability.Metrics, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	logger.Info("assessment store connected")
	return New(db, metrics, logger), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, metrics *observability.Metrics, logger *slog.Logger) *Store {
	return &Store{db: db, metrics: metrics, logger: logger}
}

// Migrate creates the assessments table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	defer s.observe("migrate")()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		s.metrics.StoreErrors.WithLabelValues("migrate").Inc()
		return fmt.Errorf("migrate assessments: %w", err)
	}
	return nil
}

// Save inserts rec. Replays of an already stored ID are ignored.
func (s *Store) Save(ctx context.Context, rec domain.AssessmentRecord) error {
	return s.LoadBatch(ctx, []domain.AssessmentRecord{rec})
}

// LoadBatch inserts all records in one transaction.
func (s *Store) LoadBatch(ctx context.Context, records []domain.AssessmentRecord) error {
	if len(records) == 0 {
		return nil
	}
	defer s.observe("save")()

	rows := make([]assessmentRow, len(records))
	for i, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.metrics.StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("begin transaction: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.NamedExecContext(ctx, insertAssessment, row); err != nil {
			_ = tx.Rollback()
			s.metrics.StoreErrors.WithLabelValues("save").Inc()
			return fmt.Errorf("insert assessment %s: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		s.metrics.StoreErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("commit assessments: %w", err)
	}
	s.logger.Debug("assessments stored", "count", len(rows))
	return nil
}

// Get returns the stored record for id, or domain.ErrAssessmentNotFound.
func (s *Store) Get(ctx context.Context, id string) (domain.AssessmentRecord, error) {
	defer s.observe("get")()
	var row assessmentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM assessments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AssessmentRecord{}, fmt.Errorf("%w: %s", domain.ErrAssessmentNotFound, id)
	}
	if err != nil {
		s.metrics.StoreErrors.WithLabelValues("get").Inc()
		return domain.AssessmentRecord{}, fmt.Errorf("get assessment %s: %w", id, err)
	}
	return fromRow(row)
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.AssessmentRecord, error) {
	defer s.observe("recent")()
	var rows []assessmentRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM assessments ORDER BY assessed_at DESC, id LIMIT $1`, limit)
	if err != nil {
		s.metrics.StoreErrors.WithLabelValues("recent").Inc()
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	out := make([]domain.AssessmentRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) observe(op string) func() {
	start := time.Now()
	return func() {
		s.metrics.StoreQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// assessmentRow is the table layout. The full record is kept as JSONB and
// bound as text, since lib/pq sends []byte as bytea. The scalar columns
// exist for querying.
type assessmentRow struct {
	ID              string          `db:"id"`
	Crop            string          `db:"crop"`
	Latitude        float64         `db:"latitude"`
	Longitude       float64         `db:"longitude"`
	ObservationDate time.Time       `db:"observation_date"`
	ComputedRisk    sql.NullFloat64 `db:"computed_risk"`
	Tier            sql.NullInt16   `db:"tier"`
	Record          string          `db:"record"`
	AssessedAt      time.Time       `db:"assessed_at"`
}

func toRow(rec domain.AssessmentRecord) (assessmentRow, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return assessmentRow{}, fmt.Errorf("encode assessment %s: %w", rec.ID, err)
	}
	row := assessmentRow{
		ID:              rec.ID,
		Crop:            rec.Crop.String(),
		Latitude:        rec.Request.Latitude,
		Longitude:       rec.Request.Longitude,
		ObservationDate: rec.ObservationDate.Time(),
		Record:          string(data),
		AssessedAt:      rec.AssessedAt,
	}
	if rec.ComputedRisk != nil {
		row.ComputedRisk = sql.NullFloat64{Float64: *rec.ComputedRisk, Valid: true}
	}
	if rec.Tier != nil {
		row.Tier = sql.NullInt16{Int16: int16(*rec.Tier), Valid: true}
	}
	return row, nil
}

func fromRow(row assessmentRow) (domain.AssessmentRecord, error) {
	var rec domain.AssessmentRecord
	if err := json.Unmarshal([]byte(row.Record), &rec); err != nil {
		return domain.AssessmentRecord{}, fmt.Errorf("decode assessment %s: %w", row.ID, err)
	}
	return rec, nil
}
