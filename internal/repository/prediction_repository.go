package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/models"
)

// PostgresPredictionRepository implements PredictionRepository for PostgreSQL
type PostgresPredictionRepository struct {
	db *database.DB
}

// NewPostgresPredictionRepository creates a new prediction repository
func NewPostgresPredictionRepository(db *database.DB) PredictionRepository {
	return &PostgresPredictionRepository{db: db}
}

// Upsert writes a prediction bundle. (race_id, is_final) is unique; the row
// is replaced only when the new prediction is not older, so concurrent
// writers resolve last-writer-wins on predicted_at.
func (r *PostgresPredictionRepository) Upsert(ctx context.Context, rec *models.PredictionRecord) error {
	query := `
		INSERT INTO prediction (prediction_id, race_id, race_date, is_final, prediction_result, predicted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (race_id, is_final) DO UPDATE SET
			prediction_result = EXCLUDED.prediction_result,
			predicted_at = EXCLUDED.predicted_at
		WHERE prediction.predicted_at <= EXCLUDED.predicted_at
	`

	_, err := r.db.GetPool().Exec(ctx, query,
		rec.ID, rec.RaceID, rec.RaceDate, rec.IsFinal, rec.Result, rec.PredictedAt,
	)
	if err != nil {
		return &models.DatabaseQueryError{Op: "prediction.upsert", Err: err}
	}

	return nil
}

// GetByID retrieves a prediction record by id
func (r *PostgresPredictionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PredictionRecord, error) {
	query := `
		SELECT prediction_id, race_id, race_date, is_final, prediction_result, predicted_at
		FROM prediction WHERE prediction_id = $1
	`

	rec := &models.PredictionRecord{}
	err := r.db.GetPool().QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.RaceID, &rec.RaceDate, &rec.IsFinal, &rec.Result, &rec.PredictedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "prediction.get_by_id", Err: err}
	}

	return rec, nil
}

// GetByRace retrieves the prediction records for one race (at most one per
// is_final state).
func (r *PostgresPredictionRepository) GetByRace(ctx context.Context, raceID string) ([]*models.PredictionRecord, error) {
	query := `
		SELECT prediction_id, race_id, race_date, is_final, prediction_result, predicted_at
		FROM prediction WHERE race_id = $1
		ORDER BY is_final ASC
	`

	rows, err := r.db.GetPool().Query(ctx, query, raceID)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "prediction.get_by_race", Err: err}
	}
	defer rows.Close()

	var recs []*models.PredictionRecord
	for rows.Next() {
		rec := &models.PredictionRecord{}
		err := rows.Scan(&rec.ID, &rec.RaceID, &rec.RaceDate, &rec.IsFinal, &rec.Result, &rec.PredictedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// PostgresCalibrationRepository implements CalibrationRepository for PostgreSQL
type PostgresCalibrationRepository struct {
	db *database.DB
}

// NewPostgresCalibrationRepository creates a new calibration repository
func NewPostgresCalibrationRepository(db *database.DB) CalibrationRepository {
	return &PostgresCalibrationRepository{db: db}
}

// Save stores a calibration sidecar and marks it active, deactivating the
// previous one in the same transaction.
func (r *PostgresCalibrationRepository) Save(ctx context.Context, rec *models.CalibrationRecord) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE model_calibration SET is_active = FALSE WHERE is_active`); err != nil {
			return fmt.Errorf("failed to deactivate calibrations: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO model_calibration (model_version, calibration_data, created_at, is_active)
			VALUES ($1, $2, $3, TRUE)
		`, rec.ModelVersion, rec.Data, rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert calibration: %w", err)
		}
		return nil
	})
}

// GetActive retrieves the calibration sidecar of the active model.
func (r *PostgresCalibrationRepository) GetActive(ctx context.Context) (*models.CalibrationRecord, error) {
	query := `
		SELECT model_version, calibration_data, created_at, is_active
		FROM model_calibration
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1
	`

	rec := &models.CalibrationRecord{}
	err := r.db.GetPool().QueryRow(ctx, query).Scan(
		&rec.ModelVersion, &rec.Data, &rec.CreatedAt, &rec.IsActive,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "calibration.get_active", Err: err}
	}

	return rec, nil
}

// PostgresBiasRepository implements BiasRepository for PostgreSQL
type PostgresBiasRepository struct {
	db *database.DB
}

// NewPostgresBiasRepository creates a new bias repository
func NewPostgresBiasRepository(db *database.DB) BiasRepository {
	return &PostgresBiasRepository{db: db}
}

// Get retrieves the bias snapshot for one (date, venue).
func (r *PostgresBiasRepository) Get(ctx context.Context, date time.Time, venue string) (*models.BiasSnapshot, error) {
	query := `
		SELECT snapshot_date, venue_code, waku_bias, pace_bias, jockey_form
		FROM bias_snapshot
		WHERE snapshot_date = $1 AND venue_code = $2
	`

	snap := &models.BiasSnapshot{}
	err := r.db.GetPool().QueryRow(ctx, query, date.Format("2006-01-02"), venue).Scan(
		&snap.Date, &snap.Venue, &snap.WakuBias, &snap.PaceBias, &snap.Jockeys,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "bias.get", Err: err}
	}

	return snap, nil
}

// Save upserts a bias snapshot for one (date, venue).
func (r *PostgresBiasRepository) Save(ctx context.Context, snap *models.BiasSnapshot) error {
	query := `
		INSERT INTO bias_snapshot (snapshot_date, venue_code, waku_bias, pace_bias, jockey_form)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (snapshot_date, venue_code) DO UPDATE SET
			waku_bias = EXCLUDED.waku_bias,
			pace_bias = EXCLUDED.pace_bias,
			jockey_form = EXCLUDED.jockey_form
	`

	_, err := r.db.GetPool().Exec(ctx, query,
		snap.Date.Format("2006-01-02"), snap.Venue, snap.WakuBias, snap.PaceBias, snap.Jockeys,
	)
	if err != nil {
		return &models.DatabaseQueryError{Op: "bias.save", Err: err}
	}

	return nil
}
