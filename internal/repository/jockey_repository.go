package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/models"
)

// PostgresJockeyRepository implements JockeyRepository for PostgreSQL
type PostgresJockeyRepository struct {
	db *database.DB
}

// NewPostgresJockeyRepository creates a new jockey repository
func NewPostgresJockeyRepository(db *database.DB) JockeyRepository {
	return &PostgresJockeyRepository{db: db}
}

// YearStats aggregates each jockey's current-year record.
func (r *PostgresJockeyRepository) YearStats(ctx context.Context, jockeyIDs []string, year int) (map[string]*models.JockeyRecord, error) {
	if len(jockeyIDs) == 0 {
		return map[string]*models.JockeyRecord{}, nil
	}

	query := `
		SELECT e.jockey_id,
		       COUNT(*) AS rides,
		       AVG((e.finishing_position = 1)::int)::float8 AS win_rate,
		       AVG((e.finishing_position <= 3)::int)::float8 AS place_rate
		FROM entry e
		WHERE e.jockey_id = ANY($1)
		  AND substr(e.race_id, 1, 4) = $2
		  AND e.data_kind = $3
		  AND e.finishing_position > 0
		GROUP BY e.jockey_id
	`

	rows, err := r.db.GetPool().Query(ctx, query, jockeyIDs,
		fmt.Sprintf("%04d", year), models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "jockey.year_stats", Err: err}
	}
	defer rows.Close()

	out := make(map[string]*models.JockeyRecord, len(jockeyIDs))
	for rows.Next() {
		j := &models.JockeyRecord{}
		if err := rows.Scan(&j.JockeyID, &j.Rides, &j.WinRate, &j.PlaceRate); err != nil {
			return nil, fmt.Errorf("failed to scan jockey record: %w", err)
		}
		out[j.JockeyID] = j
	}

	return out, rows.Err()
}

// MaidenStats aggregates each jockey's record in maiden races over the past
// `years` years.
func (r *PostgresJockeyRepository) MaidenStats(ctx context.Context, jockeyIDs []string, asOf time.Time, years int) (map[string]*models.JockeyRecord, error) {
	if len(jockeyIDs) == 0 {
		return map[string]*models.JockeyRecord{}, nil
	}

	from := asOf.AddDate(-years, 0, 0).Format("20060102")
	to := asOf.Format("20060102")

	query := `
		SELECT e.jockey_id,
		       COUNT(*) AS rides,
		       AVG((e.finishing_position = 1)::int)::float8 AS win_rate,
		       AVG((e.finishing_position <= 3)::int)::float8 AS place_rate
		FROM entry e
		JOIN race ra ON ra.race_id = e.race_id
		WHERE e.jockey_id = ANY($1)
		  AND e.race_id >= $2 AND e.race_id < $3
		  AND e.data_kind = $4
		  AND e.finishing_position > 0
		  AND ra.grade_code = 'maiden'
		GROUP BY e.jockey_id
	`

	rows, err := r.db.GetPool().Query(ctx, query, jockeyIDs, from, to, models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "jockey.maiden_stats", Err: err}
	}
	defer rows.Close()

	out := make(map[string]*models.JockeyRecord, len(jockeyIDs))
	for rows.Next() {
		j := &models.JockeyRecord{}
		if err := rows.Scan(&j.JockeyID, &j.Rides, &j.WinRate, &j.PlaceRate); err != nil {
			return nil, fmt.Errorf("failed to scan jockey record: %w", err)
		}
		out[j.JockeyID] = j
	}

	return out, rows.Err()
}

// SearchByName retrieves jockeys whose name contains the query string
func (r *PostgresJockeyRepository) SearchByName(ctx context.Context, name string, limit int) ([]*models.Jockey, error) {
	query := `
		SELECT jockey_id, name, affiliation, license_date, deceased
		FROM jockey
		WHERE name ILIKE '%' || $1 || '%' AND NOT deceased
		ORDER BY name ASC
		LIMIT $2
	`

	rows, err := r.db.GetPool().Query(ctx, query, name, limit)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "jockey.search_by_name", Err: err}
	}
	defer rows.Close()

	var jockeys []*models.Jockey
	for rows.Next() {
		j := &models.Jockey{}
		if err := rows.Scan(&j.JockeyID, &j.Name, &j.Affiliation, &j.LicenseDate, &j.Deceased); err != nil {
			return nil, fmt.Errorf("failed to scan jockey: %w", err)
		}
		jockeys = append(jockeys, j)
	}

	return jockeys, rows.Err()
}

// DayForm aggregates each jockey's completed rides on one race day at one
// venue. Consumed by the bias snapshot builder.
func (r *PostgresJockeyRepository) DayForm(ctx context.Context, date time.Time, venue string) (map[string]models.JockeyDayForm, error) {
	query := `
		SELECT e.jockey_id,
		       COUNT(*) AS rides,
		       AVG((e.finishing_position = 1)::int)::float8 AS win_rate,
		       AVG((e.finishing_position <= 3)::int)::float8 AS top3_rate
		FROM entry e
		WHERE substr(e.race_id, 1, 8) = $1
		  AND substr(e.race_id, 9, 2) = $2
		  AND e.data_kind = $3
		  AND e.finishing_position > 0
		GROUP BY e.jockey_id
	`

	rows, err := r.db.GetPool().Query(ctx, query, date.Format("20060102"), venue, models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "jockey.day_form", Err: err}
	}
	defer rows.Close()

	out := make(map[string]models.JockeyDayForm)
	for rows.Next() {
		var id string
		var form models.JockeyDayForm
		if err := rows.Scan(&id, &form.Rides, &form.WinRate, &form.Top3Rate); err != nil {
			return nil, fmt.Errorf("failed to scan jockey day form: %w", err)
		}
		out[id] = form
	}

	return out, rows.Err()
}
