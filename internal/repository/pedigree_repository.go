package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/models"
)

// PostgresPedigreeRepository implements PedigreeRepository for PostgreSQL.
// The sire is the first slot of the three-generation table, the broodmare
// sire the fifth.
type PostgresPedigreeRepository struct {
	db *database.DB
}

// NewPostgresPedigreeRepository creates a new pedigree repository
func NewPostgresPedigreeRepository(db *database.DB) PedigreeRepository {
	return &PostgresPedigreeRepository{db: db}
}

// GetByHorseIDs fetches sire lines for many horses in one query.
func (r *PostgresPedigreeRepository) GetByHorseIDs(ctx context.Context, horseIDs []string) (map[string]*models.Pedigree, error) {
	if len(horseIDs) == 0 {
		return map[string]*models.Pedigree{}, nil
	}

	query := `
		SELECT horse_id, sandai_ketto[1] AS sire_id, sandai_ketto[5] AS broodmare_sire_id
		FROM pedigree
		WHERE horse_id = ANY($1)
	`

	rows, err := r.db.GetPool().Query(ctx, query, horseIDs)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "pedigree.get_by_horses", Err: err}
	}
	defer rows.Close()

	out := make(map[string]*models.Pedigree, len(horseIDs))
	for rows.Next() {
		p := &models.Pedigree{}
		if err := rows.Scan(&p.HorseID, &p.SireID, &p.BroodmareSire); err != nil {
			return nil, fmt.Errorf("failed to scan pedigree: %w", err)
		}
		out[p.HorseID] = p
	}

	return out, rows.Err()
}

const sireStatsQuery = `
	SELECT p.sandai_ketto[1] AS sire_id,
	       COUNT(*) AS runs,
	       AVG((e.finishing_position = 1)::int)::float8 AS win_rate,
	       AVG((e.finishing_position <= 3)::int)::float8 AS place_rate,
	       COALESCE(AVG((e.finishing_position = 1)::int)
	         FILTER (WHERE ra.track_code BETWEEN $4 AND $5), 0)::float8 AS turf_win_rate,
	       COALESCE(AVG((e.finishing_position <= 3)::int)
	         FILTER (WHERE ra.track_code BETWEEN $4 AND $5), 0)::float8 AS turf_place_rate,
	       COALESCE(AVG((e.finishing_position = 1)::int)
	         FILTER (WHERE ra.track_code BETWEEN $6 AND $7), 0)::float8 AS dirt_win_rate,
	       COALESCE(AVG((e.finishing_position <= 3)::int)
	         FILTER (WHERE ra.track_code BETWEEN $6 AND $7), 0)::float8 AS dirt_place_rate
	FROM pedigree p
	JOIN entry e ON e.horse_id = p.horse_id
	JOIN race ra ON ra.race_id = e.race_id
	WHERE p.sandai_ketto[1] = ANY($1)
	  AND e.data_kind = $8
	  AND e.finishing_position > 0
	  AND e.race_id >= $2 AND e.race_id < $3
	  %s
	GROUP BY p.sandai_ketto[1]
`

func (r *PostgresPedigreeRepository) sireStats(ctx context.Context, op string, sireIDs []string, asOf time.Time, years int, maidenOnly bool) (map[string]*models.SireRecord, error) {
	if len(sireIDs) == 0 {
		return map[string]*models.SireRecord{}, nil
	}

	// Race ids sort by date prefix, so the window is a race-id range; this
	// keeps the leak-prevention clause in the same shape as the history
	// queries.
	from := asOf.AddDate(-years, 0, 0).Format("20060102")
	to := asOf.Format("20060102")

	maidenClause := ""
	if maidenOnly {
		maidenClause = "AND ra.grade_code = 'maiden'"
	}
	query := fmt.Sprintf(sireStatsQuery, maidenClause)

	rows, err := r.db.GetPool().Query(ctx, query, sireIDs, from, to,
		models.TrackCodeTurfMin, models.TrackCodeTurfMax,
		models.TrackCodeDirtMin, models.TrackCodeDirtMax,
		models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: op, Err: err}
	}
	defer rows.Close()

	out := make(map[string]*models.SireRecord, len(sireIDs))
	for rows.Next() {
		s := &models.SireRecord{}
		err := rows.Scan(&s.SireID, &s.Runs, &s.WinRate, &s.PlaceRate,
			&s.TurfWinRate, &s.TurfPlaceRate, &s.DirtWinRate, &s.DirtPlaceRate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sire record: %w", err)
		}
		out[s.SireID] = s
	}

	return out, rows.Err()
}

// SireStats aggregates offspring results over the past `years` years.
func (r *PostgresPedigreeRepository) SireStats(ctx context.Context, sireIDs []string, asOf time.Time, years int) (map[string]*models.SireRecord, error) {
	return r.sireStats(ctx, "pedigree.sire_stats", sireIDs, asOf, years, false)
}

// SireMaidenStats is the maiden-race-only offspring aggregate.
func (r *PostgresPedigreeRepository) SireMaidenStats(ctx context.Context, sireIDs []string, asOf time.Time, years int) (map[string]*models.SireRecord, error) {
	return r.sireStats(ctx, "pedigree.sire_maiden_stats", sireIDs, asOf, years, true)
}
