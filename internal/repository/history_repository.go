package repository

import (
	"context"
	"fmt"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/models"
)

// PostgresHistoryRepository implements the batched past-performance
// aggregates. Every query receives the (horse_id, race_id) pairs as two
// parallel arrays, unnested into a derived table, and filters history with
// u.race_id < t.race_id inside SQL. One round-trip per aggregate family,
// never one per horse.
type PostgresHistoryRepository struct {
	db *database.DB
}

// NewPostgresHistoryRepository creates a new history repository
func NewPostgresHistoryRepository(db *database.DB) HistoryRepository {
	return &PostgresHistoryRepository{db: db}
}

func pairArrays(pairs []HorseRacePair) ([]string, []string) {
	horses := make([]string, len(pairs))
	races := make([]string, len(pairs))
	for i, p := range pairs {
		horses[i] = p.HorseID
		races[i] = p.RaceID
	}
	return horses, races
}

// PastPerformance aggregates each horse's last 10 finalized runs before the
// target race: rates, times, corner positions, decay-weighted variants
// (decay 0.85) and spread statistics.
func (r *PostgresHistoryRepository) PastPerformance(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.PastPerformance, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair]*models.PastPerformance{}, nil
	}

	query := `
		SELECT t.horse_id, t.race_id,
		       COUNT(*) AS run_count,
		       AVG((u.finishing_position = 1)::int)::float8 AS win_rate,
		       AVG((u.finishing_position <= 3)::int)::float8 AS place_rate,
		       COALESCE(AVG(NULLIF(u.finish_time, 0)), 0)::float8 AS avg_time,
		       COALESCE(AVG(NULLIF(u.last_3f_time, 0)), 0)::float8 AS avg_last_3f,
		       COALESCE(MIN(NULLIF(u.last_3f_time, 0)), 0)::float8 AS best_last_3f,
		       COALESCE(AVG(NULLIF(u.corner_3, 0)), 0)::float8 AS avg_corner_3,
		       COALESCE(AVG(NULLIF(u.corner_4, 0)), 0)::float8 AS avg_corner_4,
		       MIN(u.finishing_position) AS best_finish,
		       (ARRAY_AGG(u.jockey_id ORDER BY u.race_id DESC))[1] AS last_jockey_id,
		       SUM(POWER(0.85, u.rn - 1) * (u.finishing_position = 1)::int)::float8
		         / SUM(POWER(0.85, u.rn - 1))::float8 AS decay_win_rate,
		       SUM(POWER(0.85, u.rn - 1) * (u.finishing_position <= 3)::int)::float8
		         / SUM(POWER(0.85, u.rn - 1))::float8 AS decay_place_rate,
		       SUM(POWER(0.85, u.rn - 1) * u.finishing_position)::float8
		         / SUM(POWER(0.85, u.rn - 1))::float8 AS decay_avg_finish,
		       COALESCE(AVG(CASE WHEN u.corner_3 > 0 AND u.corner_4 > 0
		                THEN u.corner_4 - u.corner_3 END), 0)::float8 AS pos_change_mean,
		       COALESCE(STDDEV_POP(CASE WHEN u.corner_3 > 0 AND u.corner_4 > 0
		                THEN u.corner_4 - u.corner_3 END), 0)::float8 AS pos_change_std,
		       COALESCE(STDDEV_POP(u.finishing_position), 0)::float8 AS std_rank,
		       COALESCE(STDDEV_POP(NULLIF(u.finish_time, 0)), 0)::float8 AS std_time,
		       COALESCE(STDDEV_POP(NULLIF(u.last_3f_time, 0)), 0)::float8 AS std_last_3f
		FROM unnest($1::text[], $2::text[]) AS t(horse_id, race_id)
		JOIN LATERAL (
			SELECT e.*, ROW_NUMBER() OVER (ORDER BY e.race_id DESC) AS rn
			FROM entry e
			WHERE e.horse_id = t.horse_id
			  AND e.race_id < t.race_id
			  AND e.data_kind = $3
			  AND e.finishing_position > 0
			ORDER BY e.race_id DESC
			LIMIT 10
		) u ON TRUE
		GROUP BY t.horse_id, t.race_id
	`

	horses, races := pairArrays(pairs)
	rows, err := r.db.GetPool().Query(ctx, query, horses, races, models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.past_performance", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair]*models.PastPerformance, len(pairs))
	for rows.Next() {
		var raceID string
		p := &models.PastPerformance{}
		err := rows.Scan(
			&p.HorseID, &raceID, &p.RunCount, &p.WinRate, &p.PlaceRate,
			&p.AvgTime, &p.AvgLast3F, &p.BestLast3F, &p.AvgCorner3, &p.AvgCorner4,
			&p.BestFinish, &p.LastJockeyID, &p.DecayWinRate, &p.DecayPlaceRate,
			&p.DecayAvgFinish, &p.PosChangeMean, &p.PosChangeStd,
			&p.StdRank, &p.StdTime, &p.StdLast3F,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan past performance: %w", err)
		}
		out[HorseRacePair{HorseID: p.HorseID, RaceID: raceID}] = p
	}

	return out, rows.Err()
}

// SurfaceRecords returns turf and dirt run splits over the horse's full
// finalized history before the target race.
func (r *PostgresHistoryRepository) SurfaceRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.SurfaceRecord, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair]*models.SurfaceRecord{}, nil
	}

	query := `
		SELECT t.horse_id, t.race_id,
		       COUNT(*) FILTER (WHERE ra.track_code BETWEEN $4 AND $5) AS turf_runs,
		       COALESCE(AVG((u.finishing_position = 1)::int)
		         FILTER (WHERE ra.track_code BETWEEN $4 AND $5), 0)::float8 AS turf_win_rate,
		       COALESCE(AVG((u.finishing_position <= 3)::int)
		         FILTER (WHERE ra.track_code BETWEEN $4 AND $5), 0)::float8 AS turf_place_rate,
		       COUNT(*) FILTER (WHERE ra.track_code BETWEEN $6 AND $7) AS dirt_runs,
		       COALESCE(AVG((u.finishing_position = 1)::int)
		         FILTER (WHERE ra.track_code BETWEEN $6 AND $7), 0)::float8 AS dirt_win_rate,
		       COALESCE(AVG((u.finishing_position <= 3)::int)
		         FILTER (WHERE ra.track_code BETWEEN $6 AND $7), 0)::float8 AS dirt_place_rate
		FROM unnest($1::text[], $2::text[]) AS t(horse_id, race_id)
		JOIN entry u ON u.horse_id = t.horse_id
		            AND u.race_id < t.race_id
		            AND u.data_kind = $3
		            AND u.finishing_position > 0
		JOIN race ra ON ra.race_id = u.race_id
		GROUP BY t.horse_id, t.race_id
	`

	horses, races := pairArrays(pairs)
	rows, err := r.db.GetPool().Query(ctx, query, horses, races, models.DataKindFinalized,
		models.TrackCodeTurfMin, models.TrackCodeTurfMax,
		models.TrackCodeDirtMin, models.TrackCodeDirtMax)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.surface_records", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair]*models.SurfaceRecord, len(pairs))
	for rows.Next() {
		var raceID string
		s := &models.SurfaceRecord{}
		err := rows.Scan(&s.HorseID, &raceID,
			&s.TurfRuns, &s.TurfWinRate, &s.TurfPlaceRate,
			&s.DirtRuns, &s.DirtWinRate, &s.DirtPlaceRate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan surface record: %w", err)
		}
		out[HorseRacePair{HorseID: s.HorseID, RaceID: raceID}] = s
	}

	return out, rows.Err()
}

// Right-handed venue codes. Niigata (04), Tokyo (05) and Chukyo (07) run
// left-handed.
const rightHandedVenues = `('01','02','03','06','08','09','10')`

// DirectionRecords returns win splits per turn direction. Smoothing toward
// the prior happens at feature-build time, not here.
func (r *PostgresHistoryRepository) DirectionRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.DirectionRecord, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair]*models.DirectionRecord{}, nil
	}

	query := fmt.Sprintf(`
		SELECT t.horse_id, t.race_id,
		       COUNT(*) FILTER (WHERE ra.venue_code IN %[1]s) AS right_runs,
		       COALESCE(AVG((u.finishing_position = 1)::int)
		         FILTER (WHERE ra.venue_code IN %[1]s), 0)::float8 AS right_win_rate,
		       COUNT(*) FILTER (WHERE ra.venue_code NOT IN %[1]s) AS left_runs,
		       COALESCE(AVG((u.finishing_position = 1)::int)
		         FILTER (WHERE ra.venue_code NOT IN %[1]s), 0)::float8 AS left_win_rate
		FROM unnest($1::text[], $2::text[]) AS t(horse_id, race_id)
		JOIN entry u ON u.horse_id = t.horse_id
		            AND u.race_id < t.race_id
		            AND u.data_kind = $3
		            AND u.finishing_position > 0
		JOIN race ra ON ra.race_id = u.race_id
		GROUP BY t.horse_id, t.race_id
	`, rightHandedVenues)

	horses, races := pairArrays(pairs)
	rows, err := r.db.GetPool().Query(ctx, query, horses, races, models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.direction_records", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair]*models.DirectionRecord, len(pairs))
	for rows.Next() {
		var raceID string
		d := &models.DirectionRecord{}
		err := rows.Scan(&d.HorseID, &raceID,
			&d.RightRuns, &d.RightWinRate, &d.LeftRuns, &d.LeftWinRate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan direction record: %w", err)
		}
		out[HorseRacePair{HorseID: d.HorseID, RaceID: raceID}] = d
	}

	return out, rows.Err()
}

// ConditionRecords returns one row per populated cell of the
// {turf,dirt} x {good..bad} cross product for each pair.
func (r *PostgresHistoryRepository) ConditionRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair][]*models.ConditionRecord, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair][]*models.ConditionRecord{}, nil
	}

	query := `
		SELECT t.horse_id, t.race_id,
		       CASE WHEN ra.track_code BETWEEN $4 AND $5 THEN 'turf' ELSE 'dirt' END AS surface,
		       ra.surface_condition_code,
		       COUNT(*) AS runs,
		       AVG((u.finishing_position = 1)::int)::float8 AS win_rate,
		       AVG((u.finishing_position <= 3)::int)::float8 AS top3_rate
		FROM unnest($1::text[], $2::text[]) AS t(horse_id, race_id)
		JOIN entry u ON u.horse_id = t.horse_id
		            AND u.race_id < t.race_id
		            AND u.data_kind = $3
		            AND u.finishing_position > 0
		JOIN race ra ON ra.race_id = u.race_id
		WHERE ra.track_code BETWEEN $4 AND $6
		GROUP BY t.horse_id, t.race_id, 3, ra.surface_condition_code
	`

	horses, races := pairArrays(pairs)
	rows, err := r.db.GetPool().Query(ctx, query, horses, races, models.DataKindFinalized,
		models.TrackCodeTurfMin, models.TrackCodeTurfMax, models.TrackCodeDirtMax)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.condition_records", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair][]*models.ConditionRecord)
	for rows.Next() {
		var raceID, surface string
		c := &models.ConditionRecord{}
		err := rows.Scan(&c.HorseID, &raceID, &surface, &c.ConditionCode,
			&c.Runs, &c.WinRate, &c.Top3Rate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan condition record: %w", err)
		}
		c.Surface = models.Surface(surface)
		key := HorseRacePair{HorseID: c.HorseID, RaceID: raceID}
		out[key] = append(out[key], c)
	}

	return out, rows.Err()
}

// RestRecords buckets each historical run by the interval since the run
// before it (lag over race dates) and returns win splits per bucket.
func (r *PostgresHistoryRepository) RestRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair][]*models.RestRecord, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair][]*models.RestRecord{}, nil
	}

	query := `
		SELECT t.horse_id, t.race_id, u.bucket,
		       COUNT(*) AS runs,
		       AVG((u.finishing_position = 1)::int)::float8 AS win_rate
		FROM unnest($1::text[], $2::text[]) AS t(horse_id, race_id)
		JOIN LATERAL (
			SELECT s.finishing_position,
			       CASE
			         WHEN s.rest_days IS NULL THEN NULL
			         WHEN s.rest_days <= 7 THEN 'le7'
			         WHEN s.rest_days <= 14 THEN '8_14'
			         WHEN s.rest_days <= 21 THEN '15_21'
			         WHEN s.rest_days <= 28 THEN '22_28'
			         ELSE 'ge29'
			       END AS bucket
			FROM (
				SELECT e.finishing_position,
				       to_date(substr(e.race_id, 1, 8), 'YYYYMMDD')
				         - LAG(to_date(substr(e.race_id, 1, 8), 'YYYYMMDD'))
				           OVER (ORDER BY e.race_id) AS rest_days
				FROM entry e
				WHERE e.horse_id = t.horse_id
				  AND e.race_id < t.race_id
				  AND e.data_kind = $3
				  AND e.finishing_position > 0
			) s
		) u ON u.bucket IS NOT NULL
		GROUP BY t.horse_id, t.race_id, u.bucket
	`

	horses, races := pairArrays(pairs)
	rows, err := r.db.GetPool().Query(ctx, query, horses, races, models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.rest_records", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair][]*models.RestRecord)
	for rows.Next() {
		var raceID string
		rec := &models.RestRecord{}
		if err := rows.Scan(&rec.HorseID, &raceID, &rec.Bucket, &rec.Runs, &rec.WinRate); err != nil {
			return nil, fmt.Errorf("failed to scan rest record: %w", err)
		}
		key := HorseRacePair{HorseID: rec.HorseID, RaceID: raceID}
		out[key] = append(out[key], rec)
	}

	return out, rows.Err()
}

// VenueRecords returns each horse's record at the target race's venue on
// the target race's surface class.
func (r *PostgresHistoryRepository) VenueRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.VenueRecord, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair]*models.VenueRecord{}, nil
	}

	query := `
		SELECT t.horse_id, t.race_id, substr(t.race_id, 9, 2) AS venue_code,
		       COUNT(*) AS runs,
		       AVG((u.finishing_position = 1)::int)::float8 AS win_rate,
		       AVG((u.finishing_position <= 3)::int)::float8 AS place_rate
		FROM unnest($1::text[], $2::text[]) AS t(horse_id, race_id)
		JOIN race cur ON cur.race_id = t.race_id
		JOIN entry u ON u.horse_id = t.horse_id
		            AND u.race_id < t.race_id
		            AND u.data_kind = $3
		            AND u.finishing_position > 0
		JOIN race ra ON ra.race_id = u.race_id
		WHERE ra.venue_code = substr(t.race_id, 9, 2)
		  AND ((cur.track_code BETWEEN $4 AND $5 AND ra.track_code BETWEEN $4 AND $5)
		    OR (cur.track_code BETWEEN $6 AND $7 AND ra.track_code BETWEEN $6 AND $7))
		GROUP BY t.horse_id, t.race_id
	`

	horses, races := pairArrays(pairs)
	rows, err := r.db.GetPool().Query(ctx, query, horses, races, models.DataKindFinalized,
		models.TrackCodeTurfMin, models.TrackCodeTurfMax,
		models.TrackCodeDirtMin, models.TrackCodeDirtMax)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.venue_records", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair]*models.VenueRecord, len(pairs))
	for rows.Next() {
		var raceID string
		v := &models.VenueRecord{}
		err := rows.Scan(&v.HorseID, &raceID, &v.VenueCode, &v.Runs, &v.WinRate, &v.PlaceRate)
		if err != nil {
			return nil, fmt.Errorf("failed to scan venue record: %w", err)
		}
		out[HorseRacePair{HorseID: v.HorseID, RaceID: raceID}] = v
	}

	return out, rows.Err()
}

// PrevRaces returns up to n most recent prior races per horse with
// per-race detail, newest first. The final-3f rank is computed within the
// prior race's own field.
func (r *PostgresHistoryRepository) PrevRaces(ctx context.Context, pairs []HorseRacePair, n int) (map[HorseRacePair][]*models.PrevRaceDetail, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair][]*models.PrevRaceDetail{}, nil
	}

	query := `
		SELECT t.horse_id, t.race_id, u.rn,
		       to_date(substr(u.race_id, 1, 8), 'YYYYMMDD') AS race_date,
		       u.finishing_position, u.popularity,
		       COALESCE(u.last_3f_time, 0)::float8,
		       u.last_3f_rank, u.corner_3, u.corner_4,
		       ra.venue_code, ra.distance_m, u.field_size
		FROM unnest($1::text[], $2::text[]) AS t(horse_id, race_id)
		JOIN LATERAL (
			SELECT e.race_id, e.finishing_position, e.popularity, e.last_3f_time,
			       e.corner_3, e.corner_4,
			       ROW_NUMBER() OVER (ORDER BY e.race_id DESC) AS rn,
			       (SELECT COUNT(*) FROM entry f
			         WHERE f.race_id = e.race_id AND f.horse_number > 0) AS field_size,
			       (SELECT COUNT(*) + 1 FROM entry f
			         WHERE f.race_id = e.race_id AND f.horse_number > 0
			           AND f.last_3f_time > 0 AND f.last_3f_time < e.last_3f_time) AS last_3f_rank
			FROM entry e
			WHERE e.horse_id = t.horse_id
			  AND e.race_id < t.race_id
			  AND e.data_kind = $3
			  AND e.finishing_position > 0
			ORDER BY e.race_id DESC
			LIMIT $4
		) u ON TRUE
		JOIN race ra ON ra.race_id = u.race_id
		ORDER BY t.horse_id, t.race_id, u.rn
	`

	horses, races := pairArrays(pairs)
	rows, err := r.db.GetPool().Query(ctx, query, horses, races, models.DataKindFinalized, n)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.prev_races", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair][]*models.PrevRaceDetail)
	for rows.Next() {
		var raceID string
		d := &models.PrevRaceDetail{}
		err := rows.Scan(&d.HorseID, &raceID, &d.Seq, &d.RaceDate,
			&d.FinishPosition, &d.Popularity, &d.Last3F, &d.Last3FRank,
			&d.Corner3, &d.Corner4, &d.VenueCode, &d.DistanceM, &d.FieldSize)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prev race: %w", err)
		}
		key := HorseRacePair{HorseID: d.HorseID, RaceID: raceID}
		out[key] = append(out[key], d)
	}

	return out, rows.Err()
}

// ComboRecords returns run counts and win rates for (horse, jockey)
// pairings before the target race.
func (r *PostgresHistoryRepository) ComboRecords(ctx context.Context, pairs []HorseJockeyPair) (map[HorseRacePair]*models.ComboRecord, error) {
	if len(pairs) == 0 {
		return map[HorseRacePair]*models.ComboRecord{}, nil
	}

	horses := make([]string, len(pairs))
	jockeys := make([]string, len(pairs))
	races := make([]string, len(pairs))
	for i, p := range pairs {
		horses[i] = p.HorseID
		jockeys[i] = p.JockeyID
		races[i] = p.RaceID
	}

	query := `
		SELECT t.horse_id, t.race_id, t.jockey_id,
		       COUNT(*) AS runs,
		       AVG((u.finishing_position = 1)::int)::float8 AS win_rate
		FROM unnest($1::text[], $2::text[], $3::text[]) AS t(horse_id, jockey_id, race_id)
		JOIN entry u ON u.horse_id = t.horse_id
		            AND u.jockey_id = t.jockey_id
		            AND u.race_id < t.race_id
		            AND u.data_kind = $4
		            AND u.finishing_position > 0
		GROUP BY t.horse_id, t.race_id, t.jockey_id
	`

	rows, err := r.db.GetPool().Query(ctx, query, horses, jockeys, races, models.DataKindFinalized)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "history.combo_records", Err: err}
	}
	defer rows.Close()

	out := make(map[HorseRacePair]*models.ComboRecord, len(pairs))
	for rows.Next() {
		var raceID string
		c := &models.ComboRecord{}
		if err := rows.Scan(&c.HorseID, &raceID, &c.JockeyID, &c.Runs, &c.WinRate); err != nil {
			return nil, fmt.Errorf("failed to scan combo record: %w", err)
		}
		out[HorseRacePair{HorseID: c.HorseID, RaceID: raceID}] = c
	}

	return out, rows.Err()
}
