package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/models"
)

const errScanRace = "failed to scan race: %w"

const raceColumns = `race_id, meet_year, meet_monthday, venue_code, kai, nichime, race_number,
	       race_name, distance_m, track_code, grade_code, start_time,
	       weather_code, surface_condition_code, data_kind`

// PostgresRaceRepository implements RaceRepository for PostgreSQL
type PostgresRaceRepository struct {
	db *database.DB
}

// NewPostgresRaceRepository creates a new race repository
func NewPostgresRaceRepository(db *database.DB) RaceRepository {
	return &PostgresRaceRepository{db: db}
}

func scanRace(row pgx.Row) (*models.Race, error) {
	race := &models.Race{}
	err := row.Scan(
		&race.RaceID, &race.MeetYear, &race.MeetMonthDay, &race.VenueCode, &race.Kai,
		&race.Nichime, &race.RaceNumber, &race.RaceName, &race.DistanceM, &race.TrackCode,
		&race.GradeCode, &race.StartTime, &race.WeatherCode, &race.ConditionCode, &race.DataKind,
	)
	if err != nil {
		return nil, err
	}
	return race, nil
}

// GetByID retrieves a race by its 16-character identifier
func (r *PostgresRaceRepository) GetByID(ctx context.Context, raceID string) (*models.Race, error) {
	query := fmt.Sprintf(`SELECT %s FROM race WHERE race_id = $1`, raceColumns)

	race, err := scanRace(r.db.GetPool().QueryRow(ctx, query, raceID))
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "race.get_by_id", Err: err}
	}

	return race, nil
}

// GetByDate retrieves all races on one calendar day, using the date prefix
// of the race identifier.
func (r *PostgresRaceRepository) GetByDate(ctx context.Context, date time.Time) ([]*models.Race, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM race
		WHERE race_id LIKE $1 || '%%'
		ORDER BY race_id ASC
	`, raceColumns)

	return r.queryRaces(ctx, "race.get_by_date", query, date.Format("20060102"))
}

// GetUpcoming retrieves declared races with a start time in the future
func (r *PostgresRaceRepository) GetUpcoming(ctx context.Context, limit int) ([]*models.Race, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM race
		WHERE start_time > NOW() AND data_kind IN ($1, $2)
		ORDER BY start_time ASC
		LIMIT $3
	`, raceColumns)

	return r.queryRaces(ctx, "race.get_upcoming", query,
		models.DataKindDeclared, models.DataKindPreliminary, limit)
}

// SearchByName retrieves races whose name contains the query string
func (r *PostgresRaceRepository) SearchByName(ctx context.Context, name string, limit int) ([]*models.Race, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM race
		WHERE race_name ILIKE '%%' || $1 || '%%'
		ORDER BY race_id DESC
		LIMIT $2
	`, raceColumns)

	return r.queryRaces(ctx, "race.search_by_name", query, name, limit)
}

// GetYear retrieves all finalized races of a year ordered by race id.
// The surface filter restricts by track code range.
func (r *PostgresRaceRepository) GetYear(ctx context.Context, year int, surface models.Surface) ([]*models.Race, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM race
		WHERE meet_year = $1 AND data_kind = $2
	`, raceColumns)

	args := []interface{}{year, models.DataKindFinalized}
	switch surface {
	case models.SurfaceTurf:
		query += ` AND track_code BETWEEN $3 AND $4`
		args = append(args, models.TrackCodeTurfMin, models.TrackCodeTurfMax)
	case models.SurfaceDirt:
		query += ` AND track_code BETWEEN $3 AND $4`
		args = append(args, models.TrackCodeDirtMin, models.TrackCodeDirtMax)
	}
	query += ` ORDER BY race_id ASC`

	return r.queryRaces(ctx, "race.get_year", query, args...)
}

func (r *PostgresRaceRepository) queryRaces(ctx context.Context, op, query string, args ...interface{}) ([]*models.Race, error) {
	rows, err := r.db.GetPool().Query(ctx, query, args...)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: op, Err: err}
	}
	defer rows.Close()

	var races []*models.Race
	for rows.Next() {
		race, err := scanRace(rows)
		if err != nil {
			return nil, fmt.Errorf(errScanRace, err)
		}
		races = append(races, race)
	}

	return races, rows.Err()
}
