package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/models"
)

const entryColumns = `e.race_id, e.horse_number, e.post, e.horse_id, h.name, e.sex_code, e.age,
	       e.carried_weight_10g, e.blinkers, e.jockey_id, e.trainer_id, e.body_weight,
	       e.weight_delta, e.declared_odds, e.popularity, e.finishing_position,
	       e.finish_time, e.corner_1, e.corner_2, e.corner_3, e.corner_4,
	       e.last_3f_time, e.data_kind`

// PostgresEntryRepository implements EntryRepository for PostgreSQL
type PostgresEntryRepository struct {
	db *database.DB
}

// NewPostgresEntryRepository creates a new entry repository
func NewPostgresEntryRepository(db *database.DB) EntryRepository {
	return &PostgresEntryRepository{db: db}
}

func scanEntry(row pgx.Row) (*models.Entry, error) {
	e := &models.Entry{}
	err := row.Scan(
		&e.RaceID, &e.HorseNumber, &e.Post, &e.HorseID, &e.HorseName, &e.SexCode, &e.Age,
		&e.CarriedWeight, &e.Blinkers, &e.JockeyID, &e.TrainerID, &e.BodyWeight,
		&e.WeightDelta, &e.DeclaredOdds, &e.Popularity, &e.FinishPosition,
		&e.FinishTime, &e.Corner1, &e.Corner2, &e.Corner3, &e.Corner4,
		&e.Last3F, &e.DataKind,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByRaceID retrieves all starters of one race ordered by horse number
func (r *PostgresEntryRepository) GetByRaceID(ctx context.Context, raceID string) ([]*models.Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM entry e
		LEFT JOIN horse h ON h.horse_id = e.horse_id
		WHERE e.race_id = $1
		ORDER BY e.horse_number ASC
	`, entryColumns)

	rows, err := r.db.GetPool().Query(ctx, query, raceID)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "entry.get_by_race", Err: err}
	}
	defer rows.Close()

	var entries []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetByRaceIDs retrieves starters for many races in one query, grouped by
// race id. Used by the bulk feature extraction path.
func (r *PostgresEntryRepository) GetByRaceIDs(ctx context.Context, raceIDs []string) (map[string][]*models.Entry, error) {
	if len(raceIDs) == 0 {
		return map[string][]*models.Entry{}, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM entry e
		LEFT JOIN horse h ON h.horse_id = e.horse_id
		WHERE e.race_id = ANY($1)
		ORDER BY e.race_id ASC, e.horse_number ASC
	`, entryColumns)

	rows, err := r.db.GetPool().Query(ctx, query, raceIDs)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "entry.get_by_races", Err: err}
	}
	defer rows.Close()

	grouped := make(map[string][]*models.Entry, len(raceIDs))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		grouped[e.RaceID] = append(grouped[e.RaceID], e)
	}

	return grouped, rows.Err()
}

// PostgresHorseRepository implements HorseRepository for PostgreSQL
type PostgresHorseRepository struct {
	db *database.DB
}

// NewPostgresHorseRepository creates a new horse repository
func NewPostgresHorseRepository(db *database.DB) HorseRepository {
	return &PostgresHorseRepository{db: db}
}

const horseColumns = `horse_id, name, birth_date, sex, coat_color, sire_reg_number,
	       dam_reg_number, breeder, owner, trainer_id, total_runs, total_wins`

func scanHorse(row pgx.Row) (*models.Horse, error) {
	h := &models.Horse{}
	err := row.Scan(
		&h.HorseID, &h.Name, &h.BirthDate, &h.Sex, &h.CoatColor, &h.SireRegNumber,
		&h.DamRegNumber, &h.Breeder, &h.Owner, &h.TrainerID, &h.TotalRuns, &h.TotalWins,
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// GetByID retrieves a horse by registration id
func (r *PostgresHorseRepository) GetByID(ctx context.Context, horseID string) (*models.Horse, error) {
	query := fmt.Sprintf(`SELECT %s FROM horse WHERE horse_id = $1`, horseColumns)

	h, err := scanHorse(r.db.GetPool().QueryRow(ctx, query, horseID))
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "horse.get_by_id", Err: err}
	}

	return h, nil
}

// SearchByName retrieves horses whose name contains the query string
func (r *PostgresHorseRepository) SearchByName(ctx context.Context, name string, limit int) ([]*models.Horse, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM horse
		WHERE name ILIKE '%%' || $1 || '%%'
		ORDER BY name ASC
		LIMIT $2
	`, horseColumns)

	rows, err := r.db.GetPool().Query(ctx, query, name, limit)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "horse.search_by_name", Err: err}
	}
	defer rows.Close()

	var horses []*models.Horse
	for rows.Next() {
		h, err := scanHorse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan horse: %w", err)
		}
		horses = append(horses, h)
	}

	return horses, rows.Err()
}
