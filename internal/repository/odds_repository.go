package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/yourusername/keiba-engine/internal/database"
	"github.com/yourusername/keiba-engine/internal/models"
)

// Each ticket type has its own odds table upstream; the map keeps the
// query shape identical across markets.
var oddsTableByTicket = map[models.TicketType]string{
	models.TicketWin:      "odds_1",
	models.TicketPlace:    "odds_2",
	models.TicketQuinella: "odds_3",
	models.TicketExacta:   "odds_4",
	models.TicketWide:     "odds_5",
	models.TicketTrio:     "odds_6",
}

// PostgresOddsRepository implements OddsRepository for PostgreSQL
type PostgresOddsRepository struct {
	db *database.DB
}

// NewPostgresOddsRepository creates a new odds repository
func NewPostgresOddsRepository(db *database.DB) OddsRepository {
	return &PostgresOddsRepository{db: db}
}

// GetByRace retrieves the pre-race odds rows for one race and market.
func (r *PostgresOddsRepository) GetByRace(ctx context.Context, raceID string, ticket models.TicketType) ([]*models.OddsLine, error) {
	table, ok := oddsTableByTicket[ticket]
	if !ok {
		return nil, fmt.Errorf("unsupported ticket type %q", ticket)
	}

	query := fmt.Sprintf(`
		SELECT race_id, combination, odds, popularity
		FROM %s
		WHERE race_id = $1
		ORDER BY popularity ASC
	`, table)

	rows, err := r.db.GetPool().Query(ctx, query, raceID)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "odds.get_by_race", Err: err}
	}
	defer rows.Close()

	var lines []*models.OddsLine
	for rows.Next() {
		l := &models.OddsLine{TicketType: ticket}
		if err := rows.Scan(&l.RaceID, &l.Combination, &l.Odds, &l.Popularity); err != nil {
			return nil, fmt.Errorf("failed to scan odds line: %w", err)
		}
		lines = append(lines, l)
	}

	return lines, rows.Err()
}

// WinOdds returns win odds per horse number for many races in one query.
func (r *PostgresOddsRepository) WinOdds(ctx context.Context, raceIDs []string) (map[string]map[int]float64, error) {
	if len(raceIDs) == 0 {
		return map[string]map[int]float64{}, nil
	}

	query := `
		SELECT race_id, combination::int AS horse_number, odds::float8
		FROM odds_1
		WHERE race_id = ANY($1)
	`

	rows, err := r.db.GetPool().Query(ctx, query, raceIDs)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "odds.win_odds", Err: err}
	}
	defer rows.Close()

	out := make(map[string]map[int]float64, len(raceIDs))
	for rows.Next() {
		var raceID string
		var horseNumber int
		var odds float64
		if err := rows.Scan(&raceID, &horseNumber, &odds); err != nil {
			return nil, fmt.Errorf("failed to scan win odds: %w", err)
		}
		if out[raceID] == nil {
			out[raceID] = make(map[int]float64)
		}
		out[raceID][horseNumber] = odds
	}

	return out, rows.Err()
}

// PostgresPayoutRepository implements PayoutRepository for PostgreSQL
type PostgresPayoutRepository struct {
	db *database.DB
}

// NewPostgresPayoutRepository creates a new payout repository
func NewPostgresPayoutRepository(db *database.DB) PayoutRepository {
	return &PostgresPayoutRepository{db: db}
}

// GetByRaceIDs retrieves all settled payout lines for many races at once.
func (r *PostgresPayoutRepository) GetByRaceIDs(ctx context.Context, raceIDs []string) (map[string][]*models.PayoutLine, error) {
	if len(raceIDs) == 0 {
		return map[string][]*models.PayoutLine{}, nil
	}

	query := `
		SELECT race_id, ticket_type, combination, payout
		FROM payout
		WHERE race_id = ANY($1)
	`

	rows, err := r.db.GetPool().Query(ctx, query, raceIDs)
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "payout.get_by_races", Err: err}
	}
	defer rows.Close()

	out := make(map[string][]*models.PayoutLine, len(raceIDs))
	for rows.Next() {
		p := &models.PayoutLine{}
		if err := rows.Scan(&p.RaceID, &p.TicketType, &p.Combination, &p.Payout); err != nil {
			return nil, fmt.Errorf("failed to scan payout line: %w", err)
		}
		out[p.RaceID] = append(out[p.RaceID], p)
	}

	return out, rows.Err()
}

// PostgresConditionRepository implements ConditionRepository for PostgreSQL
type PostgresConditionRepository struct {
	db *database.DB
}

// NewPostgresConditionRepository creates a new condition repository
func NewPostgresConditionRepository(db *database.DB) ConditionRepository {
	return &PostgresConditionRepository{db: db}
}

// Latest returns the most recently inserted condition snapshot for the race
// code truncated to 14 characters.
func (r *PostgresConditionRepository) Latest(ctx context.Context, raceCode string) (*models.TrackCondition, error) {
	if len(raceCode) > 14 {
		raceCode = raceCode[:14]
	}

	query := `
		SELECT race_code, surface, condition_code, weather_code, inserted_at
		FROM condition
		WHERE race_code = $1
		ORDER BY inserted_at DESC
		LIMIT 1
	`

	c := &models.TrackCondition{}
	err := r.db.GetPool().QueryRow(ctx, query, raceCode).Scan(
		&c.RaceCode, &c.Surface, &c.ConditionCode, &c.WeatherCode, &c.InsertedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "condition.latest", Err: err}
	}

	return c, nil
}
