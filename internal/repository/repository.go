package repository

import (
	"fmt"

	"github.com/yourusername/keiba-engine/internal/database"
)

// NewRepositories creates the Postgres-backed repository set.
func NewRepositories(db *database.DB) (*Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &Repositories{
		Race:        NewPostgresRaceRepository(db),
		Entry:       NewPostgresEntryRepository(db),
		Horse:       NewPostgresHorseRepository(db),
		History:     NewPostgresHistoryRepository(db),
		Pedigree:    NewPostgresPedigreeRepository(db),
		Jockey:      NewPostgresJockeyRepository(db),
		Odds:        NewPostgresOddsRepository(db),
		Payout:      NewPostgresPayoutRepository(db),
		Condition:   NewPostgresConditionRepository(db),
		Prediction:  NewPostgresPredictionRepository(db),
		Calibration: NewPostgresCalibrationRepository(db),
		Bias:        NewPostgresBiasRepository(db),
	}, nil
}

// NewMockRepositories creates the in-memory repository set used when
// DB_MODE=mock: a seeded store so the facade works without a database.
func NewMockRepositories() *Repositories {
	return NewSeededMockStore().Repositories()
}
