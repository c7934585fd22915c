package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/keiba-engine/internal/models"
)

// HorseRacePair drives the batched leak-free aggregate queries: every
// aggregate for HorseID is computed over rows strictly earlier than RaceID.
type HorseRacePair struct {
	HorseID string
	RaceID  string
}

// HorseJockeyPair drives the jockey-horse combo aggregate.
type HorseJockeyPair struct {
	HorseID  string
	JockeyID string
	RaceID   string
}

// RaceRepository reads the race table.
type RaceRepository interface {
	GetByID(ctx context.Context, raceID string) (*models.Race, error)
	GetByDate(ctx context.Context, date time.Time) ([]*models.Race, error)
	GetUpcoming(ctx context.Context, limit int) ([]*models.Race, error)
	SearchByName(ctx context.Context, name string, limit int) ([]*models.Race, error)
	// GetYear returns finalized races of one year, optionally restricted by
	// surface via track code range, ordered by race id.
	GetYear(ctx context.Context, year int, surface models.Surface) ([]*models.Race, error)
}

// EntryRepository reads starter rows.
type EntryRepository interface {
	GetByRaceID(ctx context.Context, raceID string) ([]*models.Entry, error)
	GetByRaceIDs(ctx context.Context, raceIDs []string) (map[string][]*models.Entry, error)
}

// HorseRepository reads the horse registry.
type HorseRepository interface {
	GetByID(ctx context.Context, horseID string) (*models.Horse, error)
	SearchByName(ctx context.Context, name string, limit int) ([]*models.Horse, error)
}

// HistoryRepository computes the batched past-performance aggregate
// families. Every query joins a VALUES table of (horse_id, race_id) pairs
// and filters with race_id < the pair's race id inside SQL, so the target
// race can never leak into its own features.
type HistoryRepository interface {
	PastPerformance(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.PastPerformance, error)
	SurfaceRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.SurfaceRecord, error)
	DirectionRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.DirectionRecord, error)
	ConditionRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair][]*models.ConditionRecord, error)
	RestRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair][]*models.RestRecord, error)
	VenueRecords(ctx context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.VenueRecord, error)
	PrevRaces(ctx context.Context, pairs []HorseRacePair, n int) (map[HorseRacePair][]*models.PrevRaceDetail, error)
	ComboRecords(ctx context.Context, pairs []HorseJockeyPair) (map[HorseRacePair]*models.ComboRecord, error)
}

// PedigreeRepository reads sire lines and offspring aggregates.
type PedigreeRepository interface {
	GetByHorseIDs(ctx context.Context, horseIDs []string) (map[string]*models.Pedigree, error)
	// SireStats aggregates offspring results for the given sires over the
	// past `years` years, split by surface.
	SireStats(ctx context.Context, sireIDs []string, asOf time.Time, years int) (map[string]*models.SireRecord, error)
	// SireMaidenStats is the maiden-race-only variant.
	SireMaidenStats(ctx context.Context, sireIDs []string, asOf time.Time, years int) (map[string]*models.SireRecord, error)
}

// JockeyRepository reads jockey registry rows and aggregates.
type JockeyRepository interface {
	YearStats(ctx context.Context, jockeyIDs []string, year int) (map[string]*models.JockeyRecord, error)
	MaidenStats(ctx context.Context, jockeyIDs []string, asOf time.Time, years int) (map[string]*models.JockeyRecord, error)
	SearchByName(ctx context.Context, name string, limit int) ([]*models.Jockey, error)
	// DayForm aggregates each jockey's completed rides within one race day
	// at one venue; consumed by the bias snapshot builder.
	DayForm(ctx context.Context, date time.Time, venue string) (map[string]models.JockeyDayForm, error)
}

// OddsRepository reads pre-race odds.
type OddsRepository interface {
	GetByRace(ctx context.Context, raceID string, ticket models.TicketType) ([]*models.OddsLine, error)
	// WinOdds returns the win odds per horse number for many races at once;
	// consumed by the expected-value betting simulation.
	WinOdds(ctx context.Context, raceIDs []string) (map[string]map[int]float64, error)
}

// PayoutRepository reads settled payouts; evaluation only.
type PayoutRepository interface {
	GetByRaceIDs(ctx context.Context, raceIDs []string) (map[string][]*models.PayoutLine, error)
}

// ConditionRepository reads the time-stamped track condition snapshots.
type ConditionRepository interface {
	// Latest returns the most recently inserted condition row for the race
	// code truncated to 14 characters.
	Latest(ctx context.Context, raceCode string) (*models.TrackCondition, error)
}

// PredictionRepository persists prediction bundles. (race_id, is_final) is
// unique; Upsert resolves concurrent writers last-writer-wins.
type PredictionRepository interface {
	Upsert(ctx context.Context, rec *models.PredictionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PredictionRecord, error)
	GetByRace(ctx context.Context, raceID string) ([]*models.PredictionRecord, error)
}

// CalibrationRepository persists the trainer's calibration bin sidecar.
type CalibrationRepository interface {
	Save(ctx context.Context, rec *models.CalibrationRecord) error
	GetActive(ctx context.Context) (*models.CalibrationRecord, error)
}

// BiasRepository persists per-day, per-venue bias snapshots.
type BiasRepository interface {
	Get(ctx context.Context, date time.Time, venue string) (*models.BiasSnapshot, error)
	Save(ctx context.Context, snap *models.BiasSnapshot) error
}

// Repositories holds all repository implementations
type Repositories struct {
	Race        RaceRepository
	Entry       EntryRepository
	Horse       HorseRepository
	History     HistoryRepository
	Pedigree    PedigreeRepository
	Jockey      JockeyRepository
	Odds        OddsRepository
	Payout      PayoutRepository
	Condition   ConditionRepository
	Prediction  PredictionRepository
	Calibration CalibrationRepository
	Bias        BiasRepository
}
