package repository

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourusername/keiba-engine/internal/models"
)

// MockStore is the in-memory store behind DB_MODE=mock and package tests.
// It implements the same leak-prevention contract as the SQL layer: every
// aggregate only considers entries with race_id strictly below the pair's
// race id.
type MockStore struct {
	mu            sync.RWMutex
	races         map[string]*models.Race
	entries       map[string][]*models.Entry
	horses        map[string]*models.Horse
	pedigrees     map[string]*models.Pedigree
	jockeys       map[string]*models.Jockey
	winOdds       map[string]map[int]float64
	payouts       map[string][]*models.PayoutLine
	conditions    map[string]*models.TrackCondition
	predictions   map[string]*models.PredictionRecord
	predictionIDs map[uuid.UUID]string
	calibrations  []*models.CalibrationRecord
	biases        map[string]*models.BiasSnapshot
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		races:         make(map[string]*models.Race),
		entries:       make(map[string][]*models.Entry),
		horses:        make(map[string]*models.Horse),
		pedigrees:     make(map[string]*models.Pedigree),
		jockeys:       make(map[string]*models.Jockey),
		winOdds:       make(map[string]map[int]float64),
		payouts:       make(map[string][]*models.PayoutLine),
		conditions:    make(map[string]*models.TrackCondition),
		predictions:   make(map[string]*models.PredictionRecord),
		predictionIDs: make(map[uuid.UUID]string),
		biases:        make(map[string]*models.BiasSnapshot),
	}
}

// NewSeededMockStore creates a store pre-populated with a deterministic
// race card so the facade works out of the box in mock mode.
func NewSeededMockStore() *MockStore {
	s := NewMockStore()
	s.SeedDemoDay("20250125", "06")
	return s
}

// Repositories exposes the store through the repository interfaces.
func (s *MockStore) Repositories() *Repositories {
	return &Repositories{
		Race:        &mockRaceRepo{s},
		Entry:       &mockEntryRepo{s},
		Horse:       &mockHorseRepo{s},
		History:     &mockHistoryRepo{s},
		Pedigree:    &mockPedigreeRepo{s},
		Jockey:      &mockJockeyRepo{s},
		Odds:        &mockOddsRepo{s},
		Payout:      &mockPayoutRepo{s},
		Condition:   &mockConditionRepo{s},
		Prediction:  &mockPredictionRepo{s},
		Calibration: &mockCalibrationRepo{s},
		Bias:        &mockBiasRepo{s},
	}
}

// AddRace inserts a race and its starters.
func (s *MockStore) AddRace(race *models.Race, entries []*models.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.races[race.RaceID] = race
	s.entries[race.RaceID] = entries
}

// AddHorse inserts a horse registry row.
func (s *MockStore) AddHorse(h *models.Horse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.horses[h.HorseID] = h
}

// AddPedigree inserts a sire line.
func (s *MockStore) AddPedigree(p *models.Pedigree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pedigrees[p.HorseID] = p
}

// AddBias inserts a bias snapshot.
func (s *MockStore) AddBias(snap *models.BiasSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.biases[snap.Date.Format("20060102")+":"+snap.Venue] = snap
}

// AddCondition inserts a track condition snapshot.
func (s *MockStore) AddCondition(c *models.TrackCondition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conditions[c.RaceCode] = c
}

// AddWinOdds inserts win odds for a race.
func (s *MockStore) AddWinOdds(raceID string, odds map[int]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.winOdds[raceID] = odds
}

// AddPayout inserts a payout line.
func (s *MockStore) AddPayout(p *models.PayoutLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts[p.RaceID] = append(s.payouts[p.RaceID], p)
}

// SeedDemoDay populates 12 declared races for one (date, venue) along with
// two seasons of finalized history for every starter. Deterministic: the
// generator is seeded from the race id.
func (s *MockStore) SeedDemoDay(date, venue string) {
	for raceNo := 1; raceNo <= 12; raceNo++ {
		raceID := fmt.Sprintf("%s%s0109%02d", date, venue, raceNo)
		s.seedRace(raceID, 10+raceNo%5, models.DataKindDeclared)
	}
}

// SeedDemoYear populates finalized races across one training year.
func (s *MockStore) SeedDemoYear(year int) {
	for month := 1; month <= 12; month++ {
		for day := 0; day < 2; day++ {
			date := fmt.Sprintf("%04d%02d%02d", year, month, 8+day*14)
			for raceNo := 1; raceNo <= 4; raceNo++ {
				raceID := fmt.Sprintf("%s05010%d%02d", date, day+1, raceNo)
				s.seedRace(raceID, 8+raceNo, models.DataKindFinalized)
			}
		}
	}
}

func (s *MockStore) seedRace(raceID string, starters int, dataKind string) {
	rng := rand.New(rand.NewSource(int64(stableHash(raceID))))
	date, _ := models.RaceDateFromID(raceID)
	venue := models.VenueFromID(raceID)

	trackCode := models.TrackCodeTurfMin + rng.Intn(6)
	if rng.Intn(3) == 0 {
		trackCode = models.TrackCodeDirtMin + rng.Intn(3)
	}

	kai, _ := strconv.Atoi(raceID[10:12])
	nichime, _ := strconv.Atoi(raceID[12:14])
	raceNumber, _ := strconv.Atoi(raceID[14:16])

	race := &models.Race{
		RaceID:        raceID,
		MeetYear:      date.Year(),
		MeetMonthDay:  date.Format("0102"),
		VenueCode:     venue,
		Kai:           kai,
		Nichime:       nichime,
		RaceNumber:    raceNumber,
		RaceName:      fmt.Sprintf("Demo Stakes %s", raceID[12:]),
		DistanceM:     1200 + 200*rng.Intn(6),
		TrackCode:     trackCode,
		GradeCode:     "normal",
		StartTime:     date.Add(time.Duration(10+rng.Intn(6)) * time.Hour),
		WeatherCode:   "1",
		ConditionCode: models.ConditionGood,
		DataKind:      dataKind,
	}

	entries := make([]*models.Entry, 0, starters)
	for i := 1; i <= starters; i++ {
		horseID := fmt.Sprintf("H%s%02d", raceID[2:8], i)
		e := &models.Entry{
			RaceID:        raceID,
			HorseNumber:   i,
			Post:          (i + 1) / 2,
			HorseID:       horseID,
			HorseName:     fmt.Sprintf("Demo Horse %02d", i),
			SexCode:       fmt.Sprintf("%d", 1+rng.Intn(2)),
			Age:           3 + rng.Intn(4),
			CarriedWeight: 540 + rng.Intn(40),
			JockeyID:      fmt.Sprintf("J%03d", 1+rng.Intn(40)),
			TrainerID:     fmt.Sprintf("T%03d", 1+rng.Intn(60)),
			BodyWeight:    440 + rng.Intn(80),
			WeightDelta:   rng.Intn(17) - 8,
			DeclaredOdds:  decimal.NewFromFloat(1.5 + rng.Float64()*48),
			Popularity:    i,
			DataKind:      dataKind,
		}
		if dataKind == models.DataKindFinalized {
			e.FinishPosition = i
			e.FinishTime = 70 + float64(race.DistanceM)/20 + rng.Float64()*3
			e.Corner3 = 1 + rng.Intn(starters)
			e.Corner4 = 1 + rng.Intn(starters)
			e.Last3F = 33.5 + rng.Float64()*4
		}
		entries = append(entries, e)

		s.ensureHorseHistory(horseID, raceID, rng)
	}

	s.mu.Lock()
	s.races[raceID] = race
	s.entries[raceID] = entries
	odds := make(map[int]float64, starters)
	for _, e := range entries {
		f, _ := e.DeclaredOdds.Float64()
		odds[e.HorseNumber] = f
	}
	s.winOdds[raceID] = odds
	if dataKind == models.DataKindFinalized {
		winner := entries[0]
		f, _ := winner.DeclaredOdds.Float64()
		s.payouts[raceID] = []*models.PayoutLine{
			{RaceID: raceID, TicketType: models.TicketWin,
				Combination: fmt.Sprintf("%d", winner.HorseNumber),
				Payout:      decimal.NewFromFloat(math.Round(f * 100))},
			{RaceID: raceID, TicketType: models.TicketPlace,
				Combination: fmt.Sprintf("%d", winner.HorseNumber),
				Payout:      decimal.NewFromFloat(math.Round(f * 35))},
		}
	}
	s.mu.Unlock()
}

// ensureHorseHistory backfills ~8 finalized past races for a horse, all
// strictly earlier than beforeRaceID.
func (s *MockStore) ensureHorseHistory(horseID, beforeRaceID string, rng *rand.Rand) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.horses[horseID] != nil {
		return
	}

	s.horses[horseID] = &models.Horse{
		HorseID: horseID,
		Name:    "Demo " + horseID,
		Sex:     "1",
	}
	s.pedigrees[horseID] = &models.Pedigree{
		HorseID:       horseID,
		SireID:        fmt.Sprintf("S%03d", rng.Intn(200)),
		BroodmareSire: fmt.Sprintf("B%03d", rng.Intn(200)),
	}

	date, err := models.RaceDateFromID(beforeRaceID)
	if err != nil {
		return
	}

	runs := 5 + rng.Intn(6)
	for i := 1; i <= runs; i++ {
		past := date.AddDate(0, 0, -21*i-rng.Intn(7))
		pastID := fmt.Sprintf("%s%02d01%02d%02d", past.Format("20060102"), 1+rng.Intn(10), i%10, 1+rng.Intn(12))
		if pastID >= beforeRaceID {
			continue
		}
		starters := 10 + rng.Intn(8)
		pos := 1 + rng.Intn(starters)
		if s.races[pastID] == nil {
			s.races[pastID] = &models.Race{
				RaceID:        pastID,
				MeetYear:      past.Year(),
				VenueCode:     models.VenueFromID(pastID),
				DistanceM:     1200 + 200*rng.Intn(6),
				TrackCode:     models.TrackCodeTurfMin + rng.Intn(10),
				GradeCode:     "normal",
				StartTime:     past,
				ConditionCode: fmt.Sprintf("%d", 1+rng.Intn(2)),
				DataKind:      models.DataKindFinalized,
			}
		}
		s.entries[pastID] = append(s.entries[pastID], &models.Entry{
			RaceID:         pastID,
			HorseNumber:    1 + rng.Intn(starters),
			Post:           1 + rng.Intn(8),
			HorseID:        horseID,
			JockeyID:       fmt.Sprintf("J%03d", 1+rng.Intn(40)),
			FinishPosition: pos,
			FinishTime:     95 + rng.Float64()*20,
			Corner3:        1 + rng.Intn(starters),
			Corner4:        maxInt(1, pos-rng.Intn(3)),
			Last3F:         33.5 + rng.Float64()*4,
			Popularity:     1 + rng.Intn(starters),
			DataKind:       models.DataKindFinalized,
		})
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// stableHash is a small FNV-1a, used only to seed the demo generator.
func stableHash(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// pastEntries returns a horse's finalized entries strictly before raceID,
// newest first, joined with their races.
func (s *MockStore) pastEntries(horseID, raceID string) []*models.Entry {
	var out []*models.Entry
	for id, list := range s.entries {
		if id >= raceID {
			continue
		}
		for _, e := range list {
			if e.HorseID == horseID && e.DataKind == models.DataKindFinalized && e.HasResult() {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaceID > out[j].RaceID })
	return out
}

func rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
