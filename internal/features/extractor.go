package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
)

// Aggregate window lengths in years.
const (
	sireStatsYears    = 3
	sireMaidenYears   = 5
	jockeyMaidenYears = 3
)

var conditionCellNames = map[string]string{
	models.ConditionGood:          "good",
	models.ConditionSlightlyHeavy: "sheavy",
	models.ConditionHeavy:         "heavy",
	models.ConditionBad:           "bad",
}

// Right-handed venue codes; the rest run left-handed.
var rightHandedVenues = map[string]bool{
	"01": true, "02": true, "03": true, "06": true,
	"08": true, "09": true, "10": true,
}

// Extractor builds feature rows for a single race or a whole training year.
// All history lookups are batched and leak-free: the repository filters with
// race_id strictly below the target race inside SQL. State is per-call only.
type Extractor struct {
	repos *repository.Repositories
	log   *logrus.Logger
}

// NewExtractor creates a feature extractor over the repository set.
func NewExtractor(repos *repository.Repositories, log *logrus.Logger) *Extractor {
	return &Extractor{repos: repos, log: log}
}

// ExtractYear builds one row per finalized starter for a training year.
// Rows without a valid finishing position are skipped.
func (ex *Extractor) ExtractYear(ctx context.Context, year int, surface models.Surface) ([]FeatureRow, error) {
	races, err := ex.repos.Race.GetYear(ctx, year, surface)
	if err != nil {
		return nil, fmt.Errorf("failed to load races for %d: %w", year, err)
	}
	if len(races) == 0 {
		return nil, nil
	}

	// Sire/jockey windows anchored at January 1 so no aggregate can see into
	// the extraction year itself.
	asOf := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)

	ex.log.WithFields(logrus.Fields{
		"year":    year,
		"surface": surface,
		"races":   len(races),
	}).Info("Extracting training features")

	return ex.extract(ctx, races, asOf, true)
}

// ExtractRace builds one row per declared starter for inference. Scratched
// starters (horse number 0) are dropped.
func (ex *Extractor) ExtractRace(ctx context.Context, raceID string) ([]FeatureRow, error) {
	race, err := ex.repos.Race.GetByID(ctx, raceID)
	if err != nil {
		return nil, err
	}

	return ex.extract(ctx, []*models.Race{race}, race.Date(), false)
}

// bundle holds every batched aggregate family for one extraction.
type bundle struct {
	past       map[repository.HorseRacePair]*models.PastPerformance
	surfaces   map[repository.HorseRacePair]*models.SurfaceRecord
	directions map[repository.HorseRacePair]*models.DirectionRecord
	conditions map[repository.HorseRacePair][]*models.ConditionRecord
	rests      map[repository.HorseRacePair][]*models.RestRecord
	venues     map[repository.HorseRacePair]*models.VenueRecord
	prevs      map[repository.HorseRacePair][]*models.PrevRaceDetail
	combos     map[repository.HorseRacePair]*models.ComboRecord
	pedigrees  map[string]*models.Pedigree
	sires      map[string]*models.SireRecord
	sireMaiden map[string]*models.SireRecord
	jockeyYear map[string]*models.JockeyRecord
	jockeyMdn  map[string]*models.JockeyRecord
}

func (ex *Extractor) extract(ctx context.Context, races []*models.Race, asOf time.Time, training bool) ([]FeatureRow, error) {
	raceIDs := make([]string, len(races))
	for i, r := range races {
		raceIDs[i] = r.RaceID
	}

	entriesByRace, err := ex.repos.Entry.GetByRaceIDs(ctx, raceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	starters := make(map[string][]*models.Entry, len(races))
	var pairs []repository.HorseRacePair
	var comboPairs []repository.HorseJockeyPair
	horseSet := make(map[string]bool)
	jockeySet := make(map[string]bool)

	for _, race := range races {
		for _, e := range entriesByRace[race.RaceID] {
			if e.IsScratched() {
				continue
			}
			if training && !e.HasResult() {
				continue
			}
			starters[race.RaceID] = append(starters[race.RaceID], e)
			pair := repository.HorseRacePair{HorseID: e.HorseID, RaceID: race.RaceID}
			pairs = append(pairs, pair)
			comboPairs = append(comboPairs, repository.HorseJockeyPair{
				HorseID: e.HorseID, JockeyID: e.JockeyID, RaceID: race.RaceID,
			})
			horseSet[e.HorseID] = true
			jockeySet[e.JockeyID] = true
		}
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	b, err := ex.loadBundle(ctx, pairs, comboPairs, keys(horseSet), keys(jockeySet), asOf)
	if err != nil {
		return nil, err
	}

	var rows []FeatureRow
	for _, race := range races {
		field := starters[race.RaceID]
		if len(field) == 0 {
			continue
		}
		pace := ex.racePace(race, field, b)
		for _, e := range field {
			rows = append(rows, ex.buildRow(race, e, len(field), pace, b, training))
		}
	}

	ex.log.WithFields(logrus.Fields{
		"rows":     len(rows),
		"features": Count(),
	}).Debug("Feature extraction complete")

	return rows, nil
}

func (ex *Extractor) loadBundle(ctx context.Context, pairs []repository.HorseRacePair, comboPairs []repository.HorseJockeyPair, horseIDs, jockeyIDs []string, asOf time.Time) (*bundle, error) {
	b := &bundle{}
	var err error

	if b.past, err = ex.repos.History.PastPerformance(ctx, pairs); err != nil {
		return nil, err
	}
	if b.surfaces, err = ex.repos.History.SurfaceRecords(ctx, pairs); err != nil {
		return nil, err
	}
	if b.directions, err = ex.repos.History.DirectionRecords(ctx, pairs); err != nil {
		return nil, err
	}
	if b.conditions, err = ex.repos.History.ConditionRecords(ctx, pairs); err != nil {
		return nil, err
	}
	if b.rests, err = ex.repos.History.RestRecords(ctx, pairs); err != nil {
		return nil, err
	}
	if b.venues, err = ex.repos.History.VenueRecords(ctx, pairs); err != nil {
		return nil, err
	}
	if b.prevs, err = ex.repos.History.PrevRaces(ctx, pairs, prevRaceCount); err != nil {
		return nil, err
	}
	if b.combos, err = ex.repos.History.ComboRecords(ctx, comboPairs); err != nil {
		return nil, err
	}
	if b.pedigrees, err = ex.repos.Pedigree.GetByHorseIDs(ctx, horseIDs); err != nil {
		return nil, err
	}

	sireSet := make(map[string]bool)
	for _, p := range b.pedigrees {
		if p.SireID != "" {
			sireSet[p.SireID] = true
		}
	}
	sireIDs := keys(sireSet)

	if b.sires, err = ex.repos.Pedigree.SireStats(ctx, sireIDs, asOf, sireStatsYears); err != nil {
		return nil, err
	}
	if b.sireMaiden, err = ex.repos.Pedigree.SireMaidenStats(ctx, sireIDs, asOf, sireMaidenYears); err != nil {
		return nil, err
	}
	if b.jockeyYear, err = ex.repos.Jockey.YearStats(ctx, jockeyIDs, asOf.Year()); err != nil {
		return nil, err
	}
	if b.jockeyMdn, err = ex.repos.Jockey.MaidenStats(ctx, jockeyIDs, asOf, jockeyMaidenYears); err != nil {
		return nil, err
	}

	return b, nil
}

// racePace counts running styles across the field and predicts the pace.
type pacePrediction struct {
	pace   string
	counts [5]int // indexed by style
}

func (ex *Extractor) racePace(race *models.Race, field []*models.Entry, b *bundle) pacePrediction {
	var p pacePrediction
	for _, e := range field {
		pair := repository.HorseRacePair{HorseID: e.HorseID, RaceID: race.RaceID}
		if past := b.past[pair]; past != nil {
			p.counts[runningStyle(past.AvgCorner3)]++
		}
	}
	p.pace = predictPace(p.counts[styleFront])
	return p
}

func (ex *Extractor) buildRow(race *models.Race, e *models.Entry, fieldSize int, pace pacePrediction, b *bundle, training bool) FeatureRow {
	pair := repository.HorseRacePair{HorseID: e.HorseID, RaceID: race.RaceID}
	v := newRow()

	odds, _ := e.DeclaredOdds.Float64()
	set(v, "horse_number", float64(e.HorseNumber))
	set(v, "post", float64(e.Post))
	set(v, "post_inner", boolToFloat(e.Post >= 1 && e.Post <= 4))
	set(v, "age", float64(e.Age))
	set(v, "sex", numericCode(e.SexCode))
	set(v, "carried_weight", float64(e.CarriedWeight))
	set(v, "body_weight", float64(e.BodyWeight))
	set(v, "weight_delta", float64(e.WeightDelta))
	set(v, "declared_odds", odds)
	if odds > 0 {
		set(v, "odds_log", math.Log(odds))
	}
	set(v, "popularity", float64(e.Popularity))
	set(v, "blinkers", boolToFloat(e.Blinkers))

	surface := race.Surface()
	set(v, "distance_m", float64(race.DistanceM))
	set(v, "distance_log", math.Log(float64(race.DistanceM)))
	set(v, "field_size", float64(fieldSize))
	set(v, "race_number", float64(race.RaceNumber))
	set(v, "is_turf", boolToFloat(surface == models.SurfaceTurf))
	set(v, "is_dirt", boolToFloat(surface == models.SurfaceDirt))
	set(v, "condition_code", numericCode(race.ConditionCode))

	ex.setPastPerformance(v, e, b.past[pair])
	ex.setSurfaceRecord(v, surface, b.surfaces[pair])
	ex.setDirectionRecord(v, race, b.directions[pair])
	ex.setConditionRecords(v, race, surface, b.conditions[pair])
	ex.setRestRecords(v, race, b.rests[pair], b.prevs[pair])
	ex.setPedigree(v, surface, b, e.HorseID)
	ex.setJockey(v, b, e.JockeyID, b.combos[pair])
	ex.setVenue(v, b.venues[pair])
	ex.setPrevRaces(v, b.prevs[pair])
	ex.setPace(v, pace, b.past[pair])

	s := seasonalEncodings(race.Date(), e.Age)
	set(v, "month_sin", s.MonthSin)
	set(v, "month_cos", s.MonthCos)
	set(v, "meet_week", s.MeetWeek)
	set(v, "age3_growth", s.Age3Growth)
	set(v, "age4_early", s.Age4Early)
	set(v, "winter", s.Winter)

	row := FeatureRow{
		RaceID:      race.RaceID,
		HorseID:     e.HorseID,
		HorseNumber: e.HorseNumber,
		Post:        e.Post,
		JockeyID:    e.JockeyID,
		HorseName:   e.HorseName,
		Values:      v,
	}
	if training && e.HasResult() {
		row.Target = e.FinishPosition
		row.HasTarget = true
	}
	return row
}

func (ex *Extractor) setPastPerformance(v []float64, e *models.Entry, p *models.PastPerformance) {
	if p == nil {
		// first starter: priors only
		set(v, "win_rate", priorWinRate)
		set(v, "place_rate", priorPlaceRate)
		set(v, "avg_last_3f", priorLast3F)
		set(v, "best_last_3f", priorLast3F)
		return
	}
	set(v, "run_count", float64(p.RunCount))
	set(v, "win_rate", p.WinRate)
	set(v, "place_rate", p.PlaceRate)
	set(v, "avg_time", p.AvgTime)
	set(v, "avg_last_3f", orPrior(p.AvgLast3F, priorLast3F))
	set(v, "best_last_3f", orPrior(p.BestLast3F, priorLast3F))
	set(v, "avg_corner_3", p.AvgCorner3)
	set(v, "avg_corner_4", p.AvgCorner4)
	set(v, "best_finish", float64(p.BestFinish))
	set(v, "decay_win_rate", p.DecayWinRate)
	set(v, "decay_place_rate", p.DecayPlaceRate)
	set(v, "decay_avg_finish", p.DecayAvgFinish)
	set(v, "pos_change_mean", p.PosChangeMean)
	set(v, "pos_change_std", p.PosChangeStd)
	set(v, "std_rank", p.StdRank)
	set(v, "std_time", p.StdTime)
	set(v, "std_last_3f", p.StdLast3F)
	set(v, "same_jockey_as_last", boolToFloat(p.LastJockeyID == e.JockeyID))
}

func (ex *Extractor) setSurfaceRecord(v []float64, surface models.Surface, s *models.SurfaceRecord) {
	if s == nil {
		set(v, "surface_win_rate", priorWinRate)
		set(v, "surface_place_rate", priorPlaceRate)
		return
	}
	set(v, "turf_runs", float64(s.TurfRuns))
	set(v, "turf_win_rate", s.TurfWinRate)
	set(v, "turf_place_rate", s.TurfPlaceRate)
	set(v, "dirt_runs", float64(s.DirtRuns))
	set(v, "dirt_win_rate", s.DirtWinRate)
	set(v, "dirt_place_rate", s.DirtPlaceRate)

	switch surface {
	case models.SurfaceDirt:
		set(v, "surface_win_rate", blendPrior(s.DirtWinRate, priorWinRate, s.DirtRuns))
		set(v, "surface_place_rate", blendPrior(s.DirtPlaceRate, priorPlaceRate, s.DirtRuns))
	default:
		set(v, "surface_win_rate", blendPrior(s.TurfWinRate, priorWinRate, s.TurfRuns))
		set(v, "surface_place_rate", blendPrior(s.TurfPlaceRate, priorPlaceRate, s.TurfRuns))
	}
}

func (ex *Extractor) setDirectionRecord(v []float64, race *models.Race, d *models.DirectionRecord) {
	if d == nil {
		set(v, "direction_win_rate", 0.25)
		return
	}
	set(v, "right_runs", float64(d.RightRuns))
	set(v, "right_win_rate", smoothRate(d.RightWinRate, d.RightRuns))
	set(v, "left_runs", float64(d.LeftRuns))
	set(v, "left_win_rate", smoothRate(d.LeftWinRate, d.LeftRuns))

	if rightHandedVenues[race.VenueCode] {
		set(v, "direction_win_rate", smoothRate(d.RightWinRate, d.RightRuns))
	} else {
		set(v, "direction_win_rate", smoothRate(d.LeftWinRate, d.LeftRuns))
	}
}

func (ex *Extractor) setConditionRecords(v []float64, race *models.Race, surface models.Surface, recs []*models.ConditionRecord) {
	for _, rec := range recs {
		cell, ok := conditionCellNames[rec.ConditionCode]
		if !ok {
			continue
		}
		prefix := fmt.Sprintf("%s_%s", rec.Surface, cell)
		set(v, prefix+"_runs", float64(rec.Runs))
		set(v, prefix+"_win_rate", rec.WinRate)
		set(v, prefix+"_top3_rate", rec.Top3Rate)

		if rec.Surface == surface && rec.ConditionCode == race.ConditionCode {
			set(v, "cond_runs", float64(rec.Runs))
			set(v, "cond_win_rate", rec.WinRate)
			set(v, "cond_top3_rate", rec.Top3Rate)
		}
	}
}

func (ex *Extractor) setRestRecords(v []float64, race *models.Race, recs []*models.RestRecord, prevs []*models.PrevRaceDetail) {
	for _, rec := range recs {
		set(v, fmt.Sprintf("rest_%s_runs", rec.Bucket), float64(rec.Runs))
		set(v, fmt.Sprintf("rest_%s_win_rate", rec.Bucket), rec.WinRate)
	}
	if len(prevs) == 0 {
		return
	}
	days := int(race.Date().Sub(prevs[0].RaceDate).Hours() / 24)
	set(v, "rest_days", float64(days))
	switch {
	case days <= 7:
		set(v, "rest_le7", 1)
	case days <= 14:
		set(v, "rest_8_14", 1)
	case days <= 21:
		set(v, "rest_15_21", 1)
	case days <= 28:
		set(v, "rest_22_28", 1)
	default:
		set(v, "rest_ge29", 1)
	}
}

func (ex *Extractor) setPedigree(v []float64, surface models.Surface, b *bundle, horseID string) {
	ped := b.pedigrees[horseID]
	if ped == nil {
		set(v, "sire_win_rate", priorWinRate)
		set(v, "sire_place_rate", priorPlaceRate)
		set(v, "sire_surface_win_rate", priorWinRate)
		set(v, "sire_surface_place_rate", priorPlaceRate)
		set(v, "sire_maiden_win_rate", priorWinRate)
		set(v, "sire_maiden_place_rate", priorPlaceRate)
		return
	}
	set(v, "sire_hash", hashBucket(ped.SireID))
	set(v, "broodmare_sire_hash", hashBucket(ped.BroodmareSire))

	if s := b.sires[ped.SireID]; s != nil {
		conf := logConfidence(s.Runs, sireThreshold)
		set(v, "sire_win_rate", blend(s.WinRate, priorWinRate, conf))
		set(v, "sire_place_rate", blend(s.PlaceRate, priorPlaceRate, conf))
		if surface == models.SurfaceDirt {
			set(v, "sire_surface_win_rate", blend(s.DirtWinRate, priorWinRate, conf))
			set(v, "sire_surface_place_rate", blend(s.DirtPlaceRate, priorPlaceRate, conf))
		} else {
			set(v, "sire_surface_win_rate", blend(s.TurfWinRate, priorWinRate, conf))
			set(v, "sire_surface_place_rate", blend(s.TurfPlaceRate, priorPlaceRate, conf))
		}
	} else {
		set(v, "sire_win_rate", priorWinRate)
		set(v, "sire_place_rate", priorPlaceRate)
		set(v, "sire_surface_win_rate", priorWinRate)
		set(v, "sire_surface_place_rate", priorPlaceRate)
	}

	if m := b.sireMaiden[ped.SireID]; m != nil {
		conf := logConfidence(m.Runs, sireMaidenThreshold)
		set(v, "sire_maiden_win_rate", blend(m.WinRate, priorWinRate, conf))
		set(v, "sire_maiden_place_rate", blend(m.PlaceRate, priorPlaceRate, conf))
	} else {
		set(v, "sire_maiden_win_rate", priorWinRate)
		set(v, "sire_maiden_place_rate", priorPlaceRate)
	}
}

func (ex *Extractor) setJockey(v []float64, b *bundle, jockeyID string, combo *models.ComboRecord) {
	if j := b.jockeyYear[jockeyID]; j != nil {
		conf := linearConfidence(j.Rides, jockeyRecentThreshold)
		set(v, "jockey_win_rate", blend(j.WinRate, priorWinRate, conf))
		set(v, "jockey_place_rate", blend(j.PlaceRate, priorPlaceRate, conf))
	} else {
		set(v, "jockey_win_rate", priorWinRate)
		set(v, "jockey_place_rate", priorPlaceRate)
	}

	if m := b.jockeyMdn[jockeyID]; m != nil {
		conf := logConfidence(m.Rides, jockeyMaidenThreshold)
		set(v, "jockey_maiden_win_rate", blend(m.WinRate, priorWinRate, conf))
		set(v, "jockey_maiden_place_rate", blend(m.PlaceRate, priorPlaceRate, conf))
	} else {
		set(v, "jockey_maiden_win_rate", priorWinRate)
		set(v, "jockey_maiden_place_rate", priorPlaceRate)
	}

	// Deliberate cliff: pairings with fewer than three shared starts carry no
	// signal and are zeroed rather than smoothed.
	if combo != nil && combo.Runs >= 3 {
		set(v, "jockey_horse_runs", math.Min(1, float64(combo.Runs)/10))
		set(v, "jockey_horse_win_rate", combo.WinRate)
	}
}

func (ex *Extractor) setVenue(v []float64, rec *models.VenueRecord) {
	// under three runs the venue split is noise; keep zeros
	if rec == nil || rec.Runs < 3 {
		return
	}
	set(v, "venue_runs", float64(rec.Runs))
	set(v, "venue_win_rate", rec.WinRate)
	set(v, "venue_place_rate", rec.PlaceRate)
}

func (ex *Extractor) setPrevRaces(v []float64, prevs []*models.PrevRaceDetail) {
	var pushSum float64
	var pushN int
	for _, p := range prevs {
		if p.Seq < 1 || p.Seq > prevRaceCount {
			continue
		}
		prefix := fmt.Sprintf("prev%d", p.Seq)
		set(v, prefix+"_finish", float64(p.FinishPosition))
		set(v, prefix+"_popularity", float64(p.Popularity))
		set(v, prefix+"_last_3f", orPrior(p.Last3F, priorLast3F))
		set(v, prefix+"_last_3f_rank", float64(p.Last3FRank))
		set(v, prefix+"_field_size", float64(p.FieldSize))
		if p.Corner3 > 0 && p.Corner4 > 0 {
			set(v, prefix+"_pos_change", float64(p.Corner4-p.Corner3))
		}
		if p.Corner4 > 0 && p.FinishPosition > 0 {
			pushSum += float64(p.Corner4 - p.FinishPosition)
			pushN++
		}
	}
	if len(prevs) >= 2 {
		oldest := prevs[len(prevs)-1]
		newest := prevs[0]
		set(v, "finish_trend",
			float64(oldest.FinishPosition-newest.FinishPosition)/float64(len(prevs)-1))
	}
	if pushN > 0 {
		set(v, "late_push", pushSum/float64(pushN))
	}
}

func (ex *Extractor) setPace(v []float64, pace pacePrediction, past *models.PastPerformance) {
	if past != nil {
		set(v, "style", float64(runningStyle(past.AvgCorner3)))
	}
	set(v, "pace_fast", boolToFloat(pace.pace == paceFast))
	set(v, "pace_medium", boolToFloat(pace.pace == paceMedium))
	set(v, "pace_slow", boolToFloat(pace.pace == paceSlow))
	set(v, "front_count", float64(pace.counts[styleFront]))
	set(v, "stalker_count", float64(pace.counts[styleStalker]))
	set(v, "closer_count", float64(pace.counts[styleCloser]))
	set(v, "deep_closer_count", float64(pace.counts[styleDeepCloser]))
}

// blendPrior blends with log confidence saturating at 10 samples.
func blendPrior(rate, prior float64, n int) float64 {
	return blend(rate, prior, logConfidence(n, 10))
}

func orPrior(v, prior float64) float64 {
	if v <= 0 {
		return prior
	}
	return v
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
