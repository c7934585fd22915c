package adjust

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/probability"
	"github.com/yourusername/keiba-engine/internal/repository"
)

// Track-condition adjustment constants. These are deliberately kept
// bit-identical across deployments so backtests stay comparable.
const (
	wetWinStrong   = 0.03
	wetWinWeak     = 0.01
	wetTop3Strong  = 0.02
	wetTop3Weak    = 0.01
	wetExperience  = 0.01
	wetUnproven    = -0.02
	minCondRuns    = 2
	expCondRuns    = 5
	winStrongRate  = 0.15
	winWeakRate    = 0.05
	top3StrongRate = 0.4
	top3WeakRate   = 0.2
)

// TrackAdjuster reweights final predictions from the current surface state
// and each horse's record on that exact surface and condition.
type TrackAdjuster struct {
	conditions repository.ConditionRepository
	history    repository.HistoryRepository
	log        *logrus.Logger
}

// NewTrackAdjuster creates a track-condition adjuster.
func NewTrackAdjuster(conditions repository.ConditionRepository, history repository.HistoryRepository, log *logrus.Logger) *TrackAdjuster {
	return &TrackAdjuster{conditions: conditions, history: history, log: log}
}

// Apply adjusts scores in place. horseIDs maps horse number to horse id so
// condition splits can be joined back to the scored field. Applied to final
// predictions only; the caller renormalizes afterwards.
func (a *TrackAdjuster) Apply(ctx context.Context, race *models.Race, horses []probability.HorseScore, horseIDs map[int]string) error {
	code := race.ConditionCode
	surface := race.Surface()

	cond, err := a.conditions.Latest(ctx, race.RaceID)
	if err == nil {
		code = cond.ConditionCode
		surface = cond.Surface
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	pairs := make([]repository.HorseRacePair, 0, len(horses))
	for i := range horses {
		if id := horseIDs[horses[i].HorseNumber]; id != "" {
			pairs = append(pairs, repository.HorseRacePair{HorseID: id, RaceID: race.RaceID})
		}
	}
	records, err := a.history.ConditionRecords(ctx, pairs)
	if err != nil {
		return err
	}

	wet := models.ConditionIsWet(code)
	for i := range horses {
		h := &horses[i]
		id := horseIDs[h.HorseNumber]
		if id == "" {
			continue
		}
		rec := findConditionCell(records[repository.HorseRacePair{HorseID: id, RaceID: race.RaceID}], surface, code)

		delta := conditionDelta(rec, wet)
		if delta == 0 {
			continue
		}
		h.RankScore -= delta
		h.Win = clipProb(h.Win * (1 + 3*delta))
		h.Quinella = clipProb(h.Quinella * (1 + 2.5*delta))
		h.Place = clipProb(h.Place * (1 + 2*delta))
	}

	a.log.WithFields(logrus.Fields{
		"race_id":   race.RaceID,
		"condition": code,
		"surface":   surface,
	}).Debug("Applied track-condition adjustment")

	return nil
}

func findConditionCell(recs []*models.ConditionRecord, surface models.Surface, code string) *models.ConditionRecord {
	for _, r := range recs {
		if r.Surface == surface && r.ConditionCode == code {
			return r
		}
	}
	return nil
}

// conditionDelta builds the additive adjustment for one horse. Horses with
// no wet-surface experience at all are penalized as unproven.
func conditionDelta(rec *models.ConditionRecord, wet bool) float64 {
	if !wet {
		return 0
	}
	if rec == nil || rec.Runs == 0 {
		return wetUnproven
	}
	if rec.Runs < minCondRuns {
		return 0
	}

	var delta float64
	switch {
	case rec.WinRate > winStrongRate:
		delta += wetWinStrong
	case rec.WinRate > winWeakRate:
		delta += wetWinWeak
	}
	switch {
	case rec.Top3Rate > top3StrongRate:
		delta += wetTop3Strong
	case rec.Top3Rate > top3WeakRate:
		delta += wetTop3Weak
	}
	if rec.Runs >= expCondRuns {
		delta += wetExperience
	}
	return delta
}
