package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/adjust"
	"github.com/yourusername/keiba-engine/internal/features"
	"github.com/yourusername/keiba-engine/internal/metrics"
	"github.com/yourusername/keiba-engine/internal/modelmanager"
	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/probability"
	"github.com/yourusername/keiba-engine/internal/repository"
)

// PredictionService is the facade the REST layer talks to. It runs the full
// pipeline for one race: features, ensemble scoring, bias and track
// adjustment, probability derivation, and persistence.
type PredictionService struct {
	repos     *repository.Repositories
	manager   *modelmanager.Manager
	extractor *features.Extractor
	bias      *adjust.BiasAdjuster
	track     *adjust.TrackAdjuster
	metrics   *metrics.Metrics
	log       *logrus.Logger
}

// NewPredictionService wires the facade.
func NewPredictionService(repos *repository.Repositories, manager *modelmanager.Manager, m *metrics.Metrics, log *logrus.Logger) *PredictionService {
	return &PredictionService{
		repos:     repos,
		manager:   manager,
		extractor: features.NewExtractor(repos, log),
		bias:      adjust.NewBiasAdjuster(repos.Bias, log),
		track:     adjust.NewTrackAdjuster(repos.Condition, repos.History, log),
		metrics:   m,
		log:       log,
	}
}

// GeneratePrediction runs the pipeline and upserts the result under the
// (race_id, is_final) key. Final predictions additionally apply the
// track-condition adjustment; preliminary ones only the daily bias.
func (s *PredictionService) GeneratePrediction(ctx context.Context, raceID string, isFinal bool, biasDate string) (*models.PredictionResponse, error) {
	started := time.Now()
	resp, err := s.generate(ctx, raceID, isFinal, biasDate)
	s.metrics.PredictionLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		s.metrics.PredictionsFailed.WithLabelValues(failureKind(err)).Inc()
		return nil, err
	}
	s.metrics.PredictionsGenerated.WithLabelValues(fmt.Sprintf("%t", isFinal)).Inc()
	return resp, nil
}

func (s *PredictionService) generate(ctx context.Context, raceID string, isFinal bool, biasDate string) (*models.PredictionResponse, error) {
	if len(raceID) != 16 {
		return nil, models.ErrInvalidRaceID
	}

	race, err := s.repos.Race.GetByID(ctx, raceID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, &models.MissingDataError{RaceID: raceID}
	}
	if err != nil {
		return nil, &models.DatabaseQueryError{Op: "race lookup", Err: err}
	}

	rows, err := s.extractor.ExtractRace(ctx, raceID)
	if err != nil {
		return nil, &models.PredictionError{RaceID: raceID, Stage: "features", Err: err}
	}
	if len(rows) == 0 {
		return nil, &models.MissingDataError{RaceID: raceID, Detail: "no runnable starters"}
	}

	model, err := s.manager.LoadForSurface(race.Surface())
	if err != nil {
		return nil, &models.PredictionError{RaceID: raceID, Stage: "model", Err: err}
	}

	xs := make([][]float64, len(rows))
	for i := range rows {
		xs[i] = rows[i].Values
	}
	scores, err := model.ScoreBatch(xs)
	if err != nil {
		return nil, &models.PredictionError{RaceID: raceID, Stage: "scoring", Err: err}
	}

	horses := make([]probability.HorseScore, len(rows))
	horseIDs := make(map[int]string, len(rows))
	for i, r := range rows {
		horses[i] = probability.HorseScore{
			HorseNumber: r.HorseNumber,
			HorseName:   r.HorseName,
			Post:        r.Post,
			JockeyID:    r.JockeyID,
			RankScore:   scores[i].RankScore,
			Win:         scores[i].Win,
			Quinella:    scores[i].Quinella,
			Place:       scores[i].Place,
		}
		horseIDs[r.HorseNumber] = r.HorseID
	}

	if err := s.bias.Apply(ctx, race, horses, biasDate); err != nil {
		return nil, &models.PredictionError{RaceID: raceID, Stage: "bias adjust", Err: err}
	}
	if isFinal {
		if err := s.track.Apply(ctx, race, horses, horseIDs); err != nil {
			return nil, &models.PredictionError{RaceID: raceID, Stage: "track adjust", Err: err}
		}
	}

	derived, err := probability.Derive(horses, probability.Options{HasQuinella: model.HasQuinellaHead()})
	if err != nil {
		return nil, &models.PredictionError{RaceID: raceID, Stage: "derivation", Err: err}
	}

	resp := &models.PredictionResponse{
		RaceID:          raceID,
		VenueCode:       race.VenueCode,
		RaceNumber:      race.RaceNumber,
		RaceName:        race.RaceName,
		StartTime:       race.StartTime,
		IsFinal:         isFinal,
		ModelVersion:    model.Meta.Version,
		RaceConfidence:  derived.RaceConfidence,
		Horses:          derived.Horses,
		QuinellaRanking: derived.QuinellaRanking,
		PlaceRanking:    derived.PlaceRanking,
		DarkHorses:      derived.DarkHorses,
		PredictedAt:     time.Now(),
	}

	rec, err := models.NewPredictionRecord(resp)
	if err != nil {
		return nil, &models.PredictionError{RaceID: raceID, Stage: "persist", Err: err}
	}
	if err := s.repos.Prediction.Upsert(ctx, rec); err != nil {
		return nil, &models.DatabaseQueryError{Op: "prediction upsert", Err: err}
	}

	s.log.WithFields(logrus.Fields{
		"race_id":  raceID,
		"is_final": isFinal,
		"starters": len(horses),
		"model":    model.Meta.Version,
	}).Info("Prediction generated")
	return resp, nil
}

// GetPrediction fetches one stored bundle by its identifier.
func (s *PredictionService) GetPrediction(ctx context.Context, id uuid.UUID) (*models.PredictionResponse, error) {
	rec, err := s.repos.Prediction.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Response()
}

// GetPredictionsByRace returns the stored bundles for a race, final first.
func (s *PredictionService) GetPredictionsByRace(ctx context.Context, raceID string) ([]*models.PredictionResponse, error) {
	recs, err := s.repos.Prediction.GetByRace(ctx, raceID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.PredictionResponse, 0, len(recs))
	for _, rec := range recs {
		resp, err := rec.Response()
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func failureKind(err error) string {
	var missing *models.MissingDataError
	var pred *models.PredictionError
	var db *models.DatabaseQueryError
	switch {
	case errors.As(err, &missing):
		return "missing_data"
	case errors.As(err, &db):
		return "database"
	case errors.As(err, &pred):
		return pred.Stage
	case errors.Is(err, models.ErrInvalidRaceID):
		return "invalid_race_id"
	default:
		return "other"
	}
}
