package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PositionDistribution is the per-horse probability mass over finishing
// bands. The four fields sum to 1 after derivation.
type PositionDistribution struct {
	First      float64 `json:"first"`
	Second     float64 `json:"second"`
	Third      float64 `json:"third"`
	OutOfPlace float64 `json:"out_of_place"`
}

// HorsePrediction is one ranked horse in a prediction response.
type HorsePrediction struct {
	Rank            int                  `json:"rank"`
	HorseNumber     int                  `json:"horse_number"`
	HorseName       string               `json:"horse_name,omitempty"`
	Post            int                  `json:"post"`
	JockeyID        string               `json:"jockey_id,omitempty"`
	RankScore       float64              `json:"rank_score"`
	WinProbability  float64              `json:"win_probability"`
	QuinellaProb    float64              `json:"quinella_probability"`
	PlaceProb       float64              `json:"place_probability"`
	Confidence      float64              `json:"confidence"`
	Distribution    PositionDistribution `json:"position_distribution"`
	WinProbLow      float64              `json:"win_probability_low,omitempty"`
	WinProbHigh     float64              `json:"win_probability_high,omitempty"`
}

// RankedHorse is a (horse, probability) pair used by auxiliary rankings.
type RankedHorse struct {
	HorseNumber int     `json:"horse_number"`
	Probability float64 `json:"probability"`
}

// PredictionResponse is the full bundle returned by the prediction facade
// and persisted as the prediction_result JSON.
type PredictionResponse struct {
	RaceID          string            `json:"race_id"`
	VenueCode       string            `json:"venue_code"`
	RaceNumber      int               `json:"race_number"`
	RaceName        string            `json:"race_name,omitempty"`
	StartTime       time.Time         `json:"start_time"`
	IsFinal         bool              `json:"is_final"`
	ModelVersion    string            `json:"model_version"`
	RaceConfidence  float64           `json:"race_confidence"`
	Horses          []HorsePrediction `json:"horses"`
	QuinellaRanking []RankedHorse     `json:"quinella_ranking"`
	PlaceRanking    []RankedHorse     `json:"place_ranking"`
	DarkHorses      []RankedHorse     `json:"dark_horses"`
	PredictedAt     time.Time         `json:"predicted_at"`
}

// PredictionRecord is the persisted row. (RaceID, IsFinal) is unique;
// re-running a prediction upserts with last-writer-wins on PredictedAt.
type PredictionRecord struct {
	ID          uuid.UUID       `db:"prediction_id" json:"prediction_id"`
	RaceID      string          `db:"race_id" json:"race_id"`
	RaceDate    time.Time       `db:"race_date" json:"race_date"`
	IsFinal     bool            `db:"is_final" json:"is_final"`
	Result      json.RawMessage `db:"prediction_result" json:"prediction_result"`
	PredictedAt time.Time       `db:"predicted_at" json:"predicted_at"`
}

// Response decodes the stored bundle.
func (p *PredictionRecord) Response() (*PredictionResponse, error) {
	var resp PredictionResponse
	if err := json.Unmarshal(p.Result, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NewPredictionRecord wraps a response into a persistable record.
func NewPredictionRecord(resp *PredictionResponse) (*PredictionRecord, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	raceDate, err := RaceDateFromID(resp.RaceID)
	if err != nil {
		return nil, err
	}
	return &PredictionRecord{
		ID:          uuid.New(),
		RaceID:      resp.RaceID,
		RaceDate:    raceDate,
		IsFinal:     resp.IsFinal,
		Result:      raw,
		PredictedAt: resp.PredictedAt,
	}, nil
}

// CalibrationRecord is the sidecar calibration statistics row persisted by
// the trainer.
type CalibrationRecord struct {
	ModelVersion string          `db:"model_version" json:"model_version"`
	Data         json.RawMessage `db:"calibration_data" json:"calibration_data"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	IsActive     bool            `db:"is_active" json:"is_active"`
}
