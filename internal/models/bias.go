package models

import "time"

// JockeyDayForm is a jockey's record within a single race day.
type JockeyDayForm struct {
	Rides    int     `json:"rides"`
	WinRate  float64 `json:"win_rate"`
	Top3Rate float64 `json:"top3_rate"`
}

// BiasSnapshot carries within-meeting signals for one (date, venue):
// a post-position bias scalar, a pace bias scalar, and per-jockey day form.
// Positive WakuBias means inner posts have been outperforming.
type BiasSnapshot struct {
	Date     time.Time                `json:"date"`
	Venue    string                   `json:"venue"`
	WakuBias float64                  `json:"waku_bias"`
	PaceBias float64                  `json:"pace_bias"`
	Jockeys  map[string]JockeyDayForm `json:"jockeys"`
}

// IsEmpty reports whether the snapshot carries no signal at all. Applying
// the bias adjuster with an empty snapshot is the identity.
func (b *BiasSnapshot) IsEmpty() bool {
	return b == nil || (b.WakuBias == 0 && b.PaceBias == 0 && len(b.Jockeys) == 0)
}

// TrackCondition is a time-stamped surface state snapshot for a race.
type TrackCondition struct {
	RaceCode      string    `db:"race_code" json:"race_code"`
	Surface       Surface   `db:"surface" json:"surface"`
	ConditionCode string    `db:"condition_code" json:"condition_code"`
	WeatherCode   string    `db:"weather_code" json:"weather_code"`
	InsertedAt    time.Time `db:"inserted_at" json:"inserted_at"`
}
