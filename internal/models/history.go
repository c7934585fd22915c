package models

import "time"

// PastPerformance aggregates a horse's most recent starts strictly before
// the race being predicted. All rates are over the last 10 runs unless the
// horse has fewer.
type PastPerformance struct {
	HorseID        string  `db:"horse_id"`
	RunCount       int     `db:"run_count"`
	WinRate        float64 `db:"win_rate"`
	PlaceRate      float64 `db:"place_rate"`
	AvgTime        float64 `db:"avg_time"`
	AvgLast3F      float64 `db:"avg_last_3f"`
	BestLast3F     float64 `db:"best_last_3f"`
	AvgCorner3     float64 `db:"avg_corner_3"`
	AvgCorner4     float64 `db:"avg_corner_4"`
	BestFinish     int     `db:"best_finish"`
	LastJockeyID   string  `db:"last_jockey_id"`
	DecayWinRate   float64 `db:"decay_win_rate"`
	DecayPlaceRate float64 `db:"decay_place_rate"`
	DecayAvgFinish float64 `db:"decay_avg_finish"`
	PosChangeMean  float64 `db:"pos_change_mean"`
	PosChangeStd   float64 `db:"pos_change_std"`
	StdRank        float64 `db:"std_rank"`
	StdTime        float64 `db:"std_time"`
	StdLast3F      float64 `db:"std_last_3f"`
}

// SurfaceRecord holds turf and dirt run splits for a horse.
type SurfaceRecord struct {
	HorseID       string  `db:"horse_id"`
	TurfRuns      int     `db:"turf_runs"`
	TurfWinRate   float64 `db:"turf_win_rate"`
	TurfPlaceRate float64 `db:"turf_place_rate"`
	DirtRuns      int     `db:"dirt_runs"`
	DirtWinRate   float64 `db:"dirt_win_rate"`
	DirtPlaceRate float64 `db:"dirt_place_rate"`
}

// DirectionRecord holds per-turn-direction splits. Rates are raw; Bayesian
// smoothing toward the prior happens at feature-build time.
type DirectionRecord struct {
	HorseID      string  `db:"horse_id"`
	RightRuns    int     `db:"right_runs"`
	RightWinRate float64 `db:"right_win_rate"`
	LeftRuns     int     `db:"left_runs"`
	LeftWinRate  float64 `db:"left_win_rate"`
}

// ConditionRecord is one cell of the {turf,dirt} x {good..bad} cross product.
type ConditionRecord struct {
	HorseID       string  `db:"horse_id"`
	Surface       Surface `db:"surface"`
	ConditionCode string  `db:"condition_code"`
	Runs          int     `db:"runs"`
	WinRate       float64 `db:"win_rate"`
	Top3Rate      float64 `db:"top3_rate"`
}

// Rest interval buckets, derived by lag over race dates.
const (
	RestBucketBackToBack = "le7"
	RestBucket2W         = "8_14"
	RestBucket3W         = "15_21"
	RestBucket4W         = "22_28"
	RestBucketLong       = "ge29"
)

// RestRecord is the win split for one rest-interval bucket.
type RestRecord struct {
	HorseID string  `db:"horse_id"`
	Bucket  string  `db:"bucket"`
	Runs    int     `db:"runs"`
	WinRate float64 `db:"win_rate"`
}

// VenueRecord is a horse's record at one venue on one surface.
type VenueRecord struct {
	HorseID   string  `db:"horse_id"`
	VenueCode string  `db:"venue_code"`
	Runs      int     `db:"runs"`
	WinRate   float64 `db:"win_rate"`
	PlaceRate float64 `db:"place_rate"`
}

// PrevRaceDetail is one of up to five most recent prior races for a horse,
// newest first.
type PrevRaceDetail struct {
	HorseID        string    `db:"horse_id"`
	Seq            int       `db:"seq"`
	RaceDate       time.Time `db:"race_date"`
	FinishPosition int       `db:"finishing_position"`
	Popularity     int       `db:"popularity"`
	Last3F         float64   `db:"last_3f_time"`
	Last3FRank     int       `db:"last_3f_rank"`
	Corner3        int       `db:"corner_3"`
	Corner4        int       `db:"corner_4"`
	VenueCode      string    `db:"venue_code"`
	DistanceM      int       `db:"distance_m"`
	FieldSize      int       `db:"field_size"`
}

// JockeyRecord aggregates a jockey's results over a window.
type JockeyRecord struct {
	JockeyID  string  `db:"jockey_id"`
	Rides     int     `db:"rides"`
	WinRate   float64 `db:"win_rate"`
	PlaceRate float64 `db:"place_rate"`
}

// SireRecord aggregates offspring results for a sire, split by surface.
type SireRecord struct {
	SireID        string  `db:"sire_id"`
	Runs          int     `db:"runs"`
	WinRate       float64 `db:"win_rate"`
	PlaceRate     float64 `db:"place_rate"`
	TurfWinRate   float64 `db:"turf_win_rate"`
	TurfPlaceRate float64 `db:"turf_place_rate"`
	DirtWinRate   float64 `db:"dirt_win_rate"`
	DirtPlaceRate float64 `db:"dirt_place_rate"`
}

// ComboRecord aggregates results for a (jockey, horse) pairing.
type ComboRecord struct {
	HorseID  string  `db:"horse_id"`
	JockeyID string  `db:"jockey_id"`
	Runs     int     `db:"runs"`
	WinRate  float64 `db:"win_rate"`
}
