package features

import "fmt"

// FeatureRow is the unit the model consumes: one starter in one race with a
// fixed-order numeric vector. Values is aligned with Names().
type FeatureRow struct {
	RaceID      string
	HorseID     string
	HorseNumber int
	Post        int
	JockeyID    string
	HorseName   string
	// Target is the finishing position; only meaningful when HasTarget.
	Target    int
	HasTarget bool
	Values    []float64
}

var (
	featureNames []string
	featureIndex map[string]int
)

func addNames(names ...string) {
	for _, n := range names {
		featureIndex[n] = len(featureNames)
		featureNames = append(featureNames, n)
	}
}

func init() {
	featureIndex = make(map[string]int)

	addNames(
		"horse_number", "post", "post_inner", "age", "sex",
		"carried_weight", "body_weight", "weight_delta",
		"declared_odds", "odds_log", "popularity", "blinkers",
	)
	addNames(
		"distance_m", "distance_log", "field_size", "race_number",
		"is_turf", "is_dirt", "condition_code",
	)
	addNames(
		"run_count", "win_rate", "place_rate", "avg_time",
		"avg_last_3f", "best_last_3f", "avg_corner_3", "avg_corner_4",
		"best_finish", "decay_win_rate", "decay_place_rate", "decay_avg_finish",
		"pos_change_mean", "pos_change_std", "std_rank", "std_time", "std_last_3f",
		"same_jockey_as_last",
	)
	addNames(
		"turf_runs", "turf_win_rate", "turf_place_rate",
		"dirt_runs", "dirt_win_rate", "dirt_place_rate",
		"surface_win_rate", "surface_place_rate",
	)
	addNames(
		"right_runs", "right_win_rate", "left_runs", "left_win_rate",
		"direction_win_rate",
	)
	// {turf,dirt} x {good, slightly heavy, heavy, bad} cross product plus the
	// cell matching the current race.
	for _, surface := range []string{"turf", "dirt"} {
		for _, cond := range []string{"good", "sheavy", "heavy", "bad"} {
			addNames(
				fmt.Sprintf("%s_%s_runs", surface, cond),
				fmt.Sprintf("%s_%s_win_rate", surface, cond),
				fmt.Sprintf("%s_%s_top3_rate", surface, cond),
			)
		}
	}
	addNames("cond_runs", "cond_win_rate", "cond_top3_rate")
	for _, bucket := range []string{"le7", "8_14", "15_21", "22_28", "ge29"} {
		addNames(
			fmt.Sprintf("rest_%s_runs", bucket),
			fmt.Sprintf("rest_%s_win_rate", bucket),
		)
	}
	addNames(
		"rest_days", "rest_le7", "rest_8_14", "rest_15_21", "rest_22_28", "rest_ge29",
	)
	addNames(
		"sire_hash", "broodmare_sire_hash",
		"sire_win_rate", "sire_place_rate",
		"sire_surface_win_rate", "sire_surface_place_rate",
		"sire_maiden_win_rate", "sire_maiden_place_rate",
	)
	addNames(
		"jockey_win_rate", "jockey_place_rate",
		"jockey_maiden_win_rate", "jockey_maiden_place_rate",
		"jockey_horse_runs", "jockey_horse_win_rate",
	)
	addNames("venue_runs", "venue_win_rate", "venue_place_rate")
	for k := 1; k <= prevRaceCount; k++ {
		addNames(
			fmt.Sprintf("prev%d_finish", k),
			fmt.Sprintf("prev%d_popularity", k),
			fmt.Sprintf("prev%d_last_3f", k),
			fmt.Sprintf("prev%d_last_3f_rank", k),
			fmt.Sprintf("prev%d_pos_change", k),
			fmt.Sprintf("prev%d_field_size", k),
		)
	}
	addNames("finish_trend", "late_push")
	addNames(
		"style", "pace_fast", "pace_medium", "pace_slow",
		"front_count", "stalker_count", "closer_count", "deep_closer_count",
	)
	addNames(
		"month_sin", "month_cos", "meet_week",
		"age3_growth", "age4_early", "winter",
	)
}

// prevRaceCount is how many prior races contribute per-race detail columns.
const prevRaceCount = 5

// Names returns the canonical ordered feature list. The artifact stores this
// ordering; scoring validates against it.
func Names() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// Count is the width of a feature vector.
func Count() int {
	return len(featureNames)
}

func newRow() []float64 {
	return make([]float64, len(featureNames))
}

func set(values []float64, name string, v float64) {
	values[featureIndex[name]] = v
}

// Get reads one named value from a row; zero when the name is unknown.
func (r *FeatureRow) Get(name string) float64 {
	i, ok := featureIndex[name]
	if !ok {
		return 0
	}
	return r.Values[i]
}
