package models

import (
	"github.com/shopspring/decimal"
)

// Entry represents one starter in a race. Identity is (RaceID, HorseNumber).
// Finishing fields are only populated once the race finalizes.
type Entry struct {
	RaceID         string          `db:"race_id" json:"race_id"`
	HorseNumber    int             `db:"horse_number" json:"horse_number"`
	Post           int             `db:"post" json:"post"`
	HorseID        string          `db:"horse_id" json:"horse_id"`
	HorseName      string          `db:"horse_name" json:"horse_name"`
	SexCode        string          `db:"sex_code" json:"sex_code"`
	Age            int             `db:"age" json:"age"`
	CarriedWeight  int             `db:"carried_weight_10g" json:"carried_weight_10g"`
	Blinkers       bool            `db:"blinkers" json:"blinkers"`
	JockeyID       string          `db:"jockey_id" json:"jockey_id"`
	TrainerID      string          `db:"trainer_id" json:"trainer_id"`
	BodyWeight     int             `db:"body_weight" json:"body_weight"`
	WeightDelta    int             `db:"weight_delta" json:"weight_delta"`
	DeclaredOdds   decimal.Decimal `db:"declared_odds" json:"declared_odds"`
	Popularity     int             `db:"popularity" json:"popularity"`
	FinishPosition int             `db:"finishing_position" json:"finishing_position"`
	FinishTime     float64         `db:"finish_time" json:"finish_time"`
	Corner1        int             `db:"corner_1" json:"corner_1"`
	Corner2        int             `db:"corner_2" json:"corner_2"`
	Corner3        int             `db:"corner_3" json:"corner_3"`
	Corner4        int             `db:"corner_4" json:"corner_4"`
	Last3F         float64         `db:"last_3f_time" json:"last_3f_time"`
	DataKind       string          `db:"data_kind" json:"data_kind"`
}

// IsScratched reports whether the entry is a registration-only row.
// Scratched starters carry horse number 0 and never appear in predictions.
func (e *Entry) IsScratched() bool {
	return e.HorseNumber == 0
}

// HasResult reports whether the entry carries a usable finishing position.
func (e *Entry) HasResult() bool {
	return e.FinishPosition > 0
}

// Horse is the registry row for a horse.
type Horse struct {
	HorseID       string `db:"horse_id" json:"horse_id"`
	Name          string `db:"name" json:"name"`
	BirthDate     string `db:"birth_date" json:"birth_date"`
	Sex           string `db:"sex" json:"sex"`
	CoatColor     string `db:"coat_color" json:"coat_color"`
	SireRegNumber string `db:"sire_reg_number" json:"sire_reg_number"`
	DamRegNumber  string `db:"dam_reg_number" json:"dam_reg_number"`
	Breeder       string `db:"breeder" json:"breeder"`
	Owner         string `db:"owner" json:"owner"`
	TrainerID     string `db:"trainer_id" json:"trainer_id"`
	TotalRuns     int    `db:"total_runs" json:"total_runs"`
	TotalWins     int    `db:"total_wins" json:"total_wins"`
}

// Pedigree maps a horse to its sire line. The broodmare sire is the second
// generation on the dam side of the three-generation table.
type Pedigree struct {
	HorseID       string `db:"horse_id" json:"horse_id"`
	SireID        string `db:"sire_id" json:"sire_id"`
	BroodmareSire string `db:"broodmare_sire_id" json:"broodmare_sire_id"`
}

// Jockey is the registry row for a jockey.
type Jockey struct {
	JockeyID    string `db:"jockey_id" json:"jockey_id"`
	Name        string `db:"name" json:"name"`
	Affiliation string `db:"affiliation" json:"affiliation"`
	LicenseDate string `db:"license_date" json:"license_date"`
	Deceased    bool   `db:"deceased" json:"deceased"`
}
