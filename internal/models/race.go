package models

import (
	"time"
)

// Data kinds follow the store's lifecycle discipline. Predictions read
// declared/preliminary rows, training and evaluation read finalized rows.
const (
	DataKindDeclared    = "1"
	DataKindPreliminary = "2"
	DataKindFinalized   = "7"
)

// Surface identifies the racing surface encoded in the track code.
type Surface string

const (
	SurfaceMixed    Surface = "mixed"
	SurfaceTurf     Surface = "turf"
	SurfaceDirt     Surface = "dirt"
	SurfaceObstacle Surface = "obstacle"
)

// Track code ranges used by the surface filter. Obstacle courses start at 51.
const (
	TrackCodeTurfMin = 10
	TrackCodeTurfMax = 22
	TrackCodeDirtMin = 23
	TrackCodeDirtMax = 29
)

// Race represents one race card entry in the store.
// RaceID is the opaque 16-character key: date (8), venue (2), meet index (2),
// meet day (2), race number (2).
type Race struct {
	RaceID        string    `db:"race_id" json:"race_id" validate:"required,len=16"`
	MeetYear      int       `db:"meet_year" json:"meet_year"`
	MeetMonthDay  string    `db:"meet_monthday" json:"meet_monthday"`
	VenueCode     string    `db:"venue_code" json:"venue_code"`
	Kai           int       `db:"kai" json:"kai"`
	Nichime       int       `db:"nichime" json:"nichime"`
	RaceNumber    int       `db:"race_number" json:"race_number"`
	RaceName      string    `db:"race_name" json:"race_name"`
	DistanceM     int       `db:"distance_m" json:"distance_m"`
	TrackCode     int       `db:"track_code" json:"track_code"`
	GradeCode     string    `db:"grade_code" json:"grade_code"`
	StartTime     time.Time `db:"start_time" json:"start_time"`
	WeatherCode   string    `db:"weather_code" json:"weather_code"`
	ConditionCode string    `db:"surface_condition_code" json:"surface_condition_code"`
	DataKind      string    `db:"data_kind" json:"data_kind"`
}

// Surface derives the racing surface from the track code.
func (r *Race) Surface() Surface {
	switch {
	case r.TrackCode >= TrackCodeTurfMin && r.TrackCode <= TrackCodeTurfMax:
		return SurfaceTurf
	case r.TrackCode >= TrackCodeDirtMin && r.TrackCode <= TrackCodeDirtMax:
		return SurfaceDirt
	case r.TrackCode >= 51:
		return SurfaceObstacle
	}
	return SurfaceMixed
}

// IsFinalized reports whether results for this race are confirmed.
func (r *Race) IsFinalized() bool {
	return r.DataKind == DataKindFinalized
}

// Date returns the race date encoded in the race identifier.
func (r *Race) Date() time.Time {
	d, err := RaceDateFromID(r.RaceID)
	if err != nil {
		return time.Time{}
	}
	return d
}

// RaceDateFromID parses the leading YYYYMMDD segment of a race identifier.
func RaceDateFromID(raceID string) (time.Time, error) {
	if len(raceID) < 8 {
		return time.Time{}, ErrInvalidRaceID
	}
	return time.Parse("20060102", raceID[:8])
}

// VenueFromID extracts the 2-character venue code from a race identifier.
func VenueFromID(raceID string) string {
	if len(raceID) < 10 {
		return ""
	}
	return raceID[8:10]
}

// Surface condition codes. Ordering matters: anything at or beyond slightly
// heavy counts as wet for the track-condition adjuster.
const (
	ConditionGood          = "1"
	ConditionSlightlyHeavy = "2"
	ConditionHeavy         = "3"
	ConditionBad           = "4"
)

// ConditionIsWet reports whether a surface condition code is at or beyond
// slightly heavy.
func ConditionIsWet(code string) bool {
	return code == ConditionSlightlyHeavy || code == ConditionHeavy || code == ConditionBad
}
