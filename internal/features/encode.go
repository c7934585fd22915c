package features

import (
	"crypto/md5"
	"encoding/binary"
	"math"
	"strconv"
	"time"
)

// Priors used when a sub-aggregate has no samples. Degrading to these values
// keeps the row usable instead of aborting the extraction.
const (
	priorWinRate   = 0.08
	priorPlaceRate = 0.25
	priorLast3F    = 35.0
)

// Confidence-blend thresholds. Sample counts at or beyond the threshold trust
// the observed rate fully.
const (
	sireThreshold         = 50
	sireMaidenThreshold   = 30
	jockeyMaidenThreshold = 30
	jockeyRecentThreshold = 10
)

// hashBucket maps an id into a stable 0..9999 bucket. MD5 rather than the
// runtime hash so the bucket survives process restarts and redeployments.
func hashBucket(id string) float64 {
	if id == "" {
		return 0
	}
	sum := md5.Sum([]byte(id))
	return float64(binary.BigEndian.Uint64(sum[:8]) % 10000)
}

// logConfidence grows with log(n+1), saturating at the threshold.
func logConfidence(n, threshold int) float64 {
	if n <= 0 {
		return 0
	}
	c := math.Log(float64(n)+1) / math.Log(float64(threshold)+1)
	return math.Min(1, c)
}

// linearConfidence is the capped linear variant used for recent jockey form.
func linearConfidence(n, threshold int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(1, float64(n)/float64(threshold))
}

// blend pulls an observed rate toward the prior in proportion to confidence.
func blend(rate, prior, confidence float64) float64 {
	return confidence*rate + (1-confidence)*prior
}

// smoothRate applies Bayesian smoothing toward 0.25 when the sample count is
// under 5; at 5 or more samples the observed rate stands.
func smoothRate(rate float64, n int) float64 {
	if n >= 5 {
		return rate
	}
	return (rate*float64(n) + 0.25*float64(5-n)) / 5
}

// Running styles derived from historical corner-3 averages.
const (
	styleNone = iota
	styleFront
	styleStalker
	styleCloser
	styleDeepCloser
)

func runningStyle(avgCorner3 float64) int {
	switch {
	case avgCorner3 <= 0:
		return styleNone
	case avgCorner3 <= 3:
		return styleFront
	case avgCorner3 <= 6:
		return styleStalker
	case avgCorner3 <= 9:
		return styleCloser
	}
	return styleDeepCloser
}

// Pace categories from the front-runner count: two or more front-runners
// force the pace, none of them lets it crawl.
const (
	paceFast   = "fast"
	paceMedium = "medium"
	paceSlow   = "slow"
)

func predictPace(frontCount int) string {
	switch {
	case frontCount >= 2:
		return paceFast
	case frontCount == 0:
		return paceSlow
	}
	return paceMedium
}

type seasonal struct {
	MonthSin   float64
	MonthCos   float64
	MeetWeek   float64
	Age3Growth float64
	Age4Early  float64
	Winter     float64
}

func seasonalEncodings(date time.Time, age int) seasonal {
	month := int(date.Month())
	rad := 2 * math.Pi * float64(month) / 12

	s := seasonal{
		MonthSin: math.Sin(rad),
		MonthCos: math.Cos(rad),
		MeetWeek: float64((date.Day()-1)/7 + 1),
	}
	if age == 3 && month >= 3 && month <= 8 {
		s.Age3Growth = 1
	}
	if age == 4 && month >= 1 && month <= 6 {
		s.Age4Early = 1
	}
	if month == 12 || month <= 2 {
		s.Winter = 1
	}
	return s
}

func numericCode(code string) float64 {
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return float64(n)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
