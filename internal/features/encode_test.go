package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashBucketStable(t *testing.T) {
	a := hashBucket("1997100201")
	b := hashBucket("1997100201")
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 10000.0)
	assert.NotEqual(t, hashBucket("1997100201"), hashBucket("1997100202"))
}

func TestLogConfidenceBlending(t *testing.T) {
	assert.InDelta(t, 0.0, logConfidence(0, 50), 1e-9)
	assert.InDelta(t, 1.0, logConfidence(50, 50), 1e-9)
	assert.InDelta(t, 1.0, logConfidence(500, 50), 1e-9, "capped at 1")

	mid := logConfidence(10, 50)
	assert.Greater(t, mid, 0.0)
	assert.Less(t, mid, 1.0)
	assert.InDelta(t, math.Log(11)/math.Log(51), mid, 1e-9)
}

func TestLinearConfidence(t *testing.T) {
	assert.InDelta(t, 0.5, linearConfidence(5, 10), 1e-9)
	assert.InDelta(t, 1.0, linearConfidence(10, 10), 1e-9)
	assert.InDelta(t, 1.0, linearConfidence(25, 10), 1e-9)
}

func TestSmoothRateUnderFiveSamples(t *testing.T) {
	// under 5 samples the observed rate shrinks toward 0.25
	smoothed := smoothRate(1.0, 2)
	assert.Less(t, smoothed, 1.0)
	assert.Greater(t, smoothed, 0.25)

	// at or above 5 samples the rate passes through
	assert.InDelta(t, 0.8, smoothRate(0.8, 5), 1e-9)
	assert.InDelta(t, 0.8, smoothRate(0.8, 50), 1e-9)

	// zero samples fall back to the prior entirely
	assert.InDelta(t, 0.25, smoothRate(0.0, 0), 1e-9)
}

func TestRunningStyleThresholds(t *testing.T) {
	assert.Equal(t, styleFront, runningStyle(1.0))
	assert.Equal(t, styleFront, runningStyle(3.0))
	assert.Equal(t, styleStalker, runningStyle(4.5))
	assert.Equal(t, styleStalker, runningStyle(6.0))
	assert.Equal(t, styleCloser, runningStyle(8.0))
	assert.Equal(t, styleCloser, runningStyle(9.0))
	assert.Equal(t, styleDeepCloser, runningStyle(12.0))
	assert.Equal(t, styleNone, runningStyle(0))
}

func TestPredictPace(t *testing.T) {
	assert.Equal(t, paceFast, predictPace(2))
	assert.Equal(t, paceFast, predictPace(4))
	assert.Equal(t, paceMedium, predictPace(1))
	assert.Equal(t, paceSlow, predictPace(0))
}

func TestSeasonalEncodings(t *testing.T) {
	june := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	s := seasonalEncodings(june, 4)
	assert.InDelta(t, math.Sin(2*math.Pi*6/12), s.MonthSin, 1e-9)
	assert.InDelta(t, math.Cos(2*math.Pi*6/12), s.MonthCos, 1e-9)
	assert.InDelta(t, 3.0, s.MeetWeek, 1e-9) // day 15 -> week 3
	assert.Equal(t, 1.0, s.Age4Early)
	assert.Equal(t, 0.0, s.Age3Growth)
	assert.Equal(t, 0.0, s.Winter)

	jan := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	w := seasonalEncodings(jan, 3)
	assert.Equal(t, 1.0, w.Winter)
	assert.Equal(t, 0.0, w.Age3Growth) // month 1 outside 3..8

	may3 := seasonalEncodings(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC), 3)
	assert.Equal(t, 1.0, may3.Age3Growth)
}
