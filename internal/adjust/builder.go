package adjust

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/keiba-engine/internal/models"
	"github.com/yourusername/keiba-engine/internal/repository"
)

// SnapshotBuilder derives the per-day, per-venue bias snapshot from that
// day's completed races: post-position bias, pace bias, and jockey day form.
type SnapshotBuilder struct {
	repos *repository.Repositories
	log   *logrus.Logger
}

// NewSnapshotBuilder creates a bias snapshot builder.
func NewSnapshotBuilder(repos *repository.Repositories, log *logrus.Logger) *SnapshotBuilder {
	return &SnapshotBuilder{repos: repos, log: log}
}

// BuildDay builds and persists snapshots for every venue racing on date.
func (b *SnapshotBuilder) BuildDay(ctx context.Context, date time.Time) error {
	races, err := b.repos.Race.GetByDate(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to load races for %s: %w", date.Format("20060102"), err)
	}

	venues := make(map[string][]*models.Race)
	for _, r := range races {
		if r.IsFinalized() {
			venues[r.VenueCode] = append(venues[r.VenueCode], r)
		}
	}
	if len(venues) == 0 {
		b.log.WithField("date", date.Format("20060102")).Debug("No finalized races; skipping bias build")
		return nil
	}

	for venue, vr := range venues {
		snap, err := b.buildVenue(ctx, date, venue, vr)
		if err != nil {
			return err
		}
		if err := b.repos.Bias.Save(ctx, snap); err != nil {
			return fmt.Errorf("failed to save bias snapshot %s/%s: %w", date.Format("20060102"), venue, err)
		}
		b.log.WithFields(logrus.Fields{
			"date":      date.Format("20060102"),
			"venue":     venue,
			"waku_bias": snap.WakuBias,
			"pace_bias": snap.PaceBias,
			"jockeys":   len(snap.Jockeys),
		}).Info("Built bias snapshot")
	}
	return nil
}

func (b *SnapshotBuilder) buildVenue(ctx context.Context, date time.Time, venue string, races []*models.Race) (*models.BiasSnapshot, error) {
	raceIDs := make([]string, len(races))
	for i, r := range races {
		raceIDs[i] = r.RaceID
	}
	entries, err := b.repos.Entry.GetByRaceIDs(ctx, raceIDs)
	if err != nil {
		return nil, err
	}

	snap := &models.BiasSnapshot{Date: date, Venue: venue}

	var innerStarters, innerWinners, totalStarters, winners int
	var winnerC4Sum float64
	var winnerC4N int

	for _, raceID := range raceIDs {
		field := entries[raceID]
		fieldSize := 0
		for _, e := range field {
			if e.IsScratched() || !e.HasResult() {
				continue
			}
			fieldSize++
			totalStarters++
			if e.Post >= 1 && e.Post <= 4 {
				innerStarters++
			}
			if e.FinishPosition == 1 {
				winners++
				if e.Post >= 1 && e.Post <= 4 {
					innerWinners++
				}
			}
		}
		for _, e := range field {
			if e.FinishPosition == 1 && e.Corner4 > 0 && fieldSize > 0 {
				winnerC4Sum += float64(e.Corner4) / float64(fieldSize)
				winnerC4N++
			}
		}
	}

	// Waku bias: how far the inner share of winners deviates from the inner
	// share of starters. Positive means inner posts outperform.
	if winners > 0 && totalStarters > 0 {
		observed := float64(innerWinners) / float64(winners)
		expected := float64(innerStarters) / float64(totalStarters)
		snap.WakuBias = clampUnit(2 * (observed - expected))
	}

	// Pace bias: winners coming from forward corner-4 spots mean the track
	// favors the front. Positive is front-favoring.
	if winnerC4N > 0 {
		snap.PaceBias = clampUnit(2 * (0.5 - winnerC4Sum/float64(winnerC4N)))
	}

	forms, err := b.repos.Jockey.DayForm(ctx, date, venue)
	if err != nil {
		return nil, err
	}
	snap.Jockeys = forms

	return snap, nil
}

func clampUnit(v float64) float64 {
	return math.Min(1, math.Max(-1, v))
}
