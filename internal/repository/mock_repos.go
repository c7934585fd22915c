package repository

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourusername/keiba-engine/internal/models"
)

// The mock repositories compute the same aggregates as the SQL layer,
// over the in-memory store, with the same strictly-before race id filter.

type mockRaceRepo struct{ s *MockStore }

func (r *mockRaceRepo) GetByID(_ context.Context, raceID string) (*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	race, ok := r.s.races[raceID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return race, nil
}

func (r *mockRaceRepo) GetByDate(_ context.Context, date time.Time) ([]*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	prefix := date.Format("20060102")
	var out []*models.Race
	for id, race := range r.s.races {
		if strings.HasPrefix(id, prefix) {
			out = append(out, race)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaceID < out[j].RaceID })
	return out, nil
}

func (r *mockRaceRepo) GetUpcoming(_ context.Context, limit int) ([]*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	now := time.Now()
	var out []*models.Race
	for _, race := range r.s.races {
		if race.StartTime.After(now) && !race.IsFinalized() {
			out = append(out, race)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockRaceRepo) SearchByName(_ context.Context, name string, limit int) ([]*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	needle := strings.ToLower(name)
	var out []*models.Race
	for _, race := range r.s.races {
		if strings.Contains(strings.ToLower(race.RaceName), needle) {
			out = append(out, race)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaceID > out[j].RaceID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockRaceRepo) GetYear(_ context.Context, year int, surface models.Surface) ([]*models.Race, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Race
	for _, race := range r.s.races {
		if race.MeetYear != year || !race.IsFinalized() {
			continue
		}
		if (surface == models.SurfaceTurf || surface == models.SurfaceDirt) && race.Surface() != surface {
			continue
		}
		out = append(out, race)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RaceID < out[j].RaceID })
	return out, nil
}

type mockEntryRepo struct{ s *MockStore }

func (r *mockEntryRepo) GetByRaceID(_ context.Context, raceID string) ([]*models.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	entries := append([]*models.Entry(nil), r.s.entries[raceID]...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].HorseNumber < entries[j].HorseNumber })
	return entries, nil
}

func (r *mockEntryRepo) GetByRaceIDs(ctx context.Context, raceIDs []string) (map[string][]*models.Entry, error) {
	out := make(map[string][]*models.Entry, len(raceIDs))
	for _, id := range raceIDs {
		entries, _ := r.GetByRaceID(ctx, id)
		if len(entries) > 0 {
			out[id] = entries
		}
	}
	return out, nil
}

type mockHorseRepo struct{ s *MockStore }

func (r *mockHorseRepo) GetByID(_ context.Context, horseID string) (*models.Horse, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	h, ok := r.s.horses[horseID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return h, nil
}

func (r *mockHorseRepo) SearchByName(_ context.Context, name string, limit int) ([]*models.Horse, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	needle := strings.ToLower(name)
	var out []*models.Horse
	for _, h := range r.s.horses {
		if strings.Contains(strings.ToLower(h.Name), needle) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type mockHistoryRepo struct{ s *MockStore }

func (r *mockHistoryRepo) PastPerformance(_ context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.PastPerformance, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[HorseRacePair]*models.PastPerformance, len(pairs))
	for _, pair := range pairs {
		past := r.s.pastEntries(pair.HorseID, pair.RaceID)
		if len(past) == 0 {
			continue
		}
		if len(past) > 10 {
			past = past[:10]
		}

		p := &models.PastPerformance{HorseID: pair.HorseID, RunCount: len(past), BestFinish: math.MaxInt32}
		var wins, places int
		var sumTime, sumL3F, sumC3, sumC4 float64
		var nTime, nL3F, nC3, nC4 int
		var decayW, decayWin, decayPlace, decayFinish float64
		var posChanges, ranks, times, l3fs []float64
		bestL3F := math.MaxFloat64

		for i, e := range past {
			w := math.Pow(0.85, float64(i))
			decayW += w
			decayFinish += w * float64(e.FinishPosition)
			if e.FinishPosition == 1 {
				wins++
				decayWin += w
			}
			if e.FinishPosition <= 3 {
				places++
				decayPlace += w
			}
			ranks = append(ranks, float64(e.FinishPosition))
			if e.FinishTime > 0 {
				sumTime += e.FinishTime
				nTime++
				times = append(times, e.FinishTime)
			}
			if e.Last3F > 0 {
				sumL3F += e.Last3F
				nL3F++
				l3fs = append(l3fs, e.Last3F)
				if e.Last3F < bestL3F {
					bestL3F = e.Last3F
				}
			}
			if e.Corner3 > 0 {
				sumC3 += float64(e.Corner3)
				nC3++
			}
			if e.Corner4 > 0 {
				sumC4 += float64(e.Corner4)
				nC4++
			}
			if e.Corner3 > 0 && e.Corner4 > 0 {
				posChanges = append(posChanges, float64(e.Corner4-e.Corner3))
			}
			if e.FinishPosition < p.BestFinish {
				p.BestFinish = e.FinishPosition
			}
		}

		p.WinRate = rate(wins, len(past))
		p.PlaceRate = rate(places, len(past))
		if nTime > 0 {
			p.AvgTime = sumTime / float64(nTime)
		}
		if nL3F > 0 {
			p.AvgLast3F = sumL3F / float64(nL3F)
			p.BestLast3F = bestL3F
		}
		if nC3 > 0 {
			p.AvgCorner3 = sumC3 / float64(nC3)
		}
		if nC4 > 0 {
			p.AvgCorner4 = sumC4 / float64(nC4)
		}
		p.LastJockeyID = past[0].JockeyID
		p.DecayWinRate = decayWin / decayW
		p.DecayPlaceRate = decayPlace / decayW
		p.DecayAvgFinish = decayFinish / decayW
		p.PosChangeMean, p.PosChangeStd = meanStd(posChanges)
		_, p.StdRank = meanStd(ranks)
		_, p.StdTime = meanStd(times)
		_, p.StdLast3F = meanStd(l3fs)

		out[pair] = p
	}
	return out, nil
}

func (r *mockHistoryRepo) SurfaceRecords(_ context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.SurfaceRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[HorseRacePair]*models.SurfaceRecord, len(pairs))
	for _, pair := range pairs {
		past := r.s.pastEntries(pair.HorseID, pair.RaceID)
		if len(past) == 0 {
			continue
		}
		rec := &models.SurfaceRecord{HorseID: pair.HorseID}
		var turfWins, turfPlaces, dirtWins, dirtPlaces int
		for _, e := range past {
			race := r.s.races[e.RaceID]
			if race == nil {
				continue
			}
			switch race.Surface() {
			case models.SurfaceTurf:
				rec.TurfRuns++
				if e.FinishPosition == 1 {
					turfWins++
				}
				if e.FinishPosition <= 3 {
					turfPlaces++
				}
			case models.SurfaceDirt:
				rec.DirtRuns++
				if e.FinishPosition == 1 {
					dirtWins++
				}
				if e.FinishPosition <= 3 {
					dirtPlaces++
				}
			}
		}
		rec.TurfWinRate = rate(turfWins, rec.TurfRuns)
		rec.TurfPlaceRate = rate(turfPlaces, rec.TurfRuns)
		rec.DirtWinRate = rate(dirtWins, rec.DirtRuns)
		rec.DirtPlaceRate = rate(dirtPlaces, rec.DirtRuns)
		out[pair] = rec
	}
	return out, nil
}

// Right-handed venue codes; keep in sync with the SQL constant.
var rightHandedVenueSet = map[string]bool{
	"01": true, "02": true, "03": true, "06": true,
	"08": true, "09": true, "10": true,
}

func (r *mockHistoryRepo) DirectionRecords(_ context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.DirectionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[HorseRacePair]*models.DirectionRecord, len(pairs))
	for _, pair := range pairs {
		past := r.s.pastEntries(pair.HorseID, pair.RaceID)
		if len(past) == 0 {
			continue
		}
		rec := &models.DirectionRecord{HorseID: pair.HorseID}
		var rightWins, leftWins int
		for _, e := range past {
			race := r.s.races[e.RaceID]
			if race == nil {
				continue
			}
			if rightHandedVenueSet[race.VenueCode] {
				rec.RightRuns++
				if e.FinishPosition == 1 {
					rightWins++
				}
			} else {
				rec.LeftRuns++
				if e.FinishPosition == 1 {
					leftWins++
				}
			}
		}
		rec.RightWinRate = rate(rightWins, rec.RightRuns)
		rec.LeftWinRate = rate(leftWins, rec.LeftRuns)
		out[pair] = rec
	}
	return out, nil
}

func (r *mockHistoryRepo) ConditionRecords(_ context.Context, pairs []HorseRacePair) (map[HorseRacePair][]*models.ConditionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	type cellKey struct {
		surface   models.Surface
		condition string
	}
	out := make(map[HorseRacePair][]*models.ConditionRecord)
	for _, pair := range pairs {
		cells := make(map[cellKey]*struct{ runs, wins, top3 int })
		for _, e := range r.s.pastEntries(pair.HorseID, pair.RaceID) {
			race := r.s.races[e.RaceID]
			if race == nil {
				continue
			}
			surface := race.Surface()
			if surface != models.SurfaceTurf && surface != models.SurfaceDirt {
				continue
			}
			key := cellKey{surface, race.ConditionCode}
			cell := cells[key]
			if cell == nil {
				cell = &struct{ runs, wins, top3 int }{}
				cells[key] = cell
			}
			cell.runs++
			if e.FinishPosition == 1 {
				cell.wins++
			}
			if e.FinishPosition <= 3 {
				cell.top3++
			}
		}
		for key, cell := range cells {
			out[pair] = append(out[pair], &models.ConditionRecord{
				HorseID:       pair.HorseID,
				Surface:       key.surface,
				ConditionCode: key.condition,
				Runs:          cell.runs,
				WinRate:       rate(cell.wins, cell.runs),
				Top3Rate:      rate(cell.top3, cell.runs),
			})
		}
	}
	return out, nil
}

func restBucket(days int) string {
	switch {
	case days <= 7:
		return models.RestBucketBackToBack
	case days <= 14:
		return models.RestBucket2W
	case days <= 21:
		return models.RestBucket3W
	case days <= 28:
		return models.RestBucket4W
	}
	return models.RestBucketLong
}

func (r *mockHistoryRepo) RestRecords(_ context.Context, pairs []HorseRacePair) (map[HorseRacePair][]*models.RestRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[HorseRacePair][]*models.RestRecord)
	for _, pair := range pairs {
		past := r.s.pastEntries(pair.HorseID, pair.RaceID)
		// chronological order for the lag over dates
		sort.Slice(past, func(i, j int) bool { return past[i].RaceID < past[j].RaceID })

		buckets := make(map[string]*struct{ runs, wins int })
		for i := 1; i < len(past); i++ {
			cur, _ := models.RaceDateFromID(past[i].RaceID)
			prev, _ := models.RaceDateFromID(past[i-1].RaceID)
			bucket := restBucket(int(cur.Sub(prev).Hours() / 24))
			b := buckets[bucket]
			if b == nil {
				b = &struct{ runs, wins int }{}
				buckets[bucket] = b
			}
			b.runs++
			if past[i].FinishPosition == 1 {
				b.wins++
			}
		}
		for bucket, b := range buckets {
			out[pair] = append(out[pair], &models.RestRecord{
				HorseID: pair.HorseID,
				Bucket:  bucket,
				Runs:    b.runs,
				WinRate: rate(b.wins, b.runs),
			})
		}
	}
	return out, nil
}

func (r *mockHistoryRepo) VenueRecords(_ context.Context, pairs []HorseRacePair) (map[HorseRacePair]*models.VenueRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[HorseRacePair]*models.VenueRecord, len(pairs))
	for _, pair := range pairs {
		current := r.s.races[pair.RaceID]
		if current == nil {
			continue
		}
		venue := models.VenueFromID(pair.RaceID)
		rec := &models.VenueRecord{HorseID: pair.HorseID, VenueCode: venue}
		var wins, places int
		for _, e := range r.s.pastEntries(pair.HorseID, pair.RaceID) {
			race := r.s.races[e.RaceID]
			if race == nil || race.VenueCode != venue || race.Surface() != current.Surface() {
				continue
			}
			rec.Runs++
			if e.FinishPosition == 1 {
				wins++
			}
			if e.FinishPosition <= 3 {
				places++
			}
		}
		if rec.Runs == 0 {
			continue
		}
		rec.WinRate = rate(wins, rec.Runs)
		rec.PlaceRate = rate(places, rec.Runs)
		out[pair] = rec
	}
	return out, nil
}

func (r *mockHistoryRepo) PrevRaces(_ context.Context, pairs []HorseRacePair, n int) (map[HorseRacePair][]*models.PrevRaceDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[HorseRacePair][]*models.PrevRaceDetail)
	for _, pair := range pairs {
		past := r.s.pastEntries(pair.HorseID, pair.RaceID)
		if len(past) > n {
			past = past[:n]
		}
		for i, e := range past {
			race := r.s.races[e.RaceID]
			if race == nil {
				continue
			}
			date, _ := models.RaceDateFromID(e.RaceID)
			fieldSize := 0
			l3fRank := 1
			for _, other := range r.s.entries[e.RaceID] {
				if other.HorseNumber == 0 {
					continue
				}
				fieldSize++
				if other.Last3F > 0 && e.Last3F > 0 && other.Last3F < e.Last3F {
					l3fRank++
				}
			}
			out[pair] = append(out[pair], &models.PrevRaceDetail{
				HorseID:        pair.HorseID,
				Seq:            i + 1,
				RaceDate:       date,
				FinishPosition: e.FinishPosition,
				Popularity:     e.Popularity,
				Last3F:         e.Last3F,
				Last3FRank:     l3fRank,
				Corner3:        e.Corner3,
				Corner4:        e.Corner4,
				VenueCode:      race.VenueCode,
				DistanceM:      race.DistanceM,
				FieldSize:      fieldSize,
			})
		}
	}
	return out, nil
}

func (r *mockHistoryRepo) ComboRecords(_ context.Context, pairs []HorseJockeyPair) (map[HorseRacePair]*models.ComboRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make(map[HorseRacePair]*models.ComboRecord, len(pairs))
	for _, pair := range pairs {
		var runs, wins int
		for _, e := range r.s.pastEntries(pair.HorseID, pair.RaceID) {
			if e.JockeyID != pair.JockeyID {
				continue
			}
			runs++
			if e.FinishPosition == 1 {
				wins++
			}
		}
		if runs == 0 {
			continue
		}
		out[HorseRacePair{HorseID: pair.HorseID, RaceID: pair.RaceID}] = &models.ComboRecord{
			HorseID:  pair.HorseID,
			JockeyID: pair.JockeyID,
			Runs:     runs,
			WinRate:  rate(wins, runs),
		}
	}
	return out, nil
}

type mockPedigreeRepo struct{ s *MockStore }

func (r *mockPedigreeRepo) GetByHorseIDs(_ context.Context, horseIDs []string) (map[string]*models.Pedigree, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]*models.Pedigree, len(horseIDs))
	for _, id := range horseIDs {
		if p, ok := r.s.pedigrees[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *mockPedigreeRepo) sireStats(sireIDs []string, asOf time.Time, years int, maidenOnly bool) map[string]*models.SireRecord {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[string]bool, len(sireIDs))
	for _, id := range sireIDs {
		wanted[id] = true
	}
	from := asOf.AddDate(-years, 0, 0).Format("20060102")
	to := asOf.Format("20060102")

	type acc struct {
		runs, wins, places         int
		turfRuns, turfWins, turfPl int
		dirtRuns, dirtWins, dirtPl int
	}
	stats := make(map[string]*acc)

	for raceID, entries := range r.s.entries {
		if raceID[:8] < from || raceID[:8] >= to {
			continue
		}
		race := r.s.races[raceID]
		if race == nil || (maidenOnly && race.GradeCode != "maiden") {
			continue
		}
		for _, e := range entries {
			if e.DataKind != models.DataKindFinalized || !e.HasResult() {
				continue
			}
			ped := r.s.pedigrees[e.HorseID]
			if ped == nil || !wanted[ped.SireID] {
				continue
			}
			a := stats[ped.SireID]
			if a == nil {
				a = &acc{}
				stats[ped.SireID] = a
			}
			a.runs++
			win := e.FinishPosition == 1
			place := e.FinishPosition <= 3
			if win {
				a.wins++
			}
			if place {
				a.places++
			}
			switch race.Surface() {
			case models.SurfaceTurf:
				a.turfRuns++
				if win {
					a.turfWins++
				}
				if place {
					a.turfPl++
				}
			case models.SurfaceDirt:
				a.dirtRuns++
				if win {
					a.dirtWins++
				}
				if place {
					a.dirtPl++
				}
			}
		}
	}

	out := make(map[string]*models.SireRecord, len(stats))
	for id, a := range stats {
		out[id] = &models.SireRecord{
			SireID:        id,
			Runs:          a.runs,
			WinRate:       rate(a.wins, a.runs),
			PlaceRate:     rate(a.places, a.runs),
			TurfWinRate:   rate(a.turfWins, a.turfRuns),
			TurfPlaceRate: rate(a.turfPl, a.turfRuns),
			DirtWinRate:   rate(a.dirtWins, a.dirtRuns),
			DirtPlaceRate: rate(a.dirtPl, a.dirtRuns),
		}
	}
	return out
}

func (r *mockPedigreeRepo) SireStats(_ context.Context, sireIDs []string, asOf time.Time, years int) (map[string]*models.SireRecord, error) {
	return r.sireStats(sireIDs, asOf, years, false), nil
}

func (r *mockPedigreeRepo) SireMaidenStats(_ context.Context, sireIDs []string, asOf time.Time, years int) (map[string]*models.SireRecord, error) {
	return r.sireStats(sireIDs, asOf, years, true), nil
}

type mockJockeyRepo struct{ s *MockStore }

func (r *mockJockeyRepo) aggregate(jockeyIDs []string, keep func(raceID string, race *models.Race) bool) map[string]*models.JockeyRecord {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[string]bool, len(jockeyIDs))
	for _, id := range jockeyIDs {
		wanted[id] = true
	}

	type acc struct{ rides, wins, places int }
	stats := make(map[string]*acc)
	for raceID, entries := range r.s.entries {
		if !keep(raceID, r.s.races[raceID]) {
			continue
		}
		for _, e := range entries {
			if e.DataKind != models.DataKindFinalized || !e.HasResult() || !wanted[e.JockeyID] {
				continue
			}
			a := stats[e.JockeyID]
			if a == nil {
				a = &acc{}
				stats[e.JockeyID] = a
			}
			a.rides++
			if e.FinishPosition == 1 {
				a.wins++
			}
			if e.FinishPosition <= 3 {
				a.places++
			}
		}
	}

	out := make(map[string]*models.JockeyRecord, len(stats))
	for id, a := range stats {
		out[id] = &models.JockeyRecord{
			JockeyID:  id,
			Rides:     a.rides,
			WinRate:   rate(a.wins, a.rides),
			PlaceRate: rate(a.places, a.rides),
		}
	}
	return out
}

func (r *mockJockeyRepo) YearStats(_ context.Context, jockeyIDs []string, year int) (map[string]*models.JockeyRecord, error) {
	prefix := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC).Format("2006")
	return r.aggregate(jockeyIDs, func(raceID string, _ *models.Race) bool {
		return strings.HasPrefix(raceID, prefix)
	}), nil
}

func (r *mockJockeyRepo) MaidenStats(_ context.Context, jockeyIDs []string, asOf time.Time, years int) (map[string]*models.JockeyRecord, error) {
	from := asOf.AddDate(-years, 0, 0).Format("20060102")
	to := asOf.Format("20060102")
	return r.aggregate(jockeyIDs, func(raceID string, race *models.Race) bool {
		return race != nil && race.GradeCode == "maiden" &&
			raceID[:8] >= from && raceID[:8] < to
	}), nil
}

func (r *mockJockeyRepo) SearchByName(_ context.Context, name string, limit int) ([]*models.Jockey, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	needle := strings.ToLower(name)
	var out []*models.Jockey
	for _, j := range r.s.jockeys {
		if !j.Deceased && strings.Contains(strings.ToLower(j.Name), needle) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *mockJockeyRepo) DayForm(_ context.Context, date time.Time, venue string) (map[string]models.JockeyDayForm, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	prefix := date.Format("20060102")
	type acc struct{ rides, wins, top3 int }
	stats := make(map[string]*acc)
	for raceID, entries := range r.s.entries {
		if !strings.HasPrefix(raceID, prefix) || models.VenueFromID(raceID) != venue {
			continue
		}
		for _, e := range entries {
			if e.DataKind != models.DataKindFinalized || !e.HasResult() {
				continue
			}
			a := stats[e.JockeyID]
			if a == nil {
				a = &acc{}
				stats[e.JockeyID] = a
			}
			a.rides++
			if e.FinishPosition == 1 {
				a.wins++
			}
			if e.FinishPosition <= 3 {
				a.top3++
			}
		}
	}

	out := make(map[string]models.JockeyDayForm, len(stats))
	for id, a := range stats {
		out[id] = models.JockeyDayForm{
			Rides:    a.rides,
			WinRate:  rate(a.wins, a.rides),
			Top3Rate: rate(a.top3, a.rides),
		}
	}
	return out, nil
}

type mockOddsRepo struct{ s *MockStore }

func (r *mockOddsRepo) GetByRace(_ context.Context, raceID string, ticket models.TicketType) ([]*models.OddsLine, error) {
	if ticket != models.TicketWin {
		return nil, nil
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.OddsLine
	for num, odds := range r.s.winOdds[raceID] {
		out = append(out, &models.OddsLine{
			RaceID:      raceID,
			TicketType:  ticket,
			Combination: strconv.Itoa(num),
			Odds:        decimal.NewFromFloat(odds),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Odds.LessThan(out[j].Odds) })
	for i := range out {
		out[i].Popularity = i + 1
	}
	return out, nil
}

func (r *mockOddsRepo) WinOdds(_ context.Context, raceIDs []string) (map[string]map[int]float64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]map[int]float64, len(raceIDs))
	for _, id := range raceIDs {
		if odds, ok := r.s.winOdds[id]; ok {
			out[id] = odds
		}
	}
	return out, nil
}

type mockPayoutRepo struct{ s *MockStore }

func (r *mockPayoutRepo) GetByRaceIDs(_ context.Context, raceIDs []string) (map[string][]*models.PayoutLine, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string][]*models.PayoutLine, len(raceIDs))
	for _, id := range raceIDs {
		if lines, ok := r.s.payouts[id]; ok {
			out[id] = lines
		}
	}
	return out, nil
}

type mockConditionRepo struct{ s *MockStore }

func (r *mockConditionRepo) Latest(_ context.Context, raceCode string) (*models.TrackCondition, error) {
	if len(raceCode) > 14 {
		raceCode = raceCode[:14]
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.conditions[raceCode]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c, nil
}

type mockPredictionRepo struct{ s *MockStore }

func predictionKey(raceID string, isFinal bool) string {
	if isFinal {
		return raceID + ":final"
	}
	return raceID + ":prelim"
}

func (r *mockPredictionRepo) Upsert(_ context.Context, rec *models.PredictionRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := predictionKey(rec.RaceID, rec.IsFinal)
	if prev, ok := r.s.predictions[key]; ok {
		if prev.PredictedAt.After(rec.PredictedAt) {
			return nil
		}
		delete(r.s.predictionIDs, prev.ID)
	}
	r.s.predictions[key] = rec
	r.s.predictionIDs[rec.ID] = key
	return nil
}

func (r *mockPredictionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.PredictionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	key, ok := r.s.predictionIDs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.s.predictions[key], nil
}

func (r *mockPredictionRepo) GetByRace(_ context.Context, raceID string) ([]*models.PredictionRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.PredictionRecord
	if rec, ok := r.s.predictions[predictionKey(raceID, false)]; ok {
		out = append(out, rec)
	}
	if rec, ok := r.s.predictions[predictionKey(raceID, true)]; ok {
		out = append(out, rec)
	}
	return out, nil
}

type mockCalibrationRepo struct{ s *MockStore }

func (r *mockCalibrationRepo) Save(_ context.Context, rec *models.CalibrationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.calibrations {
		c.IsActive = false
	}
	saved := *rec
	saved.IsActive = true
	r.s.calibrations = append(r.s.calibrations, &saved)
	return nil
}

func (r *mockCalibrationRepo) GetActive(_ context.Context) (*models.CalibrationRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for i := len(r.s.calibrations) - 1; i >= 0; i-- {
		if r.s.calibrations[i].IsActive {
			return r.s.calibrations[i], nil
		}
	}
	return nil, models.ErrNotFound
}

type mockBiasRepo struct{ s *MockStore }

func (r *mockBiasRepo) Get(_ context.Context, date time.Time, venue string) (*models.BiasSnapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	snap, ok := r.s.biases[date.Format("20060102")+":"+venue]
	if !ok {
		return nil, models.ErrNotFound
	}
	return snap, nil
}

func (r *mockBiasRepo) Save(_ context.Context, snap *models.BiasSnapshot) error {
	r.s.AddBias(snap)
	return nil
}

// meanStd is the population mean and standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}
