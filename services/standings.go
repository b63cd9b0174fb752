package services

import (
	"sort"
	"time"

	"github.com/bracketforge/tournament-engine/models"
)

// computeStandings derives the round-robin table from confirmed matches.
// A win is one point; voided matches count for nobody; walkover wins and
// losses count like played ones. Ties break by head-to-head result, then by
// seed, then by participant ID so the order is always deterministic.
func computeStandings(participants []*models.Participant, matches []*models.Match) []*models.TournamentStanding {
	type record struct {
		wins   int
		losses int
	}
	records := make(map[int]*record, len(participants))
	for _, p := range participants {
		records[p.ID] = &record{}
	}

	// headToHead[a][b] is true when a beat b.
	headToHead := make(map[int]map[int]bool)

	for _, m := range matches {
		if m.Status != models.MatchConfirmed || m.WinnerParticipantID == nil {
			continue
		}
		winner := *m.WinnerParticipantID
		if rec, ok := records[winner]; ok {
			rec.wins++
		}
		loser := m.LoserParticipantID()
		if loser != nil {
			if rec, ok := records[*loser]; ok {
				rec.losses++
			}
			if headToHead[winner] == nil {
				headToHead[winner] = make(map[int]bool)
			}
			headToHead[winner][*loser] = true
		}
	}

	seedOf := make(map[int]int, len(participants))
	for _, p := range participants {
		if p.Seed != nil {
			seedOf[p.ID] = *p.Seed
		} else {
			seedOf[p.ID] = int(^uint(0) >> 1) // unseeded sorts last
		}
	}

	now := time.Now()
	standings := make([]*models.TournamentStanding, 0, len(participants))
	for _, p := range participants {
		rec := records[p.ID]
		standings = append(standings, &models.TournamentStanding{
			TournamentID:  p.TournamentID,
			ParticipantID: p.ID,
			GamesPlayed:   rec.wins + rec.losses,
			Wins:          rec.wins,
			Losses:        rec.losses,
			Points:        rec.wins,
			UpdatedAt:     now,
		})
	}

	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if headToHead[a.ParticipantID][b.ParticipantID] {
			return true
		}
		if headToHead[b.ParticipantID][a.ParticipantID] {
			return false
		}
		if seedOf[a.ParticipantID] != seedOf[b.ParticipantID] {
			return seedOf[a.ParticipantID] < seedOf[b.ParticipantID]
		}
		return a.ParticipantID < b.ParticipantID
	})

	for i, s := range standings {
		s.Rank = i + 1
	}
	return standings
}
