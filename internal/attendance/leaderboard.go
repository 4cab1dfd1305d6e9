package attendance

import (
	"sort"
	"time"
)

// LeaderboardRow is a derived, never persisted, ranking entry.
type LeaderboardRow struct {
	Rank            int    `json:"rank"`
	CadetID         string `json:"cadet_id"`
	Name            string `json:"name"`
	Cohort          string `json:"cohort"`
	Group           string `json:"group"`
	TotalMinutes    int    `json:"total_minutes"`
	ComputedMinutes int    `json:"computed_minutes"`
	Overridden      bool   `json:"overridden"`
	RewardDays      int    `json:"reward_days"`
}

// BuildLeaderboard ranks every cadet that appears in the non-void session data. When
// useOverrides is set, an override replaces the displayed total. Ties keep the order in which
// cadets were first encountered.
func (l *Ledger) BuildLeaderboard(cadets []Cadet, sessions []Session, overrides []Override, useOverrides bool, now time.Time) []LeaderboardRow {
	byID := make(map[string]Cadet, len(cadets))
	for _, c := range cadets {
		byID[c.ID] = c
	}
	overrideByID := make(map[string]int, len(overrides))
	if useOverrides {
		for _, o := range overrides {
			overrideByID[o.CadetID] = o.Minutes
		}
	}

	var order []string
	grouped := make(map[string][]Session)
	for _, s := range sessions {
		if s.Void {
			continue
		}
		if _, seen := grouped[s.CadetID]; !seen {
			order = append(order, s.CadetID)
		}
		grouped[s.CadetID] = append(grouped[s.CadetID], s)
	}

	rows := make([]LeaderboardRow, 0, len(order))
	for _, id := range order {
		computed := l.AllTimeTotal(grouped[id], now)
		row := LeaderboardRow{
			CadetID:         id,
			TotalMinutes:    computed,
			ComputedMinutes: computed,
		}
		if c, ok := byID[id]; ok {
			row.Name, row.Cohort, row.Group = c.Name, c.Cohort, c.Group
		}
		if minutes, ok := overrideByID[id]; ok {
			row.TotalMinutes = minutes
			row.Overridden = true
		}
		row.RewardDays = l.RewardDays(row.TotalMinutes)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TotalMinutes > rows[j].TotalMinutes
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows
}

// FilterCohort narrows rows to one cohort, keeping order and overall rank. An empty cohort
// returns rows unchanged.
func FilterCohort(rows []LeaderboardRow, cohort string) []LeaderboardRow {
	if cohort == "" {
		return rows
	}
	out := make([]LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		if r.Cohort == cohort {
			out = append(out, r)
		}
	}
	return out
}
