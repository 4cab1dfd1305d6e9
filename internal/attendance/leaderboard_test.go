package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLeaderboardRanksByTotal(t *testing.T) {
	ledger := testLedger(t)
	cadets := []Cadet{
		{ID: "ana", Name: "Ana", Cohort: "2027"},
		{ID: "ben", Name: "Ben", Cohort: "2028"},
		{ID: "cal", Name: "Cal", Cohort: "2027"},
	}
	sessions := []Session{
		closed("1", "ana", oct(12, 19, 30), oct(12, 20, 0)),
		closed("2", "ben", oct(12, 19, 30), oct(12, 21, 30)),
		closed("3", "cal", oct(12, 19, 30), oct(12, 20, 30)),
		closed("4", "ana", oct(14, 19, 30), oct(14, 21, 30)),
		closed("5", "ben", oct(14, 19, 30), oct(14, 21, 30)),
	}

	rows := ledger.BuildLeaderboard(cadets, sessions, nil, true, oct(20, 0, 0))

	require.Len(t, rows, 3)
	assert.Equal(t, "ben", rows[0].CadetID)
	assert.Equal(t, 240, rows[0].TotalMinutes)
	assert.Equal(t, 1, rows[0].RewardDays)
	assert.Equal(t, "ana", rows[1].CadetID)
	assert.Equal(t, 150, rows[1].TotalMinutes)
	assert.Equal(t, "cal", rows[2].CadetID)
	for i, r := range rows {
		assert.Equal(t, i+1, r.Rank)
	}
	assert.Equal(t, "Ben", rows[0].Name)
	assert.Equal(t, "2028", rows[0].Cohort)
}

func TestBuildLeaderboardTiesKeepEncounterOrder(t *testing.T) {
	ledger := testLedger(t)
	sessions := []Session{
		closed("1", "zed", oct(12, 19, 30), oct(12, 20, 0)),
		closed("2", "amy", oct(12, 19, 30), oct(12, 20, 0)),
		closed("3", "kim", oct(12, 19, 30), oct(12, 20, 0)),
	}

	rows := ledger.BuildLeaderboard(nil, sessions, nil, true, oct(20, 0, 0))

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"zed", "amy", "kim"}, []string{rows[0].CadetID, rows[1].CadetID, rows[2].CadetID})
}

func TestBuildLeaderboardOverrideReplacesDisplayOnly(t *testing.T) {
	ledger := testLedger(t)
	cadets := []Cadet{{ID: "ana", Name: "Ana", Cohort: "2027"}, {ID: "ben", Name: "Ben", Cohort: "2027"}}
	sessions := []Session{
		closed("1", "ana", oct(12, 19, 30), oct(12, 20, 0)),
		closed("2", "ben", oct(12, 19, 30), oct(12, 21, 30)),
	}
	overrides := []Override{{CadetID: "ana", Minutes: 1000}}

	rows := ledger.BuildLeaderboard(cadets, sessions, overrides, true, oct(20, 0, 0))

	require.Len(t, rows, 2)
	assert.Equal(t, "ana", rows[0].CadetID)
	assert.Equal(t, 1000, rows[0].TotalMinutes)
	assert.Equal(t, 30, rows[0].ComputedMinutes)
	assert.True(t, rows[0].Overridden)
	assert.Equal(t, 4, rows[0].RewardDays)
	assert.False(t, rows[1].Overridden)

	plain := ledger.BuildLeaderboard(cadets, sessions, overrides, false, oct(20, 0, 0))
	assert.Equal(t, "ben", plain[0].CadetID)
	assert.Equal(t, 30, plain[1].TotalMinutes)
	assert.False(t, plain[1].Overridden)
}

func TestBuildLeaderboardExcludesVoid(t *testing.T) {
	ledger := testLedger(t)
	sessions := []Session{
		{ID: "1", CadetID: "gone", Start: oct(12, 19, 30), End: ptr(oct(12, 21, 30)), Void: true},
		closed("2", "kept", oct(12, 19, 30), oct(12, 19, 45)),
		{ID: "3", CadetID: "kept", Start: oct(14, 19, 30), End: ptr(oct(14, 21, 30)), Void: true},
	}

	rows := ledger.BuildLeaderboard(nil, sessions, []Override{{CadetID: "gone", Minutes: 500}}, true, oct(20, 0, 0))

	require.Len(t, rows, 1)
	assert.Equal(t, "kept", rows[0].CadetID)
	assert.Equal(t, 15, rows[0].TotalMinutes)
}

func TestFilterCohortKeepsOverallRank(t *testing.T) {
	rows := []LeaderboardRow{
		{Rank: 1, CadetID: "a", Cohort: "2028"},
		{Rank: 2, CadetID: "b", Cohort: "2027"},
		{Rank: 3, CadetID: "c", Cohort: "2028"},
	}

	got := FilterCohort(rows, "2028")
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, 3, got[1].Rank)

	assert.Len(t, FilterCohort(rows, ""), 3)
	assert.Empty(t, FilterCohort(rows, "2030"))
}
