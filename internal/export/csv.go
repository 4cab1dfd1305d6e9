package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/asptrack/asp-service/internal/attendance"
)

var leaderboardHeader = []string{
	"rank", "cadet_id", "name", "cohort", "group",
	"total_minutes", "computed_minutes", "overridden", "reward_days",
}

// WriteLeaderboardCSV encodes rows in rank order with a header line.
func WriteLeaderboardCSV(w io.Writer, rows []attendance.LeaderboardRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(leaderboardHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Rank),
			r.CadetID,
			r.Name,
			r.Cohort,
			r.Group,
			strconv.Itoa(r.TotalMinutes),
			strconv.Itoa(r.ComputedMinutes),
			strconv.FormatBool(r.Overridden),
			strconv.Itoa(r.RewardDays),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", r.Rank, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
