package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/asptrack/asp-service/internal/attendance"
)

const csvContentType = "text/csv; charset=utf-8"

// ObjectWriter stores an object and returns a link to it.
type ObjectWriter interface {
	Put(ctx context.Context, path, contentType string, data io.Reader) (string, error)
}

// Snapshot describes one published leaderboard export.
type Snapshot struct {
	Path        string    `json:"path"`
	URL         string    `json:"url"`
	Rows        int       `json:"rows"`
	Cohort      string    `json:"cohort,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Publisher writes leaderboard snapshots to object storage.
type Publisher struct {
	writer ObjectWriter
	loc    *time.Location
}

// NewPublisher returns a Publisher that names objects by the program-local date in loc.
func NewPublisher(writer ObjectWriter, loc *time.Location) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("object writer is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Publisher{writer: writer, loc: loc}, nil
}

// Publish encodes rows as CSV and stores them under
// leaderboards/<date>/<cohort-or-all>-<timestamp>.csv.
func (p *Publisher) Publish(ctx context.Context, rows []attendance.LeaderboardRow, cohort string, at time.Time) (Snapshot, error) {
	var buf bytes.Buffer
	if err := WriteLeaderboardCSV(&buf, rows); err != nil {
		return Snapshot{}, err
	}

	path := ObjectPath(at.In(p.loc), cohort)
	url, err := p.writer.Put(ctx, path, csvContentType, &buf)
	if err != nil {
		return Snapshot{}, fmt.Errorf("store snapshot: %w", err)
	}

	return Snapshot{
		Path:        path,
		URL:         url,
		Rows:        len(rows),
		Cohort:      cohort,
		GeneratedAt: at,
	}, nil
}

// ObjectPath names the snapshot object for a local instant.
func ObjectPath(local time.Time, cohort string) string {
	scope := "all"
	if cohort != "" {
		scope = cohort
	}
	return fmt.Sprintf("leaderboards/%s/%s-%s.csv",
		local.Format("2006-01-02"), scope, local.UTC().Format("20060102T150405Z"))
}
