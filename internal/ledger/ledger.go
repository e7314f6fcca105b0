package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/events"
	"shiftline/internal/repo"
)

// Service owns the append-only report ledger. The local store is the source
// of truth; the mirror is a best-effort copy and never blocks an append.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Mirror Mirror
	Log    *log.Logger
	Now    func() time.Time
}

func New(db *sql.DB, mirror Mirror, logger *log.Logger) Service {
	return Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Mirror: mirror,
		Log:    logger,
		Now:    time.Now,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Append writes one report row locally and then makes a single mirror
// attempt. The local write must succeed; a mirror failure is logged and
// swallowed, with no retry.
func (s Service) Append(ctx context.Context, entry domain.ReportEntry) (domain.ReportEntry, error) {
	if entry.Count < 1 {
		return entry, fmt.Errorf("%w: count must be at least 1", engine.ErrValidation)
	}
	if entry.Task == "" {
		return entry, fmt.Errorf("%w: task is required", engine.ErrValidation)
	}
	if entry.ReportedAt == "" {
		entry.ReportedAt = s.now().UTC().Format(time.RFC3339)
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return entry, err
	}
	defer tx.Rollback()

	id, err := s.Repo.InsertReportTx(ctx, tx, entry)
	if err != nil {
		return entry, err
	}
	entry.ID = id
	// direct ledger appends (CLI, API) may carry no profile id
	actor := entry.SubmitterID
	if actor == "" {
		actor = entry.Name
	}
	if err := s.Events.Append(ctx, tx, "report.appended", "report", fmt.Sprint(id), actor, events.EventPayload{
		"task":  entry.Task,
		"count": entry.Count,
	}); err != nil {
		return entry, err
	}
	if err := tx.Commit(); err != nil {
		return entry, err
	}
	if s.Mirror != nil {
		if err := s.Mirror.Append(ctx, entry); err != nil && s.Log != nil {
			s.Log.Printf("ledger: mirror append failed for report %d: %v", entry.ID, err)
		}
	}
	return entry, nil
}

// AllEntries returns the whole ledger in append order.
func (s Service) AllEntries(ctx context.Context) ([]domain.ReportEntry, error) {
	return s.Repo.ListReports(ctx)
}

// EntriesInMonth returns entries reported within the given calendar month
// of loc, matched against the UTC timestamps stored in the ledger.
func (s Service) EntriesInMonth(ctx context.Context, year int, month time.Month, loc *time.Location) ([]domain.ReportEntry, error) {
	if loc == nil {
		loc = time.UTC
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 1, 0)
	return s.Repo.ListReportsBetween(ctx,
		from.UTC().Format(time.RFC3339),
		to.UTC().Format(time.RFC3339))
}
