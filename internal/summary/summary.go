package summary

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"shiftline/internal/config"
	"shiftline/internal/domain"
	"shiftline/internal/ledger"
	"shiftline/internal/repo"
	"shiftline/internal/transport"
)

// Charter renders a bar chart for the per-task totals. The job runs without
// one; charts are an optional capability.
type Charter interface {
	RenderBar(path string, labels []string, values []int) error
}

// Job aggregates the previous calendar month of the ledger and delivers the
// result to every opted-in profile.
type Job struct {
	Ledger  ledger.Service
	Repo    repo.Repo
	Out     transport.Transport
	Config  *config.Config
	Log     *log.Logger
	Charter Charter
	Now     func() time.Time
}

func (j Job) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// NameCount is one submitter's aggregated count.
type NameCount struct {
	Name  string
	Count int
}

// Stats is the aggregate over one month of ledger entries.
type Stats struct {
	Total         int
	Records       int
	UniqueNames   int
	TopSubmitters []NameCount
}

// Summarize computes the monthly aggregate. Top submitters are ordered by
// total count; ties keep the order submitters first appeared in the ledger.
func Summarize(entries []domain.ReportEntry) Stats {
	s := Stats{Records: len(entries)}
	totals := map[string]int{}
	var order []string
	for _, e := range entries {
		s.Total += e.Count
		if _, seen := totals[e.Name]; !seen {
			order = append(order, e.Name)
		}
		totals[e.Name] += e.Count
	}
	s.UniqueNames = len(order)
	firstSeen := map[string]int{}
	for i, name := range order {
		firstSeen[name] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if totals[order[a]] != totals[order[b]] {
			return totals[order[a]] > totals[order[b]]
		}
		return firstSeen[order[a]] < firstSeen[order[b]]
	})
	for i, name := range order {
		if i == 3 {
			break
		}
		s.TopSubmitters = append(s.TopSubmitters, NameCount{Name: name, Count: totals[name]})
	}
	return s
}

// dailyTotals sums counts per day of the month, in loc, for the chart.
func dailyTotals(entries []domain.ReportEntry, loc *time.Location) ([]string, []int) {
	totals := map[string]int{}
	var days []string
	for _, e := range entries {
		ts, err := time.Parse(time.RFC3339, e.ReportedAt)
		if err != nil {
			continue
		}
		day := ts.In(loc).Format("02")
		if _, seen := totals[day]; !seen {
			days = append(days, day)
		}
		totals[day] += e.Count
	}
	sort.Strings(days)
	values := make([]int, len(days))
	for i, day := range days {
		values[i] = totals[day]
	}
	return days, values
}

// Run aggregates the previous calendar month in the configured timezone. An
// empty month is a no-op: nothing is exported and nobody is messaged.
func (j Job) Run(ctx context.Context) error {
	loc := j.Config.Location()
	now := j.now().In(loc)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	prev := first.AddDate(0, -1, 0)

	entries, err := j.Ledger.EntriesInMonth(ctx, prev.Year(), prev.Month(), loc)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		if j.Log != nil {
			j.Log.Printf("summary: no entries for %s, skipping", prev.Format("2006-01"))
		}
		return nil
	}
	stats := Summarize(entries)

	csvPath, err := j.exportCSV(prev, entries)
	if err != nil {
		return err
	}
	chartPath := ""
	if j.Charter != nil {
		chartPath = filepath.Join(j.Config.Summary.ExportDir, fmt.Sprintf("summary-%s.png", prev.Format("2006-01")))
		labels, values := dailyTotals(entries, loc)
		if err := j.Charter.RenderBar(chartPath, labels, values); err != nil {
			if j.Log != nil {
				j.Log.Printf("summary: chart render failed: %v", err)
			}
			chartPath = ""
		}
	}

	text := renderText(prev, stats)
	recipients, err := j.Repo.ListProfiles(ctx, false)
	if err != nil {
		return err
	}
	for _, p := range recipients {
		if !p.SummaryEnabled {
			continue
		}
		if err := j.Out.SendText(ctx, p.ID, text); err != nil {
			j.logDelivery(p.ID, err)
			continue
		}
		if err := j.Out.SendDocument(ctx, p.ID, csvPath, prev.Format("2006-01")); err != nil {
			j.logDelivery(p.ID, err)
		}
		if chartPath != "" {
			if err := j.Out.SendImage(ctx, p.ID, chartPath, prev.Format("2006-01")); err != nil {
				j.logDelivery(p.ID, err)
			}
		}
	}
	return nil
}

func (j Job) logDelivery(userID string, err error) {
	if j.Log != nil {
		j.Log.Printf("summary: delivery to %s failed: %v", userID, err)
	}
}

// exportCSV writes the month's entries in the six-column export schema and
// returns the file path.
func (j Job) exportCSV(month time.Time, entries []domain.ReportEntry) (string, error) {
	dir := j.Config.Summary.ExportDir
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	w := table.NewWriter()
	w.AppendHeader(table.Row{"Дата", "Имя", "Роль", "Задача", "Количество", "Технолог"})
	for _, e := range entries {
		row := e.Row()
		w.AppendRow(table.Row{row[0], row[1], row[2], row[3], row[4], row[5]})
	}
	path := filepath.Join(dir, fmt.Sprintf("summary-%s.csv", month.Format("2006-01")))
	if err := os.WriteFile(path, []byte(w.RenderCSV()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func renderText(month time.Time, s Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Итоги за %s\n", month.Format("2006-01"))
	fmt.Fprintf(&b, "Всего выполнено: %d\n", s.Total)
	fmt.Fprintf(&b, "Записей: %d\n", s.Records)
	fmt.Fprintf(&b, "Участников: %d", s.UniqueNames)
	if len(s.TopSubmitters) > 0 {
		b.WriteString("\nЛучшие за месяц:")
		for i, nc := range s.TopSubmitters {
			fmt.Fprintf(&b, "\n%d. %s (%d)", i+1, nc.Name, nc.Count)
		}
	}
	return b.String()
}

// Scheduler runs the job at the configured hour on the first day of every
// month.
type Scheduler struct {
	Job Job
	Log *log.Logger
}

// Run blocks until ctx is canceled, firing the job once per month.
func (s Scheduler) Run(ctx context.Context) {
	loc := s.Job.Config.Location()
	for {
		next := nextRun(s.Job.now().In(loc), s.Job.Config.Summary.Hour)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.Job.Run(ctx); err != nil && s.Log != nil {
			s.Log.Printf("summary: run failed: %v", err)
		}
	}
}

// nextRun returns the next first-of-month at the given hour, strictly after
// now.
func nextRun(now time.Time, hour int) time.Time {
	candidate := time.Date(now.Year(), now.Month(), 1, hour, 0, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 1, 0)
	}
	return candidate
}
