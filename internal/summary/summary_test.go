package summary

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shiftline/internal/config"
	"shiftline/internal/db"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/ledger"
	"shiftline/internal/migrate"
	"shiftline/internal/repo"
	"shiftline/internal/transport"
)

func newTestJob(t *testing.T, now time.Time) (Job, *transport.Outbox, engine.Engine) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Summary.ExportDir = filepath.Join(t.TempDir(), "exports")
	logger := log.New(io.Discard, "", 0)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return now }
	led := ledger.New(conn, ledger.NoopMirror{}, logger)
	led.Now = eng.Now
	out := &transport.Outbox{}
	job := Job{
		Ledger: led,
		Repo:   repo.Repo{DB: conn},
		Out:    out,
		Config: cfg,
		Log:    logger,
		Now:    eng.Now,
	}
	return job, out, eng
}

func TestSummarizeStats(t *testing.T) {
	entries := []domain.ReportEntry{
		{Name: "a", Task: "floor", Count: 2},
		{Name: "b", Task: "plants", Count: 5},
		{Name: "a", Task: "floor", Count: 3},
		{Name: "c", Task: "chairs", Count: 5},
		{Name: "d", Task: "windows", Count: 1},
		{Name: "a", Task: "windows", Count: 1},
	}
	s := Summarize(entries)
	if s.Total != 17 || s.Records != 6 || s.UniqueNames != 4 {
		t.Fatalf("stats: %+v", s)
	}
	if len(s.TopSubmitters) != 3 {
		t.Fatalf("top submitters: %+v", s.TopSubmitters)
	}
	// b and c tie at 5; ledger order breaks the tie
	want := []NameCount{{"a", 6}, {"b", 5}, {"c", 5}}
	for i, nc := range s.TopSubmitters {
		if nc != want[i] {
			t.Fatalf("top order: %+v", s.TopSubmitters)
		}
	}
}

func TestRunEmptyMonthIsNoOp(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job, out, eng := newTestJob(t, now)
	ctx := context.Background()
	if _, err := eng.EnsureProfile(ctx, "u1", "Olha", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ToggleSummary(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if msgs := out.Messages(); len(msgs) != 0 {
		t.Fatalf("empty month sent %d messages", len(msgs))
	}
	if _, err := os.Stat(job.Config.Summary.ExportDir); !os.IsNotExist(err) {
		t.Fatal("empty month created an export")
	}
}

func TestRunDeliversToOptedInOnly(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job, out, eng := newTestJob(t, now)
	ctx := context.Background()
	for _, id := range []string{"u1", "u2"} {
		if _, err := eng.EnsureProfile(ctx, id, id, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := eng.ToggleSummary(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	// two february entries, one outside the month
	for _, e := range []domain.ReportEntry{
		{Name: "u1", Role: domain.RoleEmployee, Task: "floor", Count: 2, ReportedAt: "2026-02-10T08:00:00Z"},
		{Name: "u2", Role: domain.RoleEmployee, Task: "plants", Count: 1, ReportedAt: "2026-02-20T08:00:00Z"},
		{Name: "u1", Role: domain.RoleEmployee, Task: "floor", Count: 9, ReportedAt: "2026-03-01T08:00:00Z"},
	} {
		if _, err := job.Ledger.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if msgs := out.For("u2"); len(msgs) != 0 {
		t.Fatalf("u2 opted out but got %d messages", len(msgs))
	}
	msgs := out.For("u1")
	if len(msgs) != 2 {
		t.Fatalf("u1 got %d messages, want text + csv", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "Всего выполнено: 3") {
		t.Fatalf("summary text: %q", msgs[0].Body)
	}
	data, err := os.ReadFile(msgs[1].Body)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	csv := string(data)
	if !strings.Contains(csv, "floor") || strings.Contains(csv, "2026-03-01") {
		t.Fatalf("export content:\n%s", csv)
	}
}

type fakeCharter struct {
	labels []string
	values []int
	err    error
}

func (c *fakeCharter) RenderBar(path string, labels []string, values []int) error {
	if c.err != nil {
		return c.err
	}
	c.labels = labels
	c.values = values
	return os.WriteFile(path, []byte("png"), 0o644)
}

func TestRunRendersDailyChart(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job, out, eng := newTestJob(t, now)
	charter := &fakeCharter{}
	job.Charter = charter
	ctx := context.Background()
	if _, err := eng.EnsureProfile(ctx, "u1", "u1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ToggleSummary(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	for _, e := range []domain.ReportEntry{
		{Name: "u1", Role: domain.RoleEmployee, Task: "floor", Count: 2, ReportedAt: "2026-02-10T08:00:00Z"},
		{Name: "u1", Role: domain.RoleEmployee, Task: "plants", Count: 1, ReportedAt: "2026-02-10T09:00:00Z"},
		{Name: "u1", Role: domain.RoleEmployee, Task: "floor", Count: 3, ReportedAt: "2026-02-20T08:00:00Z"},
	} {
		if _, err := job.Ledger.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(charter.labels) != 2 || charter.labels[0] != "10" || charter.labels[1] != "20" {
		t.Fatalf("chart labels: %v", charter.labels)
	}
	if charter.values[0] != 3 || charter.values[1] != 3 {
		t.Fatalf("chart values: %v", charter.values)
	}
	msgs := out.For("u1")
	if len(msgs) != 3 || msgs[2].Kind != "image" {
		t.Fatalf("u1 got %d messages, want text + csv + image", len(msgs))
	}
}

func TestRunSurvivesChartFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job, out, eng := newTestJob(t, now)
	job.Charter = &fakeCharter{err: os.ErrPermission}
	ctx := context.Background()
	if _, err := eng.EnsureProfile(ctx, "u1", "u1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ToggleSummary(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	entry := domain.ReportEntry{Name: "u1", Role: domain.RoleEmployee, Task: "floor", Count: 2, ReportedAt: "2026-02-10T08:00:00Z"}
	if _, err := job.Ledger.Append(ctx, entry); err != nil {
		t.Fatal(err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	msgs := out.For("u1")
	if len(msgs) != 2 {
		t.Fatalf("u1 got %d messages, want text + csv without the chart", len(msgs))
	}
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	cases := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 15, 12, 0, 0, 0, loc), time.Date(2026, 4, 1, 9, 0, 0, 0, loc)},
		{time.Date(2026, 3, 1, 8, 59, 0, 0, loc), time.Date(2026, 3, 1, 9, 0, 0, 0, loc)},
		{time.Date(2026, 3, 1, 9, 0, 0, 0, loc), time.Date(2026, 4, 1, 9, 0, 0, 0, loc)},
		{time.Date(2026, 12, 20, 0, 0, 0, 0, loc), time.Date(2027, 1, 1, 9, 0, 0, 0, loc)},
	}
	for _, c := range cases {
		if got := nextRun(c.now, 9); !got.Equal(c.want) {
			t.Errorf("nextRun(%v) = %v, want %v", c.now, got, c.want)
		}
	}
}
