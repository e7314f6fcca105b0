package dispatch_test

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"shiftline/internal/config"
	"shiftline/internal/db"
	"shiftline/internal/dispatch"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/ledger"
	"shiftline/internal/migrate"
	"shiftline/internal/transport"
)

type testEnv struct {
	Dispatcher *dispatch.Dispatcher
	Engine     engine.Engine
	Ledger     ledger.Service
	Outbox     *transport.Outbox
	Ctx        context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	logger := log.New(io.Discard, "", 0)
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	led := ledger.New(conn, ledger.NoopMirror{}, logger)
	led.Now = eng.Now
	ctx := context.Background()
	if err := eng.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	out := &transport.Outbox{}
	return testEnv{
		Dispatcher: dispatch.New(eng, led, out, cfg, logger),
		Engine:     eng,
		Ledger:     led,
		Outbox:     out,
		Ctx:        ctx,
	}
}

func (env testEnv) send(t *testing.T, ev dispatch.Event) {
	t.Helper()
	if err := env.Dispatcher.Handle(env.Ctx, ev); err != nil {
		t.Fatalf("handle %+v: %v", ev, err)
	}
}

func (env testEnv) setRole(t *testing.T, id, role string) {
	t.Helper()
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.Repo.GetProfileTx(env.Ctx, tx, id)
	if err != nil {
		t.Fatal(err)
	}
	p.Role = role
	if err := env.Engine.Repo.UpdateProfileTx(env.Ctx, tx, p); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func lastMessage(t *testing.T, out *transport.Outbox, userID string) transport.Message {
	t.Helper()
	msgs := out.For(userID)
	if len(msgs) == 0 {
		t.Fatalf("no messages for %s", userID)
	}
	return msgs[len(msgs)-1]
}

func TestReportFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	task := env.Engine.Config.Tasks.Seed[0]

	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/report"})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "task:" + task})
	env.send(t, dispatch.Event{UserID: "u1", Text: "3"})

	entries, err := env.Ledger.AllEntries(env.Ctx)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ledger rows = %d err=%v, want 1", len(entries), err)
	}
	e := entries[0]
	if e.Name != "Olha" || e.Role != domain.RoleEmployee || e.Task != task || e.Count != 3 || e.ReviewerID != "" {
		t.Fatalf("entry: %+v", e)
	}
	if got := lastMessage(t, env.Outbox, "u1").Body; !strings.Contains(got, "✅") {
		t.Fatalf("confirmation = %q", got)
	}
	// wizard is done, a stray number should not append anything
	env.send(t, dispatch.Event{UserID: "u1", Text: "5"})
	entries, _ = env.Ledger.AllEntries(env.Ctx)
	if len(entries) != 1 {
		t.Fatalf("stray input appended a row")
	}
}

func TestReportBadCountStaysOnStep(t *testing.T) {
	env := newTestEnv(t)
	task := env.Engine.Config.Tasks.Seed[0]
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/report"})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "task:" + task})

	for _, bad := range []string{"abc", "0", "-1", "1.5"} {
		env.send(t, dispatch.Event{UserID: "u1", Text: bad})
		entries, _ := env.Ledger.AllEntries(env.Ctx)
		if len(entries) != 0 {
			t.Fatalf("input %q appended a row", bad)
		}
	}
	// still on the count step; a valid count now completes the wizard
	env.send(t, dispatch.Event{UserID: "u1", Text: "2"})
	entries, _ := env.Ledger.AllEntries(env.Ctx)
	if len(entries) != 1 || entries[0].Count != 2 {
		t.Fatalf("entries after recovery: %+v", entries)
	}
}

func TestReportWithReviewerNotifies(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "tech", Name: "Taras", Text: "/start"})
	env.setRole(t, "tech", domain.RoleTechnologist)
	task := env.Engine.Config.Tasks.Seed[1]

	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/report"})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "task:" + task})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "reviewer:tech"})
	env.send(t, dispatch.Event{UserID: "u1", Text: "4"})

	entries, _ := env.Ledger.AllEntries(env.Ctx)
	if len(entries) != 1 || entries[0].ReviewerID != "tech" {
		t.Fatalf("entries: %+v", entries)
	}
	note := lastMessage(t, env.Outbox, "tech")
	if !strings.Contains(note.Body, "Olha") || !strings.Contains(note.Body, "×4") {
		t.Fatalf("reviewer note = %q", note.Body)
	}
}

func TestCustomTaskQueuesProposalAndApprove(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "tech", Name: "Taras", Text: "/start"})
	env.setRole(t, "tech", domain.RoleTechnologist)

	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/report"})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "task:other"})
	env.send(t, dispatch.Event{UserID: "u1", Text: "Вынес мусор"})

	pending, err := env.Engine.Repo.ListPending(env.Ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %d err=%v, want 1", len(pending), err)
	}
	if note := lastMessage(t, env.Outbox, "tech"); !strings.Contains(note.Body, "Вынес мусор") {
		t.Fatalf("moderator note = %q", note.Body)
	}

	before, _ := env.Engine.Repo.ListTasks(env.Ctx)
	env.send(t, dispatch.Event{UserID: "tech", Callback: "approve:" + pending[0].ID})
	after, _ := env.Engine.Repo.ListTasks(env.Ctx)
	if len(after) != len(before)+1 {
		t.Fatalf("catalog grew by %d, want 1", len(after)-len(before))
	}
	if note := lastMessage(t, env.Outbox, "u1"); !strings.Contains(note.Body, "Вынес мусор") {
		t.Fatalf("submitter note = %q", note.Body)
	}
	// the approved proposal is gone; a second approve changes nothing
	env.send(t, dispatch.Event{UserID: "tech", Callback: "approve:" + pending[0].ID})
	final, _ := env.Engine.Repo.ListTasks(env.Ctx)
	if len(final) != len(after) {
		t.Fatal("second approve touched the catalog")
	}
}

func TestProposalNotifyFollowsRecipientLanguage(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "tech", Name: "Taras", Text: "/start"})
	env.send(t, dispatch.Event{UserID: "tech", Text: "/lang uk"})
	env.setRole(t, "tech", domain.RoleTechnologist)

	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/report"})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "task:other"})
	env.send(t, dispatch.Event{UserID: "u1", Text: "Вынес мусор"})

	note := lastMessage(t, env.Outbox, "tech")
	if !strings.Contains(note.Body, "Нове завдання") {
		t.Fatalf("moderator note not in recipient language: %q", note.Body)
	}
}

func TestSupervisorCommands(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "boss", Name: "Boss", Text: "/start"})
	env.setRole(t, "boss", domain.RoleManager)
	env.send(t, dispatch.Event{UserID: "tech", Name: "Taras", Text: "/start"})
	env.setRole(t, "tech", domain.RoleTechnologist)
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/start"})

	env.send(t, dispatch.Event{UserID: "u1", Text: "/users"})
	if note := lastMessage(t, env.Outbox, "u1"); !strings.Contains(note.Body, "Недостаточно прав") {
		t.Fatalf("employee /users = %q", note.Body)
	}
	env.send(t, dispatch.Event{UserID: "boss", Text: "/users"})
	note := lastMessage(t, env.Outbox, "boss")
	if !strings.Contains(note.Body, "Olha") || !strings.Contains(note.Body, "Taras") {
		t.Fatalf("/users listing = %q", note.Body)
	}

	env.send(t, dispatch.Event{UserID: "tech", Text: "/zvit"})
	if note := lastMessage(t, env.Outbox, "tech"); !strings.Contains(note.Body, "Журнал пуст") {
		t.Fatalf("empty /zvit = %q", note.Body)
	}
	task := env.Engine.Config.Tasks.Seed[0]
	env.send(t, dispatch.Event{UserID: "u1", Text: "/report"})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "task:" + task})
	env.send(t, dispatch.Event{UserID: "u1", Callback: "reviewer:none"})
	env.send(t, dispatch.Event{UserID: "u1", Text: "3"})
	env.send(t, dispatch.Event{UserID: "tech", Text: "/zvit"})
	if note := lastMessage(t, env.Outbox, "tech"); !strings.Contains(note.Body, "Всего выполнено: 3") {
		t.Fatalf("/zvit totals = %q", note.Body)
	}
}

func TestCancelEndsWizard(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/report"})
	env.send(t, dispatch.Event{UserID: "u1", Text: "/cancel"})
	// the count input no longer lands in a wizard
	env.send(t, dispatch.Event{UserID: "u1", Text: "3"})
	entries, _ := env.Ledger.AllEntries(env.Ctx)
	if len(entries) != 0 {
		t.Fatalf("canceled wizard appended rows: %+v", entries)
	}
}

func TestPostFlowFansOutPreview(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "boss", Name: "Boss", Text: "/start"})
	env.setRole(t, "boss", domain.RoleManager)
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/start"})
	env.send(t, dispatch.Event{UserID: "u2", Name: "Ivan", Text: "/start"})

	long := strings.Repeat("а", 150)
	env.send(t, dispatch.Event{UserID: "boss", Text: "/post"})
	env.send(t, dispatch.Event{UserID: "boss", Text: long})
	env.send(t, dispatch.Event{UserID: "boss", Text: "/skip"})

	posts, err := env.Engine.Repo.ListPosts(env.Ctx)
	if err != nil || len(posts) != 1 {
		t.Fatalf("posts = %d err=%v, want 1", len(posts), err)
	}
	for _, id := range []string{"u1", "u2"} {
		note := lastMessage(t, env.Outbox, id)
		if !strings.Contains(note.Body, "📌") {
			t.Fatalf("no preview for %s: %q", id, note.Body)
		}
		if strings.Contains(note.Body, long) {
			t.Fatalf("preview for %s not truncated", id)
		}
	}
}

func TestPostWithMedia(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "boss", Name: "Boss", Text: "/start"})
	env.setRole(t, "boss", domain.RoleManager)

	env.send(t, dispatch.Event{UserID: "boss", Text: "/post"})
	env.send(t, dispatch.Event{UserID: "boss", Text: "Новий графік"})
	env.send(t, dispatch.Event{UserID: "boss", MediaRef: "file-abc123"})

	posts, _ := env.Engine.Repo.ListPosts(env.Ctx)
	if len(posts) != 1 || posts[0].MediaRef == nil || *posts[0].MediaRef != "file-abc123" {
		t.Fatalf("posts: %+v", posts)
	}
}

func TestPostDeniedForEmployee(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/post"})
	posts, _ := env.Engine.Repo.ListPosts(env.Ctx)
	if len(posts) != 0 {
		t.Fatal("employee published a post")
	}
	// a follow-up text must not be treated as a draft
	env.send(t, dispatch.Event{UserID: "u1", Text: "sneaky announcement"})
	posts, _ = env.Engine.Repo.ListPosts(env.Ctx)
	if len(posts) != 0 {
		t.Fatal("employee draft was published")
	}
}

func TestFanOutSurvivesDeliveryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "boss", Name: "Boss", Text: "/start"})
	env.setRole(t, "boss", domain.RoleManager)
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/start"})
	env.send(t, dispatch.Event{UserID: "u2", Name: "Ivan", Text: "/start"})
	env.Outbox.Fail = func(userID string) bool { return userID == "u1" }

	env.send(t, dispatch.Event{UserID: "boss", Text: "/post"})
	env.send(t, dispatch.Event{UserID: "boss", Text: "оголошення"})
	env.send(t, dispatch.Event{UserID: "boss", Text: "/skip"})

	if note := lastMessage(t, env.Outbox, "u2"); !strings.Contains(note.Body, "📌") {
		t.Fatalf("u2 missed the preview after u1's failure: %q", note.Body)
	}
}

func TestLanguageSwitch(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Text: "/lang uk"})
	p, err := env.Engine.Repo.GetProfile(env.Ctx, "u1")
	if err != nil || p.Lang != "uk" {
		t.Fatalf("profile: %+v err=%v", p, err)
	}
	env.send(t, dispatch.Event{UserID: "u1", Text: "/help"})
	if note := lastMessage(t, env.Outbox, "u1"); !strings.Contains(note.Body, "Команди") {
		t.Fatalf("help not localized: %q", note.Body)
	}
}

func TestReactionCallback(t *testing.T) {
	env := newTestEnv(t)
	env.send(t, dispatch.Event{UserID: "boss", Name: "Boss", Text: "/start"})
	env.setRole(t, "boss", domain.RoleManager)
	env.send(t, dispatch.Event{UserID: "boss", Text: "/post"})
	env.send(t, dispatch.Event{UserID: "boss", Text: "react here"})
	env.send(t, dispatch.Event{UserID: "boss", Text: "/skip"})

	emoji := env.Engine.Config.Board.Emoji[0]
	env.send(t, dispatch.Event{UserID: "u1", Name: "Olha", Callback: "react:1:" + emoji})
	post, err := env.Engine.Repo.GetPost(env.Ctx, 1)
	if err != nil || post.ReactionCount(emoji) != 1 {
		t.Fatalf("reaction count = %d err=%v", post.ReactionCount(emoji), err)
	}
	env.send(t, dispatch.Event{UserID: "u1", Callback: "react:1:" + emoji})
	post, _ = env.Engine.Repo.GetPost(env.Ctx, 1)
	if post.ReactionCount(emoji) != 0 {
		t.Fatal("second toggle did not clear the reaction")
	}
}
