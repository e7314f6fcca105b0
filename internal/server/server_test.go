package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"shiftline/internal/config"
	"shiftline/internal/db"
	"shiftline/internal/dispatch"
	"shiftline/internal/domain"
	"shiftline/internal/engine"
	"shiftline/internal/ledger"
	"shiftline/internal/migrate"
	"shiftline/internal/repo"
	"shiftline/internal/summary"
	"shiftline/internal/transport"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, jwtSecret string) *testServer {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	e := engine.New(conn, cfg)
	if err := e.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	led := ledger.New(conn, ledger.NoopMirror{}, logger)
	d := dispatch.New(e, led, &transport.Outbox{}, cfg, logger)
	job := summary.Job{Ledger: led, Repo: repo.Repo{DB: conn}, Out: &transport.Outbox{}, Config: cfg, Log: logger}
	handler, err := New(Config{
		Engine:     e,
		Dispatcher: d,
		Ledger:     led,
		Summary:    job,
		BasePath:   "/v0",
		Auth:       AuthConfig{JWTSecret: jwtSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// seedProfile creates a profile via an inbound event, then optionally
// promotes it directly in the store.
func seedProfile(t *testing.T, srv *testServer, id, name, handle, role string) {
	t.Helper()
	ctx := context.Background()
	if _, err := srv.Engine.EnsureProfile(ctx, id, name, handle); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	if role != "" && role != domain.RoleEmployee {
		tx, err := srv.Engine.DB.BeginTx(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		p, err := srv.Engine.Repo.GetProfileTx(ctx, tx, id)
		if err != nil {
			t.Fatal(err)
		}
		p.Role = role
		if err := srv.Engine.Repo.UpdateProfileTx(ctx, tx, p); err != nil {
			t.Fatal(err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t, "sekret")
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", res.StatusCode)
	}
}

func TestJWTRequiredWhenConfigured(t *testing.T) {
	srv := newTestServer(t, "sekret")
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/users", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", res.StatusCode)
	}
	token := signToken(t, "sekret", "admin")
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/users", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d, want 200", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/users", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", res.StatusCode)
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestInboundEventCreatesProfile(t *testing.T) {
	srv := newTestServer(t, "")
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"user_id": "u1", "name": "Olha", "text": "/start",
	}, nil)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("inbound status = %d, want 202", res.StatusCode)
	}
	p, err := srv.Engine.Repo.GetProfile(context.Background(), "u1")
	if err != nil || p.Role != domain.RoleEmployee {
		t.Fatalf("profile: %+v err=%v", p, err)
	}
}

func TestSetRolePermissions(t *testing.T) {
	srv := newTestServer(t, "")
	seedProfile(t, srv, "boss", "Boss", "", domain.RoleManager)
	seedProfile(t, srv, "emp", "Emp", "", domain.RoleEmployee)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/users/emp/role",
		map[string]string{"role": "technologist"}, map[string]string{"X-Actor-Id": "boss"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set role status = %d: %s", res.StatusCode, data)
	}
	var p domain.Profile
	if err := json.Unmarshal(data, &p); err != nil || p.Role != domain.RoleTechnologist {
		t.Fatalf("response: %s err=%v", data, err)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/users/boss/role",
		map[string]string{"role": "employee"}, map[string]string{"X-Actor-Id": "emp"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("employee set role status = %d, want 403", res.StatusCode)
	}
}

func TestSuperadminHandleWorksOverAPI(t *testing.T) {
	srv := newTestServer(t, "")
	// the default config superadmin handle grants manager-level access
	seedProfile(t, srv, "admin", "Admin", "@ZooLoopa", domain.RoleEmployee)
	seedProfile(t, srv, "emp", "Emp", "", domain.RoleEmployee)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/users/emp/role",
		map[string]string{"role": "manager"}, map[string]string{"X-Actor-Id": "admin"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("superadmin set role status = %d: %s", res.StatusCode, data)
	}
}

func TestBoardAndReactions(t *testing.T) {
	srv := newTestServer(t, "")
	seedProfile(t, srv, "boss", "Boss", "", domain.RoleManager)
	seedProfile(t, srv, "emp", "Emp", "", domain.RoleEmployee)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/board",
		map[string]string{"text": "Новий графік"}, map[string]string{"X-Actor-Id": "boss"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("publish status = %d: %s", res.StatusCode, data)
	}
	var post domain.BoardPost
	if err := json.Unmarshal(data, &post); err != nil || post.ID != 1 {
		t.Fatalf("post: %s err=%v", data, err)
	}

	emoji := config.Default().Board.Emoji[0]
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/board/1/reactions",
		map[string]string{"emoji": emoji}, map[string]string{"X-Actor-Id": "emp"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &post); err != nil || post.ReactionCount(emoji) != 1 {
		t.Fatalf("post after toggle: %s err=%v", data, err)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/board/1/reactions",
		map[string]string{"emoji": "🦄"}, map[string]string{"X-Actor-Id": "emp"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown emoji status = %d, want 400", res.StatusCode)
	}

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/board",
		map[string]string{"text": "hi"}, map[string]string{"X-Actor-Id": "emp"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("employee publish status = %d, want 403", res.StatusCode)
	}
}

func TestPendingModerationOverAPI(t *testing.T) {
	srv := newTestServer(t, "")
	seedProfile(t, srv, "tech", "Tech", "", domain.RoleTechnologist)
	seedProfile(t, srv, "emp", "Emp", "", domain.RoleEmployee)
	ctx := context.Background()
	prop, err := srv.Engine.SubmitProposal(ctx, "emp", "Вынес мусор")
	if err != nil {
		t.Fatal(err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pending", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", res.StatusCode)
	}
	var items []domain.PendingProposal
	if err := json.Unmarshal(data, &items); err != nil || len(items) != 1 {
		t.Fatalf("pending: %s err=%v", data, err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/pending/"+prop.ID+"/approve",
		nil, map[string]string{"X-Actor-Id": "tech"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d: %s", res.StatusCode, data)
	}
	// second approve finds nothing
	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/pending/"+prop.ID+"/approve",
		nil, map[string]string{"X-Actor-Id": "tech"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second approve status = %d, want 404", res.StatusCode)
	}
}

func TestReportsMonthFilter(t *testing.T) {
	srv := newTestServer(t, "")
	led := ledger.New(srv.Engine.DB, ledger.NoopMirror{}, log.New(io.Discard, "", 0))
	ctx := context.Background()
	for _, e := range []domain.ReportEntry{
		{Name: "a", Role: domain.RoleEmployee, Task: "t", Count: 1, ReportedAt: "2026-02-10T08:00:00Z"},
		{Name: "b", Role: domain.RoleEmployee, Task: "t", Count: 1, ReportedAt: "2026-03-10T08:00:00Z"},
	} {
		if _, err := led.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports?month=2026-02", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reports status = %d", res.StatusCode)
	}
	var items []domain.ReportEntry
	if err := json.Unmarshal(data, &items); err != nil || len(items) != 1 || items[0].Name != "a" {
		t.Fatalf("month filter: %s err=%v", data, err)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/reports?month=nope", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad month status = %d, want 400", res.StatusCode)
	}
}
