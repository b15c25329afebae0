package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rekenwolk/internal/config"
	"rekenwolk/internal/db"
	"rekenwolk/internal/domain"
	"rekenwolk/internal/engine"
	"rekenwolk/internal/migrate"
	"rekenwolk/internal/repo"
)

const testJWTSecret = "test-geheim"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
		},
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
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func (s *testServer) do(t *testing.T, method, path string, body any, auth func(*http.Request)) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		auth(req)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func asActor(req *http.Request) { req.Header.Set("X-Actor-Id", "tester") }

func (s *testServer) createProject(t *testing.T) domain.Project {
	t.Helper()
	p, err := s.Engine.CreateProject(context.Background(), domain.Project{
		Naam:       "Woning",
		Adres:      "Teststraat 12",
		Plaatsnaam: "Amsterdam",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func TestHealthWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/v0/projects", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("fout-envelop: %v (%s)", err, body)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	s := newTestServer(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	resp, body := s.do(t, http.MethodGet, "/v0/projects", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "tester"}).
		SignedString([]byte("ander-geheim"))
	if err != nil {
		t.Fatal(err)
	}
	resp, _ = s.do(t, http.MethodGet, "/v0/projects", nil, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+forged)
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("vervalste token: status %d", resp.StatusCode)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	s := newTestServer(t)
	raw := "rw-test-sleutel"
	err := s.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:        "key-1",
		ActorID:   "tester",
		Name:      "test",
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, body := s.do(t, http.MethodGet, "/v0/projects", nil, func(req *http.Request) {
		req.Header.Set("X-Api-Key", raw)
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	resp, _ = s.do(t, http.MethodGet, "/v0/projects", nil, func(req *http.Request) {
		req.Header.Set("X-Api-Key", "verkeerde-sleutel")
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("verkeerde sleutel: status %d", resp.StatusCode)
	}
}

func TestCreateProject(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/v0/projects", map[string]any{
		"naam":       "Nieuwbouw Kavel 7",
		"adres":      "Bouwweg 7",
		"plaatsnaam": "Zwolle",
	}, asActor)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got struct {
		ID          string `json:"id"`
		Naam        string `json:"naam"`
		ProjectType string `json:"project_type"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID == "" || got.Naam != "Nieuwbouw Kavel 7" || got.ProjectType != "nieuwbouw" {
		t.Fatalf("onverwacht antwoord: %s", body)
	}

	resp, body = s.do(t, http.MethodPost, "/v0/projects", map[string]any{"naam": ""}, asActor)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("lege naam: status %d: %s", resp.StatusCode, body)
	}
}

func TestStartCalculationEndpoint(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)

	resp, body := s.do(t, http.MethodPost, "/v0/start-calculation", map[string]any{
		"project_id": p.ID,
	}, asActor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got struct {
		CalculationRunID string `json:"calculation_run_id"`
		Status           string `json:"status"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.CalculationRunID == "" || got.Status != engine.StartStarted {
		t.Fatalf("onverwacht antwoord: %s", body)
	}

	// Second start hits the active-run guard but stays a 200.
	resp, body = s.do(t, http.MethodPost, "/v0/start-calculation", map[string]any{
		"project_id": p.ID,
	}, asActor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tweede start: status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != engine.StartAlreadyRunning {
		t.Fatalf("status = %s, want %s", got.Status, engine.StartAlreadyRunning)
	}
}

func TestStartCalculationValidation(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodPost, "/v0/start-calculation", map[string]any{}, asActor)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("ontbrekend project_id: status %d: %s", resp.StatusCode, body)
	}
	resp, body = s.do(t, http.MethodPost, "/v0/start-calculation", map[string]any{
		"project_id": "bestaat-niet",
	}, asActor)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("onbekend project: status %d: %s", resp.StatusCode, body)
	}
}

func TestEnqueueTaskEndpoint(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)

	resp, body := s.do(t, http.MethodPost, "/v0/projects/"+p.ID+"/tasks", map[string]any{
		"action": "foundation_check",
	}, asActor)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var task struct {
		ID     string `json:"id"`
		Action string `json:"action"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &task); err != nil {
		t.Fatal(err)
	}
	if task.Action != "foundation_check" || task.Status != "open" {
		t.Fatalf("onverwachte taak: %s", body)
	}

	resp, body = s.do(t, http.MethodPost, "/v0/projects/"+p.ID+"/tasks", map[string]any{
		"action": "frituur_friet",
	}, asActor)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("onbekende actie: status %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "unknown_action") {
		t.Fatalf("verwachtte unknown_action code: %s", body)
	}
}

func TestReportNotFound(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)
	resp, body := s.do(t, http.MethodGet, "/v0/projects/"+p.ID+"/reports/calculatie", nil, asActor)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
}

func TestRunLookup(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)
	res, err := s.Engine.StartCalculation(context.Background(), engine.StartOptions{ProjectID: p.ID})
	if err != nil {
		t.Fatal(err)
	}
	resp, body := s.do(t, http.MethodGet, "/v0/runs/"+res.Run.ID, nil, asActor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &run); err != nil {
		t.Fatal(err)
	}
	if run.ID != res.Run.ID || run.Status != "queued" {
		t.Fatalf("onverwachte run: %s", body)
	}

	resp, _ = s.do(t, http.MethodGet, "/v0/runs/bestaat-niet", nil, asActor)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("onbekende run: status %d", resp.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	s := newTestServer(t)
	p := s.createProject(t)
	resp, body := s.do(t, http.MethodGet, "/v0/events?project_id="+p.ID, nil, asActor)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var events []struct {
		Type     string `json:"type"`
		EntityID string `json:"entity_id"`
	}
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 || events[0].Type != "project.created" {
		t.Fatalf("verwachtte project.created event: %s", body)
	}
}
