package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/api"
	"github.com/brunopatuleia/tootkeeper/internal/config"
	"github.com/brunopatuleia/tootkeeper/internal/database"
	"github.com/brunopatuleia/tootkeeper/internal/models"
	"github.com/brunopatuleia/tootkeeper/internal/sync"
)

// blockingClient lets a test hold a sync pass open.
type blockingClient struct {
	release chan struct{}
}

func (c *blockingClient) Configure(acc *models.Account) error { return nil }

func (c *blockingClient) FetchPage(ctx context.Context, kind models.Kind, maxID string, limit int) (*sync.Page, error) {
	<-c.release
	return &sync.Page{}, nil
}

var webTestDBCounter int

func newTestHandler(t *testing.T, client sync.Client) (*Handler, *database.DB, *mux) {
	t.Helper()
	webTestDBCounter++
	dsn := fmt.Sprintf("file:web_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), webTestDBCounter)
	db, err := database.New(dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	engine := sync.NewEngine(db, client, nil, 5, 10, 1)
	scheduler := sync.NewScheduler(engine, time.Hour)
	cfg := &config.Config{ListenAddr: ":0", BaseURL: "http://localhost", MediaPath: t.TempDir()}

	h := NewHandler(cfg, db, api.NewClient(), scheduler, nil)
	m := http.NewServeMux()
	h.RegisterRoutes(m)
	return h, db, &mux{m}
}

type mux struct{ *http.ServeMux }

func (m *mux) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	return rec
}

func linkAccount(t *testing.T, db *database.DB) {
	t.Helper()
	err := db.SaveAccount(context.Background(), &models.Account{
		InstanceURL: "https://example.social",
		AccessToken: sql.NullString{String: "token", Valid: true},
		UserID:      sql.NullString{String: "1", Valid: true},
		Acct:        sql.NullString{String: "tester", Valid: true},
	})
	if err != nil {
		t.Fatalf("failed to link test account: %v", err)
	}
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestTriggerSyncNotConfigured(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	close(client.release)
	_, _, m := newTestHandler(t, client)

	rec := m.do(http.MethodPost, "/api/sync")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
	if got := decodeStatus(t, rec)["status"]; got != "not_configured" {
		t.Errorf("expected not_configured, got %q", got)
	}
}

func TestTriggerSyncSingleFlight(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	_, db, m := newTestHandler(t, client)
	linkAccount(t, db)

	rec := m.do(http.MethodPost, "/api/sync")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeStatus(t, rec)["status"]; got != "started" {
		t.Errorf("expected started, got %q", got)
	}

	// The pass is still blocked on its first fetch.
	rec = m.do(http.MethodPost, "/api/sync")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while running, got %d", rec.Code)
	}
	if got := decodeStatus(t, rec)["status"]; got != "already_running" {
		t.Errorf("expected already_running, got %q", got)
	}

	rec = m.do(http.MethodGet, "/api/sync/status")
	var status struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if status.State != "running" {
		t.Errorf("expected running state, got %q", status.State)
	}

	// Let the pass finish and trigger again.
	close(client.release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = m.do(http.MethodPost, "/api/sync")
		if rec.Code == http.StatusAccepted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduler never became idle after the pass finished")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAPISearchRequiresQuery(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	close(client.release)
	_, _, m := newTestHandler(t, client)

	rec := m.do(http.MethodGet, "/api/search")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without q, got %d", rec.Code)
	}

	rec = m.do(http.MethodGet, "/api/search?q=tea&kind=nonsense")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", rec.Code)
	}
}

func TestAPISearchAndStats(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	close(client.release)
	_, db, m := newTestHandler(t, client)

	_, err := db.UpsertActivity(context.Background(), &models.ActivityItem{
		Kind:        models.KindToot,
		RemoteID:    "600",
		Content:     "<p>green tea ceremony</p>",
		ContentText: "green tea ceremony",
		RawJSON:     "{}",
	})
	if err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}

	rec := m.do(http.MethodGet, "/api/search?q=tea")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var search struct {
		Total   int `json:"total"`
		Results []struct {
			RemoteID string `json:"remote_id"`
			Snippet  string `json:"snippet"`
		} `json:"results"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&search); err != nil {
		t.Fatalf("failed to decode search: %v", err)
	}
	if search.Total != 1 || len(search.Results) != 1 {
		t.Fatalf("expected one hit, got %+v", search)
	}
	if search.Results[0].RemoteID != "600" {
		t.Errorf("unexpected hit: %+v", search.Results[0])
	}

	rec = m.do(http.MethodGet, "/api/stats")
	var stats map[string]int
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats["toots"] != 1 {
		t.Errorf("expected 1 toot in stats, got %d", stats["toots"])
	}
}

func TestIndexRedirectsToSetupWhenUnlinked(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	close(client.release)
	_, _, m := newTestHandler(t, client)

	rec := m.do(http.MethodGet, "/")
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect to setup, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/setup" {
		t.Errorf("expected /setup, got %q", loc)
	}
}
