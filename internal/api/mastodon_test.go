package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/brunopatuleia/tootkeeper/internal/models"
)

func newTestClient(t *testing.T, instanceURL string) *Client {
	t.Helper()
	c := NewClient()
	err := c.Configure(&models.Account{
		InstanceURL: instanceURL,
		AccessToken: sql.NullString{String: "token", Valid: true},
		UserID:      sql.NullString{String: "1", Valid: true},
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return c
}

// Favourites page by an internal cursor, not by status id, so the next
// boundary must come from the Link header rather than the oldest item
// on the page.
func TestFetchPageFollowsLinkHeader(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/favourites" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("max_id") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/favourites?max_id=987>; rel="next"`, srv.URL))
			fmt.Fprint(w, `[{"id":"113000000000000040","content":"<p>first</p>","account":{"acct":"poster@example.social"}}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	page, err := c.FetchPage(context.Background(), models.KindFavorite, "", 40)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].RemoteID != "113000000000000040" {
		t.Fatalf("unexpected items: %+v", page.Items)
	}
	if page.NextMaxID != "987" {
		t.Errorf("expected next boundary 987 from Link header, got %q", page.NextMaxID)
	}

	// The final page carries no next link; the walk must stop here.
	page, err = c.FetchPage(context.Background(), models.KindFavorite, page.NextMaxID, 40)
	if err != nil {
		t.Fatalf("FetchPage (last page): %v", err)
	}
	if page.NextMaxID != "" {
		t.Errorf("expected empty boundary on last page, got %q", page.NextMaxID)
	}
}

func TestFetchPageStopsWithoutLinkHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"55","content":"<p>only one</p>","account":{"acct":"poster@example.social"}}]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	page, err := c.FetchPage(context.Background(), models.KindToot, "60", 40)
	if err != nil {
		t.Fatalf("FetchPage: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(page.Items))
	}
	if page.NextMaxID != "" {
		t.Errorf("expected no next boundary without a Link header, got %q", page.NextMaxID)
	}
}
