package profile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFormatStars(t *testing.T) {
	cases := []struct {
		rating float64
		want   string
	}{
		{0, ""},
		{3, "★★★"},
		{3.5, "★★★½"},
		{4.5, "★★★★½"},
		{5, "★★★★★"},
	}
	for _, c := range cases {
		if got := formatStars(c.rating); got != c.want {
			t.Errorf("formatStars(%v) = %q, want %q", c.rating, got, c.want)
		}
	}
}

func TestLastFmRecentTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("method"); got != "user.getrecenttracks" {
			t.Errorf("unexpected method param %q", got)
		}
		w.Write([]byte(`{"recenttracks":{"track":[{"name":"Paranoid Android","artist":{"#text":"Radiohead"},"@attr":{"nowplaying":"true"}}]}}`))
	}))
	defer srv.Close()

	lfm := &LastFm{APIKey: "key", Username: "tester", BaseURL: srv.URL}
	track, err := lfm.RecentTrack(context.Background())
	if err != nil {
		t.Fatalf("RecentTrack: %v", err)
	}
	if track == nil {
		t.Fatal("expected a track")
	}
	if track.Artist != "Radiohead" || track.Title != "Paranoid Android" || !track.NowPlaying {
		t.Errorf("unexpected track: %+v", track)
	}
}

func TestLastFmSingleTrackObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"recenttracks":{"track":{"name":"One","artist":{"#text":"Metallica"}}}}`))
	}))
	defer srv.Close()

	lfm := &LastFm{APIKey: "key", Username: "tester", BaseURL: srv.URL}
	track, err := lfm.RecentTrack(context.Background())
	if err != nil {
		t.Fatalf("RecentTrack: %v", err)
	}
	if track == nil || track.Artist != "Metallica" {
		t.Errorf("expected single-object track parsed, got %+v", track)
	}
	if track.NowPlaying {
		t.Error("expected nowplaying false when absent")
	}
}

func TestListenBrainzRecentTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("expected token header, got %q", got)
		}
		w.Write([]byte(`{"payload":{"listens":[{"playing_now":true,"track_metadata":{"artist_name":"Boards of Canada","track_name":"Roygbiv"}}]}}`))
	}))
	defer srv.Close()

	lb := &ListenBrainz{Username: "tester", Token: "secret", BaseURL: srv.URL}
	track, err := lb.RecentTrack(context.Background())
	if err != nil {
		t.Fatalf("RecentTrack: %v", err)
	}
	if track == nil || track.Artist != "Boards of Canada" || !track.NowPlaying {
		t.Errorf("unexpected track: %+v", track)
	}
}

func TestNavidromeFallsBackToPlayQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Token auth must always be present.
		q := r.URL.Query()
		if q.Get("u") != "tester" || q.Get("t") == "" || q.Get("s") == "" {
			t.Errorf("missing auth params: %v", q)
		}
		switch {
		case r.URL.Path == "/rest/getNowPlaying":
			w.Write([]byte(`{"subsonic-response":{"status":"ok","nowPlaying":{}}}`))
		case r.URL.Path == "/rest/getPlayQueue":
			w.Write([]byte(`{"subsonic-response":{"status":"ok","playQueue":{"entry":[{"artist":"Can","title":"Vitamin C"}]}}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	nd := &Navidrome{ServerURL: srv.URL, Username: "tester", Password: "pw"}
	track, err := nd.RecentTrack(context.Background())
	if err != nil {
		t.Fatalf("RecentTrack: %v", err)
	}
	if track == nil || track.Artist != "Can" || track.NowPlaying {
		t.Errorf("expected last played track from play queue, got %+v", track)
	}
}

func TestMusicSourceFallbackOrder(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload":{"listens":[{"track_metadata":{"artist_name":"Low","track_name":"Sunflower"}}]}}`))
	}))
	defer working.Close()

	src := NewMusicSource(true,
		&LastFm{APIKey: "k", Username: "u", BaseURL: failing.URL},
		&ListenBrainz{Username: "u", BaseURL: working.URL},
	)
	got, err := src.FetchCurrent(context.Background())
	if err != nil {
		t.Fatalf("FetchCurrent: %v", err)
	}
	if got != "🎵 Low - Sunflower" {
		t.Errorf("expected fallback result, got %q", got)
	}
}

func TestMusicSourceUnavailableWhenAllFail(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	src := NewMusicSource(false, &LastFm{APIKey: "k", Username: "u", BaseURL: failing.URL})
	if _, err := src.FetchCurrent(context.Background()); err != ErrUnavailable {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

const letterboxdFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:letterboxd="https://letterboxd.com">
<channel>
<title>Letterboxd - tester</title>
<item>
<title>Heat, 1995 - ★★★★½</title>
<letterboxd:filmTitle>Heat</letterboxd:filmTitle>
<letterboxd:filmYear>1995</letterboxd:filmYear>
<letterboxd:memberRating>4.5</letterboxd:memberRating>
<description>watched it again</description>
</item>
</channel>
</rss>`

func TestLetterboxdSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(letterboxdFeed))
	}))
	defer srv.Close()

	src := NewLetterboxdSource(srv.URL, true)
	got, err := src.FetchCurrent(context.Background())
	if err != nil {
		t.Fatalf("FetchCurrent: %v", err)
	}
	if got != "🎬 Heat (1995) - ★★★★½" {
		t.Errorf("unexpected movie string: %q", got)
	}
}

const goodreadsFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Goodreads - tester</title>
<item>
<title>tester is currently reading Dune</title>
<description>tester is currently reading Dune</description>
</item>
<item>
<title>tester gave 4 stars to The Dispossessed</title>
<description>&lt;a class="bookTitle" href="#"&gt;The Dispossessed&lt;/a&gt; by &lt;a class="authorName" href="#"&gt;Ursula K. Le Guin&lt;/a&gt;: tester gave 4 stars to it</description>
</item>
</channel>
</rss>`

func TestGoodreadsSourceSkipsUnratedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(goodreadsFeed))
	}))
	defer srv.Close()

	src := NewGoodreadsSource(srv.URL, true)
	got, err := src.FetchCurrent(context.Background())
	if err != nil {
		t.Fatalf("FetchCurrent: %v", err)
	}
	if got != "📚 The Dispossessed by Ursula K. Le Guin - ★★★★" {
		t.Errorf("unexpected book string: %q", got)
	}
}
