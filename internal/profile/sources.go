package profile

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/brunopatuleia/tootkeeper/internal/logging"
)

// ErrUnavailable means the source produced nothing usable right now
// (network failure, empty feed without a fallback message). The updater
// keeps the previously written value.
var ErrUnavailable = errors.New("source unavailable")

// Source produces the current display string for one profile field.
type Source interface {
	FetchCurrent(ctx context.Context) (string, error)
}

// track is the common shape the music backends produce.
type track struct {
	Artist     string
	Title      string
	NowPlaying bool
}

// trackFetcher is one music backend in the fallback chain.
type trackFetcher interface {
	Name() string
	RecentTrack(ctx context.Context) (*track, error)
}

// MusicSource tries each backend in order and formats the first track
// found. When no backend has a track it reports ErrUnavailable, so the
// profile keeps showing the last played one.
type MusicSource struct {
	Chain []trackFetcher
	Emoji bool
}

// NewMusicSource builds the fallback chain from whichever backends are
// configured, in fixed order: Last.fm, ListenBrainz, Navidrome.
func NewMusicSource(emoji bool, backends ...trackFetcher) *MusicSource {
	chain := make([]trackFetcher, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			chain = append(chain, b)
		}
	}
	return &MusicSource{Chain: chain, Emoji: emoji}
}

func (m *MusicSource) FetchCurrent(ctx context.Context) (string, error) {
	for _, backend := range m.Chain {
		t, err := backend.RecentTrack(ctx)
		if err != nil {
			logging.Warn("Music source %s failed: %v", backend.Name(), err)
			continue
		}
		if t != nil {
			prefix := ""
			if m.Emoji {
				prefix = "🎵 "
			}
			return fmt.Sprintf("%s%s - %s", prefix, t.Artist, t.Title), nil
		}
	}
	return "", ErrUnavailable
}

// LastFm fetches the most recent scrobble from the Last.fm API.
type LastFm struct {
	APIKey   string
	Username string
	BaseURL  string // overridable in tests
	Client   *http.Client
}

func (l *LastFm) Name() string { return "lastfm" }

func (l *LastFm) RecentTrack(ctx context.Context) (*track, error) {
	base := l.BaseURL
	if base == "" {
		base = "https://ws.audioscrobbler.com/2.0/"
	}
	params := url.Values{
		"method":  {"user.getrecenttracks"},
		"user":    {l.Username},
		"api_key": {l.APIKey},
		"format":  {"json"},
		"limit":   {"1"},
	}

	var body struct {
		RecentTracks struct {
			Track json.RawMessage `json:"track"`
		} `json:"recenttracks"`
	}
	if err := getJSON(ctx, l.Client, base+"?"+params.Encode(), nil, &body); err != nil {
		return nil, err
	}

	type lastfmTrack struct {
		Name   string `json:"name"`
		Artist struct {
			Text string `json:"#text"`
		} `json:"artist"`
		Attr struct {
			NowPlaying string `json:"nowplaying"`
		} `json:"@attr"`
	}
	// The track element is an object for one result, an array for many.
	var tracks []lastfmTrack
	if err := json.Unmarshal(body.RecentTracks.Track, &tracks); err != nil {
		var single lastfmTrack
		if err := json.Unmarshal(body.RecentTracks.Track, &single); err != nil {
			return nil, nil
		}
		tracks = []lastfmTrack{single}
	}
	if len(tracks) == 0 {
		return nil, nil
	}
	t := tracks[0]
	return &track{
		Artist:     orDefault(t.Artist.Text, "Unknown Artist"),
		Title:      orDefault(t.Name, "Unknown Title"),
		NowPlaying: t.Attr.NowPlaying == "true",
	}, nil
}

// ListenBrainz fetches the most recent listen.
type ListenBrainz struct {
	Username string
	Token    string // optional
	BaseURL  string
	Client   *http.Client
}

func (l *ListenBrainz) Name() string { return "listenbrainz" }

func (l *ListenBrainz) RecentTrack(ctx context.Context) (*track, error) {
	base := l.BaseURL
	if base == "" {
		base = "https://api.listenbrainz.org/1"
	}
	endpoint := fmt.Sprintf("%s/user/%s/listens?count=1", base, url.PathEscape(l.Username))
	headers := map[string]string{}
	if l.Token != "" {
		headers["Authorization"] = "Token " + l.Token
	}

	var body struct {
		Payload struct {
			Listens []struct {
				PlayingNow    bool `json:"playing_now"`
				TrackMetadata struct {
					ArtistName string `json:"artist_name"`
					TrackName  string `json:"track_name"`
				} `json:"track_metadata"`
			} `json:"listens"`
		} `json:"payload"`
	}
	if err := getJSON(ctx, l.Client, endpoint, headers, &body); err != nil {
		return nil, err
	}
	if len(body.Payload.Listens) == 0 {
		return nil, nil
	}
	listen := body.Payload.Listens[0]
	return &track{
		Artist:     orDefault(listen.TrackMetadata.ArtistName, "Unknown Artist"),
		Title:      orDefault(listen.TrackMetadata.TrackName, "Unknown Title"),
		NowPlaying: listen.PlayingNow,
	}, nil
}

// Navidrome talks the Subsonic API: getNowPlaying first, then the play
// queue for the last played track.
type Navidrome struct {
	ServerURL string
	Username  string
	Password  string
	Client    *http.Client
}

func (n *Navidrome) Name() string { return "navidrome" }

type subsonicEntry struct {
	Artist string `json:"artist"`
	Title  string `json:"title"`
}

type subsonicResponse struct {
	SubsonicResponse struct {
		Status string `json:"status"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
		NowPlaying struct {
			Entry []subsonicEntry `json:"entry"`
		} `json:"nowPlaying"`
		PlayQueue struct {
			Entry []subsonicEntry `json:"entry"`
		} `json:"playQueue"`
	} `json:"subsonic-response"`
}

// authParams builds the Subsonic salted token auth parameters.
func (n *Navidrome) authParams() url.Values {
	saltBytes := make([]byte, 8)
	_, _ = rand.Read(saltBytes)
	salt := hex.EncodeToString(saltBytes)
	sum := md5.Sum([]byte(n.Password + salt))
	return url.Values{
		"u": {n.Username},
		"t": {hex.EncodeToString(sum[:])},
		"s": {salt},
		"v": {"1.16.1"},
		"c": {"tootkeeper"},
		"f": {"json"},
	}
}

func (n *Navidrome) apiURL(endpoint string) string {
	base := strings.TrimRight(n.ServerURL, "/")
	if strings.HasSuffix(base, "/rest") || strings.Contains(base, "/rest/") {
		return base + "/" + endpoint
	}
	return base + "/rest/" + endpoint
}

func (n *Navidrome) call(ctx context.Context, endpoint string) (*subsonicResponse, error) {
	var body subsonicResponse
	u := n.apiURL(endpoint) + "?" + n.authParams().Encode()
	if err := getJSON(ctx, n.Client, u, nil, &body); err != nil {
		return nil, err
	}
	if body.SubsonicResponse.Status != "ok" {
		return nil, fmt.Errorf("subsonic error: %s", body.SubsonicResponse.Error.Message)
	}
	return &body, nil
}

func (n *Navidrome) RecentTrack(ctx context.Context) (*track, error) {
	resp, err := n.call(ctx, "getNowPlaying")
	if err != nil {
		return nil, err
	}
	if entries := resp.SubsonicResponse.NowPlaying.Entry; len(entries) > 0 {
		return &track{
			Artist:     orDefault(entries[0].Artist, "Unknown Artist"),
			Title:      orDefault(entries[0].Title, "Unknown Title"),
			NowPlaying: true,
		}, nil
	}

	resp, err = n.call(ctx, "getPlayQueue")
	if err != nil {
		return nil, err
	}
	if entries := resp.SubsonicResponse.PlayQueue.Entry; len(entries) > 0 {
		return &track{
			Artist: orDefault(entries[0].Artist, "Unknown Artist"),
			Title:  orDefault(entries[0].Title, "Unknown Title"),
		}, nil
	}
	return nil, nil
}

// LetterboxdSource reads the user's Letterboxd RSS feed. Film metadata
// lives in the feed's letterboxd namespace extensions.
type LetterboxdSource struct {
	FeedURL string
	Emoji   bool
	parser  *gofeed.Parser
}

func NewLetterboxdSource(feedURL string, emoji bool) *LetterboxdSource {
	return &LetterboxdSource{FeedURL: feedURL, Emoji: emoji, parser: gofeed.NewParser()}
}

func (s *LetterboxdSource) FetchCurrent(ctx context.Context) (string, error) {
	feed, err := s.parser.ParseURLWithContext(s.FeedURL, ctx)
	if err != nil {
		logging.Warn("Letterboxd feed failed: %v", err)
		return "", ErrUnavailable
	}

	prefix := ""
	if s.Emoji {
		prefix = "🎬 "
	}
	if len(feed.Items) == 0 {
		return prefix + "No recent movies", nil
	}

	item := feed.Items[0]
	title := feedExtension(item, "letterboxd", "filmTitle")
	if title == "" {
		return prefix + "No recent movies", nil
	}
	year := orDefault(feedExtension(item, "letterboxd", "filmYear"), "Unknown")

	out := fmt.Sprintf("%s%s (%s)", prefix, title, year)
	if raw := feedExtension(item, "letterboxd", "memberRating"); raw != "" {
		if rating, err := strconv.ParseFloat(raw, 64); err == nil {
			if stars := formatStars(rating); stars != "" {
				out += " - " + stars
			}
		}
	}
	return out, nil
}

var goodreadsRatingRE = regexp.MustCompile(`(?i)gave (\d+(?:\.\d+)?) stars? to`)

// GoodreadsSource reads the user's Goodreads RSS feed, looking for the
// newest entry that carries a rating (a finished, rated book).
type GoodreadsSource struct {
	FeedURL string
	Emoji   bool
	parser  *gofeed.Parser
}

func NewGoodreadsSource(feedURL string, emoji bool) *GoodreadsSource {
	return &GoodreadsSource{FeedURL: feedURL, Emoji: emoji, parser: gofeed.NewParser()}
}

func (s *GoodreadsSource) FetchCurrent(ctx context.Context) (string, error) {
	feed, err := s.parser.ParseURLWithContext(s.FeedURL, ctx)
	if err != nil {
		logging.Warn("Goodreads feed failed: %v", err)
		return "", ErrUnavailable
	}

	prefix := ""
	if s.Emoji {
		prefix = "📚 "
	}
	for _, item := range feed.Items {
		m := goodreadsRatingRE.FindStringSubmatch(item.Description)
		if m == nil {
			continue
		}
		rating, _ := strconv.ParseFloat(m[1], 64)

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(item.Description))
		if err != nil {
			continue
		}
		title := strings.TrimSpace(doc.Find("a.bookTitle").First().Text())
		author := strings.TrimSpace(doc.Find("a.authorName").First().Text())
		if title == "" || author == "" {
			continue
		}

		out := fmt.Sprintf("%s%s by %s", prefix, title, author)
		if stars := formatStars(rating); stars != "" {
			out += " - " + stars
		}
		return out, nil
	}
	return prefix + "No recent books", nil
}

// formatStars renders a 0-5 rating as star glyphs with a half step.
func formatStars(rating float64) string {
	if rating <= 0 {
		return ""
	}
	full := int(rating)
	out := strings.Repeat("★", full)
	if rating-float64(full) >= 0.5 {
		out += "½"
	}
	return out
}

func feedExtension(item *gofeed.Item, namespace, key string) string {
	exts, ok := item.Extensions[namespace]
	if !ok {
		return ""
	}
	values, ok := exts[key]
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// getJSON performs a GET and decodes the JSON response body.
func getJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, out interface{}) error {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
