package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	MediaPath    string // directory for downloaded media files
	ListenAddr   string // address for the web server (e.g. ":8080")
	// BaseURL is the public URL where the app is hosted, needed for OAuth callbacks.
	BaseURL string

	// MastodonInstance/MastodonAccessToken are optional fallbacks for
	// headless setups; the web OAuth flow is the primary path.
	MastodonInstance    string
	MastodonAccessToken string

	SyncInterval time.Duration
	// MaxSyncPages bounds how many pages a single pass may fetch per
	// activity kind, so a first-run backfill cannot run away.
	MaxSyncPages int
	// PageLimit is the per-page item count requested from the API.
	PageLimit int
	// MediaWorkers bounds the media download pool.
	MediaWorkers int

	// Profile updater sources. A source is enabled when its settings
	// are non-empty.
	LastFmAPIKey       string
	LastFmUsername     string
	ListenBrainzUser   string
	ListenBrainzToken  string
	NavidromeURL       string
	NavidromeUsername  string
	NavidromePassword  string
	LetterboxdRSSURL   string
	GoodreadsRSSURL    string
	MusicInterval      time.Duration
	MovieInterval      time.Duration
	BookInterval       time.Duration
	MusicFieldName     string
	MovieFieldName     string
	BookFieldName      string
	ProfileFieldEmojis bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	// Load .env file if it exists (useful for development).
	_ = godotenv.Load()

	return &Config{
		DatabasePath: getEnv("DB_PATH", "tootkeeper.db"),
		MediaPath:    getEnv("MEDIA_PATH", "media"),
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		BaseURL:      getEnv("APP_URL", "http://localhost:8080"),

		MastodonInstance:    getEnv("MASTODON_INSTANCE", ""),
		MastodonAccessToken: getEnv("MASTODON_ACCESS_TOKEN", ""),

		SyncInterval: time.Duration(getEnvInt("POLL_INTERVAL", 5)) * time.Minute,
		MaxSyncPages: getEnvInt("MAX_SYNC_PAGES", 50),
		PageLimit:    getEnvInt("PAGE_LIMIT", 40),
		MediaWorkers: getEnvInt("MEDIA_WORKERS", 4),

		LastFmAPIKey:       getEnv("LASTFM_API_KEY", ""),
		LastFmUsername:     getEnv("LASTFM_USERNAME", ""),
		ListenBrainzUser:   getEnv("LISTENBRAINZ_USERNAME", ""),
		ListenBrainzToken:  getEnv("LISTENBRAINZ_TOKEN", ""),
		NavidromeURL:       getEnv("NAVIDROME_URL", ""),
		NavidromeUsername:  getEnv("NAVIDROME_USERNAME", ""),
		NavidromePassword:  getEnv("NAVIDROME_PASSWORD", ""),
		LetterboxdRSSURL:   getEnv("LETTERBOXD_RSS_URL", ""),
		GoodreadsRSSURL:    getEnv("GOODREADS_RSS_URL", ""),
		MusicInterval:      time.Duration(getEnvInt("MUSIC_INTERVAL_SECONDS", 60)) * time.Second,
		MovieInterval:      time.Duration(getEnvInt("MOVIE_INTERVAL_SECONDS", 21600)) * time.Second,
		BookInterval:       time.Duration(getEnvInt("BOOK_INTERVAL_SECONDS", 21600)) * time.Second,
		MusicFieldName:     getEnv("MUSIC_FIELD_NAME", "NOW PLAYING"),
		MovieFieldName:     getEnv("MOVIE_FIELD_NAME", "LAST MOVIE"),
		BookFieldName:      getEnv("BOOK_FIELD_NAME", "LAST BOOK"),
		ProfileFieldEmojis: getEnvBool("PROFILE_FIELD_EMOJIS", true),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Invalid %s '%s', using default %d: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("Invalid %s '%s', using default %t: %v", key, raw, fallback, err)
		return fallback
	}
	return v
}
