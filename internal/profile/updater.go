// Package profile keeps the archived account's profile metadata fields
// in sync with external "now playing / last watched / last read"
// sources. Each field polls on its own interval; a field is written to
// the remote profile only when its value changes.
package profile

import (
	"context"
	"sync"
	"time"

	mastodon "github.com/mattn/go-mastodon"

	"github.com/brunopatuleia/tootkeeper/internal/config"
	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/models"
	"github.com/brunopatuleia/tootkeeper/internal/task"
)

// Client is the slice of the Mastodon API the updater needs.
type Client interface {
	Configure(acc *models.Account) error
	VerifyCredentials(ctx context.Context) (*mastodon.Account, error)
	UpdateProfileFields(ctx context.Context, fields []mastodon.Field) error
}

// Store persists the last value written per managed field, so restarts
// don't rewrite an unchanged profile.
type Store interface {
	GetAccount(ctx context.Context) (*models.Account, error)
	GetProfileState(ctx context.Context, fieldName string) (string, error)
	SetProfileState(ctx context.Context, fieldName, value string) error
}

// field is one managed profile field with its own source and interval.
type field struct {
	name   string
	source Source
	task   *task.Task

	mu      sync.Mutex
	value   string
	lastRun time.Time
}

// FieldStatus is one managed field's state, for the status API.
type FieldStatus struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	LastRun time.Time `json:"last_run"`
}

// Updater drives the managed profile fields. Fields poll independently
// but pushes to the remote profile are serialized, since every push
// rewrites the full field list.
type Updater struct {
	store  Store
	client Client
	fields []*field

	// managedOrder fixes the field order on the profile: music first,
	// then movie, then book.
	managedOrder []string

	pushMu sync.Mutex
}

// NewUpdater builds an updater from the configured sources. Sources
// with no configuration are left out; an updater with no fields is
// valid and Run becomes a no-op.
func NewUpdater(store Store, client Client, cfg *config.Config) *Updater {
	u := &Updater{store: store, client: client}

	var music []trackFetcher
	if cfg.LastFmAPIKey != "" && cfg.LastFmUsername != "" {
		music = append(music, &LastFm{APIKey: cfg.LastFmAPIKey, Username: cfg.LastFmUsername})
	}
	if cfg.ListenBrainzUser != "" {
		music = append(music, &ListenBrainz{Username: cfg.ListenBrainzUser, Token: cfg.ListenBrainzToken})
	}
	if cfg.NavidromeURL != "" && cfg.NavidromeUsername != "" && cfg.NavidromePassword != "" {
		music = append(music, &Navidrome{ServerURL: cfg.NavidromeURL, Username: cfg.NavidromeUsername, Password: cfg.NavidromePassword})
	}
	if len(music) > 0 {
		u.addField(cfg.MusicFieldName, NewMusicSource(cfg.ProfileFieldEmojis, music...), cfg.MusicInterval)
	}
	if cfg.LetterboxdRSSURL != "" {
		u.addField(cfg.MovieFieldName, NewLetterboxdSource(cfg.LetterboxdRSSURL, cfg.ProfileFieldEmojis), cfg.MovieInterval)
	}
	if cfg.GoodreadsRSSURL != "" {
		u.addField(cfg.BookFieldName, NewGoodreadsSource(cfg.GoodreadsRSSURL, cfg.ProfileFieldEmojis), cfg.BookInterval)
	}

	u.managedOrder = []string{cfg.MusicFieldName, cfg.MovieFieldName, cfg.BookFieldName}
	return u
}

func (u *Updater) addField(name string, source Source, interval time.Duration) {
	f := &field{name: name, source: source}
	f.task = task.New("profile:"+name, interval, func(ctx context.Context) error {
		return u.poll(ctx, f)
	})
	u.fields = append(u.fields, f)
}

// Enabled reports whether any source is configured.
func (u *Updater) Enabled() bool { return len(u.fields) > 0 }

// Run blocks, polling each field on its interval until the context is
// cancelled. Returns immediately when nothing is configured.
func (u *Updater) Run(ctx context.Context) {
	if !u.Enabled() {
		logging.Info("Profile updater disabled: no sources configured.")
		return
	}

	// Wait for an account to be linked before polling sources, so the
	// updater comes alive after the web OAuth flow without a restart.
	acc := u.waitForAccount(ctx)
	if acc == nil {
		return
	}
	if err := u.client.Configure(acc); err != nil {
		logging.Error("Profile updater failed to configure client: %v", err)
		return
	}

	// Seed each field's value from the store, so a restart does not
	// push an unchanged profile.
	for _, f := range u.fields {
		if v, err := u.store.GetProfileState(ctx, f.name); err == nil {
			f.mu.Lock()
			f.value = v
			f.mu.Unlock()
		}
	}

	logging.Info("Profile updater started with %d managed fields.", len(u.fields))

	var wg sync.WaitGroup
	for _, f := range u.fields {
		wg.Add(1)
		go func(f *field) {
			defer wg.Done()
			f.task.Loop(ctx)
		}(f)
	}
	wg.Wait()
}

func (u *Updater) waitForAccount(ctx context.Context) *models.Account {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		acc, err := u.store.GetAccount(ctx)
		if err == nil && acc.Configured() {
			return acc
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// poll fetches one field's current value and pushes the profile when
// it changed. ErrUnavailable keeps the last value without a push.
func (u *Updater) poll(ctx context.Context, f *field) error {
	current, err := f.source.FetchCurrent(ctx)

	f.mu.Lock()
	f.lastRun = time.Now()
	previous := f.value
	f.mu.Unlock()

	if err == ErrUnavailable {
		return nil
	}
	if err != nil {
		return err
	}
	if current == "" || current == previous {
		return nil
	}

	logging.Info("Profile field %q changed: %s", f.name, current)

	f.mu.Lock()
	f.value = current
	f.mu.Unlock()

	if err := u.push(ctx); err != nil {
		// Roll back so the next poll retries the push.
		f.mu.Lock()
		f.value = previous
		f.mu.Unlock()
		return err
	}
	return u.store.SetProfileState(ctx, f.name, current)
}

// push rewrites the remote profile's field list: managed fields in
// fixed order, then whatever unmanaged fields the profile already has,
// capped at Mastodon's four-field limit.
func (u *Updater) push(ctx context.Context) error {
	u.pushMu.Lock()
	defer u.pushMu.Unlock()

	managed := make(map[string]string, len(u.fields))
	for _, f := range u.fields {
		f.mu.Lock()
		if f.value != "" {
			managed[f.name] = f.value
		}
		f.mu.Unlock()
	}
	if len(managed) == 0 {
		return nil
	}

	remote, err := u.client.VerifyCredentials(ctx)
	if err != nil {
		return err
	}

	var fields []mastodon.Field
	for _, name := range u.managedOrder {
		if value, ok := managed[name]; ok {
			fields = append(fields, mastodon.Field{Name: name, Value: value})
		}
	}
	for _, existing := range remote.Fields {
		if _, ok := managed[existing.Name]; !ok {
			fields = append(fields, mastodon.Field{Name: existing.Name, Value: existing.Value})
		}
	}
	if len(fields) > 4 {
		fields = fields[:4]
	}

	return u.client.UpdateProfileFields(ctx, fields)
}

// Status reports each managed field's last value and poll time.
func (u *Updater) Status() []FieldStatus {
	out := make([]FieldStatus, 0, len(u.fields))
	for _, f := range u.fields {
		f.mu.Lock()
		out = append(out, FieldStatus{Name: f.name, Value: f.value, LastRun: f.lastRun})
		f.mu.Unlock()
	}
	return out
}
