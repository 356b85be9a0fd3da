package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	mastodon "github.com/mattn/go-mastodon"

	"github.com/brunopatuleia/tootkeeper/internal/models"
)

type fakeProfileStore struct {
	state map[string]string
}

func (s *fakeProfileStore) GetAccount(ctx context.Context) (*models.Account, error) {
	return &models.Account{InstanceURL: "https://example.social"}, nil
}

func (s *fakeProfileStore) GetProfileState(ctx context.Context, fieldName string) (string, error) {
	return s.state[fieldName], nil
}

func (s *fakeProfileStore) SetProfileState(ctx context.Context, fieldName, value string) error {
	s.state[fieldName] = value
	return nil
}

type fakeProfileClient struct {
	remoteFields []mastodon.Field
	pushes       [][]mastodon.Field
	pushErr      error
}

func (c *fakeProfileClient) Configure(acc *models.Account) error { return nil }

func (c *fakeProfileClient) VerifyCredentials(ctx context.Context) (*mastodon.Account, error) {
	return &mastodon.Account{Fields: c.remoteFields}, nil
}

func (c *fakeProfileClient) UpdateProfileFields(ctx context.Context, fields []mastodon.Field) error {
	if c.pushErr != nil {
		return c.pushErr
	}
	c.pushes = append(c.pushes, fields)
	c.remoteFields = fields
	return nil
}

type stubSource struct {
	value string
	err   error
}

func (s *stubSource) FetchCurrent(ctx context.Context) (string, error) {
	return s.value, s.err
}

func newTestUpdater(store Store, client Client) *Updater {
	return &Updater{
		store:        store,
		client:       client,
		managedOrder: []string{"NOW PLAYING", "LAST MOVIE", "LAST BOOK"},
	}
}

func TestPollPushesOnChange(t *testing.T) {
	store := &fakeProfileStore{state: map[string]string{}}
	client := &fakeProfileClient{}
	u := newTestUpdater(store, client)
	src := &stubSource{value: "🎵 Artist - Song"}
	u.addField("NOW PLAYING", src, time.Minute)

	if err := u.poll(context.Background(), u.fields[0]); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(client.pushes) != 1 {
		t.Fatalf("expected one push, got %d", len(client.pushes))
	}
	if got := client.pushes[0][0]; got.Name != "NOW PLAYING" || got.Value != "🎵 Artist - Song" {
		t.Errorf("unexpected pushed field: %+v", got)
	}
	if store.state["NOW PLAYING"] != "🎵 Artist - Song" {
		t.Errorf("expected state persisted, got %q", store.state["NOW PLAYING"])
	}

	// Same value again: no second push.
	if err := u.poll(context.Background(), u.fields[0]); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(client.pushes) != 1 {
		t.Errorf("unchanged value must not push, got %d pushes", len(client.pushes))
	}

	// New value: second push.
	src.value = "🎵 Artist - Next Song"
	if err := u.poll(context.Background(), u.fields[0]); err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if len(client.pushes) != 2 {
		t.Errorf("expected push on change, got %d pushes", len(client.pushes))
	}
}

func TestPollKeepsValueWhenSourceUnavailable(t *testing.T) {
	store := &fakeProfileStore{state: map[string]string{}}
	client := &fakeProfileClient{}
	u := newTestUpdater(store, client)
	src := &stubSource{value: "🎵 Artist - Song"}
	u.addField("NOW PLAYING", src, time.Minute)

	if err := u.poll(context.Background(), u.fields[0]); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// Nothing playing: the field keeps its last value, no push.
	src.value = ""
	src.err = ErrUnavailable
	if err := u.poll(context.Background(), u.fields[0]); err != nil {
		t.Fatalf("unavailable poll: %v", err)
	}
	if len(client.pushes) != 1 {
		t.Errorf("unavailable source must not push, got %d pushes", len(client.pushes))
	}
	if u.fields[0].value != "🎵 Artist - Song" {
		t.Errorf("expected last value kept, got %q", u.fields[0].value)
	}
}

func TestPushPreservesUnmanagedFields(t *testing.T) {
	store := &fakeProfileStore{state: map[string]string{}}
	client := &fakeProfileClient{
		remoteFields: []mastodon.Field{
			{Name: "Website", Value: "https://example.com"},
		},
	}
	u := newTestUpdater(store, client)
	u.addField("LAST MOVIE", &stubSource{value: "🎬 Heat (1995) - ★★★★½"}, time.Hour)

	if err := u.poll(context.Background(), u.fields[0]); err != nil {
		t.Fatalf("poll: %v", err)
	}
	pushed := client.pushes[0]
	if len(pushed) != 2 {
		t.Fatalf("expected managed + unmanaged fields, got %+v", pushed)
	}
	// Managed fields come first, then existing unmanaged ones.
	if pushed[0].Name != "LAST MOVIE" {
		t.Errorf("expected managed field first, got %q", pushed[0].Name)
	}
	if pushed[1].Name != "Website" || pushed[1].Value != "https://example.com" {
		t.Errorf("expected unmanaged field preserved, got %+v", pushed[1])
	}
}

func TestPushCapsAtFourFields(t *testing.T) {
	store := &fakeProfileStore{state: map[string]string{}}
	client := &fakeProfileClient{
		remoteFields: []mastodon.Field{
			{Name: "Website", Value: "https://example.com"},
			{Name: "Pronouns", Value: "they/them"},
			{Name: "Location", Value: "Lisbon"},
		},
	}
	u := newTestUpdater(store, client)
	u.addField("NOW PLAYING", &stubSource{value: "🎵 a - b"}, time.Minute)
	u.addField("LAST MOVIE", &stubSource{value: "🎬 c (2001)"}, time.Hour)

	for _, f := range u.fields {
		if err := u.poll(context.Background(), f); err != nil {
			t.Fatalf("poll %s: %v", f.name, err)
		}
	}
	last := client.pushes[len(client.pushes)-1]
	if len(last) != 4 {
		t.Errorf("expected four fields after cap, got %d: %+v", len(last), last)
	}
	if last[0].Name != "NOW PLAYING" || last[1].Name != "LAST MOVIE" {
		t.Errorf("expected managed order first, got %+v", last)
	}
}

func TestPushFailureRetriesNextPoll(t *testing.T) {
	store := &fakeProfileStore{state: map[string]string{}}
	client := &fakeProfileClient{pushErr: errors.New("instance down")}
	u := newTestUpdater(store, client)
	src := &stubSource{value: "📚 A Book by Someone - ★★★"}
	u.addField("LAST BOOK", src, time.Hour)

	if err := u.poll(context.Background(), u.fields[0]); err == nil {
		t.Fatal("expected poll to surface the push error")
	}
	if store.state["LAST BOOK"] != "" {
		t.Errorf("failed push must not persist state, got %q", store.state["LAST BOOK"])
	}

	// The instance recovers; the same value pushes on the next poll.
	client.pushErr = nil
	if err := u.poll(context.Background(), u.fields[0]); err != nil {
		t.Fatalf("retry poll: %v", err)
	}
	if len(client.pushes) != 1 {
		t.Errorf("expected retried push, got %d", len(client.pushes))
	}
	if store.state["LAST BOOK"] == "" {
		t.Error("expected state persisted after successful retry")
	}
}
