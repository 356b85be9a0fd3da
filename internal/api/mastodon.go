package api

import (
	"context"
	"fmt"

	mastodon "github.com/mattn/go-mastodon"

	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/models"
	"github.com/brunopatuleia/tootkeeper/internal/sync"
)

// Client wraps the go-mastodon client for the archived account. It is
// unconfigured until Configure is called with a stored account; the
// sync engine re-configures it at the start of every pass so web-flow
// credential changes take effect without a restart.
type Client struct {
	client *mastodon.Client
	userID mastodon.ID
}

// NewClient creates an unconfigured Mastodon API client.
func NewClient() *Client {
	return &Client{}
}

// Configure points the client at the account's instance with its
// access token.
func (c *Client) Configure(acc *models.Account) error {
	if !acc.Configured() {
		return fmt.Errorf("mastodon account not configured")
	}
	c.client = mastodon.NewClient(&mastodon.Config{
		Server:       acc.InstanceURL,
		ClientID:     acc.ClientID.String,
		ClientSecret: acc.ClientSecret.String,
		AccessToken:  acc.AccessToken.String,
	})
	c.userID = mastodon.ID(acc.UserID.String)
	return nil
}

// checkAuth verifies the client has been configured with a token.
func (c *Client) checkAuth() error {
	if c.client == nil || c.client.Config.AccessToken == "" {
		return fmt.Errorf("mastodon client not authenticated: missing access token")
	}
	return nil
}

// RegisterApp registers Tootkeeper with a Mastodon instance and returns
// the issued client credentials. Part of the OAuth setup flow; no
// authentication required.
func RegisterApp(ctx context.Context, instanceURL, redirectURI, scopes string) (*mastodon.Application, error) {
	app, err := mastodon.RegisterApp(ctx, &mastodon.AppConfig{
		Server:       instanceURL,
		ClientName:   "Tootkeeper",
		Scopes:       scopes,
		RedirectURIs: redirectURI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register app with %s: %w", instanceURL, err)
	}
	logging.Info("Registered app with instance %s", instanceURL)
	return app, nil
}

// VerifyCredentials returns the account the access token belongs to.
func (c *Client) VerifyCredentials(ctx context.Context) (*mastodon.Account, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}
	return c.client.GetAccountCurrentUser(ctx)
}

// FetchPage fetches one page of the given activity kind, newest first,
// walking backward from maxID ("" starts at the newest side). The
// returned page carries the max_id for the next older page; an empty
// NextMaxID means the remote signalled no more pages.
func (c *Client) FetchPage(ctx context.Context, kind models.Kind, maxID string, limit int) (*sync.Page, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	pg := &mastodon.Pagination{Limit: int64(limit)}
	if maxID != "" {
		pg.MaxID = mastodon.ID(maxID)
	}

	var items []*models.ActivityItem
	switch kind {
	case models.KindToot:
		if c.userID == "" {
			return nil, fmt.Errorf("mastodon client missing account id")
		}
		statuses, err := c.client.GetAccountStatuses(ctx, c.userID, pg)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch statuses: %w", err)
		}
		for _, s := range statuses {
			items = append(items, NormalizeStatus(models.KindToot, s))
		}
	case models.KindNotification:
		notifs, err := c.client.GetNotifications(ctx, pg)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch notifications: %w", err)
		}
		for _, n := range notifs {
			items = append(items, NormalizeNotification(n))
		}
	case models.KindFavorite:
		statuses, err := c.client.GetFavourites(ctx, pg)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch favourites: %w", err)
		}
		for _, s := range statuses {
			items = append(items, NormalizeStatus(models.KindFavorite, s))
		}
	case models.KindBookmark:
		statuses, err := c.client.GetBookmarks(ctx, pg)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bookmarks: %w", err)
		}
		for _, s := range statuses {
			items = append(items, NormalizeStatus(models.KindBookmark, s))
		}
	default:
		return nil, fmt.Errorf("unsupported activity kind: %s", kind)
	}

	page := &sync.Page{Items: items}
	// go-mastodon writes the Link header's next max_id back into pg.
	// Favourites and bookmarks page by an internal cursor unrelated to
	// status ids, so the header is the only valid boundary. Without a
	// next link pg keeps the requested value, which means last page.
	if next := string(pg.MaxID); next != maxID {
		page.NextMaxID = next
	}
	logging.Debug("Fetched %d %s items (max_id=%q next=%q)", len(items), kind, maxID, page.NextMaxID)
	return page, nil
}

// UpdateProfileFields replaces the profile metadata fields of the
// archived account. Mastodon caps profiles at four fields; callers are
// expected to have merged managed and unmanaged fields already.
func (c *Client) UpdateProfileFields(ctx context.Context, fields []mastodon.Field) error {
	if err := c.checkAuth(); err != nil {
		return err
	}
	if len(fields) > 4 {
		fields = fields[:4]
	}
	_, err := c.client.AccountUpdate(ctx, &mastodon.Profile{Fields: &fields})
	if err != nil {
		return fmt.Errorf("failed to update profile fields: %w", err)
	}
	return nil
}
