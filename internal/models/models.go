package models

import (
	"database/sql"
	"time"
)

// Kind identifies the type of an archived activity item.
type Kind string

const (
	KindToot         Kind = "toot"
	KindNotification Kind = "notification"
	KindFavorite     Kind = "favorite"
	KindBookmark     Kind = "bookmark"
)

// Kinds lists every activity kind the sync engine archives.
var Kinds = []Kind{KindToot, KindNotification, KindFavorite, KindBookmark}

// Valid reports whether k is one of the known activity kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindToot, KindNotification, KindFavorite, KindBookmark:
		return true
	}
	return false
}

// Account represents the archived user's linked Mastodon account.
// Corresponds to the 'accounts' table; single-tenant, so at most one row.
type Account struct {
	ID           int64          `db:"id"`
	InstanceURL  string         `db:"instance_url"`
	ClientID     sql.NullString `db:"client_id"`
	ClientSecret sql.NullString `db:"client_secret"`
	RedirectURI  sql.NullString `db:"redirect_uri"`
	UserID       sql.NullString `db:"user_id"` // account id on the instance
	Acct         sql.NullString `db:"acct"`
	DisplayName  sql.NullString `db:"display_name"`
	Avatar       sql.NullString `db:"avatar"`
	AccessToken  sql.NullString `db:"access_token"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// Configured reports whether the account can be used for API calls.
func (a *Account) Configured() bool {
	return a != nil && a.InstanceURL != "" && a.AccessToken.Valid && a.AccessToken.String != ""
}

// ActivityItem is a single archived unit of remote content.
// Corresponds to the 'activity_items' table; (kind, remote_id) is unique.
type ActivityItem struct {
	ID                 int64          `db:"id"`
	Kind               Kind           `db:"kind"`
	RemoteID           string         `db:"remote_id"`
	CreatedAt          sql.NullTime   `db:"created_at"` // creation time on the remote
	AccountAcct        sql.NullString `db:"account_acct"`
	AccountDisplayName sql.NullString `db:"account_display_name"`
	AccountAvatar      sql.NullString `db:"account_avatar"`
	Content            string         `db:"content"`      // HTML as served by the remote
	ContentText        string         `db:"content_text"` // plain text, feeds the FTS index
	URL                sql.NullString `db:"url"`
	InReplyToID        sql.NullString `db:"in_reply_to_id"`
	ReblogID           sql.NullString `db:"reblog_id"`
	ReblogAcct         sql.NullString `db:"reblog_acct"`
	FavouritesCount    int64          `db:"favourites_count"`
	ReblogsCount       int64          `db:"reblogs_count"`
	RepliesCount       int64          `db:"replies_count"`
	Visibility         sql.NullString `db:"visibility"`
	NotificationType   sql.NullString `db:"notification_type"` // notifications only
	StatusID           sql.NullString `db:"status_id"`         // notifications: the toot acted on
	RawJSON            string         `db:"raw_json"`
	FetchedAt          time.Time      `db:"fetched_at"`

	// Media referenced by this item, populated during normalization and
	// persisted to 'media_attachments' alongside the item.
	Media []MediaAttachment `db:"-"`
}

// MediaStatus tracks the download lifecycle of an attachment.
type MediaStatus string

const (
	MediaPending    MediaStatus = "pending"
	MediaDownloaded MediaStatus = "downloaded"
	MediaFailed     MediaStatus = "failed"
)

// MediaAttachment is a remote media file referenced by an activity item.
// Corresponds to the 'media_attachments' table; remote_id is unique and
// a downloaded attachment is never fetched again.
type MediaAttachment struct {
	ID           int64          `db:"id"`
	RemoteID     string         `db:"remote_id"`
	ParentKind   Kind           `db:"parent_kind"`
	ParentID     string         `db:"parent_id"` // remote id of the owning item
	Type         string         `db:"type"`      // image, gifv, video, ...
	URL          string         `db:"url"`
	PreviewURL   sql.NullString `db:"preview_url"`
	Description  sql.NullString `db:"description"`
	LocalPath    sql.NullString `db:"local_path"`
	Status       MediaStatus    `db:"status"`
	CreatedAt    time.Time      `db:"created_at"`
	DownloadedAt sql.NullTime   `db:"downloaded_at"`
}

// SearchResult is one hit from the full-text index, joined with its
// source activity item.
type SearchResult struct {
	Kind     Kind
	RemoteID string
	Snippet  string // FTS snippet with <mark> highlighting
	Account  string
	Item     *ActivityItem
}

// Stats holds per-kind row counts for the dashboard.
type Stats struct {
	Toots         int
	Notifications int
	Favorites     int
	Bookmarks     int
}
