package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jaytaylor/html2text"
	mastodon "github.com/mattn/go-mastodon"

	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/models"
)

// htmlToText strips markup from remote HTML so the plain text can feed
// the full-text index.
func htmlToText(html string) string {
	if html == "" {
		return ""
	}
	text, err := html2text.FromString(html, html2text.Options{TextOnly: true})
	if err != nil {
		logging.Warn("Failed to convert HTML to text: %v", err)
		return html
	}
	return text
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// interfaceID renders Mastodon's loosely typed id fields (string or
// number depending on the instance) as a string.
func interfaceID(v interface{}) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	switch id := v.(type) {
	case string:
		return nullString(id)
	case float64:
		return nullString(fmt.Sprintf("%.0f", id))
	default:
		return nullString(fmt.Sprint(id))
	}
}

func rawJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Warn("Failed to serialize raw record: %v", err)
		return "{}"
	}
	return string(b)
}

// NormalizeStatus converts a remote status into an ActivityItem of the
// given kind, queueing its media references. For boosts the boosted
// content is folded into the searchable text.
func NormalizeStatus(kind models.Kind, s *mastodon.Status) *models.ActivityItem {
	item := &models.ActivityItem{
		Kind:               kind,
		RemoteID:           string(s.ID),
		CreatedAt:          nullTime(s.CreatedAt),
		AccountAcct:        nullString(s.Account.Acct),
		AccountDisplayName: nullString(s.Account.DisplayName),
		AccountAvatar:      nullString(s.Account.Avatar),
		Content:            s.Content,
		ContentText:        htmlToText(s.Content),
		URL:                nullString(s.URL),
		InReplyToID:        interfaceID(s.InReplyToID),
		FavouritesCount:    s.FavouritesCount,
		ReblogsCount:       s.ReblogsCount,
		RepliesCount:       s.RepliesCount,
		Visibility:         nullString(s.Visibility),
		RawJSON:            rawJSON(s),
		FetchedAt:          time.Now().UTC(),
	}

	if s.Reblog != nil {
		item.ReblogID = nullString(string(s.Reblog.ID))
		item.ReblogAcct = nullString(s.Reblog.Account.Acct)
		if s.Reblog.Content != "" {
			item.ContentText = item.ContentText + " " + htmlToText(s.Reblog.Content)
		}
	}

	item.Media = append(item.Media, normalizeAttachments(kind, string(s.ID), s.MediaAttachments)...)
	if s.Reblog != nil {
		item.Media = append(item.Media, normalizeAttachments(kind, string(s.ID), s.Reblog.MediaAttachments)...)
	}

	return item
}

// NormalizeNotification converts a remote notification into an
// ActivityItem, folding the acted-on status content into the
// searchable text.
func NormalizeNotification(n *mastodon.Notification) *models.ActivityItem {
	item := &models.ActivityItem{
		Kind:               models.KindNotification,
		RemoteID:           string(n.ID),
		CreatedAt:          nullTime(n.CreatedAt),
		AccountAcct:        nullString(n.Account.Acct),
		AccountDisplayName: nullString(n.Account.DisplayName),
		AccountAvatar:      nullString(n.Account.Avatar),
		NotificationType:   nullString(n.Type),
		RawJSON:            rawJSON(n),
		FetchedAt:          time.Now().UTC(),
	}

	if n.Status != nil {
		item.StatusID = nullString(string(n.Status.ID))
		item.Content = n.Status.Content
		item.ContentText = htmlToText(n.Status.Content)
		item.URL = nullString(n.Status.URL)
	}

	return item
}

// normalizeAttachments keeps the attachment types the archive stores
// locally; other types are archived by reference only via raw_json.
func normalizeAttachments(kind models.Kind, parentID string, attachments []mastodon.Attachment) []models.MediaAttachment {
	var out []models.MediaAttachment
	for _, a := range attachments {
		if a.Type != "image" && a.Type != "gifv" {
			continue
		}
		url := a.URL
		if url == "" {
			url = a.RemoteURL
		}
		if a.ID == "" || url == "" {
			continue
		}
		out = append(out, models.MediaAttachment{
			RemoteID:    string(a.ID),
			ParentKind:  kind,
			ParentID:    parentID,
			Type:        a.Type,
			URL:         url,
			PreviewURL:  nullString(a.PreviewURL),
			Description: nullString(a.Description),
			Status:      models.MediaPending,
		})
	}
	return out
}
