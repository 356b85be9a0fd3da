package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/models"
)

// ---- Account Operations ----

// SaveAccount inserts or updates the single account row.
func (db *DB) SaveAccount(ctx context.Context, acc *models.Account) error {
	query := `
		INSERT INTO accounts (id, instance_url, client_id, client_secret, redirect_uri,
		                      user_id, acct, display_name, avatar, access_token,
		                      created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			instance_url = excluded.instance_url,
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			redirect_uri = excluded.redirect_uri,
			user_id = excluded.user_id,
			acct = excluded.acct,
			display_name = excluded.display_name,
			avatar = excluded.avatar,
			access_token = excluded.access_token,
			updated_at = CURRENT_TIMESTAMP;
	`
	_, err := db.ExecContext(ctx, query,
		acc.InstanceURL,
		acc.ClientID,
		acc.ClientSecret,
		acc.RedirectURI,
		acc.UserID,
		acc.Acct,
		acc.DisplayName,
		acc.Avatar,
		acc.AccessToken,
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetAccount retrieves the linked account, or nil if none is stored.
func (db *DB) GetAccount(ctx context.Context) (*models.Account, error) {
	query := `
		SELECT id, instance_url, client_id, client_secret, redirect_uri,
		       user_id, acct, display_name, avatar, access_token,
		       created_at, updated_at
		FROM accounts WHERE id = 1;
	`
	var acc models.Account
	err := db.QueryRowContext(ctx, query).Scan(
		&acc.ID,
		&acc.InstanceURL,
		&acc.ClientID,
		&acc.ClientSecret,
		&acc.RedirectURI,
		&acc.UserID,
		&acc.Acct,
		&acc.DisplayName,
		&acc.Avatar,
		&acc.AccessToken,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &acc, nil
}

// DeleteAccount removes the stored account and its credentials.
func (db *DB) DeleteAccount(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE id = 1;`); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// ---- Sync Cursor Operations ----

func cursorKey(kind models.Kind) string { return string(kind) + "_since_id" }

// GetCursor returns the watermark (newest committed remote id) for a
// kind, or "" when no sync has completed yet.
func (db *DB) GetCursor(ctx context.Context, kind models.Kind) (string, error) {
	return db.GetSyncState(ctx, cursorKey(kind))
}

// SetCursor advances the watermark for a kind. Callers must only invoke
// this after the items it covers have been committed.
func (db *DB) SetCursor(ctx context.Context, kind models.Kind, watermark string) error {
	return db.SetSyncState(ctx, cursorKey(kind), watermark)
}

// GetSyncState reads an arbitrary sync_state value, "" when absent.
func (db *DB) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?;`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get sync state %q: %w", key, err)
	}
	return value, nil
}

// SetSyncState writes a sync_state value.
func (db *DB) SetSyncState(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value, updated_at = CURRENT_TIMESTAMP;
	`
	if _, err := db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set sync state %q: %w", key, err)
	}
	return nil
}

// ClearSyncState removes a sync_state key.
func (db *DB) ClearSyncState(ctx context.Context, key string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM sync_state WHERE key = ?;`, key); err != nil {
		return fmt.Errorf("failed to clear sync state %q: %w", key, err)
	}
	return nil
}

// ---- Activity Item Operations ----

// SaveActivityPage persists a page of activity items, their media rows
// and their search index entries in a single transaction. It returns
// how many items were newly inserted; items already present count as
// duplicates and only have their mutable fields refreshed.
func (db *DB) SaveActivityPage(ctx context.Context, items []*models.ActivityItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, item := range items {
		fresh, err := upsertActivityTx(ctx, tx, item)
		if err != nil {
			return 0, err
		}
		if fresh {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit activity page: %w", err)
	}
	return inserted, nil
}

// UpsertActivity persists a single activity item in its own transaction.
// It reports whether the item was newly inserted.
func (db *DB) UpsertActivity(ctx context.Context, item *models.ActivityItem) (bool, error) {
	n, err := db.SaveActivityPage(ctx, []*models.ActivityItem{item})
	return n > 0, err
}

func upsertActivityTx(ctx context.Context, tx *sql.Tx, item *models.ActivityItem) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM activity_items WHERE kind = ? AND remote_id = ?);`,
		item.Kind, item.RemoteID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check activity %s/%s: %w", item.Kind, item.RemoteID, err)
	}

	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO activity_items
			(kind, remote_id, created_at, account_acct, account_display_name,
			 account_avatar, content, content_text, url, in_reply_to_id,
			 reblog_id, reblog_acct, favourites_count, reblogs_count,
			 replies_count, visibility, notification_type, status_id,
			 raw_json, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, remote_id) DO UPDATE SET
			content = excluded.content,
			content_text = excluded.content_text,
			favourites_count = excluded.favourites_count,
			reblogs_count = excluded.reblogs_count,
			replies_count = excluded.replies_count,
			raw_json = excluded.raw_json,
			fetched_at = excluded.fetched_at;
	`
	_, err = tx.ExecContext(ctx, query,
		item.Kind,
		item.RemoteID,
		item.CreatedAt,
		item.AccountAcct,
		item.AccountDisplayName,
		item.AccountAvatar,
		item.Content,
		item.ContentText,
		item.URL,
		item.InReplyToID,
		item.ReblogID,
		item.ReblogAcct,
		item.FavouritesCount,
		item.ReblogsCount,
		item.RepliesCount,
		item.Visibility,
		item.NotificationType,
		item.StatusID,
		item.RawJSON,
		item.FetchedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert activity %s/%s: %w", item.Kind, item.RemoteID, err)
	}

	// Keep the search index in step with the row inside the same
	// transaction: committed items are searchable, nothing else is.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM search_index WHERE kind = ? AND remote_id = ?;`,
		item.Kind, item.RemoteID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to clear search index for %s/%s: %w", item.Kind, item.RemoteID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO search_index (kind, remote_id, content, account) VALUES (?, ?, ?, ?);`,
		item.Kind, item.RemoteID, item.ContentText, item.AccountAcct.String,
	)
	if err != nil {
		return false, fmt.Errorf("failed to index %s/%s: %w", item.Kind, item.RemoteID, err)
	}

	for i := range item.Media {
		if err := recordMediaTx(ctx, tx, &item.Media[i]); err != nil {
			return false, err
		}
	}

	return !exists, nil
}

const itemColumns = `id, kind, remote_id, created_at, account_acct, account_display_name,
	account_avatar, content, content_text, url, in_reply_to_id, reblog_id,
	reblog_acct, favourites_count, reblogs_count, replies_count, visibility,
	notification_type, status_id, raw_json, fetched_at`

func scanItem(row interface{ Scan(...interface{}) error }) (*models.ActivityItem, error) {
	var item models.ActivityItem
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.RemoteID,
		&item.CreatedAt,
		&item.AccountAcct,
		&item.AccountDisplayName,
		&item.AccountAvatar,
		&item.Content,
		&item.ContentText,
		&item.URL,
		&item.InReplyToID,
		&item.ReblogID,
		&item.ReblogAcct,
		&item.FavouritesCount,
		&item.ReblogsCount,
		&item.RepliesCount,
		&item.Visibility,
		&item.NotificationType,
		&item.StatusID,
		&item.RawJSON,
		&item.FetchedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItem retrieves one activity item by kind and remote id, nil if absent.
func (db *DB) GetItem(ctx context.Context, kind models.Kind, remoteID string) (*models.ActivityItem, error) {
	query := `SELECT ` + itemColumns + ` FROM activity_items WHERE kind = ? AND remote_id = ?;`
	item, err := scanItem(db.QueryRowContext(ctx, query, kind, remoteID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item %s/%s: %w", kind, remoteID, err)
	}
	return item, nil
}

// ListItems returns a reverse-chronological page of items of one kind,
// plus the total count for pagination.
func (db *DB) ListItems(ctx context.Context, kind models.Kind, page, perPage int) ([]*models.ActivityItem, int, error) {
	if page < 1 {
		page = 1
	}
	var total int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_items WHERE kind = ?;`, kind,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count %s items: %w", kind, err)
	}

	query := `SELECT ` + itemColumns + `
		FROM activity_items WHERE kind = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?;`
	rows, err := db.QueryContext(ctx, query, kind, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list %s items: %w", kind, err)
	}
	defer rows.Close()

	var items []*models.ActivityItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan %s item: %w", kind, err)
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

// GetStats returns per-kind row counts.
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	for _, c := range []struct {
		kind models.Kind
		dst  *int
	}{
		{models.KindToot, &stats.Toots},
		{models.KindNotification, &stats.Notifications},
		{models.KindFavorite, &stats.Favorites},
		{models.KindBookmark, &stats.Bookmarks},
	} {
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activity_items WHERE kind = ?;`, c.kind,
		).Scan(c.dst)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s items: %w", c.kind, err)
		}
	}
	return &stats, nil
}

// ---- Media Operations ----

// RecordMedia inserts a media attachment row with status pending.
// Attachments already recorded are left untouched, whatever their
// status, so a downloaded file is never scheduled again.
func (db *DB) RecordMedia(ctx context.Context, m *models.MediaAttachment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := recordMediaTx(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func recordMediaTx(ctx context.Context, tx *sql.Tx, m *models.MediaAttachment) error {
	query := `
		INSERT INTO media_attachments
			(remote_id, parent_kind, parent_id, type, url, preview_url, description, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO NOTHING;
	`
	status := m.Status
	if status == "" {
		status = models.MediaPending
	}
	_, err := tx.ExecContext(ctx, query,
		m.RemoteID, m.ParentKind, m.ParentID, m.Type, m.URL, m.PreviewURL, m.Description, status,
	)
	if err != nil {
		return fmt.Errorf("failed to record media %s: %w", m.RemoteID, err)
	}
	return nil
}

// PendingMedia returns up to limit attachments still waiting for download.
func (db *DB) PendingMedia(ctx context.Context, limit int) ([]models.MediaAttachment, error) {
	query := `
		SELECT id, remote_id, parent_kind, parent_id, type, url, preview_url,
		       description, local_path, status, created_at, downloaded_at
		FROM media_attachments WHERE status = ? ORDER BY id LIMIT ?;
	`
	rows, err := db.QueryContext(ctx, query, models.MediaPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending media: %w", err)
	}
	defer rows.Close()

	var out []models.MediaAttachment
	for rows.Next() {
		var m models.MediaAttachment
		err := rows.Scan(
			&m.ID, &m.RemoteID, &m.ParentKind, &m.ParentID, &m.Type, &m.URL,
			&m.PreviewURL, &m.Description, &m.LocalPath, &m.Status,
			&m.CreatedAt, &m.DownloadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkMediaDownloaded records the local path of a fetched attachment.
func (db *DB) MarkMediaDownloaded(ctx context.Context, remoteID, localPath string) error {
	query := `
		UPDATE media_attachments
		SET status = ?, local_path = ?, downloaded_at = CURRENT_TIMESTAMP
		WHERE remote_id = ?;
	`
	if _, err := db.ExecContext(ctx, query, models.MediaDownloaded, localPath, remoteID); err != nil {
		return fmt.Errorf("failed to mark media %s downloaded: %w", remoteID, err)
	}
	return nil
}

// MarkMediaFailed flags an attachment whose download failed. Failed
// attachments stay eligible for a later manual retry but are not
// retried automatically.
func (db *DB) MarkMediaFailed(ctx context.Context, remoteID string) error {
	query := `UPDATE media_attachments SET status = ? WHERE remote_id = ?;`
	if _, err := db.ExecContext(ctx, query, models.MediaFailed, remoteID); err != nil {
		return fmt.Errorf("failed to mark media %s failed: %w", remoteID, err)
	}
	return nil
}

// MediaForItem returns the attachments recorded for one activity item.
func (db *DB) MediaForItem(ctx context.Context, kind models.Kind, remoteID string) ([]models.MediaAttachment, error) {
	query := `
		SELECT id, remote_id, parent_kind, parent_id, type, url, preview_url,
		       description, local_path, status, created_at, downloaded_at
		FROM media_attachments WHERE parent_kind = ? AND parent_id = ? ORDER BY id;
	`
	rows, err := db.QueryContext(ctx, query, kind, remoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media for %s/%s: %w", kind, remoteID, err)
	}
	defer rows.Close()

	var out []models.MediaAttachment
	for rows.Next() {
		var m models.MediaAttachment
		err := rows.Scan(
			&m.ID, &m.RemoteID, &m.ParentKind, &m.ParentID, &m.Type, &m.URL,
			&m.PreviewURL, &m.Description, &m.LocalPath, &m.Status,
			&m.CreatedAt, &m.DownloadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- Profile State Operations ----

// GetProfileState returns the last value written to a managed profile
// field, "" when the field was never written.
func (db *DB) GetProfileState(ctx context.Context, fieldName string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx,
		`SELECT value FROM profile_state WHERE field_name = ?;`, fieldName,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get profile state %q: %w", fieldName, err)
	}
	return value, nil
}

// SetProfileState records the value just written to a managed field.
func (db *DB) SetProfileState(ctx context.Context, fieldName, value string) error {
	query := `
		INSERT INTO profile_state (field_name, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(field_name) DO UPDATE SET
			value = excluded.value, updated_at = CURRENT_TIMESTAMP;
	`
	if _, err := db.ExecContext(ctx, query, fieldName, value); err != nil {
		return fmt.Errorf("failed to set profile state %q: %w", fieldName, err)
	}
	return nil
}
