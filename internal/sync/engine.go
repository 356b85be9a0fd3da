package sync

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/models"
)

// Page is one page of remote activity, newest first. NextMaxID is the
// exclusive boundary for the next older page; "" means the remote
// signalled no more pages.
type Page struct {
	Items     []*models.ActivityItem
	NextMaxID string
}

// Client is the remote activity API the engine fetches from.
type Client interface {
	Configure(acc *models.Account) error
	FetchPage(ctx context.Context, kind models.Kind, maxID string, limit int) (*Page, error)
}

// Store is the slice of the archive store the engine depends on.
type Store interface {
	GetAccount(ctx context.Context) (*models.Account, error)
	GetCursor(ctx context.Context, kind models.Kind) (string, error)
	SetCursor(ctx context.Context, kind models.Kind, watermark string) error
	GetSyncState(ctx context.Context, key string) (string, error)
	SetSyncState(ctx context.Context, key, value string) error
	ClearSyncState(ctx context.Context, key string) error
	SaveActivityPage(ctx context.Context, items []*models.ActivityItem) (int, error)
	PendingMedia(ctx context.Context, limit int) ([]models.MediaAttachment, error)
	MarkMediaDownloaded(ctx context.Context, remoteID, localPath string) error
	MarkMediaFailed(ctx context.Context, remoteID string) error
}

// MediaFetcher downloads one attachment and returns its local path.
type MediaFetcher interface {
	Fetch(ctx context.Context, att *models.MediaAttachment) (string, error)
}

// KindResult summarizes one activity kind's part of a pass.
type KindResult struct {
	Fetched         int
	Stored          int
	MediaDownloaded int
	MediaFailed     int
	Err             error
}

// Result is the outcome of one sync pass.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Kinds      map[models.Kind]*KindResult
	Err        error // pass-level failure (configuration or persistence)
}

// Failed reports whether the pass encountered any error.
func (r *Result) Failed() bool {
	if r.Err != nil {
		return true
	}
	for _, kr := range r.Kinds {
		if kr != nil && kr.Err != nil {
			return true
		}
	}
	return false
}

// TotalStored returns how many items the pass newly archived.
func (r *Result) TotalStored() int {
	total := 0
	for _, kr := range r.Kinds {
		if kr != nil {
			total += kr.Stored
		}
	}
	return total
}

// mediaBatchLimit bounds how many pending attachments one pass hands
// to the fetcher pool.
const mediaBatchLimit = 500

// Engine orchestrates one sync pass: fetch, diff, persist, download
// media, checkpoint. Callers are responsible for single-flight
// execution (the Scheduler enforces it); the engine itself assumes it
// is the only writer.
type Engine struct {
	Store        Store
	Client       Client
	Fetcher      MediaFetcher
	MaxPages     int // per-kind page bound for one pass
	PageLimit    int
	MediaWorkers int

	// aborted flags a persistence failure: all kinds share one store,
	// so once it misbehaves no kind keeps fetching, saving or moving
	// its cursor, and the media phase is skipped.
	aborted atomic.Bool
}

// NewEngine creates a sync engine with the given collaborators.
func NewEngine(store Store, client Client, fetcher MediaFetcher, maxPages, pageLimit, mediaWorkers int) *Engine {
	if maxPages < 1 {
		maxPages = 1
	}
	if pageLimit < 1 {
		pageLimit = 40
	}
	if mediaWorkers < 1 {
		mediaWorkers = 1
	}
	return &Engine{
		Store:        store,
		Client:       client,
		Fetcher:      fetcher,
		MaxPages:     maxPages,
		PageLimit:    pageLimit,
		MediaWorkers: mediaWorkers,
	}
}

// storeError records a persistence failure and aborts the pass.
func (e *Engine) storeError(op string, err error) *StoreError {
	e.aborted.Store(true)
	return &StoreError{Op: op, Err: err}
}

// Run performs one full sync pass across all activity kinds.
func (e *Engine) Run(ctx context.Context) *Result {
	res := &Result{
		StartedAt: time.Now(),
		Kinds:     make(map[models.Kind]*KindResult, len(models.Kinds)),
	}
	defer func() { res.FinishedAt = time.Now() }()
	e.aborted.Store(false)

	acc, err := e.Store.GetAccount(ctx)
	if err != nil {
		res.Err = e.storeError("get account", err)
		return res
	}
	if !acc.Configured() {
		res.Err = ErrNotConfigured
		return res
	}
	if err := e.Client.Configure(acc); err != nil {
		res.Err = err
		return res
	}

	logging.Info("Starting sync pass for %s", acc.Acct.String)

	// Kinds are independent failure domains and fetch concurrently.
	// Persistence within a kind stays sequential per page so the
	// cursor only ever advances over committed items.
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, kind := range models.Kinds {
		wg.Add(1)
		go func(kind models.Kind) {
			defer wg.Done()
			kr := e.syncKind(ctx, kind)
			mu.Lock()
			res.Kinds[kind] = kr
			if kr.Err != nil && IsPersistence(kr.Err) && res.Err == nil {
				res.Err = kr.Err
			}
			mu.Unlock()
		}(kind)
	}
	wg.Wait()

	// Media is supplementary: failures are recorded per attachment and
	// never affect cursors or the pass outcome.
	if !e.aborted.Load() {
		e.downloadPendingMedia(ctx, res)
	}

	logging.Info("Sync pass finished: %d new items stored (failed=%t)", res.TotalStored(), res.Failed())
	return res
}

func backfillKey(kind models.Kind) string { return string(kind) + "_backfill_before_id" }

// syncKind runs the two fetch phases for one kind: the incremental
// walk from the newest side down to the watermark, then continuation
// of any incomplete backfill left by an earlier bounded pass.
func (e *Engine) syncKind(ctx context.Context, kind models.Kind) *KindResult {
	kr := &KindResult{}

	watermark, err := e.Store.GetCursor(ctx, kind)
	if err != nil {
		kr.Err = e.storeError("get cursor", err)
		return kr
	}
	backfillBefore, err := e.Store.GetSyncState(ctx, backfillKey(kind))
	if err != nil {
		kr.Err = e.storeError("get backfill state", err)
		return kr
	}

	pagesUsed := 0

	// Phase 1: newest side down to the watermark (or the whole history
	// on first run, within the page bound).
	newest := ""
	maxID := ""
	done := false
	for pagesUsed < e.MaxPages && !e.aborted.Load() {
		page, err := e.Client.FetchPage(ctx, kind, maxID, e.PageLimit)
		if err != nil {
			kr.Err = &FetchError{Kind: kind, Err: err}
			return kr
		}
		pagesUsed++
		if e.aborted.Load() {
			return kr
		}

		if len(page.Items) == 0 {
			done = true
			break
		}
		if newest == "" {
			newest = page.Items[0].RemoteID
		}
		kr.Fetched += len(page.Items)

		// Keep only items strictly newer than the watermark; seeing an
		// item at or below it means the overlap with the previous pass
		// has been reached.
		batch := page.Items
		hitWatermark := false
		if watermark != "" {
			batch = batch[:0:len(page.Items)]
			for _, item := range page.Items {
				if compareRemoteID(item.RemoteID, watermark) > 0 {
					batch = append(batch, item)
				} else {
					hitWatermark = true
				}
			}
		}

		inserted, err := e.Store.SaveActivityPage(ctx, batch)
		if err != nil {
			kr.Err = e.storeError("save page", err)
			return kr
		}
		kr.Stored += inserted

		if hitWatermark || page.NextMaxID == "" {
			done = true
			break
		}
		maxID = page.NextMaxID
	}
	if e.aborted.Load() && kr.Err == nil {
		return kr
	}

	// If the page bound stopped an unfinished walk, the resume point is
	// persisted before the watermark moves: should the process die
	// between the two writes, the stale cursor just means a re-walk
	// over committed items, never history stranded below a cursor that
	// claims it was fetched.
	if !done && maxID != "" {
		if err := e.Store.SetSyncState(ctx, backfillKey(kind), maxID); err != nil {
			kr.Err = e.storeError("set backfill state", err)
			return kr
		}
		logging.Info("Sync %s: page bound reached, backfill will resume before id %s", kind, maxID)
	}
	if newest != "" {
		if err := e.Store.SetCursor(ctx, kind, newest); err != nil {
			kr.Err = e.storeError("set cursor", err)
			return kr
		}
	}
	if !done && maxID != "" {
		return kr
	}

	// Phase 2: continue an interrupted backfill with the remaining
	// page budget. These items are older than the watermark, so no
	// filtering applies; the resume point moves only after its page
	// has been committed.
	if backfillBefore == "" {
		return kr
	}
	maxID = backfillBefore
	for pagesUsed < e.MaxPages && !e.aborted.Load() {
		page, err := e.Client.FetchPage(ctx, kind, maxID, e.PageLimit)
		if err != nil {
			kr.Err = &FetchError{Kind: kind, Err: err}
			return kr
		}
		pagesUsed++
		if e.aborted.Load() {
			return kr
		}

		if len(page.Items) == 0 || page.NextMaxID == "" {
			if len(page.Items) > 0 {
				kr.Fetched += len(page.Items)
				inserted, err := e.Store.SaveActivityPage(ctx, page.Items)
				if err != nil {
					kr.Err = e.storeError("save backfill page", err)
					return kr
				}
				kr.Stored += inserted
			}
			logging.Info("Sync %s: backfill complete", kind)
			if err := e.Store.ClearSyncState(ctx, backfillKey(kind)); err != nil {
				kr.Err = e.storeError("clear backfill state", err)
			}
			return kr
		}

		kr.Fetched += len(page.Items)
		inserted, err := e.Store.SaveActivityPage(ctx, page.Items)
		if err != nil {
			kr.Err = e.storeError("save backfill page", err)
			return kr
		}
		kr.Stored += inserted

		if err := e.Store.SetSyncState(ctx, backfillKey(kind), page.NextMaxID); err != nil {
			kr.Err = e.storeError("set backfill state", err)
			return kr
		}
		maxID = page.NextMaxID
	}
	return kr
}

// downloadPendingMedia hands queued attachments to the fetcher with
// bounded parallelism.
func (e *Engine) downloadPendingMedia(ctx context.Context, res *Result) {
	if e.Fetcher == nil {
		return
	}
	pending, err := e.Store.PendingMedia(ctx, mediaBatchLimit)
	if err != nil {
		logging.Error("Failed to list pending media: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	logging.Info("Downloading %d pending media attachments", len(pending))

	var wg sync.WaitGroup
	var mu sync.Mutex
	sem := make(chan struct{}, e.MediaWorkers)
	for i := range pending {
		att := pending[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			localPath, err := e.Fetcher.Fetch(ctx, &att)
			mu.Lock()
			defer mu.Unlock()
			kr := res.Kinds[att.ParentKind]
			if kr == nil {
				kr = &KindResult{}
				res.Kinds[att.ParentKind] = kr
			}
			if err != nil {
				logging.Warn("Failed to download media %s: %v", att.URL, err)
				if markErr := e.Store.MarkMediaFailed(ctx, att.RemoteID); markErr != nil {
					logging.Error("Failed to mark media %s failed: %v", att.RemoteID, markErr)
				}
				kr.MediaFailed++
				return
			}
			if markErr := e.Store.MarkMediaDownloaded(ctx, att.RemoteID, localPath); markErr != nil {
				logging.Error("Failed to mark media %s downloaded: %v", att.RemoteID, markErr)
				kr.MediaFailed++
				return
			}
			kr.MediaDownloaded++
		}()
	}
	wg.Wait()
}

// compareRemoteID orders Mastodon ids numerically without overflowing
// on snowflake-sized values: longer digit strings are larger, equal
// lengths compare lexicographically.
func compareRemoteID(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
