package web

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/oauth2"

	"github.com/brunopatuleia/tootkeeper/internal/api"
	"github.com/brunopatuleia/tootkeeper/internal/config"
	"github.com/brunopatuleia/tootkeeper/internal/database"
	"github.com/brunopatuleia/tootkeeper/internal/logging"
	"github.com/brunopatuleia/tootkeeper/internal/models"
	"github.com/brunopatuleia/tootkeeper/internal/profile"
	"github.com/brunopatuleia/tootkeeper/internal/sync"
	"github.com/brunopatuleia/tootkeeper/internal/task"
)

//go:embed templates/*.html
var templatesFS embed.FS

const sessionName = "tootkeeper-session"
const oauthStateCookie = "tootkeeper-oauth-state"
const oauthScopes = "read write:accounts"

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Config       *config.Config
	DB           *database.DB
	Client       *api.Client
	Scheduler    *sync.Scheduler
	Updater      *profile.Updater
	templates    *template.Template
	sessionStore *sessions.CookieStore
	sanitizer    *bluemonday.Policy
}

// PageData holds the data passed to HTML templates.
type PageData struct {
	Account      *models.Account
	Stats        *models.Stats
	SyncState    string
	LastSync     *syncSummary
	Recent       []*models.ActivityItem
	Query        string
	SelectedKind string
	Results      []models.SearchResult
	Total        int
	Page         int
	FlashMessage string
	FlashIsError bool
}

type syncSummary struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stored     int            `json:"stored"`
	Failed     bool           `json:"failed"`
	Kinds      map[string]int `json:"stored_by_kind"`
}

// NewHandler creates a new Handler instance.
func NewHandler(cfg *config.Config, db *database.DB, client *api.Client, scheduler *sync.Scheduler, updater *profile.Updater) *Handler {
	funcs := template.FuncMap{
		"safeHTML": func(s string) template.HTML { return template.HTML(s) },
	}
	tmpl, err := template.New("").Funcs(funcs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		logging.Fatal("Failed to parse templates: %v", err)
	}

	// Search snippets pass through the templates unescaped so <mark>
	// highlighting renders; everything else gets stripped first.
	sanitizer := bluemonday.NewPolicy()
	sanitizer.AllowElements("mark")

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		logging.Fatal("Failed to generate session key: %v", err)
	}
	store := sessions.NewCookieStore(key)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   3600 * 8,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	gob.Register(map[string]interface{}{})

	return &Handler{
		Config:       cfg,
		DB:           db,
		Client:       client,
		Scheduler:    scheduler,
		Updater:      updater,
		templates:    tmpl,
		sessionStore: store,
		sanitizer:    sanitizer,
	}
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("GET /setup", h.handleSetup)
	mux.HandleFunc("GET /search", h.handleSearchPage)
	mux.HandleFunc("POST /auth/login", h.handleLoginStart)
	mux.HandleFunc("GET /auth/callback", h.handleCallback)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)

	mux.HandleFunc("POST /api/sync", h.handleTriggerSync)
	mux.HandleFunc("GET /api/sync/status", h.handleSyncStatus)
	mux.HandleFunc("GET /api/search", h.handleAPISearch)
	mux.HandleFunc("GET /api/stats", h.handleAPIStats)
	mux.HandleFunc("GET /api/items", h.handleAPIItems)
	mux.HandleFunc("GET /api/profile/status", h.handleProfileStatus)

	mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(h.Config.MediaPath))))
}

// handleIndex displays the dashboard.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	account, err := h.DB.GetAccount(ctx)
	if err != nil {
		logging.Error("Failed to get account: %v", err)
	}
	if !account.Configured() {
		http.Redirect(w, r, "/setup", http.StatusSeeOther)
		return
	}

	stats, err := h.DB.GetStats(ctx)
	if err != nil {
		logging.Error("Failed to get stats: %v", err)
		stats = &models.Stats{}
	}
	recent, _, err := h.DB.ListItems(ctx, models.KindToot, 1, 10)
	if err != nil {
		logging.Error("Failed to list recent items: %v", err)
	}

	data := PageData{
		Account:   account,
		Stats:     stats,
		SyncState: h.Scheduler.State(),
		LastSync:  summarize(h.Scheduler.LastResult()),
		Recent:    recent,
	}
	data.FlashMessage, data.FlashIsError = h.popFlash(w, r)

	h.render(w, "index.html", data)
}

// handleSetup shows the instance login form.
func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	data := PageData{}
	data.FlashMessage, data.FlashIsError = h.popFlash(w, r)
	h.render(w, "setup.html", data)
}

// handleSearchPage renders the HTML search page.
func (h *Handler) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	kind := models.Kind(r.URL.Query().Get("kind"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	data := PageData{Query: query, SelectedKind: string(kind), Page: page}
	if query != "" {
		results, total, err := h.DB.Search(ctx, query, kind, page, 20)
		if err != nil {
			logging.Error("Search failed: %v", err)
		} else {
			for i := range results {
				results[i].Snippet = h.sanitizer.Sanitize(results[i].Snippet)
			}
			data.Results = results
			data.Total = total
		}
	}
	h.render(w, "search.html", data)
}

// oauthConfig builds the oauth2 config for the stored account's
// instance and registered app credentials.
func (h *Handler) oauthConfig(acc *models.Account) (*oauth2.Config, error) {
	if acc == nil || acc.InstanceURL == "" || !acc.ClientID.Valid || !acc.ClientSecret.Valid {
		return nil, fmt.Errorf("no registered app credentials for instance")
	}
	baseURL, err := url.Parse(acc.InstanceURL)
	if err != nil {
		return nil, fmt.Errorf("invalid instance URL: %w", err)
	}
	authURL := *baseURL
	authURL.Path = "/oauth/authorize"
	tokenURL := *baseURL
	tokenURL.Path = "/oauth/token"

	return &oauth2.Config{
		ClientID:     acc.ClientID.String,
		ClientSecret: acc.ClientSecret.String,
		Scopes:       strings.Split(oauthScopes, " "),
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL.String(),
			TokenURL: tokenURL.String(),
		},
		RedirectURL: acc.RedirectURI.String,
	}, nil
}

// handleLoginStart registers the app with the submitted instance and
// redirects the user to its authorization page.
func (h *Handler) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	instance := strings.TrimSpace(r.FormValue("instance_url"))
	if instance == "" {
		h.setFlash(w, r, "Instance URL is required.", true)
		http.Redirect(w, r, "/setup", http.StatusSeeOther)
		return
	}
	if !strings.HasPrefix(instance, "http://") && !strings.HasPrefix(instance, "https://") {
		instance = "https://" + instance
	}
	instance = strings.TrimRight(instance, "/")

	ctx := r.Context()
	redirectURI := strings.TrimRight(h.Config.BaseURL, "/") + "/auth/callback"
	app, err := api.RegisterApp(ctx, instance, redirectURI, oauthScopes)
	if err != nil {
		logging.Error("App registration failed: %v", err)
		h.setFlash(w, r, "Could not register with that instance. Check the URL.", true)
		http.Redirect(w, r, "/setup", http.StatusSeeOther)
		return
	}

	account := &models.Account{
		InstanceURL:  instance,
		ClientID:     sql.NullString{String: app.ClientID, Valid: true},
		ClientSecret: sql.NullString{String: app.ClientSecret, Valid: true},
		RedirectURI:  sql.NullString{String: redirectURI, Valid: true},
	}
	if err := h.DB.SaveAccount(ctx, account); err != nil {
		logging.Error("Failed to save app credentials: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	oauthCfg, err := h.oauthConfig(account)
	if err != nil {
		logging.Error("OAuth config error: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	stateBytes := make([]byte, 32)
	if _, err := rand.Read(stateBytes); err != nil {
		logging.Error("Failed to generate OAuth state: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	state := base64.URLEncoding.EncodeToString(stateBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, oauthCfg.AuthCodeURL(state), http.StatusFound)
}

// handleCallback completes the OAuth flow and links the account.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "OAuth state mismatch", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "OAuth callback missing code parameter", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	account, err := h.DB.GetAccount(ctx)
	if err != nil || account == nil {
		logging.Error("No pending account for OAuth callback: %v", err)
		http.Error(w, "No login in progress", http.StatusBadRequest)
		return
	}

	oauthCfg, err := h.oauthConfig(account)
	if err != nil {
		logging.Error("OAuth config error: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	token, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		logging.Error("OAuth token exchange failed: %v", err)
		http.Error(w, fmt.Sprintf("Authentication failed: %v", err), http.StatusInternalServerError)
		return
	}

	account.AccessToken = sql.NullString{String: token.AccessToken, Valid: true}
	if err := h.Client.Configure(account); err != nil {
		logging.Error("Failed to configure API client after auth: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	remote, err := h.Client.VerifyCredentials(ctx)
	if err != nil {
		logging.Error("Failed to verify credentials after auth: %v", err)
		http.Error(w, "Failed to retrieve account details", http.StatusInternalServerError)
		return
	}

	account.UserID = sql.NullString{String: string(remote.ID), Valid: true}
	account.Acct = sql.NullString{String: remote.Acct, Valid: true}
	account.DisplayName = sql.NullString{String: remote.DisplayName, Valid: true}
	account.Avatar = sql.NullString{String: remote.Avatar, Valid: true}

	if err := h.DB.SaveAccount(ctx, account); err != nil {
		logging.Error("Failed to save account details: %v", err)
		http.Error(w, "Failed to save account details", http.StatusInternalServerError)
		return
	}

	logging.Info("Successfully linked account: %s", remote.Acct)

	// First archive pass can start right away.
	if err := h.Scheduler.Trigger(context.WithoutCancel(ctx)); err != nil && err != task.ErrAlreadyRunning {
		logging.Warn("Failed to start initial sync: %v", err)
	}

	h.setFlash(w, r, "Account linked. Archiving has started.", false)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleLogout unlinks the account. Archived data stays.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.DB.DeleteAccount(r.Context()); err != nil {
		logging.Error("Failed to delete account: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.setFlash(w, r, "Account unlinked. Your archive is untouched.", false)
	http.Redirect(w, r, "/setup", http.StatusSeeOther)
}

// handleTriggerSync starts a sync pass in the background. Returns
// immediately in every case.
func (h *Handler) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	account, err := h.DB.GetAccount(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load account"})
		return
	}
	if !account.Configured() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "not_configured"})
		return
	}

	// The pass outlives the request.
	err = h.Scheduler.Trigger(context.WithoutCancel(r.Context()))
	if err == task.ErrAlreadyRunning {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already_running"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleSyncStatus reports scheduler state and the last pass summary.
func (h *Handler) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		State   string       `json:"state"`
		LastRun *syncSummary `json:"last_run,omitempty"`
	}{
		State:   h.Scheduler.State(),
		LastRun: summarize(h.Scheduler.LastResult()),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAPISearch serves full-text search results as JSON.
func (h *Handler) handleAPISearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing query parameter q"})
		return
	}
	kind := models.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind"})
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	results, total, err := h.DB.Search(r.Context(), query, kind, page, perPage)
	if err != nil {
		logging.Error("Search failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "search failed"})
		return
	}

	type hit struct {
		Kind     models.Kind          `json:"kind"`
		RemoteID string               `json:"remote_id"`
		Snippet  string               `json:"snippet"`
		Account  string               `json:"account"`
		Item     *models.ActivityItem `json:"item,omitempty"`
	}
	hits := make([]hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, hit{Kind: res.Kind, RemoteID: res.RemoteID, Snippet: h.sanitizer.Sanitize(res.Snippet), Account: res.Account, Item: res.Item})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":   query,
		"total":   total,
		"page":    page,
		"results": hits,
	})
}

// handleAPIStats serves per-kind archive counts.
func (h *Handler) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.DB.GetStats(r.Context())
	if err != nil {
		logging.Error("Failed to get stats: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get stats"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"toots":         stats.Toots,
		"notifications": stats.Notifications,
		"favorites":     stats.Favorites,
		"bookmarks":     stats.Bookmarks,
	})
}

// handleAPIItems lists archived items of one kind, newest first.
func (h *Handler) handleAPIItems(w http.ResponseWriter, r *http.Request) {
	kind := models.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = models.KindToot
	}
	if !kind.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown kind"})
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	items, total, err := h.DB.ListItems(r.Context(), kind, page, perPage)
	if err != nil {
		logging.Error("Failed to list items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list items"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":  kind,
		"total": total,
		"page":  page,
		"items": items,
	})
}

// handleProfileStatus reports the profile updater's managed fields.
func (h *Handler) handleProfileStatus(w http.ResponseWriter, r *http.Request) {
	if h.Updater == nil || !h.Updater.Enabled() {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"fields":  h.Updater.Status(),
	})
}

// summarize condenses an engine result for status responses.
func summarize(res *sync.Result) *syncSummary {
	if res == nil {
		return nil
	}
	s := &syncSummary{
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Stored:     res.TotalStored(),
		Failed:     res.Failed(),
		Kinds:      make(map[string]int, len(res.Kinds)),
	}
	for kind, kr := range res.Kinds {
		s.Kinds[string(kind)] = kr.Stored
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode JSON response: %v", err)
	}
}

func (h *Handler) render(w http.ResponseWriter, name string, data PageData) {
	if err := h.templates.ExecuteTemplate(w, name, data); err != nil {
		logging.Error("Failed to render %s: %v", name, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// setFlash adds a flash message to the session.
func (h *Handler) setFlash(w http.ResponseWriter, r *http.Request, message string, isError bool) {
	session, _ := h.sessionStore.Get(r, sessionName)
	session.AddFlash(map[string]interface{}{
		"message": message,
		"isError": isError,
	})
	if err := session.Save(r, w); err != nil {
		logging.Error("Failed to save session while setting flash: %v", err)
	}
}

// popFlash reads and clears the pending flash message, if any.
func (h *Handler) popFlash(w http.ResponseWriter, r *http.Request) (string, bool) {
	session, _ := h.sessionStore.Get(r, sessionName)
	message := ""
	isError := false
	if flashes := session.Flashes(); len(flashes) > 0 {
		if fm, ok := flashes[0].(map[string]interface{}); ok {
			message, _ = fm["message"].(string)
			isError, _ = fm["isError"].(bool)
		}
	}
	if err := session.Save(r, w); err != nil {
		logging.Error("Failed to save session after reading flash: %v", err)
	}
	return message, isError
}
