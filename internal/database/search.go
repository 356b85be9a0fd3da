package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brunopatuleia/tootkeeper/internal/models"
)

var (
	ftsPhraseRe = regexp.MustCompile(`"([^"]+)"`)
	ftsWordRe   = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

// sanitizeFTSQuery rewrites user input into a safe FTS5 MATCH
// expression: quoted phrases are preserved, remaining words are
// stripped of operator characters, prefix-matched and AND-ed.
func sanitizeFTSQuery(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return ""
	}

	var parts []string
	for _, m := range ftsPhraseRe.FindAllStringSubmatch(query, -1) {
		parts = append(parts, `"`+m[1]+`"`)
	}
	remaining := ftsPhraseRe.ReplaceAllString(query, "")
	for _, word := range strings.Fields(remaining) {
		cleaned := ftsWordRe.ReplaceAllString(word, "")
		if cleaned != "" {
			parts = append(parts, `"`+cleaned+`"*`)
		}
	}

	return strings.Join(parts, " AND ")
}

// Search queries the full-text index and returns relevance-ordered
// results joined with their source items, plus the total match count
// for pagination. kind narrows the search to one activity kind when
// non-empty.
func (db *DB) Search(ctx context.Context, query string, kind models.Kind, page, perPage int) ([]models.SearchResult, int, error) {
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, 0, nil
	}
	if page < 1 {
		page = 1
	}

	kindClause := ""
	countArgs := []interface{}{ftsQuery}
	if kind != "" {
		kindClause = "AND kind = ?"
		countArgs = append(countArgs, kind)
	}

	var total int
	countSQL := fmt.Sprintf(
		`SELECT COUNT(*) FROM search_index WHERE search_index MATCH ? %s;`, kindClause)
	if err := db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count search matches: %w", err)
	}

	args := append(countArgs, perPage, (page-1)*perPage)
	resultsSQL := fmt.Sprintf(`
		SELECT kind, remote_id,
		       snippet(search_index, 2, '<mark>', '</mark>', '...', 40),
		       account
		FROM search_index
		WHERE search_index MATCH ? %s
		ORDER BY rank
		LIMIT ? OFFSET ?;`, kindClause)
	rows, err := db.QueryContext(ctx, resultsSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.Kind, &r.RemoteID, &r.Snippet, &r.Account); err != nil {
			return nil, 0, fmt.Errorf("failed to scan search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// Attach the source record for context.
	for i := range results {
		item, err := db.GetItem(ctx, results[i].Kind, results[i].RemoteID)
		if err != nil {
			return nil, 0, err
		}
		results[i].Item = item
	}

	return results, total, nil
}
