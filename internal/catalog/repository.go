package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/strefethen/music-central-go/internal/db"
	"github.com/strefethen/music-central-go/internal/matching"
)

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

const itemColumns = `ci.id, ci.title, ci.artists_json, ci.album, ci.duration_ms, ci.isrc, ci.release_date,
	ci.genre, ci.language, ci.explicit, ci.thumbnails_json, ci.external_json, ci.created_at, ci.updated_at`

const sourceColumns = `s.id, s.content_item_id, s.kind, s.url, s.storage_key, s.license, s.bitrate, s.format,
	s.hls_manifest_url, s.status, s.uploaded_by, s.created_at, s.updated_at`

// firstActiveSourceJoin joins each item to its oldest active source.
const firstActiveSourceJoin = `JOIN sources s ON s.id = (
	SELECT id FROM sources WHERE content_item_id = ci.id AND status = 'active'
	ORDER BY created_at, id LIMIT 1
)`

// Repository handles catalog persistence.
type Repository struct {
	reader *sql.DB
	writer *sql.DB
}

// NewRepository creates a catalog repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

type scanner interface {
	Scan(dest ...any) error
}

// CreateItem inserts a content item.
func (r *Repository) CreateItem(input CreateContentItemInput) (*ContentItem, error) {
	id := uuid.New().String()
	now := db.NowISO()

	artists := input.Artists
	if artists == nil {
		artists = []string{}
	}
	artistsJSON, err := json.Marshal(artists)
	if err != nil {
		return nil, err
	}
	thumbnailsJSON, err := json.Marshal(input.Thumbnails)
	if err != nil {
		return nil, err
	}
	external := input.External
	if external == nil {
		external = map[string]string{}
	}
	externalJSON, err := json.Marshal(external)
	if err != nil {
		return nil, err
	}

	_, err = r.writer.Exec(`
		INSERT INTO content_items (id, title, title_normalized, artists_json, album, duration_ms, isrc, release_date,
			genre, language, explicit, thumbnails_json, external_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, input.Title, matching.NormalizeText(input.Title), string(artistsJSON), db.NullString(input.Album),
		input.DurationMs, db.NullString(input.ISRC), db.NullString(input.ReleaseDate), db.NullString(input.Genre),
		db.NullString(input.Language), db.BoolInt(input.Explicit), string(thumbnailsJSON), string(externalJSON), now, now)
	if err != nil {
		return nil, err
	}

	return r.GetItem(id)
}

// DeleteItem removes an item. Its sources, licenses and matches go with it.
func (r *Repository) DeleteItem(id string) error {
	_, err := r.writer.Exec(`DELETE FROM content_items WHERE id = ?`, id)
	return err
}

// GetItem returns an item by id, or nil when missing.
func (r *Repository) GetItem(id string) (*ContentItem, error) {
	row := r.reader.QueryRow(`SELECT `+itemColumns+` FROM content_items ci WHERE ci.id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// ListItems returns items newest first with the total count.
func (r *Repository) ListItems(limit, offset int) ([]ContentItem, int, error) {
	var total int
	if err := r.reader.QueryRow("SELECT COUNT(*) FROM content_items").Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.reader.Query(`
		SELECT `+itemColumns+`
		FROM content_items ci
		ORDER BY ci.created_at DESC, ci.id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []ContentItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *item)
	}
	return items, total, rows.Err()
}

// SearchPlayable returns items that have an active source and whose
// normalized title contains the query's words. With matchAll every word
// must appear; otherwise one shared word is enough.
func (r *Repository) SearchPlayable(query string, matchAll bool, limit int) ([]ItemWithSource, error) {
	tokens := matching.Tokens(query)
	if len(tokens) == 0 {
		return []ItemWithSource{}, nil
	}

	clauses := make([]string, 0, len(tokens))
	args := make([]any, 0, len(tokens)+1)
	for _, token := range tokens {
		clauses = append(clauses, `(' ' || ci.title_normalized || ' ') LIKE ? ESCAPE '\'`)
		args = append(args, "% "+escapeLike(token)+" %")
	}
	joiner := " OR "
	if matchAll {
		joiner = " AND "
	}
	args = append(args, limit)

	rows, err := r.reader.Query(`
		SELECT `+itemColumns+`, `+sourceColumns+`
		FROM content_items ci
		`+firstActiveSourceJoin+`
		WHERE `+strings.Join(clauses, joiner)+`
		ORDER BY ci.created_at DESC, ci.id
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []ItemWithSource{}
	for rows.Next() {
		result, err := scanItemWithSource(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, rows.Err()
}

// FindPlayableByISRC returns the first item with the ISRC that has an
// active source, or nil.
func (r *Repository) FindPlayableByISRC(isrc string) (*ItemWithSource, error) {
	row := r.reader.QueryRow(`
		SELECT `+itemColumns+`, `+sourceColumns+`
		FROM content_items ci
		`+firstActiveSourceJoin+`
		WHERE ci.isrc = ?
		ORDER BY ci.created_at, ci.id
		LIMIT 1
	`, isrc)
	result, err := scanItemWithSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return result, err
}

// CreateSource attaches a source to an item.
func (r *Repository) CreateSource(contentItemID string, input CreateSourceInput) (*AudioSource, error) {
	id := uuid.New().String()
	now := db.NowISO()

	_, err := r.writer.Exec(`
		INSERT INTO sources (id, content_item_id, kind, url, storage_key, license, bitrate, format,
			hls_manifest_url, status, uploaded_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, contentItemID, string(input.Kind), db.NullString(input.URL), db.NullString(input.StorageKey),
		input.License, input.Bitrate, input.Format, db.NullString(input.HLSManifestURL), string(input.Status),
		db.NullString(input.UploadedBy), now, now)
	if err != nil {
		return nil, err
	}

	return r.GetSource(id)
}

// GetSource returns a source by id, or nil.
func (r *Repository) GetSource(id string) (*AudioSource, error) {
	row := r.reader.QueryRow(`SELECT `+sourceColumns+` FROM sources s WHERE s.id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return source, err
}

// GetActiveSource returns the source only when its status is active.
func (r *Repository) GetActiveSource(id string) (*AudioSource, error) {
	row := r.reader.QueryRow(`SELECT `+sourceColumns+` FROM sources s WHERE s.id = ? AND s.status = 'active'`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return source, err
}

// FirstActiveSource returns the oldest active source of an item, or nil.
func (r *Repository) FirstActiveSource(contentItemID string) (*AudioSource, error) {
	row := r.reader.QueryRow(`
		SELECT `+sourceColumns+`
		FROM sources s
		WHERE s.content_item_id = ? AND s.status = 'active'
		ORDER BY s.created_at, s.id
		LIMIT 1
	`, contentItemID)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return source, err
}

// ListSources returns every source of an item.
func (r *Repository) ListSources(contentItemID string) ([]AudioSource, error) {
	rows, err := r.reader.Query(`
		SELECT `+sourceColumns+`
		FROM sources s
		WHERE s.content_item_id = ?
		ORDER BY s.created_at, s.id
	`, contentItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []AudioSource{}
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *source)
	}
	return sources, rows.Err()
}

// UpdateSourceStatus sets a source's status. Returns nil when missing.
func (r *Repository) UpdateSourceStatus(id string, status SourceStatus) (*AudioSource, error) {
	result, err := r.writer.Exec(`UPDATE sources SET status = ?, updated_at = ? WHERE id = ?`, string(status), db.NowISO(), id)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return r.GetSource(id)
}

// UpsertMatch records or replaces the match for an external track.
func (r *Repository) UpsertMatch(input CreateMatchInput, confidence float64, method MatchMethod) (*ContentMatch, error) {
	now := db.NowISO()
	_, err := r.writer.Exec(`
		INSERT INTO content_matches (id, external_id, external_platform, content_item_id, source_id,
			match_confidence, match_method, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id, external_platform) DO UPDATE SET
			content_item_id = excluded.content_item_id,
			source_id = excluded.source_id,
			match_confidence = excluded.match_confidence,
			match_method = excluded.match_method,
			updated_at = excluded.updated_at
	`, uuid.New().String(), input.ExternalID, input.ExternalPlatform, input.ContentItemID, db.NullString(input.SourceID),
		confidence, string(method), now, now)
	if err != nil {
		return nil, err
	}
	return r.GetMatch(input.ExternalID, input.ExternalPlatform)
}

// GetMatch returns the match for an external track, or nil.
func (r *Repository) GetMatch(externalID, platform string) (*ContentMatch, error) {
	var match ContentMatch
	var sourceID sql.NullString
	var method, createdAt, updatedAt string

	err := r.reader.QueryRow(`
		SELECT id, external_id, external_platform, content_item_id, source_id, match_confidence,
			match_method, created_at, updated_at
		FROM content_matches
		WHERE external_id = ? AND external_platform = ?
	`, externalID, platform).Scan(
		&match.ID,
		&match.ExternalID,
		&match.ExternalPlatform,
		&match.ContentItemID,
		&sourceID,
		&match.MatchConfidence,
		&method,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	match.SourceID = db.StringPtr(sourceID)
	match.MatchMethod = MatchMethod(method)
	match.CreatedAt = db.ParseTime(createdAt)
	match.UpdatedAt = db.ParseTime(updatedAt)
	return &match, nil
}

func scanItem(row scanner) (*ContentItem, error) {
	var item ContentItem
	dest, finish := itemDest(&item)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return &item, nil
}

func scanSource(row scanner) (*AudioSource, error) {
	var source AudioSource
	dest, finish := sourceDest(&source)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	finish()
	return &source, nil
}

func scanItemWithSource(row scanner) (*ItemWithSource, error) {
	var result ItemWithSource
	itemFields, finishItem := itemDest(&result.Item)
	sourceFields, finishSource := sourceDest(&result.Source)
	if err := row.Scan(append(itemFields, sourceFields...)...); err != nil {
		return nil, err
	}
	if err := finishItem(); err != nil {
		return nil, err
	}
	finishSource()
	return &result, nil
}

// itemDest returns scan destinations for itemColumns and a func that
// decodes them into item once the scan succeeded.
func itemDest(item *ContentItem) ([]any, func() error) {
	var (
		artistsJSON, thumbnailsJSON, externalJSON string
		album, isrc, releaseDate, genre, language sql.NullString
		explicit                                  int
		createdAt, updatedAt                      string
	)
	dest := []any{
		&item.ID, &item.Title, &artistsJSON, &album, &item.DurationMs, &isrc, &releaseDate,
		&genre, &language, &explicit, &thumbnailsJSON, &externalJSON, &createdAt, &updatedAt,
	}
	return dest, func() error {
		if err := json.Unmarshal([]byte(artistsJSON), &item.Artists); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(thumbnailsJSON), &item.Thumbnails); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(externalJSON), &item.External); err != nil {
			return err
		}
		item.Album = db.StringPtr(album)
		item.ISRC = db.StringPtr(isrc)
		item.ReleaseDate = db.StringPtr(releaseDate)
		item.Genre = db.StringPtr(genre)
		item.Language = db.StringPtr(language)
		item.Explicit = explicit != 0
		item.CreatedAt = db.ParseTime(createdAt)
		item.UpdatedAt = db.ParseTime(updatedAt)
		return nil
	}
}

func sourceDest(source *AudioSource) ([]any, func()) {
	var (
		kind, status                             string
		url, storageKey, hlsManifest, uploadedBy sql.NullString
		createdAt, updatedAt                     string
	)
	dest := []any{
		&source.ID, &source.ContentItemID, &kind, &url, &storageKey, &source.License, &source.Bitrate,
		&source.Format, &hlsManifest, &status, &uploadedBy, &createdAt, &updatedAt,
	}
	return dest, func() {
		source.Kind = SourceKind(kind)
		source.Status = SourceStatus(status)
		source.URL = db.StringPtr(url)
		source.StorageKey = db.StringPtr(storageKey)
		source.HLSManifestURL = db.StringPtr(hlsManifest)
		source.UploadedBy = db.StringPtr(uploadedBy)
		source.CreatedAt = db.ParseTime(createdAt)
		source.UpdatedAt = db.ParseTime(updatedAt)
	}
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// BackfillNormalizedTitles fills title_normalized for rows written before
// the column existed.
func (r *Repository) BackfillNormalizedTitles() (int, error) {
	rows, err := r.reader.Query(`SELECT id, title FROM content_items WHERE title_normalized = '' AND title != ''`)
	if err != nil {
		return 0, err
	}
	type pending struct{ id, title string }
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.title); err != nil {
			rows.Close()
			return 0, err
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, p := range todo {
		if _, err := r.writer.Exec(`UPDATE content_items SET title_normalized = ? WHERE id = ?`, matching.NormalizeText(p.title), p.id); err != nil {
			return 0, err
		}
	}
	return len(todo), nil
}
