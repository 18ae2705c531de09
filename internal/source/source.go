// Package source reads per-creator databases produced by external downloader
// tools. The schema varies between tool versions, so every read probes for
// the tables and columns that actually exist and substitutes defaults for the
// rest. Query failures degrade to empty results: one malformed source must
// never block the scan of other creators.
package source

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"mb-go/internal/scan"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// bioColumns are the biography-like columns, in priority order. userdetail is
// a vendor-specific field some tool versions use.
var bioColumns = []string{"bio", "description", "about", "text", "userdetail"}

// bioTables are searched in order for a biography row.
var bioTables = []string{"profiles", "users"}

// contentTables are the logically distinct post categories a source may
// carry. Any subset may exist.
var contentTables = []string{"posts", "messages", "stories", "others"}

var videoExts = map[string]bool{
	"mp4": true, "mov": true, "wmv": true, "avi": true,
	"webm": true, "m4v": true, "mkv": true,
}

var audioExts = map[string]bool{
	"mp3": true, "wav": true, "ogg": true, "m4a": true, "aac": true,
}

// Opener opens source databases read-only.
type Opener struct {
	Logger scan.Logger
}

// Open opens the source database at dbPath for reading. The file is expected
// to exist; corruption surfaces later as empty query results, not here.
func (o Opener) Open(dbPath string) (scan.Source, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening source database %s: %w", dbPath, err)
	}

	logger := o.Logger
	if logger == nil {
		logger = scan.NewNopLogger()
	}
	return &DB{db: db, path: dbPath, logger: logger}, nil
}

// DB is one open source database.
type DB struct {
	db     *sql.DB
	path   string
	logger scan.Logger
}

// Close closes the underlying database handle.
func (d *DB) Close() error { return d.db.Close() }

// Bio returns the first non-empty biography value, searching the profiles
// table before the users table and the candidate columns in priority order.
// Returns "" when neither table exists or every candidate is empty.
func (d *DB) Bio() string {
	for _, table := range bioTables {
		if !hasTable(d.db, table) {
			continue
		}
		cols := tableColumns(d.db, table)

		var present []string
		for _, c := range bioColumns {
			if cols[c] {
				present = append(present, c)
			}
		}
		if len(present) == 0 {
			continue
		}

		row := d.db.QueryRow("SELECT " + strings.Join(present, ", ") + " FROM " + table + " LIMIT 1")
		values := make([]sql.NullString, len(present))
		dest := make([]any, len(present))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := row.Scan(dest...); err != nil {
			if err != sql.ErrNoRows {
				d.logger.Warn("bio query failed", "source", d.path, "table", table, "error", err)
			}
			continue
		}

		for _, v := range values {
			if v.Valid && strings.TrimSpace(v.String) != "" {
				return v.String
			}
		}
	}
	return ""
}

// Posts returns normalized post records from every content table present in
// this source, tagged with their table of origin.
func (d *DB) Posts() []scan.SourcePost {
	var posts []scan.SourcePost
	for _, table := range contentTables {
		posts = append(posts, d.readContentTable(table)...)
	}
	return posts
}

// readContentTable reads one content table, tolerating absent columns.
func (d *DB) readContentTable(table string) []scan.SourcePost {
	if !hasTable(d.db, table) {
		return nil
	}
	cols := tableColumns(d.db, table)
	if !cols["id"] {
		return nil // table absent (or unusable without a row id)
	}

	hasPostID := cols["post_id"]
	if !hasPostID {
		// Row ids are not guaranteed stable across source rewrites; flagged
		// rather than silently trusted.
		d.logger.Warn("table has no post_id column, reusing row ids as post identifiers",
			"source", d.path, "table", table)
	}
	// Sender flag only exists (and only matters) for messages.
	hasFromUser := table == "messages" && cols["from_user"]

	selected := []string{"id"}
	for _, c := range []string{"post_id", "text", "price", "paid", "archived", "created_at"} {
		if cols[c] {
			selected = append(selected, c)
		}
	}
	if hasFromUser {
		selected = append(selected, "from_user")
	}

	rows, err := d.db.Query("SELECT " + strings.Join(selected, ", ") + " FROM " + table)
	if err != nil {
		d.logger.Warn("content query failed", "source", d.path, "table", table, "error", err)
		return nil
	}
	defer rows.Close()

	var posts []scan.SourcePost
	for rows.Next() {
		var id int64
		fields := map[string]any{}
		dest := []any{&id}
		for _, c := range selected[1:] {
			switch c {
			case "text", "created_at":
				v := new(sql.NullString)
				fields[c] = v
				dest = append(dest, v)
			default:
				v := new(sql.NullInt64)
				fields[c] = v
				dest = append(dest, v)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			d.logger.Warn("content row scan failed", "source", d.path, "table", table, "error", err)
			continue
		}

		p := scan.SourcePost{
			InternalID: id,
			PostID:     id,
			Text:       nullString(fields, "text"),
			Price:      nullInt(fields, "price"),
			Paid:       nullInt(fields, "paid"),
			Archived:   nullInt(fields, "archived"),
			CreatedAt:  nullString(fields, "created_at"),
			SourceType: table,
			FromUser:   nullInt(fields, "from_user"),
		}
		if hasPostID {
			if v, ok := fields["post_id"].(*sql.NullInt64); ok && v.Valid {
				p.PostID = v.Int64
			}
		}
		posts = append(posts, p)
	}
	return posts
}

// Media returns normalized media records from the medias table. Rows with an
// empty filename cannot be served and are dropped.
func (d *DB) Media() []scan.SourceMedia {
	if !hasTable(d.db, "medias") {
		return nil
	}
	cols := tableColumns(d.db, "medias")
	if !cols["id"] {
		return nil
	}

	selected := []string{"id"}
	for _, c := range []string{"media_id", "post_id", "filename", "directory", "size", "media_type", "type", "downloaded", "created_at"} {
		if cols[c] {
			selected = append(selected, c)
		}
	}

	rows, err := d.db.Query("SELECT " + strings.Join(selected, ", ") + " FROM medias")
	if err != nil {
		d.logger.Warn("media query failed", "source", d.path, "error", err)
		return nil
	}
	defer rows.Close()

	var media []scan.SourceMedia
	for rows.Next() {
		var id int64
		fields := map[string]any{}
		dest := []any{&id}
		for _, c := range selected[1:] {
			switch c {
			case "filename", "directory", "media_type", "type", "created_at":
				v := new(sql.NullString)
				fields[c] = v
				dest = append(dest, v)
			default:
				v := new(sql.NullInt64)
				fields[c] = v
				dest = append(dest, v)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			d.logger.Warn("media row scan failed", "source", d.path, "error", err)
			continue
		}

		filename := nullString(fields, "filename")
		if filename == "" {
			continue
		}

		mediaID := id
		if v, ok := fields["media_id"].(*sql.NullInt64); ok && v.Valid {
			mediaID = v.Int64
		}

		vendorType := nullString(fields, "media_type")
		if vendorType == "" {
			vendorType = nullString(fields, "type")
		}

		media = append(media, scan.SourceMedia{
			MediaID:    mediaID,
			PostRef:    nullInt(fields, "post_id"),
			Filename:   filename,
			Directory:  nullString(fields, "directory"),
			Size:       nullInt(fields, "size"),
			Type:       ClassifyMediaType(vendorType, filename),
			Downloaded: nullInt(fields, "downloaded"),
			CreatedAt:  nullString(fields, "created_at"),
		})
	}
	return media
}

// ClassifyMediaType derives the coarse media type. An explicit vendor type
// string wins; otherwise the filename extension decides, defaulting to photo.
func ClassifyMediaType(vendorType, filename string) string {
	if v := strings.ToLower(vendorType); v != "" {
		switch {
		case strings.Contains(v, "video"):
			return "video"
		case strings.Contains(v, "audio"):
			return "audio"
		default:
			return "photo"
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch {
	case videoExts[ext]:
		return "video"
	case audioExts[ext]:
		return "audio"
	default:
		return "photo"
	}
}

func nullString(fields map[string]any, key string) string {
	if v, ok := fields[key].(*sql.NullString); ok && v.Valid {
		return v.String
	}
	return ""
}

func nullInt(fields map[string]any, key string) int64 {
	if v, ok := fields[key].(*sql.NullInt64); ok && v.Valid {
		return v.Int64
	}
	return 0
}
