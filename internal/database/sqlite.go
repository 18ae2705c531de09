// Package database implements the global aggregate store on SQLite.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mb-go/internal/database/migrations"
	"mb-go/internal/scan"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// sqliteTime is the DATETIME text format SQLite's datetime() produces; lock
// staleness comparisons rely on both sides using it.
const sqliteTime = "2006-01-02 15:04:05"

// SQLiteStore implements scan.Store on a single SQLite database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the aggregate database at path.
// path can be a file path or ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection. WAL keeps gallery
// reads from blocking behind a scan's write transactions; the busy timeout
// covers concurrent per-creator syncs hitting the same file.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database (%s): %w", pragma, err)
		}
	}
	return db, nil
}

// MigrateUp brings the schema to the latest version.
func (s *SQLiteStore) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Meta operations

func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %s: %w", key, err)
	}
	return value.String, nil
}

func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// Scan lock operations

// AcquireScanLock purges stale lock rows and inserts a fresh one for pid in a
// single transaction. The purge makes a crashed scan self-healing: its lock
// row stops blocking acquisition once it passes ttl.
func (s *SQLiteStore) AcquireScanLock(pid int, now time.Time, ttl time.Duration) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("starting lock transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.Add(-ttl).UTC().Format(sqliteTime)
	if _, err := tx.Exec("DELETE FROM scan_locks WHERE started_at < ?", cutoff); err != nil {
		return false, fmt.Errorf("purging stale locks: %w", err)
	}

	var live int
	if err := tx.QueryRow("SELECT COUNT(*) FROM scan_locks").Scan(&live); err != nil {
		return false, fmt.Errorf("checking for live lock: %w", err)
	}
	if live > 0 {
		// Keep the purge even when acquisition fails.
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("committing lock purge: %w", err)
		}
		return false, nil
	}

	_, err = tx.Exec("INSERT INTO scan_locks (started_at, pid) VALUES (?, ?)",
		now.UTC().Format(sqliteTime), pid)
	if err != nil {
		return false, fmt.Errorf("inserting scan lock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing lock acquisition: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) ReleaseScanLock(pid int) error {
	if _, err := s.db.Exec("DELETE FROM scan_locks WHERE pid = ?", pid); err != nil {
		return fmt.Errorf("releasing scan lock: %w", err)
	}
	return nil
}

// Creator operations

func (s *SQLiteStore) UpsertCreator(username, folderPath, avatarPath, headerPath, bio string, scannedAt time.Time) (int64, error) {
	scanned := scannedAt.UTC().Format(sqliteTime)

	var id int64
	err := s.db.QueryRow("SELECT id FROM creators WHERE username = ?", username).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.Exec(
			"INSERT INTO creators (username, folder_path, avatar_path, header_path, bio, scanned_at) VALUES (?, ?, ?, ?, ?, ?)",
			username, folderPath, avatarPath, headerPath, bio, scanned)
		if err != nil {
			return 0, fmt.Errorf("inserting creator %s: %w", username, err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("reading creator id: %w", err)
		}
		return id, nil
	case err != nil:
		return 0, fmt.Errorf("finding creator %s: %w", username, err)
	}

	_, err = s.db.Exec(
		"UPDATE creators SET bio = ?, avatar_path = ?, header_path = ?, scanned_at = ? WHERE id = ?",
		bio, avatarPath, headerPath, scanned, id)
	if err != nil {
		return 0, fmt.Errorf("updating creator %s: %w", username, err)
	}
	return id, nil
}

func (s *SQLiteStore) GetCreatorByID(id int64) (*scan.Creator, error) {
	row := s.db.QueryRow(
		"SELECT id, username, folder_path, avatar_path, header_path, bio, scanned_at, post_count, media_count FROM creators WHERE id = ?", id)
	c, err := scanCreator(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding creator %d: %w", id, err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCreators() ([]scan.Creator, error) {
	rows, err := s.db.Query(
		"SELECT id, username, folder_path, avatar_path, header_path, bio, scanned_at, post_count, media_count FROM creators ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("listing creators: %w", err)
	}
	defer rows.Close()

	var creators []scan.Creator
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning creator row: %w", err)
		}
		creators = append(creators, *c)
	}
	return creators, rows.Err()
}

// Content operations

// ReplaceCreatorContent implements the delete-then-reinsert sync strategy:
// within one transaction the creator's old rows are removed, the fresh ones
// inserted with insert-or-ignore on the per-creator unique keys, and the
// cached counts recomputed. On error the transaction rolls back wholesale and
// the creator's prior rows stay untouched.
func (s *SQLiteStore) ReplaceCreatorContent(creatorID int64, posts []scan.Post, media []scan.Media) (int64, int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("starting replace transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM medias WHERE creator_id = ?", creatorID); err != nil {
		return 0, 0, fmt.Errorf("deleting old media: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM posts WHERE creator_id = ?", creatorID); err != nil {
		return 0, 0, fmt.Errorf("deleting old posts: %w", err)
	}

	insertPost, err := tx.Prepare(
		"INSERT OR IGNORE INTO posts (post_id, creator_id, text, price, paid, archived, created_at, source_type, from_user) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, 0, fmt.Errorf("preparing post insert: %w", err)
	}
	defer insertPost.Close()

	for _, p := range posts {
		_, err := insertPost.Exec(p.PostID, creatorID, p.Text, p.Price, p.Paid, p.Archived, p.CreatedAt, p.SourceType, p.FromUser)
		if err != nil {
			return 0, 0, fmt.Errorf("inserting post %d: %w", p.PostID, err)
		}
	}

	insertMedia, err := tx.Prepare(
		"INSERT OR IGNORE INTO medias (media_id, post_id, creator_id, filename, directory, size, type, downloaded, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, 0, fmt.Errorf("preparing media insert: %w", err)
	}
	defer insertMedia.Close()

	for _, m := range media {
		_, err := insertMedia.Exec(m.MediaID, m.PostID, creatorID, m.Filename, m.Directory, m.Size, m.Type, m.Downloaded, m.CreatedAt)
		if err != nil {
			return 0, 0, fmt.Errorf("inserting media %d: %w", m.MediaID, err)
		}
	}

	// Authoritative written counts, after insert-or-ignore collapsed any
	// duplicate identifiers.
	var postCount, mediaCount int64
	if err := tx.QueryRow("SELECT COUNT(*) FROM posts WHERE creator_id = ?", creatorID).Scan(&postCount); err != nil {
		return 0, 0, fmt.Errorf("counting posts: %w", err)
	}
	if err := tx.QueryRow("SELECT COUNT(*) FROM medias WHERE creator_id = ?", creatorID).Scan(&mediaCount); err != nil {
		return 0, 0, fmt.Errorf("counting media: %w", err)
	}

	_, err = tx.Exec("UPDATE creators SET post_count = ?, media_count = ? WHERE id = ?",
		postCount, mediaCount, creatorID)
	if err != nil {
		return 0, 0, fmt.Errorf("updating cached counts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing replace transaction: %w", err)
	}
	return postCount, mediaCount, nil
}

func (s *SQLiteStore) ListPosts(creatorID int64, sourceType string, limit, offset int) ([]scan.Post, error) {
	query := "SELECT id, post_id, creator_id, text, price, paid, archived, created_at, source_type, from_user FROM posts WHERE creator_id = ?"
	args := []any{creatorID}
	if sourceType != "" {
		query += " AND source_type = ?"
		args = append(args, sourceType)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	defer rows.Close()

	var posts []scan.Post
	for rows.Next() {
		var p scan.Post
		var text, createdAt, srcType sql.NullString
		err := rows.Scan(&p.ID, &p.PostID, &p.CreatorID, &text, &p.Price, &p.Paid, &p.Archived, &createdAt, &srcType, &p.FromUser)
		if err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		p.Text = text.String
		p.CreatedAt = createdAt.String
		p.SourceType = srcType.String
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *SQLiteStore) ListMedia(creatorID int64, mediaType string, limit, offset int) ([]scan.Media, error) {
	query := "SELECT id, media_id, post_id, creator_id, filename, directory, size, type, downloaded, created_at FROM medias WHERE creator_id = ?"
	args := []any{creatorID}
	if mediaType != "" {
		query += " AND type = ?"
		args = append(args, mediaType)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing media: %w", err)
	}
	defer rows.Close()

	var media []scan.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning media row: %w", err)
		}
		media = append(media, *m)
	}
	return media, rows.Err()
}

func (s *SQLiteStore) GetMediaByID(id int64) (*scan.Media, error) {
	row := s.db.QueryRow(
		"SELECT id, media_id, post_id, creator_id, filename, directory, size, type, downloaded, created_at FROM medias WHERE id = ?", id)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding media %d: %w", id, err)
	}
	return m, nil
}

// BackupTo writes a complete copy of the database to destPath via VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCreator(r rowScanner) (*scan.Creator, error) {
	var c scan.Creator
	var folder, avatar, header, bio, scannedAt sql.NullString
	err := r.Scan(&c.ID, &c.Username, &folder, &avatar, &header, &bio, &scannedAt, &c.PostCount, &c.MediaCount)
	if err != nil {
		return nil, err
	}
	c.FolderPath = folder.String
	c.AvatarPath = avatar.String
	c.HeaderPath = header.String
	c.Bio = bio.String
	if scannedAt.Valid {
		if t, err := time.Parse(sqliteTime, scannedAt.String); err == nil {
			c.ScannedAt = t.UTC()
		}
	}
	return &c, nil
}

func scanMedia(r rowScanner) (*scan.Media, error) {
	var m scan.Media
	var filename, directory, mtype, createdAt sql.NullString
	err := r.Scan(&m.ID, &m.MediaID, &m.PostID, &m.CreatorID, &filename, &directory, &m.Size, &mtype, &m.Downloaded, &createdAt)
	if err != nil {
		return nil, err
	}
	m.Filename = filename.String
	m.Directory = directory.String
	m.Type = mtype.String
	m.CreatedAt = createdAt.String
	return &m, nil
}

// Compile-time check that SQLiteStore implements scan.Store.
var _ scan.Store = (*SQLiteStore)(nil)
