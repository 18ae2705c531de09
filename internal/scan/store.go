package scan

import "time"

// Store is the interface to the global aggregate database. The sqlite
// implementation lives in internal/database.
type Store interface {
	// Meta operations

	// GetMeta returns the value for key, or "" if the key is not set.
	GetMeta(key string) (string, error)

	// SetMeta inserts or replaces the value for key.
	SetMeta(key, value string) error

	// Scan lock operations

	// AcquireScanLock attempts to take the advisory scan lock for the given
	// owner pid. Lock rows older than ttl are purged in the same transaction
	// before the attempt, so a crashed scan cannot block forever.
	// Returns false when a live lock is held by another owner.
	AcquireScanLock(pid int, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseScanLock deletes the lock row owned by pid.
	ReleaseScanLock(pid int) error

	// Creator operations

	// UpsertCreator creates the creator row for username on first sight, or
	// refreshes bio, avatar, header and scanned_at on later syncs.
	// Returns the creator id either way.
	UpsertCreator(username, folderPath, avatarPath, headerPath, bio string, scannedAt time.Time) (int64, error)

	// GetCreatorByID returns the creator, or nil if it does not exist.
	GetCreatorByID(id int64) (*Creator, error)

	// ListCreators returns all creators ordered by username.
	ListCreators() ([]Creator, error)

	// Content operations

	// ReplaceCreatorContent atomically deletes every post and media row
	// belonging to creatorID and inserts the given rows in their place.
	// Inserts use insert-or-ignore on the per-creator unique keys, so
	// residual duplicate identifiers within one source collapse to a single
	// row. The creator's cached counts are refreshed in the same
	// transaction. Returns the number of post and media rows written.
	ReplaceCreatorContent(creatorID int64, posts []Post, media []Media) (int64, int64, error)

	// ListPosts returns a page of a creator's posts, newest first.
	// sourceType "" matches every category.
	ListPosts(creatorID int64, sourceType string, limit, offset int) ([]Post, error)

	// ListMedia returns a page of a creator's media, newest row first.
	// mediaType "" matches every type.
	ListMedia(creatorID int64, mediaType string, limit, offset int) ([]Media, error)

	// GetMediaByID returns the media row, or nil if it does not exist.
	GetMediaByID(id int64) (*Media, error)
}

// Source is one open per-creator source database. Read methods degrade to
// empty results on query failure; a malformed source must not block the rest
// of the scan.
type Source interface {
	// Bio returns the first non-empty biography value found across the
	// candidate tables and columns, or "".
	Bio() string

	// Posts returns normalized records from every content table present.
	Posts() []SourcePost

	// Media returns normalized media records. Rows without a filename are
	// dropped.
	Media() []SourceMedia

	Close() error
}

// SourceOpener opens a source database for reading.
type SourceOpener interface {
	Open(dbPath string) (Source, error)
}
