// Package scan implements the aggregation engine and scan lifecycle: it pulls
// normalized posts and media out of per-creator source databases and replaces
// the corresponding rows in the global aggregate store.
package scan

import "time"

// Creator is one content source, keyed by its folder name.
type Creator struct {
	ID         int64
	Username   string // folder name; unique
	FolderPath string
	AvatarPath string // "" when no image was found
	HeaderPath string
	Bio        string
	ScannedAt  time.Time
	PostCount  int64 // cached, refreshed on every sync
	MediaCount int64
}

// Post is one content item in the aggregate. PostID is the source-provided
// identifier, unique only per creator.
type Post struct {
	ID         int64
	PostID     int64
	CreatorID  int64
	Text       string
	Price      int64
	Paid       int64
	Archived   int64
	CreatedAt  string // source timestamp, carried as recorded
	SourceType string // posts, messages, stories or others
	FromUser   int64  // messages only: 1 when sent by the subscriber
}

// Media is one file attached to a post. PostID 0 marks an orphan whose post
// was not present in the same sync pass.
type Media struct {
	ID         int64
	MediaID    int64
	PostID     int64
	CreatorID  int64
	Filename   string
	Directory  string // as recorded by the source; may be relative or absolute
	Size       int64
	Type       string // photo, video or audio
	Downloaded int64
	CreatedAt  string
}

// SourcePost is a normalized post record read from a source database.
// InternalID is the source's row id; PostID is the resolved external
// identifier (the post_id column when present, otherwise InternalID), which
// is the identifier space media rows join against.
type SourcePost struct {
	InternalID int64
	PostID     int64
	Text       string
	Price      int64
	Paid       int64
	Archived   int64
	CreatedAt  string
	SourceType string
	FromUser   int64
}

// SourceMedia is a normalized media record read from a source database.
// PostRef holds the raw post_id value from the media row, still in the
// source's identifier space.
type SourceMedia struct {
	MediaID    int64
	PostRef    int64
	Filename   string
	Directory  string
	Size       int64
	Type       string
	Downloaded int64
	CreatedAt  string
}

// SyncStatus discriminates the outcome of a single creator sync.
type SyncStatus string

const (
	StatusOK      SyncStatus = "ok"
	StatusSkipped SyncStatus = "skipped"
)

// SyncResult reports a completed (or skipped) creator sync.
type SyncResult struct {
	Status SyncStatus
	Reason string // set when Status == StatusSkipped
	Posts  int64  // rows written
	Media  int64
}

// Status reports scan bookkeeping for a polling client.
type Status struct {
	LastScan int64 // unix seconds of the last successful scan, 0 if never
	Interval int   // configured sync interval in seconds
}
