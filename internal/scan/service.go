package scan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"mb-go/internal/paths"
)

// Sentinel errors for outcomes the caller is expected to branch on.
var (
	// ErrInvalidFolder marks a folder name that failed validation before any
	// filesystem access.
	ErrInvalidFolder = errors.New("invalid folder name")

	// ErrSourceNotFound marks a creator folder with no source database at
	// either known location.
	ErrSourceNotFound = errors.New("source database not found")

	// ErrScanInProgress is returned by Init when a live scan lock is held by
	// another process. It is an expected rejection, not a failure.
	ErrScanInProgress = errors.New("scan already in progress")
)

const (
	// metaLastScan is the meta key holding the unix time of the last
	// successful scan.
	metaLastScan = "last_scan_success"

	sourceDBName = "user_data.db"
)

// Options carries the tunables of the scan lifecycle.
type Options struct {
	Interval  time.Duration // advertised sync interval
	Freshness time.Duration // skip sources modified more recently than this
	LockTTL   time.Duration // scan locks older than this are abandoned
	PID       int           // lock owner identifier
}

// Service coordinates the scan lifecycle and performs per-creator
// aggregation. It is safe for concurrent Process calls on different folder
// names; concurrent calls for the same folder are prevented only by caller
// convention.
type Service struct {
	store  Store
	opener SourceOpener
	root   string // absolute library root
	opts   Options
	logger Logger
	clock  Clock
}

// NewService creates a Service over the given store and source opener.
// root is the library root containing one folder per creator.
func NewService(store Store, opener SourceOpener, root string, opts Options, logger Logger, clock Clock) *Service {
	return &Service{
		store:  store,
		opener: opener,
		root:   filepath.Clean(root),
		opts:   opts,
		logger: logger,
		clock:  clock,
	}
}

// Status reports the last successful scan time and the configured interval.
// Read-only; never touches the lock.
func (s *Service) Status() (Status, error) {
	raw, err := s.store.GetMeta(metaLastScan)
	if err != nil {
		return Status{}, fmt.Errorf("reading last scan time: %w", err)
	}

	var last int64
	if raw != "" {
		last, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Status{}, fmt.Errorf("parsing last scan time %q: %w", raw, err)
		}
	}

	return Status{LastScan: last, Interval: int(s.opts.Interval / time.Second)}, nil
}

// Init starts a scan: it acquires the scan lock (purging any stale one) and
// returns the folder names under the library root that contain a recognizable
// source database. Returns ErrScanInProgress when the lock is already held.
func (s *Service) Init() ([]string, error) {
	acquired, err := s.store.AcquireScanLock(s.opts.PID, s.clock.Now(), s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquiring scan lock: %w", err)
	}
	if !acquired {
		return nil, ErrScanInProgress
	}

	folders, err := s.discoverFolders()
	if err != nil {
		// Don't leave the lock held by a scan that never started.
		if relErr := s.store.ReleaseScanLock(s.opts.PID); relErr != nil {
			s.logger.Error("releasing scan lock after failed discovery", "error", relErr)
		}
		return nil, fmt.Errorf("discovering creator folders: %w", err)
	}

	s.logger.Info("scan initialized", "creators", len(folders))
	return folders, nil
}

// Process aggregates a single creator. Designed to be invoked once per folder
// returned by Init, safely interleaved with calls for other folders.
func (s *Service) Process(folderName string) (SyncResult, error) {
	return s.syncCreator(folderName)
}

// Complete releases the scan lock and records the completion time. It is
// called unconditionally at the end of a scan run: individual Process
// failures were already isolated and reported per creator.
func (s *Service) Complete() error {
	if err := s.store.ReleaseScanLock(s.opts.PID); err != nil {
		return fmt.Errorf("releasing scan lock: %w", err)
	}
	now := strconv.FormatInt(s.clock.Now().Unix(), 10)
	if err := s.store.SetMeta(metaLastScan, now); err != nil {
		return fmt.Errorf("recording scan completion: %w", err)
	}
	s.logger.Info("scan complete")
	return nil
}

// discoverFolders lists immediate subdirectories of the library root that
// contain a source database at either known location.
func (s *Service) discoverFolders() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("reading library root: %w", err)
	}

	var folders []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := s.locateSourceDB(filepath.Join(s.root, e.Name())); err == nil {
			folders = append(folders, e.Name())
		}
	}

	sort.Strings(folders)
	return folders, nil
}

// locateSourceDB returns the path of the creator's source database, trying
// the Metadata layout first.
func (s *Service) locateSourceDB(creatorDir string) (string, error) {
	for _, p := range []string{
		filepath.Join(creatorDir, "Metadata", sourceDBName),
		filepath.Join(creatorDir, sourceDBName),
	} {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrSourceNotFound
}

// syncCreator replaces the aggregate rows for one creator with fresh data
// from its source database.
func (s *Service) syncCreator(folderName string) (SyncResult, error) {
	// Validation happens before any I/O.
	if !paths.IsSafeFolderName(folderName) {
		return SyncResult{}, fmt.Errorf("%w: %q", ErrInvalidFolder, folderName)
	}
	creatorDir := filepath.Join(s.root, folderName)
	if !strings.HasPrefix(creatorDir, s.root+string(filepath.Separator)) {
		return SyncResult{}, fmt.Errorf("%w: %q escapes library root", ErrInvalidFolder, folderName)
	}

	dbPath, err := s.locateSourceDB(creatorDir)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %s", ErrSourceNotFound, folderName)
	}

	// A source modified moments ago is still being written by the
	// downloader; skip it rather than aggregate partial data.
	info, err := os.Stat(dbPath)
	if err != nil {
		return SyncResult{}, fmt.Errorf("stat source database: %w", err)
	}
	if age := s.clock.Now().Sub(info.ModTime()); age < s.opts.Freshness {
		s.logger.Info("creator skipped", "creator", folderName, "modified_ago", age.Truncate(time.Second))
		return SyncResult{
			Status: StatusSkipped,
			Reason: fmt.Sprintf("active download (modified < %s ago)", s.opts.Freshness),
		}, nil
	}

	src, err := s.opener.Open(dbPath)
	if err != nil {
		return SyncResult{}, fmt.Errorf("opening source database: %w", err)
	}
	defer src.Close()

	bio := src.Bio()
	avatar := paths.FindProfileImage(creatorDir, paths.KindAvatar)
	header := paths.FindProfileImage(creatorDir, paths.KindHeader)

	creatorID, err := s.store.UpsertCreator(folderName, creatorDir, avatar, header, bio, s.clock.Now())
	if err != nil {
		return SyncResult{}, fmt.Errorf("upserting creator %s: %w", folderName, err)
	}

	// Build the post rows and the source-id -> post-id map media rows join
	// against. Both the internal row id and the external post id are mapped,
	// since source media rows reference either depending on tool vintage.
	sourcePosts := src.Posts()
	postIDs := make(map[int64]int64, len(sourcePosts)*2)
	posts := make([]Post, 0, len(sourcePosts))
	for _, p := range sourcePosts {
		posts = append(posts, Post{
			PostID:     p.PostID,
			CreatorID:  creatorID,
			Text:       p.Text,
			Price:      p.Price,
			Paid:       p.Paid,
			Archived:   p.Archived,
			CreatedAt:  p.CreatedAt,
			SourceType: p.SourceType,
			FromUser:   p.FromUser,
		})
		postIDs[p.InternalID] = p.PostID
		postIDs[p.PostID] = p.PostID
	}

	sourceMedia := src.Media()
	media := make([]Media, 0, len(sourceMedia))
	for _, m := range sourceMedia {
		// Orphans keep post id 0 rather than being dropped.
		postID := int64(0)
		if id, ok := postIDs[m.PostRef]; ok {
			postID = id
		}
		media = append(media, Media{
			MediaID:    m.MediaID,
			PostID:     postID,
			CreatorID:  creatorID,
			Filename:   m.Filename,
			Directory:  m.Directory,
			Size:       m.Size,
			Type:       m.Type,
			Downloaded: m.Downloaded,
			CreatedAt:  m.CreatedAt,
		})
	}

	postCount, mediaCount, err := s.store.ReplaceCreatorContent(creatorID, posts, media)
	if err != nil {
		return SyncResult{}, fmt.Errorf("replacing content for %s: %w", folderName, err)
	}

	s.logger.Info("creator synced", "creator", folderName, "posts", postCount, "media", mediaCount)
	return SyncResult{Status: StatusOK, Posts: postCount, Media: mediaCount}, nil
}
