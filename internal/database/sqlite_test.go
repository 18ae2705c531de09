package database_test

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mb-go/internal/scan"
	"mb-go/internal/testutil"
)

func TestMeta(t *testing.T) {
	store := testutil.NewTestStore(t)

	t.Run("missing key returns empty string", func(t *testing.T) {
		v, err := store.GetMeta("nope")
		if err != nil {
			t.Fatalf("GetMeta() error = %v", err)
		}
		if v != "" {
			t.Errorf("GetMeta() = %q, want empty", v)
		}
	})

	t.Run("set then get", func(t *testing.T) {
		if err := store.SetMeta("last_scan_success", "1700000000"); err != nil {
			t.Fatalf("SetMeta() error = %v", err)
		}
		v, err := store.GetMeta("last_scan_success")
		if err != nil {
			t.Fatalf("GetMeta() error = %v", err)
		}
		if v != "1700000000" {
			t.Errorf("GetMeta() = %q, want 1700000000", v)
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		if err := store.SetMeta("last_scan_success", "1700000099"); err != nil {
			t.Fatalf("SetMeta() error = %v", err)
		}
		v, _ := store.GetMeta("last_scan_success")
		if v != "1700000099" {
			t.Errorf("GetMeta() = %q, want 1700000099", v)
		}
	})
}

func TestScanLock(t *testing.T) {
	ttl := 10 * time.Minute

	t.Run("acquire and conflict", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		now := time.Now()

		ok, err := store.AcquireScanLock(100, now, ttl)
		if err != nil {
			t.Fatalf("AcquireScanLock() error = %v", err)
		}
		if !ok {
			t.Fatal("first acquisition should succeed")
		}

		ok, err = store.AcquireScanLock(200, now, ttl)
		if err != nil {
			t.Fatalf("AcquireScanLock() error = %v", err)
		}
		if ok {
			t.Error("second acquisition should fail while the lock is held")
		}
	})

	t.Run("release frees the lock", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		now := time.Now()

		if ok, _ := store.AcquireScanLock(100, now, ttl); !ok {
			t.Fatal("first acquisition should succeed")
		}
		if err := store.ReleaseScanLock(100); err != nil {
			t.Fatalf("ReleaseScanLock() error = %v", err)
		}
		ok, err := store.AcquireScanLock(200, now, ttl)
		if err != nil {
			t.Fatalf("AcquireScanLock() error = %v", err)
		}
		if !ok {
			t.Error("acquisition after release should succeed")
		}
	})

	t.Run("stale lock is purged", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		start := time.Now()

		if ok, _ := store.AcquireScanLock(100, start, ttl); !ok {
			t.Fatal("first acquisition should succeed")
		}

		// The holder crashed; eleven minutes later another process tries.
		ok, err := store.AcquireScanLock(200, start.Add(11*time.Minute), ttl)
		if err != nil {
			t.Fatalf("AcquireScanLock() error = %v", err)
		}
		if !ok {
			t.Error("acquisition should succeed after the previous lock went stale")
		}
	})

	t.Run("release of unheld lock is a no-op", func(t *testing.T) {
		store := testutil.NewTestStore(t)
		if err := store.ReleaseScanLock(999); err != nil {
			t.Errorf("ReleaseScanLock() error = %v", err)
		}
	})
}

func TestUpsertCreator(t *testing.T) {
	store := testutil.NewTestStore(t)
	scanned := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.UpsertCreator("alice", "alice", "alice/Profile/Avatars/a.jpg", "", "hello", scanned)
	if err != nil {
		t.Fatalf("UpsertCreator() error = %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero creator id")
	}

	// Second upsert for the same username updates in place.
	id2, err := store.UpsertCreator("alice", "alice-moved", "new.jpg", "h.jpg", "updated bio", scanned.Add(time.Hour))
	if err != nil {
		t.Fatalf("UpsertCreator() error = %v", err)
	}
	if id2 != id {
		t.Errorf("second upsert returned id %d, want %d", id2, id)
	}

	c, err := store.GetCreatorByID(id)
	if err != nil {
		t.Fatalf("GetCreatorByID() error = %v", err)
	}
	if c == nil {
		t.Fatal("creator not found")
	}
	if c.Bio != "updated bio" || c.AvatarPath != "new.jpg" || c.HeaderPath != "h.jpg" {
		t.Errorf("update not applied: %+v", c)
	}
	// The folder path is fixed at first sight of the creator.
	if c.FolderPath != "alice" {
		t.Errorf("FolderPath = %q, want alice", c.FolderPath)
	}
	if !c.ScannedAt.Equal(scanned.Add(time.Hour)) {
		t.Errorf("ScannedAt = %v, want %v", c.ScannedAt, scanned.Add(time.Hour))
	}

	creators, err := store.ListCreators()
	if err != nil {
		t.Fatalf("ListCreators() error = %v", err)
	}
	if len(creators) != 1 {
		t.Errorf("ListCreators() returned %d creators, want 1", len(creators))
	}
}

func TestGetCreatorByID_Missing(t *testing.T) {
	store := testutil.NewTestStore(t)
	c, err := store.GetCreatorByID(42)
	if err != nil {
		t.Fatalf("GetCreatorByID() error = %v", err)
	}
	if c != nil {
		t.Errorf("GetCreatorByID() = %+v, want nil", c)
	}
}

func TestReplaceCreatorContent(t *testing.T) {
	store := testutil.NewTestStore(t)
	scanned := time.Now()

	id, err := store.UpsertCreator("alice", "alice", "", "", "", scanned)
	if err != nil {
		t.Fatalf("UpsertCreator() error = %v", err)
	}

	posts := []scan.Post{
		{PostID: 10, Text: "first", CreatedAt: "2024-01-02 00:00:00", SourceType: "posts"},
		{PostID: 11, Text: "second", CreatedAt: "2024-01-03 00:00:00", SourceType: "messages", FromUser: 1},
	}
	media := []scan.Media{
		{MediaID: 100, PostID: 10, Filename: "a.jpg", Directory: "Posts", Type: "photo", Downloaded: 1},
		{MediaID: 101, PostID: 11, Filename: "b.mp4", Directory: "Messages", Type: "video", Downloaded: 1},
		{MediaID: 102, PostID: 0, Filename: "orphan.jpg", Type: "photo"},
	}

	t.Run("initial load", func(t *testing.T) {
		pc, mc, err := store.ReplaceCreatorContent(id, posts, media)
		if err != nil {
			t.Fatalf("ReplaceCreatorContent() error = %v", err)
		}
		if pc != 2 || mc != 3 {
			t.Errorf("counts = (%d, %d), want (2, 3)", pc, mc)
		}
	})

	t.Run("resync is idempotent", func(t *testing.T) {
		pc, mc, err := store.ReplaceCreatorContent(id, posts, media)
		if err != nil {
			t.Fatalf("ReplaceCreatorContent() error = %v", err)
		}
		if pc != 2 || mc != 3 {
			t.Errorf("counts = (%d, %d), want (2, 3)", pc, mc)
		}
	})

	t.Run("duplicate post ids collapse", func(t *testing.T) {
		dup := append([]scan.Post{}, posts...)
		dup = append(dup, scan.Post{PostID: 10, Text: "duplicate", SourceType: "stories"})

		pc, _, err := store.ReplaceCreatorContent(id, dup, media)
		if err != nil {
			t.Fatalf("ReplaceCreatorContent() error = %v", err)
		}
		if pc != 2 {
			t.Errorf("post count = %d, want 2 after duplicate collapse", pc)
		}
	})

	t.Run("cached counts match", func(t *testing.T) {
		c, err := store.GetCreatorByID(id)
		if err != nil || c == nil {
			t.Fatalf("GetCreatorByID() = %v, %v", c, err)
		}
		if c.PostCount != 2 || c.MediaCount != 3 {
			t.Errorf("cached counts = (%d, %d), want (2, 3)", c.PostCount, c.MediaCount)
		}
	})

	t.Run("creators stay isolated", func(t *testing.T) {
		other, err := store.UpsertCreator("bob", "bob", "", "", "", scanned)
		if err != nil {
			t.Fatalf("UpsertCreator() error = %v", err)
		}
		if _, _, err := store.ReplaceCreatorContent(other, []scan.Post{{PostID: 10, SourceType: "posts"}}, nil); err != nil {
			t.Fatalf("ReplaceCreatorContent() error = %v", err)
		}

		alice, _ := store.ListPosts(id, "", 100, 0)
		if len(alice) != 2 {
			t.Errorf("alice has %d posts after bob's sync, want 2", len(alice))
		}
		bob, _ := store.ListPosts(other, "", 100, 0)
		if len(bob) != 1 {
			t.Errorf("bob has %d posts, want 1", len(bob))
		}
	})
}

func TestReplaceCreatorContent_FailureRollsBack(t *testing.T) {
	store := testutil.NewTestStore(t)
	id, err := store.UpsertCreator("alice", "alice", "", "", "", time.Now())
	if err != nil {
		t.Fatalf("UpsertCreator() error = %v", err)
	}

	prior := []scan.Post{
		{PostID: 10, Text: "keep me", SourceType: "posts"},
		{PostID: 11, Text: "me too", SourceType: "messages"},
	}
	if _, _, err := store.ReplaceCreatorContent(id, prior, nil); err != nil {
		t.Fatalf("ReplaceCreatorContent() error = %v", err)
	}

	// Break the schema from a second connection. The deletes and inserts of
	// the next replace succeed; the cached-count update at the end of the
	// transaction fails, so the whole transaction must roll back.
	raw, err := sql.Open("sqlite3", store.Path())
	if err != nil {
		t.Fatalf("opening second connection: %v", err)
	}
	defer raw.Close()
	if _, err := raw.Exec("DROP TABLE creators"); err != nil {
		t.Fatalf("dropping creators: %v", err)
	}

	if _, _, err := store.ReplaceCreatorContent(id, []scan.Post{{PostID: 99, SourceType: "posts"}}, nil); err == nil {
		t.Fatal("ReplaceCreatorContent() should fail without a creators table")
	}

	// The rollback restored the deleted rows: the prior posts are intact and
	// post 99 was never written.
	got, err := store.ListPosts(id, "", 100, 0)
	if err != nil {
		t.Fatalf("ListPosts() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListPosts() returned %d posts after failed replace, want the prior 2", len(got))
	}
	for _, p := range got {
		if p.PostID == 99 {
			t.Error("post from the failed replace leaked into the store")
		}
	}
}

func TestListPosts_Filters(t *testing.T) {
	store := testutil.NewTestStore(t)
	id, _ := store.UpsertCreator("alice", "alice", "", "", "", time.Now())

	posts := []scan.Post{
		{PostID: 1, CreatedAt: "2024-01-01 00:00:00", SourceType: "posts"},
		{PostID: 2, CreatedAt: "2024-01-03 00:00:00", SourceType: "posts"},
		{PostID: 3, CreatedAt: "2024-01-02 00:00:00", SourceType: "messages"},
	}
	if _, _, err := store.ReplaceCreatorContent(id, posts, nil); err != nil {
		t.Fatalf("ReplaceCreatorContent() error = %v", err)
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := store.ListPosts(id, "", 100, 0)
		if err != nil {
			t.Fatalf("ListPosts() error = %v", err)
		}
		if len(got) != 3 || got[0].PostID != 2 {
			t.Errorf("ListPosts() first = %+v, want post 2 first of 3", got)
		}
	})

	t.Run("source type filter", func(t *testing.T) {
		got, err := store.ListPosts(id, "messages", 100, 0)
		if err != nil {
			t.Fatalf("ListPosts() error = %v", err)
		}
		if len(got) != 1 || got[0].PostID != 3 {
			t.Errorf("ListPosts(messages) = %+v, want only post 3", got)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		got, err := store.ListPosts(id, "", 1, 1)
		if err != nil {
			t.Fatalf("ListPosts() error = %v", err)
		}
		if len(got) != 1 || got[0].PostID != 3 {
			t.Errorf("ListPosts(limit 1 offset 1) = %+v, want only post 3", got)
		}
	})
}

func TestListMedia_Filters(t *testing.T) {
	store := testutil.NewTestStore(t)
	id, _ := store.UpsertCreator("alice", "alice", "", "", "", time.Now())

	media := []scan.Media{
		{MediaID: 1, PostID: 1, Filename: "a.jpg", Type: "photo"},
		{MediaID: 2, PostID: 1, Filename: "b.mp4", Type: "video"},
		{MediaID: 3, PostID: 2, Filename: "c.jpg", Type: "photo"},
	}
	if _, _, err := store.ReplaceCreatorContent(id, nil, media); err != nil {
		t.Fatalf("ReplaceCreatorContent() error = %v", err)
	}

	t.Run("type filter", func(t *testing.T) {
		got, err := store.ListMedia(id, "video", 100, 0)
		if err != nil {
			t.Fatalf("ListMedia() error = %v", err)
		}
		if len(got) != 1 || got[0].MediaID != 2 {
			t.Errorf("ListMedia(video) = %+v, want only media 2", got)
		}
	})

	t.Run("lookup by row id", func(t *testing.T) {
		all, err := store.ListMedia(id, "", 100, 0)
		if err != nil || len(all) == 0 {
			t.Fatalf("ListMedia() = %v, %v", all, err)
		}
		m, err := store.GetMediaByID(all[0].ID)
		if err != nil {
			t.Fatalf("GetMediaByID() error = %v", err)
		}
		if m == nil || m.MediaID != all[0].MediaID {
			t.Errorf("GetMediaByID() = %+v, want %+v", m, all[0])
		}
	})

	t.Run("missing row id", func(t *testing.T) {
		m, err := store.GetMediaByID(99999)
		if err != nil {
			t.Fatalf("GetMediaByID() error = %v", err)
		}
		if m != nil {
			t.Errorf("GetMediaByID() = %+v, want nil", m)
		}
	})
}

func TestBackupTo(t *testing.T) {
	store := testutil.NewTestStore(t)
	if _, err := store.UpsertCreator("alice", "alice", "", "", "", time.Now()); err != nil {
		t.Fatalf("UpsertCreator() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "snapshot.db")
	if err := store.BackupTo(dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("snapshot is empty")
	}
}
