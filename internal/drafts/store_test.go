package drafts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "drafts.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&CommentDraft{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func mustDraftKey(t *testing.T, user, request, parent string) DraftKey {
	t.Helper()
	key, err := NewDraftKey(user, request, parent)
	if err != nil {
		t.Fatalf("unexpected draft key error: %v", err)
	}
	return key
}

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	counter := 0
	store, err := NewStore(StoreConfig{
		Database: openTestDatabase(t),
		Clock:    func() time.Time { return now },
		NewID: func() (string, error) {
			counter++
			return fmt.Sprintf("draft-%d", counter), nil
		},
	})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestNewStoreRequiresDatabase(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "drafts.store.new.missing_database" {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestNewDraftKeyValidation(t *testing.T) {
	if _, err := NewDraftKey(" ", "req", ""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := NewDraftKey("user", "", ""); !errors.Is(err, ErrInvalidRequestID) {
		t.Fatalf("expected ErrInvalidRequestID, got %v", err)
	}
	key := mustDraftKey(t, " user ", " req ", " parent ")
	if key.String() != "user/req/parent" {
		t.Fatalf("unexpected key %q", key.String())
	}
}

func TestSaveUpsertsOneDraftPerComposer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Unix(1700000000, 0))
	root := mustDraftKey(t, "user-1", "req-1", "")
	reply := mustDraftKey(t, "user-1", "req-1", "comment-9")

	if err := store.Save(ctx, root, "<p>first</p>"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, root, "<p>second</p>"); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if err := store.Save(ctx, reply, "<p>reply</p>"); err != nil {
		t.Fatalf("reply save failed: %v", err)
	}

	draft, found, err := store.Load(ctx, root)
	if err != nil || !found {
		t.Fatalf("expected root draft, found=%v err=%v", found, err)
	}
	if draft.Content != "<p>second</p>" {
		t.Fatalf("expected latest content, got %q", draft.Content)
	}
	if draft.UpdatedAtSeconds != 1700000000 {
		t.Fatalf("unexpected timestamp %d", draft.UpdatedAtSeconds)
	}

	all, err := store.ListForRequest(ctx, "user-1", "req-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 || all[0].ParentEventID != "" {
		t.Fatalf("expected root then reply draft, got %+v", all)
	}
}

func TestSaveBlankContentDeletes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Unix(1700000000, 0))
	key := mustDraftKey(t, "user-1", "req-1", "")

	if err := store.Save(ctx, key, "<p>x</p>"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, key, "   "); err != nil {
		t.Fatalf("blank save failed: %v", err)
	}
	if _, found, _ := store.Load(ctx, key); found {
		t.Fatalf("expected blank save to remove the draft")
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("expected deleting a missing draft to succeed: %v", err)
	}
}

func TestBindServesTimelineDraftStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, time.Unix(1700000000, 0))
	bound := store.Bind(mustDraftKey(t, "user-2", "req-1", ""))

	if _, found, err := bound.Load(ctx); err != nil || found {
		t.Fatalf("expected no draft, found=%v err=%v", found, err)
	}
	if err := bound.Save(ctx, "<p>bound</p>"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	content, found, err := bound.Load(ctx)
	if err != nil || !found || content != "<p>bound</p>" {
		t.Fatalf("unexpected load %q found=%v err=%v", content, found, err)
	}
	if err := bound.Delete(ctx); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	database := openTestDatabase(t)
	old := CommentDraft{DraftID: "old", UserID: "u", RequestID: "r1", Content: "x", UpdatedAtSeconds: 100}
	fresh := CommentDraft{DraftID: "fresh", UserID: "u", RequestID: "r2", Content: "y", UpdatedAtSeconds: 5000}
	if err := database.Create(&old).Error; err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := database.Create(&fresh).Error; err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	store, err := NewStore(StoreConfig{Database: database})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}

	purged, err := store.PurgeOlderThan(ctx, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected one purged draft, got %d", purged)
	}
}
