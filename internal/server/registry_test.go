package server

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/requests-timeline/internal/drafts"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/remote"
	"github.com/MarcoPoloResearchLab/requests-timeline/internal/reviewers"
)

func mustDraftKey(t *testing.T, userID, requestID, parentID string) drafts.DraftKey {
	t.Helper()
	key, err := drafts.NewDraftKey(userID, requestID, parentID)
	if err != nil {
		t.Fatalf("invalid draft key: %v", err)
	}
	return key
}

func TestRegistryReusesTimelinePerKey(t *testing.T) {
	env := newTestEnvironment(t, 2)
	ctx := context.Background()

	first, err := env.registry.Open(ctx, mustDraftKey(t, "user-1", "req-1", ""), "")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	again, err := env.registry.Open(ctx, mustDraftKey(t, "user-1", "req-1", ""), "")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if first != again {
		t.Fatalf("expected the same timeline for the same key")
	}
	other, err := env.registry.Open(ctx, mustDraftKey(t, "user-2", "req-1", ""), "")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if other == first {
		t.Fatalf("expected separate timelines per user")
	}
	if _, ok := env.registry.Lookup(mustDraftKey(t, "user-3", "req-1", "")); ok {
		t.Fatalf("expected lookup of an unopened key to miss")
	}
}

func TestRegistryPublishesRefreshChanges(t *testing.T) {
	env := newTestEnvironment(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened, err := env.registry.Open(ctx, mustDraftKey(t, "user-1", "req-1", ""), "")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	messages, cleanup := env.registry.cfg.Stream.Subscribe(ctx, streamTopic("user-1", "req-1"))
	defer cleanup()

	env.remote.append(fakeComment("e3", "from elsewhere"))
	if err := opened.Refresh(ctx); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}

	select {
	case message := <-messages:
		if message.Reason != "refresh" || message.RequestID != "req-1" {
			t.Fatalf("unexpected message: %+v", message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a refresh message")
	}
	if got := opened.Snapshot().Store.TotalHits(); got != 3 {
		t.Fatalf("expected refreshed total 3, got %d", got)
	}
}

func TestRegistrySweepClosesIdleTimelines(t *testing.T) {
	env := newTestEnvironment(t, 1)
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	env.registry.clock = func() time.Time { return now }

	key := mustDraftKey(t, "user-1", "req-1", "")
	opened, err := env.registry.Open(context.Background(), key, "")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	if closed := env.registry.Sweep(time.Minute); closed != 0 {
		t.Fatalf("expected nothing to be idle yet, closed %d", closed)
	}
	now = now.Add(2 * time.Minute)
	if closed := env.registry.Sweep(time.Minute); closed != 1 {
		t.Fatalf("expected one idle timeline to close, closed %d", closed)
	}
	if _, ok := env.registry.Lookup(key); ok {
		t.Fatalf("expected swept timeline to be gone")
	}
	if err := opened.Refresh(context.Background()); err == nil {
		t.Fatalf("expected refresh on a closed timeline to fail")
	}
}

func TestRegistryReviewersKeepExistingReviewers(t *testing.T) {
	env := newTestEnvironment(t, 0)
	env.remote.setReviewers(remote.ReviewerRef{User: "u1"})
	ctx := context.Background()

	service, err := env.registry.Reviewers("req-1")
	if err != nil {
		t.Fatalf("unexpected reviewers error: %v", err)
	}
	again, err := env.registry.Reviewers("req-1")
	if err != nil || again != service {
		t.Fatalf("expected one shared reviewer service per request")
	}

	if _, err := service.Add(ctx, reviewers.Reviewer{Kind: reviewers.KindUser, ID: "u2"}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	want := []remote.ReviewerRef{{User: "u1"}, {User: "u2"}}
	if got := env.remote.lastReviewerUpdate(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected update %v, got %v", want, got)
	}

	env.remote.setReviewers(remote.ReviewerRef{User: "u1"}, remote.ReviewerRef{User: "u2"}, remote.ReviewerRef{Group: "ops"})
	selected, err := service.Add(ctx, reviewers.Reviewer{Kind: reviewers.KindUser, ID: "u3"})
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	want = []remote.ReviewerRef{{User: "u1"}, {User: "u2"}, {Group: "ops"}, {User: "u3"}}
	if got := env.remote.lastReviewerUpdate(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected update %v, got %v", want, got)
	}
	if len(selected) != 4 || selected[2].Kind != reviewers.KindGroup || selected[2].Name != "Group ops" {
		t.Fatalf("unexpected selection %+v", selected)
	}
}
