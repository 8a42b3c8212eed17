package service

import (
	"errors"
	"testing"

	"github.com/pagedeck/internal/db"
	"golang.org/x/crypto/bcrypt"
)

type recordingInvalidator struct {
	slugs []string
}

func (r *recordingInvalidator) Invalidate(slug string) error {
	r.slugs = append(r.slugs, slug)
	return nil
}

func newPublishService(invalidator CacheInvalidator) *PublishService {
	return NewPublishService(db.DB, NewOwnershipService(db.DB), invalidator)
}

func TestPublishSnapshotsCurrentDraft(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	pages := newPageService()
	publisher := newPublishService(nil)

	page, err := pages.Create(tokenCred("t1"), "Alice", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	content := `{"blocks":[{"type":"text","markdown":"hello"}]}`
	if _, err := pages.SaveDraft(page.PublicID, tokenCred("t1"), content, 1); err != nil {
		t.Fatalf("SaveDraft returned error: %v", err)
	}

	result, err := publisher.Publish(page.PublicID, tokenCred("t1"), "alice")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if result.Slug != "alice" {
		t.Fatalf("expected slug alice, got %s", result.Slug)
	}
	if result.PublishedRevision != 2 {
		t.Fatalf("expected published revision 2, got %d", result.PublishedRevision)
	}

	stored, _ := pages.Get(page.PublicID)
	if !stored.IsPublished {
		t.Fatal("expected page to be published")
	}
	if stored.PublishedContent == nil || *stored.PublishedContent != content {
		t.Fatal("published content must equal the stored draft at publish time")
	}
	if stored.PublishedRevision == nil || *stored.PublishedRevision != 2 {
		t.Fatal("published revision must pair with the snapshot")
	}
	if stored.PublishedAt == nil {
		t.Fatal("expected publishedAt to be stamped")
	}
}

func TestPublishSnapshotIgnoresLaterDraftEdits(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	pages := newPageService()
	publisher := newPublishService(nil)

	page, err := pages.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	published := `{"blocks":[{"type":"text","markdown":"published"}]}`
	if _, err := pages.SaveDraft(page.PublicID, tokenCred("t1"), published, 1); err != nil {
		t.Fatalf("SaveDraft returned error: %v", err)
	}

	if _, err := publisher.Publish(page.PublicID, tokenCred("t1"), "snapshot-test"); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	// a draft edit after publish must not leak into the snapshot
	later := `{"blocks":[{"type":"text","markdown":"later"}]}`
	if _, err := pages.SaveDraft(page.PublicID, tokenCred("t1"), later, 2); err != nil {
		t.Fatalf("SaveDraft returned error: %v", err)
	}

	stored, _ := pages.Get(page.PublicID)
	if *stored.PublishedContent != published {
		t.Fatalf("snapshot changed after later draft edit: %s", *stored.PublishedContent)
	}
	if *stored.PublishedRevision != 2 {
		t.Fatalf("published revision changed, got %d", *stored.PublishedRevision)
	}
	if stored.DraftContent != later {
		t.Fatal("draft must keep moving independently of the snapshot")
	}
}

func TestRepublishReusesSlugAndAdvancesSnapshot(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	pages := newPageService()
	publisher := newPublishService(nil)

	page, err := pages.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := publisher.Publish(page.PublicID, tokenCred("t1"), "republish"); err != nil {
		t.Fatalf("first Publish returned error: %v", err)
	}

	next := `{"blocks":[{"type":"text","markdown":"v2"}]}`
	if _, err := pages.SaveDraft(page.PublicID, tokenCred("t1"), next, 1); err != nil {
		t.Fatalf("SaveDraft returned error: %v", err)
	}

	// no slug requested: reuse without re-validation
	result, err := publisher.Publish(page.PublicID, tokenCred("t1"), "")
	if err != nil {
		t.Fatalf("re-publish returned error: %v", err)
	}
	if result.Slug != "republish" {
		t.Fatalf("expected slug reuse, got %s", result.Slug)
	}
	if result.PublishedRevision != 2 {
		t.Fatalf("expected fresh snapshot at revision 2, got %d", result.PublishedRevision)
	}
}

func TestPublishSlugTakenByAnotherPage(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	pages := newPageService()
	publisher := newPublishService(nil)

	first, err := pages.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := publisher.Publish(first.PublicID, tokenCred("t1"), "alice"); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	second, err := pages.Create(tokenCred("t2"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := publisher.Publish(second.PublicID, tokenCred("t2"), "alice"); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}

	stored, _ := pages.Get(second.PublicID)
	if stored.IsPublished {
		t.Fatal("failed publish must be all-or-nothing")
	}
	if stored.PublishedContent != nil || stored.PublishedRevision != nil {
		t.Fatal("failed publish must not partially update snapshot fields")
	}
}

func TestPublishSlugBlockedByForeignUsername(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	hashed, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	user := db.User{Username: "bob", Password: string(hashed)}
	if err := db.DB.Create(&user).Error; err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}

	pages := newPageService()
	publisher := newPublishService(nil)

	page, err := pages.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := publisher.Publish(page.PublicID, tokenCred("t1"), "bob"); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("foreign username must block the slug, got %v", err)
	}

	// the account owner may publish under their own username
	own, err := pages.Create(userCred(user.ID), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := publisher.Publish(own.PublicID, userCred(user.ID), "bob"); err != nil {
		t.Fatalf("own username must be allowed, got %v", err)
	}
}

func TestPublishRequiresOwnership(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	pages := newPageService()
	publisher := newPublishService(nil)

	page, err := pages.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := publisher.Publish(page.PublicID, tokenCred("intruder"), "stolen"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestPublishFiresCacheInvalidation(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	pages := newPageService()
	recorder := &recordingInvalidator{}
	publisher := newPublishService(recorder)

	page, err := pages.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if _, err := publisher.Publish(page.PublicID, tokenCred("t1"), "cache-test"); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(recorder.slugs) != 1 || recorder.slugs[0] != "cache-test" {
		t.Fatalf("expected one invalidation for cache-test, got %v", recorder.slugs)
	}
}

func TestValidateSlug(t *testing.T) {
	tests := []struct {
		slug string
		ok   bool
	}{
		{"alice", true},
		{"a-b_c9", true},
		{"ab", false},           // too short
		{"Alice", false},        // uppercase
		{"-leading", false},     // must start alphanumeric
		{"has space", false},    //
		{"admin", false},        // reserved
		{"api", false},          // reserved
		{"日本語", false},          // non-ascii
		{string(make([]byte, slugMaxLen+1)), false},
	}

	for _, tt := range tests {
		err := validateSlug(tt.slug)
		if tt.ok && err != nil {
			t.Fatalf("expected %q to be valid, got %v", tt.slug, err)
		}
		if !tt.ok && err == nil {
			t.Fatalf("expected %q to be rejected", tt.slug)
		}
	}
}
