package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/pagedeck/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) func() {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := gdb.AutoMigrate(&db.User{}, &db.Page{}, &db.PageDraftVersion{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	db.DB = gdb

	return func() {
		db.DB.Unscoped().Where("1 = 1").Delete(&db.PageDraftVersion{})
		db.DB.Unscoped().Where("1 = 1").Delete(&db.Page{})
		db.DB.Unscoped().Where("1 = 1").Delete(&db.User{})
		sqlDB, err := db.DB.DB()
		if err == nil {
			sqlDB.Close()
		}
	}
}

func newPageService() *PageService {
	return NewPageService(db.DB, NewOwnershipService(db.DB))
}

func tokenCred(token string) OwnerCredential {
	return OwnerCredential{OwnerToken: token}
}

func userCred(id uint) OwnerCredential {
	return OwnerCredential{UserID: &id}
}

func TestCreateStartsAtRevisionOne(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	page, err := svc.Create(tokenCred("t1"), "My Page", `{"blocks":[]}`)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if page.ServerRevision != 1 {
		t.Fatalf("expected revision 1, got %d", page.ServerRevision)
	}
	if page.PublicID == "" {
		t.Fatal("expected a public id to be assigned")
	}
	if page.IsPublished {
		t.Fatal("new page must not be published")
	}
}

func TestCreateRequiresCredential(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	if _, err := svc.Create(OwnerCredential{}, "", ""); !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
}

func TestSaveDraftIncrementsRevisionByOne(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	page, err := svc.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	for i := int64(1); i <= 5; i++ {
		result, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), `{"blocks":[{"type":"text","markdown":"v"}]}`, i)
		if err != nil {
			t.Fatalf("SaveDraft returned error at base %d: %v", i, err)
		}
		if !result.Accepted {
			t.Fatalf("expected save at base %d to be accepted", i)
		}
		if result.ServerRevision != i+1 {
			t.Fatalf("expected revision %d, got %d", i+1, result.ServerRevision)
		}
	}

	stored, err := svc.Get(page.PublicID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if stored.ServerRevision != 6 {
		t.Fatalf("expected stored revision 6, got %d", stored.ServerRevision)
	}
}

func TestSaveDraftStaleBaseReturnsConflict(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	page, err := svc.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	first, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), `{"blocks":[{"type":"text","markdown":"first"}]}`, 1)
	if err != nil || !first.Accepted {
		t.Fatalf("expected first save to land, got %+v err %v", first, err)
	}

	// same base revision again: the concurrent-tab case
	second, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), `{"blocks":[{"type":"text","markdown":"second"}]}`, 1)
	if err != nil {
		t.Fatalf("conflict must be a result, not an error, got %v", err)
	}
	if second.Accepted {
		t.Fatal("expected stale save to be rejected")
	}
	if second.ServerRevision != 2 {
		t.Fatalf("expected authoritative revision 2, got %d", second.ServerRevision)
	}

	stored, _ := svc.Get(page.PublicID)
	if !strings.Contains(stored.DraftContent, "first") {
		t.Fatalf("stale save must not mutate content, got %s", stored.DraftContent)
	}
	if stored.ServerRevision != 2 {
		t.Fatalf("stale save must not move revision, got %d", stored.ServerRevision)
	}
}

func TestSaveDraftValidationConsumesNoRevision(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	page, err := svc.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), "", 1); !errors.Is(err, ErrContentMissing) {
		t.Fatalf("expected ErrContentMissing, got %v", err)
	}

	oversized := "{" + strings.Repeat("a", maxDraftContentBytes) + "}"
	if _, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), oversized, 1); !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("expected ErrContentTooLarge, got %v", err)
	}

	if _, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), `{"blocks":`, 1); !errors.Is(err, ErrContentMalformed) {
		t.Fatalf("expected ErrContentMalformed, got %v", err)
	}

	stored, _ := svc.Get(page.PublicID)
	if stored.ServerRevision != 1 {
		t.Fatalf("validation failures must not consume revisions, got %d", stored.ServerRevision)
	}
}

func TestSaveDraftRejectsWrongToken(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	page, err := svc.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if _, err := svc.SaveDraft(page.PublicID, tokenCred("t2"), `{"blocks":[]}`, 1); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSaveDraftWrapsLegacyPlainText(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	page, err := svc.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	result, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), "# 旧版编辑器的纯文本", 1)
	if err != nil || !result.Accepted {
		t.Fatalf("legacy save failed: %+v err %v", result, err)
	}

	stored, _ := svc.Get(page.PublicID)
	if !strings.HasPrefix(stored.DraftContent, `{"blocks":`) {
		t.Fatalf("expected legacy text wrapped into block document, got %s", stored.DraftContent)
	}
}

func TestDraftHistoryDeduplicatesAndPrunes(t *testing.T) {
	cleanup := setupServiceTestDB(t)
	defer cleanup()

	svc := newPageService()
	page, err := svc.Create(tokenCred("t1"), "", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	content := `{"blocks":[{"type":"text","markdown":"same"}]}`
	for i := int64(1); i <= 3; i++ {
		if _, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), content, i); err != nil {
			t.Fatalf("SaveDraft returned error: %v", err)
		}
	}

	versions, err := svc.DraftVersions(page.ID)
	if err != nil {
		t.Fatalf("DraftVersions returned error: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("identical saves should share one history row, got %d", len(versions))
	}

	base := int64(4)
	for i := 0; i < draftHistoryKeep+5; i++ {
		unique := strings.Replace(content, "same", strings.Repeat("x", i+1), 1)
		if _, err := svc.SaveDraft(page.PublicID, tokenCred("t1"), unique, base); err != nil {
			t.Fatalf("SaveDraft returned error: %v", err)
		}
		base++
	}

	versions, err = svc.DraftVersions(page.ID)
	if err != nil {
		t.Fatalf("DraftVersions returned error: %v", err)
	}
	if len(versions) > draftHistoryKeep {
		t.Fatalf("expected at most %d history rows, got %d", draftHistoryKeep, len(versions))
	}
	if versions[0].Revision != base {
		t.Fatalf("expected newest history revision %d, got %d", base, versions[0].Revision)
	}
}
