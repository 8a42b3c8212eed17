package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pagedeck/internal/db"
	"gorm.io/gorm"
)

var (
	ErrPageNotFound      = errors.New("page not found")
	ErrContentMissing    = errors.New("draft content is required")
	ErrContentTooLarge   = errors.New("draft content exceeds size limit")
	ErrContentMalformed  = errors.New("draft content is not a valid document")
	ErrCredentialMissing = errors.New("caller presented no credential")
)

const (
	// maxDraftContentBytes caps a single draft payload. Validation runs
	// before the revision check so an oversized save never consumes a
	// revision increment.
	maxDraftContentBytes = 256 << 10

	// draftHistoryKeep is how many history snapshots PruneDraftVersions retains.
	draftHistoryKeep = 20
)

// PageService wraps page draft persistence and the revision CAS discipline.
type PageService struct {
	db     *gorm.DB
	owners *OwnershipService
}

// SaveResult reports the outcome of a draft write. A rejected write is a
// normal result, not an error: Accepted is false and ServerRevision holds
// the authoritative revision the caller must rebase onto.
type SaveResult struct {
	Accepted       bool
	ServerRevision int64
	UpdatedAt      time.Time
}

// NewPageService creates a PageService instance.
func NewPageService(gdb *gorm.DB, owners *OwnershipService) *PageService {
	return &PageService{db: gdb, owners: owners}
}

// Create persists a new page owned by the presented credential, with
// ServerRevision starting at 1. Exactly one of the credential's identities
// is recorded; an authenticated user wins over a token when both are set.
func (s *PageService) Create(cred OwnerCredential, title, content string) (*db.Page, error) {
	if cred.Empty() {
		return nil, ErrCredentialMissing
	}

	normalized, err := normalizeDraftContent(content)
	if err != nil {
		if !errors.Is(err, ErrContentMissing) {
			return nil, err
		}
		normalized = emptyDocument()
	}

	page := db.Page{
		PublicID:       uuid.New().String(),
		Title:          strings.TrimSpace(title),
		DraftContent:   normalized,
		ServerRevision: 1,
	}
	if cred.UserID != nil {
		page.UserID = cred.UserID
	} else {
		page.OwnerToken = strings.TrimSpace(cred.OwnerToken)
	}

	if err := s.db.Create(&page).Error; err != nil {
		return nil, err
	}

	return &page, nil
}

// Get fetches a page by its public id.
func (s *PageService) Get(publicID string) (*db.Page, error) {
	var page db.Page
	if err := s.db.Where("public_id = ?", publicID).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// GetPublishedBySlug fetches a published page by its public slug.
func (s *PageService) GetPublishedBySlug(slug string) (*db.Page, error) {
	var page db.Page
	if err := s.db.Where("slug = ? AND is_published = ?", slug, true).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}
	return &page, nil
}

// ListByCredential returns the caller's pages, newest first.
func (s *PageService) ListByCredential(cred OwnerCredential) ([]db.Page, error) {
	if cred.Empty() {
		return nil, nil
	}

	query := s.db.Order("updated_at desc")
	if cred.UserID != nil {
		query = query.Where("user_id = ?", *cred.UserID)
	} else {
		query = query.Where("user_id IS NULL AND owner_token = ?", strings.TrimSpace(cred.OwnerToken))
	}

	var pages []db.Page
	if err := query.Find(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

// SaveDraft performs the compare-and-swap draft write. The stored revision
// must equal baseRevision for the write to land; the swap is a single
// UPDATE so concurrent writers never observe a read-modify-write window.
// A stale baseRevision mutates nothing and reports the current revision.
func (s *PageService) SaveDraft(publicID string, cred OwnerCredential, content string, baseRevision int64) (*SaveResult, error) {
	normalized, err := normalizeDraftContent(content)
	if err != nil {
		return nil, err
	}

	page, err := s.Get(publicID)
	if err != nil {
		return nil, err
	}

	if err := s.owners.ResolveAccess(page, cred); err != nil {
		return nil, err
	}

	now := time.Now()
	result := &SaveResult{}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Page{}).
			Where("id = ? AND server_revision = ?", page.ID, baseRevision).
			UpdateColumns(map[string]interface{}{
				"draft_content":   normalized,
				"server_revision": gorm.Expr("server_revision + 1"),
				"updated_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			// 输掉了竞争，带回权威修订号供客户端变基
			var current db.Page
			if err := tx.Select("server_revision", "updated_at").
				Where("id = ?", page.ID).
				First(&current).Error; err != nil {
				return err
			}
			result.Accepted = false
			result.ServerRevision = current.ServerRevision
			result.UpdatedAt = current.UpdatedAt
			return nil
		}

		result.Accepted = true
		result.ServerRevision = baseRevision + 1
		result.UpdatedAt = now

		return s.appendDraftVersion(tx, page.ID, normalized, result.ServerRevision)
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// DraftVersions returns the retained history snapshots, newest first.
func (s *PageService) DraftVersions(pageID uint) ([]db.PageDraftVersion, error) {
	var versions []db.PageDraftVersion
	if err := s.db.Where("page_id = ?", pageID).
		Order("revision desc").
		Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// appendDraftVersion records a history snapshot for an accepted save and
// prunes history beyond draftHistoryKeep. Consecutive saves with identical
// content share a hash and skip the extra row.
func (s *PageService) appendDraftVersion(tx *gorm.DB, pageID uint, content string, revision int64) error {
	hash := hashContent(content)

	var latest db.PageDraftVersion
	err := tx.Where("page_id = ?", pageID).
		Order("revision desc").
		First(&latest).Error
	if err == nil && latest.ContentHash == hash {
		return nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	version := db.PageDraftVersion{
		PageID:      pageID,
		Content:     content,
		Revision:    revision,
		ContentHash: hash,
	}
	if err := tx.Create(&version).Error; err != nil {
		return err
	}

	return pruneDraftVersions(tx, pageID, draftHistoryKeep)
}

func pruneDraftVersions(tx *gorm.DB, pageID uint, keep int) error {
	var keepIDs []uint
	if err := tx.Model(&db.PageDraftVersion{}).
		Where("page_id = ?", pageID).
		Order("revision desc").
		Limit(keep).
		Pluck("id", &keepIDs).Error; err != nil {
		return err
	}

	if len(keepIDs) < keep {
		return nil
	}

	return tx.Unscoped().
		Where("page_id = ? AND id NOT IN ?", pageID, keepIDs).
		Delete(&db.PageDraftVersion{}).Error
}

// normalizeDraftContent validates an incoming draft payload and converts
// legacy bare-text payloads into the canonical block document. This is the
// single versioned-conversion point; there is no parallel legacy save path.
func normalizeDraftContent(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrContentMissing
	}
	if len(trimmed) > maxDraftContentBytes {
		return "", ErrContentTooLarge
	}

	if strings.HasPrefix(trimmed, "{") {
		if !json.Valid([]byte(trimmed)) {
			return "", ErrContentMalformed
		}
		return trimmed, nil
	}

	// 旧版编辑器直接提交纯文本，这里包装成单块文档
	legacy := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{"type": "text", "markdown": trimmed},
		},
	}
	wrapped, err := json.Marshal(legacy)
	if err != nil {
		return "", ErrContentMalformed
	}
	return string(wrapped), nil
}

func emptyDocument() string {
	return `{"blocks":[]}`
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
