package service

import (
	"errors"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pagedeck/internal/db"
	"gorm.io/gorm"
)

var (
	ErrSlugMissing = errors.New("slug is required for first publish")
	ErrSlugInvalid = errors.New("slug format is invalid")
	ErrSlugTaken   = errors.New("slug is already taken")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// reservedSlugs are path segments the router owns; no page may publish under them.
var reservedSlugs = map[string]struct{}{
	"admin": {}, "api": {}, "auth": {}, "static": {}, "uploads": {},
	"assets": {}, "login": {}, "logout": {}, "register": {}, "settings": {},
	"about": {}, "help": {}, "terms": {}, "privacy": {}, "www": {}, "ping": {},
}

const (
	slugMinLen = 3
	slugMaxLen = 40
)

// CacheInvalidator is the CDN hook fired after a successful publish.
// Failures are logged, never propagated: the snapshot already committed.
type CacheInvalidator interface {
	Invalidate(slug string) error
}

// NoopInvalidator satisfies CacheInvalidator for deployments without a CDN.
type NoopInvalidator struct{}

// Invalidate does nothing.
func (NoopInvalidator) Invalidate(string) error { return nil }

// PublishResult carries the outcome of a successful publish.
type PublishResult struct {
	Slug              string
	PublishedRevision int64
	PublishedAt       time.Time
}

// PublishService 负责把当前草稿固化为公开快照并分配 slug。
type PublishService struct {
	db          *gorm.DB
	owners      *OwnershipService
	invalidator CacheInvalidator
}

// NewPublishService creates a PublishService instance.
func NewPublishService(gdb *gorm.DB, owners *OwnershipService, invalidator CacheInvalidator) *PublishService {
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}
	return &PublishService{db: gdb, owners: owners, invalidator: invalidator}
}

// Publish snapshots whatever draft content is stored at this instant into
// the published fields, as one atomic unit. It does not take a base
// revision: a publish racing a draft save reflects whichever save landed,
// never a torn mix. Re-publishing reuses the stored slug unless the caller
// asks for a different one.
func (s *PublishService) Publish(publicID string, cred OwnerCredential, requestedSlug string) (*PublishResult, error) {
	var page db.Page
	if err := s.db.Where("public_id = ?", publicID).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPageNotFound
		}
		return nil, err
	}

	if err := s.owners.ResolveAccess(&page, cred); err != nil {
		return nil, err
	}

	slug, err := s.resolveSlug(&page, cred, requestedSlug)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := &PublishResult{Slug: slug, PublishedAt: now}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// 在事务内重读，快照取发布瞬间真正存储的草稿
		var current db.Page
		if err := tx.Where("id = ?", page.ID).First(&current).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"slug":               slug,
			"published_content":  current.DraftContent,
			"published_revision": current.ServerRevision,
			"is_published":       true,
			"published_at":       now,
		}

		// UpdateColumns 跳过自动时间戳：发布不改变 updated_at（那是草稿写入时间）
		res := tx.Model(&db.Page{}).Where("id = ?", current.ID).UpdateColumns(updates)
		if res.Error != nil {
			if isUniqueViolation(res.Error) {
				return ErrSlugTaken
			}
			return res.Error
		}

		result.PublishedRevision = current.ServerRevision
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.invalidator.Invalidate(slug); err != nil {
		log.Printf("cache invalidation failed for slug %s: %v", slug, err)
	}

	return result, nil
}

// resolveSlug picks the slug a publish will use. An already-assigned slug
// is reused without re-validation unless the caller requests a change.
func (s *PublishService) resolveSlug(page *db.Page, cred OwnerCredential, requested string) (string, error) {
	requested = strings.ToLower(strings.TrimSpace(requested))

	if page.Slug != nil && (requested == "" || requested == *page.Slug) {
		return *page.Slug, nil
	}

	if requested == "" {
		return "", ErrSlugMissing
	}

	if err := validateSlug(requested); err != nil {
		return "", err
	}

	if err := s.checkSlugAvailable(requested, page.ID, cred); err != nil {
		return "", err
	}

	return requested, nil
}

func validateSlug(slug string) error {
	length := utf8.RuneCountInString(slug)
	if length < slugMinLen || length > slugMaxLen {
		return ErrSlugInvalid
	}
	if !slugPattern.MatchString(slug) {
		return ErrSlugInvalid
	}
	if _, reserved := reservedSlugs[slug]; reserved {
		return ErrSlugInvalid
	}
	return nil
}

// checkSlugAvailable enforces global uniqueness against both the page slug
// index and the username namespace. A username only blocks the slug when it
// belongs to someone other than the caller.
func (s *PublishService) checkSlugAvailable(slug string, pageID uint, cred OwnerCredential) error {
	var pageCount int64
	if err := s.db.Model(&db.Page{}).
		Where("slug = ? AND id <> ?", slug, pageID).
		Count(&pageCount).Error; err != nil {
		return err
	}
	if pageCount > 0 {
		return ErrSlugTaken
	}

	userQuery := s.db.Model(&db.User{}).Where("username = ?", slug)
	if cred.UserID != nil {
		userQuery = userQuery.Where("id <> ?", *cred.UserID)
	}

	var userCount int64
	if err := userQuery.Count(&userCount).Error; err != nil {
		return err
	}
	if userCount > 0 {
		return ErrSlugTaken
	}

	return nil
}

// isUniqueViolation matches the sqlite unique-constraint error for the slug
// index, which backs up the pre-check under concurrent publishes.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
