package service

import (
	"errors"
	"strings"

	"github.com/pagedeck/internal/db"
	"gorm.io/gorm"
)

var ErrNotAuthorized = errors.New("credential does not match page owner")

// OwnerCredential carries whatever identity the caller presented:
// an authenticated account id, an anonymous owner token, or both.
type OwnerCredential struct {
	UserID     *uint
	OwnerToken string
}

// Empty reports whether the caller presented no identity at all.
func (c OwnerCredential) Empty() bool {
	return c.UserID == nil && strings.TrimSpace(c.OwnerToken) == ""
}

// OwnershipService 负责页面归属判定与匿名页面的认领。
type OwnershipService struct {
	db *gorm.DB
}

// NewOwnershipService returns a new OwnershipService instance.
func NewOwnershipService(gdb *gorm.DB) *OwnershipService {
	return &OwnershipService{db: gdb}
}

// ResolveAccess decides whether the credential may write the page.
// Once a page is claimed only the exact account matches; the original
// owner token is permanently inert from that point on.
func (s *OwnershipService) ResolveAccess(page *db.Page, cred OwnerCredential) error {
	if page == nil {
		return ErrNotAuthorized
	}

	if page.UserID != nil {
		if cred.UserID != nil && *cred.UserID == *page.UserID {
			return nil
		}
		return ErrNotAuthorized
	}

	token := strings.TrimSpace(cred.OwnerToken)
	if token != "" && token == page.OwnerToken {
		return nil
	}

	return ErrNotAuthorized
}

// Claim binds every still-unclaimed page owned by ownerToken to userID and
// returns how many pages changed hands. The predicate makes the call
// idempotent: already-claimed pages no longer match.
func (s *OwnershipService) Claim(ownerToken string, userID uint) (int64, error) {
	token := strings.TrimSpace(ownerToken)
	if token == "" || userID == 0 {
		return 0, nil
	}

	// UpdateColumn 跳过自动时间戳：认领只改归属记录，不算一次草稿写入
	res := s.db.Model(&db.Page{}).
		Where("owner_token = ? AND user_id IS NULL", token).
		UpdateColumn("user_id", userID)
	if res.Error != nil {
		return 0, res.Error
	}

	return res.RowsAffected, nil
}
