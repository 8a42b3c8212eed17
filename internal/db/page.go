package db

import (
	"time"

	"gorm.io/gorm"
)

// Page 定义了个人页面模型：一份可编辑草稿加上最近一次发布的快照。
// DraftContent 对本层是不透明的 JSON 块文档，结构由编辑器负责。
type Page struct {
	gorm.Model
	PublicID          string `gorm:"uniqueIndex;not null"`
	OwnerToken        string `gorm:"index"`
	UserID            *uint  `gorm:"index"`
	User              *User
	Title             string
	Slug              *string `gorm:"uniqueIndex"`
	DraftContent      string  `gorm:"type:text"`
	PublishedContent  *string `gorm:"type:text"`
	ServerRevision    int64   `gorm:"not null;default:1"`
	PublishedRevision *int64
	IsPublished       bool
	PublishedAt       *time.Time
}

// Claimed reports whether the page has been bound to an account.
func (p *Page) Claimed() bool {
	return p.UserID != nil
}

// SlugValue returns the assigned slug or the empty string.
func (p *Page) SlugValue() string {
	if p.Slug == nil {
		return ""
	}
	return *p.Slug
}
