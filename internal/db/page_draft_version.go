package db

import "gorm.io/gorm"

// PageDraftVersion 记录页面草稿的历史版本快照。
type PageDraftVersion struct {
	gorm.Model
	PageID      uint `gorm:"index"`
	Page        Page
	Content     string `gorm:"type:text"`
	Revision    int64
	ContentHash string
}

// TableName 指定自定义表名。
func (PageDraftVersion) TableName() string {
	return "page_draft_versions"
}
