package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pagedeck/internal/db"
	"github.com/pagedeck/internal/service"
)

// publishDailyCap is a soft per-owner limit on publishes per day.
const publishDailyCap = 50

type createPagePayload struct {
	Title        string `json:"title"`
	DraftContent string `json:"draftContent"`
}

type saveDraftPayload struct {
	DraftContent       string `json:"draftContent"`
	LocalRevision      int64  `json:"localRevision"`
	BaseServerRevision int64  `json:"baseServerRevision"`
}

type publishPayload struct {
	Slug string `json:"slug"`
}

// CreatePage creates a draft page for the caller. Anonymous callers get an
// owner token cookie minted on the spot.
func (a *API) CreatePage(c *gin.Context) {
	var payload createPagePayload
	if !bindJSON(c, &payload, "请求格式不正确") {
		return
	}

	cred := credential(c)
	if cred.UserID == nil {
		cred.OwnerToken = ensureOwnerToken(c)
	}

	page, err := a.pages.Create(cred, payload.Title, payload.DraftContent)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrContentTooLarge):
			respondError(c, http.StatusRequestEntityTooLarge, "草稿内容超出大小限制")
		case errors.Is(err, service.ErrContentMalformed):
			respondError(c, http.StatusBadRequest, "草稿内容格式不正确")
		default:
			respondError(c, http.StatusInternalServerError, "创建页面失败，请稍后重试")
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"page":    pageView(page),
	})
}

// GetPage returns the caller's own page including draft fields.
func (a *API) GetPage(c *gin.Context) {
	page, ok := a.ownedPage(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "page": pageView(page)})
}

// ListPages returns the caller's pages, newest first.
func (a *API) ListPages(c *gin.Context) {
	cred := credential(c)
	pages, err := a.pages.ListByCredential(cred)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "加载页面列表失败")
		return
	}

	views := make([]gin.H, 0, len(pages))
	for i := range pages {
		views = append(views, pageView(&pages[i]))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pages": views})
}

// SaveDraft handles the optimistic draft write. A stale base revision is a
// 409 carrying the authoritative revision, not an error blob: the client
// rebases and resends.
func (a *API) SaveDraft(c *gin.Context) {
	var payload saveDraftPayload
	if !bindJSON(c, &payload, "请求格式不正确") {
		return
	}

	cred := credential(c)
	result, err := a.pages.SaveDraft(c.Param("id"), cred, payload.DraftContent, payload.BaseServerRevision)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPageNotFound):
			respondError(c, http.StatusNotFound, "页面不存在")
		case errors.Is(err, service.ErrNotAuthorized):
			respondError(c, http.StatusForbidden, "没有权限编辑该页面")
		case errors.Is(err, service.ErrContentMissing), errors.Is(err, service.ErrContentMalformed):
			respondError(c, http.StatusBadRequest, "草稿内容格式不正确")
		case errors.Is(err, service.ErrContentTooLarge):
			respondError(c, http.StatusRequestEntityTooLarge, "草稿内容超出大小限制")
		default:
			respondError(c, http.StatusInternalServerError, "保存失败，请稍后重试")
		}
		return
	}

	if !result.Accepted {
		c.JSON(http.StatusConflict, gin.H{
			"success":               false,
			"conflict":              true,
			"currentServerRevision": result.ServerRevision,
		})
		return
	}

	a.counters.Incr(counterKey("save", cred))

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"serverRevision": result.ServerRevision,
		"updatedAt":      result.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// Publish snapshots the stored draft to the public slug.
func (a *API) Publish(c *gin.Context) {
	var payload publishPayload
	if !bindJSON(c, &payload, "请求格式不正确") {
		return
	}

	cred := credential(c)

	capKey := counterKey("publish:"+time.Now().Format("2006-01-02"), cred)
	if a.counters.Get(capKey) >= publishDailyCap {
		respondCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "今日发布次数已达上限")
		return
	}

	result, err := a.publisher.Publish(c.Param("id"), cred, payload.Slug)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPageNotFound):
			respondCode(c, http.StatusNotFound, "NOT_FOUND", "页面不存在")
		case errors.Is(err, service.ErrNotAuthorized):
			respondCode(c, http.StatusForbidden, "NOT_AUTHORIZED", "没有权限发布该页面")
		case errors.Is(err, service.ErrSlugMissing), errors.Is(err, service.ErrSlugInvalid):
			respondCode(c, http.StatusBadRequest, "SLUG_INVALID", "链接名不可用，请换一个")
		case errors.Is(err, service.ErrSlugTaken):
			respondCode(c, http.StatusConflict, "SLUG_TAKEN", "链接名已被占用")
		default:
			respondCode(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "发布失败，请稍后重试")
		}
		return
	}

	a.counters.Incr(capKey)

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"slug":              result.Slug,
		"publishedRevision": result.PublishedRevision,
		"publishedAt":       result.PublishedAt.UTC().Format(time.RFC3339),
	})
}

// ownedPage loads the page from the :id param and checks the caller owns it.
func (a *API) ownedPage(c *gin.Context) (*db.Page, bool) {
	page, err := a.pages.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrPageNotFound) {
			respondError(c, http.StatusNotFound, "页面不存在")
		} else {
			respondError(c, http.StatusInternalServerError, "加载页面失败")
		}
		return nil, false
	}

	if err := a.owners.ResolveAccess(page, credential(c)); err != nil {
		respondError(c, http.StatusForbidden, "没有权限访问该页面")
		return nil, false
	}

	return page, true
}

func pageView(page *db.Page) gin.H {
	view := gin.H{
		"id":             page.PublicID,
		"title":          page.Title,
		"draftContent":   page.DraftContent,
		"serverRevision": page.ServerRevision,
		"isPublished":    page.IsPublished,
		"updatedAt":      page.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if page.Slug != nil {
		view["slug"] = *page.Slug
	}
	if page.PublishedRevision != nil {
		view["publishedRevision"] = *page.PublishedRevision
	}
	if page.PublishedAt != nil {
		view["publishedAt"] = page.PublishedAt.UTC().Format(time.RFC3339)
	}
	return view
}
