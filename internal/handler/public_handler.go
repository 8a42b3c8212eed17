package handler

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pagedeck/internal/service"
)

var publicPageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="utf-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1"/>
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// ShowPublishedPage serves the published snapshot at its public slug. Only
// the published fields are ever rendered here; drafts stay private.
func (a *API) ShowPublishedPage(c *gin.Context) {
	slug := c.Param("slug")

	page, err := a.pages.GetPublishedBySlug(slug)
	if err != nil {
		if errors.Is(err, service.ErrPageNotFound) {
			c.String(http.StatusNotFound, "页面不存在")
		} else {
			c.String(http.StatusInternalServerError, "加载页面失败")
		}
		return
	}

	if page.PublishedContent == nil {
		c.String(http.StatusNotFound, "页面不存在")
		return
	}

	body, err := service.RenderDocument(*page.PublishedContent)
	if err != nil {
		c.String(http.StatusInternalServerError, "渲染页面失败")
		return
	}

	title := page.Title
	if title == "" {
		title = slug
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := publicPageTemplate.Execute(c.Writer, gin.H{"Title": title, "Body": body}); err != nil {
		c.Error(err)
	}
}
