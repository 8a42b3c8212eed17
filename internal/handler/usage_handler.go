package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GetUsage reports the caller's in-process usage counters.
func (a *API) GetUsage(c *gin.Context) {
	cred := credential(c)
	if cred.Empty() {
		respondError(c, http.StatusForbidden, "请先创建页面或登录")
		return
	}

	day := time.Now().Format("2006-01-02")
	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"draftSaves":     a.counters.Get(counterKey("save", cred)),
		"publishesToday": a.counters.Get(counterKey("publish:"+day, cred)),
		"publishCap":     publishDailyCap,
	})
}
