package handler

import (
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pagedeck/internal/service"
)

const (
	ownerCookieName   = "pd_owner_token"
	ownerCookieMaxAge = 365 * 24 * 60 * 60

	sessionUserIDKey = "user_id"
)

// credential assembles whatever identity the request carries: the
// authenticated user id from the session and/or the anonymous owner token
// cookie. Authorization decisions belong to the OwnershipService.
func credential(c *gin.Context) service.OwnerCredential {
	cred := service.OwnerCredential{}

	session := sessions.Default(c)
	if raw := session.Get(sessionUserIDKey); raw != nil {
		if id, ok := raw.(uint); ok && id > 0 {
			cred.UserID = &id
		}
	}

	if token, err := c.Cookie(ownerCookieName); err == nil {
		cred.OwnerToken = strings.TrimSpace(token)
	}

	return cred
}

// ensureOwnerToken returns the request's owner token, minting and setting
// a fresh one when the anonymous caller has none yet.
func ensureOwnerToken(c *gin.Context) string {
	if token, err := c.Cookie(ownerCookieName); err == nil {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			return trimmed
		}
	}

	token := uuid.New().String()
	c.SetCookie(ownerCookieName, token, ownerCookieMaxAge, "/", "", false, true)
	return token
}

// counterKey namespaces usage counters per owner identity.
func counterKey(action string, cred service.OwnerCredential) string {
	if cred.UserID != nil {
		return action + ":user:" + strconv.FormatUint(uint64(*cred.UserID), 10)
	}
	return action + ":token:" + cred.OwnerToken
}
