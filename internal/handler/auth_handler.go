package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/pagedeck/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type authPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register 创建账号并登录。注册成功后立即认领匿名页面。
func (a *API) Register(c *gin.Context) {
	var payload authPayload
	if !bindJSON(c, &payload, "请求格式不正确") {
		return
	}

	username := strings.ToLower(strings.TrimSpace(payload.Username))
	password := strings.TrimSpace(payload.Password)
	if username == "" || len(password) < 8 {
		respondError(c, http.StatusBadRequest, "用户名或密码不符合要求")
		return
	}

	var existing db.User
	err := a.db.Where("username = ?", username).First(&existing).Error
	if err == nil {
		respondError(c, http.StatusConflict, "用户名已被占用")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(c, http.StatusInternalServerError, "注册失败，请稍后重试")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "注册失败，请稍后重试")
		return
	}

	user := db.User{Username: username, Password: string(hashed)}
	if err := a.db.Create(&user).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "注册失败，请稍后重试")
		return
	}

	a.finishLogin(c, &user)
}

// Login 处理用户登录请求。登录成功是匿名页面认领的触发点。
func (a *API) Login(c *gin.Context) {
	var payload authPayload
	if !bindJSON(c, &payload, "请求格式不正确") {
		return
	}

	var user db.User
	if err := a.db.Where("username = ?", strings.ToLower(strings.TrimSpace(payload.Username))).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	a.finishLogin(c, &user)
}

// Logout 处理用户登出
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// finishLogin sets the session and runs the one-time claim of any pages
// still owned by the request's anonymous token. The claim is a side effect
// of authentication, not a public endpoint.
func (a *API) finishLogin(c *gin.Context, user *db.User) {
	session := sessions.Default(c)
	session.Set(sessionUserIDKey, user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	var claimed int64
	if token, err := c.Cookie(ownerCookieName); err == nil {
		claimed, err = a.owners.Claim(token, user.ID)
		if err != nil {
			// 认领失败不阻断登录，下次登录会再次尝试
			claimed = 0
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"username":     user.Username,
		"claimedPages": claimed,
	})
}
