package auth

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// sessionView は GET /api/auth/session とログイン成功時のレスポンスです。
type sessionView struct {
	Authenticated bool       `json:"authenticated"`
	User          *Identity  `json:"user,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Login は /auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	if m.cfg.SessionSecret == "" {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SERVER_MISCONFIGURATION",
			"message": "SESSION_SECRET が設定されていません",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.checkLock(ip); retryAfter > 0 {
		// Retry-After は秒数またはHTTP-Date形式が推奨されているため秒数で返す
		c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	identity, err := m.provider.SignIn(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, ErrNotConfigured):
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SERVER_MISCONFIGURATION",
			"message": "APP_USERNAME と APP_PASSWORD_HASH を設定してください",
		})
		return
	case errors.Is(err, ErrInvalidCredentials):
		remaining := m.recordFailure(ip)
		m.logger.Warn().Str("client_ip", ip).Int("remaining", remaining).Msg("login failed")
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	case err != nil:
		m.logger.Error().Err(err).Msg("sign in failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ログイン処理に失敗しました",
		})
		return
	}

	m.resetAttempts(ip)

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	// 以前の作業領域は引き継がない
	if prev, ok := session.Get(sessionKeyWorkspace).(string); ok {
		m.notifyLogout(prev)
	}
	now := m.now()
	session.Clear()
	session.Set(sessionKeyUser, identity.Username)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	session.Set(sessionKeyWorkspace, uuid.NewString())

	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	m.logger.Info().Str("user", identity.Username).Msg("login succeeded")
	expiresAt := now.Add(maxSessionLifetime)
	c.Header(csrfHeader, token)
	c.JSON(http.StatusOK, sessionView{Authenticated: true, User: &identity, ExpiresAt: &expiresAt})
}

// Logout は /auth/logout のハンドラーです。編集中の作業領域も破棄します。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	workspace, _ := session.Get(sessionKeyWorkspace).(string)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	m.notifyLogout(workspace)
	c.Status(http.StatusNoContent)
}

// GetSession は /auth/session のハンドラーです。ログインしていなくても 200 を返します。
func (m *Manager) GetSession(c *gin.Context) {
	session := sessions.Default(c)
	user, ok := session.Get(sessionKeyUser).(string)
	if !ok || user == "" {
		c.JSON(http.StatusOK, sessionView{Authenticated: false})
		return
	}
	issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
	if m.expired(issuedAt, readUnix(session.Get(sessionKeyLastActive))) != "" {
		c.JSON(http.StatusOK, sessionView{Authenticated: false})
		return
	}

	// 再読み込みしたフロントエンドがトークンを取り直せるようにする
	if token, ok := session.Get(sessionKeyCSRF).(string); ok {
		c.Header(csrfHeader, token)
	}
	expiresAt := issuedAt.Add(maxSessionLifetime)
	c.JSON(http.StatusOK, sessionView{
		Authenticated: true,
		User:          &Identity{Username: user},
		ExpiresAt:     &expiresAt,
	})
}
