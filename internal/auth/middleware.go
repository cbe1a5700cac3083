package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		user, ok := session.Get(sessionKeyUser).(string)
		if !ok || user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		now := m.now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		if code := m.expired(issuedAt, lastActive); code != "" {
			workspace, _ := session.Get(sessionKeyWorkspace).(string)
			session.Clear()
			_ = session.Save()
			m.notifyLogout(workspace)

			message := "セッションの有効期限が切れました"
			if code == "SESSION_IDLE_TIMEOUT" {
				message = "しばらく操作がなかったため再ログインしてください"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    code,
				"message": message,
			})
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()
		c.Set(ContextUserKey, user)
		if workspace, ok := session.Get(sessionKeyWorkspace).(string); ok {
			c.Set(ContextWorkspaceKey, workspace)
		}
		c.Next()
	}
}

// expired は期限切れの種別コードを返します。有効なら空文字です。
func (m *Manager) expired(issuedAt, lastActive time.Time) string {
	now := m.now()
	if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
		return "SESSION_EXPIRED"
	}
	if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
		return "SESSION_IDLE_TIMEOUT"
	}
	return ""
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// ErrNoWorkspace は RequireLogin を通っていないリクエストで作業キーを求めた場合のエラーです。
var ErrNoWorkspace = errors.New("auth: no workspace in session")

// WorkspaceKey はログイン済みセッションに紐づく作業キーを返します。converter.KeyFunc として使えます。
func WorkspaceKey(c *gin.Context) (string, error) {
	key := c.GetString(ContextWorkspaceKey)
	if key == "" {
		return "", ErrNoWorkspace
	}
	return key, nil
}
