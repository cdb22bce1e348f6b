// Package auth provides dashboard sessions, password validation and
// brute-force protection.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	SessionCookieName = "pa_session"
	SessionDuration   = 15 * time.Minute
	MaxLoginAttempts  = 5
	LockoutDuration   = 5 * time.Minute
	CleanupInterval   = 5 * time.Minute
)

type failInfo struct {
	count       int
	lockedUntil time.Time
}

// Manager handles session lifecycle, password validation, and login throttling.
type Manager struct {
	passwordHashB64 string
	logger          *zap.Logger
	now             func() time.Time

	sessions     map[string]time.Time
	failedLogins map[string]failInfo
	mu           sync.RWMutex
}

// NewManager creates an auth manager with a cleanup goroutine bound to ctx.
// passwordHashB64 is a base64-encoded bcrypt hash; empty disables auth.
func NewManager(ctx context.Context, passwordHashB64 string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		passwordHashB64: passwordHashB64,
		logger:          logger,
		now:             time.Now,
		sessions:        make(map[string]time.Time),
		failedLogins:    make(map[string]failInfo),
	}
	go m.cleanupLoop(ctx)
	logger.Info("auth manager initialized", zap.Bool("enabled", m.Enabled()))
	return m
}

// Enabled returns true if a password hash is configured.
func (m *Manager) Enabled() bool {
	return m.passwordHashB64 != ""
}

// ValidatePassword decodes the base64 hash and compares with bcrypt.
func (m *Manager) ValidatePassword(password string) bool {
	if !m.Enabled() {
		m.logger.Warn("auth disabled: no password hash configured")
		return true
	}
	hashBytes, err := base64.StdEncoding.DecodeString(m.passwordHashB64)
	if err != nil {
		m.logger.Error("failed to decode password hash", zap.Error(err))
		return false
	}
	return bcrypt.CompareHashAndPassword(hashBytes, []byte(password)) == nil
}

// CreateSession generates a cryptographically random session token.
func (m *Manager) CreateSession() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		m.logger.Error("crypto/rand failed", zap.Error(err))
		return hex.EncodeToString([]byte(m.now().String()))
	}
	token := hex.EncodeToString(b)
	m.mu.Lock()
	m.sessions[token] = m.now().Add(SessionDuration)
	m.mu.Unlock()
	return token
}

// ValidateSession checks if a token exists and has not expired.
func (m *Manager) ValidateSession(token string) bool {
	if token == "" {
		return false
	}
	m.mu.RLock()
	expiry, exists := m.sessions[token]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	if m.now().After(expiry) {
		m.mu.Lock()
		delete(m.sessions, token)
		m.mu.Unlock()
		return false
	}
	return true
}

// EndSession forgets a token.
func (m *Manager) EndSession(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// IsLockedOut returns true if the IP has exceeded MaxLoginAttempts.
func (m *Manager) IsLockedOut(ip string) bool {
	m.mu.RLock()
	info, exists := m.failedLogins[ip]
	m.mu.RUnlock()
	if !exists {
		return false
	}
	return info.count >= MaxLoginAttempts && m.now().Before(info.lockedUntil)
}

// RecordFailedLogin increments the failure counter for an IP.
func (m *Manager) RecordFailedLogin(ip string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := m.failedLogins[ip]
	info.count++
	if info.count >= MaxLoginAttempts {
		info.lockedUntil = m.now().Add(LockoutDuration)
		m.logger.Warn("login locked out",
			zap.String("ip", ip),
			zap.Duration("for", LockoutDuration),
			zap.Int("attempts", info.count))
	}
	m.failedLogins[ip] = info
}

// ClearFailedLogins resets the counter on successful login.
func (m *Manager) ClearFailedLogins(ip string) {
	m.mu.Lock()
	delete(m.failedLogins, ip)
	m.mu.Unlock()
}

// SetSessionCookie starts a session and writes a HttpOnly session cookie.
func (m *Manager) SetSessionCookie(c *gin.Context) string {
	token := m.CreateSession()
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, token, int(SessionDuration.Seconds()), "/", "", false, true)
	return token
}

// ClearSessionCookie ends the session and removes the cookie.
func (m *Manager) ClearSessionCookie(c *gin.Context) {
	if token, err := c.Cookie(SessionCookieName); err == nil {
		m.EndSession(token)
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(SessionCookieName, "", -1, "/", "", false, true)
}

// HasSession reports whether the request carries a live session.
func (m *Manager) HasSession(c *gin.Context) bool {
	token, err := c.Cookie(SessionCookieName)
	if err != nil {
		return false
	}
	return m.ValidateSession(token)
}

// Require rejects requests without a session. API paths get 401, pages
// are redirected to /login.
func (m *Manager) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() || m.HasSession(c) {
			c.Next()
			return
		}
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Redirect(http.StatusSeeOther, "/login")
		c.Abort()
	}
}

// LoginRequest is the login form or JSON body.
type LoginRequest struct {
	Password string `json:"password" form:"password" binding:"required"`
}

// Login handles POST /auth/login.
func (m *Manager) Login(c *gin.Context) {
	ip := c.ClientIP()
	if m.IsLockedOut(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts, try again later"})
		return
	}
	var req LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	if !m.ValidatePassword(req.Password) {
		m.RecordFailedLogin(ip)
		m.logger.Warn("failed login", zap.String("ip", ip))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
		return
	}
	m.ClearFailedLogins(ip)
	m.SetSessionCookie(c)
	m.logger.Info("dashboard login", zap.String("ip", ip))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Logout handles POST /auth/logout.
func (m *Manager) Logout(c *gin.Context) {
	m.ClearSessionCookie(c)
	c.Redirect(http.StatusSeeOther, "/login")
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("auth cleanup stopped")
			return
		case <-ticker.C:
			m.purge()
		}
	}
}

func (m *Manager) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, v := range m.sessions {
		if now.After(v) {
			delete(m.sessions, k)
		}
	}
	for k, v := range m.failedLogins {
		if v.count >= MaxLoginAttempts && now.After(v.lockedUntil) {
			delete(m.failedLogins, k)
		}
	}
}
