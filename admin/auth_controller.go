package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ashare_backend/middleware"
	"ashare_backend/models"
)

const sessionTTL = 24 * time.Hour

// AuthController handles admin authentication
type AuthController struct {
	db      *gorm.DB
	secret  string
	limiter *middleware.RateLimiter
	logger  zerolog.Logger
}

// NewAuthController creates a new auth controller
func NewAuthController(db *gorm.DB, secret string, limiter *middleware.RateLimiter, logger zerolog.Logger) *AuthController {
	return &AuthController{
		db:      db,
		secret:  secret,
		limiter: limiter,
		logger:  logger.With().Str("component", "admin.auth").Logger(),
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /admin/login and returns a bearer token
func (ac *AuthController) Login(c *gin.Context) {
	if ac.secret == "" {
		reply(c, http.StatusNotFound, "admin authentication is disabled")
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		reply(c, http.StatusBadRequest, "username and password are required")
		return
	}

	ip := c.ClientIP()
	var admin models.AdminUser
	err := ac.db.WithContext(c.Request.Context()).
		Where("username = ? AND is_active = ?", req.Username, true).
		First(&admin).Error
	if err != nil || !admin.CheckPassword(req.Password) {
		ac.limiter.RecordAttempt(ip, false)
		ac.logger.Warn().Str("username", req.Username).Str("ip", ip).Msg("Admin login failed")
		reply(c, http.StatusUnauthorized, "invalid username or password")
		return
	}

	now := time.Now()
	token, claims, err := middleware.IssueAdminToken(ac.secret, &admin, sessionTTL, now)
	if err != nil {
		ac.logger.Error().Err(err).Msg("Failed to issue admin token")
		reply(c, http.StatusInternalServerError, "failed to create session")
		return
	}

	session := models.AdminSession{
		AdminUserID: admin.ID,
		TokenID:     claims.ID,
		IPAddress:   ip,
		UserAgent:   c.Request.UserAgent(),
		ExpiresAt:   claims.ExpiresAt.Time,
	}
	if err := ac.db.WithContext(c.Request.Context()).Create(&session).Error; err != nil {
		ac.logger.Error().Err(err).Msg("Failed to store admin session")
		reply(c, http.StatusInternalServerError, "failed to create session")
		return
	}

	ac.db.Model(&admin).Update("last_login_at", now)
	ac.limiter.RecordAttempt(ip, true)

	ac.logger.Info().Str("username", admin.Username).Msg("Admin logged in")
	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{
			"token":      token,
			"token_type": "Bearer",
			"expires_at": session.ExpiresAt,
		},
	})
}

// Logout handles POST /admin/logout and revokes the current token
func (ac *AuthController) Logout(c *gin.Context) {
	if tokenID := c.GetString("admin_token_id"); tokenID != "" {
		if err := ac.db.WithContext(c.Request.Context()).
			Where("token_id = ?", tokenID).
			Delete(&models.AdminSession{}).Error; err != nil {
			ac.logger.Error().Err(err).Msg("Failed to revoke admin session")
			reply(c, http.StatusInternalServerError, "failed to revoke session")
			return
		}
	}
	reply(c, http.StatusOK, "logged out")
}
