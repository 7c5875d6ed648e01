package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"ashare_backend/models"
)

const adminIssuer = "ashare-backend"

// AdminClaims are the claims of an admin access token
type AdminClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IssueAdminToken signs an HS256 token for user. The returned claims carry
// the token ID that the caller records as an AdminSession.
func IssueAdminToken(secret string, user *models.AdminUser, ttl time.Duration, now time.Time) (string, *AdminClaims, error) {
	if secret == "" {
		return "", nil, errors.New("ADMIN_JWT_SECRET not configured")
	}
	tokenID, err := newTokenID()
	if err != nil {
		return "", nil, err
	}
	claims := &AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Issuer:    adminIssuer,
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: user.Username,
		Role:     user.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

func newTokenID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// AdminJWT guards the admin group. With an empty secret the group is open.
// When db is set the token ID must match an unexpired AdminSession.
func AdminJWT(secret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		tokenString, ok := bearerToken(c)
		if !ok {
			unauthorized(c, "Authorization header is required. Use: Bearer <token>")
			return
		}

		claims, err := validateAdminToken(secret, tokenString)
		if err != nil {
			unauthorized(c, fmt.Sprintf("Invalid token: %v", err))
			return
		}

		if db != nil {
			var session models.AdminSession
			err := db.WithContext(c.Request.Context()).
				Where("token_id = ?", claims.ID).
				First(&session).Error
			if err != nil || session.IsExpired() {
				unauthorized(c, "Session expired or revoked")
				return
			}
		}

		c.Set("admin_username", claims.Username)
		c.Set("admin_role", claims.Role)
		c.Set("admin_token_id", claims.ID)
		c.Next()
	}
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for websocket clients that cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		return "", false
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", false
	}
	return tokenString, true
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"error":   "unauthorized",
		"message": message,
	})
}

func validateAdminToken(secret, tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(adminIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
