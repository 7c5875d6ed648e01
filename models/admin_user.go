package models

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminUser represents an operator allowed to trigger syncs
type AdminUser struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:'admin'" json:"role"`
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SetPassword hashes and sets the password for the admin user
func (u *AdminUser) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies the provided password against the stored hash
func (u *AdminUser) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// AdminSession is an issued admin token. Deleting the row revokes the token.
type AdminSession struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AdminUserID uint      `gorm:"index" json:"admin_user_id"`
	AdminUser   AdminUser `gorm:"foreignKey:AdminUserID" json:"admin_user,omitempty"`
	TokenID     string    `gorm:"uniqueIndex;not null" json:"-"`
	IPAddress   string    `json:"ip_address"`
	UserAgent   string    `json:"user_agent"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsExpired checks if the session has expired
func (s *AdminSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// PurgeExpiredAdminSessions deletes session rows that expired before now.
func PurgeExpiredAdminSessions(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Where("expires_at < ?", now).Delete(&AdminSession{})
	return res.RowsAffected, res.Error
}

// MigrateAdminModels runs database migrations for admin-related models
func MigrateAdminModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&AdminUser{},
		&AdminSession{},
	)
}

// SeedAdminUser creates the configured admin account if it doesn't exist.
// passwordHash is a bcrypt hash (see scripts/generate_password_hash.go); an
// empty hash leaves the table untouched.
func SeedAdminUser(db *gorm.DB, username, passwordHash string) (bool, error) {
	if username == "" || passwordHash == "" {
		return false, nil
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return false, errors.New("ADMIN_PASSWORD_HASH is not a bcrypt hash")
	}

	var existing AdminUser
	err := db.Where("username = ?", username).Take(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	admin := &AdminUser{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         "admin",
		IsActive:     true,
	}
	if err := db.Create(admin).Error; err != nil {
		return false, err
	}
	return true, nil
}
