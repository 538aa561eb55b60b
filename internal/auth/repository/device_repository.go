package repository

import (
	"time"

	authdomain "mailsync-backend/internal/auth/domain"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DeviceTokenRepository stores operator FCM device tokens
type DeviceTokenRepository interface {
	SaveToken(operator, token, deviceInfo string) error
	ListTokens() ([]string, error)
	DeleteToken(token string) error
	DeleteTokens(tokens []string) error
}

type deviceTokenRepository struct {
	db *gorm.DB
}

// NewDeviceTokenRepository creates a new instance of deviceTokenRepository
func NewDeviceTokenRepository(db *gorm.DB) DeviceTokenRepository {
	return &deviceTokenRepository{db: db}
}

// SaveToken registers a device token, moving it to operator if it already exists
func (r *deviceTokenRepository) SaveToken(operator, token, deviceInfo string) error {
	now := time.Now()
	device := &authdomain.DeviceToken{
		ID:         uuid.New().String(),
		Operator:   operator,
		Token:      token,
		DeviceInfo: deviceInfo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// INSERT ... ON CONFLICT (token) DO UPDATE
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}},
		DoUpdates: clause.AssignmentColumns([]string{"operator", "device_info", "updated_at"}),
	}).Create(device).Error
}

func (r *deviceTokenRepository) ListTokens() ([]string, error) {
	var tokens []string
	if err := r.db.Model(&authdomain.DeviceToken{}).Pluck("token", &tokens).Error; err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *deviceTokenRepository) DeleteToken(token string) error {
	return r.db.Where("token = ?", token).Delete(&authdomain.DeviceToken{}).Error
}

// DeleteTokens removes tokens FCM reported as unregistered
func (r *deviceTokenRepository) DeleteTokens(tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.db.Where("token IN ?", tokens).Delete(&authdomain.DeviceToken{}).Error
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
