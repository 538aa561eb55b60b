package usecase

import (
	"errors"
	"fmt"
	"time"

	authdomain "mailsync-backend/internal/auth/domain"
	authdto "mailsync-backend/internal/auth/dto"
	"mailsync-backend/internal/auth/repository"
	"mailsync-backend/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidCredentials = errors.New("invalid operator credentials")

const defaultOperator = "operator"

// AuthUsecase issues and validates operator API tokens and manages operator devices.
type AuthUsecase interface {
	IssueToken(req *authdto.TokenRequest) (*authdto.TokenResponse, error)
	ValidateToken(tokenString string) (*authdomain.Operator, error)
	RegisterDevice(operator string, req *authdto.RegisterDeviceRequest) error
	RemoveDevice(token string) error
}

type authUsecase struct {
	deviceRepo repository.DeviceTokenRepository
	config     *config.Config
}

// NewAuthUsecase creates a new instance of authUsecase
func NewAuthUsecase(deviceRepo repository.DeviceTokenRepository, cfg *config.Config) AuthUsecase {
	return &authUsecase{
		deviceRepo: deviceRepo,
		config:     cfg,
	}
}

func (u *authUsecase) IssueToken(req *authdto.TokenRequest) (*authdto.TokenResponse, error) {
	// No hash configured means the operator API is closed.
	if u.config.OperatorPasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if !repository.CheckPasswordHash(req.Password, u.config.OperatorPasswordHash) {
		return nil, ErrInvalidCredentials
	}

	name := req.Operator
	if name == "" {
		name = defaultOperator
	}

	expiresAt := time.Now().Add(u.config.JWTAccessExpiry)
	claims := jwt.MapClaims{
		"sub": name,
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(u.config.JWTSecret))
	if err != nil {
		return nil, err
	}

	return &authdto.TokenResponse{
		AccessToken: signed,
		ExpiresAt:   expiresAt.Unix(),
	}, nil
}

func (u *authUsecase) ValidateToken(tokenString string) (*authdomain.Operator, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(u.config.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	name, err := claims.GetSubject()
	if err != nil || name == "" {
		return nil, errors.New("invalid token claims")
	}

	operator := &authdomain.Operator{Name: name}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		operator.ExpiresAt = exp.Time
	}
	return operator, nil
}

func (u *authUsecase) RegisterDevice(operator string, req *authdto.RegisterDeviceRequest) error {
	return u.deviceRepo.SaveToken(operator, req.Token, req.DeviceInfo)
}

func (u *authUsecase) RemoveDevice(token string) error {
	return u.deviceRepo.DeleteToken(token)
}
