package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/PortExtender/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	// PermOperator may read status and push host events.
	PermOperator Permission = "operator"
	// PermAdmin may also change settings, scan and issue test writes.
	PermAdmin Permission = "admin"
)

const RoleAdmin = "admin"

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService knows a single administrator from the config file plus an
// optional host token for the irrigation controller.
type AuthService struct {
	adminUser     string
	adminHash     string
	adminID       uuid.UUID
	hostTokenHash string

	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	logger         *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if !cfg.IsProductionReady() {
		logger.Warn("JWT secret not set or too short, using development secret",
			zap.String("env", cfg.JWTSecretEnv))
	}
	if cfg.AdminPasswordHash == "" {
		logger.Warn("No admin password hash configured, settings login disabled")
	}

	return &AuthService{
		adminUser:      cfg.AdminUser,
		adminHash:      cfg.AdminPasswordHash,
		adminID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("portextender/"+cfg.AdminUser)),
		hostTokenHash:  cfg.HostTokenHash,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasher(),
		logger:         logger,
	}
}

// Login authenticates the administrator and returns an access token.
func (a *AuthService) Login(username, password, ipAddress string) (string, time.Time, error) {
	if a.adminHash == "" || username != a.adminUser {
		a.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress))
		return "", time.Time{}, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, a.adminHash)
	if err != nil {
		a.logger.Error("Configured admin password hash is unusable", zap.Error(err))
		return "", time.Time{}, ErrInvalidCredentials
	}
	if !valid {
		a.logger.Warn("Login failed", zap.String("username", username), zap.String("ip", ipAddress))
		return "", time.Time{}, ErrInvalidCredentials
	}

	token, expires, err := a.jwtHandler.GenerateAccessToken(a.adminID, a.adminUser, RoleAdmin)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("User logged in", zap.String("username", username), zap.String("ip", ipAddress))
	return token, expires, nil
}

// ValidateToken resolves a bearer token to its permissions.
func (a *AuthService) ValidateToken(token string) ([]Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return roleToPermissions(claims.Role), nil
	}

	if a.hostTokenHash != "" && ValidHostTokenFormat(token) {
		if subtle.ConstantTimeCompare([]byte(HashHostToken(token)), []byte(a.hostTokenHash)) == 1 {
			return []Permission{PermOperator}, nil
		}
	}

	return nil, fmt.Errorf("invalid or expired token")
}

func roleToPermissions(role string) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermOperator, PermAdmin}
	default:
		return []Permission{PermOperator}
	}
}
