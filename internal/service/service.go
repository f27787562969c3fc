package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/sirupsen/logrus"
)

// Notifier delivers lifecycle events without failing the caller.
type Notifier interface {
	NotifyBestEffort(ctx context.Context, ev domain.Event)
}

// Cache is the subset of pkg/cache used for short-lived read models.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Deps are the collaborators shared by the services. Cache may be nil.
type Deps struct {
	Staff    domain.StaffStore
	Agent    domain.AgentStore
	Group    domain.GroupStore
	Lead     domain.LeadStore
	Accounts domain.AccountStore
	Sessions Sessions
	Notifier Notifier
	Cache    Cache

	// IsBootstrapManager reports telegram ids promoted to manager on first contact.
	IsBootstrapManager func(telegramID int64) bool
	Log                *logrus.Entry
}

type Services struct {
	Auth    *AuthService
	Staff   *StaffService
	Lead    *LeadService
	Account *AccountService
}

func NewServices(d Deps) *Services {
	if d.IsBootstrapManager == nil {
		d.IsBootstrapManager = func(int64) bool { return false }
	}
	return &Services{
		Auth:    &AuthService{},
		Staff:   &StaffService{staff: d.Staff, bootstrap: d.IsBootstrapManager, log: d.Log},
		Lead:    &LeadService{deps: d, now: time.Now},
		Account: &AccountService{accounts: d.Accounts, sessions: d.Sessions},
	}
}

// AuthService issues and validates bearer tokens for the staff REST surface
type AuthService struct{}

// tokenTTL is how long an issued token stays valid
const tokenTTL = 7 * 24 * time.Hour

type JWTClaims struct {
	StaffID    uuid.UUID `json:"staff_id"`
	TelegramID int64     `json:"telegram_id"`
	Role       string    `json:"role"`
	jwt.RegisteredClaims
}

// IsManager reports whether the token holder may administer accounts.
func (c *JWTClaims) IsManager() bool {
	return c.Role == domain.RoleManager
}

func (s *AuthService) IssueToken(staff *domain.StaffUser, jwtSecret string) (string, error) {
	if staff == nil || !staff.IsActive {
		return "", domain.ErrForbidden
	}
	now := time.Now()
	claims := &JWTClaims{
		StaffID:    staff.ID,
		TelegramID: staff.TelegramID,
		Role:       staff.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "estatebot",
			Subject:   staff.ID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

func (s *AuthService) ValidateToken(tokenString, jwtSecret string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
