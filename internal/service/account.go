package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/naperu/estatebot/internal/telegram"
)

// Sessions is the account session manager as seen by services.
type Sessions interface {
	StartLogin(ctx context.Context, accountID uuid.UUID, creds domain.Credentials) (string, error)
	CompleteLogin(ctx context.Context, accountID uuid.UUID, code, codeToken, password string) (telegram.LoginResult, error)
	AbortLogin(accountID uuid.UUID)
	Reload(ctx context.Context) (int, error)
	Disconnect(ctx context.Context, accountID uuid.UUID) error
	Live() []*telegram.Session
	LiveCount() int
}

// AccountService manages linked messaging accounts
type AccountService struct {
	accounts domain.AccountStore
	sessions Sessions
}

type LiveAccount struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone"`
	ConnectedAt time.Time `json:"connected_at"`
}

type CompleteLoginRequest struct {
	Code             string `json:"code" validate:"required,numeric,min=4,max=8"`
	CodeRequestToken string `json:"code_request_token" validate:"required"`
	Password         string `json:"password,omitempty"`
}

func (s *AccountService) Create(ctx context.Context, name string) (*domain.LinkedAccount, error) {
	name = strings.TrimSpace(name)
	if err := ValidateVar(name, "required,max=100"); err != nil {
		return nil, err
	}
	a := &domain.LinkedAccount{Name: name}
	if err := s.accounts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

func (s *AccountService) StartLogin(ctx context.Context, accountID uuid.UUID, creds domain.Credentials) (string, error) {
	creds.Phone = NormalizePhone(creds.Phone)
	if err := Validate(creds); err != nil {
		return "", err
	}
	return s.sessions.StartLogin(ctx, accountID, creds)
}

// CompleteLogin finishes a pending login. A malformed request still ends the
// attempt so the temporary connection does not linger.
func (s *AccountService) CompleteLogin(ctx context.Context, accountID uuid.UUID, req CompleteLoginRequest) (telegram.LoginResult, error) {
	req.Code = strings.TrimSpace(req.Code)
	if err := Validate(req); err != nil {
		s.sessions.AbortLogin(accountID)
		return telegram.LoginResult{}, err
	}
	return s.sessions.CompleteLogin(ctx, accountID, req.Code, req.CodeRequestToken, req.Password)
}

func (s *AccountService) Reload(ctx context.Context) (int, error) {
	return s.sessions.Reload(ctx)
}

// Disconnect closes the live connection and stops the account from being
// reconnected on the next reload.
func (s *AccountService) Disconnect(ctx context.Context, accountID uuid.UUID) error {
	if err := s.sessions.Disconnect(ctx, accountID); err != nil {
		return err
	}
	if err := s.accounts.Deactivate(ctx, accountID); err != nil {
		return fmt.Errorf("failed to deactivate account: %w", err)
	}
	return nil
}

func (s *AccountService) Live() []LiveAccount {
	sessions := s.sessions.Live()
	out := make([]LiveAccount, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, LiveAccount{
			ID:          sess.Account.ID,
			Name:        sess.Account.Name,
			Phone:       sess.Account.Phone,
			ConnectedAt: sess.ConnectedAt,
		})
	}
	return out
}
