package service

import (
	"context"
	"fmt"

	"github.com/naperu/estatebot/internal/domain"
	"github.com/sirupsen/logrus"
)

// StaffService resolves bot users to staff records
type StaffService struct {
	staff     domain.StaffStore
	bootstrap func(int64) bool
	log       *logrus.Entry
}

// Resolve returns the active staff user behind a telegram id. Ids listed as
// bootstrap managers are created on first contact; anyone else unknown or
// inactive gets domain.ErrForbidden.
func (s *StaffService) Resolve(ctx context.Context, telegramID int64, name, username string) (*domain.StaffUser, error) {
	user, err := s.staff.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to get staff user: %w", err)
	}

	if user == nil {
		if !s.bootstrap(telegramID) {
			return nil, domain.ErrForbidden
		}
		user = &domain.StaffUser{
			TelegramID: telegramID,
			Name:       name,
			Username:   username,
			Role:       domain.RoleManager,
			IsActive:   true,
		}
		if err := s.staff.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create staff user: %w", err)
		}
		if s.log != nil {
			s.log.WithField("telegram_id", telegramID).Info("bootstrap manager created")
		}
	}

	if !user.IsActive {
		return nil, domain.ErrForbidden
	}
	return user, nil
}
