package messaging

import (
	"context"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/domain"
)

// RegisterToken stores a credential for the platform, replacing any active
// one. The previous token is kept inactive for audit.
func (s *Service) RegisterToken(ctx context.Context, userID uuid.UUID, platform domain.Platform, accessToken string, refreshToken *string) (*domain.PlatformToken, error) {
	token, err := domain.NewPlatformToken(userID, platform, accessToken, refreshToken, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.tokens.UpsertToken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (s *Service) ListTokens(ctx context.Context, userID uuid.UUID) ([]*domain.PlatformToken, error) {
	return s.tokens.ListTokensByUser(ctx, userID)
}
