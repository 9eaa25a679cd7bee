package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type TokenStatus string

const (
	TokenActive   TokenStatus = "active"
	TokenInactive TokenStatus = "inactive"
)

// PlatformToken is the credential for one (user, platform) pair. At most one
// token per pair is active; registering a new one deactivates the previous.
type PlatformToken struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Platform     Platform
	AccessToken  string
	RefreshToken *string
	Status       TokenStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewPlatformToken(userID uuid.UUID, platform Platform, accessToken string, refreshToken *string, now time.Time) (*PlatformToken, error) {
	if userID == uuid.Nil {
		return nil, ErrValidation("user_id is required")
	}
	if !platform.Valid() {
		return nil, ErrValidationMeta("unknown platform", map[string]string{"platform": string(platform)})
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrValidation("access_token must not be empty")
	}
	t := now.UTC()
	return &PlatformToken{
		ID:           uuid.New(),
		UserID:       userID,
		Platform:     platform,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Status:       TokenActive,
		CreatedAt:    t,
		UpdatedAt:    t,
	}, nil
}
