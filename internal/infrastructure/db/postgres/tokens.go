package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/courierhq/courier/internal/domain"
)

// UpsertToken registers a new credential. The previously active token for the
// same (user, platform) is deactivated in the same transaction, so at most
// one token per pair is ever active.
func (s *Store) UpsertToken(ctx context.Context, token *domain.PlatformToken) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deactivateTokenSQL, token.UserID, string(token.Platform)); err != nil {
			return fmt.Errorf("deactivate previous token: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertTokenSQL,
			token.ID, token.UserID, string(token.Platform),
			token.AccessToken, token.RefreshToken, string(token.Status),
			token.CreatedAt, token.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		return nil
	})
}

func (s *Store) FindActiveToken(ctx context.Context, userID uuid.UUID, platform domain.Platform) (*domain.PlatformToken, error) {
	row := s.db.QueryRowContext(ctx, findActiveTokenSQL, userID, string(platform))
	t, err := scanToken(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNoActiveToken(platform)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) ListTokensByUser(ctx context.Context, userID uuid.UUID) ([]*domain.PlatformToken, error) {
	rows, err := s.db.QueryContext(ctx, listTokensSQL, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PlatformToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanToken(row rowScanner) (*domain.PlatformToken, error) {
	var (
		t        domain.PlatformToken
		platform string
		status   string
		refresh  sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &platform, &t.AccessToken, &refresh, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Platform = domain.Platform(platform)
	t.Status = domain.TokenStatus(status)
	if refresh.Valid {
		t.RefreshToken = &refresh.String
	}
	return &t, nil
}
