package pg

import (
	"context"
	"database/sql"
	"fmt"

	"authhub/internal/apperr"
	"authhub/internal/auth"
)

// RefreshTokenStore implements auth.DurableTokenStore with one row per user.
type RefreshTokenStore struct {
	db *sql.DB
}

var _ auth.DurableTokenStore = (*RefreshTokenStore)(nil)

func (s *RefreshTokenStore) Persist(ctx context.Context, rec auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (user_id, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4)
		on conflict (user_id) do update
		set token_hash = excluded.token_hash,
			issued_at = excluded.issued_at,
			expires_at = excluded.expires_at
	`, rec.UserID, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt)
	return err
}

// Rotate swaps the token in a single conditional update, so of two rotations
// racing from the same previous token only one succeeds.
func (s *RefreshTokenStore) Rotate(ctx context.Context, previousHash string, rec auth.RefreshToken) error {
	res, err := s.db.ExecContext(ctx, `
		update refresh_tokens
		set token_hash = $3, issued_at = $4, expires_at = $5
		where user_id = $1 and token_hash = $2
	`, rec.UserID, previousHash, rec.TokenHash, rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.New(apperr.InvalidRefreshToken, "refresh token was already rotated")
	}
	return nil
}

func (s *RefreshTokenStore) FindByUserID(ctx context.Context, userID string) (auth.RefreshToken, error) {
	var rec auth.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select user_id, token_hash, issued_at, expires_at
		from refresh_tokens where user_id = $1
	`, userID).Scan(&rec.UserID, &rec.TokenHash, &rec.IssuedAt, &rec.ExpiresAt)
	if err != nil {
		return auth.RefreshToken{}, noRows(err, "refresh token not found")
	}
	return rec, nil
}

func (s *RefreshTokenStore) FindUserIDByToken(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`select user_id from refresh_tokens where token_hash = $1`, tokenHash).Scan(&userID)
	if err != nil {
		return "", noRows(err, "refresh token not found")
	}
	return userID, nil
}

func (s *RefreshTokenStore) DeleteByUserID(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from refresh_tokens where user_id = $1`, userID)
	if err != nil {
		return err
	}
	return affected(res, fmt.Sprintf("refresh token for %s not found", userID))
}
