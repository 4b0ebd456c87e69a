package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"authhub/internal/apperr"
	"authhub/internal/auth"
	"authhub/internal/ids"
	"authhub/internal/rbac"
)

type roleAssigner interface {
	AssignRoles(ctx context.Context, userID string, roleIDs []string) error
}

type passwordHasher interface {
	Hash(raw string) (string, error)
}

// bootstrapOperator makes sure an account for email exists and holds the admin
// role. An existing account keeps its password.
func bootstrapOperator(ctx context.Context, users operatorStore, roles roleAssigner, hasher passwordHasher, admin rbac.Role, email, password string, logger *zap.Logger) error {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := users.FindByIdentifier(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotFound):
		hash, err := hasher.Hash(password)
		if err != nil {
			return fmt.Errorf("hash bootstrap password: %w", err)
		}
		user = auth.User{
			ID:           ids.New(),
			Email:        email,
			PasswordHash: hash,
			Status:       auth.UserStatusActive,
			CreatedAt:    time.Now().UTC(),
		}
		if err := users.Create(ctx, user); err != nil {
			return fmt.Errorf("create bootstrap user: %w", err)
		}
		logger.Info("bootstrap operator created", zap.String("event", "bootstrap.user.create"), zap.String("user_id", user.ID))
	default:
		return fmt.Errorf("find bootstrap user: %w", err)
	}
	if err := roles.AssignRoles(ctx, user.ID, []string{admin.ID}); err != nil {
		return fmt.Errorf("assign %s to bootstrap user: %w", admin.Name, err)
	}
	return nil
}
