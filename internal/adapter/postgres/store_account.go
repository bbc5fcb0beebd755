package postgres

import (
	"context"

	"github.com/msingatullin/ccontentcloud-sub000/internal/domain/account"
)

func (s *Store) GetAccount(ctx context.Context, userID, platform string) (*account.PlatformAccount, error) {
	var a account.PlatformAccount
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, platform, handle, access_token, is_active, created_at, updated_at
		 FROM platform_accounts WHERE user_id = $1 AND platform = $2`, userID, platform,
	).Scan(&a.ID, &a.UserID, &a.Platform, &a.Handle, &a.AccessToken, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get account %s/%s", userID, platform)
	}
	return &a, nil
}
