package sqlite

import (
	"context"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

func (r *usersRepo) Create(ctx context.Context, u domain.User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, identifier, display_name, secret_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		u.ID, u.Identifier, u.DisplayName, u.SecretHash, toMillis(u.CreatedAt),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *usersRepo) GetByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	return r.get(ctx, `identifier = ?`, identifier)
}

func (r *usersRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	return r.get(ctx, `id = ?`, id)
}

func (r *usersRepo) get(ctx context.Context, where string, arg string) (domain.User, error) {
	var (
		u         domain.User
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, identifier, display_name, secret_hash, created_at
		FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Identifier, &u.DisplayName, &u.SecretHash, &createdAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}
