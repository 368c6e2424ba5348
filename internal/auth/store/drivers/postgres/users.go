package postgres

import (
	"context"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

func (r *usersRepo) Create(ctx context.Context, u domain.User) error {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO users (id, identifier, display_name, secret_hash, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING
	`, u.ID, u.Identifier, u.DisplayName, u.SecretHash, u.CreatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *usersRepo) GetByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	return r.get(ctx, `identifier = $1`, identifier)
}

func (r *usersRepo) GetByID(ctx context.Context, id string) (domain.User, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *usersRepo) get(ctx context.Context, where, arg string) (domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, `
		SELECT id, identifier, display_name, secret_hash, created_at
		FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Identifier, &u.DisplayName, &u.SecretHash, &u.CreatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}
