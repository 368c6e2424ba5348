package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/sessionguard/internal/auth/domain"
	"github.com/aussiebroadwan/sessionguard/internal/auth/store"
	"github.com/aussiebroadwan/sessionguard/pkg/cryptox"
	"github.com/aussiebroadwan/sessionguard/pkg/idx"
)

var ErrIdentifierTaken = errors.New("identifier_taken")

// Subject is who a login resolved to.
type Subject struct {
	ID          string
	Username    string
	DisplayName string
}

// SubjectAuthenticator checks an identifier and secret. It returns
// ErrInvalidCredentials for both an unknown identifier and a wrong secret;
// any other error is infrastructure.
type SubjectAuthenticator interface {
	Authenticate(ctx context.Context, identifier, secret string) (Subject, error)
}

// UserAuthenticator checks secrets against the users table.
type UserAuthenticator struct {
	Store  store.Store
	Hasher *cryptox.Hasher
	Clock  idx.Source
}

func (a *UserAuthenticator) Authenticate(ctx context.Context, identifier, secret string) (Subject, error) {
	u, err := a.Store.Users().GetByIdentifier(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		// Burn the same hashing cost as a real check.
		_ = a.Hasher.VerifyDummy(secret)
		return Subject{}, ErrInvalidCredentials
	}
	if err != nil {
		return Subject{}, err
	}

	if err := a.Hasher.Verify(secret, u.SecretHash); err != nil {
		return Subject{}, ErrInvalidCredentials
	}

	return Subject{ID: u.ID, Username: u.Identifier, DisplayName: u.DisplayName}, nil
}

// Enroll creates a user with a hashed secret. Used by the admin CLI.
func (a *UserAuthenticator) Enroll(ctx context.Context, identifier, displayName, secret string) (domain.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || secret == "" {
		return domain.User{}, fmt.Errorf("identifier and secret are required")
	}

	hash, err := a.Hasher.Hash(secret)
	if err != nil {
		return domain.User{}, err
	}

	u := domain.User{
		ID:          a.Clock.New().String(),
		Identifier:  identifier,
		DisplayName: strings.TrimSpace(displayName),
		SecretHash:  hash,
		CreatedAt:   a.Clock.Now(),
	}
	if err := a.Store.Users().Create(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrIdentifierTaken
		}
		return domain.User{}, err
	}
	return u, nil
}
