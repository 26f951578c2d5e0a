package auth

import (
	"context"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/server/models"
)

// UserFinder resolves a username or email to a user, returning nil, nil
// when nobody owns it.
type UserFinder interface {
	FindByIdentifier(ctx context.Context, identifier string) (*models.User, error)
}

// Authenticator checks identifier/password pairs against the directory.
type Authenticator struct {
	users UserFinder
}

func NewAuthenticator(users UserFinder) *Authenticator {
	return &Authenticator{users: users}
}

// Authenticate returns common.ErrUnauthorized for an unknown user or a wrong
// password, and common.ErrAccountDisabled for an inactive account. Storage
// failures are passed through.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, password string) (*models.User, error) {
	user, err := a.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, common.ErrUnauthorized
	}
	if !user.Active {
		return nil, common.ErrAccountDisabled
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, common.ErrUnauthorized
	}
	return user, nil
}
