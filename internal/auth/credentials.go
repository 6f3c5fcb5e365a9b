package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ruby4mag/service-downtime-backend/internal/models"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operators looks up global accounts. It returns nil, nil for unknown users.
type Operators interface {
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

type Tenants interface {
	ListClientIDs() []string
	Client(id string) (models.ClientConfig, bool)
}

// Identity is who a successful login belongs to.
type Identity struct {
	Username   string
	ClientID   string
	ClientName string
}

func (i Identity) Global() bool { return i.ClientID == GlobalClient }

type Authenticator struct {
	operators Operators
	tenants   Tenants
}

// NewAuthenticator checks operators first, then client users. operators may
// be nil when no user database is configured.
func NewAuthenticator(operators Operators, tenants Tenants) *Authenticator {
	return &Authenticator{operators: operators, tenants: tenants}
}

func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if a.operators != nil {
		user, err := a.operators.FindUserByUsername(ctx, username)
		if err != nil {
			return nil, err
		}
		if user != nil {
			if user.CheckPassword(password) != nil {
				return nil, ErrInvalidCredentials
			}
			return &Identity{Username: user.Username, ClientID: GlobalClient, ClientName: "Global access"}, nil
		}
	}

	for _, id := range a.tenants.ListClientIDs() {
		cfg, ok := a.tenants.Client(id)
		if !ok || strings.EqualFold(cfg.ClientID, GlobalClient) {
			continue
		}
		cred, ok := cfg.FindUser(username)
		if !ok {
			continue
		}
		if cred.PasswordHash == "" ||
			bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
			return nil, ErrInvalidCredentials
		}
		return &Identity{Username: cred.Username, ClientID: cfg.ClientID, ClientName: cfg.ClientName}, nil
	}
	return nil, ErrInvalidCredentials
}
