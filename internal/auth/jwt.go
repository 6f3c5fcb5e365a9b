package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// GlobalClient is the client id carried by operator tokens; those may read
// every client.
const GlobalClient = "global"

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	Username string `json:"username"`
	ClientID string `json:"clientId"`
	jwt.StandardClaims
}

// Global reports whether the token grants access to every client.
func (c *Claims) Global() bool {
	return c.ClientID == GlobalClient
}

// Allows reports whether the token may read clientID.
func (c *Claims) Allows(clientID string) bool {
	return c.Global() || strings.EqualFold(c.ClientID, clientID)
}

type Manager struct {
	secret     []byte
	tokenTTL   time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, tokenTTL, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// GenerateJWT issues an access token scoped to clientID.
func (m *Manager) GenerateJWT(username, clientID string) (string, time.Time, error) {
	now := m.now()
	expirationTime := now.Add(m.tokenTTL)
	id, err := randomID()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := &Claims{
		Username: username,
		ClientID: clientID,
		StandardClaims: jwt.StandardClaims{
			Subject:   username,
			Id:        id,
			IssuedAt:  now.Unix(),
			ExpiresAt: expirationTime.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expirationTime, nil
}

// GenerateRefreshToken issues an opaque refresh token. The session it
// belongs to is kept server side.
func (m *Manager) GenerateRefreshToken() (string, error) {
	id, err := randomID()
	if err != nil {
		return "", err
	}
	claims := &jwt.StandardClaims{
		Id:        id,
		ExpiresAt: m.now().Add(m.refreshTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) ParseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ClientID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
