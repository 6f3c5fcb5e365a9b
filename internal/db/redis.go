package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ruby4mag/service-downtime-backend/internal/config"
)

var ErrSessionNotFound = errors.New("session not found")

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Session is what a refresh token can be exchanged for.
type Session struct {
	Username   string `json:"username"`
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
}

// RefreshStore keeps refresh tokens in Redis until they expire.
type RefreshStore struct {
	client *redis.Client
}

func NewRefreshStore(client *redis.Client) *RefreshStore {
	return &RefreshStore{client: client}
}

func refreshKey(token string) string {
	return "refresh:" + token
}

func (s *RefreshStore) Save(ctx context.Context, token string, session Session, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, refreshKey(token), data, ttl).Err(); err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}
	return nil
}

// Lookup returns ErrSessionNotFound for unknown or expired tokens.
func (s *RefreshStore) Lookup(ctx context.Context, token string) (Session, error) {
	data, err := s.client.Get(ctx, refreshKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("reading refresh token: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}
	return session, nil
}

func (s *RefreshStore) Delete(ctx context.Context, token string) error {
	return s.client.Del(ctx, refreshKey(token)).Err()
}
