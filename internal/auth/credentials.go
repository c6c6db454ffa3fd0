// Package auth manages stored credentials and token refresh against the
// auth service.
package auth

import (
	"go.uber.org/zap"

	"github.com/eva-ai/platform/internal/kv"
	"github.com/eva-ai/platform/pkg/logger"
)

const (
	tokenKey = "auth_token"
	userKey  = "user"
)

// CredentialStore persists the auth token and user record in a
// key-value backend. It satisfies the apiclient Credentials interface.
type CredentialStore struct {
	store  kv.Store
	logger *logger.Logger
}

// NewCredentialStore creates a credential store backed by store.
func NewCredentialStore(store kv.Store, log *logger.Logger) *CredentialStore {
	return &CredentialStore{
		store:  store,
		logger: log,
	}
}

// Token returns the stored auth token, or empty when absent.
func (s *CredentialStore) Token() string {
	v, ok, err := s.store.Get(tokenKey)
	if err != nil {
		s.logger.Warn("failed to read auth token", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return string(v)
}

// SetToken stores a new auth token.
func (s *CredentialStore) SetToken(token string) {
	if err := s.store.Set(tokenKey, []byte(token)); err != nil {
		s.logger.Warn("failed to store auth token", zap.Error(err))
	}
}

// SetUser stores the serialized user record.
func (s *CredentialStore) SetUser(raw []byte) {
	if err := s.store.Set(userKey, raw); err != nil {
		s.logger.Warn("failed to store user record", zap.Error(err))
	}
}

// User returns the serialized user record, or nil when absent.
func (s *CredentialStore) User() []byte {
	v, ok, err := s.store.Get(userKey)
	if err != nil || !ok {
		return nil
	}
	return v
}

// Clear removes the stored token and user record, used on forced logout.
func (s *CredentialStore) Clear() {
	if err := s.store.Delete(tokenKey); err != nil {
		s.logger.Warn("failed to clear auth token", zap.Error(err))
	}
	if err := s.store.Delete(userKey); err != nil {
		s.logger.Warn("failed to clear user record", zap.Error(err))
	}
}
