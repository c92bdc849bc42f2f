package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// tokenPayload is the expected JSON shape of every secret stored in SSM.
type tokenPayload struct {
	Token string `json:"token"`
}

// Secret lazily resolves a single {"token": "..."} parameter and caches it for
// the lifetime of the process. Failed lookups are not cached, so a transient
// SSM error is retried on the next call.
type Secret struct {
	getter Getter
	name   string

	mu     sync.Mutex
	loaded bool
	value  string
}

// NewSecret returns a Secret reading the parameter name through getter.
func NewSecret(getter Getter, name string) (*Secret, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: secret name must not be empty")
	}
	return &Secret{getter: getter, name: name}, nil
}

// Name returns the SSM parameter name backing the secret.
func (s *Secret) Name() string {
	return s.name
}

// Value returns the cached token, fetching it on first use.
func (s *Secret) Value(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.value, nil
	}

	raw, err := s.getter.GetParameter(ctx, s.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch secret %q: %w", s.name, err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal secret %q as JSON: %w", s.name, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: secret %q token is empty", s.name)
	}

	s.value = tp.Token
	s.loaded = true
	return s.value, nil
}
