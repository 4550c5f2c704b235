package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/praxishq/automation/pkg/protocol"
)

// StaticCredentialStore resolves credentials from an in-memory map, loaded
// from configuration at startup. Larger deployments swap in a store backed by
// the host application's credential vault.
type StaticCredentialStore struct {
	credentials map[string]map[string]map[string]string // kind -> id -> values
}

// NewStaticCredentialStore parses a JSON document of the form
// {"telegram_bot": {"bot-1": {"token": "..."}}}.
func NewStaticCredentialStore(raw string) (*StaticCredentialStore, error) {
	store := &StaticCredentialStore{
		credentials: make(map[string]map[string]map[string]string),
	}

	if raw == "" {
		return store, nil
	}

	err := json.Unmarshal([]byte(raw), &store.credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}

	return store, nil
}

func (s *StaticCredentialStore) Get(ctx context.Context, kind, id string) (*protocol.Credential, error) {
	values, ok := s.credentials[kind][id]
	if !ok {
		return nil, fmt.Errorf("credential %s/%s not found", kind, id)
	}

	return &protocol.Credential{ID: id, Kind: kind, Values: values}, nil
}
