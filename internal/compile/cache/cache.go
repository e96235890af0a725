// Package cache holds the fingerprint-keyed compiled-manifest store. The
// store is an injected abstraction, never a process-wide singleton, so
// tests substitute in-memory doubles.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/strata-labs/strata-go/internal/canonical"
)

// ErrNotFound reports an absent cache entry.
var ErrNotFound = errors.New("manifest not found")

// Mode controls cache participation during compilation.
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeForce Mode = "force"
	ModeNever Mode = "never"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(strings.ToLower(s))) {
	case ModeAuto:
		return ModeAuto, nil
	case ModeForce:
		return ModeForce, nil
	case ModeNever:
		return ModeNever, nil
	default:
		return "", fmt.Errorf("unsupported cache mode %q", s)
	}
}

// Key is the full compile-cache identity tuple. Two compilations with equal
// keys produce byte-identical manifests.
type Key struct {
	DescriptionFP string
	RegistryFP    string
	CompilerFP    string
	ParamsFP      string
	Profile       string
}

// ID collapses the tuple into one content-derived store key.
func (k Key) ID() (string, error) {
	if k.DescriptionFP == "" || k.RegistryFP == "" || k.CompilerFP == "" || k.ParamsFP == "" {
		return "", errors.New("cache key fingerprints are required")
	}
	return canonical.FingerprintValue(map[string]any{
		"description": k.DescriptionFP,
		"registry":    k.RegistryFP,
		"compiler":    k.CompilerFP,
		"params":      k.ParamsFP,
		"profile":     k.Profile,
	})
}

// Store persists compiled manifests by key id. Get returns ErrNotFound for
// absent entries; Put overwrites.
type Store interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, manifest []byte) error
}

// MemStore is the in-memory Store used by tests and single-shot tooling.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]byte)}
}

func (s *MemStore) Get(_ context.Context, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) Put(_ context.Context, id string, manifest []byte) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("cache id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make([]byte, len(manifest))
	copy(data, manifest)
	s.entries[id] = data
	return nil
}

// Len reports the number of cached manifests.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
