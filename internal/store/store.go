// Package store is a namespaced key-value store for settings and saved
// transcripts. Values are JSON documents.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/amanullahtanweer/lecture-transcriber/internal/config"
)

// ErrInvalidName rejects empty namespaces and keys.
var ErrInvalidName = errors.New("namespace and key must not be empty")

// Store is a namespaced key-value store.
type Store interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	Keys(ctx context.Context, namespace string) ([]string, error)
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StoreRedis:
		return NewRedis(ctx, cfg)
	case config.StoreSQLite:
		return NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func checkNames(namespace string, keys ...string) error {
	if namespace == "" {
		return ErrInvalidName
	}
	for _, k := range keys {
		if k == "" {
			return ErrInvalidName
		}
	}
	return nil
}

// GetJSON decodes the value at namespace/key into v.
func GetJSON(ctx context.Context, s Store, namespace, key string, v any) (bool, error) {
	data, ok, err := s.Get(ctx, namespace, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", namespace, key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at namespace/key.
func SetJSON(ctx context.Context, s Store, namespace, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, key, err)
	}
	return s.Set(ctx, namespace, key, data)
}

// LoadSettings returns the saved settings, or the defaults when none were saved.
func LoadSettings(ctx context.Context, s Store) (config.Settings, error) {
	var settings config.Settings
	ok, err := GetJSON(ctx, s, config.StoreNamespace, config.SettingsKey, &settings)
	if err != nil {
		return config.Settings{}, err
	}
	if !ok {
		return config.DefaultSettings(), nil
	}
	return settings, nil
}

// SaveSettings replaces the saved settings.
func SaveSettings(ctx context.Context, s Store, settings config.Settings) error {
	return SetJSON(ctx, s, config.StoreNamespace, config.SettingsKey, settings)
}

// Memory keeps everything in process.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	if err := checkNames(namespace, key); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := checkNames(namespace, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(ctx context.Context, namespace, key string) error {
	if err := checkNames(namespace, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	return nil
}

func (m *Memory) Keys(ctx context.Context, namespace string) ([]string, error) {
	if err := checkNames(namespace); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data[namespace]))
	for k := range m.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }
