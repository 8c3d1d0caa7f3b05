// Package store persists the watch configuration between runs.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"codeberg.org/mutker/cgmbridge/internal/errors"
	"codeberg.org/mutker/cgmbridge/internal/logger"
	"codeberg.org/mutker/cgmbridge/internal/prefs"
)

const configKey = "config"

// Store loads and saves the watch configuration.
type Store interface {
	Load(ctx context.Context) (prefs.Configuration, error)
	Save(ctx context.Context, cfg prefs.Configuration) error
	Close() error
}

type service struct {
	repo Repository
	log  logger.Logger
}

func New(ctx context.Context, cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	repo, err := NewRepository(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	return NewWithRepository(repo, log), nil
}

func NewWithRepository(repo Repository, log logger.Logger) Store {
	return &service{repo: repo, log: log}
}

// Load returns the stored configuration merged onto the defaults. A stored
// value that cannot be parsed is logged and ignored.
func (s *service) Load(ctx context.Context) (prefs.Configuration, error) {
	raw, ok, err := s.repo.Get(ctx, configKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return prefs.Defaults(), nil
	}

	stored, err := prefs.ParseOverride([]byte(raw))
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("error_code", string(ErrConfigParse)).
			Str("stored", raw).
			Msg("Ignoring unreadable stored configuration")
		return prefs.Defaults(), nil
	}

	return prefs.Merge(stored, prefs.Defaults()), nil
}

func (s *service) Save(ctx context.Context, cfg prefs.Configuration) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.New().Wrap(ErrConfigParse, err)
	}

	return s.repo.Put(ctx, configKey, string(data))
}

func (s *service) Close() error {
	return s.repo.Close()
}

// Memory returns a Store that keeps the configuration in memory only.
func Memory(log logger.Logger) Store {
	return NewWithRepository(&memoryRepository{values: make(map[string]string)}, log)
}

type memoryRepository struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryRepository) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[name]
	return v, ok, nil
}

func (m *memoryRepository) Put(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[name] = value
	return nil
}

func (*memoryRepository) Close() error {
	return nil
}
