// Package storage builds the configured archive backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"netfetch/config"
	"netfetch/observability"
	"netfetch/storage/adapters/fs"
	"netfetch/storage/adapters/s3"
	"netfetch/storage/types"
)

// HealthKey is probed by CheckHealth; its absence is healthy.
const HealthKey = ".health-check"

// New creates the backend named by cfg.Provider. "none" and "" return
// types.ErrDisabled.
func New(ctx context.Context, cfg config.StorageConfig, obs observability.Provider) (types.ObjectStorage, error) {
	logger := obs.Logger("storage")
	metrics := obs.Metrics("storage")

	switch cfg.Provider {
	case "s3":
		return s3.NewClient(ctx, cfg, logger, metrics)
	case "fs":
		return fs.NewStorage(cfg.BucketOrPath, logger, metrics)
	case "", "none":
		return nil, types.ErrDisabled
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Provider)
	}
}

// CheckHealth verifies the backend answers. A missing object is fine.
func CheckHealth(ctx context.Context, store types.ObjectStorage) error {
	if _, err := store.Exists(ctx, "", HealthKey); err != nil && !errors.Is(err, types.ErrObjectNotFound) {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	return nil
}

// Factory creates a backend; New is the production factory.
type Factory func(ctx context.Context, cfg config.StorageConfig, obs observability.Provider) (types.ObjectStorage, error)

// Provider holds the process-wide archive backend.
type Provider struct {
	storage     types.ObjectStorage
	mu          sync.RWMutex
	initialized bool
}

var (
	instance *Provider
	once     sync.Once
)

// GetProvider returns the process-wide Provider.
func GetProvider() *Provider {
	once.Do(func() {
		instance = &Provider{}
	})
	return instance
}

// Initialize creates and health-checks the backend once. A disabled backend
// is not an error: the provider initializes with no storage.
func (p *Provider) Initialize(ctx context.Context, cfg config.StorageConfig, obs observability.Provider, factory Factory) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}
	if factory == nil {
		factory = New
	}

	store, err := factory(ctx, cfg, obs)
	if errors.Is(err, types.ErrDisabled) {
		p.initialized = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := CheckHealth(checkCtx, store); err != nil {
		return fmt.Errorf("failed to verify storage connection: %w", err)
	}

	p.storage = store
	p.initialized = true
	return nil
}

// GetStorage returns the backend, or types.ErrDisabled when none is
// configured.
func (p *Provider) GetStorage() (types.ObjectStorage, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.initialized {
		return nil, fmt.Errorf("storage not initialized; call Initialize() first")
	}
	if p.storage == nil {
		return nil, types.ErrDisabled
	}
	return p.storage, nil
}

func (p *Provider) IsInitialized() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initialized
}

// Reset forgets the backend. Used by tests.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storage = nil
	p.initialized = false
}
