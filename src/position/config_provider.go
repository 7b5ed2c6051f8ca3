package position

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"coinpulse/src/model"
	"coinpulse/src/repository"
)

// ConfigProvider returns the validated trading config of a user.
type ConfigProvider interface {
	TradingConfig(ctx context.Context, userID uint) (model.UserTradingConfig, error)
}

type cachedConfig struct {
	cfg      model.UserTradingConfig
	loadedAt time.Time
}

// DBConfigProvider reads configs from the database, falls back to file defaults,
// and validates each config once when it is loaded into the cache.
type DBConfigProvider struct {
	repo     *repository.TradingConfigRepository
	defaults *model.UserTradingConfig
	ttl      time.Duration

	mu    sync.Mutex
	cache map[uint]cachedConfig
	now   func() time.Time
}

func NewDBConfigProvider(repo *repository.TradingConfigRepository, defaults *model.UserTradingConfig, ttl time.Duration) *DBConfigProvider {
	return &DBConfigProvider{
		repo:     repo,
		defaults: defaults,
		ttl:      ttl,
		cache:    make(map[uint]cachedConfig),
		now:      time.Now,
	}
}

func (p *DBConfigProvider) TradingConfig(ctx context.Context, userID uint) (model.UserTradingConfig, error) {
	p.mu.Lock()
	if c, ok := p.cache[userID]; ok && (p.ttl <= 0 || p.now().Sub(c.loadedAt) < p.ttl) {
		p.mu.Unlock()
		return c.cfg, nil
	}
	p.mu.Unlock()

	stored, err := p.repo.GetByUserID(ctx, userID)
	if err != nil {
		return model.UserTradingConfig{}, fmt.Errorf("load trading config for user %d: %w", userID, err)
	}

	var cfg model.UserTradingConfig
	switch {
	case stored != nil:
		cfg = *stored
	case p.defaults != nil:
		cfg = *p.defaults
		cfg.UserID = userID
	default:
		return model.UserTradingConfig{}, fmt.Errorf("user %d: %w", userID, ErrNoTradingConfig)
	}

	if err := cfg.Validate(); err != nil {
		logger.WithFields(map[string]interface{}{
			"component": "DBConfigProvider",
			"user_id":   userID,
		}).WithError(err).Error("trading config rejected")
		return model.UserTradingConfig{}, fmt.Errorf("user %d: %w: %v", userID, ErrInvalidConfig, err)
	}

	p.mu.Lock()
	p.cache[userID] = cachedConfig{cfg: cfg, loadedAt: p.now()}
	p.mu.Unlock()
	return cfg, nil
}

// Invalidate drops cached configs so the next read reloads them.
func (p *DBConfigProvider) Invalidate() {
	p.mu.Lock()
	p.cache = make(map[uint]cachedConfig)
	p.mu.Unlock()
}

// StaticConfigProvider serves fixed configs; used by one-shot commands and tests.
type StaticConfigProvider map[uint]model.UserTradingConfig

func (s StaticConfigProvider) TradingConfig(_ context.Context, userID uint) (model.UserTradingConfig, error) {
	cfg, ok := s[userID]
	if !ok {
		return model.UserTradingConfig{}, fmt.Errorf("user %d: %w", userID, ErrNoTradingConfig)
	}
	if err := cfg.Validate(); err != nil {
		return model.UserTradingConfig{}, fmt.Errorf("user %d: %w: %v", userID, ErrInvalidConfig, err)
	}
	return cfg, nil
}

// LoadDefaults reads default trading limits from a YAML file. An empty path returns nil.
func LoadDefaults(path string) (*model.UserTradingConfig, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trading defaults %s: %w", path, err)
	}
	var cfg model.UserTradingConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse trading defaults %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trading defaults %s: %w: %v", path, ErrInvalidConfig, err)
	}
	return &cfg, nil
}
