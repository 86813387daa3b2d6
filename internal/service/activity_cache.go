package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"commonwealth/internal/domain"
	"commonwealth/internal/repository"
)

const (
	globalActivityKey     = "global_activity"
	globalActivityLockKey = "global_activity_lock"
)

// El lock solo se libera si sigue siendo nuestro.
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type activityCacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type ActivityCacheConfig struct {
	CacheTTL        time.Duration
	LockTTL         time.Duration
	RefreshInterval time.Duration
	Limit           int
}

// ActivityCache mantiene el feed global precalculado en redis. Las lecturas nunca bloquean:
// un miss recalcula en linea.
type ActivityCache struct {
	repo   repository.ActivityRepository
	cache  activityCacheClient
	cfg    ActivityCacheConfig
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewActivityCache(logger *zap.Logger, repo repository.ActivityRepository, cache activityCacheClient, cfg ActivityCacheConfig) *ActivityCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.LockTTL <= 0 || cfg.LockTTL >= cfg.RefreshInterval {
		cfg.LockTTL = cfg.RefreshInterval / 2
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	return &ActivityCache{
		repo:   repo,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

// Start refresca de inmediato y luego en cada tick. Llamadas repetidas no tienen efecto.
func (c *ActivityCache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(c.cfg.RefreshInterval)
		defer ticker.Stop()

		c.Refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}(c.done)
	c.logger.Info("global activity cache started", zap.Duration("interval", c.cfg.RefreshInterval))
}

// Stop detiene el refresco y espera a que termine el ciclo en curso.
func (c *ActivityCache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Refresh recalcula el feed si obtiene el lock. Los errores se registran y no se propagan.
func (c *ActivityCache) Refresh(ctx context.Context) {
	if c.cache == nil {
		return
	}
	token := uuid.NewString()
	acquired, err := c.cache.SetNX(ctx, globalActivityLockKey, token, c.cfg.LockTTL).Result()
	if err != nil {
		c.logger.Warn("global activity lock failed", zap.Error(err))
		return
	}
	if !acquired {
		c.logger.Debug("global activity refresh skipped, lock held elsewhere")
		return
	}
	defer func() {
		if err := c.cache.Eval(context.WithoutCancel(ctx), releaseLockScript, []string{globalActivityLockKey}, token).Err(); err != nil {
			c.logger.Warn("global activity lock release failed", zap.Error(err))
		}
	}()

	items, err := c.repo.GlobalActivity(ctx, c.cfg.Limit)
	if err != nil {
		c.logger.Error("global activity query failed", zap.Error(err))
		return
	}
	payload, err := json.Marshal(items)
	if err != nil {
		c.logger.Error("global activity encode failed", zap.Error(err))
		return
	}
	if err := c.cache.Set(ctx, globalActivityKey, payload, c.cfg.CacheTTL).Err(); err != nil {
		c.logger.Warn("global activity cache write failed", zap.Error(err))
		return
	}
	c.logger.Debug("global activity refreshed", zap.Int("items", len(items)))
}

// GetGlobalActivity lee del cache y cae a la consulta en vivo ante miss o error.
func (c *ActivityCache) GetGlobalActivity(ctx context.Context) ([]domain.ActivityItem, error) {
	if c.cache != nil {
		raw, err := c.cache.Get(ctx, globalActivityKey).Bytes()
		switch {
		case err == nil:
			var items []domain.ActivityItem
			jerr := json.Unmarshal(raw, &items)
			if jerr == nil {
				return items, nil
			}
			c.logger.Warn("global activity cache decode failed", zap.Error(jerr))
		case errors.Is(err, redis.Nil):
			c.logger.Debug("global activity cache miss")
		default:
			c.logger.Warn("global activity cache read failed", zap.Error(err))
		}
	}
	return c.repo.GlobalActivity(ctx, c.cfg.Limit)
}
