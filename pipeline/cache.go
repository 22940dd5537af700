package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// Prediction is one labeled score produced by an instance.
type Prediction struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Instance is a constructed pipeline. Construction is expensive (model
// download, session creation); running it is not.
type Instance interface {
	Classify(ctx context.Context, input string) ([]Prediction, error)
	Close() error
}

// Constructor builds an instance for cfg, reporting progress as it goes.
type Constructor func(ctx context.Context, cfg Config, progress ProgressFunc) (Instance, error)

// Cache holds at most one instance, tagged with the config that built it.
// An instance returned by Get stays valid until a Get with a different config
// replaces it, or until Close.
type Cache struct {
	newInstance Constructor

	// sem serializes constructions. Waiters give up when their context ends.
	sem chan struct{}

	// mu guards instance and tag. It is never held across a construction.
	mu       sync.RWMutex
	instance Instance
	tag      Config
}

func NewCache(fn Constructor) *Cache {
	return &Cache{
		newInstance: fn,
		sem:         make(chan struct{}, 1),
	}
}

// Get returns the held instance when its tag equals cfg. Otherwise it builds
// a new one, replaces (and closes) the held instance and returns the new one.
// progress is only invoked while building.
//
// When construction fails the previous instance is kept under its own tag, so
// a retry with the same cfg builds again instead of returning stale state.
func (c *Cache) Get(ctx context.Context, cfg Config, progress ProgressFunc) (Instance, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	if inst, ok := c.lookup(cfg); ok {
		return inst, nil
	}

	slog.Info("Creating pipeline",
		slog.String("task", cfg.Task),
		slog.String("model", cfg.Model),
		slog.String("device", cfg.Device),
		slog.String("dtype", string(cfg.Dtype)),
		slog.Any("session_options", cfg.SessionOptions),
	)
	start := time.Now()
	inst, err := c.newInstance(ctx, cfg, progress)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline %s: %w", cfg.Key(), err)
	}
	if inst == nil {
		return nil, fmt.Errorf("failed to create pipeline %s: constructor returned no instance", cfg.Key())
	}
	slog.Info("Pipeline ready", slog.String("pipeline", cfg.Key()), slog.Duration("took", time.Since(start)))

	cfg.SessionOptions = maps.Clone(cfg.SessionOptions)
	c.mu.Lock()
	old, oldTag := c.instance, c.tag
	c.instance, c.tag = inst, cfg
	c.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("Failed to close replaced pipeline", slog.String("pipeline", oldTag.Key()), slog.String("error", err.Error()))
		}
	}
	return inst, nil
}

func (c *Cache) lookup(cfg Config) (Instance, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.instance != nil && c.tag.Equal(cfg) {
		return c.instance, true
	}
	return nil, false
}

// Current reports the tag of the held instance. It does not wait for a
// construction in progress.
func (c *Cache) Current() (Config, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.instance == nil {
		return Config{}, false
	}
	tag := c.tag
	tag.SessionOptions = maps.Clone(tag.SessionOptions)
	return tag, true
}

// Close drops and closes the held instance. A construction in progress is not
// interrupted; its result becomes the held instance when it completes.
func (c *Cache) Close() error {
	c.mu.Lock()
	inst := c.instance
	c.instance, c.tag = nil, Config{}
	c.mu.Unlock()
	if inst == nil {
		return nil
	}
	return inst.Close()
}

func (c *Cache) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipeline: %w", ctx.Err())
	}
}

func (c *Cache) release() { <-c.sem }
