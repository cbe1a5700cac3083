package converter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type registryEntry struct {
	ctrl     *Controller
	lastUsed time.Time
}

// Registry は作業キー（ブラウザセッションごとの識別子）ごとに Controller を保持します。
// 一定時間操作のない Controller は Sweep で破棄され、ハンドルも解放されます。
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	factory func() (*Controller, error)
	idle    time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewRegistry は factory で Controller を作る Registry を返します。idle が 0 以下なら自動破棄しません。
func NewRegistry(factory func() (*Controller, error), idle time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		factory: factory,
		idle:    idle,
		now:     time.Now,
		logger:  logger,
	}
}

// Get は key の Controller を返します。なければ、または閉じられていれば作成し直します。
func (r *Registry) Get(key string) (*Controller, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("workspace key is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok && !e.ctrl.isClosed() {
		e.lastUsed = r.now()
		return e.ctrl, nil
	}
	ctrl, err := r.factory()
	if err != nil {
		return nil, err
	}
	r.entries[key] = &registryEntry{ctrl: ctrl, lastUsed: r.now()}
	r.logger.Debug().Str("workspace", key).Msg("workspace created")
	return ctrl, nil
}

// Drop は key の Controller を破棄します。
func (r *Registry) Drop(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if ok {
		e.ctrl.Close()
		r.logger.Debug().Str("workspace", key).Msg("workspace dropped")
	}
}

// Sweep は idle を超えて使われていない Controller を破棄し、その数を返します。
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var expired []*Controller
	for key, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			expired = append(expired, e.ctrl)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, ctrl := range expired {
		ctrl.Close()
	}
	if len(expired) > 0 {
		r.logger.Info().Int("count", len(expired)).Msg("idle workspaces swept")
	}
	return len(expired)
}

// Len は保持している Controller の数を返します。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Run は ctx が終了するまで interval ごとに Sweep を実行し、終了時にすべて破棄します。
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()
	for _, e := range entries {
		e.ctrl.Close()
	}
}
