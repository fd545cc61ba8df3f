package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/guildwarden/warden/cachestore"
	"github.com/guildwarden/warden/countstore"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/shard"
	"github.com/guildwarden/warden/store"
)

const DefaultMaxParallel = 16

// Shared application state for dispatching events and running commands.
//
// Careful when initializing: Logger, Registry, Store, Hits, HitLocks, Cache and Platform must all
// be set, even though they are pointer or interface typed.
type Engine struct {
	Logger   *slog.Logger
	Registry *Registry
	Store    *store.Store
	Hits     countstore.HitStore
	HitLocks *countstore.KeyLocker
	Cache    cachestore.CacheStore
	Platform platform.Client
	// outbound HTTP for modules (webhooks, fetches)
	HTTPClient *http.Client
	Shards     shard.Config
	// users allowed to run commands of the root module
	RootUsers []string
	// bound on concurrently running listeners per dispatch
	MaxParallel int
	// overridable in tests
	Clock func() time.Time

	inflight inflight
}

func (eng *Engine) Now() time.Time {
	if eng.Clock != nil {
		return eng.Clock()
	}
	return time.Now()
}

func (eng *Engine) IsRootUser(userID string) bool {
	for _, id := range eng.RootUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// ModuleDisabled applies guild configuration to a module's defaults. Non-toggleable modules are
// never disabled.
func ModuleDisabled(m *Module, cfg *store.GuildModuleConfiguration) bool {
	if !m.Toggleable {
		return false
	}
	if cfg != nil && cfg.Disabled != nil {
		return *cfg.Disabled
	}
	return !m.IsDefaultEnabled
}

// ModuleEnabled reports whether a guild has a module turned on. Listeners of default-disabled
// modules use it, since dispatch itself does not consult guild configuration.
func (eng *Engine) ModuleEnabled(ctx context.Context, guildID, moduleID string) (bool, error) {
	m, err := eng.Registry.Lookup(moduleID)
	if err != nil {
		return false, err
	}
	cfg, err := eng.Store.ModuleConfig(ctx, guildID, moduleID)
	if err != nil {
		return false, fmt.Errorf("checking module %s: %w", moduleID, err)
	}
	return !ModuleDisabled(m, cfg), nil
}

// tracks dispatches in flight so shutdown can drain them
type inflight struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (f *inflight) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *inflight) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *inflight) wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		c := make(chan struct{})
		close(c)
		return c
	}
	return f.idle
}
