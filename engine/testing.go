package engine

import (
	"log/slog"
	"net/http"

	"github.com/guildwarden/warden/cachestore"
	"github.com/guildwarden/warden/countstore"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/shard"
	"github.com/guildwarden/warden/store"
)

// EngineTestFixture returns an engine over in-memory stores and a mock platform, owning every
// shard of a single-shard fleet.
func EngineTestFixture(modules ...Module) *Engine {
	return &Engine{
		Logger:      slog.Default(),
		Registry:    MustBuildRegistry(modules...),
		Store:       store.MemoryStore(),
		Hits:        countstore.NewMemHitStore(),
		HitLocks:    countstore.NewKeyLocker(),
		Cache:       cachestore.NewMemCacheStore(cachestore.DefaultPolicy()),
		Platform:    platform.NewMockClient(),
		HTTPClient:  http.DefaultClient,
		Shards:      shard.Config{Count: 1, Owned: shard.NewSet(0)},
		MaxParallel: DefaultMaxParallel,
	}
}

// MockPlatform returns the fixture's mock client.
func (eng *Engine) MockPlatform() *platform.MockClient {
	mc, ok := eng.Platform.(*platform.MockClient)
	if !ok {
		panic("engine platform is not a mock")
	}
	return mc
}
