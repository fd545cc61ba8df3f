package limits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/commands"
	"github.com/guildwarden/warden/countstore"
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
)

func TestValidateAndParse(t *testing.T) {
	assert := assert.New(t)

	actions, err := ParseActions("timeout:10m, sting:2:24h,ban, kick")
	assert.NoError(err)
	assert.Equal([]store.LimitAction{
		{Kind: store.ActionTimeout, Duration: 10 * time.Minute},
		{Kind: store.ActionSting, Stings: 2, Duration: 24 * time.Hour},
		{Kind: store.ActionBan},
		{Kind: store.ActionKick},
	}, actions)
	assert.Equal("timeout:10m0s,sting:2:24h0m0s,ban,kick", FormatActions(actions))

	_, err = ParseActions("explode")
	assert.ErrorIs(err, ErrInvalidLimit)
	_, err = ParseActions("timeout:soon")
	assert.ErrorIs(err, ErrInvalidLimit)

	assert.ErrorIs(Validate(&store.LimitDefinition{Name: "x", Window: 0, MaxHits: 1}), ErrInvalidLimit)
	assert.ErrorIs(Validate(&store.LimitDefinition{Name: "x", Window: time.Minute, MaxHits: 0}), ErrInvalidLimit)
	assert.ErrorIs(Validate(&store.LimitDefinition{Name: "x", Window: time.Minute, MaxHits: 1, Actions: []store.LimitAction{{Kind: store.ActionTimeout}}}), ErrInvalidLimit)
	assert.NoError(Validate(&store.LimitDefinition{Name: "x", Window: time.Minute, MaxHits: 1}))
}

func TestAddViewRemove(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := engine.EngineTestFixture(Module())

	a, err := Add(ctx, eng, "g1", store.LimitDefinition{Name: "first", Window: time.Minute, MaxHits: 3})
	assert.NoError(err)
	b, err := Add(ctx, eng, "g1", store.LimitDefinition{Name: "second", Window: time.Hour, MaxHits: 5})
	assert.NoError(err)
	_, err = Add(ctx, eng, "g2", store.LimitDefinition{Name: "other", Window: time.Hour, MaxHits: 5})
	assert.NoError(err)

	defs, err := View(ctx, eng, "g1")
	assert.NoError(err)
	assert.Len(defs, 2)
	assert.Equal(a.ID, defs[0].ID)
	assert.Equal(b.ID, defs[1].ID)

	assert.NoError(Remove(ctx, eng, "g1", a.ID))
	assert.ErrorIs(Remove(ctx, eng, "g1", a.ID), ErrNotFound)
	// other guilds cannot remove it
	assert.ErrorIs(Remove(ctx, eng, "g2", b.ID), ErrNotFound)

	_, err = Hit(ctx, eng, "g1", a.ID, "u1")
	assert.ErrorIs(err, ErrNotFound)
}

func TestHitConcurrentBreachesOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := engine.EngineTestFixture(Module())

	def, err := Add(ctx, eng, "g1", store.LimitDefinition{
		Name:    "spam",
		Window:  time.Hour,
		MaxHits: 50,
		Actions: []store.LimitAction{{Kind: store.ActionTimeout, Duration: 10 * time.Minute}},
	})
	assert.NoError(err)

	var wg sync.WaitGroup
	results := make([]*HitResult, 100)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := Hit(ctx, eng, "g1", def.ID, "u1")
			assert.NoError(err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	maxCount, triggered, breached := 0, 0, 0
	seen := map[int]bool{}
	for _, r := range results {
		if r == nil {
			continue
		}
		seen[r.Count] = true
		maxCount = max(maxCount, r.Count)
		if r.Triggered {
			triggered++
			assert.Equal(50, r.Count)
			assert.Len(r.Actions, 1)
		}
		if r.Breached {
			breached++
		}
	}
	assert.Equal(100, maxCount)
	// every count from 1 to 100 was observed once
	assert.Len(seen, 100)
	assert.Equal(1, triggered)
	assert.Equal(51, breached)

	timeouts := 0
	for _, a := range eng.MockPlatform().Actions() {
		if a.Kind == "timeout" {
			timeouts++
		}
	}
	assert.Equal(1, timeouts)

	n, err := eng.Hits.Count(ctx, keyFor(def, "u1"), eng.Now(), def.Window)
	assert.NoError(err)
	assert.Equal(100, n)
}

func keyFor(def *store.LimitDefinition, target string) countstore.Key {
	return countstore.Key{GuildID: def.GuildID, LimitID: def.ID, TargetID: target}
}

func TestHitActions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var mu sync.Mutex
	var created []event.Kind
	recorder := engine.Module{
		ID: "recorder",
		Listener: engine.ListenerFuncs{
			FilterFunc: event.KindFilter(event.KindStingCreate, event.KindPunishmentCreate),
			HandleFunc: func(ectx *engine.EventHandlerContext) error {
				mu.Lock()
				defer mu.Unlock()
				created = append(created, ectx.Event.Kind())
				return nil
			},
		},
	}
	eng := engine.EngineTestFixture(Module(), recorder)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	eng.Clock = func() time.Time { return now }
	eng.MockPlatform().Errors["ban"] = platform.ErrForbidden
	eng.MockPlatform().InsertMember(platform.Member{GuildID: "g1", UserID: "u1", Roles: []string{"r1", "r2"}})

	def, err := Add(ctx, eng, "g1", store.LimitDefinition{
		Name:    "raid",
		Window:  time.Minute,
		MaxHits: 2,
		Actions: []store.LimitAction{
			{Kind: store.ActionBan, Duration: time.Hour},
			{Kind: store.ActionSting, Stings: 3, Duration: 24 * time.Hour},
			{Kind: store.ActionRemoveAllRoles},
		},
	})
	assert.NoError(err)

	res, err := Hit(ctx, eng, "g1", def.ID, "u1")
	assert.NoError(err)
	assert.False(res.Breached)
	assert.Empty(res.Actions)

	res, err = Hit(ctx, eng, "g1", def.ID, "u1")
	assert.NoError(err)
	assert.True(res.Triggered)
	assert.Len(res.Actions, 3)

	// the failed ban does not stop the remaining actions
	assert.True(errors.Is(res.Actions[0].Err, platform.ErrForbidden))
	assert.NoError(res.Actions[1].Err)
	assert.NoError(res.Actions[2].Err)

	st, err := eng.Store.GetSting(ctx, res.Actions[1].RecordID)
	assert.NoError(err)
	assert.Equal(3, st.Stings)
	assert.Equal("user:u1", st.Target)
	assert.Equal(now.Add(24*time.Hour), st.ExpiresAt.UTC())

	p, err := eng.Store.GetPunishment(ctx, res.Actions[2].RecordID)
	assert.NoError(err)
	assert.Equal("removeallroles", p.Punishment)
	assert.Nil(p.ExpiresAt)
	assert.JSONEq(`{"roles":["r1","r2"]}`, string(p.Data))
	m, err := eng.Platform.Member(ctx, "g1", "u1")
	assert.NoError(err)
	assert.Empty(m.Roles)

	assert.ElementsMatch([]event.Kind{event.KindStingCreate, event.KindPunishmentCreate}, created)

	// a different target has its own series
	res, err = Hit(ctx, eng, "g1", def.ID, "u2")
	assert.NoError(err)
	assert.Equal(1, res.Count)

	// hits age out of the window
	now = now.Add(2 * time.Minute)
	res, err = Hit(ctx, eng, "g1", def.ID, "u1")
	assert.NoError(err)
	assert.Equal(1, res.Count)
}

func TestLimitCommands(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng := engine.EngineTestFixture(Module())
	eng.MockPlatform().InsertMember(platform.Member{GuildID: "g1", UserID: "admin", Administrator: true})
	r := commands.NewRouter(eng)
	inv := func(cmd string, args map[string]any) (string, error) {
		return r.Invoke(ctx, commands.Invocation{GuildID: "g1", UserID: "admin", Command: cmd, Args: args})
	}

	// off until the guild enables it
	_, err := inv("limits view", nil)
	assert.Error(err)
	disabled := false
	assert.NoError(eng.Store.SetModuleConfig(ctx, &store.GuildModuleConfiguration{GuildID: "g1", Module: ModuleID, Disabled: &disabled}))

	reply, err := inv("limits add", map[string]any{"name": "msgs", "window": "1m", "max_hits": float64(1), "actions": "kick"})
	assert.NoError(err)
	assert.Contains(reply, "Added limit")

	defs, err := View(ctx, eng, "g1")
	assert.NoError(err)
	assert.Len(defs, 1)

	reply, err = inv("limits view", nil)
	assert.NoError(err)
	assert.Contains(reply, `"msgs": 1 hits per 1m0s -> kick`)

	reply, err = inv("limits hit", map[string]any{"limit_id": defs[0].ID, "target": "u9"})
	assert.NoError(err)
	assert.Contains(reply, "kick applied")

	reply, err = inv("limitactions view", nil)
	assert.NoError(err)
	assert.Contains(reply, "kick user:u9")

	_, err = inv("limits add", map[string]any{"name": "bad", "window": "1m"})
	assert.ErrorContains(err, "max_hits")

	reply, err = inv("limits remove", map[string]any{"limit_id": defs[0].ID})
	assert.NoError(err)
	assert.Contains(reply, "Removed")
}
