package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guildwarden/warden/event"
)

func listenerModule(id string, filter event.Filter, handle func(*EventHandlerContext) error) Module {
	return Module{
		ID:       id,
		Listener: ListenerFuncs{FilterFunc: filter, HandleFunc: handle},
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var ran atomic.Int32
	ok := func(ectx *EventHandlerContext) error {
		ran.Add(1)
		return nil
	}
	eng := EngineTestFixture(
		listenerModule("one", event.AcceptAll, ok),
		listenerModule("broken", event.AcceptAll, func(*EventHandlerContext) error { return errors.New("boom") }),
		listenerModule("two", event.AcceptAll, ok),
		listenerModule("panics", event.AcceptAll, func(*EventHandlerContext) error { panic("oh no") }),
		listenerModule("three", event.AcceptAll, ok),
		pingModule(),
	)

	res := eng.DispatchEvent(ctx, "g1", event.StingExpire{Sting: event.Sting{ID: "s1", GuildID: "g1"}})
	assert.Equal(int32(3), ran.Load())
	assert.Equal(event.KindStingExpire, res.Kind)
	assert.Len(res.Outcomes, 5)

	ids := []string{}
	for _, o := range res.Outcomes {
		ids = append(ids, o.ModuleID)
	}
	assert.Equal([]string{"one", "broken", "two", "panics", "three"}, ids)

	failed := res.Failed()
	assert.Len(failed, 2)

	var mh *ModuleHandlerError
	assert.True(errors.As(failed[0].Err, &mh))
	assert.Equal("broken", mh.ModuleID)
	assert.Equal(event.KindStingExpire, mh.Kind)
	assert.False(failed[0].Panicked())

	var tf *TaskFailure
	assert.True(errors.As(failed[1].Err, &tf))
	assert.Equal("panics", tf.ModuleID)
	assert.Equal("oh no", tf.Value)
	assert.NotEmpty(tf.Stack)
	assert.True(failed[1].Panicked())
}

func TestDispatchFilters(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var mu sync.Mutex
	seen := map[string][]event.Kind{}
	record := func(id string) func(*EventHandlerContext) error {
		return func(ectx *EventHandlerContext) error {
			mu.Lock()
			defer mu.Unlock()
			seen[id] = append(seen[id], ectx.Event.Kind())
			assert.Equal("g1", ectx.GuildID)
			assert.NotNil(ectx.Engine())
			return nil
		}
	}
	eng := EngineTestFixture(
		listenerModule("punish", event.KindFilter(event.KindPunishmentExpire), record("punish")),
		listenerModule("all", event.AcceptAll, record("all")),
		listenerModule("nilfilter", nil, record("nilfilter")),
	)

	res := eng.DispatchEvent(ctx, "g1", event.PunishmentExpire{})
	assert.Len(res.Outcomes, 2)
	res = eng.DispatchEvent(ctx, "g1", event.StingCreate{})
	assert.Len(res.Outcomes, 1)

	assert.Equal([]event.Kind{event.KindPunishmentExpire}, seen["punish"])
	assert.Equal([]event.Kind{event.KindPunishmentExpire, event.KindStingCreate}, seen["all"])
	assert.Empty(seen["nilfilter"])
}

func TestDispatchRunsInParallel(t *testing.T) {
	assert := assert.New(t)

	// every listener waits for all the others to start; a serial dispatcher would deadlock
	const n = 4
	var started sync.WaitGroup
	started.Add(n)
	barrier := func(*EventHandlerContext) error {
		started.Done()
		started.Wait()
		return nil
	}
	var mods []Module
	for _, id := range []string{"a", "b", "c", "d"} {
		mods = append(mods, listenerModule(id, event.AcceptAll, barrier))
	}
	eng := EngineTestFixture(mods...)

	done := make(chan DispatchResult)
	go func() { done <- eng.DispatchEvent(context.Background(), "g1", event.Custom{Name: "x"}) }()
	select {
	case res := <-done:
		assert.Empty(res.Failed())
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not run listeners concurrently")
	}
}

func TestDispatchIgnoresCallerCancellation(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := EngineTestFixture(listenerModule("a", event.AcceptAll, func(ectx *EventHandlerContext) error {
		return ectx.Ctx.Err()
	}))
	res := eng.DispatchEvent(ctx, "g1", event.Custom{})
	assert.Empty(res.Failed())
}

func TestDrain(t *testing.T) {
	assert := assert.New(t)

	release := make(chan struct{})
	eng := EngineTestFixture(listenerModule("slow", event.AcceptAll, func(*EventHandlerContext) error {
		<-release
		return nil
	}))

	assert.NoError(eng.Drain(context.Background()))

	go eng.DispatchEvent(context.Background(), "g1", event.Custom{})
	// wait until the dispatch is registered as in flight
	assert.Eventually(func() bool {
		select {
		case <-eng.inflight.wait():
			return false
		default:
			return true
		}
	}, time.Second, time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(eng.Drain(short), context.DeadlineExceeded)

	close(release)
	assert.NoError(eng.Drain(context.Background()))
}
