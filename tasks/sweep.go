package tasks

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/platform"
)

const (
	PunishmentSweepInterval = 30 * time.Second
	StingSweepInterval      = 20 * time.Second
	StatusInterval          = 5 * time.Minute
)

// SweepResult counts what one expiry sweep saw and did.
type SweepResult struct {
	Expired int
	// owned by another process
	NotOwned int
	// claimed by a concurrent sweep first
	Lost       int
	Dispatched int
}

// SweepPunishments dispatches PunishmentExpire for every expired punishment of an owned guild.
// Each punishment is claimed before dispatch so it is expired at most once.
func SweepPunishments(ctx context.Context, eng *engine.Engine) (SweepResult, error) {
	var res SweepResult
	rows, err := eng.Store.ExpiredPunishments(ctx, eng.Now())
	if err != nil {
		return res, fmt.Errorf("listing expired punishments: %w", err)
	}
	res.Expired = len(rows)
	for _, p := range rows {
		if !eng.Shards.OwnsGuild(p.GuildID) {
			res.NotOwned++
			continue
		}
		claimed, err := eng.Store.ClaimPunishment(ctx, p.ID)
		if err != nil {
			return res, fmt.Errorf("claiming punishment %s: %w", p.ID, err)
		}
		if !claimed {
			res.Lost++
			continue
		}
		evt := p.Event()
		evt.IsHandled = true
		eng.DispatchEvent(ctx, p.GuildID, event.PunishmentExpire{Punishment: evt})
		res.Dispatched++
	}
	return res, nil
}

// SweepStings dispatches StingExpire for every expired active sting of an owned guild.
func SweepStings(ctx context.Context, eng *engine.Engine) (SweepResult, error) {
	var res SweepResult
	rows, err := eng.Store.ExpiredStings(ctx, eng.Now())
	if err != nil {
		return res, fmt.Errorf("listing expired stings: %w", err)
	}
	res.Expired = len(rows)
	for _, st := range rows {
		if !eng.Shards.OwnsGuild(st.GuildID) {
			res.NotOwned++
			continue
		}
		claimed, err := eng.Store.ExpireSting(ctx, st.ID)
		if err != nil {
			return res, fmt.Errorf("expiring sting %s: %w", st.ID, err)
		}
		if !claimed {
			res.Lost++
			continue
		}
		evt := st.Event()
		evt.State = event.StingHandled
		eng.DispatchEvent(ctx, st.GuildID, event.StingExpire{Sting: evt})
		res.Dispatched++
	}
	return res, nil
}

var Statuses = []platform.Status{
	{Kind: platform.ActivityWatching, Text: "over your server"},
	{Kind: platform.ActivityWatching, Text: "for raids"},
	{Kind: platform.ActivityListening, Text: "to the audit log"},
	{Kind: platform.ActivityPlaying, Text: "with rate limits"},
}

// UpdateStatus sets a random presence on every gateway connection.
func UpdateStatus(ctx context.Context, client platform.Client) error {
	return client.SetStatus(ctx, Statuses[rand.IntN(len(Statuses))])
}

// Default returns the sweeps and the status updater.
func Default(eng *engine.Engine) []Task {
	logger := eng.Logger.With("component", "tasks")
	logSweep := func(name string, f func(context.Context, *engine.Engine) (SweepResult, error)) func(context.Context) error {
		return func(ctx context.Context) error {
			res, err := f(ctx, eng)
			if res.Expired > 0 {
				logger.Info("sweep finished", "task", name, "expired", res.Expired, "not_owned", res.NotOwned, "lost", res.Lost, "dispatched", res.Dispatched)
			}
			return err
		}
	}
	return []Task{
		{Name: "punishment_expiry", Interval: PunishmentSweepInterval, RunOnStart: true, Run: logSweep("punishment_expiry", SweepPunishments)},
		{Name: "sting_expiry", Interval: StingSweepInterval, RunOnStart: true, Run: logSweep("sting_expiry", SweepStings)},
		{Name: "status", Interval: StatusInterval, RunOnStart: true, Run: func(ctx context.Context) error {
			return UpdateStatus(ctx, eng.Platform)
		}},
	}
}
