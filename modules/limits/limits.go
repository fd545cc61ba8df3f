// Guild rate limits: sliding window hit counters that apply punitive actions when a threshold
// is crossed.
package limits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guildwarden/warden/countstore"
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/store"
)

const ModuleID = "limits"

var (
	ErrInvalidLimit = errors.New("invalid limit definition")
	ErrNotFound     = errors.New("limit not found")
)

var limitBreaches = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_limit_breaches",
	Help: "Number of times a limit threshold was crossed",
})

var actionsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_limit_actions",
	Help: "Number of limit actions applied, by kind and status",
}, []string{"kind", "status"})

// ActionOutcome is the result of one configured action on breach.
type ActionOutcome struct {
	Kind store.LimitActionKind
	// id of the recorded punishment or sting, if any
	RecordID string
	Err      error
}

// RemovedRoles is the data of a removeallroles punishment.
type RemovedRoles struct {
	Roles []string `json:"roles"`
}

type HitResult struct {
	Count     int
	Threshold int
	// the count is at or over the threshold
	Breached bool
	// this hit crossed the threshold and the actions were applied
	Triggered bool
	Actions   []ActionOutcome
}

func Validate(def *store.LimitDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidLimit)
	}
	if def.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidLimit)
	}
	if def.MaxHits < 1 {
		return fmt.Errorf("%w: max hits must be at least 1", ErrInvalidLimit)
	}
	for _, a := range def.Actions {
		if !a.Kind.Valid() {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidLimit, a.Kind)
		}
		if a.Kind == store.ActionTimeout && a.Duration <= 0 {
			return fmt.Errorf("%w: timeout needs a duration", ErrInvalidLimit)
		}
		if a.Duration < 0 || a.Stings < 0 {
			return fmt.Errorf("%w: negative value in action %q", ErrInvalidLimit, a.Kind)
		}
	}
	return nil
}

// Add validates and stores a new definition for the guild.
func Add(ctx context.Context, eng *engine.Engine, guildID string, def store.LimitDefinition) (*store.LimitDefinition, error) {
	def.ID = ""
	def.GuildID = guildID
	if err := Validate(&def); err != nil {
		return nil, err
	}
	if err := eng.Store.CreateLimit(ctx, &def); err != nil {
		return nil, fmt.Errorf("storing limit: %w", err)
	}
	return &def, nil
}

// View lists the guild's definitions in creation order.
func View(ctx context.Context, eng *engine.Engine, guildID string) ([]store.LimitDefinition, error) {
	return eng.Store.ListLimits(ctx, guildID)
}

func Remove(ctx context.Context, eng *engine.Engine, guildID, limitID string) error {
	err := eng.Store.DeleteLimit(ctx, guildID, limitID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", limitID, ErrNotFound)
	}
	return err
}

// Hit records one hit against a limit for a target user. Recording and evaluation hold the
// series lock, so concurrent hits are never under-counted and the actions run exactly once per
// crossing of the threshold.
func Hit(ctx context.Context, eng *engine.Engine, guildID, limitID, targetID string) (*HitResult, error) {
	def, err := eng.Store.GetLimit(ctx, guildID, limitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", limitID, ErrNotFound)
	} else if err != nil {
		return nil, err
	}

	key := countstore.Key{GuildID: guildID, LimitID: def.ID, TargetID: targetID}
	unlock := eng.HitLocks.Lock(key)
	defer unlock()

	now := eng.Now()
	count, err := eng.Hits.Record(ctx, key, now, def.Window)
	if err != nil {
		return nil, fmt.Errorf("recording hit: %w", err)
	}
	res := &HitResult{
		Count:     count,
		Threshold: def.MaxHits,
		Breached:  count >= def.MaxHits,
		// the previous count was count-1; the threshold is crossed exactly once per window
		Triggered: count == def.MaxHits,
	}
	if !res.Triggered {
		return res, nil
	}

	limitBreaches.Inc()
	logger := eng.Logger.With("module", ModuleID, "guild", guildID, "limit", def.ID, "target", targetID)
	logger.Info("limit threshold crossed", "count", count, "threshold", def.MaxHits)
	for _, a := range def.Actions {
		out := applyAction(ctx, eng, def, targetID, a, now)
		status := "ok"
		if out.Err != nil {
			status = "error"
			logger.Warn("limit action failed", "action", a.Kind, "err", out.Err)
		}
		actionsApplied.WithLabelValues(string(a.Kind), status).Inc()
		res.Actions = append(res.Actions, out)
	}
	return res, nil
}

func reason(def *store.LimitDefinition) string {
	return fmt.Sprintf("Exceeded limit %q (%d hits in %s)", def.Name, def.MaxHits, def.Window)
}

func applyAction(ctx context.Context, eng *engine.Engine, def *store.LimitDefinition, targetID string, a store.LimitAction, now time.Time) ActionOutcome {
	out := ActionOutcome{Kind: a.Kind}
	why := reason(def)
	var data json.RawMessage
	var dur *time.Duration
	if a.Duration > 0 {
		d := a.Duration
		dur = &d
	}

	switch a.Kind {
	case store.ActionSting:
		st := &store.Sting{
			Module:    ModuleID,
			GuildID:   def.GuildID,
			Stings:    max(a.Stings, 1),
			Reason:    why,
			Creator:   string(event.TargetSystem),
			Target:    string(event.UserTarget(targetID)),
			CreatedAt: now,
		}
		if dur != nil {
			exp := now.Add(*dur)
			st.ExpiresAt = &exp
		}
		if out.Err = eng.Store.CreateSting(ctx, st); out.Err != nil {
			return out
		}
		out.RecordID = st.ID
		eng.DispatchEvent(ctx, def.GuildID, event.StingCreate{Sting: st.Event()})
		return out
	case store.ActionTimeout:
		until := now.Add(a.Duration)
		out.Err = eng.Platform.Timeout(ctx, def.GuildID, targetID, &until, why)
	case store.ActionKick:
		out.Err = eng.Platform.Kick(ctx, def.GuildID, targetID, why)
		dur = nil
	case store.ActionBan:
		out.Err = eng.Platform.Ban(ctx, def.GuildID, targetID, why)
	case store.ActionRemoveAllRoles:
		// remember the roles so the punishment can be reverted on expiry
		m, err := eng.Platform.Member(ctx, def.GuildID, targetID)
		if err != nil {
			out.Err = err
			return out
		}
		if data, err = json.Marshal(RemovedRoles{Roles: m.Roles}); err != nil {
			out.Err = err
			return out
		}
		out.Err = eng.Platform.SetRoles(ctx, def.GuildID, targetID, nil, why)
	default:
		out.Err = fmt.Errorf("unknown action %q", a.Kind)
	}
	if out.Err != nil {
		return out
	}

	p := &store.Punishment{
		Module:     ModuleID,
		GuildID:    def.GuildID,
		Punishment: string(a.Kind),
		Reason:     why,
		Creator:    string(event.TargetSystem),
		Target:     string(event.UserTarget(targetID)),
		Duration:   dur,
		Data:       data,
		CreatedAt:  now,
	}
	if out.Err = eng.Store.CreatePunishment(ctx, p); out.Err != nil {
		return out
	}
	out.RecordID = p.ID
	eng.DispatchEvent(ctx, def.GuildID, event.PunishmentCreate{Punishment: p.Event()})
	return out
}

// ParseActions parses a comma separated action list. Each action is "kind", "kind:duration",
// or for stings "sting:count" and "sting:count:duration".
func ParseActions(raw string) ([]store.LimitAction, error) {
	var out []store.LimitAction
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		a := store.LimitAction{Kind: store.LimitActionKind(strings.ToLower(fields[0]))}
		rest := fields[1:]
		if a.Kind == store.ActionSting && len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil {
				return nil, fmt.Errorf("%w: sting count %q", ErrInvalidLimit, rest[0])
			}
			a.Stings = n
			rest = rest[1:]
		}
		switch len(rest) {
		case 0:
		case 1:
			d, err := time.ParseDuration(rest[0])
			if err != nil {
				return nil, fmt.Errorf("%w: duration %q", ErrInvalidLimit, rest[0])
			}
			a.Duration = d
		default:
			return nil, fmt.Errorf("%w: malformed action %q", ErrInvalidLimit, part)
		}
		if !a.Kind.Valid() {
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidLimit, a.Kind)
		}
		out = append(out, a)
	}
	return out, nil
}

func FormatActions(actions []store.LimitAction) string {
	if len(actions) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		s := string(a.Kind)
		if a.Kind == store.ActionSting {
			s += ":" + strconv.Itoa(max(a.Stings, 1))
		}
		if a.Duration > 0 {
			s += ":" + a.Duration.String()
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ",")
}
