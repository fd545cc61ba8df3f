package engine

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/guildwarden/warden/event"
)

var tracer = otel.Tracer("engine")

// Outcome of one module's listener for one event. Err is nil, a *ModuleHandlerError or a
// *TaskFailure.
type Outcome struct {
	ModuleID string
	Kind     event.Kind
	Err      error
	Duration time.Duration
}

func (o Outcome) OK() bool {
	return o.Err == nil
}

func (o Outcome) Panicked() bool {
	var tf *TaskFailure
	return errors.As(o.Err, &tf)
}

type DispatchResult struct {
	GuildID string
	Kind    event.Kind
	// one per accepting module, in registration order
	Outcomes []Outcome
}

func (r DispatchResult) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// DispatchEvent builds the handler context for an event and fans it out.
func (eng *Engine) DispatchEvent(ctx context.Context, guildID string, evt event.Event) DispatchResult {
	return eng.DispatchEventToModules(eng.NewEventHandlerContext(ctx, guildID, evt))
}

// DispatchEventToModules offers the event to every registered module whose listener accepts it.
// Accepted listeners run concurrently, bounded by MaxParallel. A failing or panicking listener
// never cancels or blocks its siblings; all are joined, and failures are logged and returned as
// outcomes. Dispatch itself never fails.
func (eng *Engine) DispatchEventToModules(ectx *EventHandlerContext) DispatchResult {
	eng.inflight.add()
	defer eng.inflight.done()

	kind := ectx.Event.Kind()
	start := time.Now()
	ctx, span := tracer.Start(ectx.Ctx, "DispatchEvent", trace.WithAttributes(
		attribute.String("guild", ectx.GuildID),
		attribute.String("event.kind", string(kind)),
	))
	defer span.End()

	res := DispatchResult{GuildID: ectx.GuildID, Kind: kind}
	var accepted []*Module
	for _, m := range eng.Registry.All() {
		if m.Listener == nil {
			continue
		}
		if !m.Listener.Filter(ectx.Event) {
			continue
		}
		accepted = append(accepted, m)
	}
	res.Outcomes = make([]Outcome, len(accepted))

	limit := eng.MaxParallel
	if limit <= 0 {
		limit = DefaultMaxParallel
	}
	// a plain Group: tasks always return nil, so one failure cancels nothing
	var g errgroup.Group
	g.SetLimit(limit)
	for i, m := range accepted {
		g.Go(func() error {
			res.Outcomes[i] = eng.runListener(ctx, ectx, m)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range res.Outcomes {
		if o.OK() {
			ectx.Logger.Debug("module handled event", "module", o.ModuleID, "duration", o.Duration)
			continue
		}
		failed++
		var tf *TaskFailure
		if errors.As(o.Err, &tf) {
			ectx.Logger.Error("module listener panicked", "module", o.ModuleID, "kind", kind, "severity", "critical", "err", tf.Value, "stack", string(tf.Stack))
		} else {
			ectx.Logger.Error("module listener failed", "module", o.ModuleID, "kind", kind, "err", o.Err)
		}
	}
	if failed > 0 {
		span.SetStatus(codes.Error, "module failures")
		span.SetAttributes(attribute.Int("failed", failed))
	}
	dispatchCount.WithLabelValues(string(kind)).Inc()
	dispatchDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	return res
}

func (eng *Engine) runListener(ctx context.Context, ectx *EventHandlerContext, m *Module) (out Outcome) {
	kind := ectx.Event.Kind()
	out = Outcome{ModuleID: m.ID, Kind: kind}
	_, span := tracer.Start(ctx, "ModuleListener", trace.WithAttributes(attribute.String("module", m.ID)))
	start := time.Now()

	// similar to an HTTP server, recover any panics from listener execution
	defer func() {
		if r := recover(); r != nil {
			out.Err = &TaskFailure{ModuleID: m.ID, Kind: kind, Value: r, Stack: debug.Stack()}
		}
		out.Duration = time.Since(start)
		status := "ok"
		switch {
		case out.Panicked():
			status = "panic"
		case out.Err != nil:
			status = "error"
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, status)
		}
		span.End()
		listenerCount.WithLabelValues(m.ID, string(kind), status).Inc()
		listenerDuration.WithLabelValues(m.ID).Observe(out.Duration.Seconds())
	}()

	if err := m.Listener.Handle(ectx); err != nil {
		out.Err = &ModuleHandlerError{ModuleID: m.ID, Kind: kind, Err: err}
	}
	return out
}

// Drain waits for in-flight dispatches to finish, or for ctx to expire.
func (eng *Engine) Drain(ctx context.Context) error {
	select {
	case <-eng.inflight.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
