// Closed set of system events offered to module listeners.
//
// The set of variants is closed by an unexported method on Event. Code that must treat every
// variant (audit logging, naming) implements Visitor, so adding a variant breaks the build until
// each visitor is updated.
package event

import (
	"encoding/json"
)

type Kind string

const (
	KindStingCreate      Kind = "StingCreate"
	KindStingExpire      Kind = "StingExpire"
	KindStingDelete      Kind = "StingDelete"
	KindPunishmentCreate Kind = "PunishmentCreate"
	KindPunishmentExpire Kind = "PunishmentExpire"
	KindCustom           Kind = "Custom"
)

// AllKinds lists every variant in declaration order.
var AllKinds = []Kind{
	KindStingCreate,
	KindStingExpire,
	KindStingDelete,
	KindPunishmentCreate,
	KindPunishmentExpire,
	KindCustom,
}

type Event interface {
	Kind() Kind
	Accept(v Visitor) error
	isEvent()
}

type Visitor interface {
	VisitStingCreate(StingCreate) error
	VisitStingExpire(StingExpire) error
	VisitStingDelete(StingDelete) error
	VisitPunishmentCreate(PunishmentCreate) error
	VisitPunishmentExpire(PunishmentExpire) error
	VisitCustom(Custom) error
}

type StingCreate struct{ Sting Sting }
type StingExpire struct{ Sting Sting }
type StingDelete struct{ Sting Sting }
type PunishmentCreate struct{ Punishment Punishment }
type PunishmentExpire struct{ Punishment Punishment }

// Custom carries module-defined payloads. Name is the machine-readable event name, Title a short
// human description.
type Custom struct {
	Name  string          `json:"name"`
	Title string          `json:"title"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (StingCreate) Kind() Kind      { return KindStingCreate }
func (StingExpire) Kind() Kind      { return KindStingExpire }
func (StingDelete) Kind() Kind      { return KindStingDelete }
func (PunishmentCreate) Kind() Kind { return KindPunishmentCreate }
func (PunishmentExpire) Kind() Kind { return KindPunishmentExpire }
func (Custom) Kind() Kind           { return KindCustom }

func (e StingCreate) Accept(v Visitor) error      { return v.VisitStingCreate(e) }
func (e StingExpire) Accept(v Visitor) error      { return v.VisitStingExpire(e) }
func (e StingDelete) Accept(v Visitor) error      { return v.VisitStingDelete(e) }
func (e PunishmentCreate) Accept(v Visitor) error { return v.VisitPunishmentCreate(e) }
func (e PunishmentExpire) Accept(v Visitor) error { return v.VisitPunishmentExpire(e) }
func (e Custom) Accept(v Visitor) error           { return v.VisitCustom(e) }

func (StingCreate) isEvent()      {}
func (StingExpire) isEvent()      {}
func (StingDelete) isEvent()      {}
func (PunishmentCreate) isEvent() {}
func (PunishmentExpire) isEvent() {}
func (Custom) isEvent()           {}

// Filter is a pure predicate deciding whether a listener wants an event.
type Filter func(Event) bool

// KindFilter accepts only the given kinds.
func KindFilter(kinds ...Kind) Filter {
	want := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return func(e Event) bool {
		return want[e.Kind()]
	}
}

func AcceptAll(Event) bool {
	return true
}

// Payload returns the JSON form of the event's payload.
func Payload(e Event) (json.RawMessage, error) {
	switch v := e.(type) {
	case Custom:
		return v.Data, nil
	default:
		return json.Marshal(e)
	}
}
