package event

import (
	"fmt"
)

// Description is the human-facing label of an event, as shown in audit logs.
type Description struct {
	Name  string
	Title string
}

type describer struct {
	out Description
}

var _ Visitor = (*describer)(nil)

func (d *describer) VisitStingCreate(e StingCreate) error {
	d.out = Description{Name: "AR/StingCreate", Title: fmt.Sprintf("Sting created (%d)", e.Sting.Stings)}
	return nil
}

func (d *describer) VisitStingExpire(e StingExpire) error {
	d.out = Description{Name: "AR/StingExpire", Title: "Sting expired"}
	return nil
}

func (d *describer) VisitStingDelete(e StingDelete) error {
	d.out = Description{Name: "AR/StingDelete", Title: "Sting deleted"}
	return nil
}

func (d *describer) VisitPunishmentCreate(e PunishmentCreate) error {
	d.out = Description{Name: "AR/PunishmentCreate", Title: "Punishment created: " + e.Punishment.Punishment}
	return nil
}

func (d *describer) VisitPunishmentExpire(e PunishmentExpire) error {
	d.out = Description{Name: "AR/PunishmentExpire", Title: "Punishment expired: " + e.Punishment.Punishment}
	return nil
}

func (d *describer) VisitCustom(e Custom) error {
	name, title := e.Name, e.Title
	if name == "" {
		name = string(KindCustom)
	}
	if title == "" {
		title = name
	}
	d.out = Description{Name: name, Title: title}
	return nil
}

func Describe(e Event) Description {
	var d describer
	_ = e.Accept(&d)
	return d.out
}
