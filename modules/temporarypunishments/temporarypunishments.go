// Reverts timed punishments once they expire.
package temporarypunishments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/platform"
)

const ModuleID = "temporary_punishments"

// HandleLog is stored on a punishment once its revert was attempted.
type HandleLog struct {
	Reverted bool   `json:"reverted"`
	Action   string `json:"action,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RemovedRoles mirrors the data recorded with removeallroles punishments.
type RemovedRoles struct {
	Roles []string `json:"roles"`
}

func Module() engine.Module {
	return engine.Module{
		ID:               ModuleID,
		Name:             "Temporary Punishments",
		Description:      "Reverts bans, timeouts and role removals when they expire",
		Toggleable:       true,
		IsDefaultEnabled: true,
		Listener: engine.ListenerFuncs{
			FilterFunc: event.KindFilter(event.KindPunishmentExpire),
			HandleFunc: handleExpire,
		},
	}
}

func handleExpire(ectx *engine.EventHandlerContext) error {
	evt, ok := ectx.Event.(event.PunishmentExpire)
	if !ok {
		return nil
	}
	p := evt.Punishment
	userID, ok := p.Target.UserID()
	if !ok {
		return nil
	}
	logger := ectx.Logger.With("module", ModuleID, "punishment", p.ID, "kind", p.Punishment)
	reason := fmt.Sprintf("Revert expired %s with reason=%s", p.Punishment, p.Reason)

	var err error
	switch p.Punishment {
	case "ban":
		err = ectx.Platform.Unban(ectx.Ctx, p.GuildID, userID, reason)
	case "timeout":
		err = ectx.Platform.Timeout(ectx.Ctx, p.GuildID, userID, nil, reason)
	case "removeallroles":
		var data RemovedRoles
		if len(p.Data) > 0 {
			if jerr := json.Unmarshal(p.Data, &data); jerr != nil {
				logger.Warn("undecodable removed roles", "err", jerr)
			}
		}
		if len(data.Roles) == 0 {
			logger.Info("no roles recorded, nothing to restore")
			return record(ectx, p.ID, HandleLog{Reverted: true, Action: "none"})
		}
		err = ectx.Platform.SetRoles(ectx.Ctx, p.GuildID, userID, data.Roles, reason)
	default:
		return nil
	}

	if errors.Is(err, platform.ErrNotFound) || errors.Is(err, platform.ErrForbidden) {
		// nothing left to revert, or never will be: mark handled with the reason
		logger.Info("punishment could not be reverted", "err", err)
		return record(ectx, p.ID, HandleLog{Action: p.Punishment, Error: err.Error()})
	}
	if err != nil {
		return fmt.Errorf("reverting %s %s: %w", p.Punishment, p.ID, err)
	}
	logger.Info("punishment reverted")
	return record(ectx, p.ID, HandleLog{Reverted: true, Action: p.Punishment})
}

func record(ectx *engine.EventHandlerContext, id string, log HandleLog) error {
	return ectx.Engine().Store.SetPunishmentHandleLog(ectx.Ctx, id, log)
}
