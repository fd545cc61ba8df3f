// Command authorization shared by every invocation surface (gateway commands and the remote
// template endpoint).
//
// CheckCommand resolves the command's module, applies guild enablement, short-circuits for root
// users, guild owners and (where the requirement allows it) native administrators, then tests
// the member's effective capability set. It only reads state.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guildwarden/warden/cachestore"
	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/perms"
	"github.com/guildwarden/warden/platform"
	"github.com/guildwarden/warden/store"
)

const RootModule = "root"

type Options struct {
	IgnoreModuleDisabled  bool
	IgnoreCommandDisabled bool
	// use CustomResolvedPerms as given instead of fitting it to the member's real set
	SkipCustomResolvedFitChecks bool
	// replaces the member's effective set when non-nil
	CustomResolvedPerms        []string
	CustomCommandConfiguration *store.GuildCommandConfiguration
	CustomModuleConfiguration  *store.GuildModuleConfiguration
	ChannelID                  string
}

type Checker struct {
	Logger    *slog.Logger
	Registry  *engine.Registry
	Store     *store.Store
	Platform  platform.Client
	Members   *cachestore.MemberCache
	RootUsers []string
}

func NewChecker(eng *engine.Engine) *Checker {
	c := &Checker{
		Logger:    eng.Logger.With("component", "authz"),
		Registry:  eng.Registry,
		Store:     eng.Store,
		Platform:  eng.Platform,
		RootUsers: eng.RootUsers,
	}
	if eng.Cache != nil {
		c.Members = &cachestore.MemberCache{Store: eng.Cache}
	}
	return c
}

func (c *Checker) isRoot(userID string) bool {
	for _, id := range c.RootUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// CheckCommand decides whether the user may run the qualified command ("limits add") in the
// guild.
func (c *Checker) CheckCommand(ctx context.Context, command, guildID, userID string, opts Options) Result {
	res := Result{Command: command}

	rc, err := c.Registry.ResolveCommand(command)
	if err != nil {
		root := engine.Permutations(command)
		if len(root) > 0 {
			if _, ok := c.Registry.CommandModule(root[len(root)-1]); ok {
				res.Code = CodeCommandNotFound
				return res
			}
		}
		res.Code = CodeModuleNotFound
		return res
	}
	m := rc.Module
	res.Module = m.ID
	res.Command = rc.Qualified

	if m.ID == RootModule {
		if !c.isRoot(userID) {
			res.Code = CodeSudoNotGranted
			return res
		}
		res.Code = CodeOK
		res.Message = "root"
		return res
	}

	moduleCfg := opts.CustomModuleConfiguration
	if moduleCfg == nil {
		moduleCfg, err = c.Store.ModuleConfig(ctx, guildID, m.ID)
		if err != nil {
			return c.internal(res, guildID, userID, err)
		}
	}
	commandCfg := opts.CustomCommandConfiguration
	if commandCfg == nil && m.CommandsConfigurable {
		commandCfg, err = c.Store.CommandConfig(ctx, guildID, rc.Permutations)
		if err != nil {
			return c.internal(res, guildID, userID, err)
		}
	}

	if !opts.IgnoreCommandDisabled && commandDisabled(rc, commandCfg) {
		res.Code = CodeCommandDisabled
		return res
	}
	if !opts.IgnoreModuleDisabled && engine.ModuleDisabled(m, moduleCfg) {
		res.Code = CodeModuleDisabled
		return res
	}

	member, err := c.member(ctx, guildID, userID)
	if errors.Is(err, platform.ErrNotFound) {
		res.Code = CodeMemberNotFound
		return res
	} else if err != nil {
		return c.internal(res, guildID, userID, err)
	}
	if member.IsOwner {
		res.Code = CodeOK
		res.Message = "owner"
		return res
	}

	req := requirement(rc, moduleCfg, commandCfg)
	if req.Kind == perms.KindNone {
		res.Code = CodeOK
		return res
	}
	if req.AdminBypass() && member.Administrator {
		res.Code = CodeOK
		res.Message = "administrator"
		return res
	}

	set := opts.CustomResolvedPerms
	if set == nil || !opts.SkipCustomResolvedFitChecks {
		held, err := c.EffectivePerms(ctx, member)
		if err != nil {
			return c.internal(res, guildID, userID, err)
		}
		if set == nil {
			set = held
		} else {
			set = perms.Fit(set, held)
		}
	}
	if !req.Satisfied(set, member.Administrator) {
		res.Code = CodeMissingCapability
		res.Capability = req.Capability
		return res
	}
	res.Code = CodeOK
	return res
}

// internal logs the cause; callers of the check only ever see a generic reason.
func (c *Checker) internal(res Result, guildID, userID string, err error) Result {
	c.Logger.Error("command check failed", "err", err, "command", res.Command, "guild", guildID, "user", userID)
	res.Code = CodeInternal
	return res
}

func commandDisabled(rc *engine.ResolvedCommand, cfg *store.GuildCommandConfiguration) bool {
	if cfg != nil && cfg.Disabled != nil {
		return *cfg.Disabled
	}
	return !rc.Data.IsDefaultEnabled
}

// requirement picks the guild's command override, then the guild's module default, then the
// command's declared requirement.
func requirement(rc *engine.ResolvedCommand, moduleCfg *store.GuildModuleConfiguration, commandCfg *store.GuildCommandConfiguration) perms.Requirement {
	if commandCfg != nil && commandCfg.Perms != nil {
		return *commandCfg.Perms
	}
	if moduleCfg != nil && moduleCfg.DefaultPerms != nil {
		return *moduleCfg.DefaultPerms
	}
	return rc.Data.Requirement
}

// EffectivePerms merges the member's role grants (lowest role first) with their direct
// overrides.
func (c *Checker) EffectivePerms(ctx context.Context, member *platform.Member) ([]string, error) {
	roles, err := c.Store.RoleGrants(ctx, member.GuildID, member.Roles)
	if err != nil {
		return nil, err
	}
	layers := make([][]string, 0, len(roles)+1)
	for _, r := range roles {
		layers = append(layers, r.Perms)
	}
	overrides, err := c.Store.MemberOverrides(ctx, member.GuildID, member.UserID)
	if err != nil {
		return nil, err
	}
	layers = append(layers, overrides)
	return perms.Merge(layers...), nil
}

func (c *Checker) member(ctx context.Context, guildID, userID string) (*platform.Member, error) {
	if c.Members != nil {
		m, missing, err := c.Members.Get(ctx, guildID, userID)
		switch {
		case err != nil:
			c.Logger.Warn("member cache read failed", "err", err, "guild", guildID)
		case missing:
			return nil, fmt.Errorf("resolving member: %w", platform.ErrNotFound)
		case m != nil:
			return m, nil
		}
	}
	m, err := c.Platform.Member(ctx, guildID, userID)
	if errors.Is(err, platform.ErrNotFound) && c.Members != nil {
		if err := c.Members.PutMissing(ctx, guildID, userID); err != nil {
			c.Logger.Warn("member cache write failed", "err", err, "guild", guildID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolving member: %w", err)
	}
	if c.Members != nil {
		if err := c.Members.Put(ctx, m); err != nil {
			c.Logger.Warn("member cache write failed", "err", err, "guild", guildID)
		}
	}
	return m, nil
}

// PurgeMember drops a cached member, e.g. after their roles changed or they joined.
func (c *Checker) PurgeMember(ctx context.Context, guildID, userID string) error {
	if c.Members == nil {
		return nil
	}
	return c.Members.Purge(ctx, guildID, userID)
}
