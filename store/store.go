// Persistence for guild configuration, capability grants, expiring entities, limit definitions
// and audit logs, on gorm (SQLite or PostgreSQL).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/guildwarden/warden/event"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	DB   *gorm.DB
	Node *snowflake.Node
}

// New wraps an open database. nodeID distinguishes processes when minting snowflake ids.
func New(db *gorm.DB, nodeID int64) (*Store, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	return &Store{DB: db, Node: node}, nil
}

func (s *Store) Migrate() error {
	return s.DB.AutoMigrate(
		&GuildModuleConfiguration{},
		&GuildCommandConfiguration{},
		&GuildRole{},
		&GuildMemberOverride{},
		&Sting{},
		&Punishment{},
		&LimitDefinition{},
		&AuditLogEntry{},
		&AuditLogSink{},
	)
}

func (s *Store) NewID() string {
	return s.Node.Generate().String()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ModuleConfig returns the guild's configuration of a module, or nil if none is stored.
func (s *Store) ModuleConfig(ctx context.Context, guildID, module string) (*GuildModuleConfiguration, error) {
	var cfg GuildModuleConfiguration
	err := s.DB.WithContext(ctx).Where("guild_id = ? AND module = ?", guildID, module).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading module configuration: %w", err)
	}
	return &cfg, nil
}

func (s *Store) SetModuleConfig(ctx context.Context, cfg *GuildModuleConfiguration) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "module"}},
		DoUpdates: clause.AssignmentColumns([]string{"disabled", "default_perms", "updated_at"}),
	}).Create(cfg).Error
}

// CommandConfig returns the stored override for the most specific of the given qualified
// names. names must be ordered most specific first.
func (s *Store) CommandConfig(ctx context.Context, guildID string, names []string) (*GuildCommandConfiguration, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var rows []GuildCommandConfiguration
	err := s.DB.WithContext(ctx).Where("guild_id = ? AND command IN ?", guildID, names).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading command configuration: %w", err)
	}
	for _, name := range names {
		for i := range rows {
			if rows[i].Command == name {
				return &rows[i], nil
			}
		}
	}
	return nil, nil
}

func (s *Store) SetCommandConfig(ctx context.Context, cfg *GuildCommandConfiguration) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "command"}},
		DoUpdates: clause.AssignmentColumns([]string{"disabled", "perms", "updated_at"}),
	}).Create(cfg).Error
}

// RoleGrants returns stored grants for the given roles, lowest position first.
func (s *Store) RoleGrants(ctx context.Context, guildID string, roleIDs []string) ([]GuildRole, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	var rows []GuildRole
	err := s.DB.WithContext(ctx).
		Where("guild_id = ? AND role_id IN ?", guildID, roleIDs).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading role grants: %w", err)
	}
	return rows, nil
}

func (s *Store) SetRoleGrants(ctx context.Context, role *GuildRole) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "role_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "perms", "updated_at"}),
	}).Create(role).Error
}

// ListRoleGrants returns every role grant of a guild, lowest position first.
func (s *Store) ListRoleGrants(ctx context.Context, guildID string) ([]GuildRole, error) {
	var rows []GuildRole
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Order("position ASC").Find(&rows).Error
	return rows, err
}

func (s *Store) DeleteRoleGrants(ctx context.Context, guildID, roleID string) error {
	res := s.DB.WithContext(ctx).Where("guild_id = ? AND role_id = ?", guildID, roleID).Delete(&GuildRole{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMemberOverrides(ctx context.Context, guildID, userID string) error {
	res := s.DB.WithContext(ctx).Where("guild_id = ? AND user_id = ?", guildID, userID).Delete(&GuildMemberOverride{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) MemberOverrides(ctx context.Context, guildID, userID string) ([]string, error) {
	var row GuildMemberOverride
	err := s.DB.WithContext(ctx).Where("guild_id = ? AND user_id = ?", guildID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading member overrides: %w", err)
	}
	return row.PermOverrides, nil
}

func (s *Store) SetMemberOverrides(ctx context.Context, guildID, userID string, overrides []string) error {
	row := GuildMemberOverride{GuildID: guildID, UserID: userID, PermOverrides: overrides}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "guild_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"perm_overrides", "updated_at"}),
	}).Create(&row).Error
}

func (s *Store) CreateSting(ctx context.Context, st *Sting) error {
	if st.ID == "" {
		st.ID = s.NewID()
	}
	if st.State == "" {
		st.State = string(event.StingActive)
	}
	return s.DB.WithContext(ctx).Create(st).Error
}

func (s *Store) GetSting(ctx context.Context, id string) (*Sting, error) {
	var st Sting
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	return &st, nil
}

// ExpiredStings returns active stings of every guild whose expiry has passed.
func (s *Store) ExpiredStings(ctx context.Context, now time.Time) ([]Sting, error) {
	var rows []Sting
	err := s.DB.WithContext(ctx).
		Where("state = ? AND expires_at IS NOT NULL AND expires_at <= ?", string(event.StingActive), now).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}

// ExpireSting moves an active sting to handled. It reports false if the sting was no longer
// active.
func (s *Store) ExpireSting(ctx context.Context, id string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&Sting{}).
		Where("id = ? AND state = ?", id, string(event.StingActive)).
		Update("state", string(event.StingHandled))
	return res.RowsAffected == 1, res.Error
}

func (s *Store) DeleteSting(ctx context.Context, guildID, id string) (*Sting, error) {
	var st Sting
	if err := s.DB.WithContext(ctx).Where("guild_id = ? AND id = ?", guildID, id).First(&st).Error; err != nil {
		return nil, notFound(err)
	}
	if err := s.DB.WithContext(ctx).Delete(&st).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) CreatePunishment(ctx context.Context, p *Punishment) error {
	if p.ID == "" {
		p.ID = s.NewID()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Duration != nil {
		exp := p.CreatedAt.Add(*p.Duration)
		p.ExpiresAt = &exp
	}
	return s.DB.WithContext(ctx).Create(p).Error
}

func (s *Store) GetPunishment(ctx context.Context, id string) (*Punishment, error) {
	var p Punishment
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// ExpiredPunishments returns unhandled timed punishments of every guild whose expiry has passed.
func (s *Store) ExpiredPunishments(ctx context.Context, now time.Time) ([]Punishment, error) {
	var rows []Punishment
	err := s.DB.WithContext(ctx).
		Where("is_handled = ? AND expires_at IS NOT NULL AND expires_at <= ?", false, now).
		Order("expires_at ASC").
		Find(&rows).Error
	return rows, err
}

// ClaimPunishment marks an unhandled punishment handled. It reports false if another sweep got
// there first.
func (s *Store) ClaimPunishment(ctx context.Context, id string) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&Punishment{}).
		Where("id = ? AND is_handled = ?", id, false).
		Update("is_handled", true)
	return res.RowsAffected == 1, res.Error
}

// SetPunishmentHandleLog records the outcome of reverting a punishment.
func (s *Store) SetPunishmentHandleLog(ctx context.Context, id string, handleLog any) error {
	raw, err := json.Marshal(handleLog)
	if err != nil {
		return err
	}
	return s.DB.WithContext(ctx).Model(&Punishment{ID: id}).
		Select("is_handled", "handle_log").
		Updates(Punishment{IsHandled: true, HandleLog: raw}).Error
}

func (s *Store) ListPunishments(ctx context.Context, guildID, module string) ([]Punishment, error) {
	var rows []Punishment
	q := s.DB.WithContext(ctx).Where("guild_id = ?", guildID)
	if module != "" {
		q = q.Where("module = ?", module)
	}
	err := q.Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (s *Store) CreateLimit(ctx context.Context, l *LimitDefinition) error {
	if l.ID == "" {
		l.ID = s.NewID()
	}
	return s.DB.WithContext(ctx).Create(l).Error
}

func (s *Store) GetLimit(ctx context.Context, guildID, id string) (*LimitDefinition, error) {
	var l LimitDefinition
	if err := s.DB.WithContext(ctx).Where("guild_id = ? AND id = ?", guildID, id).First(&l).Error; err != nil {
		return nil, notFound(err)
	}
	return &l, nil
}

func (s *Store) ListLimits(ctx context.Context, guildID string) ([]LimitDefinition, error) {
	var rows []LimitDefinition
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Order("created_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

func (s *Store) DeleteLimit(ctx context.Context, guildID, id string) error {
	res := s.DB.WithContext(ctx).Where("guild_id = ? AND id = ?", guildID, id).Delete(&LimitDefinition{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLogEntry(ctx context.Context, e *AuditLogEntry) error {
	return s.DB.WithContext(ctx).Create(e).Error
}

func (s *Store) ListAuditLog(ctx context.Context, guildID string, limit int) ([]AuditLogEntry, error) {
	var rows []AuditLogEntry
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *Store) CreateAuditLogSink(ctx context.Context, sink *AuditLogSink) error {
	if sink.ID == "" {
		sink.ID = s.NewID()
	}
	return s.DB.WithContext(ctx).Create(sink).Error
}

func (s *Store) ListAuditLogSinks(ctx context.Context, guildID string) ([]AuditLogSink, error) {
	var rows []AuditLogSink
	err := s.DB.WithContext(ctx).Where("guild_id = ?", guildID).Order("created_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// MarkAuditLogSinkBroken stops delivery to a sink until it is recreated.
func (s *Store) MarkAuditLogSinkBroken(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Model(&AuditLogSink{}).Where("id = ?", id).Update("broken", true).Error
}

func (s *Store) DeleteAuditLogSink(ctx context.Context, guildID, id string) error {
	res := s.DB.WithContext(ctx).Where("guild_id = ? AND id = ?", guildID, id).Delete(&AuditLogSink{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
