package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Action is one call recorded by MockClient.
type Action struct {
	Kind    string
	GuildID string
	UserID  string
	Reason  string
	Until   *time.Time
	Roles   []string
}

// MockClient is an in-memory Client for tests.
type MockClient struct {
	mu      sync.Mutex
	members map[string]Member
	actions []Action
	status  []Status
	// errors returned by the named action kind ("member", "ban", "unban", "kick", "timeout", "setroles")
	Errors map[string]error
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		members: make(map[string]Member),
		Errors:  make(map[string]error),
	}
}

func memberKey(guildID, userID string) string {
	return guildID + "/" + userID
}

func (c *MockClient) InsertMember(m Member) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.members[memberKey(m.GuildID, m.UserID)] = m
}

func (c *MockClient) Actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Action, len(c.actions))
	copy(out, c.actions)
	return out
}

func (c *MockClient) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, len(c.status))
	copy(out, c.status)
	return out
}

func (c *MockClient) record(a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Errors[a.Kind]; err != nil {
		return err
	}
	c.actions = append(c.actions, a)
	return nil
}

func (c *MockClient) Member(ctx context.Context, guildID, userID string) (*Member, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Errors["member"]; err != nil {
		return nil, err
	}
	m, ok := c.members[memberKey(guildID, userID)]
	if !ok {
		return nil, fmt.Errorf("member %s in guild %s: %w", userID, guildID, ErrNotFound)
	}
	m.Roles = append([]string(nil), m.Roles...)
	return &m, nil
}

func (c *MockClient) Ban(ctx context.Context, guildID, userID, reason string) error {
	return c.record(Action{Kind: "ban", GuildID: guildID, UserID: userID, Reason: reason})
}

func (c *MockClient) Unban(ctx context.Context, guildID, userID, reason string) error {
	return c.record(Action{Kind: "unban", GuildID: guildID, UserID: userID, Reason: reason})
}

func (c *MockClient) Kick(ctx context.Context, guildID, userID, reason string) error {
	return c.record(Action{Kind: "kick", GuildID: guildID, UserID: userID, Reason: reason})
}

func (c *MockClient) Timeout(ctx context.Context, guildID, userID string, until *time.Time, reason string) error {
	return c.record(Action{Kind: "timeout", GuildID: guildID, UserID: userID, Until: until, Reason: reason})
}

func (c *MockClient) SetRoles(ctx context.Context, guildID, userID string, roles []string, reason string) error {
	if err := c.record(Action{Kind: "setroles", GuildID: guildID, UserID: userID, Roles: roles, Reason: reason}); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.members[memberKey(guildID, userID)]; ok {
		m.Roles = append([]string(nil), roles...)
		c.members[memberKey(guildID, userID)] = m
	}
	return nil
}

func (c *MockClient) SetStatus(ctx context.Context, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = append(c.status, status)
	return nil
}
