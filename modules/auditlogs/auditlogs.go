// Persists every dispatched event of a guild and forwards it to configured webhook sinks.
package auditlogs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/bwmarrin/discordgo"

	"github.com/guildwarden/warden/engine"
	"github.com/guildwarden/warden/event"
	"github.com/guildwarden/warden/store"
)

const (
	ModuleID = "auditlogs"

	SinkWebhook = "webhook"

	deliveryTimeout = 15 * time.Second
	defaultViewSize = 10
)

func Module() engine.Module {
	return engine.Module{
		ID:                   ModuleID,
		Name:                 "Audit Logs",
		Description:          "Records moderation events and forwards them to webhooks",
		Toggleable:           true,
		CommandsConfigurable: true,
		IsDefaultEnabled:     false,
		Commands: []engine.CommandEntry{{
			Command: engine.Command{
				Name:        "auditlogs",
				Description: "Audit log settings",
				Subcommands: []engine.Subcommand{
					{Name: "view", Description: "Show recent audit log entries", Handler: handleView},
					{Name: "list_sinks", Description: "List audit log sinks", Handler: handleListSinks},
					{Name: "add_webhook", Description: "Forward audit logs to a webhook", Handler: handleAddWebhook},
					{Name: "remove_sink", Description: "Remove an audit log sink", Handler: handleRemoveSink},
				},
			},
			Data: engine.ExtendedData{
				"view":        engine.CapabilityOrAdmin(ModuleID, "view"),
				"list_sinks":  engine.CapabilityOrAdmin(ModuleID, "list_sinks"),
				"add_webhook": engine.CapabilityOrAdmin(ModuleID, "add_sink"),
				"remove_sink": engine.CapabilityOrAdmin(ModuleID, "remove_sink"),
			},
		}},
		Listener: engine.ListenerFuncs{
			FilterFunc: event.AcceptAll,
			HandleFunc: handleEvent,
		},
	}
}

func handleEvent(ectx *engine.EventHandlerContext) error {
	eng := ectx.Engine()
	enabled, err := eng.ModuleEnabled(ectx.Ctx, ectx.GuildID, ModuleID)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	desc := event.Describe(ectx.Event)
	data, err := event.Payload(ectx.Event)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}
	entry := &store.AuditLogEntry{
		GuildID:    ectx.GuildID,
		EventName:  desc.Name,
		EventTitle: desc.Title,
		Data:       data,
		CreatedAt:  eng.Now(),
	}
	if err := eng.Store.CreateAuditLogEntry(ectx.Ctx, entry); err != nil {
		return fmt.Errorf("persisting audit log entry: %w", err)
	}

	sinks, err := eng.Store.ListAuditLogSinks(ectx.Ctx, ectx.GuildID)
	if err != nil {
		return err
	}
	var errs []error
	for _, sink := range sinks {
		if sink.Broken || (len(sink.Events) > 0 && !slices.Contains(sink.Events, desc.Name)) {
			continue
		}
		if err := deliver(ectx.Ctx, eng.HTTPClient, sink, entry); err != nil {
			ectx.Logger.Warn("audit log delivery failed", "module", ModuleID, "sink", sink.ID, "err", err)
			var perm *permanentError
			if errors.As(err, &perm) {
				if merr := eng.Store.MarkAuditLogSinkBroken(ectx.Ctx, sink.ID); merr != nil {
					errs = append(errs, merr)
				}
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// a delivery the destination rejected outright; retrying will not help
type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("webhook rejected delivery with status %d", e.status)
}

func deliver(ctx context.Context, client *http.Client, sink store.AuditLogSink, entry *store.AuditLogEntry) error {
	if sink.Type != SinkWebhook {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	body, err := json.Marshal(&discordgo.WebhookParams{
		Username: "Warden",
		Embeds: []*discordgo.MessageEmbed{{
			Title:       entry.EventTitle,
			Description: "```json\n" + truncate(string(entry.Data), 3900) + "\n```",
			Footer:      &discordgo.MessageEmbedFooter{Text: entry.EventName},
			Timestamp:   entry.CreatedAt.UTC().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.Target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &permanentError{status: resp.StatusCode}
	case resp.StatusCode >= 300:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func handleView(c *engine.CommandContext) (string, error) {
	n, ok, err := c.Int("limit")
	if err != nil {
		return "", err
	}
	if !ok || n <= 0 || n > 100 {
		n = defaultViewSize
	}
	rows, err := c.Engine().Store.ListAuditLog(c.Ctx, c.GuildID, n)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "No audit log entries", nil
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s: %s\n", r.CreatedAt.UTC().Format("2006-01-02 15:04:05"), r.EventName, r.EventTitle)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func handleListSinks(c *engine.CommandContext) (string, error) {
	sinks, err := c.Engine().Store.ListAuditLogSinks(c.Ctx, c.GuildID)
	if err != nil {
		return "", err
	}
	if len(sinks) == 0 {
		return "No sinks configured", nil
	}
	var b strings.Builder
	for _, s := range sinks {
		events := "all events"
		if len(s.Events) > 0 {
			events = strings.Join(s.Events, ", ")
		}
		fmt.Fprintf(&b, "%s %s (%s)", s.ID, s.Type, events)
		if s.Broken {
			b.WriteString(" [broken]")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// normalizeWebhookURL canonicalizes an https url without touching its path or query, which carry
// the webhook token.
func normalizeWebhookURL(raw string) (string, error) {
	clean, err := purell.NormalizeURLString(strings.TrimSpace(raw), purell.FlagsSafe|purell.FlagRemoveFragment)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url %q", raw)
	}
	u, err := url.Parse(clean)
	if err != nil || u.Scheme != "https" || u.Host == "" || u.User != nil {
		return "", fmt.Errorf("invalid webhook url %q", raw)
	}
	return u.String(), nil
}

func handleAddWebhook(c *engine.CommandContext) (string, error) {
	raw, err := c.RequireString("url")
	if err != nil {
		return "", err
	}
	target, err := normalizeWebhookURL(raw)
	if err != nil {
		return "", err
	}
	existing, err := c.Engine().Store.ListAuditLogSinks(c.Ctx, c.GuildID)
	if err != nil {
		return "", err
	}
	for _, sink := range existing {
		if sink.Target == target {
			return "", fmt.Errorf("sink %s already forwards to this url", sink.ID)
		}
	}
	var events []string
	for _, e := range strings.Split(c.String("events"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			events = append(events, e)
		}
	}
	sink := &store.AuditLogSink{
		GuildID:   c.GuildID,
		Type:      SinkWebhook,
		Target:    target,
		Events:    events,
		CreatedBy: c.UserID,
		CreatedAt: c.Engine().Now(),
	}
	if err := c.Engine().Store.CreateAuditLogSink(c.Ctx, sink); err != nil {
		return "", err
	}
	return "Added sink " + sink.ID + " forwarding " + strconv.Itoa(len(events)) + " event types (0 means all)", nil
}

func handleRemoveSink(c *engine.CommandContext) (string, error) {
	id, err := c.RequireString("sink_id")
	if err != nil {
		return "", err
	}
	if err := c.Engine().Store.DeleteAuditLogSink(c.Ctx, c.GuildID, id); err != nil {
		return "", err
	}
	return "Removed sink " + id, nil
}
