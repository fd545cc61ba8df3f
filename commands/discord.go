package commands

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/guildwarden/warden/authz"
)

const interactionTimeout = 10 * time.Second

// InvocationFromInteraction maps an application command interaction to an Invocation. It
// reports false for any other interaction kind and for direct messages.
func InvocationFromInteraction(i *discordgo.InteractionCreate) (Invocation, bool) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return Invocation{}, false
	}
	data := i.ApplicationCommandData()
	inv := Invocation{
		GuildID:   i.GuildID,
		UserID:    i.Member.User.ID,
		ChannelID: i.ChannelID,
		Command:   data.Name,
		Args:      map[string]any{},
	}
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		inv.Command += " " + opts[0].Name
		opts = opts[0].Options
	}
	for _, opt := range opts {
		inv.Args[opt.Name] = opt.Value
	}
	return inv, true
}

// HandleInteraction is a discordgo handler: it runs the command and replies with plain text.
// Denials and failures are replied ephemerally.
func (r *Router) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	inv, ok := InvocationFromInteraction(i)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	reply, err := r.Invoke(ctx, inv)
	data := &discordgo.InteractionResponseData{Content: reply}
	if err != nil {
		var denied *authz.DeniedError
		if errors.As(err, &denied) {
			data.Content = denied.Error()
		} else {
			data.Content = "Something went wrong: " + err.Error()
		}
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if data.Content == "" {
		data.Content = "Done"
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		r.Logger.Warn("failed to respond to interaction", "guild", inv.GuildID, "command", inv.Command, "err", err)
	}
}

// ApplicationCommands describes every registered, non-hidden command for registration with the
// platform. Arguments are free-form strings.
func (r *Router) ApplicationCommands() []*discordgo.ApplicationCommand {
	var out []*discordgo.ApplicationCommand
	for _, m := range r.Engine.Registry.All() {
		full, err := r.Engine.Registry.FullCommandList(m.ID)
		if err != nil {
			continue
		}
		for _, ce := range full {
			if ce.Data[""].WebHidden {
				continue
			}
			ac := &discordgo.ApplicationCommand{
				Name:        ce.Command.Name,
				Description: describe(ce.Command.Description),
			}
			for _, sub := range ce.Command.Subcommands {
				ac.Options = append(ac.Options, &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        sub.Name,
					Description: describe(sub.Description),
				})
			}
			out = append(out, ac)
		}
	}
	return out
}

func describe(s string) string {
	if s == "" {
		return "No description"
	}
	return s
}
