package commands

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/fault"
)

// Invocation is a parsed slash command: its family, optional subcommand and
// the options addressed to that subcommand.
type Invocation struct {
	*discordgo.Interaction
	Family string
	Sub    string
	opts   map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func newInvocation(i *discordgo.Interaction) *Invocation {
	data := i.ApplicationCommandData()
	in := &Invocation{Interaction: i, Family: data.Name, opts: make(map[string]*discordgo.ApplicationCommandInteractionDataOption)}
	options := data.Options
	if len(options) == 1 && options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		in.Sub = options[0].Name
		options = options[0].Options
	}
	for _, opt := range options {
		in.opts[opt.Name] = opt
	}
	return in
}

// Path is the grantable command id, "family sub" or "family".
func (in *Invocation) Path() string {
	if in.Sub == "" {
		return in.Family
	}
	return in.Family + " " + in.Sub
}

func (in *Invocation) UserID() string {
	if in.Member != nil && in.Member.User != nil {
		return in.Member.User.ID
	}
	if in.User != nil {
		return in.User.ID
	}
	return ""
}

func (in *Invocation) RoleIDs() []string {
	if in.Member == nil {
		return nil
	}
	return in.Member.Roles
}

func (in *Invocation) Has(name string) bool {
	_, ok := in.opts[name]
	return ok
}

// String returns a string, user, channel, role or mentionable option, all of
// which arrive as strings.
func (in *Invocation) String(name string) string {
	opt, ok := in.opts[name]
	if !ok {
		return ""
	}
	v, _ := opt.Value.(string)
	return strings.TrimSpace(v)
}

// Require is String for mandatory options.
func (in *Invocation) Require(name string) (string, error) {
	v := in.String(name)
	if v == "" {
		return "", fault.Input("the %s option is required", name)
	}
	return v, nil
}

func (in *Invocation) Int(name string, def int) int {
	opt, ok := in.opts[name]
	if !ok {
		return def
	}
	switch v := opt.Value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func (in *Invocation) Bool(name string, def bool) bool {
	opt, ok := in.opts[name]
	if !ok {
		return def
	}
	v, ok := opt.Value.(bool)
	if !ok {
		return def
	}
	return v
}

// Channel defaults to the invoking channel.
func (in *Invocation) Channel(name string) string {
	if v := in.String(name); v != "" {
		return v
	}
	return in.ChannelID
}

// option builders for command definitions

func sub(name, description string, opts ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionSubCommand, Name: name, Description: description, Options: opts}
}

func opt(kind discordgo.ApplicationCommandOptionType, name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: kind, Name: name, Description: description, Required: required}
}

func str(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionString, name, description, required)
}

func integer(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionInteger, name, description, required)
}

func boolean(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionBoolean, name, description, required)
}

func user(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionUser, name, description, required)
}

func channel(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionChannel, name, description, required)
}

func role(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return opt(discordgo.ApplicationCommandOptionRole, name, description, required)
}

func choices(o *discordgo.ApplicationCommandOption, values ...string) *discordgo.ApplicationCommandOption {
	for _, v := range values {
		o.Choices = append(o.Choices, &discordgo.ApplicationCommandOptionChoice{Name: v, Value: v})
	}
	return o
}

func command(name, description string, subs ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{Name: name, Description: description, Options: subs}
}
