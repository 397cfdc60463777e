package commands

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"guildwarden/internal/fault"
	"guildwarden/internal/interactive"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

const (
	maxQuestionLabel = 45
	maxFormTitle     = 45
	doneWord         = "done"
)

func (s *Surface) registerForms() {
	s.Register(command("form", "Application forms",
		sub("create", "Post a panel whose button opens a form",
			str("title", "Form title", true),
			channel("results", "Where answers are posted", true),
			channel("channel", "Where the panel goes, defaults to this channel", false)),
		sub("delete", "Remove a form", str("message_id", "The panel message", true)),
	), map[string]route{
		"create": {title: "Forms", required: discordgo.PermissionManageServer, handle: s.formCreate},
		"delete": {title: "Forms", required: discordgo.PermissionManageServer, handle: s.formDelete},
	})
	s.component("form", s.formComponent)
}

func (s *Surface) formCreate(ctx context.Context, in *Invocation) (Reply, error) {
	title, err := in.Require("title")
	if err != nil {
		return Reply{}, err
	}
	if len(title) > maxFormTitle {
		return Reply{}, fault.Input("the title can be at most %d characters", maxFormTitle)
	}
	results, err := in.Require("results")
	if err != nil {
		return Reply{}, err
	}
	form := storage.Form{GuildID: in.GuildID, ChannelID: in.Channel("channel"), Title: title, ResultChannel: results}

	ask := func(input string) (int, error) {
		input = strings.TrimSpace(input)
		if strings.EqualFold(input, doneWord) {
			if len(form.Questions) == 0 {
				return 0, fault.Input("add at least one question first")
			}
			return interactive.Finish, nil
		}
		if input == "" || len(input) > maxQuestionLabel {
			return 0, fault.Input("a question must be 1 to %d characters", maxQuestionLabel)
		}
		form.Questions = append(form.Questions, input)
		if len(form.Questions) == storage.MaxFormQuestions {
			return interactive.Finish, nil
		}
		return 0, nil
	}
	wf := &interactive.Workflow{
		Name: "Form setup",
		Steps: []interactive.Step{{
			Prompt:  "Send the next question, or `" + doneWord + "` when finished. Up to " + strconv.Itoa(storage.MaxFormQuestions) + " questions.",
			Timeout: interactive.TextTimeout,
			Accept:  ask,
		}},
		OnComplete: func(ctx context.Context) error {
			panel := platform.Embed(s.Embeds.Action(form.Title, "Press the button to fill in the form."))
			panel.Components = button("Open form", "form:open", discordgo.PrimaryButton)
			msg, err := s.Platform.SendMessage(ctx, form.ChannelID, panel)
			if err != nil {
				return err
			}
			form.MessageID = msg.ID
			if err := s.Store.UpsertForm(ctx, form); err != nil {
				if derr := s.Platform.DeleteMessage(ctx, form.ChannelID, msg.ID); derr != nil {
					s.logger.Warn("removing unsaved form panel failed", zap.String("message_id", msg.ID), zap.Error(derr))
				}
				return err
			}
			s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "form_created", "message="+msg.ID)
			s.Notify(ctx, in.ChannelID, platform.Embed(s.Embeds.Success("Forms", "The form is live in "+render.ChannelMention(form.ChannelID)+".")))
			return nil
		},
	}
	if err := s.Flows.Begin(ctx, in.ChannelID, in.UserID(), wf); err != nil {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Action("Forms", "Send the questions as messages in this channel.")}, nil
}

func (s *Surface) formDelete(ctx context.Context, in *Invocation) (Reply, error) {
	msgID, err := in.Require("message_id")
	if err != nil {
		return Reply{}, err
	}
	form, found, err := s.Store.Form(ctx, in.GuildID, msgID)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{}, fault.Missing("no form with message id %s", msgID)
	}
	if _, err := s.Store.DeleteForm(ctx, in.GuildID, msgID); err != nil {
		return Reply{}, err
	}
	if err := s.Platform.DeleteMessage(ctx, form.ChannelID, msgID); err != nil && !fault.Is(err, fault.EntityMissing) {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "form_deleted", "message="+msgID)
	return Reply{Embed: s.Embeds.Success("Forms", "Form removed.")}, nil
}

func (s *Surface) formComponent(ctx context.Context, i *discordgo.Interaction, args []string) error {
	switch {
	case len(args) == 1 && args[0] == "open":
		return s.formOpen(ctx, i)
	case len(args) == 2 && args[0] == "submit":
		return s.formSubmit(ctx, i, args[1])
	}
	return fault.Input("unknown form action")
}

func (s *Surface) formOpen(ctx context.Context, i *discordgo.Interaction) error {
	if i.Message == nil {
		return fault.Missing("this form no longer exists")
	}
	form, found, err := s.Store.Form(ctx, i.GuildID, i.Message.ID)
	if err != nil {
		return err
	}
	if !found {
		return fault.Missing("this form no longer exists")
	}
	inputs := make([]*discordgo.TextInput, 0, len(form.Questions))
	for n, q := range form.Questions {
		inputs = append(inputs, &discordgo.TextInput{
			CustomID:  "q" + strconv.Itoa(n),
			Label:     q,
			Style:     discordgo.TextInputParagraph,
			Required:  true,
			MaxLength: 1000,
		})
	}
	return s.respondModal(ctx, i, "form:submit:"+form.MessageID, form.Title, inputs...)
}

func (s *Surface) formSubmit(ctx context.Context, i *discordgo.Interaction, messageID string) error {
	form, found, err := s.Store.Form(ctx, i.GuildID, messageID)
	if err != nil {
		return err
	}
	if !found {
		return fault.Missing("this form no longer exists")
	}
	answers := modalValues(i.ModalSubmitData())
	user, _ := actor(i)
	fields := make([]*discordgo.MessageEmbedField, 0, len(form.Questions))
	for n, q := range form.Questions {
		answer := answers["q"+strconv.Itoa(n)]
		if answer == "" {
			answer = "-"
		}
		fields = append(fields, render.Field(q, answer, false))
	}
	if _, err := s.Platform.SendMessage(ctx, form.ResultChannel, platform.Embed(s.Embeds.Action(form.Title, "Submitted by "+render.Mention(user), fields...))); err != nil {
		return err
	}
	s.respond(ctx, i, s.Embeds.Success(form.Title, "Thanks, your answers were sent."), true)
	return nil
}

// modalValues maps text input ids to their submitted values.
func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				values[input.CustomID] = strings.TrimSpace(input.Value)
			}
		}
	}
	return values
}
