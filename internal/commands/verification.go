package commands

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
)

const (
	captchaLength = 6
	captchaTTL    = 5 * time.Minute
)

type captcha struct {
	code      string
	messageID string
	expires   time.Time
}

func (s *Surface) registerVerification() {
	s.Register(command("verification", "Member verification",
		sub("install", "Post a panel that grants a role",
			role("role", "Role given on verification", true),
			choices(str("mode", "Button or captcha, default button", false), string(storage.VerifyButton), string(storage.VerifyCaptcha)),
			channel("channel", "Where the panel goes, defaults to this channel", false)),
		sub("remove", "Remove a verification panel", str("message_id", "The panel message", true)),
	), map[string]route{
		"install": {title: "Verification", required: discordgo.PermissionManageRoles, handle: s.verificationInstall},
		"remove":  {title: "Verification", required: discordgo.PermissionManageRoles, handle: s.verificationRemove},
	})
	s.component("verify", s.verifyComponent)
}

func (s *Surface) verificationInstall(ctx context.Context, in *Invocation) (Reply, error) {
	roleID, err := in.Require("role")
	if err != nil {
		return Reply{}, err
	}
	mode := storage.VerifyButton
	if raw := in.String("mode"); raw != "" {
		if mode, err = storage.ParseVerificationMode(raw); err != nil {
			return Reply{}, err
		}
	}
	target := in.Channel("channel")
	desc := "Press the button to get access to the server."
	if mode == storage.VerifyCaptcha {
		desc = "Press the button and type the code you are shown to get access to the server."
	}
	panel := platform.Embed(s.Embeds.Action("Verification", desc))
	panel.Components = button("Verify", "verify:go", discordgo.SuccessButton)
	msg, err := s.Platform.SendMessage(ctx, target, panel)
	if err != nil {
		return Reply{}, err
	}
	v := storage.Verification{GuildID: in.GuildID, MessageID: msg.ID, ChannelID: target, RoleID: roleID, Mode: mode}
	if err := s.Store.UpsertVerification(ctx, v); err != nil {
		_ = s.Platform.DeleteMessage(ctx, target, msg.ID)
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "verification_installed", "message="+msg.ID+" mode="+string(mode))
	return Reply{Embed: s.Embeds.Success("Verification", "Panel posted in "+render.ChannelMention(target)+", it grants "+render.RoleMention(roleID)+".")}, nil
}

func (s *Surface) verificationRemove(ctx context.Context, in *Invocation) (Reply, error) {
	msgID, err := in.Require("message_id")
	if err != nil {
		return Reply{}, err
	}
	v, found, err := s.Store.Verification(ctx, in.GuildID, msgID)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{}, fault.Missing("no verification panel with message id %s", msgID)
	}
	if _, err := s.Store.DeleteVerification(ctx, in.GuildID, msgID); err != nil {
		return Reply{}, err
	}
	if err := s.Platform.DeleteMessage(ctx, v.ChannelID, msgID); err != nil && !fault.Is(err, fault.EntityMissing) {
		return Reply{}, err
	}
	return Reply{Embed: s.Embeds.Success("Verification", "Panel removed.")}, nil
}

func (s *Surface) verifyComponent(ctx context.Context, i *discordgo.Interaction, args []string) error {
	switch {
	case len(args) == 1 && args[0] == "go":
		if i.Message == nil {
			return fault.Missing("this verification panel is no longer configured")
		}
		return s.verifyPress(ctx, i, i.Message.ID)
	case len(args) == 2 && args[0] == "captcha":
		return s.verifyCaptcha(ctx, i, args[1])
	}
	return fault.Input("unknown verification action")
}

func (s *Surface) verification(ctx context.Context, guildID, messageID string) (storage.Verification, error) {
	v, found, err := s.Store.Verification(ctx, guildID, messageID)
	if err != nil {
		return storage.Verification{}, err
	}
	if !found {
		return storage.Verification{}, fault.Missing("this verification panel is no longer configured")
	}
	return v, nil
}

func (s *Surface) verifyPress(ctx context.Context, i *discordgo.Interaction, messageID string) error {
	v, err := s.verification(ctx, i.GuildID, messageID)
	if err != nil {
		return err
	}
	user, roles := actor(i)
	if contains(roles, v.RoleID) {
		s.respond(ctx, i, s.Embeds.Action("Verification", "You are already verified."), true)
		return nil
	}
	if v.Mode == storage.VerifyButton {
		return s.grantVerified(ctx, i, v, user)
	}

	code := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:captchaLength])
	now := s.Clock.Now()
	s.mu.Lock()
	for k, c := range s.captchas {
		if now.After(c.expires) {
			delete(s.captchas, k)
		}
	}
	s.captchas[i.GuildID+":"+user] = captcha{code: code, messageID: messageID, expires: now.Add(captchaTTL)}
	s.mu.Unlock()
	return s.respondModal(ctx, i, "verify:captcha:"+messageID, "Verification", &discordgo.TextInput{
		CustomID:  "code",
		Label:     "Type this code: " + code,
		Style:     discordgo.TextInputShort,
		Required:  true,
		MinLength: captchaLength,
		MaxLength: captchaLength,
	})
}

func (s *Surface) verifyCaptcha(ctx context.Context, i *discordgo.Interaction, messageID string) error {
	user, _ := actor(i)
	k := i.GuildID + ":" + user
	s.mu.Lock()
	c, ok := s.captchas[k]
	delete(s.captchas, k)
	s.mu.Unlock()
	if !ok || c.messageID != messageID || s.Clock.Now().After(c.expires) {
		return fault.Input("that code expired, press the button again")
	}
	if !strings.EqualFold(modalValues(i.ModalSubmitData())["code"], c.code) {
		return fault.Input("wrong code, press the button to try again")
	}
	v, err := s.verification(ctx, i.GuildID, messageID)
	if err != nil {
		return err
	}
	return s.grantVerified(ctx, i, v, user)
}

func (s *Surface) grantVerified(ctx context.Context, i *discordgo.Interaction, v storage.Verification, userID string) error {
	if err := s.Platform.AddRole(ctx, v.GuildID, userID, v.RoleID); err != nil {
		return err
	}
	s.Cache.InvalidateMember(v.GuildID, userID)
	s.Audit.Log(ctx, audit.LevelInfo, v.GuildID, userID, "member_verified", "role="+v.RoleID)
	s.respond(ctx, i, s.Embeds.Success("Verification", "You are verified, welcome!"), true)
	return nil
}

func contains(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
