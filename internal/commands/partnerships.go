package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
	"guildwarden/internal/storage"
	"guildwarden/internal/utils"
)

const (
	PartnershipCooldown = 24 * time.Hour
	// duplicateWindow is how far back target channels are scanned for an
	// earlier copy of the same advert.
	duplicateWindow = 23 * time.Hour
	maxAdvert       = 1800
	readAccess      = discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory
)

func (s *Surface) registerPartnerships() {
	s.Register(command("partnership", "Exchange adverts with other servers",
		sub("configure", "Set the partner channel and this server's advert",
			channel("channel", "Where other servers' adverts are posted", true),
			str("advert", "Advert text, must contain an invite link to this server", true)),
		sub("disable", "Leave the partnership network"),
		sub("send", "Post this server's advert to every partner, once a day"),
	), map[string]route{
		"configure": {title: "Partnership", required: discordgo.PermissionManageServer, handle: s.partnershipConfigure},
		"disable":   {title: "Partnership", required: discordgo.PermissionManageServer, handle: s.partnershipDisable},
		"send":      {title: "Partnership", required: discordgo.PermissionManageServer, handle: s.partnershipSend},
	})
}

func (s *Surface) partnershipConfigure(ctx context.Context, in *Invocation) (Reply, error) {
	ch, err := in.Require("channel")
	if err != nil {
		return Reply{}, err
	}
	advert, err := in.Require("advert")
	if err != nil {
		return Reply{}, err
	}
	if len(advert) > maxAdvert {
		return Reply{}, fault.Input("the advert can be at most %d characters", maxAdvert)
	}
	if len(utils.InviteCodes(advert)) == 0 {
		return Reply{}, fault.Input("the advert must contain an invite link to this server")
	}
	if err := s.requireChannel(ctx, ch); err != nil {
		return Reply{}, err
	}
	p, _, err := s.Store.Partnership(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	p.GuildID, p.ChannelID, p.Advert = in.GuildID, ch, advert
	if err := s.Store.UpsertPartnership(ctx, p); err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "partnership_configured", "channel="+ch)
	return Reply{Embed: s.Embeds.Success("Partnership", "Partner adverts will appear in "+render.ChannelMention(ch)+".")}, nil
}

func (s *Surface) partnershipDisable(ctx context.Context, in *Invocation) (Reply, error) {
	removed, err := s.Store.DeletePartnership(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if !removed {
		return Reply{}, fault.Missing("this server is not in the partnership network")
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "partnership_disabled", "")
	return Reply{Embed: s.Embeds.Success("Partnership", "Left the partnership network.")}, nil
}

// cooldown returns the tenant's bucket, seeded from the persisted last send
// so a restart does not refill it.
func (s *Surface) cooldown(guildID string, lastSent int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.partnerships[guildID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(PartnershipCooldown), 1)
		if lastSent > 0 {
			lim.AllowN(time.Unix(lastSent, 0), 1)
		}
		s.partnerships[guildID] = lim
	}
	return lim
}

func (s *Surface) partnershipSend(ctx context.Context, in *Invocation) (Reply, error) {
	source, found, err := s.Store.Partnership(ctx, in.GuildID)
	if err != nil {
		return Reply{}, err
	}
	if !found {
		return Reply{}, fault.Input("configure the partnership first with /partnership configure")
	}

	now := s.Clock.Now()
	reservation := s.cooldown(in.GuildID, source.LastSent).ReserveN(now, 1)
	if wait := reservation.DelayFrom(now); wait > 0 {
		reservation.CancelAt(now)
		return Reply{}, fault.Input("the advert can be sent again <t:%d:R>", now.Add(wait).Unix())
	}

	all, err := s.Store.ListPartnerships(ctx)
	if err != nil {
		reservation.CancelAt(now)
		return Reply{}, err
	}
	codes := s.inviteCodes(ctx, source)
	var targets []storage.Partnership
	for _, p := range all {
		if p.GuildID == source.GuildID {
			continue
		}
		dup, err := s.alreadySent(ctx, p.ChannelID, codes, now)
		if err != nil {
			if fault.Is(err, fault.EntityMissing) {
				s.dropPartner(ctx, p)
				continue
			}
			reservation.CancelAt(now)
			return Reply{}, err
		}
		if dup {
			reservation.CancelAt(now)
			return Reply{}, fault.Input("already sent: the advert was posted to a partner in the last 23 hours")
		}
		targets = append(targets, p)
	}
	if len(targets) == 0 {
		reservation.CancelAt(now)
		return Reply{}, fault.Input("there are no other servers in the partnership network yet")
	}

	sent := 0
	for _, p := range targets {
		s.repairReadAccess(ctx, p)
		_, err := s.Platform.SendMessage(ctx, p.ChannelID, platform.Text(source.Advert))
		switch {
		case err == nil:
			sent++
		case fault.Is(err, fault.EntityMissing):
			s.dropPartner(ctx, p)
		default:
			s.logger.Warn("partner advert not delivered", zap.String("guild_id", p.GuildID), zap.Error(err))
		}
	}

	source.LastSent = now.Unix()
	if err := s.Store.UpsertPartnership(ctx, source); err != nil {
		return Reply{}, err
	}
	s.Audit.Log(ctx, audit.LevelInfo, in.GuildID, in.UserID(), "partnership_sent", fmt.Sprintf("delivered=%d targets=%d", sent, len(targets)))
	return Reply{Embed: s.Embeds.Success("Partnership", fmt.Sprintf("The advert went out to %d of %d partners.", sent, len(targets)))}, nil
}

// inviteCodes are the codes in the advert plus the tenant's live invites.
func (s *Surface) inviteCodes(ctx context.Context, p storage.Partnership) []string {
	codes := utils.InviteCodes(p.Advert)
	live, err := s.Platform.Invites(ctx, p.GuildID)
	if err != nil {
		s.logger.Debug("listing invites failed", zap.String("guild_id", p.GuildID), zap.Error(err))
		return codes
	}
	for _, inv := range live {
		codes = append(codes, inv.Code)
	}
	return codes
}

func (s *Surface) alreadySent(ctx context.Context, channelID string, codes []string, now time.Time) (bool, error) {
	msgs, err := s.Platform.MessagesSince(ctx, channelID, now.Add(-duplicateWindow), 100)
	if err != nil {
		return false, err
	}
	for _, m := range msgs {
		if m.Author == nil || m.Author.ID != s.Platform.BotUserID() {
			continue
		}
		for _, code := range codes {
			if code != "" && strings.Contains(m.Content, code) {
				return true, nil
			}
		}
	}
	return false, nil
}

// repairReadAccess lifts a default-role override that hides the partner
// channel.
func (s *Surface) repairReadAccess(ctx context.Context, p storage.Partnership) {
	ch, ok, err := s.Cache.Channel(ctx, p.ChannelID)
	if err != nil || !ok {
		return
	}
	for _, ow := range ch.PermissionOverwrites {
		if ow.ID != p.GuildID || ow.Deny&readAccess == 0 {
			continue
		}
		err := s.Platform.SetPermissionOverride(ctx, p.ChannelID, p.GuildID, discordgo.PermissionOverwriteTypeRole, ow.Allow|readAccess, ow.Deny&^readAccess)
		if err != nil {
			s.logger.Warn("repairing partner channel access failed", zap.String("channel_id", p.ChannelID), zap.Error(err))
			return
		}
		s.Cache.InvalidateChannel(p.ChannelID)
	}
}

func (s *Surface) dropPartner(ctx context.Context, p storage.Partnership) {
	if _, err := s.Store.DeletePartnership(ctx, p.GuildID); err != nil {
		s.logger.Warn("dropping stale partnership failed", zap.String("guild_id", p.GuildID), zap.Error(err))
		return
	}
	s.Audit.Log(ctx, audit.LevelWarn, p.GuildID, "", "partnership_dropped", "channel "+p.ChannelID+" is gone")
}
