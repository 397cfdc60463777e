// Package cache is a read-through index of platform entities per tenant. It
// is never authoritative and every lookup may come back empty.
package cache

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/karlseguin/ccache"
	"golang.org/x/sync/singleflight"

	"guildwarden/internal/clock"
	"guildwarden/internal/fault"
	"guildwarden/internal/platform"
)

const (
	DefaultTTL  = 5 * time.Minute
	NegativeTTL = 30 * time.Second
)

type negative struct {
	until time.Time
}

type Tenant struct {
	client      platform.Client
	clock       clock.Clock
	items       *ccache.Cache
	group       singleflight.Group
	lazyMembers bool
}

// New builds a cache. With lazyMembers set the gateway member state is
// assumed incomplete and member lookups always go over HTTP.
func New(client platform.Client, c clock.Clock, lazyMembers bool) *Tenant {
	return &Tenant{
		client:      client,
		clock:       c,
		items:       ccache.New(ccache.Configure().MaxSize(50000).ItemsToPrune(500)),
		lazyMembers: lazyMembers,
	}
}

func keyChannel(channelID string) string      { return "channel:" + channelID }
func keyGuild(guildID string) string          { return "guild:" + guildID }
func keyRoles(guildID string) string          { return "roles:" + guildID }
func keyMember(guildID, userID string) string { return "member:" + guildID + ":" + userID }

// fetch returns the cached value for key or loads it once. Missing entities
// are memoised for NegativeTTL.
func (t *Tenant) fetch(ctx context.Context, key string, load func(context.Context) (interface{}, error)) (interface{}, bool, error) {
	if item := t.items.Get(key); item != nil && !item.Expired() {
		neg, isNegative := item.Value().(negative)
		if !isNegative {
			return item.Value(), true, nil
		}
		if t.clock.Now().Before(neg.until) {
			return nil, false, nil
		}
	}

	value, err, _ := t.group.Do(key, func() (interface{}, error) {
		loaded, err := load(ctx)
		if fault.Is(err, fault.EntityMissing) {
			t.items.Set(key, negative{until: t.clock.Now().Add(NegativeTTL)}, NegativeTTL)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		t.items.Set(key, loaded, DefaultTTL)
		return loaded, nil
	})
	if err != nil {
		return nil, false, err
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (t *Tenant) Channel(ctx context.Context, channelID string) (*discordgo.Channel, bool, error) {
	v, ok, err := t.fetch(ctx, keyChannel(channelID), func(ctx context.Context) (interface{}, error) {
		return t.client.Channel(ctx, channelID)
	})
	if !ok {
		return nil, false, err
	}
	return v.(*discordgo.Channel), true, nil
}

func (t *Tenant) Guild(ctx context.Context, guildID string) (*discordgo.Guild, bool, error) {
	v, ok, err := t.fetch(ctx, keyGuild(guildID), func(ctx context.Context) (interface{}, error) {
		return t.client.Guild(ctx, guildID)
	})
	if !ok {
		return nil, false, err
	}
	return v.(*discordgo.Guild), true, nil
}

func (t *Tenant) Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	v, ok, err := t.fetch(ctx, keyRoles(guildID), func(ctx context.Context) (interface{}, error) {
		return t.client.Roles(ctx, guildID)
	})
	if !ok {
		return nil, err
	}
	return v.([]*discordgo.Role), nil
}

func (t *Tenant) Role(ctx context.Context, guildID, roleID string) (*discordgo.Role, bool, error) {
	roles, err := t.Roles(ctx, guildID)
	if err != nil {
		return nil, false, err
	}
	for _, r := range roles {
		if r.ID == roleID {
			return r, true, nil
		}
	}
	return nil, false, nil
}

// Member consults the gateway state first and falls back to a direct HTTP
// fetch.
func (t *Tenant) Member(ctx context.Context, guildID, userID string) (*discordgo.Member, bool, error) {
	if !t.lazyMembers {
		if m, ok := t.client.StateMember(guildID, userID); ok {
			return m, true, nil
		}
	}
	v, ok, err := t.fetch(ctx, keyMember(guildID, userID), func(ctx context.Context) (interface{}, error) {
		return t.client.Member(ctx, guildID, userID)
	})
	if !ok {
		return nil, false, err
	}
	return v.(*discordgo.Member), true, nil
}

func (t *Tenant) InvalidateChannel(channelID string) {
	t.items.Delete(keyChannel(channelID))
}

func (t *Tenant) InvalidateGuild(guildID string) {
	t.items.Delete(keyGuild(guildID))
	t.items.Delete(keyRoles(guildID))
}

func (t *Tenant) InvalidateRoles(guildID string) {
	t.items.Delete(keyRoles(guildID))
}

func (t *Tenant) InvalidateMember(guildID, userID string) {
	t.items.Delete(keyMember(guildID, userID))
}
