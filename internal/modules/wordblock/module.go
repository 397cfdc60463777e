// Package wordblock removes messages containing a word from the tenant's
// block list.
package wordblock

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"guildwarden/internal/core"
	"guildwarden/internal/fault"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/pipeline"
	"guildwarden/internal/platform"
	"guildwarden/internal/render"
)

const MaxWords = 100

type Module struct {
	*core.Bundle
}

func New(b *core.Bundle) *Module { return &Module{Bundle: b} }

func (m *Module) Name() string { return "word-block" }

func (m *Module) Handle(ctx context.Context, msg *pipeline.Message) (pipeline.Outcome, error) {
	if !msg.Settings.WordBlock || msg.Moderator || msg.Content == "" {
		return pipeline.NotHandled, nil
	}
	words, err := m.Store.ListWordBlocks(ctx, msg.GuildID)
	if err != nil {
		return pipeline.NotHandled, err
	}
	word, ok := containsBlockedWord(NormalizeText(msg.Content), words)
	if !ok {
		return pipeline.NotHandled, nil
	}

	if err := m.Platform.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil && !fault.Is(err, fault.EntityMissing) {
		return pipeline.Handled, err
	}
	m.Audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.Author.ID, "word_block", "word="+word)
	m.Notify(ctx, msg.ChannelID, &discordgo.MessageSend{
		Content:         fmt.Sprintf("%s, your message contained a blocked word.", render.Mention(msg.Author.ID)),
		AllowedMentions: platform.UserMentions(),
	})
	return pipeline.Handled, nil
}

// Add stores a normalized word. Duplicates are ignored.
func (m *Module) Add(ctx context.Context, guildID, word string) (string, error) {
	word = NormalizeText(strings.TrimSpace(word))
	if word == "" || strings.ContainsAny(word, " \t\n") {
		return "", fault.Input("a blocked word must be a single word")
	}
	words, err := m.Store.ListWordBlocks(ctx, guildID)
	if err != nil {
		return "", err
	}
	if len(words) >= MaxWords {
		return "", fault.Input("a server can block at most %d words", MaxWords)
	}
	return word, m.Store.AddWordBlock(ctx, guildID, word)
}

func (m *Module) Remove(ctx context.Context, guildID, word string) error {
	removed, err := m.Store.RemoveWordBlock(ctx, guildID, NormalizeText(strings.TrimSpace(word)))
	if err != nil {
		return err
	}
	if !removed {
		return fault.Missing("%q is not blocked", word)
	}
	return nil
}

func containsBlockedWord(content string, words []string) (string, bool) {
	for _, word := range words {
		if word != "" && strings.Contains(content, word) {
			return word, true
		}
	}
	return "", false
}

// NormalizeText lowercases input and strips common accents.
func NormalizeText(input string) string {
	replacer := strings.NewReplacer(
		"à", "a", "á", "a", "â", "a", "ä", "a",
		"è", "e", "é", "e", "ê", "e", "ë", "e",
		"ì", "i", "í", "i", "î", "i", "ï", "i",
		"ò", "o", "ó", "o", "ô", "o", "ö", "o",
		"ù", "u", "ú", "u", "û", "u", "ü", "u",
		"ç", "c",
	)
	return replacer.Replace(strings.ToLower(input))
}
