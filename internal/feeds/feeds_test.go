package feeds

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guildwarden/internal/core/coretest"
	"guildwarden/internal/fault"
	"guildwarden/internal/storage"
)

const rssOne = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Den news</title>
<link>https://news.example/</link>
<item><title>Second</title><link>https://news.example/2</link><guid>post-2</guid></item>
<item><title>First</title><link>https://news.example/1</link><guid>post-1</guid></item>
</channel></rss>`

const rssTwo = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item><title>Third</title><link>https://news.example/3</link><guid>post-3</guid></item>
<item><title>Second</title><link>https://news.example/2</link><guid>post-2</guid></item>
</channel></rss>`

const atom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
<title>Blog</title>
<entry>
<title>Hello</title>
<link rel="edit" href="https://blog.example/edit/9"/>
<link rel="alternate" href="https://blog.example/posts/9"/>
<id>tag:blog.example,2024:9</id>
</entry>
</feed>`

const page = `<!doctype html><html><head>
<link rel="stylesheet" href="/site.css">
<link rel="alternate" type="application/rss+xml" href="/feed.xml">
</head><body><p>hi</p></body></html>`

func scraper(t *testing.T) *Scraper {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return NewScraper(client, "guildwarden-test")
}

func TestNewestRSSItem(t *testing.T) {
	s := scraper(t)
	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssOne))

	item, err := s.Newest(context.Background(), "https://news.example/rss")
	require.NoError(t, err)
	assert.Equal(t, Item{ID: "post-2", URL: "https://news.example/2"}, item)
}

func TestNewestAtomEntryPrefersAlternateLink(t *testing.T) {
	s := scraper(t)
	httpmock.RegisterResponder(http.MethodGet, "https://blog.example/atom", httpmock.NewStringResponder(200, atom))

	item, err := s.Newest(context.Background(), "https://blog.example/atom")
	require.NoError(t, err)
	assert.Equal(t, "tag:blog.example,2024:9", item.ID)
	assert.Equal(t, "https://blog.example/posts/9", item.URL)
}

func TestNewestFollowsAlternateLink(t *testing.T) {
	s := scraper(t)
	httpmock.RegisterResponder(http.MethodGet, "https://news.example/", httpmock.NewStringResponder(200, page))
	httpmock.RegisterResponder(http.MethodGet, "https://news.example/feed.xml", httpmock.NewStringResponder(200, rssOne))

	item, err := s.Newest(context.Background(), "https://news.example/")
	require.NoError(t, err)
	assert.Equal(t, "post-2", item.ID)
}

func TestNewestClassifiesFailures(t *testing.T) {
	s := scraper(t)
	httpmock.RegisterResponder(http.MethodGet, "https://a.example/", httpmock.NewStringResponder(404, ""))
	httpmock.RegisterResponder(http.MethodGet, "https://b.example/", httpmock.NewStringResponder(503, ""))
	httpmock.RegisterResponder(http.MethodGet, "https://c.example/", httpmock.NewStringResponder(200, "<html><body>nothing</body></html>"))

	_, err := s.Newest(context.Background(), "https://a.example/")
	assert.True(t, fault.Is(err, fault.EntityMissing))
	_, err = s.Newest(context.Background(), "https://b.example/")
	assert.True(t, fault.Retryable(err))
	_, err = s.Newest(context.Background(), "https://c.example/")
	assert.True(t, fault.Is(err, fault.UserInput))
}

func TestValidateSource(t *testing.T) {
	_, err := ValidateSource("ftp://x.example/feed")
	assert.Error(t, err)
	_, err = ValidateSource("not a url")
	assert.Error(t, err)
	got, err := ValidateSource(" https://x.example/feed ")
	require.NoError(t, err)
	assert.Equal(t, "https://x.example/feed", got)
}

func watcher(t *testing.T) (*coretest.Env, *Watcher) {
	t.Helper()
	env := coretest.New(t)
	env.Config.Feeds.PollDelay = 0
	env.Channel("20")
	return env, New(env.Bundle, scraper(t))
}

func TestSubscribeSeedsNewestThenDeliversOnlyNewEntries(t *testing.T) {
	env, w := watcher(t)
	ctx := context.Background()
	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssOne))

	require.NoError(t, w.Subscribe(ctx, storage.FeedSubscription{
		GuildID: coretest.GuildID, ChannelID: "20", SourceURL: "https://news.example/rss", ReplyTemplate: "New post:",
	}, "1"))

	_, err := w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, env.Fake.BotMessages("20"), "seeded entry must not be posted")

	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssTwo))
	_, err = w.PollOnce(ctx)
	require.NoError(t, err)
	_, err = w.PollOnce(ctx)
	require.NoError(t, err)

	sent := env.Fake.BotMessages("20")
	require.Len(t, sent, 1)
	assert.Equal(t, "New post: https://news.example/3", sent[0].Content)

	subs, err := w.List(ctx, coretest.GuildID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].SeenIDs.Contains("post-3"))
}

func TestSubscribeRejectsUnreadableFeed(t *testing.T) {
	_, w := watcher(t)
	httpmock.RegisterResponder(http.MethodGet, "https://down.example/rss", httpmock.NewStringResponder(500, ""))

	err := w.Subscribe(context.Background(), storage.FeedSubscription{
		GuildID: coretest.GuildID, ChannelID: "20", SourceURL: "https://down.example/rss",
	}, "1")
	assert.True(t, fault.Is(err, fault.UserInput))

	err = w.Subscribe(context.Background(), storage.FeedSubscription{
		GuildID: coretest.GuildID, ChannelID: "404", SourceURL: "https://down.example/rss",
	}, "1")
	assert.True(t, fault.Is(err, fault.EntityMissing))
}

func TestVanishedChannelDropsSubscription(t *testing.T) {
	env, w := watcher(t)
	ctx := context.Background()
	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssOne))
	require.NoError(t, w.Subscribe(ctx, storage.FeedSubscription{
		GuildID: coretest.GuildID, ChannelID: "20", SourceURL: "https://news.example/rss",
	}, "1"))

	env.Fake.RemoveChannel("20")
	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssTwo))
	_, err := w.PollOnce(ctx)
	require.NoError(t, err)

	subs, err := w.List(ctx, coretest.GuildID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestFetchFailureBacksOffWithoutDropping(t *testing.T) {
	env, w := watcher(t)
	ctx := context.Background()
	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssOne))
	require.NoError(t, w.Subscribe(ctx, storage.FeedSubscription{
		GuildID: coretest.GuildID, ChannelID: "20", SourceURL: "https://news.example/rss",
	}, "1"))

	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(503, ""))
	_, err := w.PollOnce(ctx)
	require.NoError(t, err)
	calls := httpmock.GetTotalCallCount()

	// still inside the first 30s backoff window
	_, err = w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, httpmock.GetTotalCallCount())

	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssTwo))
	env.Clock.Advance(31 * time.Second)
	_, err = w.PollOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls+1, httpmock.GetTotalCallCount())
	assert.Len(t, env.Fake.BotMessages("20"), 1)

	subs, err := w.List(ctx, coretest.GuildID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestUnsubscribe(t *testing.T) {
	_, w := watcher(t)
	ctx := context.Background()
	err := w.Unsubscribe(ctx, coretest.GuildID, "20", "https://news.example/rss", "1")
	assert.True(t, fault.Is(err, fault.EntityMissing))

	httpmock.RegisterResponder(http.MethodGet, "https://news.example/rss", httpmock.NewStringResponder(200, rssOne))
	require.NoError(t, w.Subscribe(ctx, storage.FeedSubscription{
		GuildID: coretest.GuildID, ChannelID: "20", SourceURL: "https://news.example/rss",
	}, "1"))
	require.NoError(t, w.Unsubscribe(ctx, coretest.GuildID, "20", "https://news.example/rss", "1"))
}
