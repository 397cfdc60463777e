package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"emperror.dev/errors"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"guildwarden/internal/fault"
)

// Item is the newest entry of a feed.
type Item struct {
	ID  string
	URL string
}

type Fetcher interface {
	Newest(ctx context.Context, sourceURL string) (Item, error)
}

// Scraper reads RSS and Atom documents, following one
// <link rel="alternate"> hop when pointed at an HTML page.
type Scraper struct {
	client    *http.Client
	userAgent string
}

func NewScraper(client *http.Client, userAgent string) *Scraper {
	return &Scraper{client: client, userAgent: userAgent}
}

func (s *Scraper) Newest(ctx context.Context, sourceURL string) (Item, error) {
	doc, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return Item{}, err
	}
	if item, ok := newestItem(doc); ok {
		return item, nil
	}

	alt, ok := alternateFeed(doc, sourceURL)
	if !ok {
		return Item{}, fault.Input("%s does not look like a feed", sourceURL)
	}
	doc, err = s.fetch(ctx, alt)
	if err != nil {
		return Item{}, err
	}
	if item, ok := newestItem(doc); ok {
		return item, nil
	}
	return Item{}, fault.Input("the feed at %s has no entries", alt)
}

func (s *Scraper) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fault.Wrap(fault.UserInput, err, "invalid feed url")
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, text/html;q=0.8, */*;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.Transient, err, "fetch feed")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fault.Newf(fault.EntityMissing, "feed %s returned %d", target, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fault.Newf(fault.Transient, "feed %s returned %d", target, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fault.Newf(fault.UserInput, "feed %s returned %d", target, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.WrapIf(err, "parse feed")
	}
	return doc, nil
}

func newestItem(doc *goquery.Document) (Item, bool) {
	if item := doc.Find("item").First(); item.Length() > 0 {
		link := elementText(item.Find("link").First())
		id := strings.TrimSpace(item.Find("guid").First().Text())
		if id == "" {
			id = link
		}
		if link == "" {
			link = id
		}
		return Item{ID: id, URL: link}, id != ""
	}
	if entry := doc.Find("entry").First(); entry.Length() > 0 {
		link := ""
		entry.Find("link").EachWithBreak(func(_ int, l *goquery.Selection) bool {
			rel, _ := l.Attr("rel")
			href, ok := l.Attr("href")
			if ok && (rel == "" || rel == "alternate") {
				link = href
				return false
			}
			return true
		})
		id := strings.TrimSpace(entry.Find("id").First().Text())
		if id == "" {
			id = link
		}
		return Item{ID: id, URL: link}, id != ""
	}
	return Item{}, false
}

// elementText reads an element's text. The HTML parser treats <link> as a
// void element, so an RSS link's text ends up in the following sibling.
func elementText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	if text := strings.TrimSpace(sel.Text()); text != "" {
		return text
	}
	if next := sel.Nodes[0].NextSibling; next != nil && next.Type == html.TextNode {
		return strings.TrimSpace(next.Data)
	}
	return ""
}

func alternateFeed(doc *goquery.Document, base string) (string, bool) {
	var href string
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, l *goquery.Selection) bool {
		kind, _ := l.Attr("type")
		if !strings.Contains(kind, "rss") && !strings.Contains(kind, "atom") {
			return true
		}
		href, _ = l.Attr("href")
		return href == ""
	})
	if href == "" {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return baseURL.ResolveReference(ref).String(), true
}

// ValidateSource checks that raw is an absolute http(s) URL.
func ValidateSource(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fault.Input("%q is not an http or https address", raw)
	}
	return u.String(), nil
}

func describe(item Item) string {
	return fmt.Sprintf("id=%s url=%s", item.ID, item.URL)
}
