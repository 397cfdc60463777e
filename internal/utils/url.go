package utils

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/idna"
)

// linkRegex matches scheme links, www. hosts and bare invite links.
var linkRegex = regexp.MustCompile(`(?i)(?:https?://[^\s<>]+|www\.[^\s<>]+\.[a-z]{2,}[^\s<>]*|(?:discord\.gg|discord\.com/invite)/[a-z0-9-]+)`)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

func ExtractURLs(content string) []string {
	return linkRegex.FindAllString(content, -1)
}

// NormalizeURL returns the cleaned link and its punycode host.
func NormalizeURL(raw string) (string, string, error) {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}

	host := strings.ToLower(parsed.Hostname())
	asciiHost, err := idna.ToASCII(host)
	if err == nil {
		host = asciiHost
	}

	parsed.Host = host
	parsed.Fragment = ""
	parsed.User = nil

	query := parsed.Query()
	for _, key := range trackingParams {
		query.Del(key)
	}
	parsed.RawQuery = normalizeQuery(query)

	return parsed.String(), host, nil
}

func normalizeQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clean := url.Values{}
	for _, key := range keys {
		clean[key] = values[key]
	}
	return clean.Encode()
}

// InviteCodes returns the invite codes linked in content.
func InviteCodes(content string) []string {
	var codes []string
	for _, link := range ExtractURLs(content) {
		normalized, host, err := NormalizeURL(link)
		if err != nil {
			continue
		}
		parsed, err := url.Parse(normalized)
		if err != nil {
			continue
		}
		path := strings.Trim(parsed.Path, "/")
		switch {
		case host == "discord.gg" && path != "":
			codes = append(codes, path)
		case (host == "discord.com" || host == "discordapp.com") && strings.HasPrefix(path, "invite/"):
			codes = append(codes, strings.TrimPrefix(path, "invite/"))
		}
	}
	return codes
}
