package utils

import "testing"

func TestNormalizeURL(t *testing.T) {
	normalized, domain, err := NormalizeURL("https://Example.com/path?utm_source=test&x=1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if domain != "example.com" {
		t.Fatalf("unexpected domain: %s", domain)
	}
	if normalized != "https://example.com/path?x=1" {
		t.Fatalf("unexpected normalized url: %s", normalized)
	}
}

func TestExtractURLs(t *testing.T) {
	links := ExtractURLs("see https://a.example/x and www.b.example or discord.gg/abc123, nothing.here")
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %v", links)
	}
	if ExtractURLs("plain text, no links") != nil {
		t.Fatalf("expected no links")
	}
}

func TestInviteCodes(t *testing.T) {
	codes := InviteCodes("join https://discord.gg/abc or discord.com/invite/xyz today")
	if len(codes) != 2 || codes[0] != "abc" || codes[1] != "xyz" {
		t.Fatalf("unexpected codes: %v", codes)
	}
}
