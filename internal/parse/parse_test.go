package parse

import (
	"strings"
	"testing"
)

func collect(t *testing.T, p Parser, body, baseURL string) []link {
	t.Helper()
	seq, err := p.Parse(strings.NewReader(body), baseURL)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	var out []link
	for url, kind := range seq {
		out = append(out, link{url: url, kind: kind})
	}
	return out
}

func TestHTMLExtractorFindsRequiredElements(t *testing.T) {
	body := `<html><body>
		<a href="/page">page</a>
		<link rel="stylesheet" href="/style.css">
		<link rel="alternate" href="/feed.xml">
		<img src="/logo.png" srcset="/logo-2x.png 2x, /logo-3x.png 3x">
		<script src="/app.js"></script>
		<iframe src="/embed.html"></iframe>
		<form action="/submit"></form>
		<div style="background: url(/bg.png)"></div>
		<div onclick="window.location='/clicked'"></div>
	</body></html>`

	links := collect(t, &htmlExtractor{soup: false}, body, "https://example.com/")

	want := map[string]LinkKind{
		"https://example.com/page":        LinkNavigational,
		"https://example.com/style.css":   LinkEmbedded,
		"https://example.com/feed.xml":    LinkNavigational,
		"https://example.com/logo.png":    LinkEmbedded,
		"https://example.com/logo-2x.png": LinkEmbedded,
		"https://example.com/logo-3x.png": LinkEmbedded,
		"https://example.com/app.js":      LinkEmbedded,
		"https://example.com/embed.html":  LinkEmbedded,
		"https://example.com/submit":      LinkNavigational,
		"https://example.com/bg.png":      LinkEmbedded,
		"https://example.com/clicked":     LinkNavigational,
	}
	got := map[string]LinkKind{}
	for _, l := range links {
		got[l.url] = l.kind
	}
	for url, kind := range want {
		gotKind, ok := got[url]
		if !ok {
			t.Errorf("missing link %s", url)
			continue
		}
		if gotKind != kind {
			t.Errorf("link %s kind = %s, want %s", url, gotKind, kind)
		}
	}
}

func TestHTMLExtractorSkipsNonFetchableSchemes(t *testing.T) {
	body := `<a href="javascript:void(0)">x</a><a href="mailto:a@b.com">y</a><a href="#top">z</a>`
	links := collect(t, &htmlExtractor{soup: false}, body, "https://example.com/")
	if len(links) != 0 {
		t.Errorf("got %d links, want 0: %v", len(links), links)
	}
}

func TestHTMLSoupVariantScansBareURLsInText(t *testing.T) {
	body := `<body>Contact us at https://example.com/contact for more.</body>`
	basic := collect(t, &htmlExtractor{soup: false}, body, "https://example.com/")
	if len(basic) != 0 {
		t.Errorf("basic parser found %d links in plain text, want 0", len(basic))
	}
	soup := collect(t, &htmlExtractor{soup: true}, body, "https://example.com/")
	if len(soup) != 1 || soup[0].url != "https://example.com/contact" {
		t.Errorf("soup parser links = %v, want one hit on /contact", soup)
	}
}

func TestCSSExtractorFindsURLFunctionsAndImports(t *testing.T) {
	body := `@import url("/base.css"); @import "/other.css";
		.a { background: url(/a.png); }
		.b { background: url('/b.png'); }`
	links := collect(t, cssExtractor{}, body, "https://example.com/")
	if len(links) != 4 {
		t.Fatalf("got %d links, want 4: %v", len(links), links)
	}
}

func TestJSONExtractorFindsAbsoluteURLStrings(t *testing.T) {
	body := `{"thumb": "https://cdn.example.com/x.png", "title": "not a url", "nested": {"link": "https://example.com/y"}}`
	links := collect(t, jsonExtractor{}, body, "https://example.com/")
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %v", len(links), links)
	}
}

func TestFeedExtractorFindsEntryAndEnclosureLinks(t *testing.T) {
	body := `<rss><channel><item>
		<link>/post/1</link>
		<enclosure url="/post/1.mp3"/>
	</item></channel></rss>`
	links := collect(t, feedExtractor{}, body, "https://example.com/")
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2: %v", len(links), links)
	}
}

func TestRegistryPicksHTMLParserByProjectProperty(t *testing.T) {
	r := NewRegistry()
	p, ok := r.ForContentType("text/html; charset=utf-8", "soup")
	if !ok {
		t.Fatal("expected ok=true for text/html")
	}
	if _, isSoup := p.(*htmlExtractor); !isSoup || !p.(*htmlExtractor).soup {
		t.Errorf("expected the soup variant, got %#v", p)
	}
}

func TestRegistrySkipsUnrecognizedBinaryTypes(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.ForContentType("image/png", "basic"); ok {
		t.Error("expected ok=false for image/png")
	}
}
