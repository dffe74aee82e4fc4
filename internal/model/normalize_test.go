package model

import "testing"

func TestNormalizeLowercasesSchemeAndHost(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize("HTTPS://Example.COM/Path")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.URL != "https://example.com/Path" {
		t.Fatalf("got %q", res.URL)
	}
}

func TestNormalizeEnsuresPath(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize("https://example.com")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.URL != "https://example.com/" {
		t.Fatalf("got %q", res.URL)
	}
}

func TestNormalizeDropsFragmentByDefault(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize("https://example.com/page#section")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.URL != "https://example.com/page" {
		t.Fatalf("got %q", res.URL)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := &Normalizer{}
	first, err := n.Normalize("HTTPS://Example.com/a/b?x=1#frag")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	second, err := n.Normalize(first.URL)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if first.URL != second.URL {
		t.Fatalf("not idempotent: %q vs %q", first.URL, second.URL)
	}
}

func TestNormalizeAppliesFirstMatchingAliasInIDOrder(t *testing.T) {
	n := &Normalizer{
		Aliases: []Alias{
			{ID: 2, SourceURLPrefix: "https://a.example/", TargetURLPrefix: "https://c.example/"},
			{ID: 1, SourceURLPrefix: "https://a.example/", TargetURLPrefix: "https://b.example/"},
		},
	}
	res, err := n.Normalize("https://a.example/x")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.URL != "https://b.example/x" {
		t.Fatalf("expected lowest-id alias to win, got %q", res.URL)
	}
}

func TestNormalizeExternalAliasWrapsResult(t *testing.T) {
	n := &Normalizer{
		Aliases: []Alias{
			{ID: 1, SourceURLPrefix: "https://a.example/", TargetURLPrefix: "https://b.example/", TargetIsExternal: true},
		},
	}
	res, err := n.Normalize("https://a.example/x")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !res.IsExternal {
		t.Fatalf("expected external result")
	}
	if res.URL != ExternalURLScheme+"https://b.example/x" {
		t.Fatalf("got %q", res.URL)
	}
}

func TestValidateAliasRequiresTrailingSlash(t *testing.T) {
	err := ValidateAlias(Alias{SourceURLPrefix: "https://a.example", TargetURLPrefix: "https://b.example/"})
	if err == nil {
		t.Fatal("expected error for missing trailing slash on source")
	}
}

func TestResourceURLAlternativesIncludesSchemeSwap(t *testing.T) {
	alts := ResourceURLAlternatives("https://example.com/")
	found := false
	for _, a := range alts {
		if a == "http://example.com/" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected http alternative in %v", alts)
	}
}
