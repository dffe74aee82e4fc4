package model

import "testing"

func TestCompilePatternRejectsMisplacedDoubleStar(t *testing.T) {
	if _, err := CompilePattern("https://example.com/**/more"); err == nil {
		t.Fatal("expected error for ** not in final position")
	}
}

func TestMatchLiteral(t *testing.T) {
	m, err := CompilePattern("https://example.com/fixed")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !m.Match("https://example.com/fixed") {
		t.Fatal("expected literal match")
	}
	if m.Match("https://example.com/other") {
		t.Fatal("expected no match")
	}
}

func TestMatchStarSingleSegment(t *testing.T) {
	m, err := CompilePattern("https://example.com/*/page")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !m.Match("https://example.com/en/page") {
		t.Fatal("expected match")
	}
	if m.Match("https://example.com/en/us/page") {
		t.Fatal("* must not cross a path separator")
	}
}

func TestMatchDoubleStarSuffix(t *testing.T) {
	m, err := CompilePattern("https://example.com/**")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !m.Match("https://example.com/a/b/c") {
		t.Fatal("expected ** to match any suffix")
	}
	if !m.Match("https://example.com/") {
		t.Fatal("expected ** to match the empty suffix")
	}
}

func TestMatchHashInteger(t *testing.T) {
	m, err := CompilePattern("https://xkcd.com/#/")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !m.Match("https://xkcd.com/1/") {
		t.Fatal("expected # to match an integer segment")
	}
	if m.Match("https://xkcd.com/abc/") {
		t.Fatal("# must not match a non-integer segment")
	}
}

func TestLiteralPrefix(t *testing.T) {
	m, err := CompilePattern("https://example.com/blog/*")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got := m.LiteralPrefix(); got != "https://example.com/blog" {
		t.Fatalf("got %q", got)
	}
}
