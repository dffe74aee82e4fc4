package store

import (
	"context"
	"testing"

	"crystal/internal/model"
)

func TestPropertiesDefaults(t *testing.T) {
	s := openFreshProject(t)
	p, err := s.Properties(context.Background())
	if err != nil {
		t.Fatalf("Properties() error = %v", err)
	}
	if p.MajorVersion != 1 {
		t.Errorf("MajorVersion = %d, want 1", p.MajorVersion)
	}
	if p.HTMLParserType != model.HTMLParserBasic {
		t.Errorf("HTMLParserType = %q, want %q", p.HTMLParserType, model.HTMLParserBasic)
	}
}

func TestSetPropertiesPersists(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	p, err := s.Properties(ctx)
	if err != nil {
		t.Fatal(err)
	}
	p.DefaultURLPrefix = "https://example.com/"
	p.HTMLParserType = model.HTMLParserSoup
	if err := s.SetProperties(ctx, p); err != nil {
		t.Fatalf("SetProperties() error = %v", err)
	}

	got, err := s.Properties(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultURLPrefix != "https://example.com/" {
		t.Errorf("DefaultURLPrefix = %q", got.DefaultURLPrefix)
	}
	if got.HTMLParserType != model.HTMLParserSoup {
		t.Errorf("HTMLParserType = %q, want %q", got.HTMLParserType, model.HTMLParserSoup)
	}
}
