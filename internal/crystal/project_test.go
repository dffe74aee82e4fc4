package crystal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"crystal/internal/store"
)

func TestOpenCreatesAndClosesNewProject(t *testing.T) {
	dir := t.TempDir()
	projDir := filepath.Join(dir, "site.crystalproj")

	ctx := context.Background()
	p, err := Open(ctx, projDir, Options{Mode: store.ModeWritable, Create: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(projDir, "crystal.toml")); err != nil {
		t.Errorf("expected crystal.toml to be created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(projDir, store.DatabaseFileName)); err != nil {
		t.Errorf("expected database file to be created: %v", err)
	}

	props, err := p.Store().Properties(ctx)
	if err != nil {
		t.Fatalf("Properties() error = %v", err)
	}
	if props.HTMLParserType != "basic" {
		t.Errorf("HTMLParserType = %q, want %q", props.HTMLParserType, "basic")
	}

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestOpenReopensExistingProject(t *testing.T) {
	dir := t.TempDir()
	projDir := filepath.Join(dir, "site.crystalproj")
	ctx := context.Background()

	p1, err := Open(ctx, projDir, Options{Mode: store.ModeWritable, Create: true})
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if err := p1.Close(ctx); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}

	p2, err := Open(ctx, projDir, Options{Mode: store.ModeWritable})
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	if err := p2.Close(ctx); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
