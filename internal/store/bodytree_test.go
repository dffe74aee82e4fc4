package store

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestRevisionBodyPathV1IsFlat(t *testing.T) {
	got := revisionBodyPath("/proj", 1, 42)
	want := "/proj/revisions/42"
	if got != want {
		t.Errorf("revisionBodyPath() = %q, want %q", got, want)
	}
}

func TestRevisionBodyPathV2HasFanout(t *testing.T) {
	got := revisionBodyPath("/proj", 2, 42)
	want := "/proj/revisions/000/000/000/000/02a"
	if got != want {
		t.Errorf("revisionBodyPath() = %q, want %q", got, want)
	}
}

func TestWriteRevisionWritesBodyDurably(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}

	rev, err := s.WriteRevision(ctx, resID, "", nil, nil, bytes.NewReader([]byte("<html></html>")))
	if err != nil {
		t.Fatalf("WriteRevision() error = %v", err)
	}
	if !rev.HasBody {
		t.Error("HasBody = false, want true")
	}

	rc, err := s.ReadRevisionBody(rev.ID)
	if err != nil {
		t.Fatalf("ReadRevisionBody() error = %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "<html></html>" {
		t.Errorf("body = %q", got)
	}
}

func TestWriteRevisionWithoutBody(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}

	rev, err := s.WriteRevision(ctx, resID, "", nil, nil, nil)
	if err != nil {
		t.Fatalf("WriteRevision() error = %v", err)
	}
	if rev.HasBody {
		t.Error("HasBody = true, want false")
	}
	if s.HasRevisionBody(rev.ID) {
		t.Error("HasRevisionBody() = true, want false")
	}
}

func TestReadRevisionBodyMissingReturnsError(t *testing.T) {
	s := openFreshProject(t)
	if _, err := s.ReadRevisionBody(9999); err == nil {
		t.Error("ReadRevisionBody() error = nil, want error")
	}
}
