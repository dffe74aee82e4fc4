package store

import (
	"bytes"
	"context"
	"testing"
)

func TestStatsCountsResourcesAndRevisions(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteRevision(ctx, resID, "", nil, nil, bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatal(err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.ResourceCount != 1 {
		t.Errorf("ResourceCount = %d, want 1", st.ResourceCount)
	}
	if st.RevisionCount != 1 {
		t.Errorf("RevisionCount = %d, want 1", st.RevisionCount)
	}
	if st.RevisionsBytes <= 0 {
		t.Errorf("RevisionsBytes = %d, want > 0", st.RevisionsBytes)
	}
	if st.MajorVersion != 1 {
		t.Errorf("MajorVersion = %d, want 1", st.MajorVersion)
	}
}

func TestRepairOrphansRequiresWritable(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(context.Background(), dir, OpenOptions{Mode: ModeWritable, Create: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.Close()

	ro, err := Open(context.Background(), dir, OpenOptions{Mode: ModeReadOnly})
	if err != nil {
		t.Fatalf("Open(read-only) error = %v", err)
	}
	defer ro.Close()

	if _, err := ro.RepairOrphans(context.Background()); err != ErrProjectReadOnly {
		t.Errorf("RepairOrphans() error = %v, want ErrProjectReadOnly", err)
	}
}
