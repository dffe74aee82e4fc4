package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

type recordingListener struct {
	progressCalls int
	completed     bool
}

func (r *recordingListener) OnProgress(done, total int) { r.progressCalls++ }
func (r *recordingListener) OnComplete()                { r.completed = true }

func TestMigrateToLatestMovesBodiesToV2Layout(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	rev, err := s.WriteRevision(ctx, resID, "", nil, nil, bytes.NewReader([]byte("body-one")))
	if err != nil {
		t.Fatal(err)
	}

	v1Path := revisionBodyPath(s.dir, 1, rev.ID)
	if _, err := os.Stat(v1Path); err != nil {
		t.Fatalf("expected v1 body at %s: %v", v1Path, err)
	}

	listener := &recordingListener{}
	if err := s.MigrateToLatest(ctx, listener); err != nil {
		t.Fatalf("MigrateToLatest() error = %v", err)
	}
	if !listener.completed {
		t.Error("OnComplete() was not called")
	}
	if s.MajorVersion() != LatestMajorVersion {
		t.Errorf("MajorVersion() = %d, want %d", s.MajorVersion(), LatestMajorVersion)
	}
	if s.MigrationInProgress() {
		t.Error("MigrationInProgress() = true after completed migration")
	}

	v2Path := revisionBodyPath(s.dir, LatestMajorVersion, rev.ID)
	if _, err := os.Stat(v2Path); err != nil {
		t.Fatalf("expected v2 body at %s: %v", v2Path, err)
	}
	if _, err := os.Stat(v1Path); !os.IsNotExist(err) {
		t.Errorf("expected v1 body gone, stat err = %v", err)
	}

	rc, err := s.ReadRevisionBody(rev.ID)
	if err != nil {
		t.Fatalf("ReadRevisionBody() error = %v", err)
	}
	rc.Close()
}

func TestMigrateToLatestNoOpWhenAlreadyCurrent(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	if err := s.MigrateToLatest(ctx, nil); err != nil {
		t.Fatalf("MigrateToLatest() error = %v", err)
	}
	if err := s.MigrateToLatest(ctx, nil); err != nil {
		t.Fatalf("second MigrateToLatest() error = %v", err)
	}
	if s.MajorVersion() != LatestMajorVersion {
		t.Errorf("MajorVersion() = %d, want %d", s.MajorVersion(), LatestMajorVersion)
	}
}

func TestResumeMigrationAfterInterruptedCopy(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	rev, err := s.WriteRevision(ctx, resID, "", nil, nil, bytes.NewReader([]byte("body")))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.startMigration(ctx); err != nil {
		t.Fatalf("startMigration() error = %v", err)
	}
	// Simulate a crash partway through the copy pass: nothing has moved
	// into revisions.inprogress/ yet, but major_version already flipped.

	if err := s.resumeMigration(ctx, noopMigrationListener{}); err != nil {
		t.Fatalf("resumeMigration() error = %v", err)
	}
	if s.MigrationInProgress() {
		t.Error("MigrationInProgress() = true after resume completed")
	}

	v2Path := revisionBodyPath(s.dir, LatestMajorVersion, rev.ID)
	if _, err := os.Stat(v2Path); err != nil {
		t.Errorf("expected body moved to v2 layout: %v", err)
	}
}

func TestResumeMigrationAfterInterruptedSwap(t *testing.T) {
	s := openFreshProject(t)
	ctx := context.Background()

	resID, err := s.CreateResource(ctx, "https://example.com/page")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteRevision(ctx, resID, "", nil, nil, bytes.NewReader([]byte("body"))); err != nil {
		t.Fatal(err)
	}

	if err := s.startMigration(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.resumeMigration(ctx, noopMigrationListener{}); err != nil {
		t.Fatalf("first resumeMigration() error = %v", err)
	}

	// Simulate a crash between the swap and the final cleanup by
	// recreating the leftover old-layout directory by hand.
	oldDir := filepath.Join(s.dir, revisionsOldDirName)
	if err := os.MkdirAll(oldDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := s.setProperty(ctx, "major_version_old", "1"); err != nil {
		t.Fatal(err)
	}
	s.majorVersionOld = 1

	if err := s.resumeMigration(ctx, noopMigrationListener{}); err != nil {
		t.Fatalf("second resumeMigration() error = %v", err)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("expected old layout directory removed, stat err = %v", err)
	}
	if s.MigrationInProgress() {
		t.Error("MigrationInProgress() = true after cleanup")
	}
}
