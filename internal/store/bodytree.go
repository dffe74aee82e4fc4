package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"crystal/internal/model"
)

// revisionBodyPath returns the on-disk path of a revision body under the
// given major_version layout.
//
// Version 1 lays every body flat in revisions/, one file per revision ID.
// Version 2 formats the ID as 15 hex digits and splits it into five
// 3-digit groups (AAA/BBB/CCC/DDD/EEE), giving 4096-way fanout at each
// level so no single directory holds more than 4096 entries even for very
// large projects.
func revisionBodyPath(dir string, majorVersion int, id int64) string {
	root := filepath.Join(dir, RevisionsDirName)
	if majorVersion <= 1 {
		return filepath.Join(root, strconv.FormatInt(id, 10))
	}
	hex := fmt.Sprintf("%015x", id)
	return filepath.Join(root, hex[0:3], hex[3:6], hex[6:9], hex[9:12], hex[12:15])
}

func (s *Store) revisionBodyPath(id int64) string {
	return revisionBodyPath(s.dir, s.majorVersion, id)
}

// WriteRevision executes the durable revision write protocol: the body is
// written to a temp file, fsynced, and renamed into its final place only
// after the metadata row has committed — so a crash between the two steps
// leaves an orphan row with no body, which repairOnOpen can detect and
// clean up within the orphan repair window, rather than a body file with
// no owning row.
func (s *Store) WriteRevision(ctx context.Context, resourceID int64, cookie string, revErr *model.RevisionError, metadata *model.ResponseMetadata, body io.Reader) (model.Revision, error) {
	if err := s.requireWritable(); err != nil {
		return model.Revision{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rev := model.Revision{
		ResourceID:    resourceID,
		RequestCookie: cookie,
		Error:         revErr,
		Metadata:      metadata,
		CreatedAt:     time.Now(),
	}
	id, err := s.createRevisionLocked(ctx, rev)
	if err != nil {
		return model.Revision{}, fmt.Errorf("recording revision metadata: %w", err)
	}
	rev.ID = id

	if body == nil {
		return rev, nil
	}

	if err := s.writeBodyLocked(id, body); err != nil {
		if _, delErr := s.db.ExecContext(ctx, `DELETE FROM resource_revision WHERE id = ?`, id); delErr != nil {
			return model.Revision{}, fmt.Errorf("writing revision body: %w (rollback also failed: %v)", err, delErr)
		}
		return model.Revision{}, fmt.Errorf("writing revision body: %w", err)
	}
	rev.HasBody = true
	return rev, nil
}

// writeBodyLocked performs the temp-write/fsync/rename/fsync-parent
// sequence for a single revision body. Caller holds writeMu.
func (s *Store) writeBodyLocked(id int64, body io.Reader) error {
	if err := s.checkFreeSpace(); err != nil {
		return err
	}

	tmp, err := s.tmpFile("revision-body-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fmt.Errorf("copying body: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	finalPath := s.revisionBodyPath(id)
	finalDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(finalDir, 0755); err != nil {
		return fmt.Errorf("creating body directory: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming body into place: %w", err)
	}
	if err := syncDir(finalDir); err != nil {
		return fmt.Errorf("fsyncing body directory: %w", err)
	}
	return nil
}

// syncDir fsyncs a directory so a rename into it survives a crash.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// ReadRevisionBody opens a revision's body for reading. If the body is
// absent at the current major_version's path and a migration is in
// progress, it falls back to the pre-migration layout and then to the
// revisions.inprogress staging tree, since an in-progress migration leaves
// each body in one of those depending on how far the copy pass has gotten.
func (s *Store) ReadRevisionBody(id int64) (io.ReadCloser, error) {
	f, err := os.Open(s.revisionBodyPath(id))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if s.majorVersionOld != 0 {
		if f, err2 := os.Open(revisionBodyPath(s.dir, s.majorVersionOld, id)); err2 == nil {
			return f, nil
		}
		if f, err2 := os.Open(filepath.Join(s.dir, RevisionsInProgressDirName, relativeV2Path(id))); err2 == nil {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: revision %d", ErrRevisionBodyMissing, id)
}

// HasRevisionBody reports whether a revision's body file is present,
// checking the pre-migration layout too when a migration is in progress.
func (s *Store) HasRevisionBody(id int64) bool {
	if _, err := os.Stat(s.revisionBodyPath(id)); err == nil {
		return true
	}
	if s.majorVersionOld != 0 {
		if _, err := os.Stat(revisionBodyPath(s.dir, s.majorVersionOld, id)); err == nil {
			return true
		}
	}
	return false
}

// DeleteRevisionBody removes a revision's body file without touching its
// metadata row, used by orphan repair and by explicit revision deletion.
func (s *Store) DeleteRevisionBody(id int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	err := os.Remove(s.revisionBodyPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
