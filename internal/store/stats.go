package store

import (
	"context"
	"path/filepath"
)

// Stats summarizes a project's size, for crystalctl stats.
type Stats struct {
	ResourceCount  int
	RevisionCount  int
	GroupCount     int
	AliasCount     int
	DatabaseBytes  int64
	RevisionsBytes int64
	MajorVersion   int
}

// Stats computes resource/revision/group/alias counts and the on-disk size
// of the database and revision-body tree.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{MajorVersion: s.majorVersion}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resource`).Scan(&st.ResourceCount); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resource_revision`).Scan(&st.RevisionCount); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resource_group`).Scan(&st.GroupCount); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alias`).Scan(&st.AliasCount); err != nil {
		return Stats{}, err
	}

	dbBytes, err := dirSize(filepath.Join(s.dir, DatabaseFileName))
	if err != nil {
		return Stats{}, err
	}
	st.DatabaseBytes = dbBytes

	revBytes, err := dirSize(filepath.Join(s.dir, RevisionsDirName))
	if err != nil {
		return Stats{}, err
	}
	st.RevisionsBytes = revBytes

	return st, nil
}

// RepairOrphans re-runs the orphaned-revision scan repairOnOpen already
// performs on every writable Open, for an operator who wants to trigger and
// observe it without reopening the project. It returns the number of
// revision rows deleted.
func (s *Store) RepairOrphans(ctx context.Context) (int, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	return s.repairOrphanedRevisions(ctx)
}
