package store

import (
	"context"
	"fmt"
)

// repairOnOpen runs once per writable Open, picking up any work a previous
// process left unfinished: a migration interrupted mid-copy or mid-swap,
// and revisions whose body file went missing because a crash landed
// between the metadata commit and the body rename.
func (s *Store) repairOnOpen(ctx context.Context) error {
	if s.MigrationInProgress() {
		if err := s.resumeMigration(ctx, noopMigrationListener{}); err != nil {
			return fmt.Errorf("resuming interrupted migration: %w", err)
		}
	}

	if _, err := s.repairOrphanedRevisions(ctx); err != nil {
		return fmt.Errorf("repairing orphaned revisions: %w", err)
	}
	return nil
}

// repairOrphanedRevisions looks at, for each resource, whether its most
// recent revision's body is missing. A missing body for the newest
// revision is deleted as an orphan row only when that revision was
// expected to have a body in the first place (a recorded error has none by
// design and is never an orphan; WriteRevision leaves a body file, possibly
// empty, for every revision it is given a body for, so a non-error row
// without one is treated as a crash artifact) and the orphanRepairWindow
// non-error revisions before it all have readable
// bodies — that pattern is what a crash between the metadata commit and
// the body rename looks like. A resource with several consecutive missing
// bodies more likely reflects a real filesystem problem, and is left
// alone for the caller to notice. It returns the number of revision rows
// deleted.
func (s *Store) repairOrphanedRevisions(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT resource_id FROM resource_revision`)
	if err != nil {
		return 0, err
	}
	var resourceIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		resourceIDs = append(resourceIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	rows.Close()

	repaired := 0
	for _, resourceID := range resourceIDs {
		revs, err := s.RevisionsByResource(ctx, resourceID)
		if err != nil {
			return repaired, err
		}
		if len(revs) == 0 {
			continue
		}
		last := revs[len(revs)-1]
		if last.IsError() {
			continue // body-less by design, not a crash artifact
		}
		if s.HasRevisionBody(last.ID) {
			continue
		}

		window := revs[:len(revs)-1]
		if len(window) > orphanRepairWindow {
			window = window[len(window)-orphanRepairWindow:]
		}
		if len(window) < orphanRepairWindow {
			continue // not enough history to be confident this is a one-off
		}

		allReadable := true
		for _, r := range window {
			if r.IsError() {
				continue // body-less by design, doesn't count against the window
			}
			if !s.HasRevisionBody(r.ID) {
				allReadable = false
				break
			}
		}
		if !allReadable {
			continue
		}

		if _, err := s.db.ExecContext(ctx, `DELETE FROM resource_revision WHERE id = ?`, last.ID); err != nil {
			return repaired, fmt.Errorf("deleting orphaned revision %d: %w", last.ID, err)
		}
		repaired++
	}
	return repaired, nil
}
