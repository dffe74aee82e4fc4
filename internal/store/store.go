// Package store implements the durable on-disk project format: a relational
// metadata database plus a revision-body tree, opened through a sequence
// that validates shape, repairs interrupted writes, and offers monotone
// migrations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"crystal/internal/store/migrations"
)

// Directory layout constants for a .crystalproj directory.
const (
	DatabaseFileName           = "database.sqlite"
	RevisionsDirName           = "revisions"
	RevisionsInProgressDirName = "revisions.inprogress"
	TmpDirName                 = "tmp"
	OpenerFileName             = "OPEN ME.crystalopen"
	ReadmeFileName             = "README.txt"

	// openerMagic is written at the start of the opener stub file, a
	// four-character-code identifying the format.
	openerMagic = "CrOp"

	// LatestMajorVersion is the highest on-disk revision-body layout this
	// binary supports.
	LatestMajorVersion = 2

	// orphanRepairWindow: on reopen, an unreadable last-revision body is
	// deleted as a repaired orphan only if this many earlier revisions for
	// the same resource are readable, which tolerates a single interrupted
	// write without risking deletion of a body that's merely unlucky.
	orphanRepairWindow = 3
)

// OpenMode selects how a project directory is opened.
type OpenMode int

const (
	// ModeWritable opens for read/write, enabling WAL and running the full
	// open sequence including repair and migration.
	ModeWritable OpenMode = iota
	// ModeReadOnly opens without ever writing to the database or revisions
	// tree, whether by request or because the filesystem forced it.
	ModeReadOnly
)

// OpenOptions configures Store.Open.
type OpenOptions struct {
	Mode OpenMode

	// Create, if true, permits creating a brand-new project at dir when no
	// database file exists there yet. Ignored when Mode is ModeReadOnly.
	Create bool
}

// Store owns the database handle and the revision directory. It is the
// only component in the system permitted to write either.
type Store struct {
	dir      string
	db       *sql.DB
	writable bool

	// writeMu serializes body writes and database transactions: a project
	// has exactly one writer at a time, even with several goroutines
	// issuing download and parse work concurrently.
	writeMu sync.Mutex

	majorVersion    int
	majorVersionOld int // 0 means unset
}

// Dir returns the project's .crystalproj directory path.
func (s *Store) Dir() string { return s.dir }

// Writable reports whether this Store was opened for read/write access.
func (s *Store) Writable() bool { return s.writable }

// MajorVersion returns the on-disk revision-body layout version currently
// in effect (the target version while migrating).
func (s *Store) MajorVersion() int { return s.majorVersion }

// MigrationInProgress reports whether major_version_old is set.
func (s *Store) MigrationInProgress() bool { return s.majorVersionOld != 0 }

// NeedsMigration reports whether MigrateToLatest would do any work.
func (s *Store) NeedsMigration() bool {
	return s.MigrationInProgress() || s.majorVersion < LatestMajorVersion
}

// Open opens a .crystalproj directory, validating its shape, repairing any
// write interrupted by a crash, and bringing the schema up to date.
func Open(ctx context.Context, dir string, opts OpenOptions) (*Store, error) {
	dbPath := filepath.Join(dir, DatabaseFileName)

	// 1. Validate directory shape.
	entries, statErr := os.ReadDir(dir)
	dbExists := false
	if statErr == nil {
		for _, e := range entries {
			if e.Name() == DatabaseFileName {
				dbExists = true
				break
			}
		}
	}
	if !dbExists {
		if opts.Mode == ModeReadOnly {
			return nil, fmt.Errorf("%w: no database file at %s", ErrInvalidProject, dbPath)
		}
		if !opts.Create {
			return nil, fmt.Errorf("%w: no database file at %s and creation not requested", ErrInvalidProject, dbPath)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating project directory: %w", err)
		}
	}

	writable := opts.Mode == ModeWritable
	// A read-only filesystem forces read-only mode even if the caller
	// asked for writable.
	if writable {
		if err := probeWritable(dir); err != nil {
			writable = false
		}
	}

	// 2. Open the database.
	dsn := dbPath
	if !writable {
		dsn = fmt.Sprintf("file:%s?mode=ro&_query_only=true", dbPath)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if writable {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL: %w", err)
		}
	}

	if writable {
		if err := migrations.Up(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema migrations: %w", err)
		}
	} else {
		if err := migrations.CheckStatus(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("checking schema: %w", err)
		}
	}

	s := &Store{dir: dir, db: db, writable: writable}

	// Read major_version, initializing it to 1 for a brand-new project.
	if !dbExists && writable {
		if err := s.setProperty(ctx, "major_version", "1"); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing major_version: %w", err)
		}
	}
	mv, err := s.getPropertyInt(ctx, "major_version", 1)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading major_version: %w", err)
	}
	s.majorVersion = mv
	if mv > LatestMajorVersion {
		db.Close()
		return nil, fmt.Errorf("%w: project is major_version %d, this binary supports up to %d", ErrProjectTooNew, mv, LatestMajorVersion)
	}
	mvOld, err := s.getPropertyIntOptional(ctx, "major_version_old")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("reading major_version_old: %w", err)
	}
	s.majorVersionOld = mvOld

	if writable {
		if err := os.MkdirAll(filepath.Join(dir, RevisionsDirName), 0755); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating revisions directory: %w", err)
		}

		if err := s.repairOnOpen(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("repairing project on open: %w", err)
		}

		// Clear tmp/ and recreate discoverable files.
		if err := s.clearTmp(); err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing tmp directory: %w", err)
		}
		if err := s.ensureDiscoverableFiles(); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating discoverable files: %w", err)
		}
	}

	return s, nil
}

// probeWritable checks whether dir looks writable without mutating it.
func probeWritable(dir string) error {
	probe := filepath.Join(dir, ".crystal-write-probe")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}

// clearTmp removes and recreates the tmp/ directory.
func (s *Store) clearTmp() error {
	tmp := filepath.Join(s.dir, TmpDirName)
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	return os.MkdirAll(tmp, 0755)
}

// ensureDiscoverableFiles recreates the opener stub and README if missing.
func (s *Store) ensureDiscoverableFiles() error {
	openerPath := filepath.Join(s.dir, OpenerFileName)
	if _, err := os.Stat(openerPath); os.IsNotExist(err) {
		if err := os.WriteFile(openerPath, []byte(openerMagic), 0644); err != nil {
			return fmt.Errorf("writing opener stub: %w", err)
		}
	}

	readmePath := filepath.Join(s.dir, ReadmeFileName)
	if _, err := os.Stat(readmePath); os.IsNotExist(err) {
		const readme = "This directory is a Crystal project. Do not move or rename its contents by hand.\n"
		if err := os.WriteFile(readmePath, []byte(readme), 0644); err != nil {
			return fmt.Errorf("writing README: %w", err)
		}
	}
	return nil
}

// tmpFile creates a new temp file under the project's tmp/ directory, for
// use by the revision write protocol.
func (s *Store) tmpFile(pattern string) (*os.File, error) {
	return os.CreateTemp(filepath.Join(s.dir, TmpDirName), pattern)
}

// Close closes the database handle. Revision body files need no explicit
// close beyond what individual read/write calls already perform.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// requireWritable is a guard used by every mutating operation.
func (s *Store) requireWritable() error {
	if !s.writable {
		return ErrProjectReadOnly
	}
	return nil
}
