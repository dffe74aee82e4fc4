package store

import "errors"

// Sentinel errors returned by store operations, matched with errors.Is.
// Concrete errors wrap one of these plus context via fmt.Errorf("...: %w").
var (
	ErrProjectTooNew       = errors.New("store: project major_version is newer than this binary supports")
	ErrProjectReadOnly     = errors.New("store: project is open read-only")
	ErrDiskFull            = errors.New("store: insufficient free disk space")
	ErrRevisionBodyMissing = errors.New("store: revision body file is missing")
	ErrNotFound            = errors.New("store: not found")
	ErrAlreadyExists       = errors.New("store: already exists")
	ErrInvalidProject      = errors.New("store: not a valid project directory")
	ErrMigrationRequired   = errors.New("store: project requires migration before use")
)
