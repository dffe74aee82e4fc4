package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crystal/internal/model"
)

// CreateResource inserts a new resource row and returns its ID, or returns
// the ID of the existing row if the URL is already present (URLs are
// unique, so this operation is naturally idempotent).
func (s *Store) CreateResource(ctx context.Context, url string) (int64, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.createResourceLocked(ctx, url)
}

// createResourceLocked is CreateResource's body, callable by other
// writeMu-holding operations (such as the revision write protocol) without
// re-entering the mutex.
func (s *Store) createResourceLocked(ctx context.Context, url string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resource (url) VALUES (?)
		ON CONFLICT(url) DO NOTHING`, url)
	if err != nil {
		return 0, fmt.Errorf("inserting resource: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return 0, err
		}
		return id, nil
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM resource WHERE url = ?`, url).Scan(&id); err != nil {
		return 0, fmt.Errorf("looking up existing resource: %w", err)
	}
	return id, nil
}

// CreateResources get-or-creates a batch of resources in one transaction,
// returning their ids in the same order as urls.
func (s *Store) CreateResources(ctx context.Context, urls []string) ([]int64, error) {
	if err := s.requireWritable(); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning bulk resource creation: %w", err)
	}
	defer tx.Rollback()

	ids := make([]int64, len(urls))
	for i, url := range urls {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO resource (url) VALUES (?)
			ON CONFLICT(url) DO NOTHING`, url)
		if err != nil {
			return nil, fmt.Errorf("inserting resource %q: %w", url, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			id, err := res.LastInsertId()
			if err != nil {
				return nil, err
			}
			ids[i] = id
			continue
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM resource WHERE url = ?`, url).Scan(&id); err != nil {
			return nil, fmt.Errorf("looking up existing resource %q: %w", url, err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bulk resource creation: %w", err)
	}
	return ids, nil
}

// ResourceByURL returns the resource with the given exact URL.
func (s *Store) ResourceByURL(ctx context.Context, url string) (model.Resource, error) {
	var r model.Resource
	err := s.db.QueryRowContext(ctx, `SELECT id, url FROM resource WHERE url = ?`, url).Scan(&r.ID, &r.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resource{}, model.ErrNotFound
	}
	if err != nil {
		return model.Resource{}, err
	}
	return r, nil
}

// ResourceByID returns the resource with the given ID.
func (s *Store) ResourceByID(ctx context.Context, id int64) (model.Resource, error) {
	var r model.Resource
	err := s.db.QueryRowContext(ctx, `SELECT id, url FROM resource WHERE id = ?`, id).Scan(&r.ID, &r.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resource{}, model.ErrNotFound
	}
	if err != nil {
		return model.Resource{}, err
	}
	return r, nil
}

// DeleteResource removes a resource and all its revisions. Callers must
// first ensure the resource is not referenced by a root resource (the
// schema's FK has no cascade there, matching the ownership rule that root
// resources own their target, not the other way around).
func (s *Store) DeleteResource(ctx context.Context, id int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var rootCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM root_resource WHERE resource_id = ?`, id).Scan(&rootCount); err != nil {
		return err
	}
	if rootCount > 0 {
		return model.ErrResourceReferenced
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM resource_revision WHERE resource_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM resource WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AllResourceURLs implements model.ResourceLister for the in-memory-scan
// membership strategy.
func (s *Store) AllResourceURLs(ctx context.Context) ([]model.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url FROM resource ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResources(rows)
}

// ResourceURLsByPrefix implements model.ResourceLister for the B-tree
// prefix-range membership strategy, relying on the UNIQUE index on url to
// serve as a usable range scan.
func (s *Store) ResourceURLsByPrefix(ctx context.Context, prefix string) ([]model.Resource, error) {
	// The half-open range [prefix, prefix+0xFF...) captures exactly the
	// rows whose url starts with prefix under byte-wise collation.
	upper := prefix + "\xff\xff\xff\xff"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url FROM resource WHERE url >= ? AND url < ? ORDER BY url`, prefix, upper)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResources(rows)
}

func scanResources(rows *sql.Rows) ([]model.Resource, error) {
	var out []model.Resource
	for rows.Next() {
		var r model.Resource
		if err := rows.Scan(&r.ID, &r.URL); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// resourceCursor adapts a *sql.Rows into model.ResourceCursor for the
// streaming-cursor membership strategy.
type resourceCursor struct {
	rows *sql.Rows
}

// StreamResourceURLs implements model.ResourceLister for the streaming
// strategy used when the project is too large to fit in memory.
func (s *Store) StreamResourceURLs(ctx context.Context) (model.ResourceCursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, url FROM resource ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return &resourceCursor{rows: rows}, nil
}

func (c *resourceCursor) Next() (model.Resource, bool, error) {
	if !c.rows.Next() {
		return model.Resource{}, false, c.rows.Err()
	}
	var r model.Resource
	if err := c.rows.Scan(&r.ID, &r.URL); err != nil {
		return model.Resource{}, false, err
	}
	return r, true, nil
}

func (c *resourceCursor) Close() error { return c.rows.Close() }

// CreateRevision inserts a new revision row for an existing resource. It
// only records metadata; WriteRevision uses the same insert and then writes
// the body, so the row commits before any body bytes reach the disk.
func (s *Store) CreateRevision(ctx context.Context, rev model.Revision) (int64, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.createRevisionLocked(ctx, rev)
}

// createRevisionLocked is CreateRevision's body, callable by other
// writeMu-holding operations without re-entering the mutex.
func (s *Store) createRevisionLocked(ctx context.Context, rev model.Revision) (int64, error) {
	errJSON, err := marshalRevisionError(rev.Error)
	if err != nil {
		return 0, err
	}
	metaJSON, err := marshalMetadata(rev.Metadata)
	if err != nil {
		return 0, err
	}
	createdAt := rev.CreatedAt
	if createdAt.IsZero() {
		return 0, fmt.Errorf("revision CreatedAt must be set by the caller")
	}

	var cookie sql.NullString
	if rev.RequestCookie != "" {
		cookie = sql.NullString{String: rev.RequestCookie, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_revision (resource_id, request_cookie, error, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rev.ResourceID, cookie, errJSON, metaJSON, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("inserting revision: %w", err)
	}
	return res.LastInsertId()
}

// RevisionByID returns a single revision row. HasBody is not determined
// here — callers needing body presence should consult internal/store's
// body-tree helpers, since presence is a filesystem fact, not a row fact.
func (s *Store) RevisionByID(ctx context.Context, id int64) (model.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, request_cookie, error, metadata, created_at
		FROM resource_revision WHERE id = ?`, id)
	return scanRevision(row)
}

// RevisionsByResource returns all revisions of a resource, oldest first.
func (s *Store) RevisionsByResource(ctx context.Context, resourceID int64) ([]model.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, request_cookie, error, metadata, created_at
		FROM resource_revision WHERE resource_id = ? ORDER BY id`, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Revision
	for rows.Next() {
		rev, err := scanRevisionRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// LatestRevision returns the most recent revision of a resource.
func (s *Store) LatestRevision(ctx context.Context, resourceID int64) (model.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, request_cookie, error, metadata, created_at
		FROM resource_revision WHERE resource_id = ? ORDER BY id DESC LIMIT 1`, resourceID)
	return scanRevision(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRevision(row rowScanner) (model.Revision, error) {
	rev, err := scanRevisionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Revision{}, model.ErrNotFound
	}
	return rev, err
}

func scanRevisionRow(row rowScanner) (model.Revision, error) {
	var rev model.Revision
	var cookie sql.NullString
	var errJSON, metaJSON, createdAt string

	if err := row.Scan(&rev.ID, &rev.ResourceID, &cookie, &errJSON, &metaJSON, &createdAt); err != nil {
		return model.Revision{}, err
	}
	rev.RequestCookie = cookie.String

	revErr, err := unmarshalRevisionError(errJSON)
	if err != nil {
		return model.Revision{}, err
	}
	rev.Error = revErr

	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return model.Revision{}, err
	}
	rev.Metadata = meta

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return model.Revision{}, fmt.Errorf("parsing created_at: %w", err)
	}
	rev.CreatedAt = ts
	return rev, nil
}

func marshalRevisionError(e *model.RevisionError) (string, error) {
	if e == nil {
		return "null", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalRevisionError(raw string) (*model.RevisionError, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var e model.RevisionError
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("unmarshaling revision error: %w", err)
	}
	return &e, nil
}

func marshalMetadata(m *model.ResponseMetadata) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(raw string) (*model.ResponseMetadata, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m model.ResponseMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling response metadata: %w", err)
	}
	return &m, nil
}

// CreateRootResource registers an existing resource as a root.
func (s *Store) CreateRootResource(ctx context.Context, name string, resourceID int64) (int64, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO root_resource (name, resource_id) VALUES (?, ?)`, name, resourceID)
	if err != nil {
		return 0, fmt.Errorf("inserting root resource: %w", err)
	}
	return res.LastInsertId()
}

// AllRootResources returns every root resource, insertion order.
func (s *Store) AllRootResources(ctx context.Context) ([]model.RootResource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, resource_id FROM root_resource ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RootResource
	for rows.Next() {
		var rr model.RootResource
		if err := rows.Scan(&rr.ID, &rr.Name, &rr.ResourceID); err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// DeleteRootResource removes a root resource entry without touching the
// underlying resource or its revisions.
func (s *Store) DeleteRootResource(ctx context.Context, id int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM root_resource WHERE id = ?`, id)
	return err
}

// CreateResourceGroup inserts a new resource group.
func (s *Store) CreateResourceGroup(ctx context.Context, g model.ResourceGroup) (int64, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var sourceID sql.NullInt64
	if g.SourceType != model.GroupSourceNone {
		sourceID = sql.NullInt64{Int64: g.SourceID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_group (name, url_pattern, source_type, source_id, do_not_download)
		VALUES (?, ?, ?, ?, ?)`,
		g.Name, g.URLPattern, string(g.SourceType), sourceID, g.DoNotDownload)
	if err != nil {
		return 0, fmt.Errorf("inserting resource group: %w", err)
	}
	return res.LastInsertId()
}

// GroupByID implements model.GroupSourceResolver, used by cycle detection.
func (s *Store) GroupByID(ctx context.Context, id int64) (model.ResourceGroup, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, url_pattern, source_type, source_id, do_not_download
		FROM resource_group WHERE id = ?`, id)
	return scanGroup(row)
}

// AllResourceGroups returns every resource group, insertion order.
func (s *Store) AllResourceGroups(ctx context.Context) ([]model.ResourceGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, url_pattern, source_type, source_id, do_not_download
		FROM resource_group ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ResourceGroup
	for rows.Next() {
		g, err := scanGroupRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGroup(row rowScanner) (model.ResourceGroup, error) {
	g, err := scanGroupRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ResourceGroup{}, model.ErrNotFound
	}
	return g, err
}

func scanGroupRow(row rowScanner) (model.ResourceGroup, error) {
	var g model.ResourceGroup
	var sourceType string
	var sourceID sql.NullInt64
	if err := row.Scan(&g.ID, &g.Name, &g.URLPattern, &sourceType, &sourceID, &g.DoNotDownload); err != nil {
		return model.ResourceGroup{}, err
	}
	g.SourceType = model.GroupSourceType(sourceType)
	g.SourceID = sourceID.Int64
	return g, nil
}

// DeleteResourceGroup removes a resource group. Callers must check that no
// other group's source_id references it first; cycle prevention happens at
// creation time via model.ValidateNoCycle, not here.
func (s *Store) DeleteResourceGroup(ctx context.Context, id int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM resource_group WHERE id = ?`, id)
	return err
}

// CreateAlias inserts a new alias. Aliases are applied in ascending ID
// order by model.Normalizer, so insertion order is significant.
func (s *Store) CreateAlias(ctx context.Context, a model.Alias) (int64, error) {
	if err := s.requireWritable(); err != nil {
		return 0, err
	}
	if err := model.ValidateAlias(a); err != nil {
		return 0, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alias (source_url_prefix, target_url_prefix, target_is_external)
		VALUES (?, ?, ?)`, a.SourceURLPrefix, a.TargetURLPrefix, a.TargetIsExternal)
	if err != nil {
		return 0, fmt.Errorf("inserting alias: %w", err)
	}
	return res.LastInsertId()
}

// AllAliases returns every alias, ascending by ID.
func (s *Store) AllAliases(ctx context.Context) ([]model.Alias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_url_prefix, target_url_prefix, target_is_external
		FROM alias ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alias
	for rows.Next() {
		var a model.Alias
		if err := rows.Scan(&a.ID, &a.SourceURLPrefix, &a.TargetURLPrefix, &a.TargetIsExternal); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAlias removes an alias by ID.
func (s *Store) DeleteAlias(ctx context.Context, id int64) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM alias WHERE id = ?`, id)
	return err
}
