package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"crystal/internal/model"
)

// RawProperty returns the raw string value of an arbitrary project
// property, for callers outside this package that own their own
// properties — such as the scheduler's hibernated_tasks entry.
func (s *Store) RawProperty(ctx context.Context, name string) (string, bool, error) {
	return s.getProperty(ctx, name)
}

// SetRawProperty upserts an arbitrary project property.
func (s *Store) SetRawProperty(ctx context.Context, name, value string) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	return s.setProperty(ctx, name, value)
}

// getProperty returns the raw string value of a project_property row.
func (s *Store) getProperty(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM project_property WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// setProperty upserts a project_property row.
func (s *Store) setProperty(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_property (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return err
}

// deleteProperty removes a project_property row if present.
func (s *Store) deleteProperty(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM project_property WHERE name = ?`, name)
	return err
}

func (s *Store) getPropertyInt(ctx context.Context, name string, def int) (int, error) {
	raw, ok, err := s.getProperty(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("property %q is not an integer: %w", name, err)
	}
	return n, nil
}

// getPropertyIntOptional returns 0 when the property is unset, distinct
// from a stored "0" which also returns 0 — the caller only needs to
// distinguish "unset" for major_version_old, where 0 already means unset.
func (s *Store) getPropertyIntOptional(ctx context.Context, name string) (int, error) {
	raw, ok, err := s.getProperty(ctx, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("property %q is not an integer: %w", name, err)
	}
	return n, nil
}

// Properties loads the full set of project properties known to the model
// package, applying defaults for anything never written.
func (s *Store) Properties(ctx context.Context) (model.ProjectProperties, error) {
	mv, err := s.getPropertyInt(ctx, "major_version", 1)
	if err != nil {
		return model.ProjectProperties{}, err
	}
	mvOld, err := s.getPropertyIntOptional(ctx, "major_version_old")
	if err != nil {
		return model.ProjectProperties{}, err
	}
	defaultPrefix, _, err := s.getProperty(ctx, "default_url_prefix")
	if err != nil {
		return model.ProjectProperties{}, err
	}
	htmlParser, ok, err := s.getProperty(ctx, "html_parser_type")
	if err != nil {
		return model.ProjectProperties{}, err
	}
	if !ok {
		htmlParser = string(model.HTMLParserBasic)
	}
	titleFormat, ok, err := s.getProperty(ctx, "entity_title_format")
	if err != nil {
		return model.ProjectProperties{}, err
	}
	if !ok {
		titleFormat = string(model.EntityTitleURLName)
	}

	return model.ProjectProperties{
		MajorVersion:      mv,
		MajorVersionOld:   mvOld,
		DefaultURLPrefix:  defaultPrefix,
		HTMLParserType:    model.HTMLParserType(htmlParser),
		EntityTitleFormat: model.EntityTitleFormat(titleFormat),
	}, nil
}

// SetProperties persists the mutable fields of model.ProjectProperties.
// MajorVersion and MajorVersionOld are excluded: those are owned by the
// migration machinery, not by general project configuration.
func (s *Store) SetProperties(ctx context.Context, p model.ProjectProperties) error {
	if err := s.requireWritable(); err != nil {
		return err
	}
	if err := s.setProperty(ctx, "default_url_prefix", p.DefaultURLPrefix); err != nil {
		return err
	}
	if err := s.setProperty(ctx, "html_parser_type", string(p.HTMLParserType)); err != nil {
		return err
	}
	if err := s.setProperty(ctx, "entity_title_format", string(p.EntityTitleFormat)); err != nil {
		return err
	}
	return nil
}
