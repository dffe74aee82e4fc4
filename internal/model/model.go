// Package model defines the in-memory entity types that ride on top of the
// project store: Resources, Root Resources, Resource Groups, Revisions and
// Aliases, plus the URL normalization rules that give them identity.
package model

import (
	"errors"
	"time"
)

// Sentinel errors used across the entity model. Callers match with errors.Is.
var (
	ErrNotFound           = errors.New("model: not found")
	ErrAlreadyExists       = errors.New("model: already exists")
	ErrInvalidURLPattern   = errors.New("model: invalid url pattern")
	ErrCyclicGroupSource   = errors.New("model: resource group source forms a cycle")
	ErrResourceReferenced  = errors.New("model: resource is referenced by a root resource")
)

// Resource is a downloadable absolute URL. It is created lazily on first
// reference and is never renamed.
type Resource struct {
	ID  int64
	URL string
}

// RevisionErrorKind classifies why a Revision has no usable body.
type RevisionErrorKind string

const (
	RevisionErrorNone       RevisionErrorKind = ""
	RevisionErrorTimeout    RevisionErrorKind = "timeout"
	RevisionErrorDNS        RevisionErrorKind = "dns"
	RevisionErrorTLS        RevisionErrorKind = "tls"
	RevisionErrorConnection RevisionErrorKind = "connection"
	RevisionErrorHTTP       RevisionErrorKind = "http"
	RevisionErrorIO         RevisionErrorKind = "io"
)

// RevisionError is the persisted error record for a failed fetch. A nil
// *RevisionError means success.
type RevisionError struct {
	Kind    RevisionErrorKind `json:"kind"`
	Message string            `json:"message"`
}

// ResponseMetadata mirrors the shape stored in resource_revision.metadata.
type ResponseMetadata struct {
	HTTPVersion  int        `json:"http_version"` // 10 or 11
	StatusCode   int        `json:"status_code"`
	ReasonPhrase string     `json:"reason_phrase"`
	Headers      [][2]string `json:"headers"`
}

// Revision is one concrete fetch of a Resource.
type Revision struct {
	ID             int64
	ResourceID     int64
	RequestCookie  string // empty means none
	Error          *RevisionError
	Metadata       *ResponseMetadata // nil iff Error != nil
	HasBody        bool
	CreatedAt      time.Time
}

// IsError reports whether this revision recorded a failure.
func (r *Revision) IsError() bool { return r.Error != nil }

// RootResource is a user-named anchor pointing at exactly one Resource.
type RootResource struct {
	ID         int64
	Name       string
	ResourceID int64
}

// GroupSourceType identifies what a ResourceGroup's source refers to.
type GroupSourceType string

const (
	GroupSourceNone         GroupSourceType = ""
	GroupSourceRootResource GroupSourceType = "root_resource"
	GroupSourceGroup        GroupSourceType = "group"
)

// ResourceGroup is a named URL pattern with wildcards. Membership is derived,
// never stored.
type ResourceGroup struct {
	ID             int64
	Name           string
	URLPattern     string
	SourceType     GroupSourceType
	SourceID       int64 // valid iff SourceType != GroupSourceNone
	DoNotDownload  bool
}

// Alias is a URL rewrite rule. Both prefixes must end in "/".
type Alias struct {
	ID                int64
	SourceURLPrefix   string
	TargetURLPrefix   string
	TargetIsExternal  bool
}

// HTMLParserType selects among pluggable HTML parser implementations.
type HTMLParserType string

const (
	HTMLParserBasic HTMLParserType = "basic"
	HTMLParserSoup  HTMLParserType = "soup"
)

// EntityTitleFormat controls how the (out-of-scope) UI would format titles;
// kept here because it's a persisted project property.
type EntityTitleFormat string

const (
	EntityTitleURLName EntityTitleFormat = "url_name"
	EntityTitleNameURL EntityTitleFormat = "name_url"
)

// ProjectProperties is the small key/value table of per-project settings.
type ProjectProperties struct {
	MajorVersion      int
	MajorVersionOld   int // 0 means "not set" / "no migration in progress"
	DefaultURLPrefix  string
	HTMLParserType    HTMLParserType
	EntityTitleFormat EntityTitleFormat
}

// MigrationInProgress reports whether MajorVersionOld is set.
func (p ProjectProperties) MigrationInProgress() bool { return p.MajorVersionOld != 0 }

// ExternalURLScheme is the pseudo-scheme used to mark URLs deliberately
// excluded from the archive by an Alias.
const ExternalURLScheme = "crystal://external/"
