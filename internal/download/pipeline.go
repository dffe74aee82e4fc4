// Package download implements the download pipeline: it fetches a
// resource's body over HTTP, persists the resulting revision, dispatches
// it to the link parser facade, and reports discovered embeds back to the
// scheduler. Pipeline's three exported methods are built to be assigned
// directly into a scheduler.Pipeline's Fetch/Parse/Groups fields.
package download

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"crystal/internal/model"
	"crystal/internal/parse"
	"crystal/internal/scheduler"
)

// ProjectStore is the subset of internal/store.Store the download
// pipeline needs, kept as an interface the same way internal/scheduler
// depends on PropertyStore rather than a concrete store type.
type ProjectStore interface {
	ResourceByID(ctx context.Context, id int64) (model.Resource, error)
	ResourceByURL(ctx context.Context, url string) (model.Resource, error)
	CreateResources(ctx context.Context, urls []string) ([]int64, error)

	WriteRevision(ctx context.Context, resourceID int64, cookie string, revErr *model.RevisionError, metadata *model.ResponseMetadata, body io.Reader) (model.Revision, error)
	RevisionByID(ctx context.Context, id int64) (model.Revision, error)
	LatestRevision(ctx context.Context, resourceID int64) (model.Revision, error)
	ReadRevisionBody(id int64) (io.ReadCloser, error)

	Properties(ctx context.Context) (model.ProjectProperties, error)
	AllResourceGroups(ctx context.Context) ([]model.ResourceGroup, error)
	GroupByID(ctx context.Context, id int64) (model.ResourceGroup, error)
	AllAliases(ctx context.Context) ([]model.Alias, error)

	AllResourceURLs(ctx context.Context) ([]model.Resource, error)
	ResourceURLsByPrefix(ctx context.Context, prefix string) ([]model.Resource, error)
	StreamResourceURLs(ctx context.Context) (model.ResourceCursor, error)
}

const (
	defaultUserAgent          = "CrystalArchiver/1.0"
	defaultFirstByteTimeout   = 10 * time.Second
	defaultStallTimeout       = 30 * time.Second
	defaultSessionFreshWindow = 60 * time.Minute
)

// Pipeline implements the fetch/parse/group-membership call shapes
// internal/scheduler drives a project's task tree with. A zero Pipeline
// is not usable; build one with New.
type Pipeline struct {
	store   ProjectStore
	parsers *parse.Registry
	client  *http.Client

	userAgent   string
	maxBodySize int64 // 0 means unlimited

	firstByteTimeout   time.Duration
	stallTimeout       time.Duration
	sessionFreshWindow time.Duration
	assumeFresh        bool

	projectFitsInMemory bool

	seenMu sync.Mutex
	seen   map[int64]time.Time
}

// Option configures a Pipeline, the same functional-options shape used
// throughout the corpus for protocol clients.
type Option func(*Pipeline)

// WithHTTPClient overrides the HTTP client used for fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.client = c }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(p *Pipeline) { p.userAgent = ua }
}

// WithMaxBodySize caps how much of a response body is read. 0 (the
// default) means unlimited.
func WithMaxBodySize(n int64) Option {
	return func(p *Pipeline) { p.maxBodySize = n }
}

// WithFirstByteTimeout overrides how long a request may take before the
// first response byte arrives.
func WithFirstByteTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.firstByteTimeout = d }
}

// WithStallTimeout overrides how long a body transfer may go without
// making read progress before it's aborted.
func WithStallTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.stallTimeout = d }
}

// WithSessionFreshWindow overrides how long a successful fetch is
// considered fresh enough to short-circuit a repeat request this session.
func WithSessionFreshWindow(d time.Duration) Option {
	return func(p *Pipeline) { p.sessionFreshWindow = d }
}

// WithAssumeFreshThisSession toggles the session-fresh short-circuit
// behind a feature flag: it has been enabled and disabled by turns across
// versions, so callers can flip it per project rather than per build.
func WithAssumeFreshThisSession(enabled bool) Option {
	return func(p *Pipeline) { p.assumeFresh = enabled }
}

// WithProjectFitsInMemory tells group-membership evaluation it can use
// the in-memory-scan strategy instead of a streaming cursor.
func WithProjectFitsInMemory(fits bool) Option {
	return func(p *Pipeline) { p.projectFitsInMemory = fits }
}

// New builds a Pipeline over store, dispatching parse work to parsers.
func New(store ProjectStore, parsers *parse.Registry, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:              store,
		parsers:            parsers,
		client:             &http.Client{},
		userAgent:          defaultUserAgent,
		firstByteTimeout:   defaultFirstByteTimeout,
		stallTimeout:       defaultStallTimeout,
		sessionFreshWindow: defaultSessionFreshWindow,
		assumeFresh:        true,
		seen:               map[int64]time.Time{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// patternMatcher is the method set model.CompilePattern's result exposes,
// named locally since the concrete type is unexported in internal/model.
type patternMatcher interface {
	Match(url string) bool
}

// loadDoNotDownloadPatterns compiles every do_not_download group's
// pattern, used both to suppress embed scheduling and to filter a
// DownloadGroup's own membership cursor.
func (p *Pipeline) loadDoNotDownloadPatterns(ctx context.Context) ([]patternMatcher, error) {
	groups, err := p.store.AllResourceGroups(ctx)
	if err != nil {
		return nil, err
	}
	var out []patternMatcher
	for _, g := range groups {
		if !g.DoNotDownload {
			continue
		}
		m, err := model.CompilePattern(g.URLPattern)
		if err != nil {
			continue // a malformed stored pattern excludes nothing rather than failing the whole fetch
		}
		out = append(out, m)
	}
	return out, nil
}

func matchesAny(patterns []patternMatcher, url string) bool {
	for _, m := range patterns {
		if m.Match(url) {
			return true
		}
	}
	return false
}

// headerValue looks up a response header recorded in revision metadata,
// case-insensitively, the way net/http.Header.Get does.
func headerValue(meta *model.ResponseMetadata, key string) string {
	if meta == nil {
		return ""
	}
	for _, kv := range meta.Headers {
		if len(kv) == 2 && strings.EqualFold(kv[0], key) {
			return kv[1]
		}
	}
	return ""
}

var _ scheduler.FetchFunc = (*Pipeline)(nil).Fetch
var _ scheduler.ParseFunc = (*Pipeline)(nil).Parse
var _ scheduler.GroupFunc = (*Pipeline)(nil).Groups
