package scheduler

import "context"

// Pipeline is the scheduler's view of the download pipeline: just enough
// surface to drive DownloadResourceBody and ParseLinks tasks without the
// scheduler package needing to know about HTTP, the store, or the parser
// registry. internal/download.Pipeline implements this.
type Pipeline struct {
	Fetch  FetchFunc
	Parse  ParseFunc
	Groups GroupFunc
}

// FetchFunc downloads one resource's body, writes the resulting revision,
// and returns it. cookie carries any project-wide cookie header; priority
// true means this is an interactive request and bypasses politeness.
type FetchFunc func(ctx context.Context, resourceID int64, cookie string, priority bool) (RevisionResult, error)

// ParseFunc runs the link parser facade over a revision and returns the
// resource IDs of every embedded (non-navigational) link discovered,
// already normalized and inserted.
type ParseFunc func(ctx context.Context, revisionID int64) ([]EmbeddedLink, error)

// GroupFunc refreshes a resource group's membership and returns a cursor
// over member resource IDs eligible for download (do-not-download members
// are already filtered out).
type GroupFunc func(ctx context.Context, groupID int64) (GroupMemberCursor, error)

// RevisionResult is what a fetch reports back to the scheduler: enough to
// decide whether to fail the parent task and whether to parse.
type RevisionResult struct {
	RevisionID   int64
	IsError      bool
	IsErrorPage  bool // HTTP 4xx/5xx: embed scheduling is suppressed
	ContentType  string
}

// EmbeddedLink is one resource discovered while parsing a revision,
// already resolved to a resource ID (the parse step bulk-inserts new
// Resources before returning).
type EmbeddedLink struct {
	ResourceID    int64
	SkipDownload  bool // do_not_download group member or external URL
	SelfReference bool
}
