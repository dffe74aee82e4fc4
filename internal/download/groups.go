package download

import (
	"context"
	"fmt"

	"crystal/internal/model"
	"crystal/internal/scheduler"
)

// Groups evaluates a resource group's membership and returns a cursor
// over member resource IDs eligible for download: members that fall
// inside some other do_not_download group's pattern are filtered out
// here rather than left for the scheduler to discover one fetch at a
// time. It matches scheduler.GroupFunc exactly.
func (p *Pipeline) Groups(ctx context.Context, groupID int64) (scheduler.GroupMemberCursor, error) {
	group, err := p.store.GroupByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("loading group %d: %w", groupID, err)
	}

	membership, err := model.NewMembership(ctx, group, p.store, p.projectFitsInMemory)
	if err != nil {
		return nil, fmt.Errorf("building membership evaluator for group %d: %w", groupID, err)
	}
	cursor, err := membership.All()
	if err != nil {
		return nil, fmt.Errorf("opening membership cursor for group %d: %w", groupID, err)
	}

	skip, err := p.loadDoNotDownloadPatterns(ctx)
	if err != nil {
		cursor.Close()
		return nil, err
	}

	return &groupMemberCursor{inner: cursor, skip: skip}, nil
}

// groupMemberCursor adapts a model.ResourceCursor (Resource-typed) into
// the plain resource-ID cursor internal/scheduler drives a DownloadGroup
// task's lazy pull with.
type groupMemberCursor struct {
	inner model.ResourceCursor
	skip  []patternMatcher
}

func (c *groupMemberCursor) Next() (int64, bool, error) {
	for {
		r, ok, err := c.inner.Next()
		if err != nil || !ok {
			return 0, false, err
		}
		if matchesAny(c.skip, r.URL) {
			continue
		}
		return r.ID, true, nil
	}
}

func (c *groupMemberCursor) Close() error { return c.inner.Close() }
