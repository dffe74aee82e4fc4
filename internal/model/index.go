package model

import (
	"context"
	"fmt"
	"sort"
)

// ResourceLister is the subset of the project store the Entity Model needs
// to evaluate group membership without importing internal/store (which in
// turn depends on internal/model — this interface breaks the cycle).
type ResourceLister interface {
	// AllResourceURLs returns every Resource URL, for the in-memory linear
	// scan strategy. Only safe to call when the project is known to fit in
	// memory.
	AllResourceURLs(ctx context.Context) ([]Resource, error)

	// ResourceURLsByPrefix returns Resources whose URL starts with prefix,
	// ordered by URL, for the B-tree range-query strategy.
	ResourceURLsByPrefix(ctx context.Context, prefix string) ([]Resource, error)

	// StreamResourceURLs returns a cursor over every Resource URL in URL
	// order, for the streaming-scan strategy. The cursor must be closed.
	StreamResourceURLs(ctx context.Context) (ResourceCursor, error)
}

// ResourceCursor is a restartable, lazily-advanced sequence of Resources.
type ResourceCursor interface {
	Next() (Resource, bool, error)
	Close() error
}

// MembershipStrategy names which of the three membership-evaluation
// strategies was chosen for a given group.
type MembershipStrategy int

const (
	StrategyInMemoryScan MembershipStrategy = iota
	StrategyPrefixRange
	StrategyStreamingCursor
)

// eagerMaterializeCount is how many members are materialized eagerly to
// drive the (out-of-scope) UI.
const eagerMaterializeCount = 100

// ChooseStrategy picks a membership strategy for pattern given whether the
// whole project is known to fit in memory.
func ChooseStrategy(pattern *matcher, projectFitsInMemory bool) MembershipStrategy {
	if projectFitsInMemory {
		return StrategyInMemoryScan
	}
	if pattern.LiteralPrefix() != "" && isPrefixOnlyPattern(pattern) {
		return StrategyPrefixRange
	}
	return StrategyStreamingCursor
}

// isPrefixOnlyPattern reports whether pattern has no wildcard before its
// first literal-breaking segment, i.e. its LiteralPrefix can be used as a
// sargable range-query bound.
func isPrefixOnlyPattern(pattern *matcher) bool {
	for _, s := range pattern.segments {
		if s.kind == segLiteral {
			continue
		}
		return true // first non-literal segment found; prefix strategy applies
	}
	return true // pattern is entirely literal (exact match via prefix range)
}

// Membership is a lazy, restartable sequence of Resources matching a group's
// pattern.
type Membership struct {
	pattern  *matcher
	strategy MembershipStrategy
	lister   ResourceLister
	ctx      context.Context
}

// NewMembership builds a Membership evaluator for group against lister,
// choosing a strategy via ChooseStrategy.
func NewMembership(ctx context.Context, group ResourceGroup, lister ResourceLister, projectFitsInMemory bool) (*Membership, error) {
	pattern, err := CompilePattern(group.URLPattern)
	if err != nil {
		return nil, err
	}
	return &Membership{
		pattern:  pattern,
		strategy: ChooseStrategy(pattern, projectFitsInMemory),
		lister:   lister,
		ctx:      ctx,
	}, nil
}

// First100 eagerly materializes up to the first 100 matches.
func (m *Membership) First100() ([]Resource, error) {
	out := make([]Resource, 0, eagerMaterializeCount)
	it, err := m.All()
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for len(out) < eagerMaterializeCount {
		r, ok, err := it.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

// All returns a restartable cursor over every matching Resource.
func (m *Membership) All() (ResourceCursor, error) {
	switch m.strategy {
	case StrategyInMemoryScan:
		all, err := m.lister.AllResourceURLs(m.ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning resources in memory: %w", err)
		}
		sort.Slice(all, func(i, j int) bool { return all[i].URL < all[j].URL })
		return &sliceCursor{pattern: m.pattern, items: all}, nil

	case StrategyPrefixRange:
		rows, err := m.lister.ResourceURLsByPrefix(m.ctx, m.pattern.LiteralPrefix())
		if err != nil {
			return nil, fmt.Errorf("range-querying resources by prefix: %w", err)
		}
		return &sliceCursor{pattern: m.pattern, items: rows}, nil

	default: // StrategyStreamingCursor
		cur, err := m.lister.StreamResourceURLs(m.ctx)
		if err != nil {
			return nil, fmt.Errorf("opening streaming cursor: %w", err)
		}
		return &filteringCursor{pattern: m.pattern, inner: cur}, nil
	}
}

// sliceCursor filters a pre-fetched, sorted slice against the pattern.
type sliceCursor struct {
	pattern *matcher
	items   []Resource
	pos     int
}

func (c *sliceCursor) Next() (Resource, bool, error) {
	for c.pos < len(c.items) {
		r := c.items[c.pos]
		c.pos++
		if c.pattern.Match(r.URL) {
			return r, true, nil
		}
	}
	return Resource{}, false, nil
}

func (c *sliceCursor) Close() error { return nil }

// filteringCursor wraps a streaming ResourceCursor and applies the pattern,
// with early termination once the underlying cursor is exhausted.
type filteringCursor struct {
	pattern *matcher
	inner   ResourceCursor
}

func (c *filteringCursor) Next() (Resource, bool, error) {
	for {
		r, ok, err := c.inner.Next()
		if err != nil || !ok {
			return Resource{}, false, err
		}
		if c.pattern.Match(r.URL) {
			return r, true, nil
		}
	}
}

func (c *filteringCursor) Close() error { return c.inner.Close() }

// GroupSourceResolver looks up a group's source chain for cycle detection.
type GroupSourceResolver interface {
	GroupByID(ctx context.Context, id int64) (ResourceGroup, error)
}

// ValidateNoCycle walks group's source chain and returns ErrCyclicGroupSource
// if it ever revisits a group id.
func ValidateNoCycle(ctx context.Context, group ResourceGroup, resolver GroupSourceResolver) error {
	seen := map[int64]bool{group.ID: true}
	current := group
	for current.SourceType == GroupSourceGroup {
		if seen[current.SourceID] {
			return ErrCyclicGroupSource
		}
		seen[current.SourceID] = true
		next, err := resolver.GroupByID(ctx, current.SourceID)
		if err != nil {
			return fmt.Errorf("resolving group source chain: %w", err)
		}
		current = next
	}
	return nil
}
