package model

import (
	"fmt"
	"strconv"
	"strings"
)

// matcher is a compiled Resource Group URL pattern. Patterns are plain
// strings with three wildcard tokens recognized at segment granularity:
//
//	*   any path segment without '/'
//	**  any suffix (may include '/')
//	#   an integer path segment
//
// Everything else must match literally. This mirrors the glob-matching
// idiom used for ignore patterns in the corpus (filepath.Match-style
// segment matching) but adds the '**' and '#' tokens the spec requires.
type matcher struct {
	raw      string
	segments []segment
}

type segmentKind int

const (
	segLiteral segmentKind = iota
	segStar        // *
	segDoubleStar  // **
	segHash        // #
)

type segment struct {
	kind    segmentKind
	literal string // only valid when kind == segLiteral
}

// CompilePattern validates and compiles a Resource Group URL pattern.
func CompilePattern(pattern string) (*matcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidURLPattern)
	}

	parts := strings.Split(pattern, "/")
	segs := make([]segment, 0, len(parts))
	for i, p := range parts {
		switch p {
		case "**":
			if i != len(parts)-1 {
				return nil, fmt.Errorf("%w: ** must be the final segment in %q", ErrInvalidURLPattern, pattern)
			}
			segs = append(segs, segment{kind: segDoubleStar})
		case "*":
			segs = append(segs, segment{kind: segStar})
		case "#":
			segs = append(segs, segment{kind: segHash})
		default:
			segs = append(segs, segment{kind: segLiteral, literal: p})
		}
	}

	return &matcher{raw: pattern, segments: segs}, nil
}

// String returns the original pattern text.
func (m *matcher) String() string { return m.raw }

// LiteralPrefix returns the longest literal prefix before the first
// wildcard segment. ChooseStrategy uses this to decide whether a group's
// membership query can use a B-tree prefix range scan.
func (m *matcher) LiteralPrefix() string {
	var b strings.Builder
	for i, s := range m.segments {
		if s.kind != segLiteral {
			break
		}
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(s.literal)
	}
	return b.String()
}

// HasOnlyLiteralPrefix reports whether the pattern has no wildcards before
// its first literal-breaking segment — i.e. whether every segment up to the
// first wildcard is literal and there's at least one wildcard afterward, or
// no wildcard at all (exact match).
func (m *matcher) HasOnlyLiteralPrefix() bool {
	for _, s := range m.segments {
		if s.kind != segLiteral {
			return true
		}
	}
	return true
}

// Match reports whether url's path (and the url as a whole, segment by
// segment starting from the scheme+host) matches the compiled pattern.
// Patterns are matched against the full URL string split on '/', so a
// pattern like "https://example.com/#/" matches "https://example.com/42/".
func (m *matcher) Match(url string) bool {
	urlParts := strings.Split(url, "/")
	return matchSegments(m.segments, urlParts)
}

func matchSegments(pattern []segment, input []string) bool {
	if len(pattern) == 0 {
		return len(input) == 0
	}

	head := pattern[0]

	if head.kind == segDoubleStar {
		// ** must be the last pattern segment and matches everything
		// remaining, including zero segments.
		return true
	}

	if len(input) == 0 {
		return false
	}

	switch head.kind {
	case segLiteral:
		if input[0] != head.literal {
			return false
		}
	case segStar:
		// matches exactly one segment, any content, no further checks
	case segHash:
		if _, err := strconv.Atoi(input[0]); err != nil {
			return false
		}
	}

	return matchSegments(pattern[1:], input[1:])
}
