// Package parse discovers links inside a fetched revision body. It knows
// nothing about resources, resolution rules, or persistence; it turns bytes
// plus a content type and base URL into a lazy sequence of resolved
// absolute URLs tagged embedded or navigational.
package parse

import (
	"fmt"
	"io"
	"iter"
	"strings"
)

// LinkKind distinguishes a link that must be fetched to render the page
// correctly (embedded) from one that is merely a destination the user may
// follow (navigational).
type LinkKind string

const (
	LinkEmbedded     LinkKind = "embedded"
	LinkNavigational LinkKind = "navigational"
)

// Parser turns a revision body into a lazy sequence of (url, kind) pairs,
// already resolved against baseURL. Implementations must not block on I/O
// while the sequence is iterated; all reading happens inside Parse itself.
type Parser interface {
	Parse(body io.Reader, baseURL string) (iter.Seq2[string, LinkKind], error)
}

// Registry selects a Parser by content type, with HTML parser selection
// additionally keyed by a project's html_parser_type property — the same
// tagged-union-by-string-key shape the store uses to pick its migration
// driver.
type Registry struct {
	htmlParsers map[string]Parser
	byType      map[string]Parser
}

// NewRegistry builds the default registry: one Parser per recognized
// content-type family, plus the two named HTML parser variants.
func NewRegistry() *Registry {
	basic := &htmlExtractor{soup: false}
	soup := &htmlExtractor{soup: true}

	r := &Registry{
		htmlParsers: map[string]Parser{
			"basic": basic,
			"soup":  soup,
		},
		byType: map[string]Parser{},
	}
	r.byType["text/css"] = cssExtractor{}
	r.byType["application/json"] = jsonExtractor{}
	r.byType["application/atom+xml"] = feedExtractor{}
	r.byType["application/rss+xml"] = feedExtractor{}
	r.byType["text/xml"] = feedExtractor{}
	r.byType["application/xml"] = feedExtractor{}
	return r
}

// ForContentType picks a Parser for a MIME type, using htmlParserType to
// choose among HTML implementations. It returns ok=false for content types
// this facade deliberately does not parse (images, video, other binaries).
func (r *Registry) ForContentType(contentType, htmlParserType string) (Parser, bool) {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}

	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		p, ok := r.htmlParsers[htmlParserType]
		if !ok {
			p = r.htmlParsers["basic"]
		}
		return p, true
	}
	if p, ok := r.byType[mediaType]; ok {
		return p, true
	}
	return nil, false
}

// seqFromLinks turns an already-collected slice into an iter.Seq2. The
// extraction itself runs eagerly inside Parse (the whole body must be read
// regardless), but iteration over the result stays a simple lazy sequence
// with early-exit support, satisfying the no-blocking-during-iteration
// contract.
func seqFromLinks(links []link) iter.Seq2[string, LinkKind] {
	return func(yield func(string, LinkKind) bool) {
		for _, l := range links {
			if !yield(l.url, l.kind) {
				return
			}
		}
	}
}

type link struct {
	url  string
	kind LinkKind
}

// errParse wraps a content-family-specific parse failure so callers can
// identify which extractor failed without string matching.
func errParse(family string, err error) error {
	return fmt.Errorf("parsing %s body: %w", family, err)
}
