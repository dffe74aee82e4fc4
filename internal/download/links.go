package download

import (
	"context"
	"fmt"
	"strings"

	"crystal/internal/model"
	"crystal/internal/parse"
	"crystal/internal/scheduler"
)

// Parse dispatches a revision's body to the link parser facade and
// reports the embedded (non-navigational) links discovered, already
// normalized, deduplicated, and bulk-inserted as Resources. It matches
// scheduler.ParseFunc exactly.
//
// Navigational links are normalized and inserted too — per the download
// pipeline's "discovered links are normalized and bulk-inserted as
// Resources" step — but only embedded links are reported back, since
// only embeds get scheduled for automatic recursive download.
func (p *Pipeline) Parse(ctx context.Context, revisionID int64) ([]scheduler.EmbeddedLink, error) {
	rev, err := p.store.RevisionByID(ctx, revisionID)
	if err != nil {
		return nil, fmt.Errorf("loading revision %d: %w", revisionID, err)
	}
	if rev.IsError() {
		return nil, nil
	}

	props, err := p.store.Properties(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading project properties: %w", err)
	}
	contentType := headerValue(rev.Metadata, "Content-Type")
	parser, ok := p.parsers.ForContentType(contentType, string(props.HTMLParserType))
	if !ok {
		return nil, nil // binary/unrecognized content type: nothing to parse
	}

	resource, err := p.store.ResourceByID(ctx, rev.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("loading resource %d: %w", rev.ResourceID, err)
	}

	body, err := p.store.ReadRevisionBody(revisionID)
	if err != nil {
		return nil, fmt.Errorf("opening revision body %d: %w", revisionID, err)
	}
	defer body.Close()

	seq, err := parser.Parse(body, resource.URL)
	if err != nil {
		// A parse failure demotes to "no links discovered"; the revision
		// itself is still saved and the task still completes.
		return nil, nil
	}

	aliases, err := p.store.AllAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aliases: %w", err)
	}
	normalizer := &model.Normalizer{Aliases: aliases}

	type found struct {
		url  string
		kind parse.LinkKind
	}
	var all []found
	seen := map[string]bool{}
	for rawURL, kind := range seq {
		result, err := normalizer.Normalize(rawURL)
		if err != nil {
			continue
		}
		if seen[result.URL] {
			continue
		}
		seen[result.URL] = true
		all = append(all, found{url: result.URL, kind: kind})
	}
	if len(all) == 0 {
		return nil, nil
	}

	urls := make([]string, len(all))
	for i, f := range all {
		urls[i] = f.url
	}
	ids, err := p.store.CreateResources(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("bulk-creating discovered resources: %w", err)
	}

	skip, err := p.loadDoNotDownloadPatterns(ctx)
	if err != nil {
		return nil, err
	}

	var embeds []scheduler.EmbeddedLink
	for i, f := range all {
		if f.kind != parse.LinkEmbedded {
			continue
		}
		isExternal := strings.HasPrefix(f.url, model.ExternalURLScheme)
		embeds = append(embeds, scheduler.EmbeddedLink{
			ResourceID:    ids[i],
			SkipDownload:  isExternal || matchesAny(skip, f.url),
			SelfReference: ids[i] == rev.ResourceID,
		})
	}
	return embeds, nil
}
