package parse

import (
	"io"
	"iter"
	"regexp"
)

// cssExtractor finds url(...) functions and @import rules. CSS tokenizing
// is small enough, and no CSS parser appears anywhere in the reference
// corpus, that a couple of regexes are used directly rather than reaching
// for a full tokenizer.
type cssExtractor struct{}

var (
	cssURLFuncRe = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)
	cssImportRe  = regexp.MustCompile(`@import\s+(?:url\(\s*['"]?([^'")]+)['"]?\s*\)|['"]([^'"]+)['"])`)
)

func (cssExtractor) Parse(body io.Reader, baseURL string) (iter.Seq2[string, LinkKind], error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errParse("css", err)
	}
	res, err := newResolver(baseURL)
	if err != nil {
		return nil, errParse("css", err)
	}

	text := string(raw)
	var links []link
	seen := map[string]bool{}
	add := func(href string) {
		resolved, ok := res.resolve(href)
		if !ok || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, link{url: resolved, kind: LinkEmbedded})
	}

	for _, m := range cssImportRe.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range cssURLFuncRe.FindAllStringSubmatch(text, -1) {
		add(m[2])
	}

	return seqFromLinks(links), nil
}
