package parse

import (
	"encoding/json"
	"io"
	"iter"
	"net/url"
)

// jsonExtractor walks an arbitrary JSON document and treats every string
// value that parses as an absolute URL as an embedded link. JSON has no
// notion of links, so this is a best-effort heuristic: any string value
// that parses as an absolute URL counts.
type jsonExtractor struct{}

func (jsonExtractor) Parse(body io.Reader, baseURL string) (iter.Seq2[string, LinkKind], error) {
	var doc any
	if err := json.NewDecoder(body).Decode(&doc); err != nil {
		return nil, errParse("json", err)
	}

	var links []link
	seen := map[string]bool{}
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if isAbsoluteURL(t) && !seen[t] {
				seen[t] = true
				links = append(links, link{url: t, kind: LinkEmbedded})
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(doc)

	return seqFromLinks(links), nil
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
