package parse

import (
	"net/url"
	"strings"
)

// resolver resolves href-like strings against a page's base URL, skipping
// schemes that were never meant to be fetched. Grounded on the same
// resolveURL shape used for onionscan's link classification, generalized to
// report failures instead of silently returning "".
type resolver struct {
	base *url.URL
}

func newResolver(baseURL string) (*resolver, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, err
	}
	return &resolver{base: u}, nil
}

// skippedSchemes are hrefs that never name a fetchable resource.
var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:", "#"}

func (r *resolver) resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" {
		return "", false
	}
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(href, scheme) {
			return "", false
		}
	}
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := r.base.ResolveReference(u)
	return resolved.String(), true
}
