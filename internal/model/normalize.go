package model

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// PluginNormalizer lets a link-parser plug-in apply site-specific URL
// normalization (collapsing phpBB session ids, Substack variant query
// parameters, etc.) before aliasing. The core ships no plug-ins itself,
// but the hook exists so the facade in internal/parse can register one
// per host.
type PluginNormalizer interface {
	// Normalize rewrites u in place (by returning a new URL string) or
	// returns u unchanged if it doesn't apply to this host.
	Normalize(u *url.URL) *url.URL

	// FragmentSignificant reports whether fragments must be preserved for
	// this host (step 4 of normalization).
	FragmentSignificant(host string) bool
}

// Normalizer implements the pure URL normalization pipeline, threading
// through the project's configured Aliases and an optional plug-in hook.
type Normalizer struct {
	Aliases []Alias // must be sorted by ID ascending; tried in that order
	Plugin  PluginNormalizer
}

// Result is the outcome of normalizing a URL.
type Result struct {
	URL        string // the canonical URL, or a "crystal://external/..." wrapper
	IsExternal bool
}

// Normalize runs the 7-step normalization pipeline.
func (n *Normalizer) Normalize(raw string) (Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Result{}, fmt.Errorf("%w: empty url", ErrInvalidURLPattern)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Result{}, fmt.Errorf("parsing url %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return Result{}, fmt.Errorf("url %q is not absolute", raw)
	}

	// 1. Lowercase scheme and host.
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	// 2. Ensure a path component exists.
	if u.Path == "" {
		u.Path = "/"
	}

	// 3. Percent-encode unsafe characters; url.Parse/String already does
	// this for us as long as we round-trip through url.URL.

	// 4. Drop the fragment unless the host is fragment-significant.
	fragmentSignificant := false
	if n.Plugin != nil {
		fragmentSignificant = n.Plugin.FragmentSignificant(u.Host)
	}
	if !fragmentSignificant {
		u.Fragment = ""
		u.RawFragment = ""
	}

	// 5. Apply plug-in normalization.
	if n.Plugin != nil {
		u = n.Plugin.Normalize(u)
	}

	canonical := u.String()

	// 6. Apply the first matching Alias, tried in id order.
	isExternal := false
	for _, a := range sortedAliases(n.Aliases) {
		if strings.HasPrefix(canonical, a.SourceURLPrefix) {
			canonical = a.TargetURLPrefix + strings.TrimPrefix(canonical, a.SourceURLPrefix)
			isExternal = a.TargetIsExternal
			break
		}
	}

	// 7. Wrap external URLs; they never enter the database.
	if isExternal {
		return Result{URL: ExternalURLScheme + canonical, IsExternal: true}, nil
	}

	return Result{URL: canonical}, nil
}

func sortedAliases(aliases []Alias) []Alias {
	out := make([]Alias, len(aliases))
	copy(out, aliases)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResourceURLAlternatives returns the set of URLs that must resolve to the
// same Resource for lookup purposes. The normalized form is always
// included and is first, so callers that want "prefer an existing
// alternative, else use the canonical form" can iterate in order and stop at
// the first hit, falling back to the first entry.
func ResourceURLAlternatives(normalized string) []string {
	alts := []string{normalized}

	// http <-> https alternative, a common case where the same resource was
	// previously recorded under the other scheme.
	if strings.HasPrefix(normalized, "https://") {
		alts = append(alts, "http://"+strings.TrimPrefix(normalized, "https://"))
	} else if strings.HasPrefix(normalized, "http://") {
		alts = append(alts, "https://"+strings.TrimPrefix(normalized, "http://"))
	}

	// Trailing-slash-at-root alternative: "https://a.example" vs
	// "https://a.example/" normalize to the same path already (step 2), so
	// no extra alternative is needed there.

	return alts
}

// ValidateAlias checks the Alias invariants.
func ValidateAlias(a Alias) error {
	if !strings.HasSuffix(a.SourceURLPrefix, "/") {
		return fmt.Errorf("%w: source_url_prefix must end in /", ErrInvalidURLPattern)
	}
	if !strings.HasSuffix(a.TargetURLPrefix, "/") {
		return fmt.Errorf("%w: target_url_prefix must end in /", ErrInvalidURLPattern)
	}
	return nil
}
