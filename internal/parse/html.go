package parse

import (
	"io"
	"iter"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// htmlExtractor walks the parsed DOM tree, the same approach onionscan's
// crawler parser uses (html.Parse + recursive walk over html.Node),
// extended to cover every element/attribute combination the link-discovery
// contract requires. soup selects a more permissive variant that also
// scans raw text nodes for bare URLs, the way a BeautifulSoup-style scrape
// would, for sites whose markup hides links outside normal attributes.
type htmlExtractor struct {
	soup bool
}

var locationAssignRe = regexp.MustCompile(`location(?:\.href)?\s*=\s*['"]([^'"]+)['"]`)
var bareURLRe = regexp.MustCompile(`https?://[^\s'"<>]+`)

func (h *htmlExtractor) Parse(body io.Reader, baseURL string) (iter.Seq2[string, LinkKind], error) {
	doc, err := html.Parse(body)
	if err != nil {
		return nil, errParse("html", err)
	}
	res, err := newResolver(baseURL)
	if err != nil {
		return nil, errParse("html", err)
	}

	c := &htmlCollector{res: res, seen: map[string]bool{}}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			c.visitElement(n)
		case html.TextNode:
			if h.soup {
				c.scanBareURLs(n.Data)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	return seqFromLinks(c.links), nil
}

type htmlCollector struct {
	res   *resolver
	links []link
	seen  map[string]bool
}

func (c *htmlCollector) add(href string, kind LinkKind) {
	resolved, ok := c.res.resolve(href)
	if !ok || c.seen[resolved] {
		return
	}
	c.seen[resolved] = true
	c.links = append(c.links, link{url: resolved, kind: kind})
}

func (c *htmlCollector) scanBareURLs(text string) {
	for _, m := range bareURLRe.FindAllString(text, -1) {
		c.add(m, LinkEmbedded)
	}
}

// embeddedLinkRelations are <link rel="..."> values treated as embedded
// rather than merely navigational.
var embeddedLinkRelations = map[string]bool{
	"stylesheet": true,
	"icon":       true,
	"preload":    true,
}

func (c *htmlCollector) visitElement(n *html.Node) {
	switch n.Data {
	case "a":
		if href := attr(n, "href"); href != "" {
			c.add(href, LinkNavigational)
		}

	case "link":
		if href := attr(n, "href"); href != "" {
			rel := strings.ToLower(attr(n, "rel"))
			kind := LinkNavigational
			if embeddedLinkRelations[rel] {
				kind = LinkEmbedded
			}
			c.add(href, kind)
		}

	case "img":
		if src := attr(n, "src"); src != "" {
			c.add(src, LinkEmbedded)
		}
		c.addSrcset(attr(n, "srcset"))

	case "source":
		c.addSrcset(attr(n, "srcset"))
		if src := attr(n, "src"); src != "" {
			c.add(src, LinkEmbedded)
		}

	case "script":
		if src := attr(n, "src"); src != "" {
			c.add(src, LinkEmbedded)
		}

	case "frame", "iframe":
		if src := attr(n, "src"); src != "" {
			c.add(src, LinkEmbedded)
		}

	case "form":
		if action := attr(n, "action"); action != "" {
			c.add(action, LinkNavigational)
		}
	}

	if bg := attr(n, "background"); bg != "" {
		c.add(bg, LinkEmbedded)
	}
	if style := attr(n, "style"); style != "" {
		c.addStyleURLs(style)
	}
	if onclick := attr(n, "onclick"); onclick != "" {
		if m := locationAssignRe.FindStringSubmatch(onclick); m != nil {
			c.add(m[1], LinkNavigational)
		}
	}

	// Subresource-integrity hashes accompany the link they protect, and
	// are consumed by the out-of-scope serving/rewriting layer, not by
	// link discovery; nothing to extract here beyond the URL itself.
}

// addSrcset parses the comma-separated "url descriptor, url descriptor"
// grammar of the srcset attribute.
func (c *htmlCollector) addSrcset(raw string) {
	if raw == "" {
		return
	}
	for _, candidate := range strings.Split(raw, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		c.add(fields[0], LinkEmbedded)
	}
}

func (c *htmlCollector) addStyleURLs(style string) {
	for _, m := range cssURLFuncRe.FindAllStringSubmatch(style, -1) {
		c.add(m[2], LinkEmbedded)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
