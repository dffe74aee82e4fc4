package parse

import (
	"encoding/xml"
	"io"
	"iter"
)

// feedExtractor pulls entry/item links and enclosures out of Atom and RSS
// feeds via encoding/xml, matching field names loosely enough to cover both
// formats with one decode pass.
type feedExtractor struct{}

type feedDoc struct {
	XMLName xml.Name
	// Atom
	Entries []feedAtomEntry `xml:"entry"`
	Links   []feedAtomLink  `xml:"link"`
	// RSS
	Channel feedRSSChannel `xml:"channel"`
}

type feedAtomEntry struct {
	Links []feedAtomLink `xml:"link"`
}

type feedAtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type feedRSSChannel struct {
	Items []feedRSSItem `xml:"item"`
}

type feedRSSItem struct {
	Link      string          `xml:"link"`
	Enclosure feedRSSEnclosed `xml:"enclosure"`
}

type feedRSSEnclosed struct {
	URL string `xml:"url,attr"`
}

func (feedExtractor) Parse(body io.Reader, baseURL string) (iter.Seq2[string, LinkKind], error) {
	var doc feedDoc
	if err := xml.NewDecoder(body).Decode(&doc); err != nil {
		return nil, errParse("feed", err)
	}
	res, err := newResolver(baseURL)
	if err != nil {
		return nil, errParse("feed", err)
	}

	var links []link
	seen := map[string]bool{}
	add := func(href string, kind LinkKind) {
		resolved, ok := res.resolve(href)
		if !ok || seen[resolved] {
			return
		}
		seen[resolved] = true
		links = append(links, link{url: resolved, kind: kind})
	}

	for _, l := range doc.Links {
		add(l.Href, LinkNavigational)
	}
	for _, e := range doc.Entries {
		for _, l := range e.Links {
			add(l.Href, LinkNavigational)
		}
	}
	for _, item := range doc.Channel.Items {
		add(item.Link, LinkNavigational)
		if item.Enclosure.URL != "" {
			add(item.Enclosure.URL, LinkEmbedded)
		}
	}

	return seqFromLinks(links), nil
}
