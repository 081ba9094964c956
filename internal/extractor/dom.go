package extractor

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/PuerkitoBio/goquery"
	"github.com/kellanvoss/linkgraph/internal/metadata"
	"github.com/kellanvoss/linkgraph/pkg/hashutil"
	"github.com/kellanvoss/linkgraph/pkg/urlutil"
)

/*
Responsibilities

- Parse HTML leniently; recover from malformed markup
- Emit page metadata: title, meta description, canonical
- Emit the full ordered link list with internal/nofollow classification

The extractor never fetches and never decides crawl admission; it only
turns bytes into a Page record.
*/

// Extractor turns a fetched document into a Page record.
type Extractor interface {
	Extract(pageURL url.URL, targetDomain string, body []byte) (Page, *ExtractionError)
}

var _ Extractor = (*DomExtractor)(nil)

type DomExtractor struct {
	metadataSink metadata.MetadataSink
}

func NewDomExtractor(metadataSink metadata.MetadataSink) DomExtractor {
	return DomExtractor{metadataSink: metadataSink}
}

func (e *DomExtractor) Extract(pageURL url.URL, targetDomain string, body []byte) (Page, *ExtractionError) {
	if len(body) == 0 {
		extErr := &ExtractionError{Message: "empty document body", Retryable: false, Cause: ErrCauseNoContent}
		e.recordError(pageURL, extErr)
		return Page{}, extErr
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		extErr := &ExtractionError{Message: err.Error(), Retryable: false, Cause: ErrCauseMalformed}
		e.recordError(pageURL, extErr)
		return Page{}, extErr
	}

	contentHash, _ := hashutil.HashBytes(body, hashutil.HashAlgoBLAKE3)

	page := Page{
		URL:         pageURL.String(),
		Domain:      urlutil.DomainOf(pageURL),
		ContentHash: contentHash,
	}

	page.Title = truncate(strings.TrimSpace(doc.Find("title").First().Text()), maxTitleLen)
	page.MetaDescription = truncate(metaDescription(doc), maxDescLen)
	page.Canonical = canonicalLink(doc, pageURL)
	page.Links = extractLinks(doc, pageURL, targetDomain)

	for _, l := range page.Links {
		if l.IsInternal {
			page.InternalCount++
		} else {
			page.ExternalCount++
		}
		if l.IsNofollow {
			page.NofollowCount++
		} else {
			page.FollowCount++
		}
	}

	return page, nil
}

func metaDescription(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		if trimmed := strings.TrimSpace(content); trimmed != "" {
			return trimmed
		}
	}
	if content, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

func canonicalLink(doc *goquery.Document, pageURL url.URL) string {
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok {
		return ""
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return pageURL.ResolveReference(ref).String()
}

func extractLinks(doc *goquery.Document, pageURL url.URL, targetDomain string) []Link {
	var links []Link

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)

		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}

		resolved, err := urlutil.CanonicalizeRaw(href, &pageURL)
		if err != nil {
			return
		}

		rel := normalizeRel(s)
		links = append(links, Link{
			Href:       resolved.String(),
			Anchor:     truncate(flattenAnchorText(s), maxAnchorLen),
			Rel:        rel,
			IsInternal: urlutil.IsSameBaseDomain(resolved, targetDomain),
			IsNofollow: hasToken(rel, "nofollow"),
		})
	})

	return links
}

func normalizeRel(s *goquery.Selection) string {
	rel, ok := s.Attr("rel")
	if !ok {
		return ""
	}
	tokens := strings.Fields(rel)
	for i, t := range tokens {
		tokens[i] = strings.ToLower(t)
	}
	return strings.Join(tokens, " ")
}

func hasToken(space, token string) bool {
	for _, t := range strings.Fields(space) {
		if t == token {
			return true
		}
	}
	return false
}

var markdownArtifact = regexp.MustCompile("[*_`#]+")

// flattenAnchorText renders an anchor's inner HTML through the Markdown
// converter and strips the resulting Markdown syntax, so nested <span>,
// <img alt=...> and emphasis tags survive as plain visible text rather than
// being lost to a naive .Text() call.
func flattenAnchorText(s *goquery.Selection) string {
	node := s.Get(0)
	if node == nil {
		return ""
	}

	conv := converter.NewConverter(converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	))

	md, err := conv.ConvertNode(node)
	if err != nil {
		return strings.TrimSpace(s.Text())
	}

	text := markdownArtifact.ReplaceAllString(string(md), "")
	return strings.Join(strings.Fields(text), " ")
}

func (e *DomExtractor) recordError(pageURL url.URL, err *ExtractionError) {
	if e.metadataSink == nil {
		return
	}
	e.metadataSink.RecordError(
		time.Now(),
		"extractor",
		"DomExtractor.Extract",
		mapExtractionErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, pageURL.String())},
	)
}
