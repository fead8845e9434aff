// Package sanitize cleans comment HTML before it is submitted and measures its
// visible text length for submit gating.
package sanitize

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer applies the comment HTML policy. It is safe for concurrent use.
type ContentSanitizer struct {
	policy *bluemonday.Policy
	strip  *bluemonday.Policy
}

// NewContentSanitizer builds the comment policy: basic formatting, lists,
// quotes, code, tables and links; scripts, styles and event handlers are removed.
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "b", "em", "i", "u", "s", "sub", "sup",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"table", "thead", "tbody", "tr", "th", "td",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(*url.URL) bool { return true })
	p.AllowURLSchemeWithCustomPolicy("mailto", func(*url.URL) bool { return true })

	return &ContentSanitizer{
		policy: p,
		strip:  bluemonday.StrictPolicy(),
	}
}

// Sanitize returns the HTML with every disallowed element and attribute removed.
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// Text returns the visible text of the HTML with entities decoded.
func (s *ContentSanitizer) Text(rawHTML string) string {
	return html.UnescapeString(s.strip.Sanitize(rawHTML))
}

// CharCount returns the number of characters of visible text, ignoring
// leading and trailing whitespace.
func (s *ContentSanitizer) CharCount(rawHTML string) int {
	return utf8.RuneCountInString(strings.TrimSpace(s.Text(rawHTML)))
}
