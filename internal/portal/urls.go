package portal

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

var opportunityPath = regexp.MustCompile(`/opportunities/([^/?#]+)`)

// reservedSegments are path segments under /opportunities that are pages,
// not project identifiers.
var reservedSegments = map[string]bool{"pipeline": true, "search": true}

// IdentifierFromHref extracts the opportunity identifier from a project link.
func IdentifierFromHref(href string) (bid.Identifier, bool) {
	m := opportunityPath.FindStringSubmatch(href)
	if m == nil || reservedSegments[strings.ToLower(m[1])] {
		return "", false
	}
	id, err := url.PathUnescape(m[1])
	if err != nil {
		id = m[1]
	}
	return bid.Identifier(id), id != ""
}

// ProjectURL returns the canonical project page for id under base.
func ProjectURL(base string, id bid.Identifier) string {
	return strings.TrimRight(base, "/") + "/opportunities/" + url.PathEscape(id.String())
}

// InfoURL returns the project details page.
func InfoURL(base string, id bid.Identifier) string {
	return ProjectURL(base, id) + "/info"
}

// FilesURL returns the project documents page.
func FilesURL(base string, id bid.Identifier) string {
	return ProjectURL(base, id) + "/files"
}

// resolve makes href absolute against base.
func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
