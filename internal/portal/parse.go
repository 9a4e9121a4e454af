package portal

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

// Listing markup. Legacy row selectors cover older renderings of the
// pipeline table.
const (
	rowSelector       = `div.ReactVirtualized__Table__row[role="row"]`
	legacyRowSelector = `.bc-table-row, tr.opportunity-row`
	cellSelector      = `div.ReactVirtualized__Table__rowColumn[role="gridcell"], td`
	nameLinkSelector  = `a[href*="/opportunities/"]`
	dateCellSelector  = `[class*="highlightDate"], [class*="two-row-cell__RootContainer"]`
	nextPageSelector  = `div[data-id="page-navigation"] button[data-id="caret-right"]`
)

// Project page markup.
const (
	detailsSelector = `div[data-id="opportunity-details"]`
	titleSelector   = `h1[data-id="opportunity-title"]`
	clientSelector  = `div[class*=companyDetails] div[class*=textWrapper]`
	contactSelector = `div[class*=leadDetailsText] span[class*=leadContactInfo]`
)

var (
	slashDate = regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`)
	hasDigit  = regexp.MustCompile(`\d`)
)

// Listing is one parsed page of the pipeline table.
type Listing struct {
	Candidates []bid.Candidate
	// HasNext is true when an enabled next-page control is present.
	HasNext bool
	// NextHref is set when the next-page control is a plain link.
	NextHref string
}

// ParseListing reads the pipeline table rows from an HTML snapshot. Relative
// links resolve against base, which may be empty.
func ParseListing(r io.Reader, base string) (Listing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Listing{}, fmt.Errorf("failed to parse listing html: %w", err)
	}
	var baseURL *url.URL
	if base != "" {
		if baseURL, err = url.Parse(base); err != nil {
			return Listing{}, fmt.Errorf("invalid listing base url %q: %w", base, err)
		}
	}

	rows := doc.Find(rowSelector)
	if rows.Length() == 0 {
		rows = doc.Find(legacyRowSelector)
	}

	var listing Listing
	seen := make(map[bid.Identifier]bool)
	rows.Each(func(_ int, row *goquery.Selection) {
		c, ok := parseRow(row, baseURL)
		if !ok || seen[c.ID] {
			return
		}
		seen[c.ID] = true
		listing.Candidates = append(listing.Candidates, c)
	})

	next := doc.Find(nextPageSelector).First()
	if next.Length() > 0 {
		_, disabled := next.Attr("disabled")
		listing.HasNext = !disabled
	}
	if link := doc.Find(`a[rel="next"]`).First(); link.Length() > 0 {
		if href, ok := link.Attr("href"); ok && strings.TrimSpace(href) != "" {
			listing.HasNext = true
			listing.NextHref = resolve(baseURL, href)
		}
	}
	return listing, nil
}

func parseRow(row *goquery.Selection, base *url.URL) (bid.Candidate, bool) {
	link := row.Find(nameLinkSelector).First()
	href, ok := link.Attr("href")
	if !ok {
		return bid.Candidate{}, false
	}
	id, ok := IdentifierFromHref(href)
	if !ok {
		return bid.Candidate{}, false
	}
	c := bid.Candidate{
		ID:   id,
		Name: collapse(link.Text()),
		URL:  resolve(base, href),
	}
	row.Find(cellSelector).EachWithBreak(func(_ int, cell *goquery.Selection) bool {
		if cell.Find(dateCellSelector).Length() == 0 && !cell.Is(dateCellSelector) {
			return true
		}
		c.DueDate = cellDate(cell)
		return false
	})
	if c.DueDate == "" {
		c.DueDate = slashDate.FindString(collapse(row.Text()))
	}
	return c, true
}

func cellDate(cell *goquery.Selection) string {
	if hl := cell.Find(`[class*="highlightDate"]`).First(); hl.Length() > 0 {
		if text := collapse(hl.Text()); text != "" {
			return text
		}
	}
	text := collapse(cell.Text())
	if m := slashDate.FindString(text); m != "" {
		return m
	}
	return text
}

// Upcoming drops candidates whose due date parses to a day before now.
// Candidates without a usable date are kept.
func Upcoming(candidates []bid.Candidate, now time.Time) []bid.Candidate {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	out := candidates[:0:0]
	for _, c := range candidates {
		if due, ok := bid.ParseDate(bid.NormalizeDate(c.DueDate)); ok && due.Before(today) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ParseProject reads the project details page. Values are raw; callers apply
// Metadata.Normalized.
func ParseProject(r io.Reader) (bid.Metadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return bid.Metadata{}, fmt.Errorf("failed to parse project html: %w", err)
	}
	root := doc.Find(detailsSelector).First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	var meta bid.Metadata
	meta.Name = field(root, "Project Name")
	if meta.Name == "" {
		meta.Name = collapse(doc.Find(titleSelector).First().Text())
	}
	meta.Location = field(root, "Location")
	meta.Size = field(root, "Project Size")
	if area := hoverArea(root, "Date Due"); area != nil {
		meta.Date = collapse(area.Find("span").First().Text())
		if meta.Date == "" {
			meta.Date = collapse(area.Text())
		}
	}
	if area := hoverArea(root, "Project Information"); area != nil {
		meta.Information = collapse(area.Text())
	}

	meta.Client = collapse(doc.Find(clientSelector).First().Text())
	doc.Find(contactSelector).Each(func(_ int, s *goquery.Selection) {
		text := collapse(s.Text())
		switch {
		case text == "":
		case strings.Contains(text, "@"):
			if meta.Email == "" {
				meta.Email = text
			}
		case hasDigit.MatchString(text):
			if meta.Phone == "" {
				meta.Phone = text
			}
		}
	})
	return meta, nil
}

// field returns the value displayed under the section titled header.
func field(root *goquery.Selection, header string) string {
	area := hoverArea(root, header)
	if area == nil {
		return ""
	}
	if v := area.Find(`div[class*=value]`).First(); v.Length() > 0 {
		if text := collapse(v.Text()); text != "" {
			return text
		}
	}
	return collapse(area.Text())
}

// hoverArea finds the element holding the value for a section header: the
// header's next sibling div, or the nearest hover area within two levels of
// enclosing elements.
func hoverArea(root *goquery.Selection, header string) *goquery.Selection {
	var heading *goquery.Selection
	root.Find("div, span, h2, h3, h4, label").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() == 0 && strings.EqualFold(collapse(s.Text()), header) {
			heading = s
			return false
		}
		return true
	})
	if heading == nil {
		return nil
	}
	if sib := heading.NextFiltered("div"); sib.Length() > 0 {
		return sib
	}
	p := heading.Parent()
	for range 2 {
		if area := p.Find(`div[class*=hoverArea]`).First(); area.Length() > 0 {
			return area
		}
		p = p.Parent()
	}
	return nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
