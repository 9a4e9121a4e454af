package portal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bidboard-harvester/internal/bid"
)

const listingHTML = `<html><body>
<div class="ReactVirtualized__Table" role="grid">
  <div class="ReactVirtualized__Table__row" role="row">
    <div class="ReactVirtualized__Table__rowColumn" role="gridcell">
      <a href="/opportunities/abc123/info">  Main Street   Library </a>
    </div>
    <div class="ReactVirtualized__Table__rowColumn" role="gridcell">
      <div class="two-row-cell__RootContainer-x"><span class="highlightDate-y">10/21/2026</span><span>2:00 PM</span></div>
    </div>
  </div>
  <div class="ReactVirtualized__Table__row" role="row">
    <div class="ReactVirtualized__Table__rowColumn" role="gridcell">
      <a href="https://app.example.com/opportunities/def456">Old School Gym</a>
    </div>
    <div class="ReactVirtualized__Table__rowColumn" role="gridcell">
      <div class="two-row-cell__RootContainer-x">Due 1/2/2020 at noon</div>
    </div>
  </div>
  <div class="ReactVirtualized__Table__row" role="row">
    <div class="ReactVirtualized__Table__rowColumn" role="gridcell">
      <a href="/opportunities/abc123/files">Duplicate</a>
    </div>
  </div>
  <div class="ReactVirtualized__Table__row" role="row">
    <div class="ReactVirtualized__Table__rowColumn" role="gridcell">No link here</div>
  </div>
</div>
<div data-id="page-navigation"><button data-id="caret-right"></button></div>
</body></html>`

func TestParseListing(t *testing.T) {
	t.Parallel()

	listing, err := ParseListing(strings.NewReader(listingHTML), "https://app.example.com")
	require.NoError(t, err)
	require.Len(t, listing.Candidates, 2)

	first := listing.Candidates[0]
	assert.Equal(t, bid.Identifier("abc123"), first.ID)
	assert.Equal(t, "Main Street Library", first.Name)
	assert.Equal(t, "https://app.example.com/opportunities/abc123/info", first.URL)
	assert.Equal(t, "10/21/2026", first.DueDate)

	second := listing.Candidates[1]
	assert.Equal(t, bid.Identifier("def456"), second.ID)
	assert.Equal(t, "1/2/2020", second.DueDate)

	assert.True(t, listing.HasNext)
	assert.Empty(t, listing.NextHref)
}

func TestParseListingLastPage(t *testing.T) {
	t.Parallel()

	html := `<div data-id="page-navigation"><button data-id="caret-right" disabled></button></div>`
	listing, err := ParseListing(strings.NewReader(html), "")
	require.NoError(t, err)
	assert.Empty(t, listing.Candidates)
	assert.False(t, listing.HasNext)
}

func TestParseListingLegacyRowsAndNextLink(t *testing.T) {
	t.Parallel()

	html := `<table>
<tr class="opportunity-row"><td><a href="/opportunities/p1">One</a></td><td>Due 3/4/2027</td></tr>
<tr class="opportunity-row"><td><a href="/opportunities/pipeline">Pipeline</a></td></tr>
</table><a rel="next" href="page2.html">next</a>`
	listing, err := ParseListing(strings.NewReader(html), "file:///tmp/listing/page1.html")
	require.NoError(t, err)
	require.Len(t, listing.Candidates, 1)
	assert.Equal(t, bid.Identifier("p1"), listing.Candidates[0].ID)
	assert.Equal(t, "3/4/2027", listing.Candidates[0].DueDate)
	assert.True(t, listing.HasNext)
	assert.Equal(t, "file:///tmp/listing/page2.html", listing.NextHref)
}

func TestUpcoming(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	in := []bid.Candidate{
		{ID: "past", DueDate: "5/9/2026"},
		{ID: "today", DueDate: "5/10/2026"},
		{ID: "future", DueDate: "Jun 1, 2026"},
		{ID: "unknown", DueDate: "TBD"},
		{ID: "none"},
	}
	out := Upcoming(in, now)

	var ids []bid.Identifier
	for _, c := range out {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []bid.Identifier{"today", "future", "unknown", "none"}, ids)
	assert.Len(t, in, 5)
}

const projectHTML = `<html><body>
<h1 data-id="opportunity-title">Title Fallback</h1>
<div data-id="opportunity-details">
  <div class="section">
    <div class="header">Project Name</div>
    <div class="hoverArea-a"><div class="value-b">  Riverside   Clinic </div></div>
  </div>
  <div class="section">
    <div class="header">Date Due</div>
    <div class="hoverArea-a"><span>Oct 21, 2026 at 2:00 PM</span><span>(in 3 days)</span></div>
  </div>
  <div class="section">
    <div class="header">Location</div>
    <div class="hoverArea-a">12 River Rd, Springfield</div>
  </div>
  <div class="section">
    <div><span class="header">Project Information</span></div>
    <div class="hoverArea-a">Two storey
      clinic with   parking.</div>
  </div>
</div>
<div class="companyDetails-c"><div class="textWrapper-d">Acme Builders</div></div>
<div class="leadDetailsText-e">
  <span class="leadContactInfo-f">Jane Roe</span>
  <span class="leadContactInfo-f">jane@acme.test</span>
  <span class="leadContactInfo-f">(555) 123-4567</span>
</div>
</body></html>`

func TestParseProject(t *testing.T) {
	t.Parallel()

	meta, err := ParseProject(strings.NewReader(projectHTML))
	require.NoError(t, err)

	assert.Equal(t, "Riverside Clinic", meta.Name)
	assert.Equal(t, "Oct 21, 2026 at 2:00 PM", meta.Date)
	assert.Equal(t, "12 River Rd, Springfield", meta.Location)
	assert.Equal(t, "Two storey clinic with parking.", meta.Information)
	assert.Equal(t, "Acme Builders", meta.Client)
	assert.Equal(t, "jane@acme.test", meta.Email)
	assert.Equal(t, "(555) 123-4567", meta.Phone)
	assert.Empty(t, meta.Size)

	norm := meta.Normalized()
	assert.Equal(t, "2026-10-21", norm.Date)
	assert.Equal(t, bid.Sentinel, norm.Size)
}

func TestParseProjectFallsBackToTitle(t *testing.T) {
	t.Parallel()

	meta, err := ParseProject(strings.NewReader(`<h1 data-id="opportunity-title"> Pool House </h1>`))
	require.NoError(t, err)
	assert.Equal(t, "Pool House", meta.Name)
	assert.Equal(t, bid.Sentinel, meta.Normalized().Client)
}

func TestIdentifierFromHref(t *testing.T) {
	t.Parallel()

	cases := map[string]bid.Identifier{
		"/opportunities/abc/info":                  "abc",
		"https://x.test/opportunities/a%20b?tab=1": "a b",
		"/opportunities/pipeline":                  "",
		"/projects/abc":                            "",
	}
	for href, want := range cases {
		got, ok := IdentifierFromHref(href)
		assert.Equal(t, want, got, href)
		assert.Equal(t, want != "", ok, href)
	}
	assert.Equal(t, "https://x.test/opportunities/p%2F1/files", FilesURL("https://x.test/", "p/1"))
	assert.Equal(t, "https://x.test/opportunities/p1/info", InfoURL("https://x.test", "p1"))
}
