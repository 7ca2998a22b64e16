package storefront

import (
	"math"
	"net/url"
	"regexp"
	"strconv"

	"catalogscraper/internal/catalog"
	"catalogscraper/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const (
	selectorProductCard = ".boost-pfs-filter-products div.boost-pfs-filter-product-item"
	selectorCardLink    = "a.boost-pfs-filter-product-item-image-link"
	selectorSoldOut     = ".soldout"
)

type ListingPage struct {
	Number  int
	Entries []catalog.ListingEntry
	// TotalPages is only meaningful when HasTotal is set, the total is
	// embedded in the first page's filter settings.
	TotalPages int
	HasTotal   bool
	// StatusCode is set when the storefront answered with a non-2xx status.
	StatusCode int
}

// ParseListing reads one entry per product card that carries a link. The link
// loses its fragment and is made absolute against base.
func ParseListing(doc *goquery.Document, base *url.URL) []catalog.ListingEntry {
	var entries []catalog.ListingEntry
	doc.Find(selectorProductCard).Each(func(_ int, card *goquery.Selection) {
		anchors := htmlutil.GetAnchors(base, card.Find(selectorCardLink))
		if len(anchors) == 0 {
			return
		}
		link := *anchors[0].Url
		link.Fragment = ""
		link.RawFragment = ""

		entries = append(entries, catalog.ListingEntry{
			ProductURL: link.String(),
			IsActive:   card.Find(selectorSoldOut).Length() == 0,
		})
	})
	return entries
}

var totalItemsRegex = regexp.MustCompile(`"items":(\d+)`)

// TotalPages derives the page count from the item count embedded in the page body.
// It returns (1, false) when there is no item count.
func TotalPages(body []byte, pageSize int) (int, bool) {
	groups := totalItemsRegex.FindSubmatch(body)
	if len(groups) < 2 {
		return 1, false
	}
	items, err := strconv.Atoi(string(groups[1]))
	if err != nil {
		return 1, false
	}
	pages := int(math.Ceil(float64(items) / float64(pageSize)))
	if pages < 1 {
		pages = 1
	}
	return pages, true
}
