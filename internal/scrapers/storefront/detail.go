package storefront

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"catalogscraper/internal/components/telemetry"
	"catalogscraper/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const report_parse_detail_jsonld = "parse-detail.jsonld"

const (
	selectorJsonld      = `script[type="application/ld+json"]`
	selectorTitle       = "h1.product-single__title"
	selectorPrice       = ".product__price"
	selectorDescription = ".product-block .rte p"
	selectorSku         = ".product-single__sku span[data-sku-id]"
	selectorMainPhotos  = ".product__main-photos img"
	attrMainPhoto       = "data-photoswipe-src"
	selectorThumbLinks  = ".product__thumb a"
)

// Detail is what a product page yields. Image urls are still remote.
type Detail struct {
	Name        string
	Description string
	SKU         string
	MSRP        float64
	// Availability is nil when the page has no structured data to decide it,
	// the listing's sold-out marker should be used then.
	Availability *bool
	ImageUrls    []string
	// StructuredData reports whether a JSON-LD block was found and decoded.
	StructuredData bool
}

var priceRegex = regexp.MustCompile(`[\d,]+`)

func findJsonldProduct(doc *goquery.Document, tel telemetry.API, pageUrl string) (jsonldProduct, bool) {
	var first *jsonldProduct
	var found *jsonldProduct
	doc.Find(selectorJsonld).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		blocks, err := parseJsonld(s.Text())
		if err != nil {
			tel.ReportWarning(report_parse_detail_jsonld, fmt.Errorf("decode: %w", err), pageUrl)
			return true
		}
		for i := range blocks {
			if first == nil {
				first = &blocks[i]
			}
			if blocks[i].isProduct() {
				found = &blocks[i]
				return false
			}
		}
		return true
	})
	if found != nil {
		return *found, true
	}
	if first != nil {
		return *first, true
	}
	return jsonldProduct{}, false
}

func markupPrice(doc *goquery.Document) float64 {
	var price float64
	doc.Find(selectorPrice).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		match := priceRegex.FindString(s.Text())
		match = strings.ReplaceAll(match, ",", "")
		if match == "" {
			return true
		}
		v, err := strconv.ParseFloat(match, 64)
		if err != nil {
			return true
		}
		price = v
		return false
	})
	return price
}

func imageUrls(doc *goquery.Document, pageUrl *url.URL) []string {
	var raw []string
	doc.Find(selectorMainPhotos).Each(func(_ int, s *goquery.Selection) {
		if src := s.AttrOr(attrMainPhoto, ""); src != "" {
			raw = append(raw, src)
		}
	})
	if len(raw) == 0 {
		doc.Find(selectorThumbLinks).Each(func(_ int, s *goquery.Selection) {
			if href := s.AttrOr("href", ""); href != "" {
				raw = append(raw, href)
			}
		})
	}

	var out []string
	for _, src := range raw {
		resolved, err := htmlutil.ResolveURL(pageUrl, src)
		if err != nil {
			continue
		}
		out = append(out, resolved.String())
	}
	return out
}

// ParseDetail extracts a product from its page. Every field prefers the JSON-LD
// block and falls back to the markup when the block is missing, malformed or
// leaves the field empty.
func ParseDetail(doc *goquery.Document, pageUrl *url.URL, tel telemetry.API) Detail {
	var detail Detail

	ld, ok := findJsonldProduct(doc, tel, pageUrl.String())
	if ok {
		detail.StructuredData = true
		detail.Name = string(ld.Name)
		detail.Description = string(ld.Description)
		detail.SKU = string(ld.SKU)

		active := false
		if len(ld.Offers) > 0 {
			offer := ld.Offers[0]
			detail.MSRP = offer.Price.Value
			active = strings.Contains(offer.Availability, "InStock")
		}
		detail.Availability = &active
	}

	if detail.Name == "" {
		if title := doc.Find(selectorTitle).First(); title.Length() > 0 {
			detail.Name = htmlutil.CleanText(htmlutil.OwnText(title.Get(0)))
		}
	}
	if detail.MSRP == 0 {
		detail.MSRP = markupPrice(doc)
	}
	if detail.Description == "" {
		detail.Description = strings.TrimSpace(doc.Find(selectorDescription).First().Text())
	}
	if detail.SKU == "" {
		detail.SKU = strings.TrimSpace(doc.Find(selectorSku).First().Text())
	}

	detail.ImageUrls = imageUrls(doc, pageUrl)
	return detail
}
