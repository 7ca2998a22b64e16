package storefront

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"catalogscraper/internal/components/telemetry"

	_ "embed"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

//go:embed testdata/detail_jsonld.html
var detailJsonld []byte

//go:embed testdata/detail_markup.html
var detailMarkup []byte

//go:embed testdata/detail_malformed.html
var detailMalformed []byte

func boolPtr(b bool) *bool {
	return &b
}

func TestParseDetailPrefersStructuredData(t *testing.T) {
	pageUrl, _ := url.Parse("https://ohora.co.jp/products/n-rose-gold")

	detail := ParseDetail(mustDoc(t, detailJsonld), pageUrl, telemetry.NewRecorderAPI())

	expected := Detail{
		Name:         "N Rose Gold",
		Description:  "Semi-cured gel nail strips.",
		SKU:          "ND-123",
		MSRP:         1980,
		Availability: boolPtr(true),
		ImageUrls: []string{
			"https://cdn.example.com/products/rose_1.jpg?v=1",
			"https://cdn.example.com/products/rose_2.png",
			"https://cdn.example.com/products/rose_spin.gif",
		},
		StructuredData: true,
	}
	if diff := cmp.Diff(expected, detail); diff != "" {
		t.Fatalf("detail mismatch (-want +got):\n%s", diff)
	}
}

var expectedMarkupDetail = Detail{
	Name:        "P Glow Pedi",
	Description: "Glitter pedicure set.",
	SKU:         "PD-042",
	MSRP:        1650,
	ImageUrls: []string{
		"https://cdn.example.com/products/glow_1.jpg",
		"https://ohora.co.jp/cdn/products/glow_2.jpg",
	},
}

func TestParseDetailMarkupFallback(t *testing.T) {
	pageUrl, _ := url.Parse("https://ohora.co.jp/products/p-glow")
	rec := telemetry.NewRecorderAPI()

	detail := ParseDetail(mustDoc(t, detailMarkup), pageUrl, rec)
	if diff := cmp.Diff(expectedMarkupDetail, detail); diff != "" {
		t.Fatalf("detail mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, rec.Reports(telemetry.KindWarning, report_parse_detail_jsonld))
}

func TestParseDetailMalformedStructuredData(t *testing.T) {
	pageUrl, _ := url.Parse("https://ohora.co.jp/products/p-glow")
	rec := telemetry.NewRecorderAPI()

	detail := ParseDetail(mustDoc(t, detailMalformed), pageUrl, rec)
	if diff := cmp.Diff(expectedMarkupDetail, detail); diff != "" {
		t.Fatalf("detail mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, rec.Reports(telemetry.KindWarning, report_parse_detail_jsonld), 1)
}

func TestParseDetailTitleOwnText(t *testing.T) {
	pageUrl, _ := url.Parse("https://ohora.co.jp/products/n-rose")
	doc := mustDoc(t, []byte(`<html><body>
<h1 class="product-single__title">
  N Rose <span class="badge">NEW</span>
</h1>
</body></html>`))

	detail := ParseDetail(doc, pageUrl, telemetry.NewRecorderAPI())
	require.Equal(t, "N Rose", detail.Name)
	require.Nil(t, detail.Availability)
}

func TestParseDetailOfferShapes(t *testing.T) {
	pageUrl, _ := url.Parse("https://ohora.co.jp/products/x")

	table := []struct {
		name         string
		jsonld       string
		msrp         float64
		availability bool
	}{
		{
			name:         "single offer object with numeric price",
			jsonld:       `{"@type": "Product", "name": "X", "offers": {"price": 2200, "availability": "https://schema.org/InStock"}}`,
			msrp:         2200,
			availability: true,
		},
		{
			name:         "sold out",
			jsonld:       `{"@type": "Product", "name": "X", "offers": [{"price": "1,100", "availability": "https://schema.org/OutOfStock"}]}`,
			msrp:         1100,
			availability: false,
		},
		{
			name:         "no offers falls back to markup price and inactive",
			jsonld:       `{"@type": ["Product"], "name": "X", "sku": 123}`,
			msrp:         999,
			availability: false,
		},
		{
			name:         "graph list",
			jsonld:       `[{"@type": "BreadcrumbList"}, {"@type": "Product", "name": "X", "offers": [{"price": 10, "availability": "InStock"}]}]`,
			msrp:         10,
			availability: true,
		},
	}

	for _, row := range table {
		page := `<html><head><script type="application/ld+json">` + row.jsonld + `</script></head>` +
			`<body><span class="product__price">999</span></body></html>`

		detail := ParseDetail(mustDoc(t, []byte(page)), pageUrl, telemetry.NewRecorderAPI())
		require.True(t, detail.StructuredData, row.name)
		require.Equal(t, "X", detail.Name, row.name)
		require.Equal(t, row.msrp, detail.MSRP, row.name)
		require.NotNil(t, detail.Availability, row.name)
		require.Equal(t, row.availability, *detail.Availability, row.name)
	}
}

func TestClientDetailSendsReferer(t *testing.T) {
	var referer atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/products/n-rose-gold" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		referer.Store(r.Header.Get("Referer"))
		w.Write(detailJsonld)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	detail, err := client.Detail(context.Background(), server.URL+"/products/n-rose-gold")
	require.NoError(t, err)
	require.Equal(t, "N Rose Gold", detail.Name)
	require.Equal(t, server.URL+"/collections/all-products", referer.Load())

	_, err = client.Detail(context.Background(), server.URL+"/products/missing")
	require.Error(t, err)
}
