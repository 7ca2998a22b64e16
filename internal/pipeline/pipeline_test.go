package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"catalogscraper/internal/backend"
	"catalogscraper/internal/backend/backendtest"
	"catalogscraper/internal/catalog"
	"catalogscraper/internal/components/chrono"
	"catalogscraper/internal/components/telemetry"
	"catalogscraper/internal/config"
	"catalogscraper/internal/images"
	"catalogscraper/internal/scrapers/storefront"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const token = "admin-jwt"

var start = time.UnixMilli(1700000000000)

type card struct {
	href    string
	soldOut bool
}

func listingHtml(items int, cards ...card) string {
	var b strings.Builder
	b.WriteString("<html><head>")
	if items > 0 {
		fmt.Fprintf(&b, `<script>var boostPFSConfig = {"general":{"items":%d}};</script>`, items)
	}
	b.WriteString(`</head><body><div class="boost-pfs-filter-products">`)
	for _, c := range cards {
		b.WriteString(`<div class="boost-pfs-filter-product-item">`)
		fmt.Fprintf(&b, `<a class="boost-pfs-filter-product-item-image-link" href="%s"></a>`, c.href)
		if c.soldOut {
			b.WriteString(`<div class="soldout">SOLD OUT</div>`)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func jsonldDetailHtml(cdn string) string {
	return fmt.Sprintf(`<html><head>
<script type="application/ld+json">
{"@type": "Product", "name": "B Nail", "description": "Gel nail strips.", "sku": "ND-B",
 "offers": [{"price": "1980", "availability": "http://schema.org/InStock"}]}
</script></head><body>
<h1 class="product-single__title">Markup title</h1>
<div class="product__main-photos">
  <img data-photoswipe-src="%[1]s/files/b.jpg">
  <img data-photoswipe-src="%[1]s/files/b.gif">
</div>
</body></html>`, cdn)
}

func markupDetailHtml(cdn string) string {
	return fmt.Sprintf(`<html><body>
<h1 class="product-single__title">  C Pedi </h1>
<span class="product__price">¥1,650</span>
<div class="product-block"><div class="rte"><p> Glitter pedicure set. </p></div></div>
<p class="product-single__sku"><span data-sku-id="3"> PD-C </span></p>
<div class="product__thumb"><a href="%s/files/c.jpg"></a></div>
</body></html>`, cdn)
}

type shop struct {
	*httptest.Server

	mutex     sync.Mutex
	listings  map[int]string
	failPage  int
	details   map[string]string
	requested []int
}

func newShop(t testing.TB) *shop {
	s := &shop{
		listings: map[int]string{},
		details:  map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/all-products", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.requested = append(s.requested, page)
		if page == s.failPage {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		body, ok := s.listings[page]
		if !ok {
			body = listingHtml(0)
		}
		w.Write([]byte(body))
	})
	mux.HandleFunc("GET /products/{handle}", func(w http.ResponseWriter, r *http.Request) {
		s.mutex.Lock()
		body, ok := s.details[r.PathValue("handle")]
		s.mutex.Unlock()
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(body))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *shop) Requested() []int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]int(nil), s.requested...)
}

func newCdn(t testing.TB) *httptest.Server {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte("image:" + r.URL.Path))
	}))
	t.Cleanup(cdn.Close)
	return cdn
}

type harness struct {
	shop    *shop
	cdn     *httptest.Server
	backend *backendtest.Server
	clock   *chrono.ManualImpl
	tel     *telemetry.RecorderAPI
	dir     string
	cfg     config.Config
}

// newHarness sets up a catalog of four products over three listing pages of two,
// the item count claims four pages so the empty third page has to stop pagination.
//
//	a: known to the backend as active, now sold out
//	b: new, structured data, one jpg and one gif
//	c: new, markup only, sold out on the listing
//	d: new, detail page errors
//
// known maps product handles to the active flag the backend has on record.
func newHarness(t *testing.T, known map[string]bool) *harness {
	h := &harness{
		shop:  newShop(t),
		cdn:   newCdn(t),
		clock: chrono.NewManualImpl(start),
		tel:   telemetry.NewRecorderAPI(),
		dir:   t.TempDir(),
	}
	var existing []catalog.ProductStatus
	for handle, active := range known {
		existing = append(existing, catalog.ProductStatus{ProductURL: h.url(handle), IsActive: active})
	}
	h.backend = backendtest.NewServer(token, existing...)
	t.Cleanup(h.backend.Close)

	h.shop.listings[1] = listingHtml(8,
		card{href: "/products/a", soldOut: true},
		card{href: "/products/b#reviews"},
	)
	h.shop.listings[2] = listingHtml(0,
		card{href: "/products/c", soldOut: true},
		card{href: "/products/d"},
		card{href: "/products/b"},
	)
	h.shop.details["a"] = markupDetailHtml(h.cdn.URL)
	h.shop.details["b"] = jsonldDetailHtml(h.cdn.URL)
	h.shop.details["c"] = markupDetailHtml(h.cdn.URL)

	h.cfg = config.Config{
		Backend: config.Backend{URL: h.backend.URL, AdminToken: token},
		Scraper: config.Scraper{
			BaseURL:        h.shop.URL,
			CollectionPath: "/collections/all-products",
			PageSize:       2,
			MinDelay:       2 * time.Second,
			MaxDelay:       5 * time.Second,
			Timeout:        5 * time.Second,
			UploadDir:      h.dir,
			PublicPrefix:   "/uploads/images",
		},
	}
	return h
}

func (h *harness) url(handle string) string {
	return h.shop.URL + "/products/" + handle
}

func (h *harness) pipeline(t *testing.T, dryRun bool) *Pipeline {
	store, err := storefront.NewClient(storefront.Options{
		BaseUrl:        h.cfg.Scraper.BaseURL,
		CollectionPath: h.cfg.Scraper.CollectionPath,
		PageSize:       h.cfg.Scraper.PageSize,
		Timeout:        h.cfg.Scraper.Timeout,
	}, h.tel)
	require.NoError(t, err)

	downloader, err := images.NewDownloader(images.Options{
		Dir:          h.cfg.Scraper.UploadDir,
		PublicPrefix: h.cfg.Scraper.PublicPrefix,
	}, h.clock, h.tel)
	require.NoError(t, err)

	p, err := New(Options{
		Config:     h.cfg,
		Storefront: store,
		Backend: backend.NewClient(backend.Options{
			BaseUrl:    h.cfg.Backend.URL,
			AdminToken: h.cfg.Backend.AdminToken,
		}, h.tel),
		Images:    downloader,
		Chrono:    h.clock,
		Telemetry: h.tel,
		DryRun:    dryRun,
	})
	require.NoError(t, err)
	return p
}

func statuses(outcomes []Outcome) map[string]Status {
	out := map[string]Status{}
	for _, o := range outcomes {
		out[o.URL] = o.Status
	}
	return out
}

func requireDelays(t *testing.T, slept []time.Duration, count int) {
	require.Len(t, slept, count)
	for _, d := range slept {
		require.GreaterOrEqual(t, d, 2*time.Second)
		require.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestRun(t *testing.T) {
	h := newHarness(t, map[string]bool{"a": true})
	report, err := h.pipeline(t, false).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, report.RunID)
	require.Nil(t, report.BaselineErr)
	require.Equal(t, 1, report.Baseline)
	require.Equal(t, []int{1, 2, 3}, h.shop.Requested())
	require.Equal(t, 3, report.Pages)
	require.Equal(t, 4, report.Scraped)

	updates := []catalog.ListingEntry{{ProductURL: h.url("a"), IsActive: false}}
	require.Equal(t, updates, report.Updates)
	require.Equal(t, StatusDone, report.UpdateOutcome.Status)
	require.Equal(t, [][]catalog.ListingEntry{updates}, h.backend.Updates())

	require.Equal(t, []string{h.url("b"), h.url("c"), h.url("d")}, report.New)
	require.Equal(t, map[string]Status{
		h.url("b"): StatusDone,
		h.url("c"): StatusDone,
		h.url("d"): StatusFailed,
	}, statuses(report.Products))

	upserts := h.backend.Upserts()
	require.Len(t, upserts, 2)

	bImage := fmt.Sprintf("/uploads/images/%d-b.jpg", start.UnixMilli())
	diff := cmp.Diff(catalog.ProductDetail{
		Name:        "B Nail",
		Description: "Gel nail strips.",
		Price:       0,
		MSRP:        1980,
		Images:      []string{bImage},
		IsActive:    true,
		ProductURL:  h.url("b"),
		SKU:         "ND-B",
	}, upserts[0])
	require.Empty(t, diff)

	c := upserts[1]
	require.Equal(t, "C Pedi", c.Name)
	require.Equal(t, "Glitter pedicure set.", c.Description)
	require.Equal(t, "PD-C", c.SKU)
	require.Equal(t, float64(1650), c.MSRP)
	require.Equal(t, float64(0), c.Price)
	require.False(t, c.IsActive)
	require.Len(t, c.Images, 1)
	require.True(t, strings.HasSuffix(c.Images[0], "-c.jpg"))

	b := report.Products[0]
	require.Len(t, b.Images, 2)
	require.ErrorIs(t, b.Images[1].Err, images.ErrAnimated)

	contents, err := os.ReadFile(filepath.Join(h.dir, filepath.Base(bImage)))
	require.NoError(t, err)
	require.Equal(t, "image:/files/b.jpg", string(contents))

	requireDelays(t, h.clock.Slept(), 2)
	require.Len(t, report.Succeeded(), 2)
	require.Len(t, h.tel.Reports(telemetry.KindBroken, report_pipeline_product), 1)

	var out bytes.Buffer
	report.Render(&out)
	require.Contains(t, out.String(), report.RunID)
	require.Contains(t, out.String(), h.url("d"))
}

func TestRunBaselineUnavailable(t *testing.T) {
	h := newHarness(t, map[string]bool{"a": true})
	h.backend.FailStatuses()

	report, err := h.pipeline(t, false).Run(context.Background())
	require.NoError(t, err)

	require.Error(t, report.BaselineErr)
	require.Equal(t, 0, report.Baseline)
	require.Empty(t, report.Updates)
	require.Equal(t, StatusSkipped, report.UpdateOutcome.Status)
	require.Equal(t, []string{h.url("a"), h.url("b"), h.url("c"), h.url("d")}, report.New)
	require.Len(t, h.tel.Reports(telemetry.KindWarning, report_pipeline_baseline), 1)

	a, ok := h.backend.Product(h.url("a"))
	require.True(t, ok)
	require.False(t, a.IsActive)
}

func TestRunWithoutToken(t *testing.T) {
	h := newHarness(t, map[string]bool{"a": true})
	h.cfg.Backend.AdminToken = ""

	report, err := h.pipeline(t, false).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, StatusSkipped, report.UpdateOutcome.Status)
	require.ErrorIs(t, report.UpdateOutcome.Err, backend.ErrMissingToken)
	require.Equal(t, map[string]Status{
		h.url("b"): StatusSkipped,
		h.url("c"): StatusSkipped,
		h.url("d"): StatusFailed,
	}, statuses(report.Products))
	require.Empty(t, h.backend.Updates())
	require.Empty(t, h.backend.Upserts())
	require.Empty(t, report.Succeeded())

	// b and c are missing the token, d failed to fetch
	require.Len(t, h.tel.Reports(telemetry.KindBroken, report_pipeline_product), 3)
	require.Empty(t, h.tel.Reports(telemetry.KindWarning, report_pipeline_product))
	require.Len(t, h.tel.Reports(telemetry.KindBroken, report_pipeline_update_statuses), 1)
}

func TestRunDry(t *testing.T) {
	h := newHarness(t, map[string]bool{"a": true})

	report, err := h.pipeline(t, true).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, StatusSkipped, report.UpdateOutcome.Status)
	require.Equal(t, StatusScraped, report.Products[0].Status)
	require.Len(t, report.Succeeded(), 2)
	require.Empty(t, h.backend.Updates())
	require.Empty(t, h.backend.Upserts())

	files, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestRunPagination(t *testing.T) {
	testCases := []struct {
		name      string
		maxPages  int
		listings  map[int]string
		requested []int
		scraped   int
	}{
		{
			name:     "page cap",
			maxPages: 1,
			listings: map[int]string{
				1: listingHtml(8, card{href: "/products/b"}),
				2: listingHtml(0, card{href: "/products/c"}),
			},
			requested: []int{1},
			scraped:   1,
		},
		{
			name:     "no item count means one page",
			listings: map[int]string{
				1: listingHtml(0, card{href: "/products/b"}),
				2: listingHtml(0, card{href: "/products/c"}),
			},
			requested: []int{1},
			scraped:   1,
		},
		{
			name:     "all pages",
			listings: map[int]string{
				1: listingHtml(3, card{href: "/products/b"}, card{href: "/products/c"}),
				2: listingHtml(0, card{href: "/products/d"}),
			},
			requested: []int{1, 2},
			scraped:   3,
		},
		{
			name: "empty first page",
			listings: map[int]string{
				1: listingHtml(48),
			},
			requested: []int{1, 2},
			scraped:   0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.shop.listings = tc.listings
			h.cfg.Scraper.MaxPages = tc.maxPages

			report, err := h.pipeline(t, true).Run(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.requested, h.shop.Requested())
			require.Equal(t, tc.scraped, report.Scraped)
		})
	}
}

func TestRunListingStatusStopsPagination(t *testing.T) {
	h := newHarness(t, map[string]bool{"a": true})
	h.shop.failPage = 2

	report, err := h.pipeline(t, false).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, h.shop.Requested())
	require.Equal(t, 2, report.Pages)
	require.Equal(t, 2, report.Scraped)

	updates := []catalog.ListingEntry{{ProductURL: h.url("a"), IsActive: false}}
	require.Equal(t, updates, report.Updates)
	require.Equal(t, [][]catalog.ListingEntry{updates}, h.backend.Updates())
	require.Equal(t, []string{h.url("b")}, report.New)
	require.Len(t, h.backend.Upserts(), 1)
	require.Len(t, h.tel.Reports(telemetry.KindWarning, report_pipeline_listing), 1)
}

func TestRunFirstListingStatus(t *testing.T) {
	h := newHarness(t, map[string]bool{"a": true})
	h.shop.failPage = 1

	report, err := h.pipeline(t, false).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{1}, h.shop.Requested())
	require.Equal(t, 0, report.Scraped)
	require.Empty(t, report.New)
	require.Empty(t, h.backend.Updates())
}

func TestRunListingTransportFailure(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t, false)
	h.shop.Close()

	report, err := p.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, report.Pages)
	require.Empty(t, report.Products)
	require.Empty(t, h.backend.Upserts())
	require.Len(t, h.tel.Reports(telemetry.KindBroken, report_pipeline_listing), 1)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, nil)
	p := h.pipeline(t, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDelay(t *testing.T) {
	p := &Pipeline{cfg: config.Scraper{MinDelay: time.Second, MaxDelay: time.Second}}
	require.Equal(t, time.Second, p.delay())

	p.cfg.MaxDelay = 3 * time.Second
	for range 100 {
		d := p.delay()
		require.GreaterOrEqual(t, d, time.Second)
		require.LessOrEqual(t, d, 3*time.Second)
	}
}
