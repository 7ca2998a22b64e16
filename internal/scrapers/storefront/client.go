// client.go contains the http side of scraping the storefront, parsing lives in
// listing.go and detail.go so it can be tested against fixtures.

package storefront

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"strconv"
	"time"

	"catalogscraper/internal/components/assert"
	"catalogscraper/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_listing_page = "client.listing-page"
	report_client_detail       = "client.detail"
)

const DefaultPageSize = 24

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/108.0.0.0 Safari/537.36",
}

var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9",
	"Accept-Language":           "en-US,en;q=0.9",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
}

type Options struct {
	BaseUrl        string
	CollectionPath string
	PageSize       int
	// RequestsPerSecond <= 0 disables pacing.
	RequestsPerSecond float64
	Timeout           time.Duration
	// one of these is picked for the lifetime of the client, defaults to DefaultUserAgents
	UserAgents []string
	// optional, receives a dump of every request when set
	MessageOutput telemetry.MessageOutput
}

// Client scrapes a single storefront's catalog.
type Client struct {
	BaseUrl   *url.URL
	Http      *resty.Client
	PageSize  int
	UserAgent string

	collectionPath string
	tel            telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	tel = telemetry.NewScopedAPI("storefront", tel)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultUserAgents
	}
	userAgent := opts.UserAgents[rand.IntN(len(opts.UserAgents))]

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl.String())
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeaders(browserHeaders)
	httpClient.SetHeader("User-Agent", userAgent)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	httpClient.SetTimeout(opts.Timeout)

	if opts.RequestsPerSecond > 0 {
		// burst of at least 1 so no request is ever refused outright
		burst := int(math.Max(1, math.Ceil(opts.RequestsPerSecond)))
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel, opts.MessageOutput)

	return &Client{
		BaseUrl:        baseUrl,
		Http:           httpClient,
		PageSize:       opts.PageSize,
		UserAgent:      userAgent,
		collectionPath: opts.CollectionPath,
		tel:            tel,
	}, nil
}

// CollectionUrl is the catalog listing, it is also sent as the referer for detail pages.
func (c *Client) CollectionUrl() string {
	return c.BaseUrl.ResolveReference(&url.URL{Path: c.collectionPath}).String()
}

// StatusError is a non-2xx reply from the storefront.
type StatusError struct {
	Code   int
	Status string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

func (c *Client) fetch(ctx context.Context, req *resty.Request, endpoint string) (*goquery.Document, []byte, error) {
	res, err := req.SetContext(ctx).Get(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: %w", err)
	}
	if !res.IsSuccess() {
		return nil, nil, fmt.Errorf("fetch: %w", StatusError{Code: res.StatusCode(), Status: res.Status()})
	}
	body := res.Body()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}
	return doc, body, nil
}

// ListingPage fetches and parses one page (1-indexed) of the catalog listing.
// A non-2xx reply is not an error, it yields a page without entries or item
// count and with StatusCode set. Transport failures are returned as errors.
func (c *Client) ListingPage(ctx context.Context, page int) (ListingPage, error) {
	assert.Positive(page)
	c.tel.ReportDebug(report_client_listing_page, page)

	req := c.Http.R().SetQueryParams(map[string]string{
		"limit": strconv.Itoa(c.PageSize),
		"page":  strconv.Itoa(page),
	})
	doc, body, err := c.fetch(ctx, req, c.collectionPath)
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		c.tel.ReportWarning(report_client_listing_page, err, page)
		return ListingPage{
			Number:     page,
			TotalPages: 1,
			StatusCode: statusErr.Code,
		}, nil
	}
	if err != nil {
		c.tel.ReportBroken(report_client_listing_page, err, page)
		return ListingPage{}, fmt.Errorf("storefront: listing page %d: %w", page, err)
	}

	listing := ListingPage{
		Number:  page,
		Entries: ParseListing(doc, c.BaseUrl),
	}
	listing.TotalPages, listing.HasTotal = TotalPages(body, c.PageSize)
	return listing, nil
}

// Detail fetches and parses a single product page.
func (c *Client) Detail(ctx context.Context, productUrl string) (Detail, error) {
	c.tel.ReportDebug(report_client_detail, productUrl)

	pageUrl, err := url.Parse(productUrl)
	if err != nil {
		return Detail{}, fmt.Errorf("storefront: detail: parse url: %w", err)
	}

	req := c.Http.R().SetHeader("Referer", c.CollectionUrl())
	doc, _, err := c.fetch(ctx, req, productUrl)
	if err != nil {
		c.tel.ReportBroken(report_client_detail, err, productUrl)
		return Detail{}, fmt.Errorf("storefront: detail %s: %w", productUrl, err)
	}

	return ParseDetail(doc, pageUrl, c.tel), nil
}
