// Package backend talks to the catalog backend, which is the system of record
// for every product the scraper has seen.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogscraper/internal/catalog"
	"catalogscraper/internal/components/assert"
	"catalogscraper/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const (
	report_client_product_statuses = "client.product-statuses"
	report_client_known_urls       = "client.known-urls"
	report_client_update_statuses  = "client.update-statuses"
	report_client_upsert           = "client.upsert"
)

const (
	pathProductStatuses = "/api/scrape/products-status"
	pathKnownUrls       = "/api/scrape/urls"
	pathUpdateStatuses  = "/api/scrape/update-statuses"
	pathUpsert          = "/api/scrape/upsert"

	tokenHeader = "x-access-token"
)

var (
	// ErrMissingToken is returned by write operations when no admin token is configured.
	ErrMissingToken = errors.New("backend: admin token is not configured")
	// ErrInvalidProduct is returned when a product would be rejected by the backend anyway.
	ErrInvalidProduct = errors.New("backend: invalid product")
)

// StatusError is a non-2xx reply from the backend.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e StatusError) Error() string {
	return fmt.Sprintf("backend: %s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

type Options struct {
	BaseUrl    string
	AdminToken string
	Timeout    time.Duration
	// optional, receives a dump of every request when set
	MessageOutput telemetry.MessageOutput
}

type Client struct {
	Http       *resty.Client
	adminToken string
	tel        telemetry.API
}

func NewClient(opts Options, tel telemetry.API) *Client {
	assert.NotEmptyStr(opts.BaseUrl)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("backend", tel)

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimSuffix(opts.BaseUrl, "/"))
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetHeader("Accept", "application/json")
	telemetry.InstrumentResty(httpClient, tel, opts.MessageOutput)

	return &Client{
		Http:       httpClient,
		adminToken: opts.AdminToken,
		tel:        tel,
	}
}

func checkStatus(op string, res *resty.Response) error {
	if res.IsSuccess() {
		return nil
	}
	body := res.String()
	if len(body) > 200 {
		body = body[:200]
	}
	return StatusError{Op: op, Code: res.StatusCode(), Body: body}
}

func (c *Client) get(ctx context.Context, op, path string, out any) error {
	res, err := c.Http.R().
		SetContext(ctx).
		Get(path)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	if err := checkStatus(op, res); err != nil {
		return err
	}
	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("backend: %s: decode: %w", op, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, body any) error {
	if c.adminToken == "" {
		return ErrMissingToken
	}
	res, err := c.Http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(tokenHeader, c.adminToken).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", op, err)
	}
	return checkStatus(op, res)
}

// ProductStatuses returns the backend's known products keyed by product url.
func (c *Client) ProductStatuses(ctx context.Context) (map[string]catalog.ProductStatus, error) {
	var statuses []catalog.ProductStatus
	err := c.get(ctx, "products-status", pathProductStatuses, &statuses)
	if err != nil {
		c.tel.ReportBroken(report_client_product_statuses, err)
		return nil, err
	}

	out := make(map[string]catalog.ProductStatus, len(statuses))
	for _, s := range statuses {
		out[s.ProductURL] = s
	}
	c.tel.ReportCount(report_client_product_statuses, int64(len(out)))
	return out, nil
}

// KnownURLs returns the product url of every product the backend has.
func (c *Client) KnownURLs(ctx context.Context) ([]string, error) {
	var urls []string
	err := c.get(ctx, "urls", pathKnownUrls, &urls)
	if err != nil {
		c.tel.ReportBroken(report_client_known_urls, err)
		return nil, err
	}
	return urls, nil
}

type updateStatusesRequest struct {
	ProductsToUpdate []catalog.ListingEntry `json:"productsToUpdate"`
}

// UpdateStatuses pushes changed stock statuses.
func (c *Client) UpdateStatuses(ctx context.Context, entries []catalog.ListingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := c.post(ctx, "update-statuses", pathUpdateStatuses, updateStatusesRequest{
		ProductsToUpdate: entries,
	})
	if err != nil {
		c.tel.ReportBroken(report_client_update_statuses, err, len(entries))
		return err
	}
	return nil
}

// Validate checks the fields the backend requires for an upsert.
func Validate(product catalog.ProductDetail) error {
	var missing []string
	if strings.TrimSpace(product.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(product.ProductURL) == "" {
		missing = append(missing, "product_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProduct, strings.Join(missing, ", "))
	}
	return nil
}

// Upsert creates or updates a product keyed by its product url.
func (c *Client) Upsert(ctx context.Context, product catalog.ProductDetail) error {
	if err := Validate(product); err != nil {
		c.tel.ReportWarning(report_client_upsert, err, product.ProductURL)
		return err
	}
	if product.Images == nil {
		product.Images = []string{}
	}
	err := c.post(ctx, "upsert", pathUpsert, product)
	if err != nil {
		c.tel.ReportBroken(report_client_upsert, err, product.ProductURL)
		return err
	}
	return nil
}
