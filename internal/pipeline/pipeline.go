// Package pipeline runs one full scrape: baseline, listings, reconciliation,
// status updates and the detail scrape of every new product.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"catalogscraper/internal/backend"
	"catalogscraper/internal/catalog"
	"catalogscraper/internal/components/assert"
	"catalogscraper/internal/components/chrono"
	"catalogscraper/internal/components/telemetry"
	"catalogscraper/internal/config"
	"catalogscraper/internal/images"
	"catalogscraper/internal/scrapers/storefront"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_pipeline_baseline        = "pipeline.baseline"
	report_pipeline_listing         = "pipeline.listing"
	report_pipeline_update_statuses = "pipeline.update-statuses"
	report_pipeline_product         = "pipeline.product"
	report_pipeline_new             = "pipeline.new-products"
)

var (
	tracer = otel.Tracer("catalogscraper/internal/pipeline")
	meter  = otel.Meter("catalogscraper/internal/pipeline")
)

type Storefront interface {
	ListingPage(ctx context.Context, page int) (storefront.ListingPage, error)
	Detail(ctx context.Context, productUrl string) (storefront.Detail, error)
}

type Backend interface {
	ProductStatuses(ctx context.Context) (map[string]catalog.ProductStatus, error)
	UpdateStatuses(ctx context.Context, entries []catalog.ListingEntry) error
	Upsert(ctx context.Context, product catalog.ProductDetail) error
}

type Images interface {
	DownloadAll(ctx context.Context, urls []string) []images.Result
}

type Options struct {
	Config     config.Config
	Storefront Storefront
	Backend    Backend
	Images     Images
	Chrono     chrono.API
	Telemetry  telemetry.API
	// DryRun scrapes and reconciles without writing to the backend or downloading images.
	DryRun bool
}

type Pipeline struct {
	cfg        config.Scraper
	storefront Storefront
	backend    Backend
	images     Images
	chrono     chrono.API
	tel        telemetry.API
	dryRun     bool

	upserts metric.Int64Counter
}

func New(opts Options) (*Pipeline, error) {
	assert.NotNil(opts.Storefront)
	assert.NotNil(opts.Backend)
	assert.NotNil(opts.Chrono)
	assert.NotNil(opts.Telemetry)
	if !opts.DryRun {
		assert.NotNil(opts.Images)
	}

	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	upserts, err := meter.Int64Counter(
		"scraper.products",
		metric.WithDescription("Products handled by the detail scrape, by outcome."),
	)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        opts.Config.Scraper,
		storefront: opts.Storefront,
		backend:    opts.Backend,
		images:     opts.Images,
		chrono:     opts.Chrono,
		tel:        telemetry.NewScopedAPI("pipeline", opts.Telemetry),
		dryRun:     opts.DryRun,
		upserts:    upserts,
	}, nil
}

// Run performs one scrape. The error is only set when a listing page could not
// be fetched at all or ctx was cancelled. A listing page answered with a non-2xx
// status ends pagination, and per-product failures are recorded in
// Report.Products instead.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	report := Report{
		RunID:     uuid.NewString(),
		StartedAt: p.chrono.Now(),
	}
	ctx, span := tracer.Start(ctx, "Run", trace.WithAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Bool("run.dry", p.dryRun),
	))
	defer span.End()

	err := p.run(ctx, &report)
	report.FinishedAt = p.chrono.Now()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return report, err
}

func (p *Pipeline) run(ctx context.Context, report *Report) error {
	baseline, err := p.backend.ProductStatuses(ctx)
	if err != nil {
		p.tel.ReportWarning(report_pipeline_baseline, err)
		report.BaselineErr = err
		baseline = map[string]catalog.ProductStatus{}
	}
	report.Baseline = len(baseline)

	entries, pages, err := p.scrapeListings(ctx)
	report.Pages = pages
	if err != nil {
		return err
	}

	scraped, order := catalog.Dedupe(entries)
	report.Scraped = len(scraped)

	diff := catalog.Reconcile(scraped, order, baseline)
	report.Updates = diff.Updates
	report.New = diff.New
	p.tel.ReportCount(report_pipeline_new, int64(len(diff.New)))

	report.UpdateOutcome = p.pushUpdates(ctx, diff.Updates)

	for i, productUrl := range diff.New {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome := p.scrapeProduct(ctx, scraped[productUrl])
		report.Products = append(report.Products, outcome)
		p.upserts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(outcome.Status))))

		if i == len(diff.New)-1 {
			break
		}
		if err := p.chrono.Sleep(ctx, p.delay()); err != nil {
			return err
		}
	}

	return nil
}

func (p *Pipeline) scrapeListings(ctx context.Context) ([]catalog.ListingEntry, int, error) {
	ctx, span := tracer.Start(ctx, "scrapeListings")
	defer span.End()

	var entries []catalog.ListingEntry
	fetched := 0
	totalPages := 1
	for page := 1; page <= totalPages; page++ {
		if p.cfg.MaxPages > 0 && page > p.cfg.MaxPages {
			p.tel.ReportDebug(fmt.Sprintf("stopping at the page cap of %d (%d pages total)", p.cfg.MaxPages, totalPages))
			break
		}

		listing, err := p.storefront.ListingPage(ctx, page)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.tel.ReportBroken(report_pipeline_listing, err, page)
			return entries, fetched, err
		}
		fetched++

		if listing.StatusCode != 0 {
			p.tel.ReportWarning(report_pipeline_listing, fmt.Sprintf("page %d answered %d, stopping pagination", page, listing.StatusCode))
			break
		}
		if page == 1 {
			totalPages = listing.TotalPages
			if !listing.HasTotal {
				p.tel.ReportWarning(report_pipeline_listing, "no item count on the first page, assuming a single page")
			}
		} else if len(listing.Entries) == 0 {
			p.tel.ReportDebug(fmt.Sprintf("page %d is empty, stopping early", page))
			break
		}
		entries = append(entries, listing.Entries...)
	}

	span.SetAttributes(
		attribute.Int("listing.pages", fetched),
		attribute.Int("listing.entries", len(entries)),
	)
	return entries, fetched, nil
}

func (p *Pipeline) pushUpdates(ctx context.Context, updates []catalog.ListingEntry) Outcome {
	switch {
	case len(updates) == 0:
		return skipped("", "no status changes", nil)
	case p.dryRun:
		return skipped("", "dry run", nil)
	}

	ctx, span := tracer.Start(ctx, "pushUpdates", trace.WithAttributes(
		attribute.Int("updates", len(updates)),
	))
	defer span.End()

	err := p.backend.UpdateStatuses(ctx, updates)
	switch {
	case errors.Is(err, backend.ErrMissingToken):
		p.tel.ReportBroken(report_pipeline_update_statuses, err)
		return skipped("", "no admin token", err)
	case err != nil:
		span.RecordError(err)
		p.tel.ReportBroken(report_pipeline_update_statuses, err)
		return failed("", "update statuses", err)
	}
	return done("")
}

func (p *Pipeline) scrapeProduct(ctx context.Context, entry catalog.ListingEntry) Outcome {
	ctx, span := tracer.Start(ctx, "scrapeProduct", trace.WithAttributes(
		attribute.String("product.url", entry.ProductURL),
	))
	defer span.End()

	outcome := p.scrape(ctx, entry)
	switch outcome.Status {
	case StatusFailed:
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Reason)
		p.tel.ReportBroken(report_pipeline_product, outcome.Err, outcome.URL)
	case StatusSkipped:
		if errors.Is(outcome.Err, backend.ErrMissingToken) {
			p.tel.ReportBroken(report_pipeline_product, outcome.Err, outcome.URL)
			break
		}
		p.tel.ReportWarning(report_pipeline_product, outcome.Reason, outcome.URL)
	}
	return outcome
}

func (p *Pipeline) scrape(ctx context.Context, entry catalog.ListingEntry) Outcome {
	detail, err := p.storefront.Detail(ctx, entry.ProductURL)
	if err != nil {
		return failed(entry.ProductURL, "fetch detail", err)
	}

	product := catalog.ProductDetail{
		Name:        detail.Name,
		Description: detail.Description,
		Price:       0,
		MSRP:        detail.MSRP,
		IsActive:    entry.IsActive,
		ProductURL:  entry.ProductURL,
		SKU:         detail.SKU,
	}
	if detail.Availability != nil {
		product.IsActive = *detail.Availability
	}

	if err := backend.Validate(product); err != nil {
		outcome := skipped(entry.ProductURL, "invalid product", err)
		outcome.Product = product
		return outcome
	}

	if p.dryRun {
		return Outcome{URL: entry.ProductURL, Status: StatusScraped, Product: product}
	}

	results := p.images.DownloadAll(ctx, detail.ImageUrls)
	product.Images = images.Paths(results)

	var outcome Outcome
	err = p.backend.Upsert(ctx, product)
	switch {
	case errors.Is(err, backend.ErrMissingToken):
		outcome = skipped(entry.ProductURL, "no admin token", err)
	case err != nil:
		outcome = failed(entry.ProductURL, "upsert", err)
	default:
		outcome = done(entry.ProductURL)
	}
	outcome.Product = product
	outcome.Images = results
	return outcome
}

func (p *Pipeline) delay() time.Duration {
	spread := p.cfg.MaxDelay - p.cfg.MinDelay
	if spread <= 0 {
		return p.cfg.MinDelay
	}
	return p.cfg.MinDelay + time.Duration(rand.Int64N(int64(spread)+1))
}
