package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"catalogscraper/internal/backend"
	"catalogscraper/internal/components/chrono"
	"catalogscraper/internal/components/telemetry"
	"catalogscraper/internal/images"
	"catalogscraper/internal/pipeline"
	"catalogscraper/internal/scrapers/storefront"

	"github.com/spf13/cobra"
)

var (
	maxPages int
	dryRun   bool
)

func init() {
	runCmd.Flags().IntVar(&maxPages, "max-pages", -1, "only scrape this many listing pages, 0 scrapes every page (default from config)")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "scrape and reconcile without writing to the backend or downloading images")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scrapes the catalog, pushes stock changes and upserts new products.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if maxPages >= 0 {
			cfg.Scraper.MaxPages = maxPages
		}
		if cfg.Backend.AdminToken == "" && !dryRun {
			slog.Warn("ADMIN_JWT_TOKEN is not set, status updates and upserts will be skipped")
		}

		otel, err := telemetry.SetupFromEnv(ctx, "catalogscraper")
		if err != nil {
			slog.Warn("failed to setup otel, continuing without export", "err", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := otel.Shutdown(shutdownCtx); err != nil {
				slog.Warn("failed to flush otel", "err", err)
			}
		}()
		telemetry.InstrumentPerfStats(ctx, 5*time.Second)

		tel := telemetry.SlogAPI{}
		clock := chrono.NewStandardImpl()

		store, err := storefront.NewClient(storefront.Options{
			BaseUrl:           cfg.Scraper.BaseURL,
			CollectionPath:    cfg.Scraper.CollectionPath,
			PageSize:          cfg.Scraper.PageSize,
			RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
			Timeout:           cfg.Scraper.Timeout,
			MessageOutput:     messageOutput("storefront"),
		}, tel)
		if err != nil {
			return err
		}

		var downloader pipeline.Images
		if !dryRun {
			downloader, err = images.NewDownloader(images.Options{
				Dir:           cfg.Scraper.UploadDir,
				PublicPrefix:  cfg.Scraper.PublicPrefix,
				Timeout:       cfg.Scraper.Timeout,
				MessageOutput: messageOutput("images"),
			}, clock, tel)
			if err != nil {
				return err
			}
		}

		p, err := pipeline.New(pipeline.Options{
			Config:     cfg,
			Storefront: store,
			Backend: backend.NewClient(backend.Options{
				BaseUrl:       cfg.Backend.URL,
				AdminToken:    cfg.Backend.AdminToken,
				Timeout:       cfg.Scraper.Timeout,
				MessageOutput: messageOutput("backend"),
			}, tel),
			Images:    downloader,
			Chrono:    clock,
			Telemetry: tel,
			DryRun:    dryRun,
		})
		if err != nil {
			return err
		}

		slog.Info("starting scrape", "base_url", cfg.Scraper.BaseURL, "backend", cfg.Backend.URL, "dry_run", dryRun)
		report, err := p.Run(ctx)
		report.Render(os.Stdout)
		if err != nil {
			return fmt.Errorf("run %s: %w", report.RunID, err)
		}
		slog.Info("scrape finished", "run", report.RunID, "products", len(report.Succeeded()))
		return nil
	},
}
