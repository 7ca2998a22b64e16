// Package images downloads product imagery into the public upload directory.
package images

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"catalogscraper/internal/components/assert"
	"catalogscraper/internal/components/chrono"
	"catalogscraper/internal/components/telemetry"

	"github.com/go-resty/resty/v2"
)

const (
	report_downloader_download = "downloader.download"
	report_downloader_skip     = "downloader.skip"
)

// ErrAnimated is returned for .gif images, which are never downloaded.
var ErrAnimated = errors.New("animated image skipped")

// max attempts at finding an unused filename before giving up
const maxNameAttempts = 1000

type Options struct {
	// Dir is the filesystem directory images are written to, it is created if missing.
	Dir string
	// PublicPrefix is the site-relative path Dir is served under.
	PublicPrefix string
	Timeout      time.Duration
	// optional, receives a dump of every request when set
	MessageOutput telemetry.MessageOutput
}

type Downloader struct {
	dir          string
	publicPrefix string
	http         *resty.Client
	time         chrono.API
	tel          telemetry.API
}

func NewDownloader(opts Options, clock chrono.API, tel telemetry.API) (*Downloader, error) {
	assert.NotEmptyStr(opts.Dir)
	assert.NotNil(clock)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("images", tel)

	err := os.MkdirAll(opts.Dir, 0755)
	if err != nil {
		return nil, fmt.Errorf("images: create upload dir: %w", err)
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = "/uploads/images"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}

	httpClient := resty.New()
	httpClient.SetTimeout(opts.Timeout)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	telemetry.InstrumentResty(httpClient, tel, opts.MessageOutput)

	return &Downloader{
		dir:          opts.Dir,
		publicPrefix: strings.TrimSuffix(opts.PublicPrefix, "/"),
		http:         httpClient,
		time:         clock,
		tel:          tel,
	}, nil
}

// normalizeUrl gives protocol-relative urls an https scheme.
func normalizeUrl(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	link, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if link.Scheme == "" || link.Host == "" {
		return nil, fmt.Errorf("not an absolute url: %q", raw)
	}
	return link, nil
}

// IsAnimated reports whether the url points at a gif.
func IsAnimated(link *url.URL) bool {
	return strings.EqualFold(path.Ext(link.Path), ".gif")
}

// createUnique opens a new file named `<unix millis>-<basename>`. When the name is
// taken the timestamp is bumped until a free one is found.
func (d *Downloader) createUnique(basename string) (*os.File, string, error) {
	millis := d.time.Now().UnixMilli()
	for i := 0; i < maxNameAttempts; i++ {
		filename := strconv.FormatInt(millis+int64(i), 10) + "-" + basename
		f, err := os.OpenFile(filepath.Join(d.dir, filename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, filename, nil
	}
	return nil, "", fmt.Errorf("no free filename for %s", basename)
}

// Download fetches one image and returns the public path it is served under.
func (d *Downloader) Download(ctx context.Context, rawUrl string) (string, error) {
	link, err := normalizeUrl(rawUrl)
	if err != nil {
		return "", fmt.Errorf("images: %w", err)
	}
	if IsAnimated(link) {
		return "", ErrAnimated
	}
	basename := path.Base(link.Path)
	if basename == "." || basename == "/" {
		return "", fmt.Errorf("images: no filename in %s", link)
	}

	res, err := d.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(link.String())
	if err != nil {
		return "", fmt.Errorf("images: fetch %s: %w", link, err)
	}
	body := res.RawBody()
	defer body.Close()
	if !res.IsSuccess() {
		return "", fmt.Errorf("images: fetch %s: unexpected status %s", link, res.Status())
	}

	f, filename, err := d.createUnique(basename)
	if err != nil {
		return "", fmt.Errorf("images: create file: %w", err)
	}
	_, err = io.Copy(f, body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("images: write %s: %w", filename, err)
	}

	return d.publicPrefix + "/" + filename, nil
}

// Result is the outcome of downloading one image.
type Result struct {
	Url string
	// Path is the public path, empty when Err is set.
	Path string
	Err  error
}

func (r Result) Skipped() bool {
	return r.Err != nil
}

// DownloadAll downloads urls one after another. A failed image never stops the rest.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string) []Result {
	results := make([]Result, 0, len(urls))
	for _, u := range urls {
		publicPath, err := d.Download(ctx, u)
		switch {
		case errors.Is(err, ErrAnimated):
			d.tel.ReportDebug(report_downloader_skip, u)
		case err != nil:
			d.tel.ReportWarning(report_downloader_download, err, u)
		}
		results = append(results, Result{Url: u, Path: publicPath, Err: err})
	}
	return results
}

// Paths returns the public paths of the successful results, in order.
func Paths(results []Result) []string {
	paths := []string{}
	for _, r := range results {
		if !r.Skipped() {
			paths = append(paths, r.Path)
		}
	}
	return paths
}
