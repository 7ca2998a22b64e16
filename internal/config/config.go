// Package config assembles the runtime configuration of the scraper from the
// environment, an optional `.env` file and an optional json5 file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"catalogscraper/pkg/configutil"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const DefaultFile = "scraper.json5"

type Backend struct {
	URL string `envconfig:"BACKEND_URL" default:"http://localhost:3001"`
	// required for any write, reads still work without it
	AdminToken string `envconfig:"ADMIN_JWT_TOKEN"`
}

type Scraper struct {
	BaseURL        string `envconfig:"SCRAPER_BASE_URL" default:"https://ohora.co.jp"`
	CollectionPath string `envconfig:"SCRAPER_COLLECTION_PATH" default:"/collections/all-products"`
	PageSize       int    `envconfig:"SCRAPER_PAGE_SIZE" default:"24"`
	// 0 means every page
	MaxPages int `envconfig:"SCRAPER_MAX_PAGES" default:"0"`

	MinDelay          time.Duration `envconfig:"SCRAPER_MIN_DELAY" default:"2s"`
	MaxDelay          time.Duration `envconfig:"SCRAPER_MAX_DELAY" default:"5s"`
	RequestsPerSecond float64       `envconfig:"SCRAPER_REQUESTS_PER_SECOND" default:"2"`
	Timeout           time.Duration `envconfig:"SCRAPER_TIMEOUT" default:"30s"`

	UploadDir    string `envconfig:"SCRAPER_UPLOAD_DIR" default:"../public/uploads/images"`
	PublicPrefix string `envconfig:"SCRAPER_PUBLIC_PREFIX" default:"/uploads/images"`
}

type Config struct {
	Backend Backend
	Scraper Scraper
}

// File is the shape of scraper.json5. Zero values leave the current setting alone.
type File struct {
	BaseUrl           string  `json:"base_url"`
	CollectionPath    string  `json:"collection_path"`
	PageSize          int     `json:"page_size"`
	MaxPages          int     `json:"max_pages"`
	MinDelaySeconds   float64 `json:"min_delay_seconds"`
	MaxDelaySeconds   float64 `json:"max_delay_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	TimeoutSeconds    float64 `json:"timeout_seconds"`
	UploadDir         string  `json:"upload_dir"`
	PublicPrefix      string  `json:"public_prefix"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (f File) scraper() Scraper {
	return Scraper{
		BaseURL:           f.BaseUrl,
		CollectionPath:    f.CollectionPath,
		PageSize:          f.PageSize,
		MaxPages:          f.MaxPages,
		MinDelay:          seconds(f.MinDelaySeconds),
		MaxDelay:          seconds(f.MaxDelaySeconds),
		RequestsPerSecond: f.RequestsPerSecond,
		Timeout:           seconds(f.TimeoutSeconds),
		UploadDir:         f.UploadDir,
		PublicPrefix:      f.PublicPrefix,
	}
}

// FromEnv reads the configuration from environment variables alone, falling
// back to defaults for anything unset.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config from env: %w", err)
	}
	return cfg, nil
}

// Apply overlays the non-zero settings of a config file onto the scraper section.
func (c *Config) Apply(file File) error {
	return mergo.Merge(&c.Scraper, file.scraper(), mergo.WithOverride)
}

// Load loads a `.env` file from the cwd if there is one, reads the environment
// and then applies the config file at path. A missing file is only an error
// when path is not DefaultFile.
func Load(path string) (Config, error) {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := FromEnv()
	if err != nil {
		return Config{}, err
	}

	if path == "" {
		path = DefaultFile
	}
	file, err := configutil.ReadConfig[File](path)
	switch {
	case errors.Is(err, os.ErrNotExist) && path == DefaultFile:
	case err != nil:
		return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := cfg.Apply(file); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("backend url is empty"))
	} else if _, err := url.ParseRequestURI(c.Backend.URL); err != nil {
		errs = append(errs, fmt.Errorf("backend url: %w", err))
	}

	s := c.Scraper
	if s.BaseURL == "" {
		errs = append(errs, errors.New("scraper base url is empty"))
	} else if u, err := url.Parse(s.BaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Errorf("scraper base url %q is not absolute", s.BaseURL))
	}
	if s.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", s.PageSize))
	}
	if s.MaxPages < 0 {
		errs = append(errs, fmt.Errorf("max pages must not be negative, got %d", s.MaxPages))
	}
	if s.MinDelay < 0 || s.MinDelay > s.MaxDelay {
		errs = append(errs, fmt.Errorf("delay range [%s, %s] is invalid", s.MinDelay, s.MaxDelay))
	}
	if s.UploadDir == "" {
		errs = append(errs, errors.New("upload dir is empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
