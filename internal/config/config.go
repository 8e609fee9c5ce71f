package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// Crawl configuration
	Crawl CrawlConfig `mapstructure:"crawl"`

	// Extractor configuration
	Extractor ExtractorConfig `mapstructure:"extractor"`

	// Output configuration
	Output OutputConfig `mapstructure:"output"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig holds crawler-specific configuration.
type CrawlConfig struct {
	Seeds                    []string      `mapstructure:"seeds"`
	MaxPages                 int           `mapstructure:"max_pages"`
	MaxDepth                 int           `mapstructure:"max_depth"` // 0 = unlimited
	MaxWorkers               int           `mapstructure:"max_workers"`
	PerPageImageLimit        int           `mapstructure:"per_page_image_limit"`
	SameRegisteredDomainOnly bool          `mapstructure:"same_registered_domain_only"`
	UserAgent                string        `mapstructure:"user_agent"`
	RequestTimeout           time.Duration `mapstructure:"request_timeout"`
	RetryBudget              int           `mapstructure:"retry_budget"`
	BackoffBase              time.Duration `mapstructure:"backoff_base"`
	MinDelay                 time.Duration `mapstructure:"min_delay"`
	MaxBodySize              int64         `mapstructure:"max_body_size"`
}

// ExtractorConfig selects and tunes the content extractor.
type ExtractorConfig struct {
	// Name selects the extractor implementation: "besteffort" or "article".
	Name string `mapstructure:"name"`

	// ContentSelectors are CSS selectors tried in order by the article
	// extractor to locate the main content container.
	ContentSelectors []string `mapstructure:"content_selectors"`
}

// OutputConfig holds output destinations.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	ImagesDir string `mapstructure:"images_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// Load loads configuration from file and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("webharvest")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.webharvest")
	}

	setDefaults(v)

	v.SetEnvPrefix("WEBHARVEST")
	// Nested keys use dots; env names cannot, so crawl.max_pages becomes
	// WEBHARVEST_CRAWL_MAX_PAGES.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error, we'll use defaults and env
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &config, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("default config does not decode: %v", err))
	}
	return &config
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.max_pages", 100)
	v.SetDefault("crawl.max_depth", 0)
	v.SetDefault("crawl.max_workers", 4)
	v.SetDefault("crawl.per_page_image_limit", 5)
	v.SetDefault("crawl.same_registered_domain_only", true)
	v.SetDefault("crawl.user_agent", "webharvest/1.0 (+https://github.com/ruvinda/webharvest)")
	v.SetDefault("crawl.request_timeout", "20s")
	v.SetDefault("crawl.retry_budget", 3)
	v.SetDefault("crawl.backoff_base", "1s")
	v.SetDefault("crawl.min_delay", "500ms")
	v.SetDefault("crawl.max_body_size", 10*1024*1024)

	v.SetDefault("extractor.name", "besteffort")
	v.SetDefault("extractor.content_selectors", []string{"article", "main", "div.entry-content"})

	v.SetDefault("output.path", "output/records.ndjson")
	v.SetDefault("output.images_dir", "output/images")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks the configuration before any network activity happens.
func (c *Config) Validate() error {
	if len(c.Crawl.Seeds) == 0 {
		return fmt.Errorf("at least one seed URL is required")
	}
	for _, seed := range c.Crawl.Seeds {
		u, err := url.Parse(seed)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
			return fmt.Errorf("invalid seed URL: %q", seed)
		}
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be positive")
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must not be negative")
	}
	if c.Crawl.MaxWorkers <= 0 {
		return fmt.Errorf("crawl.max_workers must be positive")
	}
	if c.Crawl.PerPageImageLimit < 0 {
		return fmt.Errorf("crawl.per_page_image_limit must not be negative")
	}
	if c.Crawl.RequestTimeout <= 0 {
		return fmt.Errorf("crawl.request_timeout must be positive")
	}
	if c.Crawl.RetryBudget < 0 {
		return fmt.Errorf("crawl.retry_budget must not be negative")
	}
	if c.Crawl.BackoffBase < 0 {
		return fmt.Errorf("crawl.backoff_base must not be negative")
	}
	if c.Crawl.MaxBodySize <= 0 {
		return fmt.Errorf("crawl.max_body_size must be positive")
	}
	switch c.Extractor.Name {
	case "besteffort", "article":
	default:
		return fmt.Errorf("unknown extractor: %q", c.Extractor.Name)
	}
	if c.Output.Path == "" {
		return fmt.Errorf("output.path is required")
	}
	if c.Output.ImagesDir == "" {
		return fmt.Errorf("output.images_dir is required")
	}
	return nil
}
