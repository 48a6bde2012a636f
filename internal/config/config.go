package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no settings file is named explicitly.
const DefaultFile = "proxyfetch.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Input      string `yaml:"input"`
	Column     string `yaml:"column"`
	Limit      int    `yaml:"limit"`
	OutputDir  string `yaml:"output_dir"`
	Checkpoint string `yaml:"checkpoint"`

	ProxyFile     string `yaml:"proxy_file"`
	ProxyAPI      bool   `yaml:"proxy_api"`
	ProxyAPILimit int    `yaml:"proxy_api_limit"`
	ProxyHTML     bool   `yaml:"proxy_html"`

	Concurrency    int           `yaml:"concurrency"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	FetchBudget    time.Duration `yaml:"fetch_budget"`
	StallThreshold int           `yaml:"stall_threshold"`
	Resume         bool          `yaml:"resume"`
	RateLimit      float64       `yaml:"rate_limit"`

	TitleSelector string `yaml:"title_selector"`
	MetricsAddr   string `yaml:"metrics_addr"`
	WebhookURL    string `yaml:"webhook_url"`
	Debug         bool   `yaml:"debug"`
}

func Defaults() *Config {
	return &Config{
		Column:         "url",
		OutputDir:      "pages",
		Checkpoint:     "successful_links.csv",
		ProxyAPILimit:  500,
		Concurrency:    100,
		AttemptTimeout: 2 * time.Second,
		ConnectTimeout: 5 * time.Second,
		MaxAttempts:    10,
		BackoffBase:    100 * time.Millisecond,
		BackoffMax:     2 * time.Second,
		FetchBudget:    30 * time.Second,
		StallThreshold: 50,
		TitleSelector:  "title",
	}
}

// Load layers defaults, the settings file and the environment. An empty
// path reads DefaultFile if it exists; a named file must exist.
func Load(path string) (*Config, error) {
	c := Defaults()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := c.loadFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}
	c.loadEnv()
	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("Loaded settings file")
	return nil
}

func (c *Config) loadEnv() {
	c.Input = getEnv("PROXYFETCH_INPUT", c.Input)
	c.Column = getEnv("PROXYFETCH_COLUMN", c.Column)
	c.Limit = getEnvAsInt("PROXYFETCH_LIMIT", c.Limit)
	c.OutputDir = getEnv("PROXYFETCH_OUTPUT_DIR", c.OutputDir)
	c.Checkpoint = getEnv("PROXYFETCH_CHECKPOINT", c.Checkpoint)

	c.ProxyFile = getEnv("PROXYFETCH_PROXY_FILE", c.ProxyFile)
	c.ProxyAPI = getEnvAsBool("PROXYFETCH_PROXY_API", c.ProxyAPI)
	c.ProxyAPILimit = getEnvAsInt("PROXYFETCH_PROXY_API_LIMIT", c.ProxyAPILimit)
	c.ProxyHTML = getEnvAsBool("PROXYFETCH_PROXY_HTML", c.ProxyHTML)

	c.Concurrency = getEnvAsInt("PROXYFETCH_CONCURRENCY", c.Concurrency)
	c.AttemptTimeout = getEnvAsDuration("PROXYFETCH_ATTEMPT_TIMEOUT", c.AttemptTimeout)
	c.ConnectTimeout = getEnvAsDuration("PROXYFETCH_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.MaxAttempts = getEnvAsInt("PROXYFETCH_MAX_ATTEMPTS", c.MaxAttempts)
	c.BackoffBase = getEnvAsDuration("PROXYFETCH_BACKOFF_BASE", c.BackoffBase)
	c.BackoffMax = getEnvAsDuration("PROXYFETCH_BACKOFF_MAX", c.BackoffMax)
	c.FetchBudget = getEnvAsDuration("PROXYFETCH_FETCH_BUDGET", c.FetchBudget)
	c.StallThreshold = getEnvAsInt("PROXYFETCH_STALL_THRESHOLD", c.StallThreshold)
	c.Resume = getEnvAsBool("PROXYFETCH_RESUME", c.Resume)
	c.RateLimit = getEnvAsFloat("PROXYFETCH_RATE_LIMIT", c.RateLimit)

	c.TitleSelector = getEnv("PROXYFETCH_TITLE_SELECTOR", c.TitleSelector)
	c.MetricsAddr = getEnv("PROXYFETCH_METRICS_ADDR", c.MetricsAddr)
	c.WebhookURL = getEnv("PROXYFETCH_WEBHOOK_URL", getEnv("DISCORD_WEBHOOK_URL", c.WebhookURL))
	c.Debug = getEnvAsBool("PROXYFETCH_DEBUG", c.Debug)
}

// RegisterFlags binds every option to fs, using c's current values as the
// flag defaults.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.Input, "input", "i", c.Input, "CSV or XLSX file with the URLs to fetch")
	fs.StringVar(&c.Column, "column", c.Column, "header of the URL column")
	fs.IntVar(&c.Limit, "limit", c.Limit, "only read the first N rows (0 reads all)")
	fs.StringVarP(&c.OutputDir, "output", "o", c.OutputDir, "directory for saved pages")
	fs.StringVar(&c.Checkpoint, "checkpoint", c.Checkpoint, "checkpoint log of finished URLs")

	fs.StringVarP(&c.ProxyFile, "proxies", "p", c.ProxyFile, "file with one proxy per line")
	fs.BoolVar(&c.ProxyAPI, "proxy-api", c.ProxyAPI, "fetch free proxies from public listings")
	fs.IntVar(&c.ProxyAPILimit, "proxy-api-limit", c.ProxyAPILimit, "max proxies to take from the listings")
	fs.BoolVar(&c.ProxyHTML, "proxy-html", c.ProxyHTML, "scrape socks5 proxies from the hidemy.name table")

	fs.IntVarP(&c.Concurrency, "concurrency", "c", c.Concurrency, "fetches per round")
	fs.DurationVar(&c.AttemptTimeout, "attempt-timeout", c.AttemptTimeout, "timeout for a single request")
	fs.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "timeout for connecting to a proxy")
	fs.IntVar(&c.MaxAttempts, "max-attempts", c.MaxAttempts, "attempts per URL per round")
	fs.DurationVar(&c.BackoffBase, "backoff", c.BackoffBase, "delay before the first retry")
	fs.DurationVar(&c.BackoffMax, "backoff-max", c.BackoffMax, "longest delay between retries")
	fs.DurationVar(&c.FetchBudget, "fetch-budget", c.FetchBudget, "total time one URL may take per round")
	fs.IntVar(&c.StallThreshold, "stall-threshold", c.StallThreshold, "rounds without progress before giving up")
	fs.BoolVarP(&c.Resume, "resume", "r", c.Resume, "skip URLs already in the checkpoint")
	fs.Float64Var(&c.RateLimit, "rate", c.RateLimit, "max requests per second across workers (0 is unlimited)")

	fs.StringVar(&c.TitleSelector, "title-selector", c.TitleSelector, "CSS selector of the page title")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address")
	fs.StringVar(&c.WebhookURL, "webhook", c.WebhookURL, "post a run summary to this webhook")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "debug logging")
}

// ApplyFlags copies the flags the user set on fs over c, so flags win over
// the file and the environment.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	overlay := pflag.NewFlagSet("overlay", pflag.ContinueOnError)
	c.RegisterFlags(overlay)

	var err error
	fs.Visit(func(f *pflag.Flag) {
		if overlay.Lookup(f.Name) == nil {
			return
		}
		err = multierr.Append(err, overlay.Set(f.Name, f.Value.String()))
	})
	return err
}

func (c *Config) Validate() error {
	var errs error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Input != "", "input file is required")
	check(c.Limit >= 0, "limit must not be negative, got %d", c.Limit)
	check(c.OutputDir != "", "output directory is required")
	check(c.Checkpoint != "", "checkpoint path is required")
	check(c.ProxyFile != "" || c.ProxyAPI || c.ProxyHTML, "a proxy file, the proxy API or the proxy table is required")
	check(c.Concurrency >= 1, "concurrency must be at least 1, got %d", c.Concurrency)
	check(c.MaxAttempts >= 1, "max attempts must be at least 1, got %d", c.MaxAttempts)
	check(c.AttemptTimeout > 0, "attempt timeout must be positive, got %s", c.AttemptTimeout)
	check(c.ConnectTimeout > 0, "connect timeout must be positive, got %s", c.ConnectTimeout)
	check(c.FetchBudget > 0, "fetch budget must be positive, got %s", c.FetchBudget)
	check(c.BackoffBase >= 0 && c.BackoffMax >= 0, "backoff must not be negative")
	check(c.StallThreshold >= 0, "stall threshold must not be negative, got %d", c.StallThreshold)
	check(c.RateLimit >= 0, "rate limit must not be negative, got %g", c.RateLimit)

	if errs != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, errs)
	}
	return nil
}

// Helper functions
func getEnv(key string, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	return parseEnv(key, defaultVal, strconv.Atoi)
}

func getEnvAsBool(key string, defaultVal bool) bool {
	return parseEnv(key, defaultVal, strconv.ParseBool)
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	return parseEnv(key, defaultVal, time.ParseDuration)
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	return parseEnv(key, defaultVal, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

func parseEnv[T any](key string, defaultVal T, parse func(string) (T, error)) T {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultVal
	}
	value, err := parse(valueStr)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Ignoring unparsable environment variable")
		return defaultVal
	}
	return value
}
