package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"boundq/internal/runner"
)

const (
	Production  = "production"
	Development = "development"

	TransportHTTP = "http"
	TransportWS   = "ws"

	EnvConfigFile = "BOUNDQ_CONFIG_FILE"

	defaultTotal          = 100
	defaultConcurrency    = 10
	defaultTimeout        = 30 * time.Second
	defaultMethod         = "GET"
	defaultBaseURL        = "https://test.deribit.com"
	defaultCheckThreshold = 80.0
	defaultHistoryFile    = "boundq.db"
	defaultMetricsAddr    = ""
)

type Config struct {
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`

	URL          string        `mapstructure:"url"`
	Total        int           `mapstructure:"total"`
	Concurrency  int           `mapstructure:"concurrency"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Transport    string        `mapstructure:"transport"`
	Method       string        `mapstructure:"method"`
	Body         string        `mapstructure:"body"`
	Headers      []string      `mapstructure:"headers"`
	ExpectStatus []int         `mapstructure:"expect_status"`
	RequireField string        `mapstructure:"require_field"`
	Insecure     bool          `mapstructure:"insecure"`
	Live         bool          `mapstructure:"live"`

	Output  OutputConfig  `mapstructure:"output"`
	History HistoryConfig `mapstructure:"history"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Check   CheckConfig   `mapstructure:"check"`
}

type OutputConfig struct {
	// Prefix enables exports: <prefix>.csv, <prefix>.json and <prefix>_summary.json.
	Prefix string `mapstructure:"prefix"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type CheckConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	ServerURL   string  `mapstructure:"server_url"`
	Concurrency int     `mapstructure:"concurrency"`
	Threshold   float64 `mapstructure:"threshold"`
	Out         string  `mapstructure:"out"`
}

// flagKeys maps flag names that differ from their config key.
var flagKeys = map[string]string{
	"url":           "url",
	"total":         "total",
	"concurrency":   "concurrency",
	"timeout":       "timeout",
	"transport":     "transport",
	"method":        "method",
	"body":          "body",
	"header":        "headers",
	"expect-status": "expect_status",
	"require-field": "require_field",
	"insecure":      "insecure",
	"live":          "live",
	"debug":         "debug",
	"out":           "output.prefix",
	"history":       "history.enabled",
	"history-path":  "history.path",
	"metrics-addr":  "metrics.addr",
	"base-url":      "check.base_url",
	"server-url":    "check.server_url",
	"threshold":     "check.threshold",
	"report":        "check.out",
}

// Loader wraps a viper instance so commands and tests do not share global state.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()

	v.SetEnvPrefix("BOUNDQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", Development)
	v.SetDefault("debug", false)
	v.SetDefault("url", "")
	v.SetDefault("total", defaultTotal)
	v.SetDefault("concurrency", defaultConcurrency)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("transport", TransportHTTP)
	v.SetDefault("method", defaultMethod)
	v.SetDefault("body", "")
	v.SetDefault("headers", []string{})
	v.SetDefault("expect_status", []int{})
	v.SetDefault("require_field", "")
	v.SetDefault("insecure", false)
	v.SetDefault("live", false)
	v.SetDefault("output.prefix", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", defaultHistoryPath())
	v.SetDefault("metrics.addr", defaultMetricsAddr)
	v.SetDefault("check.base_url", defaultBaseURL)
	v.SetDefault("check.server_url", "")
	v.SetDefault("check.concurrency", defaultConcurrency)
	v.SetDefault("check.threshold", defaultCheckThreshold)
	v.SetDefault("check.out", "")

	// names used by the older test scripts
	_ = v.BindEnv("check.base_url", "BOUNDQ_CHECK_BASE_URL", "DERIBIT_BASE_URL")
	_ = v.BindEnv("timeout", "BOUNDQ_TIMEOUT", "TEST_TIMEOUT")
	_ = v.BindEnv("concurrency", "BOUNDQ_CONCURRENCY", "MAX_CONCURRENT_REQUESTS")
	_ = v.BindEnv("check.concurrency", "BOUNDQ_CHECK_CONCURRENCY", "MAX_CONCURRENT_REQUESTS")

	return &Loader{v: v}
}

// BindFlags binds every known flag present in fs.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load reads .env, the config file and the environment, then decodes and validates.
// An explicit file that cannot be read is an error; a missing default file is not.
func (l *Loader) Load(file string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if file == "" {
		file = os.Getenv(EnvConfigFile)
	}
	if file == "" {
		file = findDefaultFile()
	}
	if file != "" {
		l.v.SetConfigFile(file)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("viper read config: %w", err)
		}
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(l.v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	cfg.Transport = strings.ToLower(cfg.Transport)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Load is NewLoader().Load without flags.
func Load(file string) (*Config, error) {
	return NewLoader().Load(file)
}

// Validate checks the settings that do not depend on the command. Run settings are
// checked by runner.Config.Validate when a batch is built.
func (c *Config) Validate() error {
	if !slices.Contains([]string{Production, Development}, c.Environment) {
		return &runner.ConfigurationError{Field: "environment",
			Reason: fmt.Sprintf("must be one of %s, %s", Production, Development)}
	}
	if !slices.Contains([]string{TransportHTTP, TransportWS}, c.Transport) {
		return &runner.ConfigurationError{Field: "transport",
			Reason: fmt.Sprintf("unknown transport %q", c.Transport)}
	}
	for _, h := range c.Headers {
		if !strings.Contains(h, ":") {
			return &runner.ConfigurationError{Field: "headers",
				Reason: fmt.Sprintf("%q is not in \"Key: Value\" form", h)}
		}
	}
	if c.Check.Threshold < 0 || c.Check.Threshold > 100 {
		return &runner.ConfigurationError{Field: "check.threshold",
			Reason: fmt.Sprintf("must be between 0 and 100, got %g", c.Check.Threshold)}
	}
	return nil
}

// RunConfig returns the batch parameters for target.
func (c *Config) RunConfig(target string) runner.Config {
	return runner.Config{
		Target:      target,
		Total:       c.Total,
		Concurrency: c.Concurrency,
		Timeout:     c.Timeout,
	}
}

// HeaderMap parses "Key: Value" headers.
func (c *Config) HeaderMap() map[string]string {
	out := make(map[string]string, len(c.Headers))
	for _, h := range c.Headers {
		k, v, ok := strings.Cut(h, ":")
		if ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

// Validator builds the success predicate. WebSocket runs expect 101 unless told otherwise.
func (c *Config) Validator() runner.Validator {
	codes := c.ExpectStatus
	if len(codes) == 0 && c.Transport == TransportWS {
		codes = []int{101}
	}
	v := runner.ExpectStatus(codes...)
	if c.RequireField != "" {
		v = runner.All(v, runner.ExpectJSONField(c.RequireField))
	}
	return v
}

// secondsHookFunc accepts bare integers as seconds, e.g. TEST_TIMEOUT=30.
func secondsHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(data.(string)))
		if err != nil {
			return data, nil
		}
		return time.Duration(n) * time.Second, nil
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultHistoryFile
	}
	return filepath.Join(home, ".boundq", defaultHistoryFile)
}

func findDefaultFile() string {
	candidates := []string{"boundq.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".boundq.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
