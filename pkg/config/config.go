// Package config loads run store settings from YAML files and RUNSTORE_*
// environment variables.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/lsm"
	"github.com/luposdate/luposdate-sub013/pkg/metrics"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// validate is a singleton validator instance
var validate = validator.New()

// Config holds everything needed to open a page store and read or write runs
type Config struct {
	DataDir                string  `yaml:"data_dir" validate:"required"`
	PageSize               int     `yaml:"page_size" validate:"min=16,max=32767"`
	SegmentPages           int     `yaml:"segment_pages" validate:"min=1"`
	CacheCapacity          int     `yaml:"cache_capacity" validate:"min=0"`
	BloomFalsePositiveRate float64 `yaml:"bloom_false_positive_rate" validate:"gt=0,lt=1"`
	BloomPrefixLength      int     `yaml:"bloom_prefix_length" validate:"min=0,max=1024"`
	LogLevel               string  `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		DataDir:                "./data",
		PageSize:               lsm.DefaultPageSize,
		SegmentPages:           pagestore.DefaultSegmentPages,
		CacheCapacity:          1024,
		BloomFalsePositiveRate: 0.01,
		BloomPrefixLength:      0,
		LogLevel:               "info",
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from RUNSTORE_* environment variables
func (c *Config) ApplyEnv() error {
	c.DataDir = getEnvOrDefault("RUNSTORE_DATA_DIR", c.DataDir)
	c.LogLevel = strings.ToLower(getEnvOrDefault("RUNSTORE_LOG_LEVEL", c.LogLevel))

	ints := []struct {
		key string
		dst *int
	}{
		{"RUNSTORE_PAGE_SIZE", &c.PageSize},
		{"RUNSTORE_SEGMENT_PAGES", &c.SegmentPages},
		{"RUNSTORE_CACHE_CAPACITY", &c.CacheCapacity},
		{"RUNSTORE_BLOOM_PREFIX_LENGTH", &c.BloomPrefixLength},
	}
	for _, v := range ints {
		s, ok := os.LookupEnv(v.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.Wrapf(err, "%s", v.key)
		}
		*v.dst = n
	}

	if s, ok := os.LookupEnv("RUNSTORE_BLOOM_FP_RATE"); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Wrap(err, "RUNSTORE_BLOOM_FP_RATE")
		}
		c.BloomFalsePositiveRate = f
	}
	return nil
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Validate checks every field against its constraints
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	// Report the first failing field in a user-friendly format
	for _, e := range validationErrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			return errors.Newf("%s: field is required", field)
		case "min", "gt":
			return errors.Newf("%s: must be at least %s", field, e.Param())
		case "max", "lt":
			return errors.Newf("%s: must not exceed %s", field, e.Param())
		case "oneof":
			return errors.Newf("%s: must be one of %s", field, e.Param())
		default:
			return errors.Newf("%s: validation failed (%s)", field, e.Tag())
		}
	}
	return err
}

// Logger builds the JSON logger for LogLevel. An unknown level, which
// Validate rejects, falls back to INFO.
func (c Config) Logger() logging.Logger {
	level, _ := logging.ParseLevel(c.LogLevel)
	return logging.NewJSONLogger(os.Stderr, level)
}

// StoreOptions converts the config into file store options
func (c Config) StoreOptions(reg *metrics.Registry) pagestore.FileStoreOptions {
	return pagestore.FileStoreOptions{
		SegmentPages:  c.SegmentPages,
		CacheCapacity: c.CacheCapacity,
		Metrics:       reg,
	}
}

// LSMOptions converts the config into run options
func (c Config) LSMOptions(logger logging.Logger, reg *metrics.Registry) lsm.Options {
	opts := lsm.DefaultOptions()
	opts.PageSize = c.PageSize
	opts.BloomFalsePositiveRate = c.BloomFalsePositiveRate
	opts.BloomPrefixLength = c.BloomPrefixLength
	if logger != nil {
		opts.Logger = logger
	}
	opts.Metrics = reg
	return opts
}
