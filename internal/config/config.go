// Package config loads cachefsd's configuration: the cache policy knobs
// (preloadSiblings, preloadFilter, preloadRead, preloadOpen, cleanAfter,
// cleanInterval, cleanIgnore, mruSize) from a YAML file, with flag
// overrides applied by the caller.
package config

import (
	"os"
	"regexp"
	"time"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

const ErrCodeInvalidConfig = "CACHEFS_INVALID_CONFIG"

// Config is the full set of cache policy knobs.
type Config struct {
	// SourceRoot is the slow upstream directory; authoritative for contents.
	SourceRoot string `yaml:"sourceRoot"`
	// CacheRoot is the fast local directory that mirrors a subset of SourceRoot.
	CacheRoot string `yaml:"cacheRoot"`

	// PreloadSiblings is the number of siblings after the triggering file
	// to include in a preload. Typical 3.
	PreloadSiblings int `yaml:"preloadSiblings"`
	// PreloadFilter is a regular expression matched against a basename to
	// decide cacheability. Typical `^.*\.flac$`.
	PreloadFilter string `yaml:"preloadFilter"`
	// PreloadRead is the percentage of file size that, once read, fires
	// the read-based trigger. Typical 50.
	PreloadRead int `yaml:"preloadRead"`
	// PreloadOpen is the open-duration timeout that fires the time-based
	// trigger. Typical 2s. In YAML, written as a duration string ("2s",
	// "500ms"); Load parses it with time.ParseDuration.
	PreloadOpen time.Duration `yaml:"preloadOpen"`

	// CleanAfter is the staleness threshold: a cached file's access time
	// must be older than now - CleanAfter to be evicted. Default 6h. In
	// YAML, written as a duration string ("6h"); Load parses it with
	// time.ParseDuration.
	CleanAfter time.Duration `yaml:"cleanAfter"`
	// CleanInterval is how often the Cleaner ticks. Default 1h. Distinct
	// from CleanAfter: this is the timer period, that is the staleness
	// threshold. Same YAML duration-string format as CleanAfter.
	CleanInterval time.Duration `yaml:"cleanInterval"`
	// CleanIgnore is a regular expression matched against a basename to
	// exempt files from eviction regardless of age.
	CleanIgnore string `yaml:"cleanIgnore"`

	// MRUSize bounds the Path Locator's positive-result cache. Typical 10.
	MRUSize int `yaml:"mruSize"`
}

// Default returns the baseline configuration cachefsd ships with.
func Default() Config {
	return Config{
		PreloadSiblings: 3,
		PreloadFilter:   `^.*\.flac$`,
		PreloadRead:     50,
		PreloadOpen:     2 * time.Second,
		CleanAfter:      6 * time.Hour,
		CleanInterval:   time.Hour,
		CleanIgnore:     `^$`,
		MRUSize:         10,
	}
}

// rawConfig mirrors Config's YAML shape but holds durations as strings
// (go.yaml.in/yaml/v3 has no special decoding for time.Duration the way it
// does for time.Time, so "6h" would fail to parse, and a bare "21600"
// would silently decode as 21600 nanoseconds instead of the seconds a
// user would expect) and every field as a pointer, so Load can tell
// "omitted" apart from "explicitly zero" and leave Default()'s value in
// place for whatever the file doesn't set.
type rawConfig struct {
	SourceRoot      *string `yaml:"sourceRoot"`
	CacheRoot       *string `yaml:"cacheRoot"`
	PreloadSiblings *int    `yaml:"preloadSiblings"`
	PreloadFilter   *string `yaml:"preloadFilter"`
	PreloadRead     *int    `yaml:"preloadRead"`
	PreloadOpen     *string `yaml:"preloadOpen"`
	CleanAfter      *string `yaml:"cleanAfter"`
	CleanInterval   *string `yaml:"cleanInterval"`
	CleanIgnore     *string `yaml:"cleanIgnore"`
	MRUSize         *int    `yaml:"mruSize"`
}

// Load reads a YAML config file at path, starting from Default() so any
// field the file omits keeps its default value.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, ErrCodeInvalidConfig, "read config file failed").
			WithContext("path", path)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrap(err, ErrCodeInvalidConfig, "parse config file failed").
			WithContext("path", path)
	}

	if raw.SourceRoot != nil {
		cfg.SourceRoot = *raw.SourceRoot
	}
	if raw.CacheRoot != nil {
		cfg.CacheRoot = *raw.CacheRoot
	}
	if raw.PreloadSiblings != nil {
		cfg.PreloadSiblings = *raw.PreloadSiblings
	}
	if raw.PreloadFilter != nil {
		cfg.PreloadFilter = *raw.PreloadFilter
	}
	if raw.PreloadRead != nil {
		cfg.PreloadRead = *raw.PreloadRead
	}
	if raw.CleanIgnore != nil {
		cfg.CleanIgnore = *raw.CleanIgnore
	}
	if raw.MRUSize != nil {
		cfg.MRUSize = *raw.MRUSize
	}

	if raw.PreloadOpen != nil {
		d, err := time.ParseDuration(*raw.PreloadOpen)
		if err != nil {
			return Config{}, errors.Wrap(err, ErrCodeInvalidConfig, "invalid preloadOpen").
				WithContext("preloadOpen", *raw.PreloadOpen)
		}
		cfg.PreloadOpen = d
	}
	if raw.CleanAfter != nil {
		d, err := time.ParseDuration(*raw.CleanAfter)
		if err != nil {
			return Config{}, errors.Wrap(err, ErrCodeInvalidConfig, "invalid cleanAfter").
				WithContext("cleanAfter", *raw.CleanAfter)
		}
		cfg.CleanAfter = d
	}
	if raw.CleanInterval != nil {
		d, err := time.ParseDuration(*raw.CleanInterval)
		if err != nil {
			return Config{}, errors.Wrap(err, ErrCodeInvalidConfig, "invalid cleanInterval").
				WithContext("cleanInterval", *raw.CleanInterval)
		}
		cfg.CleanInterval = d
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent and
// that its regular expressions compile, returning the compiled filters for
// reuse by the caller.
func (c Config) Validate() (preloadFilter, cleanIgnore *regexp.Regexp, err error) {
	if c.SourceRoot == "" {
		return nil, nil, errors.New(ErrCodeInvalidConfig, "sourceRoot is required")
	}
	if c.CacheRoot == "" {
		return nil, nil, errors.New(ErrCodeInvalidConfig, "cacheRoot is required")
	}
	if c.PreloadSiblings < 0 {
		return nil, nil, errors.New(ErrCodeInvalidConfig, "preloadSiblings must be non-negative")
	}
	if c.PreloadRead < 0 || c.PreloadRead > 100 {
		return nil, nil, errors.New(ErrCodeInvalidConfig, "preloadRead must be in [0, 100]")
	}
	if c.MRUSize <= 0 {
		return nil, nil, errors.New(ErrCodeInvalidConfig, "mruSize must be positive")
	}

	preloadFilter, err = regexp.Compile(c.PreloadFilter)
	if err != nil {
		return nil, nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid preloadFilter").
			WithContext("preloadFilter", c.PreloadFilter)
	}
	cleanIgnore, err = regexp.Compile(c.CleanIgnore)
	if err != nil {
		return nil, nil, errors.Wrap(err, ErrCodeInvalidConfig, "invalid cleanIgnore").
			WithContext("cleanIgnore", c.CleanIgnore)
	}
	return preloadFilter, cleanIgnore, nil
}
