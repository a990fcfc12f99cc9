// Package config gathers the server settings from defaults, PHOGO_*
// environment variables and command line flags, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "PHOGO_"

type Config struct {
	Port         int
	DatabasePath string
	PrinterName  string
	// NoPrinter runs without Bluetooth; connecting always fails
	NoPrinter      bool
	HeadAxisPx     int
	MinFeedPx      int
	MaxFeedPx      int
	Debounce       time.Duration
	ConnectTimeout time.Duration
	FontSize       int
	LogLevel       string
}

func Default() Config {
	return Config{
		Port:           8080,
		DatabasePath:   "app.db",
		PrinterName:    "T02",
		HeadAxisPx:     48 * 8,
		MinFeedPx:      16,
		MaxFeedPx:      8192,
		Debounce:       300 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
		FontSize:       24,
		LogLevel:       "info",
	}
}

// Load builds the configuration for the given command line arguments,
// excluding the program name
func Load(args []string) (Config, error) {
	return load(args, os.LookupEnv)
}

func load(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(lookupEnv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("phogobanner", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port to listen on")
	fs.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "sqlite database path, :memory: for a throwaway one")
	fs.StringVar(&cfg.PrinterName, "printer", cfg.PrinterName, "Bluetooth name the printer advertises")
	fs.BoolVar(&cfg.NoPrinter, "no-printer", cfg.NoPrinter, "run without a Bluetooth adapter")
	fs.IntVar(&cfg.HeadAxisPx, "head-px", cfg.HeadAxisPx, "print head width in pixels")
	fs.IntVar(&cfg.MinFeedPx, "min-feed-px", cfg.MinFeedPx, "shortest banner in pixels")
	fs.IntVar(&cfg.MaxFeedPx, "max-feed-px", cfg.MaxFeedPx, "longest banner in pixels, longer content is truncated")
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "quiet period after an edit before rendering")
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "how long a printer connection attempt may take")
	fs.IntVar(&cfg.FontSize, "font-size", cfg.FontSize, "default font size in pixels")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("Invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookupEnv(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(name string, dst *int) {
		var raw string
		str(name, &raw)
		if raw == "" {
			return
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = v
	}
	duration := func(name string, dst *time.Duration) {
		var raw string
		str(name, &raw)
		if raw == "" {
			return
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = v
	}
	boolean := func(name string, dst *bool) {
		var raw string
		str(name, &raw)
		if raw == "" {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = v
	}

	integer("PORT", &c.Port)
	str("DB", &c.DatabasePath)
	str("PRINTER", &c.PrinterName)
	boolean("NO_PRINTER", &c.NoPrinter)
	integer("HEAD_PX", &c.HeadAxisPx)
	integer("MIN_FEED_PX", &c.MinFeedPx)
	integer("MAX_FEED_PX", &c.MaxFeedPx)
	duration("DEBOUNCE", &c.Debounce)
	duration("CONNECT_TIMEOUT", &c.ConnectTimeout)
	integer("FONT_SIZE", &c.FontSize)
	str("LOG_LEVEL", &c.LogLevel)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("Couldn't read environment:\n%w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, errors.New("database path is empty"))
	}
	if !c.NoPrinter && strings.TrimSpace(c.PrinterName) == "" {
		errs = append(errs, errors.New("printer name is empty"))
	}
	if c.HeadAxisPx <= 0 || c.HeadAxisPx%8 != 0 {
		errs = append(errs, fmt.Errorf("head width %d must be a positive multiple of 8", c.HeadAxisPx))
	}
	if c.MinFeedPx < 1 {
		errs = append(errs, fmt.Errorf("minimum feed %d must be at least 1", c.MinFeedPx))
	}
	if c.MaxFeedPx < c.MinFeedPx {
		errs = append(errs, fmt.Errorf("maximum feed %d is below the minimum %d", c.MaxFeedPx, c.MinFeedPx))
	}
	if c.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce %v must be positive", c.Debounce))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout %v must be positive", c.ConnectTimeout))
	}
	if c.FontSize <= 0 {
		errs = append(errs, fmt.Errorf("font size %d must be positive", c.FontSize))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Addr is the listen address for the HTTP server
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
