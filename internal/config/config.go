package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eargollo/sumcheck/internal/digest"
	"github.com/eargollo/sumcheck/internal/filter"
	"github.com/eargollo/sumcheck/internal/logging"
	"github.com/eargollo/sumcheck/internal/scan"
)

// Config holds all configuration loaded from sumcheck.yaml.
type Config struct {
	Log      logging.Config `yaml:"log"               json:"-"`
	DBPath   string         `yaml:"db_path"           json:"-"`
	HTTPAddr string         `yaml:"http_addr"         json:"-"`

	Algorithm        string        `yaml:"algorithm"         json:"algorithm"`
	IOMode           string        `yaml:"io_mode"           json:"io_mode"`
	QueueCapacity    int           `yaml:"queue_capacity"    json:"queue_capacity"`
	LargeFileMB      int           `yaml:"large_file_mb"     json:"large_file_mb"`
	BatchSize        int           `yaml:"batch_size"        json:"batch_size"`
	BatchInterval    time.Duration `yaml:"batch_interval"    json:"batch_interval"`
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`
	Recursive        *bool         `yaml:"recursive"         json:"recursive"`
	Include          string        `yaml:"include"           json:"include"`
	Exclude          string        `yaml:"exclude"           json:"exclude"`
	Mmap             *bool         `yaml:"mmap"              json:"mmap"`

	Schedule      string   `yaml:"schedule"       json:"schedule"`
	ChecksumFiles []string `yaml:"checksum_files" json:"checksum_files"`
	InboxDir      string   `yaml:"inbox_dir"      json:"inbox_dir"`
}

func boolPtr(b bool) *bool { return &b }

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.DBPath == "" {
		c.DBPath = "sumcheck.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.Algorithm == "" {
		c.Algorithm = string(digest.SHA256)
	}
	if c.IOMode == "" {
		c.IOMode = "auto"
	}
	d := scan.DefaultConfig()
	if c.QueueCapacity == 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.LargeFileMB == 0 {
		c.LargeFileMB = int(d.LargeFileBytes >> 20)
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchInterval == 0 {
		c.BatchInterval = d.BatchInterval
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = d.ProgressInterval
	}
	if c.Recursive == nil {
		c.Recursive = boolPtr(true)
	}
	if c.Mmap == nil {
		c.Mmap = boolPtr(d.Mmap)
	}
	if c.Schedule == "" {
		c.Schedule = "0 2 * * 0"
	}
}

// Load reads and parses the YAML config file at path, then applies
// SUMCHECK_* environment overrides. If the file does not exist, Load starts
// from defaults so the CLI works without a config file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.loadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

func (c *Config) loadFromEnv() error {
	str := map[string]*string{
		"SUMCHECK_DB_PATH":    &c.DBPath,
		"SUMCHECK_HTTP_ADDR":  &c.HTTPAddr,
		"SUMCHECK_LOG_LEVEL":  &c.Log.Level,
		"SUMCHECK_LOG_FORMAT": &c.Log.Format,
		"SUMCHECK_LOG_FILE":   &c.Log.File,
		"SUMCHECK_ALGORITHM":  &c.Algorithm,
		"SUMCHECK_IO_MODE":    &c.IOMode,
		"SUMCHECK_INCLUDE":    &c.Include,
		"SUMCHECK_EXCLUDE":    &c.Exclude,
		"SUMCHECK_SCHEDULE":   &c.Schedule,
		"SUMCHECK_INBOX_DIR":  &c.InboxDir,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("SUMCHECK_QUEUE_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SUMCHECK_QUEUE_CAPACITY: %w", err)
		}
		c.QueueCapacity = n
	}
	if v := os.Getenv("SUMCHECK_MMAP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SUMCHECK_MMAP: %w", err)
		}
		c.Mmap = boolPtr(b)
	}
	return nil
}

// Validate checks the enumerated and numeric fields.
func (c *Config) Validate() error {
	if _, err := digest.Parse(c.Algorithm); err != nil {
		return err
	}
	if _, err := scan.ParseMode(c.IOMode); err != nil {
		return err
	}
	if c.QueueCapacity < 1 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.LargeFileMB < 1 {
		return fmt.Errorf("large_file_mb must be positive, got %d", c.LargeFileMB)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// ScanConfig converts the tuning fields into the engine's configuration.
func (c *Config) ScanConfig() scan.Config {
	sc := scan.DefaultConfig()
	sc.QueueCapacity = c.QueueCapacity
	sc.LargeFileBytes = int64(c.LargeFileMB) << 20
	sc.BatchSize = c.BatchSize
	sc.BatchInterval = c.BatchInterval
	sc.ProgressInterval = c.ProgressInterval
	if c.Recursive != nil {
		sc.Recursive = *c.Recursive
	}
	if c.Mmap != nil {
		sc.Mmap = *c.Mmap
	}
	sc.Filter = filter.New(c.Include, c.Exclude)
	return sc
}
