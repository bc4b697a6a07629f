// Package config loads the explorer settings from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Kighlander1975/dbe-exercise-file-upload/logging"
)

type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Browse  BrowseConfig   `yaml:"browse"`
	Stream  StreamConfig   `yaml:"stream"`
	Upload  UploadConfig   `yaml:"upload"`
	Logging logging.Config `yaml:"logging"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	UploadDir string `yaml:"upload_dir"`
	DBPath    string `yaml:"db_path"`
	WriteMode bool   `yaml:"write"`
}

type BrowseConfig struct {
	TreeRoot   string   `yaml:"tree_root"`
	MaxDepth   int      `yaml:"max_depth"`
	ShowHidden []string `yaml:"show_hidden"`
}

type StreamConfig struct {
	ChunkSize       int  `yaml:"chunk_size"`
	CacheMaxAge     int  `yaml:"cache_max_age"` // seconds
	ForceAttachment bool `yaml:"force_attachment"`
}

type UploadConfig struct {
	MaxBytes       int64    `yaml:"max_bytes"`
	AllowedExt     []string `yaml:"allowed_ext"`
	RatePerMinute  int      `yaml:"rate_per_minute"`
	Burst          int      `yaml:"burst"`
	TusTempDir     string   `yaml:"tus_temp_dir"`
	RecentListSize int      `yaml:"recent"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	cfg := newConfig()
	if err := validateConfig(cfg); err != nil {
		// zero values never fail validation
		panic(err)
	}
	return cfg
}

// LoadConfig loads the configuration from the specified YAML file
func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return cfg, nil
}

// DBFile is the upload record database, inside the upload dir unless set.
func (c *Config) DBFile() string {
	if c.Server.DBPath != "" {
		return c.Server.DBPath
	}
	return filepath.Join(c.Server.UploadDir, ".uploads.db")
}

// TusDir holds partial resumable uploads, inside the upload dir unless set.
func (c *Config) TusDir() string {
	if c.Upload.TusTempDir != "" {
		return c.Upload.TusTempDir
	}
	return filepath.Join(c.Server.UploadDir, ".tus")
}

// Prepare creates the directories the server writes to.
func (c *Config) Prepare() error {
	dirs := []string{c.Server.UploadDir, c.TusDir(), filepath.Dir(c.DBFile())}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// newConfig holds the defaults a zero value cannot express; yaml keeps them
// for keys the file leaves out.
func newConfig() *Config {
	return &Config{Server: ServerConfig{WriteMode: true}}
}

func validateConfig(c *Config) error {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "./uploads"
	}

	if c.Browse.TreeRoot == "" {
		c.Browse.TreeRoot = string(filepath.Separator)
	}
	if c.Browse.MaxDepth == 0 {
		c.Browse.MaxDepth = 10
	}
	if c.Browse.MaxDepth < 0 {
		return fmt.Errorf("max_depth must be positive, got %d", c.Browse.MaxDepth)
	}

	if c.Stream.ChunkSize == 0 {
		c.Stream.ChunkSize = 64 * 1024
	}
	if c.Stream.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.Stream.ChunkSize)
	}
	if c.Stream.CacheMaxAge == 0 {
		c.Stream.CacheMaxAge = 86400
	}

	if c.Upload.MaxBytes == 0 {
		c.Upload.MaxBytes = 20 * 1024 * 1024
	}
	if len(c.Upload.AllowedExt) == 0 {
		c.Upload.AllowedExt = []string{
			"jpg", "jpeg", "png", "gif", "webp", "pdf", "txt", "md",
			"mp3", "mp4", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
		}
	}
	if c.Upload.RatePerMinute == 0 {
		c.Upload.RatePerMinute = 30
	}
	if c.Upload.Burst == 0 {
		c.Upload.Burst = 10
	}
	if c.Upload.RecentListSize == 0 {
		c.Upload.RecentListSize = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	return nil
}
