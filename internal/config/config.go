package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
)

// Config holds all configuration for an environment.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Storage StorageConfig `yaml:"storage"`
	Journal JournalConfig `yaml:"journal"`
}

// StorageConfig covers the page file layout.
type StorageConfig struct {
	// Path of the database file. The two journal files are derived
	// from it as <path>.jrn0 and <path>.jrn1.
	Path          string `yaml:"path"`
	PageSizeBytes uint32 `yaml:"page_size"`
}

// JournalConfig controls the write-ahead journal.
type JournalConfig struct {
	// SwitchThreshold is the number of transactions (open plus
	// closed) a journal file may accumulate before the pair rotates.
	SwitchThreshold uint32 `yaml:"switch_threshold"`
	// Compressor selects per-payload compression: "", "zstd",
	// "zlib" or "snappy".
	Compressor string `yaml:"compressor"`
	// EnableFsync makes commits and changesets fsync the journal
	// file. Without it, durability ends at the OS page cache.
	EnableFsync bool `yaml:"enable_fsync"`
	// LogDir overrides the directory holding the journal file pair.
	// Empty means next to the database file.
	LogDir string `yaml:"log_dir"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO", JSON: false},
		Storage: StorageConfig{
			Path:          "./data/jrnldb.db",
			PageSizeBytes: 4096,
		},
		Journal: JournalConfig{
			SwitchThreshold: 32,
			Compressor:      "",
			EnableFsync:     false,
			LogDir:          "",
		},
	}
}

// Load reads a YAML config from path. A missing file yields Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return Default(), nil
		}
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetupLogger configures the global slog.Logger (JSON or text).
func SetupLogger(cfg *Config) {
	level := slog.LevelInfo
	switch cfg.Logger.Level {
	case "DEBUG", "debug":
		level = slog.LevelDebug
	case "WARN", "warn":
		level = slog.LevelWarn
	case "ERROR", "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// JournalDir resolves the directory the journal file pair lives in.
func (c *Config) JournalDir() string {
	if c.Journal.LogDir != "" {
		return c.Journal.LogDir
	}
	return filepath.Dir(c.Storage.Path)
}

// JournalStem resolves the path stem the journal files derive from:
// <stem>.jrn0 and <stem>.jrn1.
func (c *Config) JournalStem() string {
	return filepath.Join(c.JournalDir(), filepath.Base(c.Storage.Path))
}
