// Package config loads the record builder configuration from a YAML file
// and RECORDBUILDER_ environment variables, in that order of precedence
// (environment wins). The resulting Config struct is handed explicitly to
// the components that need it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// StoreDSN names the session log database: a SQLite file path by
	// default, or a postgres:// URL.
	StoreDSN string `mapstructure:"store_dsn"`
	// RegistryPath is the instrument registry YAML file.
	RegistryPath string `mapstructure:"registry_path"`
	// SourceRoot is the directory the instrument data roots live under;
	// record output mirrors the layout beneath it.
	SourceRoot string `mapstructure:"source_root"`
	// OutputRoot is where record documents are written.
	OutputRoot string `mapstructure:"output_root"`
	// FileStrategy is "inclusive" or "exclusive" of files without a known
	// metadata extractor.
	FileStrategy string `mapstructure:"file_strategy"`
	// IgnorePatterns are glob patterns dropped from discovery on every
	// instrument, in addition to per-instrument patterns.
	IgnorePatterns []string `mapstructure:"ignore_patterns"`
	// HarvesterURL is the calendar harvesting service; empty disables
	// reservation matching in favor of the placeholder descriptor.
	HarvesterURL string `mapstructure:"harvester_url"`
	// UploadURL is the downstream document repository; empty disables
	// uploads.
	UploadURL string `mapstructure:"upload_url"`
	// MatchMargin widens the harvester query window around each session.
	MatchMargin time.Duration `mapstructure:"match_margin"`
	// HTTPTimeout bounds every harvester and upload request.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	Verbose     bool          `mapstructure:"verbose"`
}

func Default() Config {
	return Config{
		StoreDSN:     "nexuslims.db",
		RegistryPath: "instruments.yaml",
		SourceRoot:   ".",
		OutputRoot:   "records",
		FileStrategy: "inclusive",
		MatchMargin:  24 * time.Hour,
		HTTPTimeout:  30 * time.Second,
	}
}

// Load reads configuration from path, or from recordbuilder.yaml in the
// working directory and ~/.config/recordbuilder when path is empty. A
// missing default file is not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	v := viper.New()

	defaults := Default()
	v.SetDefault("store_dsn", defaults.StoreDSN)
	v.SetDefault("registry_path", defaults.RegistryPath)
	v.SetDefault("source_root", defaults.SourceRoot)
	v.SetDefault("output_root", defaults.OutputRoot)
	v.SetDefault("file_strategy", defaults.FileStrategy)
	v.SetDefault("ignore_patterns", defaults.IgnorePatterns)
	v.SetDefault("harvester_url", defaults.HarvesterURL)
	v.SetDefault("upload_url", defaults.UploadURL)
	v.SetDefault("match_margin", defaults.MatchMargin)
	v.SetDefault("http_timeout", defaults.HTTPTimeout)
	v.SetDefault("verbose", defaults.Verbose)

	v.SetEnvPrefix("RECORDBUILDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("recordbuilder")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "recordbuilder"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
