package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Backup holds clone-side defaults.
	Backup Backup `yaml:"backup"`
	// Bucket holds default remote image source settings for flash.
	Bucket Bucket `yaml:"bucket"`
	// HistoryDB is the path to the run-history database.
	HistoryDB string `yaml:"history_db,omitempty"`
}

type Backup struct {
	// OutputDir is where clone writes images and snapshots.
	OutputDir string `yaml:"output_dir,omitempty"`
	// CacheDir is where flash caches downloaded archives and extracts them.
	CacheDir string `yaml:"cache_dir,omitempty"`
	// ImagePrefix names the artifact files (<prefix>_p<N>.img etc).
	ImagePrefix string `yaml:"image_prefix,omitempty"`
}

type Bucket struct {
	URL    string `yaml:"url,omitempty"`
	Image  string `yaml:"image,omitempty"`
	Region string `yaml:"region,omitempty"`
}

// defaultConfig provides baseline settings matching the stock Jetson
// provisioning layout.
var defaultConfig = Config{
	Backup: Backup{
		OutputDir:   "/mnt/backup",
		CacheDir:    "/var/cache/skycore",
		ImagePrefix: "jetson_nvme",
	},
	Bucket: Bucket{
		Region: "us-east-1",
	},
	HistoryDB: "/var/lib/skycore/history.db",
}

func Load(path string) (*Config, error) {
	if path == "" {
		// Try default locations
		candidates := []string{
			"/etc/skycore/config.yaml",
			filepath.Join(os.Getenv("HOME"), ".config/skycore/config.yaml"),
			"config.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	cfg := defaultConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Apply defaults for fields the file left empty
	if cfg.Backup.OutputDir == "" {
		cfg.Backup.OutputDir = defaultConfig.Backup.OutputDir
	}
	if cfg.Backup.CacheDir == "" {
		cfg.Backup.CacheDir = defaultConfig.Backup.CacheDir
	}
	if cfg.Backup.ImagePrefix == "" {
		cfg.Backup.ImagePrefix = defaultConfig.Backup.ImagePrefix
	}
	if cfg.Bucket.Region == "" {
		cfg.Bucket.Region = defaultConfig.Bucket.Region
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = defaultConfig.HistoryDB
	}

	return &cfg, nil
}
