// Package config loads the monitor configuration from a YAML file. Every
// field has a usable default so a fresh checkout runs with an empty config.
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	yaml "gopkg.in/yaml.v2"

	"go.pixelhawk.org/hawk/go/skerr"
	"go.pixelhawk.org/hawk/go/util"
)

// Config is the top level configuration for the monitor.
type Config struct {
	// DataDir is the root under which all state directories live.
	DataDir string `yaml:"data_dir"`

	// TilesDir holds the cached tile PNGs. Defaults to <DataDir>/tiles.
	TilesDir string `yaml:"tiles_dir"`

	// ProjectsDir is scanned for per-owner project directories. Defaults to
	// <DataDir>/projects.
	ProjectsDir string `yaml:"projects_dir"`

	// SnapshotsDir holds the last observed canvas state per project.
	// Defaults to <DataDir>/snapshots.
	SnapshotsDir string `yaml:"snapshots_dir"`

	// MetadataDir holds the per-project YAML metadata sidecars. Defaults to
	// <DataDir>/metadata.
	MetadataDir string `yaml:"metadata_dir"`

	// RejectedDir is where unusable project files get moved. Defaults to
	// <DataDir>/rejected.
	RejectedDir string `yaml:"rejected_dir"`

	// Database is the SQLite database path. Defaults to <DataDir>/hawk.db.
	Database string `yaml:"database"`

	// TileURLTemplate is the tile endpoint, with two %d verbs for the tile
	// x and y coordinates.
	TileURLTemplate string `yaml:"tile_url_template"`

	// FetchTimeoutSec bounds a single tile request.
	FetchTimeoutSec int `yaml:"fetch_timeout_sec"`

	// RequestsPerMinute throttles tile fetches across all queues.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// FailureBackoffSec is how long a tile that failed to fetch is kept out
	// of the request stream.
	FailureBackoffSec int `yaml:"failure_backoff_sec"`

	// MinHottestQueueSize bounds how small the hottest temperature queue may
	// get when sizing queues.
	MinHottestQueueSize int `yaml:"min_hottest_queue_size"`

	// PollIntervalSec is the pause between scheduler picks.
	PollIntervalSec int `yaml:"poll_interval_sec"`

	// SyncIntervalSec is the pause between full project directory rescans.
	// File watch events trigger rescans sooner.
	SyncIntervalSec int `yaml:"sync_interval_sec"`
}

// Defaults for every field, applied by Load before unmarshalling.
const (
	DefaultDataDir             = "/var/lib/hawk"
	DefaultTileURLTemplate     = "https://backend.wplace.live/files/s0/tiles/%d/%d.png"
	DefaultFetchTimeoutSec     = 5
	DefaultRequestsPerMinute   = 60
	DefaultFailureBackoffSec   = 300
	DefaultMinHottestQueueSize = 5
	DefaultPollIntervalSec     = 1
	DefaultSyncIntervalSec     = 60
)

// New returns a Config with every field at its default.
func New() *Config {
	return &Config{
		DataDir:             DefaultDataDir,
		TileURLTemplate:     DefaultTileURLTemplate,
		FetchTimeoutSec:     DefaultFetchTimeoutSec,
		RequestsPerMinute:   DefaultRequestsPerMinute,
		FailureBackoffSec:   DefaultFailureBackoffSec,
		MinHottestQueueSize: DefaultMinHottestQueueSize,
		PollIntervalSec:     DefaultPollIntervalSec,
		SyncIntervalSec:     DefaultSyncIntervalSec,
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults are returned.
func Load(path string) (*Config, error) {
	c := New()
	if path != "" {
		err := util.WithReadFile(path, func(f io.Reader) error {
			b, err := io.ReadAll(f)
			if err != nil {
				return err
			}
			return yaml.Unmarshal(b, c)
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, skerr.Wrapf(err, "loading config from %s", path)
		}
	}
	c.fillDerived()
	if err := c.Validate(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return c, nil
}

// fillDerived computes the directory and database paths left empty in the
// file from DataDir.
func (c *Config) fillDerived() {
	if c.TilesDir == "" {
		c.TilesDir = filepath.Join(c.DataDir, "tiles")
	}
	if c.ProjectsDir == "" {
		c.ProjectsDir = filepath.Join(c.DataDir, "projects")
	}
	if c.SnapshotsDir == "" {
		c.SnapshotsDir = filepath.Join(c.DataDir, "snapshots")
	}
	if c.MetadataDir == "" {
		c.MetadataDir = filepath.Join(c.DataDir, "metadata")
	}
	if c.RejectedDir == "" {
		c.RejectedDir = filepath.Join(c.DataDir, "rejected")
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "hawk.db")
	}
}

// Validate rejects configurations the monitor cannot run with.
func (c *Config) Validate() error {
	if c.TileURLTemplate == "" {
		return skerr.Fmt("tile_url_template must not be empty")
	}
	if c.FetchTimeoutSec <= 0 {
		return skerr.Fmt("fetch_timeout_sec must be positive, got %d", c.FetchTimeoutSec)
	}
	if c.RequestsPerMinute <= 0 {
		return skerr.Fmt("requests_per_minute must be positive, got %d", c.RequestsPerMinute)
	}
	if c.MinHottestQueueSize <= 0 {
		return skerr.Fmt("min_hottest_queue_size must be positive, got %d", c.MinHottestQueueSize)
	}
	return nil
}

// EnsureDirs creates every state directory the monitor writes to.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.TilesDir, c.ProjectsDir, c.SnapshotsDir, c.MetadataDir, c.RejectedDir, filepath.Dir(c.Database)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return skerr.Wrapf(err, "creating %s", dir)
		}
	}
	return nil
}

// FetchTimeout returns the tile request timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// FailureBackoff returns the fetch failure backoff as a duration.
func (c *Config) FailureBackoff() time.Duration {
	return time.Duration(c.FailureBackoffSec) * time.Second
}

// PollInterval returns the scheduler pause as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// SyncInterval returns the project rescan pause as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}
