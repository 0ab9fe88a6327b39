package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrBadConfig indicates an unreadable or invalid config file.
var ErrBadConfig = errors.New("config: bad config file")

// File is the on-disk YAML configuration.
type File struct {
	Engine    EngineSection    `yaml:"engine"`
	Storage   StorageSection   `yaml:"storage"`
	AccessKey AccessKeySection `yaml:"access_key"`
	Log       LogSection       `yaml:"log"`
	Metrics   MetricsSection   `yaml:"metrics"`
	Status    StatusSection    `yaml:"status"`
}

// EngineSection configures the native engine helper.
type EngineSection struct {
	// URL is the websocket endpoint of the helper (ws:// or wss://).
	URL string `yaml:"url"`

	// Timeout bounds each engine call. Zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// StorageSection configures session persistence.
type StorageSection struct {
	// Path is the SQLite database path. Empty means in-memory storage.
	Path string `yaml:"path"`
}

// AccessKeySection tells where to get the access key from. Key and URL are
// mutually exclusive.
type AccessKeySection struct {
	// Key is a literal ss:// access key.
	Key string `yaml:"key"`

	// URL is the base URL of the account API serving the key.
	URL string `yaml:"url"`

	// Token is the bearer token for URL.
	Token string `yaml:"token"`
}

// LogSection configures logging.
type LogSection struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// MetricsSection configures the prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `yaml:"addr"`
}

// StatusSection configures the status normalization and the ticker.
type StatusSection struct {
	ConnectedCode *int          `yaml:"connected_code"`
	TickInterval  time.Duration `yaml:"tick_interval"`
}

// ReadFile reads and validates the YAML file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err.Error())
	}
	return Parse(data)
}

// Parse parses and validates a YAML document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err.Error())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the file for consistency.
func (f *File) Validate() error {
	if f.Engine.URL != "" {
		u, err := url.Parse(f.Engine.URL)
		if err != nil {
			return fmt.Errorf("%w: engine.url: %s", ErrBadConfig, err.Error())
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%w: engine.url must use ws or wss", ErrBadConfig)
		}
	}
	if f.Engine.Timeout < 0 {
		return fmt.Errorf("%w: engine.timeout must not be negative", ErrBadConfig)
	}
	if f.AccessKey.Key != "" && f.AccessKey.URL != "" {
		return fmt.Errorf("%w: access_key.key and access_key.url are mutually exclusive", ErrBadConfig)
	}
	switch f.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: invalid log level %q", ErrBadConfig, f.Log.Level)
	}
	if f.Status.ConnectedCode != nil && *f.Status.ConnectedCode < 0 {
		return fmt.Errorf("%w: status.connected_code must not be negative", ErrBadConfig)
	}
	if f.Status.TickInterval < 0 {
		return fmt.Errorf("%w: status.tick_interval must not be negative", ErrBadConfig)
	}
	return nil
}
