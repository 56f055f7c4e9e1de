package memlease

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/memlease/model/ram"
	"github.com/viant/memlease/policy"
	"github.com/viant/memlease/service/allocator"
	"github.com/viant/memlease/service/host/shell"
	"github.com/viant/memlease/service/messaging"
	"github.com/viant/memlease/service/messaging/memory"
	"github.com/viant/memlease/service/notify"
	"github.com/viant/memlease/service/processor"
	"github.com/viant/memlease/tracing"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the service configuration. The
// zero-value of every section inherits its package defaults.
type Config struct {
	Queue       memory.Config               `json:"queue" yaml:"queue"`
	Maintenance processor.MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
	Notify      notify.Config               `json:"notify" yaml:"notify"`
	Allocator   allocator.Config            `json:"allocator" yaml:"allocator"`
	Policy      policy.Config               `json:"policy" yaml:"policy"`
	Store       StoreConfig                 `json:"store" yaml:"store"`
	Events      EventsConfig                `json:"events" yaml:"events"`
	Audit       AuditConfig                 `json:"audit" yaml:"audit"`
	Admin       AdminConfig                 `json:"admin" yaml:"admin"`
	Tracing     tracing.Config              `json:"tracing" yaml:"tracing"`
	Log         LogConfig                   `json:"log" yaml:"log"`
	// Workers are registered on start, standing in for topology discovery.
	Workers []string    `json:"workers" yaml:"workers"`
	Hosts   HostsConfig `json:"hosts" yaml:"hosts"`
}

// StoreConfig selects where registries are persisted.
type StoreConfig struct {
	Vendor  messaging.Vendor `json:"vendor" yaml:"vendor"`
	BaseURL string           `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
}

// EventsConfig selects the lifecycle event bus vendor.
type EventsConfig struct {
	Vendor  messaging.Vendor `json:"vendor" yaml:"vendor"`
	BaseURL string           `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
}

// AuditConfig controls periodic snapshot export; an empty URL disables it.
type AuditConfig struct {
	URL      string        `json:"url,omitempty" yaml:"url,omitempty"`
	Interval time.Duration `json:"interval" yaml:"interval"`
}

type AdminConfig struct {
	Addr    string        `json:"addr" yaml:"addr"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

const (
	HostVendorMemory = "memory"
	HostVendorShell  = "shell"
)

// HostsConfig selects the host oracle. The memory vendor simulates hosts
// with the given total RAM.
type HostsConfig struct {
	Vendor    string             `json:"vendor" yaml:"vendor"`
	Simulated map[string]ram.Ram `json:"simulated,omitempty" yaml:"simulated,omitempty"`
	Shell     shell.Config       `json:"shell" yaml:"shell"`
}

// DefaultConfig returns a Config populated with package defaults. Callers may
// modify the returned struct before passing it to WithConfig.
func DefaultConfig() *Config {
	return &Config{
		Queue:       memory.DefaultConfig(),
		Maintenance: processor.DefaultConfig().Maintenance,
		Notify:      notify.DefaultConfig(),
		Allocator:   allocator.DefaultConfig(),
		Store:       StoreConfig{Vendor: messaging.VendorMemory},
		Events:      EventsConfig{Vendor: messaging.VendorMemory},
		Audit:       AuditConfig{Interval: time.Minute},
		Admin:       AdminConfig{Addr: ":8080", Timeout: 5 * time.Second},
		Log:         LogConfig{Level: "info", Format: "text"},
		Hosts:       HostsConfig{Vendor: HostVendorMemory},
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, section := range []struct {
		name    string
		vendor  messaging.Vendor
		baseURL string
	}{{"store", c.Store.Vendor, c.Store.BaseURL}, {"events", c.Events.Vendor, c.Events.BaseURL}} {
		switch section.vendor {
		case messaging.VendorMemory:
		case messaging.VendorFs:
			if section.baseURL == "" {
				errs = append(errs, fmt.Errorf("%s.baseURL is required for the fs vendor", section.name))
			}
		default:
			errs = append(errs, fmt.Errorf("%s.vendor %q is not supported", section.name, section.vendor))
		}
	}
	if c.Queue.QueueBuffer <= 0 {
		errs = append(errs, fmt.Errorf("queue.buffer must be > 0"))
	}
	if c.Notify.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("notify.maxAttempts must be > 0"))
	}
	if c.Admin.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("admin.timeout must be > 0"))
	}
	if c.Audit.URL != "" && c.Audit.Interval <= 0 {
		errs = append(errs, fmt.Errorf("audit.interval must be > 0 when audit.url is set"))
	}
	switch c.Hosts.Vendor {
	case HostVendorMemory:
		for _, hostname := range c.Workers {
			if _, ok := c.Hosts.Simulated[hostname]; !ok {
				errs = append(errs, fmt.Errorf("worker %s has no simulated host", hostname))
			}
		}
	case HostVendorShell:
	default:
		errs = append(errs, fmt.Errorf("hosts.vendor %q is not supported", c.Hosts.Vendor))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not supported", c.Log.Format))
	}
	return errors.Join(errs...)
}

// LoadConfig reads YAML config from any afs-supported URL on top of
// DefaultConfig.
func LoadConfig(ctx context.Context, URL string, options ...storage.Option) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", URL, err)
	}
	ret := DefaultConfig()
	if err = yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", URL, err)
	}
	return ret, nil
}

// NewLogger builds a text or JSON handler at the configured level.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Level)
	options := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, options))
	}
	return slog.New(slog.NewTextHandler(w, options))
}

func parseLevel(level string) (slog.Level, error) {
	var ret slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := ret.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q is not supported", level)
	}
	return ret, nil
}
