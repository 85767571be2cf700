package config

import (
	"fmt"
	"strings"
	"time"
)

// Storage drivers for the enrollment database.
const (
	StorageDriverMemory   = "memory"
	StorageDriverBadger   = "badger"
	StorageDriverPostgres = "postgres"
)

// Preference store drivers.
const (
	PrefsDriverMemory = "memory"
	PrefsDriverRedis  = "redis"
)

// EngineConfig identifies the engine and the client it enrolls.
type EngineConfig struct {
	// ID is mixed into branch selection; engines with different IDs
	// choose branches independently.
	ID string `envconfig:"ID" default:"nornir" validate:"required"`

	// ClientID is the normandy_id randomization unit. Generated when empty.
	ClientID string `envconfig:"CLIENT_ID"`

	// GroupID is the group_id randomization unit.
	GroupID string `envconfig:"GROUP_ID"`

	// FeaturesPath points to the YAML feature manifest.
	FeaturesPath string `envconfig:"FEATURES_PATH" default:"features.yaml"`

	// StudiesEnabled mirrors the user's "allow studies" setting at startup.
	StudiesEnabled bool `envconfig:"STUDIES_ENABLED" default:"true"`

	// Attributes are extra client attributes exposed to targeting,
	// as comma separated key:value pairs (e.g. "channel:beta,locale:en-US").
	Attributes map[string]string `envconfig:"ATTRIBUTES"`
}

// Validate performs validation on the EngineConfig.
func (c *EngineConfig) Validate() error {
	if strings.TrimSpace(c.ID) != c.ID {
		return fmt.Errorf("engine id cannot contain surrounding whitespace")
	}
	return nil
}

// StorageConfig selects where enrollments are persisted.
type StorageConfig struct {
	Driver     string `envconfig:"DRIVER" default:"memory" validate:"oneof=memory badger postgres"`
	BadgerPath string `envconfig:"BADGER_PATH" default:"data/enrollments"`

	// BadgerInMemory keeps Badger entirely in RAM (tests, ephemeral nodes).
	BadgerInMemory bool `envconfig:"BADGER_IN_MEMORY" default:"false"`

	// BadgerGCInterval controls how often value log GC runs.
	BadgerGCInterval time.Duration `envconfig:"BADGER_GC_INTERVAL" default:"10m"`
}

// Validate performs validation on the StorageConfig.
func (c *StorageConfig) Validate() error {
	if c.Driver == StorageDriverBadger && !c.BadgerInMemory && c.BadgerPath == "" {
		return fmt.Errorf("badger path is required when the badger driver is selected")
	}
	if c.Driver == StorageDriverBadger && c.BadgerGCInterval <= 0 {
		return fmt.Errorf("badger gc interval must be positive")
	}
	return nil
}

// PrefsConfig selects the preference store.
type PrefsConfig struct {
	Driver string `envconfig:"DRIVER" default:"memory" validate:"oneof=memory redis"`

	// L1 cache in front of Redis.
	L1Capacity int           `envconfig:"L1_CAPACITY" default:"10000" validate:"min=1"`
	L1TTL      time.Duration `envconfig:"L1_TTL" default:"60s" validate:"gt=0"`

	// MetricsInterval controls how often L1 statistics are exported.
	MetricsInterval time.Duration `envconfig:"METRICS_INTERVAL" default:"15s" validate:"gt=0"`
}
