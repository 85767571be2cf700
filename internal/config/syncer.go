package config

import (
	"fmt"
	"time"
)

// Recipe sources understood by the syncer.
const (
	SyncerSourceDir = "dir"
)

// SyncerConfig contains configuration for the recipe syncer loop.
type SyncerConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"true"`
	Interval time.Duration `envconfig:"INTERVAL" default:"6h" validate:"gt=0"`

	// Source selects the recipe source; RecipesPath is read by the dir source.
	Source      string `envconfig:"SOURCE" default:"dir" validate:"oneof=dir"`
	RecipesPath string `envconfig:"RECIPES_PATH" default:"recipes"`

	// SourceName tags enrollments created by this syncer; Finalize only
	// unenrolls enrollments from the same source.
	SourceName string `envconfig:"SOURCE_NAME" default:"rs-loader" validate:"required"`

	// RunTimeout bounds a single sync run.
	RunTimeout time.Duration `envconfig:"RUN_TIMEOUT" default:"30s" validate:"gt=0"`
}

// Validate performs validation on the SyncerConfig.
func (c *SyncerConfig) Validate() error {
	if c.Enabled && c.Source == SyncerSourceDir && c.RecipesPath == "" {
		return fmt.Errorf("syncer recipes path is required for the dir source")
	}
	return nil
}
