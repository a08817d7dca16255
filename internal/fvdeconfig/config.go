// Package fvdeconfig loads tool defaults with Viper, the same way the
// teacher's internal/device.LoadDMGConfig does: a named config file
// searched across a handful of conventional paths, environment-variable
// overrides under a fixed prefix, and hard-coded defaults when neither is
// present.
package fvdeconfig

import (
	"errors"

	"github.com/spf13/viper"

	"github.com/systemication/go-fvde/internal/fvdeerrors"
)

// Config holds the tool defaults loaded by Load. The dmsetup command
// falls back to DefaultMapperName and the dump command to
// CompactByDefault; DefaultKeyringID, VerboseByDefault and
// AllocationMapCap are loaded but no subcommand reads them.
type Config struct {
	DefaultMapperName string `mapstructure:"default_mapper_name"`
	DefaultKeyringID  string `mapstructure:"default_keyring_id"`
	CompactByDefault  bool   `mapstructure:"compact_by_default"`
	VerboseByDefault  bool   `mapstructure:"verbose_by_default"`
	AllocationMapCap  int    `mapstructure:"allocation_map_cap"`
}

// Load reads "fvde-config.{yaml,json,toml,...}" from the current
// directory, ./config, $HOME/.fvde, or /etc/fvde (in that order),
// falling back to built-in defaults for anything not set, and allows
// override via FVDE_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("fvde-config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.fvde")
	v.AddConfigPath("/etc/fvde")

	v.SetDefault("default_mapper_name", "fv")
	v.SetDefault("default_keyring_id", "@s")
	v.SetDefault("compact_by_default", false)
	v.SetDefault("verbose_by_default", false)
	v.SetDefault("allocation_map_cap", 1000)

	v.SetEnvPrefix("FVDE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fvdeerrors.Wrap(fvdeerrors.IoRead, err, "reading config file")
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fvdeerrors.Wrap(fvdeerrors.InvalidArgument, err, "unmarshaling config")
	}
	return &config, nil
}
