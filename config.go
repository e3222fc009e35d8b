package rmm

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
)

// Config is the monitor configuration.
type Config struct {
	// CPUs is the number of cores running the monitor.
	CPUs   int          `toml:"cpus"`
	Memory MemoryConfig `toml:"memory"`
	Realm  RealmConfig  `toml:"realm"`
	Log    LogConfig    `toml:"log"`
}

// MemoryConfig describes the physical range tracked by the granule table.
type MemoryConfig struct {
	Base     uint64 `toml:"base"`
	Granules int    `toml:"granules"`
}

// RealmConfig bounds realm allocation.
type RealmConfig struct {
	MaxRealms uint64 `toml:"max_realms"`
}

// LogConfig selects the log level and format ("text" or "json").
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		CPUs: 4,
		Memory: MemoryConfig{
			Base:     0x8800_0000,
			Granules: 1024,
		},
		Realm: RealmConfig{
			MaxRealms: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig decodes the TOML file at path over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return c, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the configuration for values the monitor cannot boot with.
func (c Config) Validate() error {
	if c.CPUs <= 0 {
		return fmt.Errorf("cpus must be positive, got %d", c.CPUs)
	}
	if c.Memory.Base&granuleMask != 0 {
		return fmt.Errorf("memory.base 0x%x not aligned to %d bytes", c.Memory.Base, GranuleSize)
	}
	if c.Memory.Granules <= 0 {
		return fmt.Errorf("memory.granules must be positive, got %d", c.Memory.Granules)
	}
	if c.Realm.MaxRealms == 0 || c.Realm.MaxRealms > MaxRealmID {
		return fmt.Errorf("realm.max_realms must be in [1, %d], got %d", uint64(MaxRealmID), c.Realm.MaxRealms)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}
