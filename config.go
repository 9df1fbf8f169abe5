package argus

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config configures an Argus node.
type Config struct {
	// Path is the data directory for the verifier's key-value store.
	Path string `yaml:"path"`
	// MinimumFreeGB is a free-space threshold checked before opening the
	// store.
	MinimumFreeGB int `yaml:"minimumFreeGB"`
	// Redundancy is the number of providers every item is placed on.
	Redundancy int `yaml:"redundancy"`
	// ChunkSize is the Merkle chunk size in bytes.
	ChunkSize int `yaml:"chunkSize"`
	// Quorum names the store quorum policy: all, majority, or
	// at-least-one. It must be set explicitly.
	Quorum string `yaml:"quorum"`
	// ProviderTimeoutSeconds bounds every provider round trip.
	ProviderTimeoutSeconds int `yaml:"providerTimeoutSeconds"`
	// GarbageCollectionMinutes is the badger value-log GC period.
	GarbageCollectionMinutes int `yaml:"garbageCollectionMinutes"`
	// Logger is optional; a default stderr logger is used when nil.
	Logger *logrus.Logger `yaml:"-"`
}

// LoadConfig reads a YAML config file and applies defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("argus: read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("argus: parse config: %w", err)
	}

	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Redundancy == 0 {
		c.Redundancy = 3
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1024
	}
	if c.ProviderTimeoutSeconds == 0 {
		c.ProviderTimeoutSeconds = 30
	}
	if c.GarbageCollectionMinutes == 0 {
		c.GarbageCollectionMinutes = 10
	}
}

func (c Config) providerTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c Config) gcInterval() time.Duration {
	return time.Duration(c.GarbageCollectionMinutes) * time.Minute
}
