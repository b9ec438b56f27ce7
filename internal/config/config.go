package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "FOREMAN_CONFIG"

// Config holds application settings (in-memory representation).
// Defaults come from Default(); a YAML file overlay is optional.
type Config struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"dataDir"`

	// Build-plan defaults.
	FacilityTaxRate float64 `yaml:"facilityTaxRate"` // fraction, default 0.0025
	MaxTimeSeconds  int64   `yaml:"maxTimeSeconds"`  // per-job time ceiling, default 3 days

	// Job detection.
	ProjectTagRegex    string        `yaml:"projectTagRegex"`
	MatcherTickTimeout time.Duration `yaml:"matcherTickTimeout"`
	MatcherInterval    time.Duration `yaml:"matcherInterval"`
	MatcherSlots       int           `yaml:"matcherSlots"`

	// User-declared facilities and routing rules.
	Structures        []StructureConfig        `yaml:"structures"`
	StructureMappings []StructureMappingConfig `yaml:"structureMappings"`
	Blacklist         []int32                  `yaml:"blacklist"`
	MaxRuns           map[int32]int32          `yaml:"maxRuns"`
}

// StructureConfig declares one candidate manufacturing/reaction facility.
type StructureConfig struct {
	ID         int64   `yaml:"id"`
	Name       string  `yaml:"name"`
	SystemID   int32   `yaml:"systemId"`
	Type       string  `yaml:"type"`     // raitaru | azbel | sotiyo | athanor | tatara | npc
	Security   string  `yaml:"security"` // highsec | lowsec | nullsec
	RigTypeIDs []int32 `yaml:"rigs"`
	TaxRate    float64 `yaml:"taxRate"` // 0 = use FacilityTaxRate
}

// StructureMappingConfig routes item categories/groups to a structure.
// Rules are evaluated in declaration order; the first match wins.
type StructureMappingConfig struct {
	StructureID int64   `yaml:"structureId"`
	CategoryIDs []int32 `yaml:"categoryIds"`
	GroupIDs    []int32 `yaml:"groupIds"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Port:               13371,
		DataDir:            "data",
		FacilityTaxRate:    0.0025,
		MaxTimeSeconds:     259200, // 3 days
		ProjectTagRegex:    `\[\[project=([0-9a-f-]{36})\]\]`,
		MatcherTickTimeout: 15 * time.Minute,
		MatcherInterval:    5 * time.Minute,
		MatcherSlots:       5,
	}
}

// Load returns the default config overlaid with the YAML file at path.
// An empty path falls back to $FOREMAN_CONFIG; a missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	d := Default()
	if c.Port <= 0 {
		c.Port = d.Port
	}
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.FacilityTaxRate < 0 {
		c.FacilityTaxRate = d.FacilityTaxRate
	}
	if c.MaxTimeSeconds <= 0 {
		c.MaxTimeSeconds = d.MaxTimeSeconds
	}
	if c.ProjectTagRegex == "" {
		c.ProjectTagRegex = d.ProjectTagRegex
	}
	if c.MatcherTickTimeout <= 0 {
		c.MatcherTickTimeout = d.MatcherTickTimeout
	}
	if c.MatcherInterval <= 0 {
		c.MatcherInterval = d.MatcherInterval
	}
	if c.MatcherSlots <= 0 {
		c.MatcherSlots = d.MatcherSlots
	}
}
