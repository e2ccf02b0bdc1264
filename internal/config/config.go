// Package config loads launchpad configuration: combination rules, the
// template override directory and the signing pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"

	"github.com/agentic-research/launchpad/internal/combine"
	"github.com/agentic-research/launchpad/internal/naming"
)

// Config is the top-level configuration.
type Config struct {
	// Templates is a directory whose files override the built-in templates.
	Templates   string       `hcl:"templates,optional" yaml:"templates"`
	Combination *Combination `hcl:"combination,block" yaml:"combination"`
	// Signing is nil when artifacts are served unsigned.
	Signing *Signing `hcl:"signing,block" yaml:"signing"`
}

// Combination holds rule descriptors by kind. Each descriptor is a
// comma-separated list of parent:relative location pairs.
type Combination struct {
	Owned     []string `hcl:"owned,optional" yaml:"owned"`
	Defaulted []string `hcl:"defaulted,optional" yaml:"defaulted"`
	Merged    []string `hcl:"merged,optional" yaml:"merged"`
}

// Signing configures the external signing command.
type Signing struct {
	Command      string   `hcl:"command" yaml:"command"`
	Args         []string `hcl:"args,optional" yaml:"args"`
	DefaultAlias string   `hcl:"default_alias,optional" yaml:"default_alias"`
	OutputDir    string   `hcl:"output_dir,optional" yaml:"output_dir"`
	// Index is the path of the persistent signing index; empty keeps the
	// cache in memory only.
	Index string `hcl:"index,optional" yaml:"index"`
}

// DefaultAlias is used when neither the unit nor the configuration names one.
const DefaultAlias = naming.DefaultAlias

// DefaultCombination returns the built-in rule descriptors for launch documents.
func DefaultCombination() *Combination {
	return &Combination{
		Owned: []string{
			"/jnlp:/@spec,/jnlp:/@codebase,/jnlp:/@href",
			"/jnlp:/security",
		},
		Defaulted: []string{
			"/jnlp/information:/title,/jnlp/information:/vendor,/jnlp/information:/homepage",
			"/jnlp/information:/description,/jnlp/information:/icon,/jnlp/information:/offline-allowed",
			"/jnlp/resources:/java",
		},
		Merged: []string{
			"/jnlp/resources:/jar,/jnlp/resources:/nativelib",
			"/jnlp/resources:/property,/jnlp/resources:/extension",
		},
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path. .hcl and .json files are decoded as HCL; .yaml and .yml
// as YAML. Relative paths inside the file resolve against its directory.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".hcl", ".json":
		if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Combination == nil {
		c.Combination = DefaultCombination()
	}
	if c.Signing != nil {
		if c.Signing.DefaultAlias == "" {
			c.Signing.DefaultAlias = DefaultAlias
		}
		if c.Signing.OutputDir == "" {
			c.Signing.OutputDir = naming.SignedDir
		}
	}
}

// applyEnvOverrides lets the environment pick the signing identity.
func (c *Config) applyEnvOverrides() {
	if c.Signing == nil {
		return
	}
	if v := os.Getenv("LAUNCHPAD_SIGNING_ALIAS"); v != "" {
		c.Signing.DefaultAlias = v
	}
	if v := os.Getenv("LAUNCHPAD_SIGNING_COMMAND"); v != "" {
		c.Signing.Command = v
	}
}

func (c *Config) resolvePaths(base string) {
	if c.Templates != "" && !filepath.IsAbs(c.Templates) {
		c.Templates = filepath.Join(base, c.Templates)
	}
	if c.Signing != nil && c.Signing.Index != "" && !filepath.IsAbs(c.Signing.Index) {
		c.Signing.Index = filepath.Join(base, c.Signing.Index)
	}
}

// Alias returns the signing alias for a unit that requested unitAlias.
func (c *Config) Alias(unitAlias string) string {
	if unitAlias != "" {
		return unitAlias
	}
	if c.Signing != nil && c.Signing.DefaultAlias != "" {
		return c.Signing.DefaultAlias
	}
	return DefaultAlias
}

// Rules compiles the combination descriptors.
func (c *Config) Rules() (*combine.RuleSet, error) {
	comb := c.Combination
	if comb == nil {
		comb = DefaultCombination()
	}
	return combine.NewRuleSet(combine.Descriptors{
		Owned:     comb.Owned,
		Defaulted: comb.Defaulted,
		Merged:    comb.Merged,
	})
}
