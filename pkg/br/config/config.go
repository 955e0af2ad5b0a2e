package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/openbr/pkg/br/brerr"
)

// Config holds the process-wide settings of the orchestration core.
type Config struct {
	// SDKPath is the root under which pre-trained models are looked up
	// (share/br/models/algorithms/<descriptor>).
	SDKPath string `yaml:"sdk_path"`

	// Abbreviations maps a short algorithm name to its full descriptor.
	Abbreviations map[string]string `yaml:"abbreviations"`

	// AbbreviationsFile is an optional YAML file merged into Abbreviations.
	AbbreviationsFile string `yaml:"abbreviations_file"`

	MultiProcess bool `yaml:"multi_process"`
	Parallelism  int  `yaml:"parallelism"`
	Workers      int  `yaml:"workers"`
	BlockSize    int  `yaml:"block_size"`
	ShowProgress bool `yaml:"show_progress"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the logger format and level.
type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Abbreviations: map[string]string{},
		Parallelism:   runtime.NumCPU(),
		Workers:       runtime.NumCPU(),
		BlockSize:     1000,
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load reads a YAML config file on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Abbreviations == nil {
		cfg.Abbreviations = map[string]string{}
	}

	if cfg.AbbreviationsFile != "" {
		file := cfg.AbbreviationsFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		abbrevs, err := LoadAbbreviations(file)
		if err != nil {
			return cfg, fmt.Errorf("load abbreviations: %w", err)
		}
		for name, expansion := range abbrevs {
			if _, ok := cfg.Abbreviations[name]; !ok {
				cfg.Abbreviations[name] = expansion
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadAbbreviations loads a YAML mapping of name -> descriptor.
func LoadAbbreviations(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	abbrevs := map[string]string{}
	if err := yaml.Unmarshal(data, &abbrevs); err != nil {
		return nil, err
	}
	return abbrevs, nil
}

// Validate rejects settings the engines cannot run with.
func (c Config) Validate() error {
	if c.Parallelism < 1 {
		return fmt.Errorf("%w: parallelism must be >= 1, got %d", brerr.ErrInvalidArgument, c.Parallelism)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", brerr.ErrInvalidArgument, c.Workers)
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("%w: block_size must be >= 1, got %d", brerr.ErrInvalidArgument, c.BlockSize)
	}
	for name, expansion := range c.Abbreviations {
		if name == "" || expansion == "" {
			return fmt.Errorf("%w: empty abbreviation %q -> %q", brerr.ErrInvalidArgument, name, expansion)
		}
	}
	return nil
}

// ModelPath is where a pre-trained model for descriptor would live.
func (c Config) ModelPath(descriptor string) string {
	return filepath.Join(c.SDKPath, "share", "br", "models", "algorithms", descriptor)
}
