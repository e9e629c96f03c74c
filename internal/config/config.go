// Package config loads the reader's tunables from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yuanying/epubstream/internal/catalog"
	"github.com/yuanying/epubstream/internal/cover"
	"github.com/yuanying/epubstream/internal/extract"
)

// MinChunkCapacity is the smallest chunk that still fits a maximal entity
// expansion.
const MinChunkCapacity = 16

// Config is the file format. Fields missing from the file keep their
// defaults.
type Config struct {
	ChunkCapacity   int               `yaml:"chunk_capacity"`
	CatalogCapacity int               `yaml:"catalog_capacity"`
	LowWaterWords   int               `yaml:"low_water_words"`
	MaxEntityLen    int               `yaml:"max_entity_len"`
	BooksDir        string            `yaml:"books_dir"`
	Patterns        []string          `yaml:"patterns"`
	ThumbWidth      int               `yaml:"thumb_width"`
	ThumbHeight     int               `yaml:"thumb_height"`
	MaxCoverBytes   int               `yaml:"max_cover_bytes"`
	Entities        map[string]string `yaml:"entities"`
	// Fallback overrides legacy byte mappings; keys are bytes written as
	// hex ("0x80") or decimal.
	Fallback map[string]string `yaml:"fallback"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ChunkCapacity:   extract.DefaultChunkCapacity,
		CatalogCapacity: catalog.DefaultCapacity,
		LowWaterWords:   catalog.DefaultLowWater,
		MaxEntityLen:    extract.DefaultMaxEntityLen,
		BooksDir:        "books",
		Patterns:        append([]string(nil), catalog.DefaultPatterns...),
		ThumbWidth:      cover.DefaultWidth,
		ThumbHeight:     cover.DefaultHeight,
		MaxCoverBytes:   cover.DefaultMaxBytes,
	}
}

// LoadFile reads path over the defaults. A missing file yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and the fallback table.
func (c *Config) Validate() error {
	switch {
	case c.ChunkCapacity < MinChunkCapacity:
		return fmt.Errorf("chunk_capacity must be at least %d, got %d", MinChunkCapacity, c.ChunkCapacity)
	case c.CatalogCapacity <= 0:
		return fmt.Errorf("catalog_capacity must be positive, got %d", c.CatalogCapacity)
	case c.LowWaterWords <= 0:
		return fmt.Errorf("low_water_words must be positive, got %d", c.LowWaterWords)
	case c.MaxEntityLen <= 0 || c.MaxEntityLen >= c.ChunkCapacity:
		return fmt.Errorf("max_entity_len must be between 1 and %d, got %d", c.ChunkCapacity-1, c.MaxEntityLen)
	case c.ThumbWidth <= 0 || c.ThumbHeight <= 0:
		return fmt.Errorf("thumbnail size must be positive, got %dx%d", c.ThumbWidth, c.ThumbHeight)
	case c.MaxCoverBytes <= 0:
		return fmt.Errorf("max_cover_bytes must be positive, got %d", c.MaxCoverBytes)
	case strings.TrimSpace(c.BooksDir) == "":
		return errors.New("books_dir must not be empty")
	}
	_, err := c.FallbackTable()
	return err
}

// FallbackTable parses the fallback overrides. Only bytes 0x80-0xFF can
// be overridden.
func (c *Config) FallbackTable() (map[byte]string, error) {
	if len(c.Fallback) == 0 {
		return nil, nil
	}
	table := make(map[byte]string, len(c.Fallback))
	for k, v := range c.Fallback {
		n, err := strconv.ParseUint(strings.TrimSpace(k), 0, 8)
		if err != nil {
			return nil, fmt.Errorf("fallback key %q is not a byte: %w", k, err)
		}
		if n < 0x80 {
			return nil, fmt.Errorf("fallback key %q is ASCII", k)
		}
		table[byte(n)] = v
	}
	return table, nil
}
