// Package config parses the server's TOML configuration file (spec
// §6.4) and enforces its minimums/defaults.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config mirrors the configuration keys of spec §6.4.
type Config struct {
	ListenPort int `toml:"listen_port"`

	TableBlockCacheSize  int `toml:"table_block_cache_size"`
	TableBlockCacheCount int `toml:"table_block_cache_count"`

	VLValuesBlockSize  int `toml:"vl_values_block_size"`
	VLValuesBlockCount int `toml:"vl_values_block_count"`

	TemporalsCache int `toml:"temporals_cache"`

	LogFile   string `toml:"log_file"`
	WorkDir   string `toml:"work_dir"`
	TempDir   string `toml:"temp_dir"`
	Verbose   bool   `toml:"debug_verbose"`
	SeqURL    string `toml:"seq_url"`
	Libraries []string `toml:"libraries"` // native/object libraries loaded per session
}

// Defaults from spec §6.4.
func Defaults() Config {
	return Config{
		ListenPort:           1761,
		TableBlockCacheSize:  4098,
		TableBlockCacheCount: 1024,
		VLValuesBlockSize:    1024,
		VLValuesBlockCount:   4098,
		TemporalsCache:       512,
		WorkDir:              ".",
		TempDir:              "/tmp",
	}
}

// Minimums enforced by spec §6.4.
const (
	MinTableBlockCacheSize  = 1024
	MinTableBlockCacheCount = 128
	MinVLValuesBlockSize    = 1024
	MinVLValuesBlockCount   = 128
	MinTemporalsCache       = 128
)

// Load reads and decodes path, filling in defaults for unset fields and
// validating against the minimums table.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks every configured value against its spec §6.4 minimum.
func (c Config) Validate() error {
	if c.TableBlockCacheSize < MinTableBlockCacheSize {
		return fmt.Errorf("config: table_block_cache_size must be >= %d, got %d", MinTableBlockCacheSize, c.TableBlockCacheSize)
	}
	if c.TableBlockCacheCount < MinTableBlockCacheCount {
		return fmt.Errorf("config: table_block_cache_count must be >= %d, got %d", MinTableBlockCacheCount, c.TableBlockCacheCount)
	}
	if c.VLValuesBlockSize < MinVLValuesBlockSize {
		return fmt.Errorf("config: vl_values_block_size must be >= %d, got %d", MinVLValuesBlockSize, c.VLValuesBlockSize)
	}
	if c.VLValuesBlockCount < MinVLValuesBlockCount {
		return fmt.Errorf("config: vl_values_block_count must be >= %d, got %d", MinVLValuesBlockCount, c.VLValuesBlockCount)
	}
	if c.TemporalsCache < MinTemporalsCache {
		return fmt.Errorf("config: temporals_cache must be >= %d, got %d", MinTemporalsCache, c.TemporalsCache)
	}
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return fmt.Errorf("config: listen_port out of range: %d", c.ListenPort)
	}
	return nil
}
