package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Backends accepted by Store.Backend.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Store describes how the state store is opened.
type Store struct {
	Backend string `toml:"Backend"`
	DataDir string `toml:"DataDir"`
}

// Load loads the store configuration from the given path, writing a default
// configuration file if none exists yet.
func Load(path string) (*Store, error) {
	cfg := &Store{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes before the store is
// opened.
func (cfg *Store) Validate() error {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
	case BackendLevelDB, BackendBolt:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return fmt.Errorf("config: backend %q requires DataDir", cfg.Backend)
		}
	default:
		return fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
	return nil
}

func createDefault(path string) (*Store, error) {
	cfg := &Store{
		Backend: BackendLevelDB,
		DataDir: "./statedata",
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
