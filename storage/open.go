package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"stratachain/config"
)

// Open constructs the Database selected by the configuration.
func Open(cfg *config.Store) (Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.BackendMemory:
		return NewMemDB(), nil
	case config.BackendLevelDB:
		return NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	case config.BackendBolt:
		return NewBoltDB(filepath.Join(cfg.DataDir, "state.bolt"))
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}
