package storage

import (
	"fmt"
	"strings"
)

// Open constructs the configured Store. An empty driver yields (nil, nil):
// callers treat a nil Store as "persistence off".
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "":
		return nil, nil
	case DriverFile:
		return openFile(cfg)
	case DriverSQLite:
		return openSQLite(cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
