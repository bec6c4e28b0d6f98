package store

import (
	"errors"
	"strings"

	logx "taskmin/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger, resolve Resolver) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		st, err := OpenSQLite(cfg, log, resolve)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, errors.New("unknown store driver: " + driver)
	}
}
