package lockstore

import (
	"fmt"
	"log/slog"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open constructs the named backend. The returned close func is never nil.
func Open(backend, path string, log *slog.Logger) (Store, func() error, error) {
	nop := func() error { return nil }

	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendMemory:
		return NewMemoryStore(), nop, nil
	case "", BackendFile:
		s, err := NewFileStore(path, log)
		if err != nil {
			return nil, nop, err
		}
		return s, nop, nil
	case BackendSQLite:
		s, err := NewSQLiteStore(path, log)
		if err != nil {
			return nil, nop, err
		}
		return s, s.Close, nil
	default:
		return nil, nop, fmt.Errorf("unknown lock store backend %q", backend)
	}
}
