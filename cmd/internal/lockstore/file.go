package lockstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FileStore persists the key-value map as one JSON document.
//
// Writes go through a temp file + rename. Reads re-load the document whenever its
// mtime/size/inode changed, so other processes writing the same file are observed.
type FileStore struct {
	path string
	log  *slog.Logger

	mu        sync.RWMutex
	values    map[string]string
	fileState fileState
}

// NewFileStore opens (or creates) the JSON document at path.
func NewFileStore(path string, log *slog.Logger) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lock store path is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &FileStore{
		path:   path,
		log:    log.With("store_path", path),
		values: make(map[string]string),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("lock store dir: %w", err)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
		s.log.Info("lock.store.file.init")
		return s, nil
	} else if err != nil {
		return nil, err
	}

	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the value for key, re-reading the file if another writer touched it.
func (s *FileStore) Get(key string) (string, bool, error) {
	if err := s.refreshIfNeeded(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores value under key and persists the document.
func (s *FileStore) Set(key, value string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.values[key] = value
	if err := s.saveLocked(); err != nil {
		if had {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Remove deletes key and persists the document (idempotent).
func (s *FileStore) Remove(key string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	if !had {
		return nil
	}
	delete(s.values, key)
	if err := s.saveLocked(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "lockstore-*.json")
	if err != nil {
		s.log.Warn("lock.store.save.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.log.Warn("lock.store.save.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		s.log.Warn("lock.store.save.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		s.log.Warn("lock.store.save.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		s.log.Warn("lock.store.save.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		s.log.Warn("lock.store.save.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.fileState = fileStateFromInfo(info)
	}
	s.log.Debug("lock.store.save.ok", "keys", len(s.values))
	return nil
}

func (s *FileStore) refreshIfNeeded() error {
	info, err := os.Stat(s.path)
	if err != nil {
		s.log.Warn("lock.store.stat.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}

	latest := fileStateFromInfo(info)
	s.mu.RLock()
	current := s.fileState
	s.mu.RUnlock()
	if current.equal(latest) {
		return nil
	}
	return s.loadFromDisk()
}

func (s *FileStore) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.log.Warn("lock.store.load.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		s.log.Warn("lock.store.load.fail", "err", err)
		return errors.Join(ErrUnavailable, err)
	}

	next := make(map[string]string)
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &next); err != nil {
			s.log.Warn("lock.store.load.fail", "err", err)
			return errors.Join(ErrUnavailable, err)
		}
	}

	s.mu.Lock()
	s.values = next
	s.fileState = fileStateFromInfo(info)
	s.mu.Unlock()

	s.log.Debug("lock.store.load.ok", "keys", len(next))
	return nil
}

type fileState struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func fileStateFromInfo(info os.FileInfo) fileState {
	state := fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		state.inode = stat.Ino
		state.dev = uint64(stat.Dev) //nolint:unconvert // Dev is int32 on darwin.
	}
	return state
}

func (s fileState) equal(other fileState) bool {
	return s.size == other.size &&
		s.modTime.Equal(other.modTime) &&
		s.inode == other.inode &&
		s.dev == other.dev
}
