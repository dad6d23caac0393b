package apiclient

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// TokenSource supplies the bearer token for each request. An empty token
// sends the request unauthenticated.
type TokenSource interface {
	Token() (string, error)
}

type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

// FileTokenSource serves a token stored in a file written by the login
// command. The token is cached in memory and reloaded when the file changes.
type FileTokenSource struct {
	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.RWMutex
	token string
}

// NewFileTokenSource reads path and starts watching its directory. A missing
// file is not an error; the token is empty until the file appears.
func NewFileTokenSource(path string, log *zap.Logger) (*FileTokenSource, error) {
	if log == nil {
		log = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("token file path: %w", err)
	}
	s := &FileTokenSource{path: abs, log: log, done: make(chan struct{})}
	if err := s.reload(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("token watcher: %w", err)
	}
	// Watch the directory: editors and atomic writers replace the file.
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		w.Close()
		return nil, fmt.Errorf("token dir: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watcher = w
	go s.watch()
	return s, nil
}

func (s *FileTokenSource) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Path returns the file backing this source.
func (s *FileTokenSource) Path() string { return s.path }

func (s *FileTokenSource) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *FileTokenSource) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if err := s.reload(); err != nil {
				s.log.Warn("token reload failed", zap.String("path", s.path), zap.Error(err))
				continue
			}
			s.log.Debug("token reloaded", zap.String("path", s.path), zap.String("op", ev.Op.String()))
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("token watcher error", zap.Error(err))
		}
	}
}

func (s *FileTokenSource) reload() error {
	b, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(b))
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// SaveToken writes token to path atomically with owner-only permissions.
func SaveToken(path, token string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("token dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".token-*")
	if err != nil {
		return fmt.Errorf("token temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(strings.TrimSpace(token) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// DefaultTokenFile is where login stores the token when no path is given.
func DefaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "infrawiz", "token")
}
