// Package token provides bearer tokens for the control-plane client.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Source yields the bearer token for the next request
type Source interface {
	Token() string
}

// Static is a fixed token
type Static string

// Token returns the token
func (s Static) Token() string {
	return string(s)
}

// FileSource reads the token from a file and re-reads it whenever the file changes
type FileSource struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	token string

	watcher *fsnotify.Watcher
	doneCh  chan struct{}
}

// NewFileSource loads the token from path
func NewFileSource(path string, logger *slog.Logger) (*FileSource, error) {
	s := &FileSource{
		path:   path,
		logger: logger,
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Token returns the last token read from disk
func (s *FileSource) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *FileSource) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return errors.New("token file is empty")
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
	return nil
}

// Watch starts reloading the token on file changes until ctx is done.
// The parent directory is watched so editors that replace the file are handled.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch token dir: %w", err)
	}

	s.watcher = watcher
	s.doneCh = make(chan struct{})
	go s.run(ctx)
	return nil
}

// Wait blocks until the watch loop has exited
func (s *FileSource) Wait() {
	if s.doneCh != nil {
		<-s.doneCh
	}
}

func (s *FileSource) run(ctx context.Context) {
	defer close(s.doneCh)
	defer s.watcher.Close()

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("token reload failed", "path", s.path, "error", err)
				continue
			}
			s.logger.Info("token reloaded", "path", s.path)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("token watcher error", "error", err)
		}
	}
}
