package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// File is the content of the session file.
type File struct {
	UserID      string `toml:"user_id,omitempty"`
	AccessToken string `toml:"access_token,omitempty"`
	Email       string `toml:"email,omitempty"`
}

// Load reads a session file. A missing file yields an empty File.
func Load(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("failed to read session file: %w", err)
	}
	if _, err := toml.Decode(string(data), &f); err != nil {
		return f, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	return f, nil
}

// Save writes f to path with owner-only permissions. The file is replaced
// atomically so a watching FileProvider never reads a partial file.
func Save(path string, f File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set session permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// userID resolves the user named by the file.
func (f File) userID() (string, error) {
	if f.UserID != "" {
		return f.UserID, nil
	}
	if f.AccessToken != "" {
		return UserFromToken(f.AccessToken)
	}
	return "", ErrNoUser
}

// FileProvider resolves the user from a session file and can follow
// changes to it.
type FileProvider struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current File

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFileProvider loads the session file at path.
func NewFileProvider(path string, logger *zap.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &FileProvider{
		path:   filepath.Clean(path),
		logger: logger.Named("session"),
	}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the session file path.
func (p *FileProvider) Path() string {
	return p.path
}

// UserID implements Provider.
func (p *FileProvider) UserID() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.userID()
}

// AccessToken returns the stored access token, if any.
func (p *FileProvider) AccessToken() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.AccessToken
}

// Reload re-reads the session file.
func (p *FileProvider) Reload() error {
	f, err := Load(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.current = f
	p.mu.Unlock()
	return nil
}

// Watch reloads the file whenever it changes and calls onChange when the
// resolved user differs from before. The parent directory is watched since
// Save replaces the file by rename.
func (p *FileProvider) Watch(onChange func(userID string)) error {
	if p.watcher != nil {
		return errors.New("session watch already running")
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	p.watcher = watcher
	p.done = make(chan struct{})
	p.wg.Add(1)
	go p.processEvents(onChange)
	return nil
}

// Close stops watching. It blocks until the event loop has exited.
func (p *FileProvider) Close() error {
	if p.watcher == nil {
		return nil
	}
	close(p.done)
	err := p.watcher.Close()
	p.wg.Wait()
	p.watcher = nil
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (p *FileProvider) processEvents(onChange func(userID string)) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			p.handleChange(onChange)

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("Session watcher error", zap.Error(err))
		}
	}
}

func (p *FileProvider) handleChange(onChange func(userID string)) {
	before, _ := p.UserID()

	if err := p.Reload(); err != nil {
		// Keep the previous session until the file parses again
		p.logger.Warn("Failed to reload session", zap.Error(err))
		return
	}

	after, err := p.UserID()
	if err != nil && !errors.Is(err, ErrNoUser) {
		p.logger.Warn("Session has no usable user", zap.Error(err))
	}
	if after == before {
		return
	}

	p.logger.Info("Session user changed", zap.String("user_id", after))
	if onChange != nil {
		onChange(after)
	}
}
