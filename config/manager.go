package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dyike/stockbot/internal/logger"
)

const configFileName = "config.json"

// Manager owns the persisted JSON config file and reloads it when it changes
// on disk. Reloads that fail to parse or validate keep the current config.
type Manager struct {
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	cfg       Config
	written   [sha256.Size]byte
	listeners []func(Config)
	watching  bool
}

type managerOptions struct {
	configPath string
	debounce   time.Duration
}

type ManagerOption func(*managerOptions)

// WithConfigDir keeps config.json in dir. Relative paths in a fresh config
// are rooted there too.
func WithConfigDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.configPath = filepath.Join(dir, configFileName)
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// NewManager loads the config file, writing the defaults first when it does
// not exist yet.
func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(&options)
	}

	path := options.configPath
	if path == "" {
		var err error
		if path, err = defaultConfigPath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	m := &Manager{path: path, debounce: options.debounce}

	var cfg Config
	err := loadConfigFromFile(path, &cfg)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		cfg = *DefaultConfigWithRoot(filepath.Dir(path))
		data, werr := writeConfigFile(path, cfg)
		if werr != nil {
			return nil, fmt.Errorf("write initial config: %w", werr)
		}
		m.written = sha256.Sum256(data)
	default:
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m.cfg = cfg
	return m, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

// UpdateFromJSON merges a full or partial JSON document over the current config.
func (m *Manager) UpdateFromJSON(jsonStr string) error {
	cfg := m.Get()
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	return m.Update(cfg)
}

// Update validates cfg, persists it and notifies listeners. The watcher
// ignores the write it causes.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(changedFields(m.Get(), cfg)) == 0 {
		return nil
	}
	data, err := writeConfigFile(m.path, cfg)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.written = sha256.Sum256(data)
	m.mu.Unlock()
	m.apply(cfg)
	return nil
}

// Watch calls onChange after every accepted change to the file until ctx is
// done. Later calls add listeners to the same watcher.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	if onChange != nil {
		m.listeners = append(m.listeners, onChange)
	}
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	m.watching = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		// Editors replace the file, so watch the directory.
		if err = watcher.Add(filepath.Dir(m.path)); err != nil {
			watcher.Close()
			err = fmt.Errorf("watch config dir: %w", err)
		}
	}
	if err != nil {
		m.mu.Lock()
		m.watching = false
		m.mu.Unlock()
		return err
	}

	go m.watchLoop(ctx, watcher)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer func() {
		watcher.Close()
		m.mu.Lock()
		m.watching = false
		m.listeners = nil
		m.mu.Unlock()
	}()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != filepath.Clean(m.path) {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(m.debounce, m.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", logger.Err(err))
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reload() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("config file removed, keeping current config", logger.String("path", m.path))
			return
		}
		logger.Error("config reload failed", logger.Err(err), logger.String("path", m.path))
		return
	}

	m.mu.RLock()
	own := sha256.Sum256(data) == m.written
	current := m.cfg
	m.mu.RUnlock()
	if own {
		return
	}

	var cfg Config
	if err := loadConfigFromFile(m.path, &cfg); err != nil {
		logger.Error("config reload failed", logger.Err(err), logger.String("path", m.path))
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("reloaded config rejected", logger.Err(err))
		return
	}
	changed := changedFields(current, cfg)
	if len(changed) == 0 {
		return
	}
	logger.Info("config reloaded", logger.String("path", m.path), logger.Strings("changed", changed))
	m.apply(cfg)
}

func (m *Manager) apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	listeners := append([]func(Config){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
}

// changedFields lists the JSON names of the fields that differ between a and b.
func changedFields(a, b Config) []string {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	t := va.Type()
	var changed []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			name = t.Field(i).Name
		}
		changed = append(changed, name)
	}
	sort.Strings(changed)
	return changed
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "stockbot", configFileName), nil
}

// writeConfigFile replaces path atomically and returns the bytes written.
func writeConfigFile(path string, cfg Config) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "cfg-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("flush config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, err
	}
	return data, nil
}
