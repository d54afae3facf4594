// Package credconfig loads the credential pool's YAML config file and
// watches it for changes, handing each successfully parsed reload to a
// caller-supplied callback (cmd/gateway's callback only logs it; a running
// credpool.Pool is not rebuilt). Grounded on internal/config/sdk_config.go's
// YAML-driven SDKConfig pattern, generalized from a single static load to
// a load-plus-watch cycle using fsnotify, a direct teacher dependency.
package credconfig

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/kiro-gateway/kiro-gateway/internal/credpool"
)

// Entry is one credential pool config entry as it appears in the YAML file.
type Entry struct {
	Auth         string `yaml:"auth"`
	RefreshToken string `yaml:"refreshToken"`
	ClientID     string `yaml:"clientId,omitempty"`
	ClientSecret string `yaml:"clientSecret,omitempty"`
	Disabled     bool   `yaml:"disabled,omitempty"`
	Description  string `yaml:"description,omitempty"`
}

// Load reads and parses the credential config file into credpool.Config
// entries, dropping any marked disabled.
func Load(path string) ([]credpool.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credconfig: read %s: %w", path, err)
	}

	var entries []Entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("credconfig: parse %s: %w", path, err)
	}

	var out []credpool.Config
	for _, e := range entries {
		if e.Disabled {
			continue
		}
		if e.RefreshToken == "" {
			return nil, fmt.Errorf("credconfig: entry %q missing refreshToken", e.Description)
		}
		out = append(out, credpool.Config{
			Auth:         credpool.AuthMethod(e.Auth),
			RefreshToken: e.RefreshToken,
			ClientID:     e.ClientID,
			ClientSecret: e.ClientSecret,
			Disabled:     e.Disabled,
			Description:  e.Description,
		})
	}
	return out, nil
}

// Watcher reloads the credential file on write events and invokes onReload
// with the freshly parsed configs. A reload error is logged and skipped:
// the previous pool configuration keeps serving traffic.
type Watcher struct {
	path     string
	onReload func([]credpool.Config)
	fsw      *fsnotify.Watcher
	done     chan struct{}
	closeOne sync.Once
}

// NewWatcher starts watching path's parent directory (fsnotify watches
// directories more reliably across editors/configmap remounts than a bare
// file handle) and calls onReload whenever the file changes.
func NewWatcher(path string, onReload func([]credpool.Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("credconfig: create watcher: %w", err)
	}
	dir := dirOf(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("credconfig: watch %s: %w", dir, err)
	}

	w := &Watcher{path: path, onReload: onReload, fsw: fsw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			configs, err := Load(w.path)
			if err != nil {
				log.WithError(err).Warn("credconfig: reload failed, keeping previous configuration")
				continue
			}
			w.onReload(configs)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("credconfig: watcher error")
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() {
	w.closeOne.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
