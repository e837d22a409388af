package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pbnjam/mcp-gatewayd/internal/gateway/registry"
)

// ErrNotFound is returned when a requested config file does not exist.
var ErrNotFound = errors.New("config: not found")

// Store persists gateway.json and per-template files under dir as plain
// JSON files rather than a database table.
type Store struct {
	dir string
}

// New creates a Store rooted at dir (typically "<cwd>/config"). The
// directory and its templates/ subdirectory are created on first write, not
// at construction.
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) gatewayPath() string  { return filepath.Join(s.dir, "gateway.json") }
func (s *Store) templatesDir() string { return filepath.Join(s.dir, "templates") }
func (s *Store) templatePath(name string) string {
	return filepath.Join(s.templatesDir(), safeName(name)+".json")
}

// LoadGateway reads gateway.json, or returns Default() if it does not exist
// yet.
func (s *Store) LoadGateway() (Gateway, error) {
	data, err := os.ReadFile(s.gatewayPath())
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Gateway{}, fmt.Errorf("config: read gateway.json: %w", err)
	}
	var cfg Gateway
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Gateway{}, fmt.Errorf("config: parse gateway.json: %w", err)
	}
	return cfg, nil
}

// SaveGateway backs up any existing gateway.json, then pretty-prints cfg in
// its place.
func (s *Store) SaveGateway(cfg Gateway) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	if err := backupIfExists(s.gatewayPath()); err != nil {
		return err
	}
	return writeJSONFile(s.gatewayPath(), cfg)
}

// LoadTemplate reads one template file by name.
func (s *Store) LoadTemplate(name string) (registry.Template, error) {
	data, err := os.ReadFile(s.templatePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return registry.Template{}, ErrNotFound
	}
	if err != nil {
		return registry.Template{}, fmt.Errorf("config: read template %q: %w", name, err)
	}
	var tpl registry.Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return registry.Template{}, fmt.Errorf("config: parse template %q: %w", name, err)
	}
	return tpl, nil
}

// SaveTemplate backs up any existing file for tpl.Name, then pretty-prints
// tpl in its place.
func (s *Store) SaveTemplate(tpl registry.Template) error {
	if err := os.MkdirAll(s.templatesDir(), 0o755); err != nil {
		return fmt.Errorf("config: create templates dir: %w", err)
	}
	path := s.templatePath(tpl.Name)
	if err := backupIfExists(path); err != nil {
		return err
	}
	return writeJSONFile(path, tpl)
}

// DeleteTemplate removes a template file. It is idempotent.
func (s *Store) DeleteTemplate(name string) error {
	if err := os.Remove(s.templatePath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: delete template %q: %w", name, err)
	}
	return nil
}

// ListTemplates reads every template file under templates/.
func (s *Store) ListTemplates() ([]registry.Template, error) {
	entries, err := os.ReadDir(s.templatesDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: list templates dir: %w", err)
	}

	out := make([]registry.Template, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.templatesDir(), e.Name()))
		if err != nil {
			return nil, fmt.Errorf("config: read template file %q: %w", e.Name(), err)
		}
		var tpl registry.Template
		if err := json.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("config: parse template file %q: %w", e.Name(), err)
		}
		out = append(out, tpl)
	}
	return out, nil
}

// backupIfExists copies path to "<path>.backup.<epochMs>.json" if path
// exists, leaving the original untouched.
func backupIfExists(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %q for backup: %w", path, err)
	}
	backupPath := fmt.Sprintf("%s.backup.%d.json", path, time.Now().UnixMilli())
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("config: write backup %q: %w", backupPath, err)
	}
	return nil
}

// writeJSONFile pretty-prints v to path, writing through a temp file and
// renaming into place so a crash mid-write never leaves a truncated file.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("config: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("config: rename %q to %q: %w", tmp, path, err)
	}
	return nil
}
