package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Load reads a pipeline file, overlays environment variables and applies
// defaults.
//
// Files ending in .yaml or .yml are decoded as YAML; everything else as JSON.
// Environment overrides use the `env` struct tags (TABLOAD_DSN,
// TABLOAD_SOURCE_DIR, ...). DSN values may reference environment variables
// with ${NAME}; they are expanded after the overlay.
func Load(path string) (Pipeline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	p, err := Decode(raw, filepath.Ext(path))
	if err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if err := Overlay(&p, nil); err != nil {
		return Pipeline{}, err
	}
	p.ApplyDefaults()
	return p, nil
}

// Decode parses raw bytes as YAML (ext ".yaml"/".yml") or JSON.
func Decode(raw []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &p); err != nil {
			return Pipeline{}, err
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, err
		}
	}
	return p, nil
}

// Overlay applies environment overrides to p. When environ is nil the process
// environment is used.
func Overlay(p *Pipeline, environ map[string]string) error {
	var opts []env.Options
	if environ != nil {
		opts = append(opts, env.Options{Environment: environ})
	}
	if err := env.Parse(p, opts...); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	return nil
}
