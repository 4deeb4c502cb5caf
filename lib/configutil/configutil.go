// Package configutil reads json5 configuration files with optional
// per-machine overrides. The only config that flows through here is
// telemetry.json5 (otlp endpoints and header secrets); the application
// config is YAML and lives in lib/config.
package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// ReadConfig loads <name>, then merges <name minus ext>.local.<ext> over
// it when present. Local files hold values that stay out of version
// control, so telemetry.json5 can ship defaults while telemetry.local.json5
// carries the real endpoint.
func ReadConfig[T any](name string) (T, error) {
	var out T

	base, err := readInto(name, &out)
	if err != nil {
		return out, err
	}

	ext := filepath.Ext(name)
	localName := strings.TrimSuffix(name, ext) + ".local" + ext
	var override T
	local, err := readInto(localName, &override)
	if err != nil {
		return out, err
	}
	if local {
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("merge %s: %w", localName, err)
		}
		slog.Info("merged local config overrides", "file", localName)
	}

	if !base && !local {
		return out, os.ErrNotExist
	}
	return out, nil
}

// readInto reports whether the file existed with content. A missing file
// is not an error here, ReadConfig decides whether the combination is.
func readInto[T any](path string, out *T) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json5.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

// ReadRecursively walks up from the working directory until a config
// matching name is found, so the CLIs can run from any subdirectory of
// a checkout.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	current, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return zero, os.ErrNotExist
		}
		current = parent
	}
}
