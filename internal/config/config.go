// Package config loads the optional swap-worktree configuration file.
//
// The file is YAML (config.yaml / config.yml) or JSON with comments
// (config.json). Every key is optional; values present in the file are
// applied on top of Default(), and command-line flags are applied on top of
// the result by the caller.
//
// Lookup order for the file:
//  1. the path given with --config
//  2. $SWAP_WORKTREE_CONFIG
//  3. $XDG_CONFIG_HOME/swap-worktree/config.{yaml,yml,json}
//  4. ~/.config/swap-worktree/config.{yaml,yml,json}
//
// A missing file in steps 3 and 4 is not an error. A missing file named
// explicitly in steps 1 and 2 is.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at a config file.
const EnvConfigPath = "SWAP_WORKTREE_CONFIG"

// appDir is the directory under the user config directory.
const appDir = "swap-worktree"

// candidateNames are tried in order inside the config directory.
var candidateNames = []string{"config.yaml", "config.yml", "config.json"}

// ColorMode controls styled output.
type ColorMode string

const (
	// ColorAuto styles output only when the stream is a terminal and
	// NO_COLOR is not set.
	ColorAuto ColorMode = "auto"

	// ColorAlways styles output even when it is redirected.
	ColorAlways ColorMode = "always"

	// ColorNever writes plain text.
	ColorNever ColorMode = "never"
)

// Config is the effective configuration.
type Config struct {
	// GitBinary is the git executable used for every repository command.
	GitBinary string

	// StashMessagePrefix starts the message of every stash a swap creates.
	StashMessagePrefix string

	// RestoreIndex re-stages changes that were staged when captured.
	RestoreIndex bool

	Debug bool
	Color ColorMode

	// Path is the file the configuration was read from, or "" for defaults.
	Path string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		GitBinary:          "git",
		StashMessagePrefix: "swap-stash",
		RestoreIndex:       true,
		Debug:              false,
		Color:              ColorAuto,
	}
}

// fileConfig mirrors the file layout. Pointers distinguish "absent" from
// the zero value so that only keys present in the file override defaults.
type fileConfig struct {
	GitBinary          *string `yaml:"git_binary" json:"git_binary"`
	StashMessagePrefix *string `yaml:"stash_message_prefix" json:"stash_message_prefix"`
	RestoreIndex       *bool   `yaml:"restore_index" json:"restore_index"`
	Debug              *bool   `yaml:"debug" json:"debug"`
	Color              *string `yaml:"color" json:"color"`
}

// Load finds and reads the configuration file. explicitPath is the value of
// the --config flag and may be empty.
func Load(explicitPath string) (Config, error) {
	path, err := Locate(explicitPath)
	if err != nil {
		return Default(), err
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// Locate returns the configuration file to read, or "" if there is none.
func Locate(explicitPath string) (string, error) {
	if explicitPath != "" {
		return requireFile(explicitPath, "--config")
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return requireFile(env, "$"+EnvConfigPath)
	}

	for _, dir := range searchDirs() {
		for _, name := range candidateNames {
			path := filepath.Join(dir, appDir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, nil
			}
		}
	}
	return "", nil
}

// searchDirs returns the user config directories in lookup order.
func searchDirs() []string {
	var dirs []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dirs = append(dirs, xdg)
	}
	if home, err := os.UserHomeDir(); err == nil {
		fallback := filepath.Join(home, ".config")
		if len(dirs) == 0 || dirs[0] != fallback {
			dirs = append(dirs, fallback)
		}
	}
	return dirs
}

func requireFile(path, source string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("config file from %s: %w", source, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file from %s: '%s' is a directory", source, path)
	}
	return path, nil
}

// LoadFile reads a configuration file and applies it on top of Default().
// Files ending in .json are parsed as JSON with comments; anything else as YAML.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if strings.EqualFold(filepath.Ext(path), ".json") {
		// Strip comments and trailing commas before handing it to encoding/json.
		err = json.Unmarshal(jsonc.ToJSON(data), &fc)
	} else {
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := fc.apply(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

func (fc fileConfig) apply(cfg *Config) error {
	if fc.GitBinary != nil {
		if strings.TrimSpace(*fc.GitBinary) == "" {
			return errors.New("git_binary must not be empty")
		}
		cfg.GitBinary = strings.TrimSpace(*fc.GitBinary)
	}
	if fc.StashMessagePrefix != nil {
		if strings.TrimSpace(*fc.StashMessagePrefix) == "" {
			return errors.New("stash_message_prefix must not be empty")
		}
		cfg.StashMessagePrefix = strings.TrimSpace(*fc.StashMessagePrefix)
	}
	if fc.RestoreIndex != nil {
		cfg.RestoreIndex = *fc.RestoreIndex
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.Color != nil {
		mode, err := ParseColorMode(*fc.Color)
		if err != nil {
			return err
		}
		cfg.Color = mode
	}
	return nil
}

// ParseColorMode validates a color setting. The empty string means auto.
func ParseColorMode(s string) (ColorMode, error) {
	switch ColorMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ColorAuto:
		return ColorAuto, nil
	case ColorAlways:
		return ColorAlways, nil
	case ColorNever:
		return ColorNever, nil
	}
	return "", fmt.Errorf("invalid color %q: must be one of auto, always, never", s)
}
