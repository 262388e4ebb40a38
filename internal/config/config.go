// Package config loads, validates, and persists openmux's configuration
// file, generalizing the teacher's YAML config layer (atomic
// temp-file-then-rename save, defaulting on load, env-var overrides) to the
// TOML tables and environment variables the UI process honors.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/openmux/openmux/internal/xdgpath"
)

const (
	maxConfigFileBytes int64 = 1 << 20
	maxRenameRetry           = 10
	renameRetryBaseDelay     = 10 * time.Millisecond
)

// Config is openmux's runtime configuration, loaded from config.toml.
type Config struct {
	Layout      LayoutConfig      `toml:"layout"`
	Theme       ThemeConfig       `toml:"theme"`
	Session     SessionConfig     `toml:"session"`
	Keybindings map[string]string `toml:"keybindings"`
}

// LayoutConfig is the `[layout]` table.
type LayoutConfig struct {
	WindowGap         int           `toml:"windowGap"`
	OuterPadding      PaddingConfig `toml:"outerPadding"`
	BorderWidth       int           `toml:"borderWidth"`
	DefaultLayoutMode string        `toml:"defaultLayoutMode"` // vertical | horizontal | stacked
	DefaultSplitRatio float64       `toml:"defaultSplitRatio"`
	MinPaneWidth      int           `toml:"minPaneWidth"`
	MinPaneHeight     int           `toml:"minPaneHeight"`
}

// PaddingConfig is `[layout.outerPadding]`.
type PaddingConfig struct {
	Top    int `toml:"top"`
	Right  int `toml:"right"`
	Bottom int `toml:"bottom"`
	Left   int `toml:"left"`
}

// ThemeConfig is the `[theme]` table.
type ThemeConfig struct {
	PaneColors        map[string]string `toml:"paneColors,omitempty"`
	StatusBarColors   map[string]string `toml:"statusBarColors,omitempty"`
	SearchAccentColor string            `toml:"searchAccentColor"`
	UI                map[string]string `toml:"ui,omitempty"`
}

// SessionConfig is the `[session]` table.
type SessionConfig struct {
	AutoSaveIntervalMs int `toml:"autoSaveIntervalMs"`
}

// validLayoutModes is the allowed set for layout.defaultLayoutMode.
var validLayoutModes = map[string]struct{}{
	"vertical":   {},
	"horizontal": {},
	"stacked":    {},
}

// DefaultConfig returns the built-in defaults written on first run.
func DefaultConfig() Config {
	return Config{
		Layout: LayoutConfig{
			WindowGap:         0,
			BorderWidth:       1,
			DefaultLayoutMode: "horizontal",
			DefaultSplitRatio: 0.5,
			MinPaneWidth:      2,
			MinPaneHeight:     1,
		},
		Theme: ThemeConfig{
			SearchAccentColor: "#ffcc00",
		},
		Session: SessionConfig{
			AutoSaveIntervalMs: 30000,
		},
		Keybindings: map[string]string{
			"split-vertical":   "%",
			"split-horizontal": "\"",
			"toggle-zoom":      "z",
			"kill-pane":        "x",
			"detach-session":   "d",
			"enter-copy-mode":  "[",
			"enter-search":     "/",
		},
	}
}

// DefaultPath resolves the config file path via internal/xdgpath,
// overridable through $OPENMUX_CONFIG.
func DefaultPath() string {
	return xdgpath.ConfigFilePath()
}

// Load reads path, falling back to defaults if the file does not exist.
// Env overrides from §6 are applied last, taking precedence over the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}
	if len(raw) == 0 {
		applyEnvOverrides(&cfg)
		return cfg, nil
	}

	if _, err := toml.Decode(string(raw), &cfg); err != nil {
		slog.Warn("[WARN-config] failed to parse config, using defaults", "path", path, "error", err)
		cfg = DefaultConfig()
		applyEnvOverrides(&cfg)
		return cfg, err
	}

	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// EnsureFile loads path, writing the defaults to it first if it is missing.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Clone deep-copies cfg's map fields so callers can hand out snapshots
// without aliasing the loader's maps.
func Clone(src Config) Config {
	dst := src
	if src.Keybindings != nil {
		dst.Keybindings = make(map[string]string, len(src.Keybindings))
		maps.Copy(dst.Keybindings, src.Keybindings)
	}
	if src.Theme.PaneColors != nil {
		dst.Theme.PaneColors = make(map[string]string, len(src.Theme.PaneColors))
		maps.Copy(dst.Theme.PaneColors, src.Theme.PaneColors)
	}
	if src.Theme.StatusBarColors != nil {
		dst.Theme.StatusBarColors = make(map[string]string, len(src.Theme.StatusBarColors))
		maps.Copy(dst.Theme.StatusBarColors, src.Theme.StatusBarColors)
	}
	if src.Theme.UI != nil {
		dst.Theme.UI = make(map[string]string, len(src.Theme.UI))
		maps.Copy(dst.Theme.UI, src.Theme.UI)
	}
	return dst
}

// Save validates cfg, fills defaults, and atomically writes it to path.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	if err := applyDefaultsAndValidate(&cfg); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := atomicWrite(normalizedPath, []byte(sb.String())); err != nil {
		return cfg, err
	}
	slog.Debug("[DEBUG-config] config saved", "path", path)
	return cfg, nil
}

func atomicWrite(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config.toml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-config] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-config] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("save config: write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("save config: sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

func validateConfigPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("config path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}
	expectedDir, err := filepath.Abs(filepath.Dir(xdgpath.ConfigFilePath()))
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(abs, expectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", abs)
	}
	return abs, nil
}

func pathWithinDir(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// applyDefaultsAndValidate fills zero-valued fields from DefaultConfig and
// validates the rest, mutating cfg in place. Shared by Load and Save so
// both paths normalize identically.
func applyDefaultsAndValidate(cfg *Config) error {
	defaults := DefaultConfig()

	if cfg.Layout.DefaultLayoutMode == "" {
		cfg.Layout.DefaultLayoutMode = defaults.Layout.DefaultLayoutMode
	}
	if _, ok := validLayoutModes[cfg.Layout.DefaultLayoutMode]; !ok {
		return fmt.Errorf("layout.defaultLayoutMode: invalid value %q", cfg.Layout.DefaultLayoutMode)
	}
	if cfg.Layout.DefaultSplitRatio <= 0 || cfg.Layout.DefaultSplitRatio >= 1 {
		slog.Warn("[WARN-config] layout.defaultSplitRatio out of (0,1), using default",
			"configured", cfg.Layout.DefaultSplitRatio)
		cfg.Layout.DefaultSplitRatio = defaults.Layout.DefaultSplitRatio
	}
	if cfg.Layout.MinPaneWidth <= 0 {
		cfg.Layout.MinPaneWidth = defaults.Layout.MinPaneWidth
	}
	if cfg.Layout.MinPaneHeight <= 0 {
		cfg.Layout.MinPaneHeight = defaults.Layout.MinPaneHeight
	}
	if cfg.Layout.WindowGap < 0 {
		cfg.Layout.WindowGap = 0
	}
	if cfg.Layout.BorderWidth < 0 {
		cfg.Layout.BorderWidth = 0
	}

	if cfg.Theme.SearchAccentColor == "" {
		cfg.Theme.SearchAccentColor = defaults.Theme.SearchAccentColor
	}

	if cfg.Session.AutoSaveIntervalMs <= 0 {
		cfg.Session.AutoSaveIntervalMs = defaults.Session.AutoSaveIntervalMs
	}

	if cfg.Keybindings == nil {
		cfg.Keybindings = defaults.Keybindings
	}

	return nil
}

// applyEnvOverrides applies §6's environment-variable overrides on top of
// the loaded/defaulted config, taking precedence over the file.
func applyEnvOverrides(cfg *Config) {
	if v, ok := envInt("OPENMUX_WINDOW_GAP"); ok {
		cfg.Layout.WindowGap = v
	}
	if v, ok := envInt("OPENMUX_MIN_PANE_WIDTH"); ok {
		cfg.Layout.MinPaneWidth = v
	}
	if v, ok := envInt("OPENMUX_MIN_PANE_HEIGHT"); ok {
		cfg.Layout.MinPaneHeight = v
	}
	if v, ok := envFloat("OPENMUX_STACK_RATIO"); ok {
		cfg.Layout.DefaultSplitRatio = v
	}
}

// OriginalCWD returns $OPENMUX_ORIGINAL_CWD, the launch-time working
// directory an attach client records before os.Chdir-ing for shell startup.
func OriginalCWD() string {
	return os.Getenv("OPENMUX_ORIGINAL_CWD")
}

// Version returns $OPENMUX_VERSION, the build-stamped version string CLI
// commands report (e.g. `openmux --version`), or "" if unset.
func Version() string {
	return os.Getenv("OPENMUX_VERSION")
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("[WARN-config] ignoring non-integer env override", "name", name, "value", v)
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("[WARN-config] ignoring non-numeric env override", "name", name, "value", v)
		return 0, false
	}
	return f, true
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func renameFileWithRetry(sourcePath, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
