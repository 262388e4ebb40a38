package config

import (
	"os"
	"path/filepath"
	"testing"
)

func newConfigPathForTest(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("OPENMUX_CONFIG", "")
	os.Unsetenv("OPENMUX_CONFIG")
	return DefaultPath()
}

func TestPathWithinDir(t *testing.T) {
	baseDir := t.TempDir()
	configDir := filepath.Join(baseDir, "config")

	tests := []struct {
		name string
		path string
		dir  string
		want bool
	}{
		{name: "same path", path: configDir, dir: configDir, want: true},
		{name: "subdirectory path", path: filepath.Join(configDir, "sub", "config.toml"), dir: configDir, want: true},
		{name: "traversal path", path: filepath.Join(configDir, "..", "outside.toml"), dir: configDir, want: false},
		{name: "different path", path: filepath.Join(baseDir, "other", "config.toml"), dir: configDir, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := pathWithinDir(tc.path, tc.dir); got != tc.want {
				t.Fatalf("pathWithinDir(%q, %q) = %v, want %v", tc.path, tc.dir, got, tc.want)
			}
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	path := newConfigPathForTest(t)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := DefaultConfig()
	if cfg.Layout != want.Layout {
		t.Fatalf("Load() layout = %+v, want defaults %+v", cfg.Layout, want.Layout)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := newConfigPathForTest(t)
	cfg := DefaultConfig()
	cfg.Layout.WindowGap = 2
	cfg.Layout.DefaultLayoutMode = "vertical"
	cfg.Keybindings["custom-action"] = "C-x"

	saved, err := Save(path, cfg)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if saved.Layout.WindowGap != 2 {
		t.Fatalf("saved windowGap = %d, want 2", saved.Layout.WindowGap)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Layout.WindowGap != 2 || loaded.Layout.DefaultLayoutMode != "vertical" {
		t.Fatalf("loaded = %+v, want windowGap=2 mode=vertical", loaded.Layout)
	}
	if loaded.Keybindings["custom-action"] != "C-x" {
		t.Fatalf("loaded keybindings missing custom-action: %+v", loaded.Keybindings)
	}
}

func TestSaveRejectsPathOutsideConfigDir(t *testing.T) {
	newConfigPathForTest(t)
	outside := filepath.Join(t.TempDir(), "elsewhere", "config.toml")
	if _, err := Save(outside, DefaultConfig()); err == nil {
		t.Fatalf("expected Save to reject a path outside the config directory")
	}
}

func TestLoadInvalidLayoutModeErrors(t *testing.T) {
	path := newConfigPathForTest(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	raw := "[layout]\ndefaultLayoutMode = \"diagonal\"\n"
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected error for invalid defaultLayoutMode")
	}
}

func TestEnvOverridesTakePrecedenceOverFile(t *testing.T) {
	path := newConfigPathForTest(t)
	cfg := DefaultConfig()
	cfg.Layout.WindowGap = 5
	if _, err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	t.Setenv("OPENMUX_WINDOW_GAP", "9")
	t.Setenv("OPENMUX_MIN_PANE_WIDTH", "4")
	t.Setenv("OPENMUX_STACK_RATIO", "0.3")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Layout.WindowGap != 9 {
		t.Fatalf("WindowGap = %d, want env override 9", loaded.Layout.WindowGap)
	}
	if loaded.Layout.MinPaneWidth != 4 {
		t.Fatalf("MinPaneWidth = %d, want env override 4", loaded.Layout.MinPaneWidth)
	}
	if loaded.Layout.DefaultSplitRatio != 0.3 {
		t.Fatalf("DefaultSplitRatio = %v, want env override 0.3", loaded.Layout.DefaultSplitRatio)
	}
}

func TestOriginalCWDAndVersionReadEnv(t *testing.T) {
	t.Setenv("OPENMUX_ORIGINAL_CWD", "/work/dir")
	t.Setenv("OPENMUX_VERSION", "1.2.3")
	if got := OriginalCWD(); got != "/work/dir" {
		t.Fatalf("OriginalCWD() = %q", got)
	}
	if got := Version(); got != "1.2.3" {
		t.Fatalf("Version() = %q", got)
	}
}

func TestCloneDeepCopiesMaps(t *testing.T) {
	src := DefaultConfig()
	src.Theme.UI = map[string]string{"accent": "blue"}

	dst := Clone(src)
	dst.Keybindings["split-vertical"] = "mutated"
	dst.Theme.UI["accent"] = "red"

	if src.Keybindings["split-vertical"] == "mutated" {
		t.Fatalf("Clone aliased Keybindings map")
	}
	if src.Theme.UI["accent"] == "red" {
		t.Fatalf("Clone aliased Theme.UI map")
	}
}
