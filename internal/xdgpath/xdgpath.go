// Package xdgpath resolves openmux's on-disk locations under
// $XDG_CONFIG_HOME, split out of the teacher's inline LOCALAPPDATA/APPDATA
// fallback chain (internal/config.DefaultPath) into a reusable resolver
// shared by the config file, session store, and socket paths.
package xdgpath

import (
	"os"
	"path/filepath"
)

// appDirName is the directory name under the config root all of openmux's
// on-disk state lives in.
const appDirName = "openmux"

// ConfigHome resolves $XDG_CONFIG_HOME, falling back to ~/.config, then to
// os.TempDir() if the home directory cannot be resolved (matching the
// teacher's temp-dir-as-last-resort posture so a restricted environment
// still gets a usable, if non-persistent, path).
func ConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(home, ".config")
}

// AppDir is $XDG_CONFIG_HOME/openmux.
func AppDir() string {
	return filepath.Join(ConfigHome(), appDirName)
}

// ConfigFilePath is $XDG_CONFIG_HOME/openmux/config.toml, overridable via
// $OPENMUX_CONFIG for tests and alternate install layouts.
func ConfigFilePath() string {
	if v := os.Getenv("OPENMUX_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(AppDir(), "config.toml")
}

// SessionsDir is $XDG_CONFIG_HOME/openmux/sessions.
func SessionsDir() string {
	return filepath.Join(AppDir(), "sessions")
}

// TemplatesDir is $XDG_CONFIG_HOME/openmux/sessions/templates.
func TemplatesDir() string {
	return filepath.Join(SessionsDir(), "templates")
}

// SocketsDir is $XDG_CONFIG_HOME/openmux/sockets.
func SocketsDir() string {
	return filepath.Join(AppDir(), "sockets")
}

// ArchiveDir is $XDG_CONFIG_HOME/openmux/archive, the root the scrollback
// archive manager creates one subdirectory per PTY under.
func ArchiveDir() string {
	return filepath.Join(AppDir(), "archive")
}

// ShimSocketPath is the shim's Unix-domain-socket path, overridable via
// $OPENMUX_SHIM_SOCKET_PATH (used by tests and to run multiple instances).
func ShimSocketPath() string {
	if v := os.Getenv("OPENMUX_SHIM_SOCKET_PATH"); v != "" {
		return v
	}
	return filepath.Join(SocketsDir(), "openmux-shim.sock")
}

// ControlSocketPath is the control server's Unix-domain-socket path,
// overridable via $OPENMUX_CONTROL_SOCKET_PATH.
func ControlSocketPath() string {
	if v := os.Getenv("OPENMUX_CONTROL_SOCKET_PATH"); v != "" {
		return v
	}
	return filepath.Join(SocketsDir(), "openmux-ui.sock")
}
