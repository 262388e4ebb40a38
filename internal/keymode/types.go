// Package keymode implements the keyboard/mode router (component J): a
// finite state machine over {normal, prefix, search, copy, aggregate,
// confirm, move} that resolves key events against a configurable
// keybinding table and decides whether a key is consumed locally or
// forwarded to the focused PTY.
package keymode

import "time"

// Mode is one state of the router's finite mode set.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModePrefix    Mode = "prefix"
	ModeSearch    Mode = "search"
	ModeCopy      Mode = "copy"
	ModeAggregate Mode = "aggregate"
	ModeConfirm   Mode = "confirm"
	ModeMove      Mode = "move"
)

// defaultPrefixTimeout is how long the router waits in ModePrefix before
// reverting to ModeNormal, per spec §4.J.
const defaultPrefixTimeout = time.Second

// OverlayKind names one of the UI overlays whose openness can force the
// router into ModeConfirm regardless of its own key-driven state (spec
// §4.J: "transitions are driven by keybinding tables ... and by overlay
// openness").
type OverlayKind string

const (
	OverlaySessionPicker  OverlayKind = "sessionPicker"
	OverlayCommandPalette OverlayKind = "commandPalette"
	OverlayRename         OverlayKind = "rename"
	OverlayWorkspaceLabel OverlayKind = "workspaceLabel"
	OverlayTemplate       OverlayKind = "template"
)

// KeyEvent is one normalized keypress handed to the router.
type KeyEvent struct {
	// Key is a normalized chord string ("a", "C-b", "Up", "Enter", ...),
	// matched against the keybinding table.
	Key string
	// Bytes is the raw byte sequence this key would produce if forwarded
	// to a PTY as-is (already encoded by the terminal input layer for
	// everything except the cursor keys, whose encoding depends on
	// DECCKM — see encodeForPTYLocked).
	Bytes []byte
}

// Result is the router's decision for one KeyEvent.
type Result struct {
	// Handled is true when the router (or the active mode) consumed the
	// key locally. False only happens in ModeNormal for a key with no
	// binding, meaning it must be forwarded to the focused PTY.
	Handled bool
	// Action is the resolved keybinding-table action name, empty if the
	// key matched no binding.
	Action string
	// Forward is the byte sequence to send to the focused PTY when
	// Handled is false.
	Forward []byte
	// Mode is the router's mode after processing this key.
	Mode Mode
}

// Table maps a mode to its chord->action bindings. A mode absent from the
// table has no bindings of its own (the router still applies the single
// prefix-key transition out of ModeNormal and the unbound-key-in-prefix
// cancel rule regardless of table contents).
type Table map[Mode]map[string]string

// modeExitActions are action names that return the router to ModeNormal
// when resolved, regardless of which non-normal mode they fired from.
// Keyed by action name rather than by mode, so any mode's binding table can
// exit by binding one of these names (e.g. "cancel" or "exit-mode").
var modeExitActions = map[string]bool{
	"cancel":         true,
	"confirm-accept": true,
	"confirm-cancel": true,
	"exit-mode":      true,
}

// modeEntryActions maps an action name to the mode it enters, for
// transitions out of ModeNormal/ModePrefix into one of the sticky modes.
var modeEntryActions = map[string]Mode{
	"enter-search":    ModeSearch,
	"enter-copy-mode": ModeCopy,
	"enter-aggregate": ModeAggregate,
	"enter-move":      ModeMove,
}
