package keymode

import (
	"sync"
	"time"
)

// Router is the stateful keyboard/mode dispatcher. Safe for concurrent use;
// in practice keys arrive from a single input goroutine, but SetOverlayOpen
// and SetCursorKeyMode may be called from whatever goroutine owns UI/PTY
// state.
type Router struct {
	mu sync.Mutex

	prefixKey     string
	table         Table
	prefixTimeout time.Duration
	now           func() time.Time

	mode           Mode
	prefixDeadline time.Time

	openOverlays  map[OverlayKind]bool
	preOverlayMode Mode

	cursorKeyApplication bool
}

// NewRouter builds a Router bound to prefixKey (e.g. "C-b") and table. A
// zero prefixTimeout uses the spec default of one second.
func NewRouter(prefixKey string, table Table, prefixTimeout time.Duration) *Router {
	if prefixTimeout <= 0 {
		prefixTimeout = defaultPrefixTimeout
	}
	return &Router{
		prefixKey:     prefixKey,
		table:         table,
		prefixTimeout: prefixTimeout,
		now:           time.Now,
		mode:          ModeNormal,
		openOverlays:  make(map[OverlayKind]bool),
	}
}

// Mode returns the router's current mode (ignoring any open overlay's
// ModeConfirm override — use EffectiveMode for that).
func (r *Router) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// EffectiveMode is the mode HandleKey actually dispatches against: any
// open overlay forces ModeConfirm regardless of the router's own state.
func (r *Router) EffectiveMode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effectiveModeLocked()
}

func (r *Router) effectiveModeLocked() Mode {
	if r.anyOverlayOpenLocked() {
		return ModeConfirm
	}
	return r.mode
}

func (r *Router) anyOverlayOpenLocked() bool {
	for _, open := range r.openOverlays {
		if open {
			return true
		}
	}
	return false
}

// SetOverlayOpen records kind's open/closed state. Opening the first
// overlay snapshots the router's pre-overlay mode so closing the last
// overlay can restore it; opening further overlays while one is already
// open does not re-snapshot.
func (r *Router) SetOverlayOpen(kind OverlayKind, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wasOpen := r.anyOverlayOpenLocked()
	if open {
		r.openOverlays[kind] = true
	} else {
		delete(r.openOverlays, kind)
	}
	nowOpen := r.anyOverlayOpenLocked()

	if !wasOpen && nowOpen {
		r.preOverlayMode = r.mode
	} else if wasOpen && !nowOpen {
		r.mode = r.preOverlayMode
	}
}

// SetClock overrides the router's time source, for deterministic prefix
// timeout tests.
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// SetCursorKeyMode records the focused PTY's DECCKM state (bit
// wire.ModeCursorKeyApplication), consulted by encodeForPTYLocked when
// forwarding an unhandled normal-mode cursor key.
func (r *Router) SetCursorKeyMode(applicationMode bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursorKeyApplication = applicationMode
}

// HandleKey resolves one key event against the router's current state.
func (r *Router) HandleKey(ev KeyEvent) Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.expirePrefixLocked()

	mode := r.effectiveModeLocked()

	// The prefix key itself is a normal-mode-only transition into
	// ModePrefix, taking priority over any table entry for it.
	if mode == ModeNormal && ev.Key == r.prefixKey {
		r.mode = ModePrefix
		r.prefixDeadline = r.now().Add(r.prefixTimeout)
		return Result{Handled: true, Action: "prefix", Mode: r.mode}
	}

	action, bound := r.table[mode][ev.Key]
	if !bound {
		if mode == ModePrefix {
			// An unbound key while awaiting a prefix chord cancels back
			// to normal rather than leaving the router stuck.
			r.mode = ModeNormal
			return Result{Handled: true, Mode: r.mode}
		}
		if mode == ModeNormal {
			return Result{Handled: false, Forward: r.encodeForPTYLocked(ev), Mode: r.mode}
		}
		// Any other mode (search/copy/aggregate/move/confirm) owns its
		// own key handling beyond the table; the router just marks the
		// key as consumed so it never reaches the PTY.
		return Result{Handled: true, Mode: r.mode}
	}

	if modeExitActions[action] {
		r.mode = ModeNormal
	} else if entry, ok := modeEntryActions[action]; ok {
		r.mode = entry
	} else if mode == ModePrefix {
		// A bound prefix chord that isn't itself a mode transition
		// (e.g. "split-horizontal") returns to normal once dispatched.
		r.mode = ModeNormal
	}

	return Result{Handled: true, Action: action, Mode: r.mode}
}

// expirePrefixLocked reverts ModePrefix to ModeNormal once the prefix
// timeout has elapsed without a following chord.
func (r *Router) expirePrefixLocked() {
	if r.mode == ModePrefix && !r.prefixDeadline.IsZero() && r.now().After(r.prefixDeadline) {
		r.mode = ModeNormal
	}
}
