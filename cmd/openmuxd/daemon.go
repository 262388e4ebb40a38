// Package main implements openmuxd, the detachable shim process that owns
// every PTY (component D/E): it spawns shells, drives them through a VT
// emulator, keeps a disk-backed scrollback archive, and multiplexes state
// to at most one attached UI client over a Unix-domain socket.
//
// Structurally this is the teacher's cmd/go-tmux daemon (session manager +
// pipe server + command router) generalized from its Windows named-pipe /
// tmux-command surface to the spec's PTY/shim protocol.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openmux/openmux/internal/archive"
	"github.com/openmux/openmux/internal/ptyhost"
	"github.com/openmux/openmux/internal/shimserver"
	"github.com/openmux/openmux/internal/wire"
)

// paneMapEntry is one (sessionId, paneId) -> ptyId registration, used by
// the UI process to adopt existing PTYs across a session switch instead of
// spawning new ones (sessionstore.Store.Switch's PTYCoordinator seam).
type paneMapEntry struct {
	PaneID string `json:"paneId"`
	PtyID  string `json:"ptyId"`
}

// sessionPaneRef is the reverse side of the sessionId -> paneId -> ptyId
// mapping table (spec §3's "reverse index ptyId → {sessionId, paneId}
// maintained in lock-step"), kept so getSession can answer in O(1) instead
// of scanning every session's pane map.
type sessionPaneRef struct {
	SessionID string `json:"sessionId"`
	PaneID    string `json:"paneId"`
}

// ptyEntry is everything the daemon tracks for one live or suspended PTY.
type ptyEntry struct {
	session    *ptyhost.Session
	archive    *archive.Archive
	initialCwd string
}

// daemon implements shimserver.Handler, dispatching each request method to
// a dedicated handler function keyed by name, mirroring the teacher's
// CommandRouter.handlers dispatch table.
type daemon struct {
	startedAt time.Time
	arc       *archive.Manager

	mu         sync.Mutex
	ptys       map[string]*ptyEntry
	sessions   map[string]map[string]string // sessionID -> paneID -> ptyID
	ptySession map[string]sessionPaneRef    // ptyID -> (sessionID, paneID), reverse of sessions

	server *shimserver.Server

	handlers map[string]func(payload []byte) ([]byte, error)
}

func newDaemon(arc *archive.Manager) *daemon {
	d := &daemon{
		startedAt:  time.Now(),
		arc:        arc,
		ptys:       make(map[string]*ptyEntry),
		sessions:   make(map[string]map[string]string),
		ptySession: make(map[string]sessionPaneRef),
	}
	d.handlers = map[string]func([]byte) ([]byte, error){
		"hello":                d.handleHello,
		"setHostColors":        d.handleSetHostColors,
		"createPty":            d.handleCreatePty,
		"write":                d.handleWrite,
		"resize":               d.handleResize,
		"destroy":              d.handleDestroy,
		"destroyAll":           d.handleDestroyAll,
		"shutdown":             d.handleShutdown,
		"setPanePosition":      d.handleSetPanePosition,
		"getCwd":               d.handleGetCwd,
		"getTerminalState":     d.handleGetTerminalState,
		"getScrollState":       d.handleGetScrollState,
		"setScrollOffset":      d.handleSetScrollOffset,
		"pty.resume":           d.handleResume,
		"pty.suspend":          d.handleSuspend,
		"getScrollbackLines":   d.handleGetScrollbackLines,
		"search":               d.handleSearch,
		"listAll":              d.handleListAll,
		"getSession":           d.handleGetSession,
		"getForegroundProcess": d.handleGetForegroundProcess,
		"registerPane":         d.handleRegisterPane,
		"getSessionMapping":    d.handleGetSessionMapping,
	}
	return d
}

// Handle implements shimserver.Handler.
func (d *daemon) Handle(method string, payload []byte) ([]byte, error) {
	h, ok := d.handlers[method]
	if !ok {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, "unknown method: "+method)
	}
	return h(payload)
}

type helloParams struct {
	ClientID string `json:"clientId"`
	Version  string `json:"version"`
}

type helloResult struct {
	Pid int `json:"pid"`
}

// handleHello answers {pid} and pushes a full-state snapshot for every
// live PTY to the now-attached client, per spec §4.E's hello/attach flow.
func (d *daemon) handleHello(payload []byte) ([]byte, error) {
	var params helloParams
	_ = shimserver.UnmarshalParams(payload, &params)
	slog.Info("[shimd] hello", "clientId", params.ClientID, "version", params.Version)

	d.mu.Lock()
	snapshot := make(map[string]*ptyEntry, len(d.ptys))
	for id, e := range d.ptys {
		snapshot[id] = e
	}
	d.mu.Unlock()

	for id, e := range snapshot {
		full := e.session.FullState()
		payload := wire.PackUpdate(wire.UpdateHeader{
			Cols: full.Cols, Rows: full.Rows, Cursor: full.Cursor, ModeFlags: full.ModeFlags, IsFull: true,
			Scroll: e.session.ScrollState(),
		}, &full, nil)
		d.server.PushEvent(shimserver.EventPtyUpdate, id, payload)
	}

	return json.Marshal(helloResult{Pid: os.Getpid()})
}

type setHostColorsParams struct {
	Colors map[string]string `json:"colors"`
}

// handleSetHostColors is a no-op acknowledgement: openmux's theme lives in
// config.toml on the UI side, so the shim has nothing to apply beyond
// reporting receipt (kept as a method for wire-protocol parity with §4.E's
// table rather than silently rejecting it).
func (d *daemon) handleSetHostColors(payload []byte) ([]byte, error) {
	var params setHostColorsParams
	_ = shimserver.UnmarshalParams(payload, &params)
	return json.Marshal(map[string]bool{"applied": true})
}

type createPtyParams struct {
	Cols  int      `json:"cols"`
	Rows  int      `json:"rows"`
	Cwd   string   `json:"cwd"`
	Shell string   `json:"shell"`
	Args  []string `json:"args"`
	Env   []string `json:"env"`
}

type createPtyResult struct {
	PtyID string `json:"ptyId"`
}

func (d *daemon) handleCreatePty(payload []byte) ([]byte, error) {
	var params createPtyParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	if params.Cols <= 0 {
		params.Cols = 80
	}
	if params.Rows <= 0 {
		params.Rows = 24
	}

	ptyID := uuid.NewString()
	arc, err := d.arc.Open(ptyID)
	if err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInternal, "open archive: "+err.Error())
	}

	sess, err := ptyhost.NewSession(ptyID, ptyhost.Config{
		Shell: params.Shell, Args: params.Args, Dir: params.Cwd, Env: params.Env,
		Columns: params.Cols, Rows: params.Rows,
	}, arc, d.onUpdate(ptyID), d.onExit(ptyID), d.onTitle(ptyID))
	if err != nil {
		_ = d.arc.Close(ptyID)
		return nil, shimserver.NewRequestError(shimserver.ErrInternal, "spawn pty: "+err.Error())
	}

	d.mu.Lock()
	d.ptys[ptyID] = &ptyEntry{session: sess, archive: arc, initialCwd: params.Cwd}
	d.mu.Unlock()

	d.server.PushEvent(shimserver.EventPtyLifecycle, ptyID, mustJSON(map[string]string{"state": "created"}))

	return json.Marshal(createPtyResult{PtyID: ptyID})
}

type ptyIDParams struct {
	PtyID string `json:"ptyId"`
}

func (d *daemon) lookup(ptyID string) (*ptyEntry, error) {
	d.mu.Lock()
	e, ok := d.ptys[ptyID]
	d.mu.Unlock()
	if !ok {
		return nil, shimserver.NewRequestError(shimserver.ErrNotFound, "no such pty: "+ptyID)
	}
	return e, nil
}

type writeParams struct {
	PtyID string `json:"ptyId"`
	Data  []byte `json:"data"`
}

func (d *daemon) handleWrite(payload []byte) ([]byte, error) {
	var params writeParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	_, werr := e.session.WriteInput(params.Data)
	if werr != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInternal, werr.Error())
	}
	return nil, nil
}

type resizeParams struct {
	PtyID        string `json:"ptyId"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
	PixelWidth   int    `json:"pixelWidth,omitempty"`
	PixelHeight  int    `json:"pixelHeight,omitempty"`
}

func (d *daemon) handleResize(payload []byte) ([]byte, error) {
	var params resizeParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	if rerr := e.session.Resize(params.Cols, params.Rows); rerr != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInternal, rerr.Error())
	}
	return nil, nil
}

func (d *daemon) handleDestroy(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	d.destroyOne(params.PtyID)
	return nil, nil
}

func (d *daemon) destroyOne(ptyID string) {
	d.mu.Lock()
	e, ok := d.ptys[ptyID]
	if ok {
		delete(d.ptys, ptyID)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	if err := e.session.Close(); err != nil {
		slog.Warn("[shimd] close pty failed", "ptyId", ptyID, "error", err)
	}
	if err := d.arc.Close(ptyID); err != nil {
		slog.Warn("[shimd] close archive failed", "ptyId", ptyID, "error", err)
	}
	d.forgetFromSessions(ptyID)
	if d.server != nil {
		d.server.PushEvent(shimserver.EventPtyLifecycle, ptyID, mustJSON(map[string]string{"state": "destroyed"}))
	}
}

func (d *daemon) forgetFromSessions(ptyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for sid, panes := range d.sessions {
		for pid, pty := range panes {
			if pty == ptyID {
				delete(panes, pid)
			}
		}
		if len(panes) == 0 {
			delete(d.sessions, sid)
		}
	}
	delete(d.ptySession, ptyID)
}

func (d *daemon) handleDestroyAll(payload []byte) ([]byte, error) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.ptys))
	for id := range d.ptys {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.destroyOne(id)
	}
	return nil, nil
}

func (d *daemon) handleShutdown(payload []byte) ([]byte, error) {
	go func() {
		time.Sleep(10 * time.Millisecond)
		os.Exit(0)
	}()
	return nil, nil
}

type setPanePositionParams struct {
	PtyID string `json:"ptyId"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}

// handleSetPanePosition records nothing server-side: pane geometry is
// owned by the UI's layout engine (internal/layout), not the shim, which
// only needs a PTY's (cols, rows). Kept for wire parity with §4.E.
func (d *daemon) handleSetPanePosition(payload []byte) ([]byte, error) {
	return nil, nil
}

type getCwdResult struct {
	Cwd string `json:"cwd"`
}

func (d *daemon) handleGetCwd(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	cwd := e.initialCwd
	if live, ok := readProcessCwd(e.session.PID()); ok {
		cwd = live
	}
	return json.Marshal(getCwdResult{Cwd: cwd})
}

// handleGetTerminalState returns a packed wire.FullState directly as the
// response payload (not JSON-wrapped), matching shimclient's RequestRaw +
// wire.UnpackFullState pairing.
func (d *daemon) handleGetTerminalState(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	return wire.PackFullState(e.session.FullState()), nil
}

// handleGetScrollState answers with a PTY's current scroll viewport
// position, per spec §4.E's getScrollState entry.
func (d *daemon) handleGetScrollState(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(e.session.ScrollState())
}

type setScrollOffsetParams struct {
	PtyID  string `json:"ptyId"`
	Offset int    `json:"offset"`
}

// handleSetScrollOffset moves a PTY's scrollback viewport, per spec §4.E's
// setScrollOffset entry; the client already knows the resulting state from
// its own request and from the ScrollState riding every subsequent
// ptyUpdate, so no result is returned.
func (d *daemon) handleSetScrollOffset(payload []byte) ([]byte, error) {
	var params setScrollOffsetParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	e.session.SetScrollOffset(params.Offset)
	return nil, nil
}

func (d *daemon) handleResume(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	full := e.session.Resume()
	return wire.PackFullState(full), nil
}

func (d *daemon) handleSuspend(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	e.session.Suspend()
	return nil, nil
}

type scrollbackLinesParams struct {
	PtyID string `json:"ptyId"`
	From  int    `json:"from"`
	To    int    `json:"to"`
}

type scrollbackLinesResult struct {
	Rows map[string][]byte `json:"rows"`
}

func (d *daemon) handleGetScrollbackLines(payload []byte) ([]byte, error) {
	var params scrollbackLinesParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}

	archLen := e.archive.Length()
	out := make(map[string][]byte, params.To-params.From)
	full := e.session.FullState()
	for offset := params.From; offset < params.To; offset++ {
		var row wire.Row
		if offset < archLen {
			row, err = e.archive.GetLine(offset)
			if err != nil {
				continue
			}
		} else {
			idx := offset - archLen
			if idx < 0 || idx >= len(full.Grid) {
				continue
			}
			row = full.Grid[idx]
		}
		out[fmt.Sprintf("%d", offset)] = wire.PackRow(nil, row)
	}
	return json.Marshal(scrollbackLinesResult{Rows: out})
}

const defaultSearchLimit = 100

type searchParams struct {
	PtyID string `json:"ptyId"`
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// searchMatch is one hit location: offset is an absolute scrollback
// position (archive lines first, then the live grid, matching
// getScrollbackLines' numbering), col is the match's starting column.
type searchMatch struct {
	Offset int `json:"offset"`
	Col    int `json:"col"`
}

type searchResult struct {
	Matches []searchMatch `json:"matches"`
	HasMore bool          `json:"hasMore"`
}

// handleSearch scans a PTY's full visible history (scrollback archive
// followed by the live grid) for query as a plain substring, per spec
// §4.E's search entry. It stops as soon as limit matches are found and
// reports hasMore rather than scanning the remainder, since copy-mode only
// ever needs the next page.
func (d *daemon) handleSearch(payload []byte) ([]byte, error) {
	var params searchParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	if params.Query == "" {
		return json.Marshal(searchResult{})
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}

	archLen := e.archive.Length()
	full := e.session.FullState()
	totalLines := archLen + len(full.Grid)

	matches := make([]searchMatch, 0, limit)
	hasMore := false
	for offset := 0; offset < totalLines; offset++ {
		var row wire.Row
		if offset < archLen {
			row, err = e.archive.GetLine(offset)
			if err != nil || row == nil {
				continue
			}
		} else {
			row = full.Grid[offset-archLen]
		}
		col := strings.Index(rowText(row), params.Query)
		if col < 0 {
			continue
		}
		if len(matches) >= limit {
			hasMore = true
			break
		}
		matches = append(matches, searchMatch{Offset: offset, Col: col})
	}
	return json.Marshal(searchResult{Matches: matches, HasMore: hasMore})
}

// rowText renders a row's glyphs as plain text for substring search,
// skipping wide-glyph continuation cells (width 0) the same way copy-mode
// extraction does per spec §4.K.
func rowText(row wire.Row) string {
	var b strings.Builder
	for _, c := range row {
		if c.Width == 0 {
			continue
		}
		if c.Codepoint == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(c.Codepoint)
	}
	return b.String()
}

type getSessionResult struct {
	Session *sessionPaneRef `json:"session,omitempty"`
}

// handleGetSession answers a PTY's owning (sessionId, paneId), via the
// reverse mapping kept in lock-step by registerPane/forgetFromSessions, per
// spec §4.E's getSession entry. Session is omitted (nil) if the PTY has
// never been registered to a pane.
func (d *daemon) handleGetSession(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	if _, err := d.lookup(params.PtyID); err != nil {
		return nil, err
	}
	d.mu.Lock()
	ref, ok := d.ptySession[params.PtyID]
	d.mu.Unlock()
	if !ok {
		return json.Marshal(getSessionResult{})
	}
	return json.Marshal(getSessionResult{Session: &ref})
}

type foregroundProcess struct {
	Pid     int    `json:"pid"`
	Command string `json:"command"`
}

type getForegroundProcessResult struct {
	Process *foregroundProcess `json:"process,omitempty"`
}

// handleGetForegroundProcess answers the PTY shell's current foreground
// child (e.g. an editor or build running inside the pane), per spec
// §4.E's getForegroundProcess entry. Process is omitted when none can be
// resolved (no child running, or a non-Linux platform).
func (d *daemon) handleGetForegroundProcess(payload []byte) ([]byte, error) {
	var params ptyIDParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	e, err := d.lookup(params.PtyID)
	if err != nil {
		return nil, err
	}
	pid, command, ok := readForegroundProcess(e.session.PID())
	if !ok {
		return json.Marshal(getForegroundProcessResult{})
	}
	return json.Marshal(getForegroundProcessResult{Process: &foregroundProcess{Pid: pid, Command: command}})
}

type listAllResult struct {
	PtyIDs []string `json:"ptyIds"`
}

func (d *daemon) handleListAll(payload []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.ptys))
	for id := range d.ptys {
		ids = append(ids, id)
	}
	return json.Marshal(listAllResult{PtyIDs: ids})
}

type registerPaneParams struct {
	SessionID string `json:"sessionId"`
	PaneID    string `json:"paneId"`
	PtyID     string `json:"ptyId"`
}

func (d *daemon) handleRegisterPane(payload []byte) ([]byte, error) {
	var params registerPaneParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	panes, ok := d.sessions[params.SessionID]
	if !ok {
		panes = make(map[string]string)
		d.sessions[params.SessionID] = panes
	}
	panes[params.PaneID] = params.PtyID
	d.ptySession[params.PtyID] = sessionPaneRef{SessionID: params.SessionID, PaneID: params.PaneID}
	return nil, nil
}

type getSessionMappingParams struct {
	SessionID string `json:"sessionId"`
}

type getSessionMappingResult struct {
	Entries []paneMapEntry `json:"entries"`
}

func (d *daemon) handleGetSessionMapping(payload []byte) ([]byte, error) {
	var params getSessionMappingParams
	if err := shimserver.UnmarshalParams(payload, &params); err != nil {
		return nil, shimserver.NewRequestError(shimserver.ErrInvalidRequest, err.Error())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	panes := d.sessions[params.SessionID]
	entries := make([]paneMapEntry, 0, len(panes))
	for paneID, ptyID := range panes {
		entries = append(entries, paneMapEntry{PaneID: paneID, PtyID: ptyID})
	}
	return json.Marshal(getSessionMappingResult{Entries: entries})
}

// onUpdate publishes each dirty/full update as a ptyUpdate event and
// re-checks the archive manager's global byte budget on every update, since
// ptyhost.Session appends evicted rows directly to its own archive without
// going through Manager.Append.
func (d *daemon) onUpdate(ptyID string) func(ptyhost.Update) {
	return func(u ptyhost.Update) {
		payload := wire.PackUpdate(wire.UpdateHeader{
			Cols: u.Cols, Rows: u.Rows, Cursor: u.Cursor, ModeFlags: u.ModeFlags, IsFull: u.IsFull,
			Scroll: u.Scroll,
		}, u.Full, u.Dirty)
		d.server.PushEvent(shimserver.EventPtyUpdate, ptyID, payload)
		if err := d.arc.EnforceGlobalLimit(); err != nil {
			slog.Warn("[shimd] enforce archive budget failed", "error", err)
		}
	}
}

func (d *daemon) onExit(ptyID string) func(error) {
	return func(exitErr error) {
		msg := ""
		if exitErr != nil {
			msg = exitErr.Error()
		}
		d.server.PushEvent(shimserver.EventPtyExit, ptyID, mustJSON(map[string]string{"error": msg}))
	}
}

func (d *daemon) onTitle(ptyID string) func(string) {
	return func(title string) {
		d.server.PushEvent(shimserver.EventPtyTitle, ptyID, mustJSON(map[string]string{"title": title}))
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
