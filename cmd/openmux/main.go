// Command openmux is the attached terminal-multiplexer UI and its
// companion CLI: run with no subcommand it attaches a full-screen session
// to the current terminal; every other subcommand speaks the control
// protocol (component I) to an already-running UI process, or falls back
// to direct session-store access where the operation doesn't need one.
//
// Structurally this is the teacher's myT-x Wails frontend's command
// surface reworked as a terminal UI: no window, no IPC bridge to a
// browser runtime — stdin/stdout and two Unix-domain sockets instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openmux/openmux/internal/config"
	"github.com/openmux/openmux/internal/control"
	"github.com/openmux/openmux/internal/sessionlog"
	"github.com/openmux/openmux/internal/sessionstore"
	"github.com/openmux/openmux/internal/shimclient"
	"github.com/openmux/openmux/internal/xdgpath"
)

func main() {
	root := &cobra.Command{
		Use:   "openmux",
		Short: "terminal multiplexer",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			return runAttach(session)
		},
	}
	root.Flags().String("session", "", "session name or id to attach to")

	attach := &cobra.Command{
		Use:   "attach",
		Short: "attach to a session (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, _ := cmd.Flags().GetString("session")
			return runAttach(session)
		},
	}
	attach.Flags().String("session", "", "session name or id to attach to")
	root.AddCommand(attach)

	root.AddCommand(sessionCmd())
	root.AddCommand(paneCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "openmux:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a returned error to the CLI's process exit status per
// spec §4.I: a *control.RequestError carries a taxonomy code; a dial
// failure against the control socket means no UI is attached; anything
// else (flag parsing, I/O) is a plain internal failure.
func exitCodeFor(err error) int {
	var reqErr *control.RequestError
	if errors.As(err, &reqErr) {
		return int(control.ExitCodeForError(reqErr.Code))
	}
	if errors.Is(err, control.ErrNoUIConnection) {
		return int(control.ExitNoUI)
	}
	return int(control.ExitInternal)
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "manage sessions"}

	list := &cobra.Command{
		Use:   "list",
		Short: "list known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			store, err := sessionstore.Open(xdgpath.SessionsDir())
			if err != nil {
				return err
			}
			sessions := store.List()
			if asJSON {
				b, err := json.Marshal(sessions)
				if err != nil {
					return err
				}
				fmt.Println(string(b))
				return nil
			}
			active := store.ActiveSessionID()
			for _, s := range sessions {
				marker := " "
				if s.ID == active {
					marker = "*"
				}
				fmt.Printf("%s %s\t%s\n", marker, s.ID, s.Name)
			}
			return nil
		},
	}
	list.Flags().Bool("json", false, "emit JSON instead of a table")
	cmd.AddCommand(list)

	create := &cobra.Command{
		Use:   "create [name]",
		Short: "create a new session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return sessionCreate(name)
		},
	}
	cmd.AddCommand(create)

	return cmd
}

// sessionCreate asks a running UI process to create the session (so it
// shows up in that process's live state immediately); with no UI attached
// there's nothing live to notify, so it falls back to creating the
// session directly in the store for a later `openmux attach` to pick up.
func sessionCreate(name string) error {
	client, err := control.Dial(xdgpath.ControlSocketPath(), time.Second)
	if err == nil {
		defer client.Close()
		var meta sessionstore.Metadata
		if err := client.Request(control.MethodSessionCreate, control.SessionCreateParams{Name: name}, &meta); err != nil {
			return err
		}
		fmt.Println(meta.ID)
		return nil
	}

	store, serr := sessionstore.Open(xdgpath.SessionsDir())
	if serr != nil {
		return serr
	}
	if name == "" {
		name = defaultSessionName()
	}
	meta, serr := store.Create(name)
	if serr != nil {
		return serr
	}
	fmt.Println(meta.ID)
	return nil
}

func paneCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "pane", Short: "manipulate panes of a running session"}

	split := &cobra.Command{
		Use:   "split",
		Short: "split a pane",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("direction")
			ws, _ := cmd.Flags().GetString("workspace")
			pane, _ := cmd.Flags().GetString("pane")
			client, err := control.Dial(xdgpath.ControlSocketPath(), time.Second)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.Request(control.MethodPaneSplit, control.PaneSplitParams{
				Direction: dir, WorkspaceID: ws, Pane: pane,
			}, nil)
		},
	}
	split.Flags().String("direction", "horizontal", "vertical|horizontal")
	split.Flags().String("workspace", "", "workspace id (1-9)")
	split.Flags().String("pane", "", "pane selector")
	cmd.AddCommand(split)

	send := &cobra.Command{
		Use:   "send",
		Short: "send text to a pane",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, _ := cmd.Flags().GetString("text")
			ws, _ := cmd.Flags().GetString("workspace")
			pane, _ := cmd.Flags().GetString("pane")
			client, err := control.Dial(xdgpath.ControlSocketPath(), time.Second)
			if err != nil {
				return err
			}
			defer client.Close()
			return client.Request(control.MethodPaneSend, control.PaneSendParams{
				Text: text, WorkspaceID: ws, Pane: pane,
			}, nil)
		},
	}
	send.Flags().String("text", "", "text to send, honouring \\n \\r \\t \\xHH \\uXXXX \\u{...} escapes")
	send.Flags().String("workspace", "", "workspace id (1-9)")
	send.Flags().String("pane", "", "pane selector")
	cmd.AddCommand(send)

	capture := &cobra.Command{
		Use:   "capture",
		Short: "capture a pane's screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, _ := cmd.Flags().GetInt("lines")
			format, _ := cmd.Flags().GetString("format")
			raw, _ := cmd.Flags().GetBool("raw")
			ws, _ := cmd.Flags().GetString("workspace")
			pane, _ := cmd.Flags().GetString("pane")
			client, err := control.Dial(xdgpath.ControlSocketPath(), time.Second)
			if err != nil {
				return err
			}
			defer client.Close()
			var result control.PaneCaptureResult
			err = client.Request(control.MethodPaneCapture, control.PaneCaptureParams{
				Lines: lines, Format: control.CaptureFormat(format), Raw: raw,
				WorkspaceID: ws, Pane: pane,
			}, &result)
			if err != nil {
				return err
			}
			fmt.Println(result.Text)
			return nil
		},
	}
	capture.Flags().Int("lines", 0, "number of lines to capture (0 = full visible screen)")
	capture.Flags().String("format", "text", "text|ansi")
	capture.Flags().Bool("raw", false, "preserve trailing whitespace/blank lines")
	capture.Flags().String("workspace", "", "workspace id (1-9)")
	capture.Flags().String("pane", "", "pane selector")
	cmd.AddCommand(capture)

	return cmd
}

// runAttach is the default command: load (or create) a session, connect
// to the shim (spawning it if necessary), start the control-plane server,
// and run the render/input loop until detach.
func runAttach(sessionSelector string) error {
	closeLog, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	cfgPath := config.DefaultPath()
	cfg, err := config.EnsureFile(cfgPath)
	if err != nil {
		return fmt.Errorf("openmux: load config: %w", err)
	}

	if err := os.MkdirAll(xdgpath.SocketsDir(), 0o700); err != nil {
		return err
	}
	store, err := sessionstore.Open(xdgpath.SessionsDir())
	if err != nil {
		return fmt.Errorf("openmux: open session store: %w", err)
	}

	shimBinary, _ := findSibling("openmuxd")
	var app *App
	shim, err := shimclient.Connect(shimclient.Config{
		SocketPath: xdgpath.ShimSocketPath(),
		ShimBinary: shimBinary,
		SpawnArgs:  []string{"--socket", xdgpath.ShimSocketPath()},
	}, func(event, ptyID string, payload []byte) { app.handleShimEvent(event, ptyID, payload) },
		func() { app.onDetached() })
	if err != nil {
		return fmt.Errorf("openmux: connect to shim: %w", err)
	}
	defer shim.Close()

	app = newApp(cfg, cfgPath, store, shim)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.loadOrCreateSession(ctx, sessionSelector); err != nil {
		return err
	}
	defer app.autosave.Stop()

	ctrlServer := control.NewServer(xdgpath.ControlSocketPath(), app)
	if err := ctrlServer.Start(); err != nil {
		return fmt.Errorf("openmux: start control server: %w", err)
	}
	defer ctrlServer.Stop()

	if err := shim.Request(ctx, "hello", map[string]string{"clientId": "openmux"}, nil); err != nil {
		return fmt.Errorf("openmux: hello: %w", err)
	}

	return app.runLoop(ctx)
}

// findSibling resolves name relative to this executable's directory, the
// conventional install layout for openmux's two binaries.
func findSibling(name string) (string, error) {
	self, err := os.Executable()
	if err != nil {
		return name, nil
	}
	return filepath.Join(filepath.Dir(self), name), nil
}

// setupLogging points the default logger at a file under the app
// directory instead of stderr, since stderr shares the terminal the raw
// mode UI draws into, and tees warn-or-above records into an in-memory
// ring for a future "session log" surface — the same pattern
// cmd/openmuxd's main.go uses, minus the daemon's ring actually being
// exposed anywhere yet.
func setupLogging() (func(), error) {
	path := filepath.Join(xdgpath.AppDir(), "openmux.log")
	if err := os.MkdirAll(xdgpath.AppDir(), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("openmux: open log file: %w", err)
	}
	recent := newLogRing(200)
	base := slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo})
	tee := sessionlog.NewTeeHandler(base, slog.LevelWarn, recent.record)
	slog.SetDefault(slog.New(tee))
	return func() { f.Close() }, nil
}

type logRing struct {
	mu      sync.Mutex
	cap     int
	entries []string
}

func newLogRing(cap int) *logRing {
	return &logRing{cap: cap}
}

func (r *logRing) record(ts time.Time, level slog.Level, msg string, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, ts.Format(time.RFC3339)+" "+level.String()+" "+msg)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

// runLoop enters raw mode, starts the input and render goroutines, and
// blocks until detach or a terminating signal.
func (a *App) runLoop(ctx context.Context) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("openmux: set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, os.Interrupt, syscall.SIGTERM)

	go a.runInput(ctx, os.Stdin)

	cols, rows, _ := term.GetSize(fd)
	a.render(os.Stdout, cols, rows)

	for {
		select {
		case <-a.detach:
			fmt.Fprint(os.Stdout, "\x1b[2J\x1b[H")
			return nil
		case <-sigterm:
			fmt.Fprint(os.Stdout, "\x1b[2J\x1b[H")
			return nil
		case <-sigwinch:
			cols, rows, _ = term.GetSize(fd)
			a.resizeFocused(ctx, cols, rows)
			a.render(os.Stdout, cols, rows)
		case <-a.needsRender:
			cols, rows, _ = term.GetSize(fd)
			a.render(os.Stdout, cols, rows)
		}
	}
}
