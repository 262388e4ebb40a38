package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/openmux/openmux/internal/archive"
	"github.com/openmux/openmux/internal/sessionlog"
	"github.com/openmux/openmux/internal/shimserver"
	"github.com/openmux/openmux/internal/wsserver"
	"github.com/openmux/openmux/internal/xdgpath"
)

const defaultArchiveMaxBytes int64 = 64 * 1024 * 1024

func main() {
	var (
		socketPath  = flag.String("socket", xdgpath.ShimSocketPath(), "shim Unix-domain socket path")
		archiveDir  = flag.String("archive-dir", xdgpath.ArchiveDir(), "scrollback archive root directory")
		maxBytes    = flag.Int64("archive-max-bytes", defaultArchiveMaxBytes, "global scrollback archive byte budget")
		debugLevel  = flag.String("log-level", "info", "log level: debug|info|warn|error")
		debugWSAddr = flag.String("debug-ws-addr", "", "optional loopback address (e.g. 127.0.0.1:0) to serve a debug WebSocket re-emitting every outgoing frame as JSON; empty disables it")
		_           = flag.Bool("shim", true, "marker flag identifying this process as the shim (set by the spawning client)")
	)
	flag.Parse()

	recent := newLogRing(200)
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*debugLevel)})
	tee := sessionlog.NewTeeHandler(base, slog.LevelWarn, recent.record)
	slog.SetDefault(slog.New(tee))

	slog.Info("[shimd] starting", "socket", *socketPath, "archiveDir", *archiveDir, "archiveMaxBytes", *maxBytes)

	arc := archive.NewManager(*archiveDir, *maxBytes, archive.Options{})
	d := newDaemon(arc)
	server := shimserver.NewServer(*socketPath, d)
	d.server = server

	var debugHub *wsserver.Hub
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *debugWSAddr != "" {
		debugHub = wsserver.NewHub(wsserver.HubOptions{Addr: *debugWSAddr})
		if err := debugHub.Start(ctx); err != nil {
			slog.Error("[shimd] failed to start debug websocket", "error", err)
			os.Exit(1)
		}
		server.SetDebugHub(debugHub)
		slog.Info("[shimd] debug websocket listening", "url", debugHub.URL())
	}

	if err := server.Start(); err != nil {
		slog.Error("[shimd] failed to start", "error", err)
		os.Exit(1)
	}
	slog.Info("[shimd] listening", "socket", *socketPath, "pid", os.Getpid())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	slog.Info("[shimd] shutdown requested", "at", time.Now().Format(time.RFC3339))
	if _, err := d.handleDestroyAll(nil); err != nil {
		slog.Warn("[shimd] destroyAll during shutdown failed", "error", err)
	}
	if err := server.Stop(); err != nil {
		slog.Warn("[shimd] server stop failed", "error", err)
	}
	if debugHub != nil {
		if err := debugHub.Stop(); err != nil {
			slog.Warn("[shimd] debug websocket stop failed", "error", err)
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logRing keeps the most recent bounded number of warn-or-above log
// entries in memory, fed by a sessionlog.TeeHandler, for future
// introspection (e.g. a "session log" surface) without a second logging
// pipeline.
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
