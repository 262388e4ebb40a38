package sessionstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openmux/openmux/internal/workerutil"
)

// defaultAutoSaveInterval is how often the time-driven autosave loop
// flushes, independent of any layoutVersion-triggered save.
const defaultAutoSaveInterval = 30 * time.Second

// AutoSaver periodically persists whatever document docFn returns, and also
// saves when versionFn's layoutVersion changes, polled every 250ms,
// alongside the time-driven save.
type AutoSaver struct {
	store    *Store
	docFn    func() (Document, bool)
	interval time.Duration

	mu           sync.Mutex
	lastVersion  uint64
	versionFn    func() uint64
	triggerCh    chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewAutoSaver builds an AutoSaver bound to store. docFn returns the
// current in-memory document to persist (false if there's nothing to save
// right now, e.g. during startup before a session is loaded). versionFn
// returns the current layoutVersion; a change since the last save triggers
// an immediate flush instead of waiting for the next interval tick.
func NewAutoSaver(store *Store, docFn func() (Document, bool), versionFn func() uint64) *AutoSaver {
	return &AutoSaver{
		store:     store,
		docFn:     docFn,
		interval:  defaultAutoSaveInterval,
		versionFn: versionFn,
		triggerCh: make(chan struct{}, 1),
	}
}

// Start launches the autosave loop, supervised with panic recovery like
// every other long-running goroutine in this codebase.
func (a *AutoSaver) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	workerutil.RunWithPanicRecovery(ctx, "sessionstore.autosave", &a.wg, a.run, workerutil.RecoveryOptions{})
}

func (a *AutoSaver) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flush()
		case <-poll.C:
			a.checkVersionBump()
		case <-a.triggerCh:
			a.flush()
		}
	}
}

// checkVersionBump compares the current layoutVersion against the last
// seen one; a change schedules an immediate save without waiting for the
// next ticker interval.
func (a *AutoSaver) checkVersionBump() {
	if a.versionFn == nil {
		return
	}
	v := a.versionFn()
	a.mu.Lock()
	changed := v != a.lastVersion
	a.lastVersion = v
	a.mu.Unlock()
	if changed {
		a.flush()
	}
}

func (a *AutoSaver) flush() {
	doc, ok := a.docFn()
	if !ok {
		return
	}
	if err := a.store.Save(doc); err != nil {
		slog.Warn("[sessionstore] autosave failed", "sessionId", doc.Metadata.ID, "error", err)
	}
}

// Stop halts the autosave loop and waits for it to exit.
func (a *AutoSaver) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}
