package shimclient

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmux/openmux/internal/wire"
)

// scrollbackCacheSize bounds how many archived lines a client keeps locally
// before evicting the least-recently-used one, mirroring the archive's own
// LRU line cache on the shim side (internal/archive) but scoped to what a
// scrollback viewport has actually scrolled through.
const scrollbackCacheSize = 4096

// scrollbackLineParams is the request payload for the "getScrollbackLines"
// method: a half-open range [From, To) of archived line indices.
type scrollbackLineParams struct {
	PtyID string `json:"ptyId"`
	From  int    `json:"from"`
	To    int    `json:"to"`
}

type scrollbackLineResult struct {
	Rows map[string][]byte `json:"rows"` // index (as string) -> packed wire.Row
}

// scrollbackKey identifies one cached archived line.
type scrollbackKey struct {
	PtyID string
	Index int
}

// ScrollbackCache fetches archived scrollback lines from the shim on
// demand, filling a bounded LRU so repeated scrolling over the same region
// (common with mouse-wheel scrolling back and forth) doesn't re-request
// lines already seen.
type ScrollbackCache struct {
	client *Client
	lru    *lru.Cache[scrollbackKey, wire.Row]
}

// NewScrollbackCache builds a cache bound to client, used to satisfy
// scrollback reads lazily as a copy-mode or scroll viewport needs them.
func NewScrollbackCache(client *Client) (*ScrollbackCache, error) {
	c, err := lru.New[scrollbackKey, wire.Row](scrollbackCacheSize)
	if err != nil {
		return nil, fmt.Errorf("shimclient: build scrollback lru: %w", err)
	}
	return &ScrollbackCache{client: client, lru: c}, nil
}

// GetLine returns one archived line, fetching it (and its neighbors, to
// amortize the round trip) from the shim if not already cached.
func (s *ScrollbackCache) GetLine(ctx context.Context, ptyID string, index int) (wire.Row, error) {
	if row, ok := s.lru.Get(scrollbackKey{ptyID, index}); ok {
		return row, nil
	}
	if err := s.fetchRange(ctx, ptyID, index, index+64); err != nil {
		return nil, err
	}
	row, ok := s.lru.Get(scrollbackKey{ptyID, index})
	if !ok {
		return nil, fmt.Errorf("shimclient: line %d not returned by shim", index)
	}
	return row, nil
}

// Prefetch eagerly populates the cache for [from, to), useful right before
// a scrollback-heavy operation like a copy-mode selection spanning many
// archived lines.
func (s *ScrollbackCache) Prefetch(ctx context.Context, ptyID string, from, to int) error {
	return s.fetchRange(ctx, ptyID, from, to)
}

func (s *ScrollbackCache) fetchRange(ctx context.Context, ptyID string, from, to int) error {
	var result scrollbackLineResult
	err := s.client.Request(ctx, "getScrollbackLines", scrollbackLineParams{PtyID: ptyID, From: from, To: to}, &result)
	if err != nil {
		return err
	}
	for idxStr, packed := range result.Rows {
		idx, ok := parseLineIndex(idxStr)
		if !ok {
			continue
		}
		row, _, err := wire.UnpackRow(packed)
		if err != nil {
			continue
		}
		s.lru.Add(scrollbackKey{ptyID, idx}, row)
	}
	return nil
}

func parseLineIndex(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
