package shimclient

import (
	"sync"

	"github.com/openmux/openmux/internal/wire"
)

// kittyEventHeader is the JSON header carried by a ptyKitty event frame,
// decoded separately from shimserver.EventHeader since it adds fields
// specific to one graphics placement.
type kittyEventHeader struct {
	Event   string      `json:"event"`
	PtyID   string      `json:"ptyId"`
	ImageID uint32      `json:"imageId"`
	Screen  kittyScreen `json:"screen"`
	Deleted bool        `json:"deleted"`
}

// applyKittyFrame decodes a ptyKitty event and updates the PTY's image
// cache: a deletion clears the placement, otherwise the frame's payload
// (the image's encoded bytes) is cached.
func (c *Client) applyKittyFrame(ptyID string, frame wire.Frame) {
	var h kittyEventHeader
	if err := frame.DecodeHeader(&h); err != nil {
		return
	}
	cache := c.kittyCacheFor(ptyID)
	if h.Deleted {
		cache.Delete(h.Screen, h.ImageID)
		return
	}
	cache.Put(h.Screen, h.ImageID, frame.Payload())
}

// kittyScreen distinguishes the main and alternate screen buffers, since a
// Kitty graphics placement is local to whichever screen was active when it
// was transmitted (switching to the alt screen for a pager, say, must not
// disturb images placed on the main screen).
type kittyScreen int

const (
	kittyScreenMain kittyScreen = iota
	kittyScreenAlt
)

// kittyImage is one cached graphics placement as pushed by a ptyKitty event.
type kittyImage struct {
	ID     uint32
	Data   []byte
	Placed bool
}

// kittyCache holds the Kitty graphics placements for one PTY, partitioned
// by screen so a screen switch doesn't require re-fetching images that are
// still valid on the screen the client is returning to.
type kittyCache struct {
	mu     sync.Mutex
	byID   map[kittyScreen]map[uint32]*kittyImage
}

func newKittyCache() *kittyCache {
	return &kittyCache{
		byID: map[kittyScreen]map[uint32]*kittyImage{
			kittyScreenMain: make(map[uint32]*kittyImage),
			kittyScreenAlt:  make(map[uint32]*kittyImage),
		},
	}
}

// Put records or replaces an image placement on the given screen.
func (k *kittyCache) Put(screen kittyScreen, id uint32, data []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byID[screen][id] = &kittyImage{ID: id, Data: data, Placed: true}
}

// Get retrieves a cached image, if present, for the given screen.
func (k *kittyCache) Get(screen kittyScreen, id uint32) (*kittyImage, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	img, ok := k.byID[screen][id]
	return img, ok
}

// Delete removes one image from a screen's cache (an explicit Kitty delete
// command, or eviction when the image scrolls out of the live grid).
func (k *kittyCache) Delete(screen kittyScreen, id uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.byID[screen], id)
}

// Clear drops every cached image for a screen. Nothing in this package
// calls it; a full-state resync leaves the cache as it is.
func (k *kittyCache) Clear(screen kittyScreen) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byID[screen] = make(map[uint32]*kittyImage)
}

// kittyCacheFor returns (creating if necessary) the Kitty cache for ptyID.
func (c *Client) kittyCacheFor(ptyID string) *kittyCache {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	if c.kitty == nil {
		c.kitty = make(map[string]*kittyCache)
	}
	kc, ok := c.kitty[ptyID]
	if !ok {
		kc = newKittyCache()
		c.kitty[ptyID] = kc
	}
	return kc
}
