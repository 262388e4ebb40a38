package keymode

// cursorKeyNormal and cursorKeyApplication are the CSI/SS3 encodings for
// the four arrow keys, selected by DECCKM (wire.ModeCursorKeyApplication).
var cursorKeyNormal = map[string][]byte{
	"Up":    []byte("\x1b[A"),
	"Down":  []byte("\x1b[B"),
	"Right": []byte("\x1b[C"),
	"Left":  []byte("\x1b[D"),
}

var cursorKeyApplication = map[string][]byte{
	"Up":    []byte("\x1bOA"),
	"Down":  []byte("\x1bOB"),
	"Right": []byte("\x1bOC"),
	"Left":  []byte("\x1bOD"),
}

// encodeForPTYLocked resolves ev's forwarded byte sequence, substituting
// the DECCKM-appropriate encoding for arrow keys and passing every other
// key through as its already-encoded Bytes. Must be called with r.mu held.
func (r *Router) encodeForPTYLocked(ev KeyEvent) []byte {
	table := cursorKeyNormal
	if r.cursorKeyApplication {
		table = cursorKeyApplication
	}
	if seq, ok := table[ev.Key]; ok {
		return seq
	}
	return ev.Bytes
}
