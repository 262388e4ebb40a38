package ptyhost

// scanOSCTitle looks for OSC 0/1/2 title-setting sequences
// (ESC ] {0,1,2} ; text BEL|ST) in data and returns the last complete one
// found, so a single flush containing several title updates coalesces to
// just the final title per spec §4.D's title-coalescing requirement.
// Sequences split across chunk boundaries are missed; title updates are
// advisory and the next chunk's title (if any) supersedes a missed one in
// practice, so no cross-chunk buffering is implemented here.
func scanOSCTitle(data []byte) (title string, found bool) {
	i := 0
	for i < len(data) {
		if data[i] != 0x1b || i+1 >= len(data) || data[i+1] != ']' {
			i++
			continue
		}
		start := i + 2
		if start >= len(data) || (data[start] != '0' && data[start] != '1' && data[start] != '2') {
			i++
			continue
		}
		semi := start + 1
		if semi >= len(data) || data[semi] != ';' {
			i++
			continue
		}
		textStart := semi + 1
		end, terminated := findOSCTerminator(data, textStart)
		if !terminated {
			break
		}
		title, found = string(data[textStart:end]), true
		i = end
	}
	return title, found
}

// findOSCTerminator returns the index of the BEL (0x07) or ST (ESC \)
// terminator starting the search at from, and whether one was found.
func findOSCTerminator(data []byte, from int) (int, bool) {
	for j := from; j < len(data); j++ {
		if data[j] == 0x07 {
			return j, true
		}
		if data[j] == 0x1b && j+1 < len(data) && data[j+1] == '\\' {
			return j, true
		}
	}
	return 0, false
}
