// Package ansi removes ANSI CSI escape sequences from a byte stream that
// arrives in arbitrary chunks.
package ansi

const (
	esc = 0x1b

	csiFinalMin = 0x40
	csiFinalMax = 0x7e
)

// State is the position of the filter inside an escape sequence. The zero
// value is StatePlain.
type State uint8

const (
	StatePlain State = iota
	StateEscape
	StateCSI
)

func (s State) String() string {
	switch s {
	case StatePlain:
		return "plain"
	case StateEscape:
		return "escape"
	case StateCSI:
		return "csi"
	default:
		return "unknown"
	}
}

// Strip runs buf through the automaton starting at state. The kept bytes are
// compacted to the front of buf and returned as out, which aliases buf.
// Calling Strip on consecutive chunks with the returned state is equivalent to
// a single call on their concatenation.
func Strip(state State, buf []byte) (next State, out []byte, dropped bool) {
	n := 0
	for _, ch := range buf {
		switch state {
		case StatePlain:
			if ch == esc {
				state = StateEscape
				continue
			}
			buf[n] = ch
			n++
		case StateEscape:
			// Only CSI is recognised; any other escape swallows its
			// introducer byte and returns to plain text.
			if ch == '[' {
				state = StateCSI
			} else {
				state = StatePlain
			}
		case StateCSI:
			if ch >= csiFinalMin && ch <= csiFinalMax {
				state = StatePlain
			}
		}
	}
	return state, buf[:n], n != len(buf)
}

// Filter carries the automaton state for one stream.
type Filter struct {
	state   State
	dropped bool
}

// Strip filters the next chunk of the stream in place. It reports whether
// this chunk lost any bytes.
func (f *Filter) Strip(buf []byte) ([]byte, bool) {
	var dropped bool
	f.state, buf, dropped = Strip(f.state, buf)
	if dropped {
		f.dropped = true
	}
	return buf, dropped
}

func (f *Filter) State() State { return f.state }

// Dropped reports whether any chunk seen so far lost bytes.
func (f *Filter) Dropped() bool { return f.dropped }
