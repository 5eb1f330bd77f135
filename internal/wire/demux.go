package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/g960059/mate/internal/model"
)

// DefaultReadSize is the buffer size Drain uses when none is given.
const DefaultReadSize = 1024

type DemuxState uint8

const (
	DemuxCommand DemuxState = iota
	DemuxArguments
	DemuxData
	DemuxDone
)

func (s DemuxState) String() string {
	switch s {
	case DemuxCommand:
		return "command"
	case DemuxArguments:
		return "arguments"
	case DemuxData:
		return "data"
	case DemuxDone:
		return "done"
	default:
		return "unknown"
	}
}

// Demuxer splits the editor's response stream into text lines and raw data
// blocks. Data payloads are copied verbatim to the sink; everything else is
// protocol bookkeeping. Input may be fed in chunks of any size.
type Demuxer struct {
	sink      io.Writer
	state     DemuxState
	remaining int
	pending   []byte
}

func NewDemuxer(sink io.Writer) *Demuxer {
	if sink == nil {
		sink = io.Discard
	}
	return &Demuxer{sink: sink}
}

func (d *Demuxer) State() DemuxState { return d.state }

// Remaining is the number of payload bytes still owed by the current data block.
func (d *Demuxer) Remaining() int { return d.remaining }

// Feed consumes the next chunk of the response stream.
func (d *Demuxer) Feed(p []byte) error {
	if d.state == DemuxDone {
		return nil
	}
	if d.state == DemuxData {
		n := min(len(p), d.remaining)
		if err := d.emit(p[:n]); err != nil {
			return err
		}
		p = p[n:]
		d.remaining -= n
		if d.remaining == 0 {
			d.state = DemuxArguments
		}
	}

	d.pending = append(d.pending, p...)
	if d.state == DemuxData {
		return nil
	}

	for {
		eol := bytes.IndexByte(d.pending, '\n')
		if eol < 0 {
			break
		}
		line := d.pending[:eol]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		text := string(line)
		d.pending = d.pending[eol+1:]
		if err := d.handleLine(text); err != nil {
			return err
		}
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return nil
}

func (d *Demuxer) handleLine(line string) error {
	if line == "" {
		d.state = DemuxCommand
		return nil
	}
	switch d.state {
	case DemuxCommand:
		// Unknown verbs are skipped so newer editors can add commands.
		if line == CloseCommand {
			d.state = DemuxArguments
		}
	case DemuxArguments:
		key, value, ok := splitArgument(line)
		if !ok || key != KeyData {
			return nil
		}
		d.remaining = parseDataLength(value)
		n := min(len(d.pending), d.remaining)
		if err := d.emit(d.pending[:n]); err != nil {
			return err
		}
		d.pending = d.pending[n:]
		d.remaining -= n
		if d.remaining > 0 {
			d.state = DemuxData
		} else {
			d.state = DemuxArguments
		}
	}
	return nil
}

func (d *Demuxer) emit(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := d.sink.Write(p); err != nil {
		return fmt.Errorf("%w: %w", model.ErrSinkWrite, err)
	}
	return nil
}

// Drain reads r until end of stream, feeding everything through the demuxer.
// The demuxer ends in DemuxDone whether the stream closed cleanly or not.
func (d *Demuxer) Drain(r io.Reader, bufSize int) error {
	if bufSize <= 0 {
		bufSize = DefaultReadSize
	}
	buf := make([]byte, bufSize)
	defer func() { d.state = DemuxDone }()
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if feedErr := d.Feed(buf[:n]); feedErr != nil {
				return feedErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", model.ErrResponseRead, err)
		}
	}
}

// splitArgument splits "key: value". The value starts two bytes after the
// colon; a line that ends before that has an empty value.
func splitArgument(line string) (key, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	key = line[:idx]
	if start := idx + len(keySeparator); start < len(line) {
		value = line[start:]
	}
	return key, value, true
}

func parseDataLength(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
