package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
)

const DefaultBanner = "TextMate Server 2.7\r\n"

var errIncomplete = errors.New("incomplete submission")

type KeyValue struct {
	Key   string
	Value string
}

// Block is one decoded "open" request as the editor sees it.
type Block struct {
	Pairs []KeyValue
	Data  []byte
}

func (b Block) Get(key string) (string, bool) {
	for _, kv := range b.Pairs {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

func (b Block) Keys() []string {
	keys := make([]string, 0, len(b.Pairs))
	for _, kv := range b.Pairs {
		keys = append(keys, kv.Key)
	}
	return keys
}

// ParseSubmission decodes a complete client submission: any number of "open"
// blocks followed by the "." line. Data payloads are collected per block.
func ParseSubmission(raw []byte) ([]Block, error) {
	blocks, _, err := parseSubmission(raw)
	return blocks, err
}

func parseSubmission(raw []byte) ([]Block, int, error) {
	var blocks []Block
	pos := 0
	readLine := func() (string, error) {
		eol := bytes.Index(raw[pos:], []byte("\r\n"))
		if eol < 0 {
			return "", errIncomplete
		}
		line := string(raw[pos : pos+eol])
		pos += eol + 2
		return line, nil
	}
	for {
		line, err := readLine()
		if err != nil {
			return nil, 0, err
		}
		if line == "." {
			return blocks, pos, nil
		}
		if line != "open" {
			return nil, 0, fmt.Errorf("expected open marker, got %q", line)
		}
		var block Block
		for {
			line, err := readLine()
			if err != nil {
				return nil, 0, err
			}
			if line == "" {
				break
			}
			key, value, ok := bytes.Cut([]byte(line), []byte(": "))
			if !ok {
				return nil, 0, fmt.Errorf("malformed key line %q", line)
			}
			kv := KeyValue{Key: string(key), Value: string(value)}
			block.Pairs = append(block.Pairs, kv)
			if kv.Key != "data" {
				continue
			}
			n, err := strconv.Atoi(kv.Value)
			if err != nil {
				return nil, 0, fmt.Errorf("bad data length %q", kv.Value)
			}
			if len(raw)-pos < n {
				return nil, 0, errIncomplete
			}
			block.Data = append(block.Data, raw[pos:pos+n]...)
			pos += n
		}
		blocks = append(blocks, block)
	}
}

// SocketPath returns a socket path short enough for sun_path limits.
func SocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "mate")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(dir)
	})
	return filepath.Join(dir, "e.sock")
}

// Editor is a single-connection fake of the editor's socket server. It sends
// a banner, reads one submission and answers with Reply, then hangs up.
type Editor struct {
	Path   string
	Banner string
	// Reply builds the response from the decoded requests. A nil Reply
	// closes the connection without sending anything.
	Reply func(blocks []Block) []byte

	t        *testing.T
	mu       sync.Mutex
	raw      []byte
	blocks   []Block
	parseErr error
	done     chan struct{}
}

func NewEditor(t *testing.T, path string) *Editor {
	t.Helper()
	return &Editor{
		Path:   path,
		Banner: DefaultBanner,
		t:      t,
		done:   make(chan struct{}),
	}
}

// StartEditor creates an editor on a fresh socket path and starts it.
func StartEditor(t *testing.T, reply func([]Block) []byte) *Editor {
	t.Helper()
	e := NewEditor(t, SocketPath(t))
	e.Reply = reply
	if err := e.Start(); err != nil {
		t.Fatalf("start editor: %v", err)
	}
	return e
}

func (e *Editor) Start() error {
	ln, err := net.Listen("unix", e.Path)
	if err != nil {
		return err
	}
	e.t.Cleanup(func() {
		_ = ln.Close()
	})
	go e.serve(ln)
	return nil
}

func (e *Editor) serve(ln net.Listener) {
	defer close(e.done)
	conn, err := ln.Accept()
	if err != nil {
		e.fail(err)
		return
	}
	defer conn.Close() //nolint:errcheck
	if _, err := io.WriteString(conn, e.Banner); err != nil {
		e.fail(err)
		return
	}
	var raw []byte
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		raw = append(raw, buf[:n]...)
		blocks, _, perr := parseSubmission(raw)
		if perr == nil {
			e.mu.Lock()
			e.raw = raw
			e.blocks = blocks
			e.mu.Unlock()
			if e.Reply != nil {
				_, _ = conn.Write(e.Reply(blocks))
			}
			return
		}
		if !errors.Is(perr, errIncomplete) {
			e.fail(perr)
			return
		}
		if err != nil {
			e.mu.Lock()
			e.raw = raw
			e.mu.Unlock()
			e.fail(err)
			return
		}
	}
}

func (e *Editor) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parseErr = err
}

// Requests waits for the session to finish and returns the decoded blocks.
func (e *Editor) Requests() ([]Block, error) {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocks, e.parseErr
}

// Raw waits for the session to finish and returns the bytes received.
func (e *Editor) Raw() []byte {
	<-e.done
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.raw...)
}

// CloseResponse builds a "close" block for a document, optionally carrying data.
func CloseResponse(data []byte) []byte {
	var b bytes.Buffer
	b.WriteString("close\r\n")
	b.WriteString("token: " + uuid.NewString() + "\r\n")
	if data != nil {
		b.WriteString("data: " + strconv.Itoa(len(data)) + "\r\n")
		b.Write(data)
	}
	b.WriteString("\r\n")
	return b.Bytes()
}
