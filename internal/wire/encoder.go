package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/fatih/color"

	"github.com/g960059/mate/internal/ansi"
	"github.com/g960059/mate/internal/model"
)

const (
	DefaultChunkSize         = 1024
	DefaultStreamDisplayName = "untitled (stdin)"

	stdinHint     = "Reading from stdin, press ^D to stop"
	escapeWarning = "WARNING: Removed ANSI escape codes. Use -e/--[no-]escapes."
)

// Authorizer hands out an opaque token for a named right. ok is false when no
// token could be obtained; the request is then sent without one.
type Authorizer interface {
	ObtainRight(ctx context.Context, right string) (token string, ok bool)
}

type EncoderOptions struct {
	// Stdin is read for StreamDocument requests only.
	Stdin       io.Reader
	StdinIsPipe bool
	// StdoutIsPipe makes an unset wait toggle behave as enabled for stream
	// documents and asks the editor to send the buffer back on close.
	StdoutIsPipe bool
	ChunkSize    int
	// CurrentDocument is the editor's active document, used in place of an
	// empty piped stdin.
	CurrentDocument string

	Elevated   bool
	Authorizer Authorizer
	RightName  string

	ErrOut io.Writer
	Logger *slog.Logger
}

// Encoder writes request blocks to the editor connection. It is not safe for
// concurrent use; requests go out strictly one after another.
type Encoder struct {
	w    io.Writer
	opts EncoderOptions
	warn *color.Color
}

func NewEncoder(w io.Writer, opts EncoderOptions) *Encoder {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ErrOut == nil {
		opts.ErrOut = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Encoder{
		w:    w,
		opts: opts,
		warn: color.New(color.FgYellow),
	}
}

// Submit encodes every request in order and then ends the submission phase.
func (e *Encoder) Submit(ctx context.Context, reqs []model.Request) error {
	for i, req := range reqs {
		if err := e.Encode(ctx, req); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
	}
	return e.Finish()
}

// Encode writes one complete "open" block, including its blank terminator line.
func (e *Encoder) Encode(ctx context.Context, req model.Request) error {
	if err := e.line(OpenMarker); err != nil {
		return err
	}
	switch doc := req.Document.(type) {
	case model.PathDocument:
		if err := e.encodePath(doc); err != nil {
			return err
		}
	case model.ReferenceDocument:
		if err := e.pair(KeyUUID, doc.UUID); err != nil {
			return err
		}
	case model.StreamDocument:
		if err := e.encodeStream(doc); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %T", model.ErrUnknownDocKind, req.Document)
	}

	if e.opts.Elevated && e.opts.Authorizer != nil {
		if token, ok := e.opts.Authorizer.ObtainRight(ctx, e.opts.RightName); ok {
			if err := e.pair(KeyAuthorization, token); err != nil {
				return err
			}
		} else {
			e.opts.Logger.Debug("no authorization token", "right", e.opts.RightName)
		}
	}

	opts := req.Options
	trailer := [][2]string{
		{KeySelection, opts.Selection},
		{KeyFileType, opts.FileType},
		{KeyProjectUUID, opts.ProjectUUID},
		{KeyAddToRecents, opts.AddToRecents.String()},
		{KeyChangeDirectory, opts.ChangeDirectory.String()},
	}
	for _, kv := range trailer {
		if err := e.pair(kv[0], kv[1]); err != nil {
			return err
		}
	}
	if err := e.line(""); err != nil {
		return err
	}
	e.opts.Logger.Debug("request sent", "kind", model.DocumentKind(req.Document))
	return nil
}

// Finish writes the line that ends the submission phase.
func (e *Encoder) Finish() error {
	return e.line(SubmitTerminator)
}

func (e *Encoder) encodePath(doc model.PathDocument) error {
	pairs := [][2]string{
		{KeyPath, doc.Path},
		{KeyDisplayName, doc.DisplayName},
		{KeyWait, doc.Wait.String()},
		{KeyReActivate, doc.Wait.String()},
	}
	for _, kv := range pairs {
		if err := e.pair(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeStream(doc model.StreamDocument) error {
	if e.opts.Stdin == nil {
		return fmt.Errorf("%w: no input stream", model.ErrStdinRead)
	}
	if !e.opts.StdinIsPipe {
		_, _ = fmt.Fprintln(e.opts.ErrOut, stdinHint)
	}

	strip := doc.KeepEscapes != model.ToggleEnable
	var filter ansi.Filter
	buf := make([]byte, e.opts.ChunkSize)
	total := 0
	for {
		n, readErr := e.opts.Stdin.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if strip {
				chunk, _ = filter.Strip(chunk)
			}
			if err := e.pair(KeyData, strconv.Itoa(len(chunk))); err != nil {
				return err
			}
			if _, err := e.w.Write(chunk); err != nil {
				return fmt.Errorf("%w: data: %w", model.ErrSocketWrite, err)
			}
			total += len(chunk)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return fmt.Errorf("%w: %w", model.ErrStdinRead, readErr)
		}
	}

	if filter.Dropped() && !doc.KeepEscapes.IsSet() {
		_, _ = e.warn.Fprintln(e.opts.ErrOut, escapeWarning)
	}

	if e.opts.StdinIsPipe && total == 0 && doc.Wait != model.ToggleEnable && e.opts.CurrentDocument != "" {
		e.opts.Logger.Debug("empty stdin, reusing current document", "uuid", e.opts.CurrentDocument)
		return e.pair(KeyUUID, e.opts.CurrentDocument)
	}

	wait := doc.Wait == model.ToggleEnable || (doc.Wait == model.ToggleUnset && e.opts.StdoutIsPipe)
	name := doc.DisplayName
	if name == "" {
		name = DefaultStreamDisplayName
	}
	pairs := [][2]string{
		{KeyDisplayName, name},
		{KeyDataOnClose, yesNo(wait && e.opts.StdoutIsPipe)},
		{KeyWait, yesNo(wait)},
		{KeyReActivate, yesNo(wait)},
	}
	for _, kv := range pairs {
		if err := e.pair(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) pair(key, value string) error {
	if err := WriteKeyPair(e.w, key, value); err != nil {
		return fmt.Errorf("%w: %w", model.ErrSocketWrite, err)
	}
	return nil
}

func (e *Encoder) line(s string) error {
	if err := writeLine(e.w, s); err != nil {
		return fmt.Errorf("%w: %w", model.ErrSocketWrite, err)
	}
	return nil
}
