package model

import "errors"

// Toggle is a tri-state command-line preference. Unset is distinct from
// Disable so callers can tell "the user said no" from "nobody said anything".
type Toggle uint8

const (
	ToggleUnset Toggle = iota
	ToggleEnable
	ToggleDisable
)

// String renders the toggle the way the wire protocol expects it.
// Unset is sent as "no".
func (t Toggle) String() string {
	if t == ToggleEnable {
		return "yes"
	}
	return "no"
}

func (t Toggle) IsSet() bool { return t != ToggleUnset }

// Document is one thing to open in the editor. The concrete types are
// PathDocument, ReferenceDocument and StreamDocument.
type Document interface {
	documentKind() string
}

// PathDocument opens a file on disk. Path is expected to be absolute.
type PathDocument struct {
	Path        string
	DisplayName string
	Wait        Toggle
}

// ReferenceDocument re-targets a document the editor already has open.
type ReferenceDocument struct {
	UUID string
}

// StreamDocument opens standard input as a new, untitled buffer.
type StreamDocument struct {
	DisplayName string
	Wait        Toggle
	KeepEscapes Toggle
}

func (PathDocument) documentKind() string { return "path" }
func (ReferenceDocument) documentKind() string { return "reference" }
func (StreamDocument) documentKind() string { return "stream" }

// DocumentKind reports the variant name of d, or "" for nil.
func DocumentKind(d Document) string {
	if d == nil {
		return ""
	}
	return d.documentKind()
}

// RequestOptions are the trailing keys sent with every request regardless of
// the document variant.
type RequestOptions struct {
	Selection       string
	FileType        string
	ProjectUUID     string
	AddToRecents    Toggle
	ChangeDirectory Toggle
}

// Request is one "open" block on the wire.
type Request struct {
	Document Document
	Options  RequestOptions
}

var (
	ErrLaunch         = errors.New("launch editor")
	ErrBanner         = errors.New("read server banner")
	ErrStdinRead      = errors.New("read stdin")
	ErrSocketWrite    = errors.New("write request")
	ErrResponseRead   = errors.New("read response")
	ErrSinkWrite      = errors.New("write response data")
	ErrWorkingDir     = errors.New("failed to get current working directory")
	ErrInvalidUUID    = errors.New("invalid document uuid")
	ErrUnknownDocKind = errors.New("unknown document kind")
)
