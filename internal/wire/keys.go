// Package wire implements the line-oriented protocol spoken with the editor
// over its local socket: "open" request blocks going out and "close" response
// blocks, possibly carrying raw data, coming back.
package wire

import (
	"fmt"
	"io"
)

const (
	OpenMarker       = "open"
	CloseCommand     = "close"
	SubmitTerminator = "."

	lineEnd      = "\r\n"
	keySeparator = ": "
)

const (
	KeyPath            = "path"
	KeyUUID            = "uuid"
	KeyData            = "data"
	KeyDisplayName     = "display-name"
	KeyDataOnClose     = "data-on-close"
	KeyWait            = "wait"
	KeyReActivate      = "re-activate"
	KeyAuthorization   = "authorization"
	KeySelection       = "selection"
	KeyFileType        = "file-type"
	KeyProjectUUID     = "project-uuid"
	KeyAddToRecents    = "add-to-recents"
	KeyChangeDirectory = "change-directory"
)

// WriteKeyPair writes a single "key: value\r\n" line.
func WriteKeyPair(w io.Writer, key, value string) error {
	if _, err := io.WriteString(w, key+keySeparator+value+lineEnd); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func writeLine(w io.Writer, line string) error {
	if _, err := io.WriteString(w, line+lineEnd); err != nil {
		return fmt.Errorf("write %q line: %w", line, err)
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
