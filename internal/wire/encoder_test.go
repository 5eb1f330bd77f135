package wire

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/go-cmp/cmp"

	"github.com/g960059/mate/internal/model"
	"github.com/g960059/mate/internal/testutil"
)

type fakeAuthorizer struct {
	token  string
	ok     bool
	rights []string
}

func (f *fakeAuthorizer) ObtainRight(_ context.Context, right string) (string, bool) {
	f.rights = append(f.rights, right)
	return f.token, f.ok
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func encodeAll(t *testing.T, opts EncoderOptions, reqs ...model.Request) []testutil.Block {
	t.Helper()
	var out bytes.Buffer
	if err := NewEncoder(&out, opts).Submit(context.Background(), reqs); err != nil {
		t.Fatalf("submit: %v", err)
	}
	blocks, err := testutil.ParseSubmission(out.Bytes())
	if err != nil {
		t.Fatalf("parse submission %q: %v", out.String(), err)
	}
	return blocks
}

var trailingKeys = []string{KeySelection, KeyFileType, KeyProjectUUID, KeyAddToRecents, KeyChangeDirectory}

func TestEncodePathRequestExactBytes(t *testing.T) {
	var out bytes.Buffer
	enc := NewEncoder(&out, EncoderOptions{})
	req := model.Request{Document: model.PathDocument{Path: "/tmp/x.txt", Wait: model.ToggleEnable}}
	if err := enc.Encode(context.Background(), req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := strings.Join([]string{
		"open",
		"path: /tmp/x.txt",
		"display-name: ",
		"wait: yes",
		"re-activate: yes",
		"selection: ",
		"file-type: ",
		"project-uuid: ",
		"add-to-recents: no",
		"change-directory: no",
		"",
		"",
	}, "\r\n")
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("unexpected request bytes (-want +got):\n%s", diff)
	}
}

func TestEncodePathRequestWithOptions(t *testing.T) {
	blocks := encodeAll(t, EncoderOptions{}, model.Request{
		Document: model.PathDocument{Path: "/src/main.go", DisplayName: "main"},
		Options: model.RequestOptions{
			Selection:       "12",
			FileType:        "source.go",
			ProjectUUID:     "6C6E2B2F-9F4E-4E8B-8F57-0A4B5B3F0D11",
			AddToRecents:    model.ToggleEnable,
			ChangeDirectory: model.ToggleEnable,
		},
	})
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(blocks))
	}
	want := []testutil.KeyValue{
		{Key: "path", Value: "/src/main.go"},
		{Key: "display-name", Value: "main"},
		{Key: "wait", Value: "no"},
		{Key: "re-activate", Value: "no"},
		{Key: "selection", Value: "12"},
		{Key: "file-type", Value: "source.go"},
		{Key: "project-uuid", Value: "6C6E2B2F-9F4E-4E8B-8F57-0A4B5B3F0D11"},
		{Key: "add-to-recents", Value: "yes"},
		{Key: "change-directory", Value: "yes"},
	}
	if diff := cmp.Diff(want, blocks[0].Pairs); diff != "" {
		t.Fatalf("unexpected pairs (-want +got):\n%s", diff)
	}
}

func TestEncodeReferenceRequest(t *testing.T) {
	blocks := encodeAll(t, EncoderOptions{}, model.Request{
		Document: model.ReferenceDocument{UUID: "0F6B1C9E-7A37-4C1B-9B9F-2B6E3E8D5A42"},
	})
	want := append([]string{KeyUUID}, trailingKeys...)
	if diff := cmp.Diff(want, blocks[0].Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
}

func TestSubmitTerminatesEachBlockAndSubmission(t *testing.T) {
	var out bytes.Buffer
	reqs := []model.Request{
		{Document: model.PathDocument{Path: "/a"}},
		{Document: model.PathDocument{Path: "/b"}},
	}
	if err := NewEncoder(&out, EncoderOptions{}).Submit(context.Background(), reqs); err != nil {
		t.Fatalf("submit: %v", err)
	}
	raw := out.String()
	if strings.Count(raw, "open\r\n") != 2 {
		t.Fatalf("expected two open markers: %q", raw)
	}
	if strings.Count(raw, "\r\n\r\n") != 2 {
		t.Fatalf("expected two blank-line terminators: %q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\n.\r\n") {
		t.Fatalf("expected submission terminator at the end: %q", raw)
	}
}

func TestEncodeStreamChunksStdin(t *testing.T) {
	blocks := encodeAll(t, EncoderOptions{
		Stdin:       strings.NewReader("hello world"),
		StdinIsPipe: true,
		ChunkSize:   4,
	}, model.Request{Document: model.StreamDocument{}})

	b := blocks[0]
	var lengths []string
	for _, kv := range b.Pairs {
		if kv.Key == KeyData {
			lengths = append(lengths, kv.Value)
		}
	}
	if diff := cmp.Diff([]string{"4", "4", "3"}, lengths); diff != "" {
		t.Fatalf("unexpected data lengths (-want +got):\n%s", diff)
	}
	if string(b.Data) != "hello world" {
		t.Fatalf("unexpected payload %q", b.Data)
	}
	checks := map[string]string{
		KeyDisplayName: DefaultStreamDisplayName,
		KeyDataOnClose: "no",
		KeyWait:        "no",
		KeyReActivate:  "no",
	}
	for key, want := range checks {
		if got, _ := b.Get(key); got != want {
			t.Fatalf("%s: expected %q, got %q", key, want, got)
		}
	}
}

func TestEncodeStreamPayloadMayContainLineBreaks(t *testing.T) {
	payload := "line one\r\n\r\n.\r\nopen\r\n"
	blocks := encodeAll(t, EncoderOptions{
		Stdin:       strings.NewReader(payload),
		StdinIsPipe: true,
	}, model.Request{Document: model.StreamDocument{DisplayName: "notes"}})
	if string(blocks[0].Data) != payload {
		t.Fatalf("payload not preserved: %q", blocks[0].Data)
	}
	if got, _ := blocks[0].Get(KeyDisplayName); got != "notes" {
		t.Fatalf("expected display name notes, got %q", got)
	}
}

func TestEncodeStreamWaitsWhenStdoutIsPipe(t *testing.T) {
	blocks := encodeAll(t, EncoderOptions{
		Stdin:        strings.NewReader("x"),
		StdinIsPipe:  true,
		StdoutIsPipe: true,
	}, model.Request{Document: model.StreamDocument{}})
	for _, key := range []string{KeyDataOnClose, KeyWait, KeyReActivate} {
		if got, _ := blocks[0].Get(key); got != "yes" {
			t.Fatalf("%s: expected yes, got %q", key, got)
		}
	}

	blocks = encodeAll(t, EncoderOptions{
		Stdin:        strings.NewReader("x"),
		StdinIsPipe:  true,
		StdoutIsPipe: true,
	}, model.Request{Document: model.StreamDocument{Wait: model.ToggleDisable}})
	for _, key := range []string{KeyDataOnClose, KeyWait, KeyReActivate} {
		if got, _ := blocks[0].Get(key); got != "no" {
			t.Fatalf("explicit no-wait %s: expected no, got %q", key, got)
		}
	}

	blocks = encodeAll(t, EncoderOptions{
		Stdin:       strings.NewReader("x"),
		StdinIsPipe: true,
	}, model.Request{Document: model.StreamDocument{Wait: model.ToggleEnable}})
	if got, _ := blocks[0].Get(KeyWait); got != "yes" {
		t.Fatalf("explicit wait: expected yes, got %q", got)
	}
	if got, _ := blocks[0].Get(KeyDataOnClose); got != "no" {
		t.Fatalf("data-on-close needs stdout pipe, got %q", got)
	}
}

func TestEncodeEmptyStdinReusesCurrentDocument(t *testing.T) {
	current := "AB2D4B5E-6C79-4B45-8D6B-3A1C9E0F7D21"
	blocks := encodeAll(t, EncoderOptions{
		Stdin:           strings.NewReader(""),
		StdinIsPipe:     true,
		CurrentDocument: current,
	}, model.Request{Document: model.StreamDocument{}})
	want := append([]string{KeyUUID}, trailingKeys...)
	if diff := cmp.Diff(want, blocks[0].Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
	if got, _ := blocks[0].Get(KeyUUID); got != current {
		t.Fatalf("expected current document uuid, got %q", got)
	}
}

func TestEncodeEmptyStdinKeepsMetadataWhenNotCollapsible(t *testing.T) {
	cases := []struct {
		name string
		opts EncoderOptions
		doc  model.StreamDocument
	}{
		{
			name: "wait requested",
			opts: EncoderOptions{StdinIsPipe: true, CurrentDocument: "C"},
			doc:  model.StreamDocument{Wait: model.ToggleEnable},
		},
		{
			name: "no current document",
			opts: EncoderOptions{StdinIsPipe: true},
		},
		{
			name: "stdin is a terminal",
			opts: EncoderOptions{CurrentDocument: "C"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.Stdin = strings.NewReader("")
			blocks := encodeAll(t, tc.opts, model.Request{Document: tc.doc})
			if _, ok := blocks[0].Get(KeyUUID); ok {
				t.Fatalf("did not expect a uuid key: %v", blocks[0].Keys())
			}
			if _, ok := blocks[0].Get(KeyDisplayName); !ok {
				t.Fatalf("expected display-name key: %v", blocks[0].Keys())
			}
		})
	}
}

func TestEncodeStreamStripsEscapesAndWarnsOnce(t *testing.T) {
	var errOut bytes.Buffer
	blocks := encodeAll(t, EncoderOptions{
		Stdin:       strings.NewReader("A\x1b[31mB\x1b[0mC"),
		StdinIsPipe: true,
		ChunkSize:   3,
		ErrOut:      &errOut,
	}, model.Request{Document: model.StreamDocument{}})
	if string(blocks[0].Data) != "ABC" {
		t.Fatalf("expected escapes stripped, got %q", blocks[0].Data)
	}
	if n := strings.Count(errOut.String(), "WARNING: Removed ANSI escape codes"); n != 1 {
		t.Fatalf("expected one warning, got %d: %q", n, errOut.String())
	}
}

func TestEncodeStreamEscapePreferences(t *testing.T) {
	input := "A\x1b[1mB"
	cases := []struct {
		name     string
		keep     model.Toggle
		wantData string
	}{
		{name: "keep", keep: model.ToggleEnable, wantData: input},
		{name: "strip", keep: model.ToggleDisable, wantData: "AB"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var errOut bytes.Buffer
			blocks := encodeAll(t, EncoderOptions{
				Stdin:       strings.NewReader(input),
				StdinIsPipe: true,
				ErrOut:      &errOut,
			}, model.Request{Document: model.StreamDocument{KeepEscapes: tc.keep}})
			if string(blocks[0].Data) != tc.wantData {
				t.Fatalf("expected %q, got %q", tc.wantData, blocks[0].Data)
			}
			if errOut.Len() != 0 {
				t.Fatalf("explicit preference must not warn: %q", errOut.String())
			}
		})
	}
}

func TestEncodeStreamHintsWhenStdinIsTerminal(t *testing.T) {
	var errOut bytes.Buffer
	encodeAll(t, EncoderOptions{
		Stdin:  strings.NewReader("typed"),
		ErrOut: &errOut,
	}, model.Request{Document: model.StreamDocument{}})
	if !strings.Contains(errOut.String(), "press ^D to stop") {
		t.Fatalf("expected stdin hint, got %q", errOut.String())
	}
}

func TestEncodeAuthorizationWhenElevated(t *testing.T) {
	auth := &fakeAuthorizer{token: "opaque-token", ok: true}
	blocks := encodeAll(t, EncoderOptions{
		Elevated:   true,
		Authorizer: auth,
		RightName:  "com.example.right",
	}, model.Request{Document: model.PathDocument{Path: "/etc/hosts"}})
	want := append([]string{KeyPath, KeyDisplayName, KeyWait, KeyReActivate, KeyAuthorization}, trailingKeys...)
	if diff := cmp.Diff(want, blocks[0].Keys()); diff != "" {
		t.Fatalf("unexpected keys (-want +got):\n%s", diff)
	}
	if got, _ := blocks[0].Get(KeyAuthorization); got != "opaque-token" {
		t.Fatalf("unexpected token %q", got)
	}
	if diff := cmp.Diff([]string{"com.example.right"}, auth.rights); diff != "" {
		t.Fatalf("unexpected rights requested (-want +got):\n%s", diff)
	}
}

func TestEncodeAuthorizationSkipped(t *testing.T) {
	notElevated := &fakeAuthorizer{token: "t", ok: true}
	blocks := encodeAll(t, EncoderOptions{Authorizer: notElevated}, model.Request{Document: model.PathDocument{Path: "/a"}})
	if _, ok := blocks[0].Get(KeyAuthorization); ok {
		t.Fatalf("authorization sent without elevation")
	}
	if len(notElevated.rights) != 0 {
		t.Fatalf("authorizer must not be asked without elevation")
	}

	denied := &fakeAuthorizer{}
	blocks = encodeAll(t, EncoderOptions{Elevated: true, Authorizer: denied}, model.Request{Document: model.PathDocument{Path: "/a"}})
	if _, ok := blocks[0].Get(KeyAuthorization); ok {
		t.Fatalf("authorization sent although no token was obtained")
	}
}

func TestEncodeStdinReadError(t *testing.T) {
	var out bytes.Buffer
	enc := NewEncoder(&out, EncoderOptions{
		Stdin:       iotest.ErrReader(errors.New("input/output error")),
		StdinIsPipe: true,
	})
	err := enc.Encode(context.Background(), model.Request{Document: model.StreamDocument{}})
	if !errors.Is(err, model.ErrStdinRead) {
		t.Fatalf("expected ErrStdinRead, got %v", err)
	}
}

func TestEncodeSocketWriteError(t *testing.T) {
	enc := NewEncoder(failingWriter{}, EncoderOptions{})
	err := enc.Encode(context.Background(), model.Request{Document: model.PathDocument{Path: "/a"}})
	if !errors.Is(err, model.ErrSocketWrite) {
		t.Fatalf("expected ErrSocketWrite, got %v", err)
	}
	if err := enc.Finish(); !errors.Is(err, model.ErrSocketWrite) {
		t.Fatalf("expected ErrSocketWrite from Finish, got %v", err)
	}
}

func TestEncodeRejectsMissingDocument(t *testing.T) {
	var out bytes.Buffer
	err := NewEncoder(&out, EncoderOptions{}).Encode(context.Background(), model.Request{})
	if !errors.Is(err, model.ErrUnknownDocKind) {
		t.Fatalf("expected ErrUnknownDocKind, got %v", err)
	}
}
