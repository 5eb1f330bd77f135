package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/g960059/mate/internal/authz"
	"github.com/g960059/mate/internal/config"
	"github.com/g960059/mate/internal/connector"
	"github.com/g960059/mate/internal/launch"
	"github.com/g960059/mate/internal/model"
	"github.com/g960059/mate/internal/wire"
)

// Exit codes follow sysexits(3).
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitUsage       = 64
	ExitUnavailable = 69
	ExitOSErr       = 71
	ExitIOErr       = 74
	ExitConfig      = 78
)

const AppVersion = "2.7"

// Revision is stamped at build time with -ldflags "-X".
var Revision = "dev"

const waitSuffix = "_wait"

type Runner struct {
	cfg        config.Config
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	dialer     connector.Dialer
	launcher   connector.Launcher
	authorizer wire.Authorizer
	getwd      func() (string, error)
	logger     *slog.Logger
}

func NewRunner(cfg config.Config, in io.Reader, out, errOut io.Writer) *Runner {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return &Runner{
		cfg:        cfg,
		in:         in,
		out:        out,
		errOut:     errOut,
		dialer:     &net.Dialer{},
		launcher:   launch.NewLauncher(cfg),
		authorizer: authz.NewHelperAuthorizer(cfg.AuthHelper, logger),
		getwd:      os.Getwd,
		logger:     logger,
	}
}

func (r *Runner) WithLauncher(l connector.Launcher) *Runner {
	clone := *r
	clone.launcher = l
	return &clone
}

func (r *Runner) WithAuthorizer(a wire.Authorizer) *Runner {
	clone := *r
	clone.authorizer = a
	return &clone
}

func (r *Runner) WithGetwd(getwd func() (string, error)) *Runner {
	clone := *r
	clone.getwd = getwd
	return &clone
}

// Run executes one invocation and returns the process exit code. progName is
// the name the client was invoked as; a "_wait" suffix implies --wait.
func (r *Runner) Run(ctx context.Context, progName string, args []string) int {
	defaults := options{
		wait:        r.cfg.Preferences.WaitToggle(),
		changeDir:   model.ToggleDisable,
		addToRecent: r.cfg.Preferences.RecentToggle(),
		keepEscapes: r.cfg.Preferences.EscapesToggle(),
	}
	if len(progName) > len(waitSuffix) && strings.HasSuffix(progName, waitSuffix) {
		defaults.wait = model.ToggleEnable
	}

	opts, err := parseOptions(progName, defaults, args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		r.printUsage(r.errOut, progName)
		return ExitUsage
	}
	if opts.help {
		r.printUsage(r.out, progName)
		return ExitOK
	}
	if opts.version {
		r.printVersion(progName)
		return ExitOK
	}

	reqs, err := r.buildRequests(opts)
	if err != nil {
		return r.handleErr(err)
	}

	c := connector.New(connector.Options{
		Network:       "unix",
		Address:       r.cfg.SocketPath,
		RetryInterval: r.cfg.ConnectRetryInterval,
		BannerSize:    r.cfg.BannerBufferSize,
		Dialer:        r.dialer,
		Launcher:      r.launcher,
		Logger:        r.logger,
	})
	conn, _, err := c.Connect(ctx, len(reqs) > 0)
	if err != nil {
		return r.handleErr(err)
	}
	defer conn.Close() //nolint:errcheck

	enc := wire.NewEncoder(conn, wire.EncoderOptions{
		Stdin:           r.in,
		StdinIsPipe:     !isTerminal(r.in),
		StdoutIsPipe:    !isTerminal(r.out),
		ChunkSize:       r.cfg.ReadChunkSize,
		CurrentDocument: r.cfg.DocumentUUID,
		Elevated:        r.cfg.Elevated,
		Authorizer:      r.authorizer,
		RightName:       r.cfg.AuthRightName,
		ErrOut:          r.errOut,
		Logger:          r.logger,
	})
	if err := enc.Submit(ctx, reqs); err != nil {
		return r.handleErr(err)
	}

	demux := wire.NewDemuxer(r.out)
	if err := demux.Drain(conn, r.cfg.ReadChunkSize); err != nil {
		return r.handleErr(err)
	}
	return ExitOK
}

// buildRequests turns the parsed command line into request blocks, one per
// document, in command-line order.
func (r *Runner) buildRequests(opts options) ([]model.Request, error) {
	var docUUID string
	if opts.uuid != "" {
		id, err := uuid.Parse(opts.uuid)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", model.ErrInvalidUUID, opts.uuid, err)
		}
		docUUID = strings.ToUpper(id.String())
	}

	var docs []model.Document
	for i, arg := range opts.args {
		if arg == "" {
			continue
		}
		if arg == "-" {
			docs = append(docs, model.StreamDocument{
				DisplayName: at(opts.names, len(docs)),
				Wait:        opts.wait,
				KeepEscapes: opts.keepEscapes,
			})
			continue
		}
		path := arg
		if !filepath.IsAbs(path) {
			cwd, err := r.getwd()
			if err != nil {
				return nil, fmt.Errorf("%w: %w", model.ErrWorkingDir, err)
			}
			path = strings.TrimRight(cwd, string(filepath.Separator)) + string(filepath.Separator) + path
		}
		r.logger.Debug("document argument", "index", i, "path", path)
		docs = append(docs, model.PathDocument{
			Path:        path,
			DisplayName: at(opts.names, len(docs)),
			Wait:        opts.wait,
		})
	}

	if len(docs) == 0 {
		switch {
		case docUUID != "":
			docs = append(docs, model.ReferenceDocument{UUID: docUUID})
		case opts.wait == model.ToggleEnable || !isTerminal(r.in):
			docs = append(docs, model.StreamDocument{
				DisplayName: at(opts.names, 0),
				Wait:        opts.wait,
				KeepEscapes: opts.keepEscapes,
			})
		}
	}

	defaultProject := r.cfg.ProjectUUID
	if len(opts.projects) > 0 {
		defaultProject = opts.projects[len(opts.projects)-1]
	}

	reqs := make([]model.Request, 0, len(docs))
	for i, doc := range docs {
		project := defaultProject
		if i < len(opts.projects) {
			project = opts.projects[i]
		}
		reqs = append(reqs, model.Request{
			Document: doc,
			Options: model.RequestOptions{
				Selection:       at(opts.lines, i),
				FileType:        at(opts.types, i),
				ProjectUUID:     project,
				AddToRecents:    opts.addToRecent,
				ChangeDirectory: opts.changeDir,
			},
		})
	}
	return reqs, nil
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, model.ErrInvalidUUID):
		return ExitUsage
	case errors.Is(err, model.ErrLaunch):
		return ExitUnavailable
	case errors.Is(err, model.ErrWorkingDir):
		return ExitOSErr
	case errors.Is(err, model.ErrBanner),
		errors.Is(err, model.ErrStdinRead),
		errors.Is(err, model.ErrSocketWrite),
		errors.Is(err, model.ErrResponseRead),
		errors.Is(err, model.ErrSinkWrite):
		return ExitIOErr
	default:
		return ExitFailure
	}
}

func (r *Runner) printVersion(progName string) {
	_, _ = fmt.Fprintf(r.out, "%s %s (revision %s)\n", progName, AppVersion, Revision)
}

func (r *Runner) printUsage(w io.Writer, progName string) {
	pad := strings.Repeat(" ", max(0, 8-len(progName)))
	_, _ = fmt.Fprintf(w, `%[1]s %[2]s (revision %[3]s)
Usage: %[1]s [-w] [-l <number>] [-t <filetype>] [-m <name>] [-rdehv] [file ...]
Options:
 -w, --[no-]wait        Wait for file to be closed by the editor.
 -a, --async            Do not wait, even when used as a filter.
 -l, --line <number>    Place caret on line <number> after loading file.
 -t, --type <filetype>  Treat file as having <filetype>.
 -m, --name <name>      The display name shown in the editor.
 -p, --project <uuid>   Open the file in the project with <uuid>.
 -r, --[no-]recent      Add file to Open Recent menu.
 -d, --change-dir       Change the editor's working directory to that of the file.
 -u, --uuid <uuid>      Reference an already open document using its UUID.
 -e, --[no-]escapes     Set this if you want ANSI escapes from stdin to be preserved.
 -h, --help             Show this information.
 -v, --version          Print version information.

Multiple values for -l, -t, -m and -p may be given comma-separated; the
nth value applies to the nth file.

By default %[1]s will wait for files to be closed if the command name
has a "_wait" suffix (e.g. via a symbolic link) or when used as a
filter like in these examples:

    ls *.tex|%[1]s|sh%[4]s-w implied
    %[1]s -|cat -n   %[4]s-w implied (read from stdin)

`, progName, AppVersion, Revision, pad)
}

type fdHolder interface {
	Fd() uintptr
}

// isTerminal reports whether v is a file attached to a terminal. Anything
// that is not a file counts as a pipe.
func isTerminal(v any) bool {
	f, ok := v.(fdHolder)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
