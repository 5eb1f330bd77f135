package launch

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/g960059/mate/internal/config"
)

// DisableUntitledArgs tell the editor not to open its empty startup document.
var DisableUntitledArgs = []string{"-disableNewDocumentAtStartup", "1"}

type Command struct {
	Name string
	Args []string
	// Credential, when set, runs the process as that user instead of the
	// current effective user.
	Credential *config.Credential
}

type Runner interface {
	Start(ctx context.Context, cmd Command) error
}

// OSRunner starts the process detached from the client; the client never
// waits for it.
type OSRunner struct{}

func (OSRunner) Start(_ context.Context, c Command) error {
	path, err := exec.LookPath(c.Name)
	if err != nil {
		return fmt.Errorf("can't find %s: %w", c.Name, err)
	}
	cmd := exec.Command(path, c.Args...)
	cmd.SysProcAttr = sysProcAttr(c.Credential)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("can't launch %s: %w", c.Name, err)
	}
	return cmd.Process.Release()
}

type Launcher struct {
	cfg    config.Config
	runner Runner
}

func NewLauncher(cfg config.Config) *Launcher {
	return &Launcher{
		cfg:    cfg,
		runner: OSRunner{},
	}
}

func NewLauncherWithRunner(cfg config.Config, runner Runner) *Launcher {
	l := NewLauncher(cfg)
	l.runner = runner
	return l
}

// Launch starts the editor once. When running as root through sudo the
// editor is started as the invoking user so it owns the per-user socket.
func (l *Launcher) Launch(ctx context.Context, suppressDefaultDocument bool) error {
	cmd, err := l.Command(suppressDefaultDocument)
	if err != nil {
		return err
	}
	return l.runner.Start(ctx, cmd)
}

func (l *Launcher) Command(suppressDefaultDocument bool) (Command, error) {
	if len(l.cfg.LaunchCommand) == 0 || strings.TrimSpace(l.cfg.LaunchCommand[0]) == "" {
		return Command{}, fmt.Errorf("no launch command configured")
	}
	args := append([]string(nil), l.cfg.LaunchCommand[1:]...)
	if suppressDefaultDocument {
		args = append(args, DisableUntitledArgs...)
	}
	cmd := Command{
		Name: l.cfg.LaunchCommand[0],
		Args: args,
	}
	if l.cfg.Elevated && l.cfg.Sudo != nil {
		cred := *l.cfg.Sudo
		cmd.Credential = &cred
	}
	return cmd, nil
}
