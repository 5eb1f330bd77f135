package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/g960059/mate/internal/model"
)

const (
	DefaultRightName    = "com.macromates.textmate.mate"
	DefaultLaunchBinary = "mate-editor"

	socketPathFormat = "/tmp/textmate-%d.sock"
)

type Config struct {
	SocketPath           string
	ConnectRetryInterval time.Duration
	BannerBufferSize     int
	ReadChunkSize        int
	LaunchCommand        []string
	AuthHelper           []string
	AuthRightName        string
	LogLevel             slog.Level

	// Ambient environment of the invoking shell.
	ProjectUUID  string
	DocumentUUID string

	// Elevated is true when running with an effective uid of 0. Sudo holds the
	// invoking user when that happened through sudo.
	Elevated bool
	Sudo     *Credential

	Preferences Preferences

	socketFromEnv bool
}

type Credential struct {
	UID int
	GID int
}

// Preferences is the user's preferences file. Pointer fields distinguish
// "absent" from an explicit false.
type Preferences struct {
	Wait          *bool    `yaml:"wait"`
	Escapes       string   `yaml:"escapes"`
	Recent        *bool    `yaml:"recent"`
	LaunchCommand []string `yaml:"launch_command"`
	AuthHelper    []string `yaml:"auth_helper"`
	AuthRight     string   `yaml:"auth_right"`
	Socket        string   `yaml:"socket"`
	LogLevel      string   `yaml:"log_level"`
}

// Environment is the slice of the process environment the client reads.
type Environment struct {
	Getenv  func(string) string
	UID     int
	EUID    int
	HomeDir func() (string, error)
}

func OSEnvironment() Environment {
	uid, euid := processIDs()
	return Environment{
		Getenv:  os.Getenv,
		UID:     uid,
		EUID:    euid,
		HomeDir: os.UserHomeDir,
	}
}

func FromEnvironment(env Environment) Config {
	getenv := env.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	cfg := Config{
		SocketPath:           SocketPathForUID(effectiveUID(getenv, env.UID)),
		ConnectRetryInterval: 500 * time.Millisecond,
		BannerBufferSize:     1024,
		ReadChunkSize:        1024,
		LaunchCommand:        []string{DefaultLaunchBinary},
		AuthRightName:        DefaultRightName,
		LogLevel:             slog.LevelWarn,
		ProjectUUID:          getenv("TM_PROJECT_UUID"),
		DocumentUUID:         getenv("TM_DOCUMENT_UUID"),
		Elevated:             env.EUID == 0,
	}
	if cfg.Elevated {
		uid, uidOK := lookupID(getenv, "SUDO_UID")
		gid, gidOK := lookupID(getenv, "SUDO_GID")
		if uidOK && gidOK {
			cfg.Sudo = &Credential{UID: uid, GID: gid}
		}
	}
	if socket := getenv("MATE_SOCKET"); socket != "" {
		cfg.SocketPath = socket
		cfg.socketFromEnv = true
	}
	if raw := getenv("MATE_LOG_LEVEL"); raw != "" {
		if level, err := parseLevel(raw); err == nil {
			cfg.LogLevel = level
		}
	}
	return cfg
}

// SocketPathForUID is the editor's well-known socket for a user.
func SocketPathForUID(uid int) string {
	return fmt.Sprintf(socketPathFormat, uid)
}

// effectiveUID prefers SUDO_UID so that "sudo mate" talks to the invoking
// user's editor rather than root's.
func effectiveUID(getenv func(string) string, uid int) int {
	if raw := getenv("SUDO_UID"); raw != "" {
		return atoi(raw)
	}
	return uid
}

func lookupID(getenv func(string) string, key string) (int, bool) {
	raw := getenv(key)
	if raw == "" {
		return 0, false
	}
	return atoi(raw), true
}

// atoi parses the leading decimal digits of raw and yields 0 when there are none.
func atoi(raw string) int {
	raw = strings.TrimLeft(raw, " \t")
	n := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] < '0' || raw[i] > '9' {
			break
		}
		n = n*10 + int(raw[i]-'0')
	}
	return n
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelWarn, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return level, nil
}

// PreferencesPath resolves where the preferences file lives: $MATE_CONFIG,
// then $XDG_CONFIG_HOME/mate/config.yaml, then ~/.config/mate/config.yaml.
func PreferencesPath(env Environment) string {
	getenv := env.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if p := getenv("MATE_CONFIG"); p != "" {
		return p
	}
	if dir := getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "mate", "config.yaml")
	}
	if env.HomeDir == nil {
		return ""
	}
	home, err := env.HomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "mate", "config.yaml")
}

// Load builds the configuration from the environment and the preferences file.
func Load(env Environment) (Config, error) {
	cfg := FromEnvironment(env)
	path := PreferencesPath(env)
	if path == "" {
		return cfg, nil
	}
	prefs, err := LoadPreferences(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Apply(prefs); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadPreferences reads a preferences file. A missing file yields empty preferences.
func LoadPreferences(path string) (Preferences, error) {
	var prefs Preferences
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return prefs, nil
	}
	if err != nil {
		return prefs, fmt.Errorf("read preferences: %w", err)
	}
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		return prefs, fmt.Errorf("parse preferences %s: %w", path, err)
	}
	return prefs, nil
}

// Apply layers preferences over the environment defaults. Environment
// overrides such as MATE_SOCKET keep winning over the file.
func (c *Config) Apply(p Preferences) error {
	switch strings.ToLower(strings.TrimSpace(p.Escapes)) {
	case "", "keep", "strip":
	default:
		return fmt.Errorf("escapes: expected keep or strip, got %q", p.Escapes)
	}
	c.Preferences = p
	if len(p.LaunchCommand) > 0 {
		c.LaunchCommand = append([]string(nil), p.LaunchCommand...)
	}
	if len(p.AuthHelper) > 0 {
		c.AuthHelper = append([]string(nil), p.AuthHelper...)
	}
	if p.AuthRight != "" {
		c.AuthRightName = p.AuthRight
	}
	if p.Socket != "" && !c.socketFromEnv {
		c.SocketPath = p.Socket
	}
	if p.LogLevel != "" {
		level, err := parseLevel(p.LogLevel)
		if err != nil {
			return err
		}
		c.LogLevel = level
	}
	return nil
}

func (p Preferences) WaitToggle() model.Toggle {
	return boolToggle(p.Wait)
}

func (p Preferences) RecentToggle() model.Toggle {
	return boolToggle(p.Recent)
}

func (p Preferences) EscapesToggle() model.Toggle {
	switch strings.ToLower(strings.TrimSpace(p.Escapes)) {
	case "keep":
		return model.ToggleEnable
	case "strip":
		return model.ToggleDisable
	default:
		return model.ToggleUnset
	}
}

func boolToggle(v *bool) model.Toggle {
	switch {
	case v == nil:
		return model.ToggleUnset
	case *v:
		return model.ToggleEnable
	default:
		return model.ToggleDisable
	}
}
