package cli

import (
	"flag"
	"io"
	"strconv"
	"strings"

	"github.com/g960059/mate/internal/model"
)

// toggleFlag is a boolean flag that writes a fixed Toggle value. Several
// flags may share one destination; the last one on the command line wins.
type toggleFlag struct {
	dst *model.Toggle
	val model.Toggle
}

func (f toggleFlag) String() string { return "" }

func (f toggleFlag) IsBoolFlag() bool { return true }

func (f toggleFlag) Set(raw string) error {
	on, err := strconv.ParseBool(raw)
	if err != nil {
		return err
	}
	if on {
		*f.dst = f.val
		return nil
	}
	switch f.val {
	case model.ToggleEnable:
		*f.dst = model.ToggleDisable
	case model.ToggleDisable:
		*f.dst = model.ToggleEnable
	}
	return nil
}

// listFlag collects comma-separated values across repeated uses.
type listFlag struct {
	dst *[]string
}

func (f listFlag) String() string {
	if f.dst == nil {
		return ""
	}
	return strings.Join(*f.dst, ",")
}

func (f listFlag) Set(raw string) error {
	*f.dst = append(*f.dst, splitList(raw)...)
	return nil
}

// splitList splits on commas. Empty fields in the middle are kept; a
// trailing comma does not add an empty value.
func splitList(raw string) []string {
	var out []string
	from := 0
	for from < len(raw) {
		idx := strings.IndexByte(raw[from:], ',')
		if idx < 0 {
			out = append(out, raw[from:])
			break
		}
		out = append(out, raw[from:from+idx])
		from += idx + 1
	}
	return out
}

type options struct {
	wait        model.Toggle
	changeDir   model.Toggle
	addToRecent model.Toggle
	keepEscapes model.Toggle

	lines    []string
	names    []string
	types    []string
	projects []string
	uuid     string

	help    bool
	version bool

	args []string
}

func newFlagSet(name string, o *options) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	toggles := []struct {
		short, long string
		dst         *model.Toggle
		val         model.Toggle
	}{
		{"a", "async", &o.wait, model.ToggleDisable},
		{"w", "wait", &o.wait, model.ToggleEnable},
		{"W", "no-wait", &o.wait, model.ToggleDisable},
		{"d", "change-dir", &o.changeDir, model.ToggleEnable},
		{"e", "escapes", &o.keepEscapes, model.ToggleEnable},
		{"E", "no-escapes", &o.keepEscapes, model.ToggleDisable},
		{"r", "recent", &o.addToRecent, model.ToggleEnable},
		{"R", "no-recent", &o.addToRecent, model.ToggleDisable},
	}
	for _, tg := range toggles {
		fs.Var(toggleFlag{dst: tg.dst, val: tg.val}, tg.short, "")
		fs.Var(toggleFlag{dst: tg.dst, val: tg.val}, tg.long, "")
	}

	lists := []struct {
		short, long string
		dst         *[]string
	}{
		{"l", "line", &o.lines},
		{"m", "name", &o.names},
		{"p", "project", &o.projects},
		{"t", "type", &o.types},
	}
	for _, l := range lists {
		fs.Var(listFlag{dst: l.dst}, l.short, "")
		fs.Var(listFlag{dst: l.dst}, l.long, "")
	}

	fs.StringVar(&o.uuid, "u", "", "")
	fs.StringVar(&o.uuid, "uuid", "", "")
	fs.BoolVar(&o.help, "h", false, "")
	fs.BoolVar(&o.help, "help", false, "")
	fs.BoolVar(&o.version, "v", false, "")
	fs.BoolVar(&o.version, "version", false, "")
	return fs
}

// parseOptions parses args on top of the given defaults.
func parseOptions(name string, defaults options, args []string) (options, error) {
	o := defaults
	fs := newFlagSet(name, &o)
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	o.args = fs.Args()
	return o, nil
}

func at(values []string, i int) string {
	if i < len(values) {
		return values[i]
	}
	return ""
}
