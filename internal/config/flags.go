package config

import (
	"fmt"
	"io"
	"strconv"

	"github.com/kballard/go-shellquote"
	"github.com/spf13/pflag"

	"xmt/internal/stage"
)

type flagKind int

const (
	kindString flagKind = iota
	kindInt
	kindBool
)

type flagSpec struct {
	key       string
	shorthand string
	kind      flagKind
	usage     string
}

// stageFlags lists every configuration flag. Stage-only ones are registered
// only for stages whose descriptor accepts them.
var stageFlags = []flagSpec{
	{KeyGrammar, "g", kindString, "path to a grammar image"},
	{KeyExecutable, "", kindString, "path to the processor binary"},
	{KeyResultLimit, "n", kindInt, "only record the top N results (-1 for all)"},
	{KeyTimeout, "", kindInt, "allow S seconds per item"},
	{KeyMaxChart, "", kindInt, "max RAM for parse chart in MB"},
	{KeyMaxUnpack, "", kindInt, "max RAM for unpacking in MB"},
	{KeyYYMode, "y", kindBool, "input is pre-tokenized YY format"},
	{KeyOnlySubsuming, "", kindBool, "realization MRS must subsume input MRS"},
	{KeyBufferSize, "", kindInt, "write results to disk every N result rows"},
}

// stageOnly lists keys that are registered per stage descriptor.
var stageOnly = map[string]bool{
	KeyMaxChart:      true,
	KeyMaxUnpack:     true,
	KeyYYMode:        true,
	KeyOnlySubsuming: true,
}

// AppliesTo reports whether a key is meaningful for a stage.
func AppliesTo(desc stage.Descriptor, key string) bool {
	return !stageOnly[key] || desc.Accepts(key)
}

// BindStageFlags registers the configuration flags for a stage on fs.
// Flag names equal configuration keys.
func BindStageFlags(fs *pflag.FlagSet, desc stage.Descriptor) {
	for _, spec := range stageFlags {
		if !AppliesTo(desc, spec.key) {
			continue
		}
		switch spec.kind {
		case kindString:
			fs.StringP(spec.key, spec.shorthand, "", spec.usage)
		case kindInt:
			fs.IntP(spec.key, spec.shorthand, 0, spec.usage)
		case kindBool:
			fs.BoolP(spec.key, spec.shorthand, false, spec.usage)
		}
	}
}

// CollectFlags returns the configuration flags the user set explicitly.
// Defaults of unset flags never enter the cascade.
func CollectFlags(fs *pflag.FlagSet) Flags {
	out := Flags{}
	for _, spec := range stageFlags {
		f := fs.Lookup(spec.key)
		if f == nil || !f.Changed {
			continue
		}
		v := f.Value.String()
		if spec.kind == kindBool {
			b, _ := strconv.ParseBool(v)
			v = FormatBool(b)
		}
		out[spec.key] = v
	}
	return out
}

// ParseOptionString parses an option string such as "-g erg.dat -n 3"
// with the stage's flag set.
func ParseOptionString(desc stage.Descriptor, opts string) (Flags, error) {
	args, err := shellquote.Split(opts)
	if err != nil {
		return nil, fmt.Errorf("%s options: %w", desc.Name, err)
	}
	fs := pflag.NewFlagSet(desc.Name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	BindStageFlags(fs, desc)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%s options: %w", desc.Name, err)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%s options: unexpected arguments %v", desc.Name, fs.Args())
	}
	return CollectFlags(fs), nil
}
