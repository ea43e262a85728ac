package main

import (
	"fmt"
	"path/filepath"
)

// expandArgs expands glob patterns. Patterns matching nothing are kept so
// the caller reports them as missing.
func expandArgs(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 {
			out = append(out, arg)
			continue
		}
		out = append(out, matches...)
	}
	return out, nil
}
