package config

import (
	"os"
	"strings"
)

const defaultBufferSize = 1000

// Defaults returns the built-in workspace defaults.
func Defaults() map[string]string {
	return map[string]string{
		KeyExecutable:  "ace",
		KeyResultLimit: "5",
		KeyTimeout:     "60",
		KeyMaxChart:    "1200",
		KeyMaxUnpack:   "1500",
		KeyBufferSize:  "1000",
	}
}

// envOverrides maps environment variables onto configuration keys.
var envOverrides = map[string]string{
	"XMT_PROCESSOR_EXECUTABLE": KeyExecutable,
	"XMT_GRAMMAR":              KeyGrammar,
	"XMT_TIMEOUT_SECONDS":      KeyTimeout,
	"XMT_RESULT_LIMIT":         KeyResultLimit,
}

// ApplyEnvOverrides replaces built-in defaults with values from the
// environment. Environment values only ever feed the lowest layer.
func ApplyEnvOverrides(defaults map[string]string) {
	for env, key := range envOverrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			defaults[key] = v
		}
	}
}
