// Package env reads process configuration from dotenv files, the OS
// environment and cobra flags.
package env

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vidfeed/fetchcache/logger"
)

// Prefix is the namespace of every environment variable the cache reads.
const Prefix = "FETCHCACHE_"

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ParseEnvFile parses a dotenv file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits one KEY=value line, dropping an optional "export".
func ProcessEnvLine(line string) EnvLine {
	line = strings.TrimPrefix(line, "export ")
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

// interpolate expands ${NAME} and ${NAME:-default} references against vars,
// then against the OS environment for ${env:NAME}. Unresolved references
// without a default are kept verbatim.
func interpolate(input string, vars map[string]string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var out strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end += start
		out.WriteString(rest[:start])
		ref := rest[start : end+1]
		name, def, _ := strings.Cut(rest[start+2:end], ":-")

		var val string
		if osName, ok := strings.CutPrefix(name, "env:"); ok {
			val = os.Getenv(osName)
		} else {
			val = vars[name]
		}
		switch {
		case name == "":
			out.WriteString(ref)
		case val != "":
			out.WriteString(val)
		case def != "":
			out.WriteString(def)
		default:
			out.WriteString(ref)
		}
		rest = rest[end+1:]
	}
}

// ParseEnvBuffer parses dotenv content. Blank lines and # comments are
// skipped, and values may reference earlier or later keys.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		el := ProcessEnvLine(line)
		if el.Key == "" {
			continue
		}
		el.Val = interpolate(el.Val, vars)
		vars[el.Key] = el.Val
		envs = append(envs, el)
	}
	for i := range envs {
		envs[i].Val = interpolate(envs[i].Val, vars)
	}
	return envs, nil
}

// Overlay returns a LookupFunc that consults the OS environment first and
// falls back to lines, so a dotenv file never overrides the real environment.
func Overlay(lines []EnvLine, primary LookupFunc) LookupFunc {
	fallback := make(map[string]string, len(lines))
	for _, el := range lines {
		fallback[el.Key] = el.Val
	}
	return func(key string) (string, bool) {
		if primary != nil {
			if val, ok := primary(key); ok {
				return val, true
			}
		}
		val, ok := fallback[key]
		return val, ok
	}
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel resolves the --log-level flag, then FETCHCACHE_LOG_LEVEL, then info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.LevelEnv, "info"))
}

// NewLogger returns a logger honoring the --log-format and --log-level flags,
// then their FETCHCACHE_ environment equivalents, then format and level.
func NewLogger(cmd *cobra.Command, format, level string) logger.Logger {
	format = FlagOrEnv(cmd, "log-format", Prefix+"LOG_FORMAT", format)
	level = FlagOrEnv(cmd, "log-level", logger.LevelEnv, level)
	return logger.New(format, logger.ParseLevel(level))
}
