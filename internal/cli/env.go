package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// OverrideEnvVar names a .env path that wins over the --env flag.
const OverrideEnvVar = "CITYPING_ENV_FILE"

var ErrEnvFileNotFound = errors.New("env file not found")

// EnvLoader loads .env files with a predictable override order:
// $CITYPING_ENV_FILE, then --env, then its basename, then the default path.
type EnvLoader struct {
	fs          *flag.FlagSet
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	value := fs.String("env", defaultPath, description)
	return &EnvLoader{
		fs:          fs,
		value:       value,
		defaultPath: defaultPath,
	}
}

// Explicit reports whether --env was passed on the command line.
func (l *EnvLoader) Explicit() bool {
	if l == nil || l.fs == nil {
		return false
	}
	explicit := false
	l.fs.Visit(func(f *flag.Flag) {
		if f.Name == "env" {
			explicit = true
		}
	})
	return explicit
}

// Load overlays the first readable candidate onto the process environment
// and returns its path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	candidates := l.candidates()
	for _, path := range candidates {
		if err := godotenv.Overload(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: tried %s", ErrEnvFileNotFound, strings.Join(candidates, ", "))
}

func (l *EnvLoader) candidates() []string {
	out := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, path)
	}

	add(os.Getenv(OverrideEnvVar))
	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" {
		requested = l.defaultPath
	}
	add(requested)
	if base := filepath.Base(requested); base != "." && base != string(filepath.Separator) {
		add(base)
	}
	add(l.defaultPath)
	return out
}
