package build

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

// Environment variables set for every build and test step.
const (
	EnvPrefix        = "CELLAR_PREFIX"
	EnvName          = "CELLAR_NAME"
	EnvVersion       = "CELLAR_VERSION"
	EnvMakeFlags     = "MAKEFLAGS"
	EnvPath          = "PATH"
	EnvPkgConfigPath = "PKG_CONFIG_PATH"
)

// Toolchain describes what a step of one formula can see: the value of
// {{prefix}}, the installed prefixes of its dependencies, and the job count.
type Toolchain struct {
	Descriptor formula.Descriptor
	Prefix     string
	// Dependencies maps dependency names to their installed prefixes.
	Dependencies map[string]string
	Jobs         int
	// BaseEnv is the inherited environment; nil means os.Environ().
	BaseEnv []string
}

// Vars returns the placeholder values for the formula's commands.
func (t Toolchain) Vars() formula.Vars {
	vars := formula.Vars{
		formula.PlaceholderPrefix:  t.Prefix,
		formula.PlaceholderName:    t.Descriptor.Name(),
		formula.PlaceholderVersion: t.Descriptor.Version(),
		formula.PlaceholderJobs:    strconv.Itoa(t.jobs()),
	}
	for name, prefix := range t.Dependencies {
		vars[formula.PlaceholderOpt+":"+name] = prefix
	}
	return vars
}

// Env returns the step environment. extraPath entries are prepended to
// PATH ahead of the dependencies' bin directories.
func (t Toolchain) Env(extraPath ...string) []string {
	base := t.BaseEnv
	if base == nil {
		base = os.Environ()
	}

	var binDirs, pkgConfigDirs []string
	binDirs = append(binDirs, extraPath...)
	for _, dep := range t.Descriptor.Dependencies() {
		prefix, ok := t.Dependencies[dep]
		if !ok {
			continue
		}
		binDirs = append(binDirs, filepath.Join(prefix, "bin"))
		pkgConfigDirs = append(pkgConfigDirs, filepath.Join(prefix, "lib", "pkgconfig"))
	}

	env := newEnvList(base)
	env.set(EnvPrefix, t.Prefix)
	env.set(EnvName, t.Descriptor.Name())
	env.set(EnvVersion, t.Descriptor.Version())
	env.set(EnvMakeFlags, "-j"+strconv.Itoa(t.jobs()))
	env.prepend(EnvPath, binDirs)
	env.prepend(EnvPkgConfigPath, pkgConfigDirs)
	return env.list()
}

func (t Toolchain) jobs() int {
	if t.Jobs < 1 {
		return 1
	}
	return t.Jobs
}

// envList is an ordered KEY=VALUE list where later sets win.
type envList struct {
	keys   []string
	values map[string]string
}

func newEnvList(base []string) *envList {
	e := &envList{values: make(map[string]string, len(base))}
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		e.set(key, value)
	}
	return e
}

func (e *envList) set(key, value string) {
	if _, exists := e.values[key]; !exists {
		e.keys = append(e.keys, key)
	}
	e.values[key] = value
}

func (e *envList) prepend(key string, dirs []string) {
	if len(dirs) == 0 {
		return
	}
	joined := strings.Join(dirs, string(os.PathListSeparator))
	if current := e.values[key]; current != "" {
		joined += string(os.PathListSeparator) + current
	}
	e.set(key, joined)
}

func (e *envList) list() []string {
	out := make([]string, len(e.keys))
	for i, key := range e.keys {
		out[i] = key + "=" + e.values[key]
	}
	return out
}
