// Package formula models package-build descriptors and their dependency graph.
package formula

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

// DefaultStripComponents is the number of leading archive path components
// removed while unpacking. Release tarballs wrap everything in one directory.
const DefaultStripComponents = 1

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9@._+-]*$`)

// versionPattern finds a version in an archive file name, e.g.
// "modsecurity-v3.0.7.tar.gz" → "3.0.7".
var versionPattern = regexp.MustCompile(`[-_]v?(\d+(?:\.\d+)+[a-z]?(?:[-.]?(?:rc|alpha|beta|p)\d*)?)(?:\.(?:tar\.[a-z0-9]+|tgz|tbz2?|txz|zip))$`)

// Definition is the mutable input from which a Descriptor is built.
type Definition struct {
	Name            string
	Version         string
	Description     string
	Homepage        string
	URL             string
	Checksum        string
	License         string
	BuildDeps       []string
	RuntimeDeps     []string
	BuildSteps      []Command
	TestStep        *Command
	StripComponents *int
}

// Descriptor is the immutable description of one formula.
type Descriptor struct {
	name        string
	version     string
	description string
	homepage    string
	url         string
	checksum    Checksum
	license     string
	buildDeps   []string
	runtimeDeps []string
	buildSteps  []Command
	testStep    *Command
	strip       int
}

// New validates a Definition and returns the Descriptor.
// Every problem is reported at once through a *ValidationError.
func New(def Definition) (Descriptor, error) {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	name := strings.TrimSpace(def.Name)
	if name == "" {
		addf("name is required")
	} else if !namePattern.MatchString(name) {
		addf("name %q must be lowercase alphanumerics with @ . _ + -", name)
	}

	sourceURL := strings.TrimSpace(def.URL)
	if sourceURL == "" {
		addf("url is required")
	}

	version := strings.TrimSpace(def.Version)
	if version == "" && sourceURL != "" {
		version = InferVersion(sourceURL)
	}
	if version == "" {
		addf("version is required and could not be inferred from the url")
	} else if strings.ContainsAny(version, `/\ `) {
		addf("version %q must not contain slashes or spaces", version)
	}

	checksum, err := ParseChecksum(def.Checksum)
	if err != nil {
		addf("sha256: %v", err)
	}

	strip := DefaultStripComponents
	if def.StripComponents != nil {
		strip = *def.StripComponents
		if strip < 0 {
			addf("strip_components must not be negative")
		}
	}

	declared := make(map[string]bool)
	buildDeps := checkDeps("build_deps", name, def.BuildDeps, declared, addf)
	runtimeDeps := checkDeps("runtime_deps", name, def.RuntimeDeps, declared, addf)

	buildSteps := make([]Command, 0, len(def.BuildSteps))
	for i, step := range def.BuildSteps {
		if step.IsZero() {
			addf("build step %d has no program", i)
			continue
		}
		for _, key := range step.placeholders() {
			if err := checkPlaceholder(key, declared); err != nil {
				addf("build step %d: %v", i, err)
			}
		}
		buildSteps = append(buildSteps, step)
	}
	if len(def.BuildSteps) == 0 {
		addf("at least one build step is required")
	}

	var testStep *Command
	if def.TestStep != nil {
		if def.TestStep.IsZero() {
			addf("test step has no program")
		} else {
			for _, key := range def.TestStep.placeholders() {
				if err := checkPlaceholder(key, declared); err != nil {
					addf("test step: %v", err)
				}
			}
			step := *def.TestStep
			testStep = &step
		}
	}

	if len(problems) > 0 {
		return Descriptor{}, &ValidationError{Name: name, Problems: problems}
	}

	return Descriptor{
		name:        name,
		version:     version,
		description: strings.TrimSpace(def.Description),
		homepage:    strings.TrimSpace(def.Homepage),
		url:         sourceURL,
		checksum:    checksum,
		license:     strings.TrimSpace(def.License),
		buildDeps:   buildDeps,
		runtimeDeps: runtimeDeps,
		buildSteps:  buildSteps,
		testStep:    testStep,
		strip:       strip,
	}, nil
}

func checkDeps(field, self string, deps []string, declared map[string]bool, addf func(string, ...interface{})) []string {
	out := make([]string, 0, len(deps))
	for _, dep := range deps {
		dep = strings.TrimSpace(dep)
		switch {
		case dep == "":
			addf("%s contains an empty name", field)
		case dep == self:
			addf("%s: formula cannot depend on itself", field)
		case declared[dep]:
			addf("%s: %q is declared more than once", field, dep)
		default:
			declared[dep] = true
			out = append(out, dep)
		}
	}
	return out
}

// InferVersion extracts a version from the archive file name of a URL.
// It returns "" when no version can be found.
func InferVersion(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		p = u.Path
	}
	m := versionPattern.FindStringSubmatch(path.Base(p))
	if m == nil {
		return ""
	}
	return m[1]
}

// Name returns the unique formula name.
func (d Descriptor) Name() string { return d.name }

// Version returns the formula version.
func (d Descriptor) Version() string { return d.version }

// Description returns the one-line description.
func (d Descriptor) Description() string { return d.description }

// Homepage returns the project homepage.
func (d Descriptor) Homepage() string { return d.homepage }

// URL returns the source archive location.
func (d Descriptor) URL() string { return d.url }

// Checksum returns the declared archive digest.
func (d Descriptor) Checksum() Checksum { return d.checksum }

// License returns the SPDX license identifier.
func (d Descriptor) License() string { return d.license }

// StripComponents returns how many leading path components to drop on unpack.
func (d Descriptor) StripComponents() int { return d.strip }

// BuildDeps returns the build-time dependencies in declared order.
func (d Descriptor) BuildDeps() []string { return copyStrings(d.buildDeps) }

// RuntimeDeps returns the run-time dependencies in declared order.
func (d Descriptor) RuntimeDeps() []string { return copyStrings(d.runtimeDeps) }

// Dependencies returns build deps followed by runtime deps, in declared order.
func (d Descriptor) Dependencies() []string {
	all := make([]string, 0, len(d.buildDeps)+len(d.runtimeDeps))
	all = append(all, d.buildDeps...)
	return append(all, d.runtimeDeps...)
}

// BuildSteps returns the ordered build commands.
func (d Descriptor) BuildSteps() []Command {
	steps := make([]Command, len(d.buildSteps))
	copy(steps, d.buildSteps)
	return steps
}

// TestStep returns the smoke test command, if any.
func (d Descriptor) TestStep() (Command, bool) {
	if d.testStep == nil {
		return Command{}, false
	}
	return *d.testStep, true
}

// HasSemanticVersion reports whether Version is a valid semantic version
// once prefixed with "v". Free-form versions are allowed but sort poorly.
func (d Descriptor) HasSemanticVersion() bool {
	v := d.version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

// IsZero reports whether this is the zero Descriptor.
func (d Descriptor) IsZero() bool {
	return d.name == ""
}

// String returns "name version".
func (d Descriptor) String() string {
	return d.name + " " + d.version
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
