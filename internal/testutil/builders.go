package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

// ZeroSHA256 is a well-formed digest that matches no archive.
const ZeroSHA256 = "0000000000000000000000000000000000000000000000000000000000000000"

// FormulaBuilder builds test descriptors. Without further calls it yields a
// valid formula with a single "make install" step and no test step.
type FormulaBuilder struct {
	def formula.Definition
}

// NewFormulaBuilder creates a builder for the named formula at version 1.0.0.
func NewFormulaBuilder(name string) *FormulaBuilder {
	return &FormulaBuilder{
		def: formula.Definition{
			Name:       name,
			Version:    "1.0.0",
			URL:        fmt.Sprintf("https://example.com/%s-1.0.0.tar.gz", name),
			Checksum:   ZeroSHA256,
			BuildSteps: []formula.Command{formula.MustNewCommand("make", "install")},
		},
	}
}

// WithVersion sets the version.
func (b *FormulaBuilder) WithVersion(version string) *FormulaBuilder {
	b.def.Version = version
	return b
}

// WithSource sets the archive location and its digest.
func (b *FormulaBuilder) WithSource(url, sha256 string) *FormulaBuilder {
	b.def.URL = url
	b.def.Checksum = sha256
	return b
}

// WithBuildDeps appends build-time dependencies.
func (b *FormulaBuilder) WithBuildDeps(names ...string) *FormulaBuilder {
	b.def.BuildDeps = append(b.def.BuildDeps, names...)
	return b
}

// WithRuntimeDeps appends run-time dependencies.
func (b *FormulaBuilder) WithRuntimeDeps(names ...string) *FormulaBuilder {
	b.def.RuntimeDeps = append(b.def.RuntimeDeps, names...)
	return b
}

// WithSteps replaces the build steps.
func (b *FormulaBuilder) WithSteps(steps ...formula.Command) *FormulaBuilder {
	b.def.BuildSteps = steps
	return b
}

// WithStep appends a build step.
func (b *FormulaBuilder) WithStep(program string, args ...string) *FormulaBuilder {
	b.def.BuildSteps = append(b.def.BuildSteps, formula.MustNewCommand(program, args...))
	return b
}

// WithTest sets the test step.
func (b *FormulaBuilder) WithTest(program string, args ...string) *FormulaBuilder {
	cmd := formula.MustNewCommand(program, args...)
	b.def.TestStep = &cmd
	return b
}

// WithStripComponents sets the number of stripped archive path components.
func (b *FormulaBuilder) WithStripComponents(n int) *FormulaBuilder {
	b.def.StripComponents = &n
	return b
}

// Definition returns the raw definition.
func (b *FormulaBuilder) Definition() formula.Definition {
	return b.def
}

// Build returns the descriptor, failing the test if it is invalid.
func (b *FormulaBuilder) Build(t testing.TB) formula.Descriptor {
	t.Helper()
	d, err := formula.New(b.def)
	require.NoError(t, err, "invalid test formula %q", b.def.Name)
	return d
}

// ToYAML renders the definition as a formula file.
func (b *FormulaBuilder) ToYAML() string {
	var sb strings.Builder
	d := b.def

	fmt.Fprintf(&sb, "name: %s\n", d.Name)
	if d.Version != "" {
		fmt.Fprintf(&sb, "version: %q\n", d.Version)
	}
	fmt.Fprintf(&sb, "url: %s\n", d.URL)
	fmt.Fprintf(&sb, "sha256: %s\n", d.Checksum)
	writeYAMLList(&sb, "build_deps", d.BuildDeps)
	writeYAMLList(&sb, "runtime_deps", d.RuntimeDeps)
	if d.StripComponents != nil {
		fmt.Fprintf(&sb, "strip_components: %d\n", *d.StripComponents)
	}

	sb.WriteString("build:\n")
	for _, step := range d.BuildSteps {
		fmt.Fprintf(&sb, "  - program: %q\n", step.Program())
		writeYAMLArgs(&sb, "    ", step.Args())
	}
	if d.TestStep != nil {
		sb.WriteString("test:\n")
		fmt.Fprintf(&sb, "  program: %q\n", d.TestStep.Program())
		writeYAMLArgs(&sb, "  ", d.TestStep.Args())
	}
	return sb.String()
}

func writeYAMLList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", key)
	for _, v := range values {
		fmt.Fprintf(sb, "  - %s\n", v)
	}
}

func writeYAMLArgs(sb *strings.Builder, indent string, args []string) {
	if len(args) == 0 {
		return
	}
	fmt.Fprintf(sb, "%sargs:\n", indent)
	for _, a := range args {
		fmt.Fprintf(sb, "%s  - %q\n", indent, a)
	}
}
