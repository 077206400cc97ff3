package formula

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSHA = "cfd8b7e7e6a0e9ca4e19b9adeb07594ba75eba16a66da5e9b0974c0117c21a34"

// mustDescriptor builds a minimal valid descriptor with the given edges.
func mustDescriptor(t *testing.T, name string, buildDeps, runtimeDeps []string) Descriptor {
	t.Helper()
	d, err := New(Definition{
		Name:        name,
		Version:     "1.0.0",
		URL:         "https://example.com/" + name + "-1.0.0.tar.gz",
		Checksum:    testSHA,
		BuildDeps:   buildDeps,
		RuntimeDeps: runtimeDeps,
		BuildSteps:  []Command{MustNewCommand("make", "install")},
	})
	require.NoError(t, err)
	return d
}

func mustRegistry(t *testing.T, descriptors ...Descriptor) *Registry {
	t.Helper()
	r, err := NewRegistry(descriptors...)
	require.NoError(t, err)
	return r
}

func names(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name()
	}
	return out
}

func deps(list string) []string {
	if list == "" {
		return nil
	}
	return strings.Split(list, ",")
}
