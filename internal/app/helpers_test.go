package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cellar/internal/adapters/archive"
	"github.com/felixgeelhaar/cellar/internal/adapters/download"
	"github.com/felixgeelhaar/cellar/internal/adapters/filesystem"
	"github.com/felixgeelhaar/cellar/internal/adapters/receipt"
	"github.com/felixgeelhaar/cellar/internal/domain/build"
	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
	"github.com/felixgeelhaar/cellar/internal/testutil"
	"github.com/felixgeelhaar/cellar/internal/testutil/mocks"
)

// harness wires an Orchestrator to real adapters under a temp root and a
// fake command runner.
type harness struct {
	t        *testing.T
	root     string
	sources  string
	runner   *mocks.CommandRunner
	receipts *receipt.YAMLRepository
	builds   *buildLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	root := t.TempDir()
	h := &harness{
		t:        t,
		root:     root,
		sources:  testutil.WriteTempDir(t, root, "sources"),
		runner:   mocks.NewCommandRunner(),
		receipts: receipt.NewYAMLRepository(filepath.Join(root, "receipts")),
		builds:   &buildLog{},
	}
	h.runner.Handle("make", h.builds.install)
	h.runner.Handle("check", checkInstalled)
	return h
}

func (h *harness) cellarDir() string { return filepath.Join(h.root, "Cellar") }
func (h *harness) tmpDir() string    { return filepath.Join(h.root, "tmp") }

// formula returns a builder whose source is a real archive of name.
func (h *harness) formula(name string) *testutil.FormulaBuilder {
	h.t.Helper()
	path, sha := testutil.SourceArchive(h.t, h.sources, name+"-1.0.0", map[string]string{
		"Makefile":  "install:\n",
		"configure": "#!/bin/sh\n",
	})
	return testutil.NewFormulaBuilder(name).WithSource(path, sha)
}

func (h *harness) orchestrator(opts Options, descriptors ...formula.Descriptor) *Orchestrator {
	h.t.Helper()

	registry, err := formula.NewRegistry(descriptors...)
	require.NoError(h.t, err)

	o, err := NewOrchestrator(Components{
		Registry:  registry,
		Fetcher:   build.NewFetcher(download.New(), archive.NewExtractor(), h.tmpDir()),
		Stages:    build.NewStageRunner(h.runner),
		Installer: build.NewInstaller(filesystem.NewRealFileSystem(), h.receipts, h.cellarDir()),
		Verifier:  build.NewVerifier(h.runner, h.tmpDir()),
	}, opts)
	require.NoError(h.t, err)
	return o
}

func (h *harness) state(name string) build.PrefixState {
	h.t.Helper()
	r, err := h.receipts.Load(context.Background(), name, "1.0.0")
	require.NoError(h.t, err)
	return r.State
}

func (h *harness) sessions() []string {
	h.t.Helper()
	entries, err := os.ReadDir(h.tmpDir())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(h.t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// buildLog records which formulas ran "make" and installs a binary named
// after the formula into the prefix the step was given.
type buildLog struct {
	mu    sync.Mutex
	names []string
}

func (b *buildLog) install(_ context.Context, req ports.CommandRequest) (ports.CommandResult, error) {
	env := envOf(req.Env)
	name := env[build.EnvName]

	b.mu.Lock()
	b.names = append(b.names, name)
	b.mu.Unlock()

	bin := filepath.Join(env[build.EnvPrefix], "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		return ports.CommandResult{}, err
	}
	if err := os.WriteFile(filepath.Join(bin, name), []byte("#!/bin/sh\necho "+name+"\n"), 0o755); err != nil {
		return ports.CommandResult{}, err
	}
	return ports.CommandResult{Stdout: "installed " + name + "\n"}, nil
}

func (b *buildLog) built() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.names...)
}

// checkInstalled exits 0 when every argument names an existing file.
func checkInstalled(_ context.Context, req ports.CommandRequest) (ports.CommandResult, error) {
	for _, path := range req.Args {
		if _, err := os.Stat(path); err != nil {
			return ports.CommandResult{ExitCode: 1, Stderr: "missing " + path + "\n"}, nil
		}
	}
	return ports.CommandResult{}, nil
}

func envOf(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}
