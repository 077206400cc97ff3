package build

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cellar/internal/adapters/filesystem"
	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/testutil"
	"github.com/felixgeelhaar/cellar/internal/testutil/mocks"
)

const cellarDir = "/cellar/Cellar"

type installerFixture struct {
	fs       *mocks.FileSystem
	receipts *memReceipts
	inst     *Installer
	d        formula.Descriptor
	session  *Session
}

func newInstallerFixture(t *testing.T) *installerFixture {
	t.Helper()
	f := &installerFixture{
		fs:       mocks.NewFileSystem(),
		receipts: newMemReceipts(),
		d:        testutil.NewFormulaBuilder("zlib").WithVersion("1.3").Build(t),
	}
	f.inst = NewInstaller(f.fs, f.receipts, cellarDir)
	f.session = testSession(f.d, "/tmp/zlib-test")
	f.fs.AddDir(f.session.StageDir())
	return f
}

func TestInstaller_PrefixPath(t *testing.T) {
	t.Parallel()

	f := newInstallerFixture(t)
	assert.Equal(t, filepath.Join(cellarDir, "zlib", "1.3"), f.inst.PrefixPath(f.d))
}

func TestInstaller_ClaimAndInstall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newInstallerFixture(t)
	f.fs.AddFile(f.session.StageDir()+"/lib/libz.a", "archive")
	f.fs.AddFile(f.session.StageDir()+"/include/zlib.h", "header")

	prefix, err := f.inst.Claim(ctx, f.d)
	require.NoError(t, err)
	assert.Equal(t, PrefixEmpty, prefix.State())

	require.NoError(t, f.inst.Install(ctx, f.session, prefix))

	assert.Equal(t, PrefixInstalled, prefix.State())
	assert.Equal(t, Fingerprint(f.d), prefix.Fingerprint())
	assert.Equal(t, []string{"include/zlib.h", "lib/libz.a"}, f.fs.Paths(prefix.Path()))
	assert.Equal(t, []PrefixState{PrefixEmpty, PrefixStaged, PrefixInstalled}, f.receipts.states())
}

func TestInstaller_ReinstallSameBuild(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newInstallerFixture(t)
	f.fs.AddFile(f.session.StageDir()+"/bin/zpipe", "v1")

	prefix, err := f.inst.Claim(ctx, f.d)
	require.NoError(t, err)
	require.NoError(t, f.inst.Install(ctx, f.session, prefix))

	// stray file in the prefix is cleared by the reinstall
	f.fs.AddFile(prefix.Path()+"/stray", "x")

	again, err := f.inst.Claim(ctx, f.d)
	require.NoError(t, err)
	assert.Equal(t, PrefixEmpty, again.State())
	require.NoError(t, f.inst.Install(ctx, f.session, again))

	assert.Equal(t, []string{"bin/zpipe"}, f.fs.Paths(again.Path()))
	assert.Equal(t, PrefixInstalled, again.State())
}

func TestInstaller_ClaimRefusesDifferingBuild(t *testing.T) {
	t.Parallel()

	f := newInstallerFixture(t)
	require.NoError(t, f.receipts.Save(context.Background(), Receipt{
		Name: "zlib", Version: "1.3", State: PrefixInstalled, Fingerprint: "someone-else",
	}))
	f.fs.AddFile(f.inst.PrefixPath(f.d)+"/lib/libz.a", "old")

	_, err := f.inst.Claim(context.Background(), f.d)

	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, ReasonDifferingBuild, installErr.Reason)
	assert.Equal(t, 4, ExitCode(err))
	assert.Equal(t, []string{"lib/libz.a"}, f.fs.Paths(f.inst.PrefixPath(f.d)), "prefix untouched")
}

func TestInstaller_ClaimRefusesForeignPrefix(t *testing.T) {
	t.Parallel()

	f := newInstallerFixture(t)
	f.fs.AddDir(f.inst.PrefixPath(f.d))

	_, err := f.inst.Claim(context.Background(), f.d)

	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, ReasonForeignPrefix, installErr.Reason)
}

func TestInstaller_ClaimRecoversInterruptedAndFailed(t *testing.T) {
	t.Parallel()

	for _, state := range []PrefixState{PrefixStaged, PrefixFailed} {
		t.Run(string(state), func(t *testing.T) {
			t.Parallel()

			f := newInstallerFixture(t)
			require.NoError(t, f.receipts.Save(context.Background(), Receipt{Name: "zlib", Version: "1.3", State: state}))

			prefix, err := f.inst.Claim(context.Background(), f.d)
			require.NoError(t, err)
			assert.Equal(t, PrefixEmpty, prefix.State())

			r, err := f.receipts.Load(context.Background(), "zlib", "1.3")
			require.NoError(t, err)
			assert.Equal(t, PrefixEmpty, r.State)
		})
	}
}

func TestInstaller_EmptyStage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newInstallerFixture(t)

	prefix, err := f.inst.Claim(ctx, f.d)
	require.NoError(t, err)

	err = f.inst.Install(ctx, f.session, prefix)

	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, ReasonEmptyStage, installErr.Reason)
	assert.Equal(t, "build produced no files", installErr.Reason)
	assert.Equal(t, PrefixFailed, prefix.State())

	r, err := f.receipts.Load(ctx, "zlib", "1.3")
	require.NoError(t, err)
	assert.Equal(t, PrefixFailed, r.State)
	assert.Equal(t, ReasonEmptyStage, r.Reason)
}

func TestInstaller_CopyFailureLeavesPrefixFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newInstallerFixture(t)
	f.fs.AddFile(f.session.StageDir()+"/bin/zpipe", "v1")
	f.fs.FailOn("CopyTree", errors.New("no space left on device"))

	prefix, err := f.inst.Claim(ctx, f.d)
	require.NoError(t, err)
	err = f.inst.Install(ctx, f.session, prefix)

	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, ReasonCopyFailed, installErr.Reason)
	assert.ErrorContains(t, err, "no space left on device")
	assert.Equal(t, PrefixFailed, prefix.State())
	assert.Equal(t, []PrefixState{PrefixEmpty, PrefixStaged, PrefixFailed}, f.receipts.states())
}

func TestInstaller_InstallRequiresClaim(t *testing.T) {
	t.Parallel()

	f := newInstallerFixture(t)
	prefix, err := RestorePrefix(Receipt{Name: "zlib", Version: "1.3", State: PrefixInstalled}, f.inst.PrefixPath(f.d))
	require.NoError(t, err)

	err = f.inst.Install(context.Background(), f.session, prefix)

	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, ReasonNotClaimed, installErr.Reason)
}

func TestInstaller_Abandon(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newInstallerFixture(t)
	prefix, err := f.inst.Claim(ctx, f.d)
	require.NoError(t, err)

	require.NoError(t, f.inst.Abandon(ctx, prefix, "build step 1 exited 2"))

	r, err := f.receipts.Load(ctx, "zlib", "1.3")
	require.NoError(t, err)
	assert.Equal(t, PrefixFailed, r.State)
	assert.Equal(t, "build step 1 exited 2", r.Reason)
}

func TestInstaller_RequireInstalled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newInstallerFixture(t)

	_, err := f.inst.RequireInstalled(ctx, f.d)
	var installErr *InstallError
	require.ErrorAs(t, err, &installErr)
	assert.Equal(t, ReasonNotInstalled, installErr.Reason)

	require.NoError(t, f.receipts.Save(ctx, Receipt{Name: "zlib", Version: "1.3", State: PrefixInstalled, Fingerprint: Fingerprint(f.d)}))
	_, err = f.inst.RequireInstalled(ctx, f.d)
	assert.ErrorAs(t, err, &installErr, "receipt without a directory is not installed")

	f.fs.AddFile(f.inst.PrefixPath(f.d)+"/lib/libz.a", "a")
	prefix, err := f.inst.RequireInstalled(ctx, f.d)
	require.NoError(t, err)
	assert.Equal(t, PrefixInstalled, prefix.State())
}

func TestInstaller_ReceiptSaveFailure(t *testing.T) {
	t.Parallel()

	f := newInstallerFixture(t)
	f.receipts.saveErr = errors.New("read-only file system")

	_, err := f.inst.Claim(context.Background(), f.d)
	assert.ErrorContains(t, err, "read-only file system")
}

// Against the real filesystem: two installs of the same build leave
// byte-identical trees with the same modes and links.
func TestInstaller_IdempotentOnDisk(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()
	d := testutil.NewFormulaBuilder("zlib").WithVersion("1.3").Build(t)
	inst := NewInstaller(filesystem.NewRealFileSystem(), newMemReceipts(), filepath.Join(root, "Cellar"))

	installOnce := func() map[string]string {
		session, err := NewSession(filepath.Join(root, "tmp"), d)
		require.NoError(t, err)
		testutil.WriteTempFile(t, session.StageDir(), "lib/libz.a", "archive")
		bin := testutil.WriteTempFile(t, session.StageDir(), "bin/zpipe", "#!/bin/sh\n")
		require.NoError(t, os.Chmod(bin, 0o755))
		require.NoError(t, os.Symlink("zpipe", filepath.Join(session.StageDir(), "bin", "zp")))

		prefix, err := inst.Claim(ctx, d)
		require.NoError(t, err)
		require.NoError(t, inst.Install(ctx, session, prefix))
		require.NoError(t, session.Remove())
		return snapshotTree(t, prefix.Path())
	}

	first := installOnce()
	second := installOnce()

	assert.Equal(t, first, second)
	assert.Equal(t, "link:zpipe", first["bin/zp"])
	assert.Equal(t, "-rwxr-xr-x:#!/bin/sh\n", first["bin/zpipe"])
}

func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || path == root {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		info, err := entry.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			out[rel] = "link:" + target
		case info.IsDir():
			out[rel] = "dir:" + info.Mode().String()
		default:
			content, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			out[rel] = info.Mode().String() + ":" + string(content)
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestInstaller_Current(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newInstallerFixture(t)

	current, err := f.inst.Current(ctx, f.d)
	require.NoError(t, err)
	assert.Nil(t, current, "nothing recorded yet")

	f.fs.AddFile(f.session.StageDir()+"/bin/zpipe", "v1")
	prefix, err := f.inst.Claim(ctx, f.d)
	require.NoError(t, err)
	require.NoError(t, f.inst.Install(ctx, f.session, prefix))

	current, err = f.inst.Current(ctx, f.d)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, PrefixInstalled, current.State())

	changed := testutil.NewFormulaBuilder("zlib").WithVersion("1.3").WithStep("make", "install-strip").Build(t)
	current, err = f.inst.Current(ctx, changed)
	require.NoError(t, err)
	assert.Nil(t, current, "a different build is not current")

	require.NoError(t, f.fs.RemoveAll(prefix.Path()))
	current, err = f.inst.Current(ctx, f.d)
	require.NoError(t, err)
	assert.Nil(t, current, "a removed prefix is not current")
}
