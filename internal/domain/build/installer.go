package build

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
)

// Installer owns the prefixes below the cellar directory,
// <cellar>/<name>/<version>, and their receipts.
type Installer struct {
	fs        ports.FileSystem
	receipts  ReceiptRepository
	cellarDir string
}

// NewInstaller creates an Installer.
func NewInstaller(fs ports.FileSystem, receipts ReceiptRepository, cellarDir string) *Installer {
	return &Installer{fs: fs, receipts: receipts, cellarDir: cellarDir}
}

// PrefixPath returns the prefix directory of a descriptor.
func (i *Installer) PrefixPath(d formula.Descriptor) string {
	return filepath.Join(i.cellarDir, d.Name(), d.Version())
}

// Lookup returns the recorded prefix of d, or nil when none was recorded.
func (i *Installer) Lookup(ctx context.Context, d formula.Descriptor) (*InstallPrefix, error) {
	receipt, err := i.receipts.Load(ctx, d.Name(), d.Version())
	if errors.Is(err, ErrReceiptNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &InstallError{Formula: d.Name(), Prefix: i.PrefixPath(d), Reason: "read receipt", Err: err}
	}
	return RestorePrefix(receipt, i.PrefixPath(d))
}

// Current returns the prefix of d when it already holds this exact build,
// or nil when d has to be built.
func (i *Installer) Current(ctx context.Context, d formula.Descriptor) (*InstallPrefix, error) {
	prefix, err := i.Lookup(ctx, d)
	if err != nil || prefix == nil {
		return nil, err
	}
	if prefix.State() != PrefixInstalled || prefix.Fingerprint() != Fingerprint(d) || !i.fs.Exists(prefix.Path()) {
		return nil, nil
	}
	return prefix, nil
}

// Claim opens the prefix of d in the Empty state for a new install.
//
// An Installed prefix holding a build with a different fingerprint is
// refused, as is an existing directory nobody recorded. Installed (same
// build) and Failed prefixes are reset; a Staged prefix left by an
// interrupted run is failed first.
func (i *Installer) Claim(ctx context.Context, d formula.Descriptor) (*InstallPrefix, error) {
	path := i.PrefixPath(d)
	prefix, err := i.Lookup(ctx, d)
	if err != nil {
		return nil, err
	}

	if prefix == nil {
		if i.fs.Exists(path) {
			return nil, &InstallError{Formula: d.Name(), Prefix: path, Reason: ReasonForeignPrefix}
		}
		if prefix, err = NewInstallPrefix(d.Name(), d.Version(), path); err != nil {
			return nil, err
		}
		return prefix, i.save(ctx, prefix)
	}

	switch prefix.State() {
	case PrefixInstalled:
		if prefix.Fingerprint() != Fingerprint(d) {
			return nil, &InstallError{Formula: d.Name(), Prefix: path, Reason: ReasonDifferingBuild}
		}
	case PrefixStaged:
		if err := prefix.Fail("interrupted"); err != nil {
			return nil, err
		}
	case PrefixEmpty:
		return prefix, nil
	}

	if err := prefix.Reset(); err != nil {
		return nil, err
	}
	return prefix, i.save(ctx, prefix)
}

// Install copies the session's stage tree into a claimed prefix.
//
// The prefix is cleared first so a reinstall of the same build yields the
// same tree. A copy failure leaves the prefix Failed without rollback.
func (i *Installer) Install(ctx context.Context, session *Session, prefix *InstallPrefix) error {
	d := session.Descriptor()
	fail := func(reason string, cause error) error {
		if err := prefix.Fail(reason); err == nil {
			_ = i.save(context.WithoutCancel(ctx), prefix)
		}
		return &InstallError{Formula: d.Name(), Prefix: prefix.Path(), Reason: reason, Err: cause}
	}

	if prefix.State() != PrefixEmpty {
		return &InstallError{Formula: d.Name(), Prefix: prefix.Path(), Reason: ReasonNotClaimed}
	}
	if err := ctx.Err(); err != nil {
		return fail("cancelled", err)
	}

	empty, err := i.fs.IsEmptyDir(session.StageDir())
	if err != nil {
		return fail(ReasonEmptyStage, err)
	}
	if empty {
		return fail(ReasonEmptyStage, nil)
	}

	if err := prefix.Stage(); err != nil {
		return err
	}
	if err := i.save(ctx, prefix); err != nil {
		return fail("write receipt", err)
	}

	if err := i.fs.RemoveAll(prefix.Path()); err != nil {
		return fail(ReasonCopyFailed, err)
	}
	if err := i.fs.MkdirAll(filepath.Dir(prefix.Path()), 0o755); err != nil {
		return fail(ReasonCopyFailed, err)
	}
	if err := i.fs.CopyTree(session.StageDir(), prefix.Path()); err != nil {
		return fail(ReasonCopyFailed, err)
	}

	if err := prefix.Install(Fingerprint(d)); err != nil {
		return err
	}
	if err := i.save(ctx, prefix); err != nil {
		return &InstallError{Formula: d.Name(), Prefix: prefix.Path(), Reason: "write receipt", Err: err}
	}
	return nil
}

// Abandon marks a claimed prefix Failed after an earlier phase failed.
func (i *Installer) Abandon(ctx context.Context, prefix *InstallPrefix, reason string) error {
	if err := prefix.Fail(reason); err != nil {
		return err
	}
	return i.save(ctx, prefix)
}

// RequireInstalled returns the Installed prefix of d or an InstallError
// with ReasonNotInstalled.
func (i *Installer) RequireInstalled(ctx context.Context, d formula.Descriptor) (*InstallPrefix, error) {
	prefix, err := i.Lookup(ctx, d)
	if err != nil {
		return nil, err
	}
	if prefix == nil || prefix.State() != PrefixInstalled || !i.fs.Exists(prefix.Path()) {
		return nil, &InstallError{Formula: d.Name(), Prefix: i.PrefixPath(d), Reason: ReasonNotInstalled}
	}
	return prefix, nil
}

func (i *Installer) save(ctx context.Context, prefix *InstallPrefix) error {
	if err := i.receipts.Save(ctx, prefix.Receipt()); err != nil {
		return fmt.Errorf("save receipt for %s %s: %w", prefix.Owner(), prefix.Version(), err)
	}
	return nil
}
