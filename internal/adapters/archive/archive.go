// Package archive unpacks source archives into build sessions.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/ulikunitz/xz"

	"github.com/felixgeelhaar/cellar/internal/domain/build"
)

// Format is an archive container and compression pair.
type Format string

// Supported formats.
const (
	FormatTarGz  Format = "tar.gz"
	FormatTarBz2 Format = "tar.bz2"
	FormatTarXz  Format = "tar.xz"
	FormatTarBr  Format = "tar.br"
	FormatTar    Format = "tar"
	FormatZip    Format = "zip"
	// FormatFile is a single file copied as-is.
	FormatFile Format = "file"
)

var suffixes = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.bz2", FormatTarBz2},
	{".tbz2", FormatTarBz2},
	{".tbz", FormatTarBz2},
	{".tar.xz", FormatTarXz},
	{".txz", FormatTarXz},
	{".tar.br", FormatTarBr},
	{".tar", FormatTar},
	{".zip", FormatZip},
}

// DetectFormat picks the format from an archive file name.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format
		}
	}
	return FormatFile
}

// Extractor unpacks archives on the local filesystem.
type Extractor struct{}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract unpacks archive into dest, dropping stripComponents leading path
// components from every entry. Entries that would land outside dest, either
// by name or through a symlink already written, are rejected.
func (e *Extractor) Extract(ctx context.Context, archive, name, dest string, stripComponents int) error {
	f, err := os.Open(archive)
	if err != nil {
		return eris.Wrapf(err, "failed to open archive %s", archive)
	}
	defer func() { _ = f.Close() }()

	t, err := openTree(dest)
	if err != nil {
		return err
	}
	defer t.close()

	switch format := DetectFormat(name); format {
	case FormatTarGz:
		r, err := gzip.NewReader(f)
		if err != nil {
			return eris.Wrap(err, "failed to open gzip stream")
		}
		defer func() { _ = r.Close() }()
		return extractTar(ctx, r, t, stripComponents)
	case FormatTarBz2:
		return extractTar(ctx, bzip2.NewReader(f), t, stripComponents)
	case FormatTarXz:
		r, err := xz.NewReader(f)
		if err != nil {
			return eris.Wrap(err, "failed to open xz stream")
		}
		return extractTar(ctx, r, t, stripComponents)
	case FormatTarBr:
		return extractTar(ctx, brotli.NewReader(f), t, stripComponents)
	case FormatTar:
		return extractTar(ctx, f, t, stripComponents)
	case FormatZip:
		return extractZip(ctx, f, t, stripComponents)
	default:
		return t.writeFile(filepath.Base(name), f, 0o644)
	}
}

func extractTar(ctx context.Context, r io.Reader, t *tree, strip int) error {
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "failed to read archive entry")
		}

		rel, ok, err := entryPath(hdr.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := t.mkdir(rel, fs.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := t.writeFile(rel, tr, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := t.writeSymlink(rel, hdr.Linkname); err != nil {
				return err
			}
		case tar.TypeLink:
			source, ok, err := entryPath(hdr.Linkname, strip)
			if err != nil {
				return err
			}
			if !ok {
				return eris.Errorf("hard link %s points at a stripped entry", hdr.Name)
			}
			if err := t.writeLink(rel, source); err != nil {
				return err
			}
		default:
			// Devices, fifos and pax metadata have no place in a source tree.
		}
	}
}

func extractZip(ctx context.Context, f *os.File, t *tree, strip int) error {
	info, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "failed to stat archive")
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return eris.Wrap(err, "failed to open zip archive")
	}

	for _, item := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, ok, err := entryPath(item.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := extractZipEntry(item, t, rel); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(item *zip.File, t *tree, rel string) error {
	mode := item.Mode()
	if mode.IsDir() || strings.HasSuffix(item.Name, "/") {
		return t.mkdir(rel, mode.Perm()|0o700)
	}

	rc, err := item.Open()
	if err != nil {
		return eris.Wrapf(err, "failed to open archive entry %s", item.Name)
	}
	defer func() { _ = rc.Close() }()

	if mode&fs.ModeSymlink != 0 {
		link, err := io.ReadAll(rc)
		if err != nil {
			return eris.Wrapf(err, "failed to read archive entry %s", item.Name)
		}
		return t.writeSymlink(rel, string(link))
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	return t.writeFile(rel, rc, perm)
}

// entryPath maps an archive entry name to its path relative to the
// destination. ok is false when stripping leaves nothing of the name.
func entryPath(name string, strip int) (string, bool, error) {
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if clean == "." || clean == "/" {
		return "", false, nil
	}

	if !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", false, eris.Errorf("archive entry %q escapes the destination", name)
	}

	parts := strings.Split(clean, "/")
	if len(parts) <= strip {
		return "", false, nil
	}
	return filepath.FromSlash(strings.Join(parts[strip:], "/")), true, nil
}

// tree is an extraction destination. Paths are resolved against what is
// already on disk, so symlinks written by earlier entries are followed
// while resolving and must stay inside the tree. Files are created through
// an os.Root, which refuses to leave the tree on its own.
type tree struct {
	dest string
	// abs is dest made absolute with its own symlinks resolved.
	abs  string
	root *os.Root
}

func openTree(dest string) (*tree, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", dest)
	}
	abs, err := filepath.Abs(dest)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", dest)
	}
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", dest)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open %s", dest)
	}
	return &tree{dest: dest, abs: abs, root: root}, nil
}

func (t *tree) close() { _ = t.root.Close() }

func (t *tree) contains(p string) bool {
	rel, err := filepath.Rel(t.abs, p)
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}

// resolve walks rel from the absolute directory dir one component at a
// time, following existing symlinks. ok is false as soon as the walk
// leaves the tree.
func (t *tree) resolve(dir, rel string) (string, bool) {
	cur := dir
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			cur = filepath.Dir(cur)
		default:
			cur = filepath.Join(cur, part)
			if resolved, err := filepath.EvalSymlinks(cur); err == nil {
				cur = resolved
			}
		}
		if !t.contains(cur) {
			return "", false
		}
	}
	return cur, true
}

// parent resolves the directory of rel and creates it. It returns the
// resolved directory relative to the tree and the entry's base name.
func (t *tree) parent(rel string) (string, string, error) {
	dir, ok := t.resolve(t.abs, filepath.Dir(rel))
	if !ok {
		return "", "", eris.Errorf("archive entry %q escapes the destination", filepath.ToSlash(rel))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", eris.Wrapf(err, "failed to create directory for %s", filepath.Join(t.dest, rel))
	}
	inside, err := filepath.Rel(t.abs, dir)
	if err != nil {
		return "", "", eris.Wrapf(err, "failed to resolve %s", rel)
	}
	return inside, filepath.Base(rel), nil
}

func (t *tree) mkdir(rel string, perm fs.FileMode) error {
	dir, ok := t.resolve(t.abs, rel)
	if !ok {
		return eris.Errorf("archive entry %q escapes the destination", filepath.ToSlash(rel))
	}
	if err := os.MkdirAll(dir, perm); err != nil {
		return eris.Wrapf(err, "failed to create directory %s", filepath.Join(t.dest, rel))
	}
	return nil
}

func (t *tree) writeFile(rel string, r io.Reader, perm fs.FileMode) error {
	dir, base, err := t.parent(rel)
	if err != nil {
		return err
	}
	name := filepath.Join(dir, base)
	if err := t.root.Remove(name); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "failed to replace %s", filepath.Join(t.dest, rel))
	}

	out, err := t.root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return eris.Wrapf(err, "failed to create file %s", filepath.Join(t.dest, rel))
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "failed to write extracted file %s", filepath.Join(t.dest, rel))
	}
	if err := out.Chmod(perm); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "failed to set mode of %s", filepath.Join(t.dest, rel))
	}
	if err := out.Close(); err != nil {
		return eris.Wrapf(err, "failed to write extracted file %s", filepath.Join(t.dest, rel))
	}
	return nil
}

// writeSymlink creates a link whose target must resolve inside the tree,
// following the links already on disk.
func (t *tree) writeSymlink(rel, link string) error {
	outside := eris.Errorf("symlink %s points outside the destination (%s)", filepath.Join(t.dest, rel), link)
	if filepath.IsAbs(link) || filepath.VolumeName(link) != "" {
		return outside
	}

	dir, base, err := t.parent(rel)
	if err != nil {
		return err
	}
	if _, ok := t.resolve(filepath.Join(t.abs, dir), filepath.FromSlash(link)); !ok {
		return outside
	}

	name := filepath.Join(dir, base)
	if err := t.root.Remove(name); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "failed to replace %s", filepath.Join(t.dest, rel))
	}
	if err := os.Symlink(link, filepath.Join(t.abs, name)); err != nil {
		return eris.Wrapf(err, "failed to create symlink %s pointing to %s", filepath.Join(t.dest, rel), link)
	}
	return nil
}

// writeLink hard-links rel to the earlier entry source.
func (t *tree) writeLink(rel, source string) error {
	srcDir, ok := t.resolve(t.abs, filepath.Dir(source))
	if !ok {
		return eris.Errorf("hard link %q points outside the destination", filepath.ToSlash(rel))
	}
	dir, base, err := t.parent(rel)
	if err != nil {
		return err
	}

	from := filepath.Join(srcDir, filepath.Base(source))
	to := filepath.Join(t.abs, dir, base)
	if err := os.Link(from, to); err != nil {
		return eris.Wrapf(err, "failed to link %s to %s", filepath.Join(t.dest, rel), source)
	}
	return nil
}

// Ensure Extractor implements build.Extractor.
var _ build.Extractor = (*Extractor)(nil)
