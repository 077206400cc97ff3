package build

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
)

// Extractor unpacks an archive file into dest. name is the archive's
// original file name and selects the format.
type Extractor interface {
	Extract(ctx context.Context, archive, name, dest string, stripComponents int) error
}

// Fetcher downloads, verifies and unpacks source archives.
// It is safe for concurrent use with different descriptors.
type Fetcher struct {
	downloader ports.Downloader
	extractor  Extractor
	tmpRoot    string
}

// NewFetcher creates a Fetcher whose downloads and sessions live in tmpRoot.
func NewFetcher(downloader ports.Downloader, extractor Extractor, tmpRoot string) *Fetcher {
	return &Fetcher{downloader: downloader, extractor: extractor, tmpRoot: tmpRoot}
}

// Fetch downloads d's archive, checks its digest and unpacks it into the
// src/ directory of a new session.
//
// On a digest mismatch the download is deleted and no session is created.
func (f *Fetcher) Fetch(ctx context.Context, d formula.Descriptor) (*Session, error) {
	fetchErr := func(err error) error {
		return &FetchError{Formula: d.Name(), URL: d.URL(), Err: err}
	}

	if err := os.MkdirAll(f.tmpRoot, 0o755); err != nil {
		return nil, fetchErr(err)
	}

	archive, digest, err := f.download(ctx, d)
	if err != nil {
		return nil, fetchErr(err)
	}
	defer func() { _ = os.Remove(archive) }()

	if !d.Checksum().Matches(digest) {
		return nil, &ChecksumMismatchError{Formula: d.Name(), Expected: d.Checksum().Hex(), Actual: digest}
	}

	session, err := NewSession(f.tmpRoot, d)
	if err != nil {
		return nil, fetchErr(err)
	}
	if err := f.extractor.Extract(ctx, archive, archiveName(d.URL()), session.SourceDir(), d.StripComponents()); err != nil {
		_ = session.Remove()
		return nil, fetchErr(fmt.Errorf("unpack: %w", err))
	}
	return session, nil
}

// download streams the archive into a temp file, hashing while writing.
func (f *Fetcher) download(ctx context.Context, d formula.Descriptor) (string, string, error) {
	file, err := os.CreateTemp(f.tmpRoot, d.Name()+"-*.download")
	if err != nil {
		return "", "", err
	}
	name := file.Name()

	h := d.Checksum().NewHash()
	err = f.downloader.Download(ctx, d.URL(), io.MultiWriter(file, h))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = os.Remove(name)
		return "", "", err
	}
	return name, hex.EncodeToString(h.Sum(nil)), nil
}

// archiveName returns the file name part of a URL or local path.
func archiveName(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}
