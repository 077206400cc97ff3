package build

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

// memReceipts is an in-memory ReceiptRepository.
type memReceipts struct {
	mu      sync.Mutex
	byKey   map[string]Receipt
	history []Receipt
	saveErr error
}

func newMemReceipts() *memReceipts {
	return &memReceipts{byKey: make(map[string]Receipt)}
}

func (m *memReceipts) Load(_ context.Context, name, version string) (Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byKey[name+"@"+version]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	return r, nil
}

func (m *memReceipts) Save(_ context.Context, r Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.byKey[r.Name+"@"+r.Version] = r
	m.history = append(m.history, r)
	return nil
}

func (m *memReceipts) states() []PrefixState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PrefixState, len(m.history))
	for i, r := range m.history {
		out[i] = r.State
	}
	return out
}

// copyExtractor "unpacks" by copying the archive to dest/name.
type copyExtractor struct {
	err   error
	calls int
}

func (e *copyExtractor) Extract(_ context.Context, archive, name, dest string, _ int) error {
	e.calls++
	if e.err != nil {
		return e.err
	}
	src, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(filepath.Join(dest, name))
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// bytesDownloader serves fixed content for any URL.
type bytesDownloader struct {
	content []byte
	err     error
}

func (d bytesDownloader) Download(ctx context.Context, _ string, w io.Writer) error {
	if d.err != nil {
		return d.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.Write(d.content)
	return err
}

// testSession returns an in-memory session rooted at path.
func testSession(d formula.Descriptor, path string) *Session {
	return &Session{id: "test", descriptor: d, path: path}
}

func mustCommand(program string, args ...string) formula.Command {
	return formula.MustNewCommand(program, args...)
}
