// Package receipt persists install receipts as YAML files.
package receipt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cellar/internal/domain/build"
)

var (
	// ErrReceiptCorrupt is returned when a receipt file cannot be decoded.
	ErrReceiptCorrupt = errors.New("install receipt is corrupt")
	// ErrSaveFailed is returned when a receipt cannot be written.
	ErrSaveFailed = errors.New("failed to save install receipt")
)

// YAMLRepository implements build.ReceiptRepository with one file per
// formula version at <root>/<name>/<version>.yaml.
type YAMLRepository struct {
	root string
}

// NewYAMLRepository creates a repository rooted at root.
func NewYAMLRepository(root string) *YAMLRepository {
	return &YAMLRepository{root: root}
}

// Path returns the file holding the receipt of name at version.
func (r *YAMLRepository) Path(name, version string) string {
	return filepath.Join(r.root, name, version+".yaml")
}

// Load reads the receipt of name at version.
func (r *YAMLRepository) Load(ctx context.Context, name, version string) (build.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return build.Receipt{}, err
	}

	data, err := os.ReadFile(r.Path(name, version))
	if err != nil {
		if os.IsNotExist(err) {
			return build.Receipt{}, build.ErrReceiptNotFound
		}
		return build.Receipt{}, fmt.Errorf("failed to read receipt: %w", err)
	}

	var receipt build.Receipt
	if err := yaml.Unmarshal(data, &receipt); err != nil {
		return build.Receipt{}, fmt.Errorf("%w: %w", ErrReceiptCorrupt, err)
	}
	if receipt.Name != name || receipt.Version != version {
		return build.Receipt{}, fmt.Errorf("%w: %s holds %s %s", ErrReceiptCorrupt, r.Path(name, version), receipt.Name, receipt.Version)
	}
	return receipt, nil
}

// Save writes a receipt atomically.
func (r *YAMLRepository) Save(ctx context.Context, receipt build.Receipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := yaml.Marshal(&receipt)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	path := r.Path(receipt.Name, receipt.Version)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %w", ErrSaveFailed, err)
	}

	tmp, err := os.CreateTemp(dir, receipt.Version+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpPath, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpPath, path)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

// Ensure YAMLRepository implements build.ReceiptRepository.
var _ build.ReceiptRepository = (*YAMLRepository)(nil)
