package build

import (
	"context"
	"errors"
)

// ErrReceiptNotFound is returned when no receipt exists for a formula version.
var ErrReceiptNotFound = errors.New("install receipt not found")

// Receipt is the persisted state of an install prefix. It carries no
// timestamps so that identical installs leave identical records.
type Receipt struct {
	Name        string      `yaml:"name"`
	Version     string      `yaml:"version"`
	State       PrefixState `yaml:"state"`
	Fingerprint string      `yaml:"fingerprint,omitempty"`
	Reason      string      `yaml:"reason,omitempty"`
}

// ReceiptRepository persists receipts, one per formula version.
type ReceiptRepository interface {
	// Load returns ErrReceiptNotFound when nothing was saved yet.
	Load(ctx context.Context, name, version string) (Receipt, error)
	Save(ctx context.Context, receipt Receipt) error
}
