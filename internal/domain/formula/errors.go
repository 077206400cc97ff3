package formula

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned while building descriptors and resolving dependencies.
var (
	ErrInvalidDescriptor  = errors.New("invalid formula")
	ErrDuplicateFormula   = errors.New("formula with this name already exists")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrCyclicDependency   = errors.New("cyclic dependency detected")
	ErrUnknownPlaceholder = errors.New("unknown placeholder")
)

// UnknownDependencyError reports a name missing from the registry.
// RequiredBy is empty when the missing name is the requested target itself.
type UnknownDependencyError struct {
	Name       string
	RequiredBy string
}

func (e *UnknownDependencyError) Error() string {
	if e.RequiredBy == "" {
		return fmt.Sprintf("unknown formula %q", e.Name)
	}
	return fmt.Sprintf("formula %q depends on unknown formula %q", e.RequiredBy, e.Name)
}

// Is matches ErrUnknownDependency.
func (e *UnknownDependencyError) Is(target error) bool {
	return target == ErrUnknownDependency
}

// CyclicDependencyError names the dependency cycle, first node repeated last.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected: %s", strings.Join(e.Cycle, " → "))
}

// Is matches ErrCyclicDependency.
func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}

// ValidationError collects every problem found in one definition.
type ValidationError struct {
	Name     string
	Problems []string
}

func (e *ValidationError) Error() string {
	subject := "formula"
	if e.Name != "" {
		subject = fmt.Sprintf("formula %q", e.Name)
	}
	return fmt.Sprintf("%s is invalid: %s", subject, strings.Join(e.Problems, "; "))
}

// Is matches ErrInvalidDescriptor.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidDescriptor
}
