// Package formulafile loads formula descriptors from YAML, TOML and HCL files.
package formulafile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

// Format is a formula file syntax.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatHCL  Format = "hcl"
)

// ErrUnsupportedFormat is returned for files without a known extension.
var ErrUnsupportedFormat = errors.New("unsupported formula file format")

// FormatFor returns the format selected by a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// LoadError reports the file a formula failed to load from.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("formula file %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DuplicateError reports one formula name defined by two files.
type DuplicateError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("formula %q is defined in both %s and %s", e.Name, e.First, e.Second)
}

func (e *DuplicateError) Is(target error) bool {
	return target == formula.ErrDuplicateFormula
}

// commandDTO is the on-disk shape of a command.
type commandDTO struct {
	Program string   `yaml:"program" toml:"program"`
	Args    []string `yaml:"args,omitempty" toml:"args,omitempty"`
}

// fileDTO is the on-disk shape of a YAML or TOML formula.
type fileDTO struct {
	Name            string       `yaml:"name" toml:"name"`
	Version         string       `yaml:"version,omitempty" toml:"version,omitempty"`
	Desc            string       `yaml:"desc,omitempty" toml:"desc,omitempty"`
	Homepage        string       `yaml:"homepage,omitempty" toml:"homepage,omitempty"`
	URL             string       `yaml:"url" toml:"url"`
	SHA256          string       `yaml:"sha256" toml:"sha256"`
	License         string       `yaml:"license,omitempty" toml:"license,omitempty"`
	BuildDeps       []string     `yaml:"build_deps,omitempty" toml:"build_deps,omitempty"`
	RuntimeDeps     []string     `yaml:"runtime_deps,omitempty" toml:"runtime_deps,omitempty"`
	StripComponents *int         `yaml:"strip_components,omitempty" toml:"strip_components,omitempty"`
	Build           []commandDTO `yaml:"build" toml:"build"`
	Test            *commandDTO  `yaml:"test,omitempty" toml:"test,omitempty"`
}

// Parse decodes one formula. source names the input in error messages.
func Parse(data []byte, format Format, source string) (formula.Descriptor, error) {
	var def formula.Definition
	var err error

	switch format {
	case FormatYAML:
		def, err = parseYAML(data)
	case FormatTOML:
		def, err = parseTOML(data)
	case FormatHCL:
		def, err = parseHCL(data, source)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return formula.Descriptor{}, &LoadError{Path: source, Err: err}
	}

	d, err := formula.New(def)
	if err != nil {
		return formula.Descriptor{}, &LoadError{Path: source, Err: err}
	}
	return d, nil
}

func parseYAML(data []byte) (formula.Definition, error) {
	var dto fileDTO
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&dto); err != nil {
		return formula.Definition{}, eris.Wrap(err, "invalid yaml")
	}
	return dto.definition()
}

func parseTOML(data []byte) (formula.Definition, error) {
	var dto fileDTO
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dto); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return formula.Definition{}, eris.Errorf("invalid toml: unknown field %s", strings.Join(keys, ", "))
		}
		return formula.Definition{}, eris.Wrap(err, "invalid toml")
	}
	return dto.definition()
}

func (dto fileDTO) definition() (formula.Definition, error) {
	def := formula.Definition{
		Name:            dto.Name,
		Version:         dto.Version,
		Description:     dto.Desc,
		Homepage:        dto.Homepage,
		URL:             dto.URL,
		Checksum:        dto.SHA256,
		License:         dto.License,
		BuildDeps:       dto.BuildDeps,
		RuntimeDeps:     dto.RuntimeDeps,
		StripComponents: dto.StripComponents,
	}

	for i, c := range dto.Build {
		cmd, err := formula.NewCommand(c.Program, c.Args...)
		if err != nil {
			return formula.Definition{}, fmt.Errorf("build step %d: %w", i, err)
		}
		def.BuildSteps = append(def.BuildSteps, cmd)
	}
	if dto.Test != nil {
		cmd, err := formula.NewCommand(dto.Test.Program, dto.Test.Args...)
		if err != nil {
			return formula.Definition{}, fmt.Errorf("test step: %w", err)
		}
		def.TestStep = &cmd
	}
	return def, nil
}

// LoadFile reads and parses one formula file.
func LoadFile(path string) (formula.Descriptor, error) {
	format, err := FormatFor(path)
	if err != nil {
		return formula.Descriptor{}, &LoadError{Path: path, Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return formula.Descriptor{}, &LoadError{Path: path, Err: eris.Wrap(err, "failed to read")}
	}
	return Parse(data, format, path)
}

// LoadDir loads every formula file directly inside dir into a registry.
// Files with other extensions and subdirectories are ignored.
func LoadDir(dir string) (*formula.Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read formula directory %s", dir)
	}

	var errs []error
	var descriptors []formula.Descriptor
	origin := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, err := FormatFor(path); err != nil {
			continue
		}

		d, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if first, ok := origin[d.Name()]; ok {
			errs = append(errs, &DuplicateError{Name: d.Name(), First: first, Second: path})
			continue
		}
		origin[d.Name()] = path
		descriptors = append(descriptors, d)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return formula.NewRegistry(descriptors...)
}
