package formulafile

import (
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
)

type hclCommand struct {
	Program string   `hcl:"program"`
	Args    []string `hcl:"args,optional"`
}

type hclFormula struct {
	Name            string       `hcl:"name"`
	Version         string       `hcl:"version,optional"`
	Desc            string       `hcl:"desc,optional"`
	Homepage        string       `hcl:"homepage,optional"`
	URL             string       `hcl:"url"`
	SHA256          string       `hcl:"sha256"`
	License         string       `hcl:"license,optional"`
	BuildDeps       []string     `hcl:"build_deps,optional"`
	RuntimeDeps     []string     `hcl:"runtime_deps,optional"`
	StripComponents *int         `hcl:"strip_components,optional"`
	Build           []hclCommand `hcl:"build,block"`
	Test            *hclCommand  `hcl:"test,block"`
}

// parseHCL decodes a formula written as HCL attributes with one "build"
// block per step and an optional "test" block.
func parseHCL(data []byte, filename string) (formula.Definition, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return formula.Definition{}, diags
	}

	var parsed hclFormula
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return formula.Definition{}, diags
	}

	dto := fileDTO{
		Name:            parsed.Name,
		Version:         parsed.Version,
		Desc:            parsed.Desc,
		Homepage:        parsed.Homepage,
		URL:             parsed.URL,
		SHA256:          parsed.SHA256,
		License:         parsed.License,
		BuildDeps:       parsed.BuildDeps,
		RuntimeDeps:     parsed.RuntimeDeps,
		StripComponents: parsed.StripComponents,
	}
	for _, b := range parsed.Build {
		dto.Build = append(dto.Build, commandDTO(b))
	}
	if parsed.Test != nil {
		test := commandDTO(*parsed.Test)
		dto.Test = &test
	}
	return dto.definition()
}
