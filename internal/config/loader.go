package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/netstate/internal/errors"
)

// LoadFile loads, defaults and validates a config file. Files ending in
// .json use the HCL JSON syntax; anything else is native HCL.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInvalidArgument, "failed to read config file %s", path)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(data, path)
	}
	return LoadHCL(data, path)
}

// LoadHCL loads config from HCL bytes.
func LoadHCL(data []byte, filename string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf(errors.KindInvalidArgument, "HCL parse error: %s", diags.Error())
	}
	return decode(file)
}

// LoadJSON loads config from HCL JSON bytes.
func LoadJSON(data []byte, filename string) (*Config, error) {
	file, diags := hclparse.NewParser().ParseJSON(data, filename)
	if diags.HasErrors() {
		return nil, errors.Errorf(errors.KindInvalidArgument, "JSON parse error: %s", diags.Error())
	}
	return decode(file)
}

func decode(file *hcl.File) (*Config, error) {
	ctx := evalContext()

	var probe struct {
		SchemaVersion string   `hcl:"schema_version,optional"`
		Remain        hcl.Body `hcl:",remain"`
	}
	if diags := gohcl.DecodeBody(file.Body, ctx, &probe); diags.HasErrors() {
		return nil, errors.Errorf(errors.KindInvalidArgument, "HCL decode error: %s", diags.Error())
	}
	version, err := ParseVersion(probe.SchemaVersion)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInvalidArgument, "invalid schema version")
	}
	if !IsSupportedVersion(version) {
		return nil, errors.Errorf(errors.KindInvalidArgument,
			"unsupported config schema version %s (supported: %v)", version, SupportedVersions)
	}

	var cfg Config
	if diags := gohcl.DecodeBody(file.Body, ctx, &cfg); diags.HasErrors() {
		return nil, errors.Errorf(errors.KindInvalidArgument, "HCL decode error: %s", diags.Error())
	}
	cfg.applyDefaults()
	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindInvalidArgument, "invalid configuration")
	}
	return &cfg, nil
}

// evalContext exposes the process environment as env.NAME.
func evalContext() *hcl.EvalContext {
	environ := os.Environ()
	vars := make(map[string]cty.Value, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntax.ValidIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}
