package config

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclwrite"

	"grimm.is/netstate/internal/errors"
)

// Encode renders cfg as formatted HCL.
func Encode(cfg *Config) []byte {
	f := hclwrite.NewEmptyFile()
	gohcl.EncodeIntoBody(cfg, f.Body())
	return hclwrite.Format(f.Bytes())
}

// SaveFile writes cfg to path, keeping the previous file as path.bak.
func SaveFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".bak"); err != nil {
			return errors.Wrap(err, errors.KindInternal, "failed to create backup")
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to create config directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, Encode(cfg), 0644); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to write config")
	}
	return os.Rename(tmp, path)
}
