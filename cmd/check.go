package cmd

import (
	"os"

	"grimm.is/netstate/internal/brand"
	"grimm.is/netstate/internal/config"
	"grimm.is/netstate/internal/errors"
	"grimm.is/netstate/internal/reconcile"
)

// RunCheck validates the configuration and, when present, the desired state
// document it names. With printConfig set the effective configuration is written
// as HCL.
func RunCheck(configFile string, printConfig bool) error {
	if configFile == "" {
		configFile = brand.ConfigPath()
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return errors.Wrap(err, errors.GetKind(err), "configuration invalid")
	}
	Printer.Printf("Configuration valid!\n")
	Printer.Printf("Schema Version: %s\n", cfg.SchemaVersion)
	Printer.Printf("Checkpoint backend: %s\n", cfg.Checkpoint.Backend)

	if _, err := fs.Stat(cfg.StateFile); err == nil {
		desired, err := readDesired(cfg.StateFile)
		if err != nil {
			return errors.Wrap(err, errors.GetKind(err), "desired state invalid")
		}
		if err := reconcile.ValidateDNS(desired.DNSConfig()); err != nil {
			return errors.Wrap(err, errors.GetKind(err), "desired state invalid")
		}
		Printer.Printf("Desired state: %s (%d interfaces)\n", cfg.StateFile, desired.Interfaces.Len())
	} else {
		Printer.Printf("Desired state: %s (missing)\n", cfg.StateFile)
	}

	if printConfig {
		Printer.Println()
		os.Stdout.Write(config.Encode(cfg))
	}
	return nil
}
